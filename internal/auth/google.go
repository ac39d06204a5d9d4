package auth

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
)

// GoogleScopes are requested when authorizing calendar access.
var GoogleScopes = []string{gcal.CalendarReadonlyScope}

// GoogleConfig locates Google OAuth client credentials and the stored
// user token. Inline values take precedence over files.
type GoogleConfig struct {
	CredentialsFile string
	TokenFile       string

	ClientID     string
	ClientSecret string
	RedirectURL  string
	RefreshToken string
}

// storedToken is the on-disk token format. It reads both the
// "authorized_user" files written by Google client libraries and plain
// oauth2.Token JSON.
type storedToken struct {
	Type         string    `json:"type,omitempty"`
	ClientID     string    `json:"client_id,omitempty"`
	ClientSecret string    `json:"client_secret,omitempty"`
	RefreshToken string    `json:"refresh_token"`
	AccessToken  string    `json:"access_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// OAuthConfig builds the OAuth2 client configuration.
func (c GoogleConfig) OAuthConfig() (*oauth2.Config, error) {
	if c.ClientID != "" {
		return &oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURL:  c.RedirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       GoogleScopes,
		}, nil
	}

	if c.CredentialsFile == "" {
		return nil, errors.New("google: no client credentials configured")
	}
	data, err := os.ReadFile(c.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}
	cfg, err := google.ConfigFromJSON(data, GoogleScopes...)
	if err != nil {
		return nil, fmt.Errorf("parse credentials file: %w", err)
	}
	return cfg, nil
}

// LoadToken returns the stored user token.
func (c GoogleConfig) LoadToken() (*oauth2.Token, error) {
	if c.RefreshToken != "" {
		return &oauth2.Token{RefreshToken: c.RefreshToken}, nil
	}
	if c.TokenFile == "" {
		return nil, ErrLoginRequired
	}

	data, err := os.ReadFile(c.TokenFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrLoginRequired
	}
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}

	var st storedToken
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	if st.RefreshToken == "" && st.AccessToken == "" {
		return nil, ErrLoginRequired
	}

	return &oauth2.Token{
		AccessToken:  st.AccessToken,
		TokenType:    st.TokenType,
		RefreshToken: st.RefreshToken,
		Expiry:       st.Expiry,
	}, nil
}

// SaveToken writes tok to the token file in the authorized_user format.
func (c GoogleConfig) SaveToken(cfg *oauth2.Config, tok *oauth2.Token) error {
	if c.TokenFile == "" {
		return errors.New("google: no token file configured")
	}

	st := storedToken{
		Type:         "authorized_user",
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RefreshToken: tok.RefreshToken,
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}

	if err := writePrivate(c.TokenFile, data); err != nil {
		return fmt.Errorf("save google token: %w", err)
	}
	return nil
}

// TokenSource returns a refreshing token source. Refreshed tokens are
// written back to the token file so restarts reuse them.
func (c GoogleConfig) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	cfg, err := c.OAuthConfig()
	if err != nil {
		return nil, err
	}
	tok, err := c.LoadToken()
	if err != nil {
		return nil, err
	}

	return &persistingTokenSource{
		base:   oauth2.ReuseTokenSource(tok, cfg.TokenSource(ctx, tok)),
		last:   tok.AccessToken,
		save:   func(t *oauth2.Token) error { return c.SaveToken(cfg, t) },
		stored: c.TokenFile != "" && c.RefreshToken == "",
	}, nil
}

type persistingTokenSource struct {
	base   oauth2.TokenSource
	save   func(*oauth2.Token) error
	stored bool

	mu   sync.Mutex
	last string
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: google token: %v", ErrAuthFailed, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stored && tok.AccessToken != p.last {
		p.last = tok.AccessToken
		if err := p.save(tok); err != nil {
			slog.Warn("could not store refreshed google token", "error", err)
		}
	}
	return tok, nil
}

// GoogleLogin runs the interactive consent flow: it prints the consent URL
// to out, reads the authorization code from in and stores the token.
func GoogleLogin(ctx context.Context, c GoogleConfig, in io.Reader, out io.Writer) (*oauth2.Token, error) {
	cfg, err := c.OAuthConfig()
	if err != nil {
		return nil, err
	}

	url := cfg.AuthCodeURL("calslots", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintf(out, "Open this URL to authorize access:\n\n  %s\n\nThen paste the authorization code: ", url)

	code, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read authorization code: %w", err)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("%w: empty authorization code", ErrAuthFailed)
	}

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: exchange code: %v", ErrAuthFailed, err)
	}
	if err := c.SaveToken(cfg, tok); err != nil {
		return nil, err
	}
	return tok, nil
}
