package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/cache"
	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/public"
)

// DeviceCodeConfig configures Microsoft login.
type DeviceCodeConfig struct {
	ClientID  string
	Authority string
	Scopes    []string

	// CachePath is where the MSAL token cache is kept. Empty uses the
	// user cache directory.
	CachePath string

	// Interactive allows falling back to the device code flow. Servers
	// leave it off and rely on a cache populated by `calslots auth ms365`.
	Interactive bool

	// Prompt receives the login instructions. Defaults to stderr.
	Prompt io.Writer
}

func (c *DeviceCodeConfig) setDefaults() {
	if c.ClientID == "" {
		c.ClientID = DefaultClientID
	}
	if c.Authority == "" {
		c.Authority = DefaultAuthority
	}
	if c.Prompt == nil {
		c.Prompt = os.Stderr
	}
	if c.CachePath == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			slog.Warn("no user cache directory, MSAL tokens will not persist", "error", err)
			return
		}
		c.CachePath = filepath.Join(dir, "calslots", "msal_token_cache.json")
	}
}

// DeviceCodeAuth hands out Microsoft Graph tokens. It tries the MSAL cache
// first and only runs the device code flow when Interactive is set.
type DeviceCodeAuth struct {
	client public.Client
	cfg    DeviceCodeConfig
	now    func() time.Time

	mu    sync.Mutex
	token *Token
}

// NewDeviceCodeAuth builds the MSAL public client for cfg.
func NewDeviceCodeAuth(cfg DeviceCodeConfig) (*DeviceCodeAuth, error) {
	cfg.setDefaults()

	opts := []public.Option{public.WithAuthority(cfg.Authority)}
	if cfg.CachePath != "" {
		opts = append(opts, public.WithCache(&msalFileCache{path: cfg.CachePath}))
	}
	client, err := public.New(cfg.ClientID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create MSAL client: %w", err)
	}

	return &DeviceCodeAuth{client: client, cfg: cfg, now: time.Now}, nil
}

// GetToken returns a usable access token.
func (d *DeviceCodeAuth) GetToken(ctx context.Context) (*Token, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.token.Valid(d.now()) {
		return d.token, nil
	}

	tok, err := d.silent(ctx)
	if err == nil {
		d.token = tok
		return tok, nil
	}
	if !d.cfg.Interactive {
		return nil, err
	}

	slog.Info("starting device code login", "authority", d.cfg.Authority)
	tok, err = d.deviceCode(ctx)
	if err != nil {
		return nil, err
	}
	d.token = tok
	return tok, nil
}

// silent tries every cached account. It returns ErrLoginRequired when none
// of them yields a token.
func (d *DeviceCodeAuth) silent(ctx context.Context) (*Token, error) {
	accounts, err := d.client.Accounts(ctx)
	if err != nil {
		slog.Debug("read MSAL accounts", "error", err)
	}

	for _, acct := range accounts {
		res, err := d.client.AcquireTokenSilent(ctx, d.cfg.Scopes, public.WithSilentAccount(acct))
		if err != nil {
			slog.Debug("silent token refresh failed", "account", acct.PreferredUsername, "error", err)
			continue
		}
		return &Token{AccessToken: res.AccessToken, ExpiresOn: res.ExpiresOn, AccountID: acct.HomeAccountID}, nil
	}
	return nil, ErrLoginRequired
}

func (d *DeviceCodeAuth) deviceCode(ctx context.Context) (*Token, error) {
	dc, err := d.client.AcquireTokenByDeviceCode(ctx, d.cfg.Scopes)
	if err != nil {
		return nil, fmt.Errorf("%w: start device code flow: %v", ErrAuthFailed, err)
	}

	fmt.Fprintf(d.cfg.Prompt, "\nOpen %s in a browser and enter the code %s\n\n",
		dc.Result.VerificationURL, dc.Result.UserCode)

	res, err := dc.AuthenticationResult(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: device code: %v", ErrAuthFailed, err)
	}
	return &Token{AccessToken: res.AccessToken, ExpiresOn: res.ExpiresOn, AccountID: res.Account.HomeAccountID}, nil
}

// Close releases nothing; it exists so callers can treat token providers
// uniformly.
func (d *DeviceCodeAuth) Close() error {
	return nil
}

// msalFileCache persists the serialized MSAL cache to a single file.
type msalFileCache struct {
	path string
}

func (c *msalFileCache) Replace(_ context.Context, u cache.Unmarshaler, _ cache.ReplaceHints) error {
	data, err := os.ReadFile(c.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("read MSAL cache: %w", err)
	}
	return u.Unmarshal(data)
}

func (c *msalFileCache) Export(_ context.Context, m cache.Marshaler, _ cache.ExportHints) error {
	data, err := m.Marshal()
	if err != nil {
		return err
	}
	if err := writePrivate(c.path, data); err != nil {
		return fmt.Errorf("write MSAL cache: %w", err)
	}
	return nil
}
