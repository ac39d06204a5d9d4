// Package auth acquires access tokens for the calendar providers.
package auth

import (
	"errors"
	"os"
	"path/filepath"
	"time"
)

const (
	// DefaultClientID is the public client used for Microsoft device code login.
	DefaultClientID = "d7b530a4-7680-4c23-a8bf-c52c121d2e87"

	// DefaultAuthority is used when no tenant is configured.
	DefaultAuthority = "https://login.microsoftonline.com/common"
)

var (
	// ErrLoginRequired means no cached credentials exist and interactive
	// login is not allowed in this process.
	ErrLoginRequired = errors.New("login required: run `calslots auth` first")

	ErrAuthFailed = errors.New("authentication failed")
)

// Token represents an OAuth2 access token.
type Token struct {
	AccessToken string
	ExpiresOn   time.Time
	AccountID   string
}

// Valid reports whether the token can still be used at now, leaving a
// margin for clock skew and request latency.
func (t *Token) Valid(now time.Time) bool {
	return t != nil && t.AccessToken != "" && now.Add(5*time.Minute).Before(t.ExpiresOn)
}

// writePrivate replaces path with data, readable only by the owner.
func writePrivate(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
