package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/api/option"

	"github.com/cpuguy83/calslots/internal/auth"
	"github.com/cpuguy83/calslots/internal/calendar"
	"github.com/cpuguy83/calslots/internal/config"
	"github.com/cpuguy83/calslots/internal/filter"
	"github.com/cpuguy83/calslots/internal/tzclock"
)

// NewSyncer creates a Syncer from configuration. ctx outlives the syncer:
// Google token refreshes run on it.
func NewSyncer(ctx context.Context, cfg *config.Config) (*Syncer, error) {
	floating, err := tzclock.Load(cfg.Availability.Timezone)
	if err != nil {
		return nil, err
	}

	sources, err := createSources(ctx, cfg.Sources, floating)
	if err != nil {
		return nil, err
	}

	global, err := filter.New(cfg.Filters)
	if err != nil {
		return nil, fmt.Errorf("global filters: %w", err)
	}

	s := New(cfg.Availability.FetchTimeout, global, sources...)
	s.requireSource = cfg.Availability.RequireSource
	return s, nil
}

// createSources creates calendar sources with their per-source filters from
// configuration. Floating ICS times default to floating.
func createSources(ctx context.Context, cfgs []config.SourceConfig, floating *time.Location) ([]Source, error) {
	var sources []Source

	for _, cfg := range cfgs {
		loc := floating
		if cfg.Timezone != "" {
			l, err := tzclock.Load(cfg.Timezone)
			if err != nil {
				return nil, fmt.Errorf("source %s: %w", cfg.Name, err)
			}
			loc = l
		}

		src, err := createSource(ctx, cfg, loc)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", cfg.Name, err)
		}

		f, err := filter.New(cfg.Filters)
		if err != nil {
			return nil, fmt.Errorf("source %s filters: %w", cfg.Name, err)
		}

		sources = append(sources, Source{
			Source: src,
			Filter: f,
		})
	}

	return sources, nil
}

func createSource(ctx context.Context, cfg config.SourceConfig, loc *time.Location) (calendar.Source, error) {
	switch cfg.Type {
	case config.SourceICS:
		password, err := cfg.GetPassword()
		if err != nil {
			return nil, err
		}
		return calendar.NewICSSource(cfg.Name, cfg.URL, cfg.Username, password, loc), nil

	case config.SourceFile:
		return calendar.NewFileSource(cfg.Name, cfg.Path, loc), nil

	case config.SourceCalDAV:
		password, err := cfg.GetPassword()
		if err != nil {
			return nil, err
		}
		return calendar.NewCalDAVSource(cfg.Name, cfg.URL, cfg.Username, password, cfg.Calendars, loc), nil

	case config.SourceICloud:
		password, err := cfg.GetPassword()
		if err != nil {
			return nil, err
		}
		return calendar.NewICloudSource(cfg.Name, cfg.Username, password, cfg.Calendars, loc), nil

	case config.SourceGoogle:
		gc, err := GoogleAuthConfig(cfg)
		if err != nil {
			return nil, err
		}
		ts, err := gc.TokenSource(ctx)
		if err != nil {
			return nil, err
		}
		return calendar.NewGoogleSource(ctx, cfg.Name, cfg.Calendars, option.WithTokenSource(ts))

	case config.SourceMS365:
		tokens, err := auth.NewDeviceCodeAuth(MS365AuthConfig(cfg))
		if err != nil {
			return nil, err
		}
		return calendar.NewMS365Source(cfg.Name, tokens), nil
	}

	return nil, fmt.Errorf("unknown source type %q", cfg.Type)
}

// GoogleAuthConfig returns the OAuth settings of a Google source. Files
// default to credentials.json and token.json next to the config file.
func GoogleAuthConfig(cfg config.SourceConfig) (auth.GoogleConfig, error) {
	gc := auth.GoogleConfig{
		CredentialsFile: cfg.Credentials,
		TokenFile:       cfg.Token,
		ClientID:        cfg.ClientID,
		ClientSecret:    cfg.ClientSecret,
		RefreshToken:    cfg.RefreshToken,
	}
	if gc.CredentialsFile != "" && gc.TokenFile != "" {
		return gc, nil
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return gc, fmt.Errorf("get config dir: %w", err)
	}
	dir := filepath.Join(configDir, "calslots")
	if gc.CredentialsFile == "" {
		gc.CredentialsFile = filepath.Join(dir, "credentials.json")
	}
	if gc.TokenFile == "" {
		gc.TokenFile = filepath.Join(dir, "token.json")
	}
	return gc, nil
}

// MS365AuthConfig returns the device code settings of a Microsoft 365
// source. Servers never prompt; `calslots auth ms365` fills the cache.
func MS365AuthConfig(cfg config.SourceConfig) auth.DeviceCodeConfig {
	dc := auth.DeviceCodeConfig{
		ClientID: cfg.ClientID,
		Scopes:   []string{calendar.MS365Scope},
	}
	if cfg.Tenant != "" {
		dc.Authority = "https://login.microsoftonline.com/" + cfg.Tenant
	}
	return dc
}
