// Package cli implements the calslots command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cpuguy83/calslots/internal/availability"
	"github.com/cpuguy83/calslots/internal/config"
)

// version is overridden at build time with -ldflags "-X".
var version = "dev"

type rootOptions struct {
	configPath string
	verbose    bool
	logFormat  string
}

// NewRootCommand builds the calslots command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "calslots",
		Short:         "Find free time across your calendars",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupLogging(cmd.ErrOrStderr(), opts.verbose, opts.logFormat)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to config file (default: ~/.config/calslots/config.yaml)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "verbose logging")
	flags.StringVar(&opts.logFormat, "log-format", "text", "log format: text or json")

	cmd.AddCommand(
		newServeCommand(opts),
		newSlotsCommand(opts),
		newAuthCommand(opts),
		newVersionCommand(),
	)
	return cmd
}

// Execute runs the command line.
func Execute(ctx context.Context, args []string) error {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

func setupLogging(w io.Writer, verbose bool, format string) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		h = slog.NewTextHandler(w, hopts)
	case "json":
		h = slog.NewJSONHandler(w, hopts)
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", format)
	}

	slog.SetDefault(slog.New(h).With("service", "calslots"))
	return nil
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.LoadFrom(o.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// serviceDefaults turns the availability section into query defaults.
func serviceDefaults(cfg config.AvailabilityConfig) (availability.Defaults, error) {
	wh, err := availability.ParseWorkingHours(cfg.WorkingHours.Start, cfg.WorkingHours.End)
	if err != nil {
		return availability.Defaults{}, fmt.Errorf("availability.working_hours: %w", err)
	}
	return availability.Defaults{
		Zone:         cfg.Timezone,
		WorkingHours: wh,
		MinDuration:  cfg.MinDuration,
		MaxDays:      cfg.MaxDays,
		FetchPadding: cfg.FetchPadding,
	}, nil
}
