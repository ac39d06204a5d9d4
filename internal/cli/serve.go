package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cpuguy83/calslots/internal/availability"
	"github.com/cpuguy83/calslots/internal/server"
	"github.com/cpuguy83/calslots/internal/sync"
	"github.com/cpuguy83/calslots/internal/telemetry"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the availability HTTP API",
		Long: `Serves free slot queries over HTTP until interrupted.

Settings come from the config file, overridden by the PORT, TIMEZONE,
API_KEYS, FRONTEND_URL and REDIS_ADDR environment variables.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func runServe(ctx context.Context, opts *rootOptions, addr string) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry, version)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()

	defaults, err := serviceDefaults(cfg.Availability)
	if err != nil {
		return err
	}

	syncer, err := sync.NewSyncer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create syncer: %w", err)
	}
	defer syncer.Close()

	if syncer.SourceCount() == 0 {
		slog.Warn("no calendar sources configured, every query will fail with NO_CALENDARS")
	}

	slog.Info("starting calslots",
		"version", version,
		"addr", cfg.Server.Addr,
		"sources", syncer.SourceCount(),
		"timezone", defaults.Zone,
		"working_hours", defaults.WorkingHours.String(),
	)

	svc := availability.NewService(syncer, defaults)
	srv, err := server.New(cfg.Server, svc, syncer, slog.Default())
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}
