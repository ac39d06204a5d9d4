// Package server exposes availability over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/julienschmidt/httprouter"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/cpuguy83/calslots/internal/availability"
	"github.com/cpuguy83/calslots/internal/calendar"
	"github.com/cpuguy83/calslots/internal/config"
)

// Availability answers free slot and event queries.
type Availability interface {
	FreeSlots(ctx context.Context, q availability.Query) (*availability.Result, error)
	Events(ctx context.Context, q availability.Query) (*availability.EventsResult, error)
}

// Server is the HTTP API.
type Server struct {
	cfg       config.ServerConfig
	svc       Availability
	calendars calendar.Lister
	logger    *slog.Logger
	validate  *validator.Validate
	limiter   Limiter
	keys      []string
	now       func() time.Time

	redis   *redis.Client
	handler http.Handler
}

// New builds the server and its handler chain. calendars may be nil, in
// which case GET /api/calendars reports no calendars.
func New(cfg config.ServerConfig, svc Availability, calendars calendar.Lister, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	keys, err := cfg.Keys()
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		logger.Warn("no API keys configured, the API is open to anyone who can reach it")
	}

	s := &Server{
		cfg:       cfg,
		svc:       svc,
		calendars: calendars,
		logger:    logger,
		validate:  newValidator(),
		keys:      keys,
		now:       time.Now,
	}

	if rl := cfg.RateLimit; rl.Requests > 0 {
		if rl.RedisAddr != "" {
			s.redis = redis.NewClient(&redis.Options{Addr: rl.RedisAddr})
			s.limiter = NewRedisRateLimiter(s.redis, rl.Requests, rl.Window, "")
			logger.Info("rate limiting with redis", "addr", rl.RedisAddr, "requests", rl.Requests, "window", rl.Window)
		} else {
			s.limiter = NewMemoryRateLimiter(rl.Requests, rl.Window)
		}
	}

	s.handler = s.routes()
	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	health := httprouter.New()
	health.GET("/api/health", s.health)

	api := httprouter.New()
	api.POST("/api/events/free-slots", s.freeSlots)
	api.POST("/api/free-slots", s.freeSlots)
	api.POST("/api/events/list", s.listEvents)
	api.GET("/api/calendars", s.listCalendars)
	api.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, newAPIError(http.StatusNotFound, CodeNotFound, "no route for "+r.Method+" "+r.URL.Path))
	})
	api.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, newAPIError(http.StatusMethodNotAllowed, CodeBadRequest, "method "+r.Method+" not allowed"))
	})

	protected := []Middleware{WithAPIKey(s.keys)}
	if s.limiter != nil {
		key := RemoteIP
		if s.cfg.RateLimit.TrustForwardedFor {
			key = ForwardedIP
		}
		protected = append(protected, WithRateLimit(s.limiter, key, s.logger, !s.cfg.RateLimit.FailClosed))
	}
	protected = append(protected,
		WithBodyLimit(s.cfg.MaxBodyBytes),
		WithTimeout(s.cfg.RequestTimeout),
	)

	mux := http.NewServeMux()
	mux.Handle("/api/health", health)
	mux.Handle("/", Chain(api, protected...))

	h := Chain(mux,
		WithRecovery(s.logger),
		WithRequestID,
		WithAccessLog(s.logger),
		WithCORS(CORSPolicy{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Authorization", APIKeyHeader, RequestIDHeader},
			MaxAge:         10 * time.Minute,
		}),
	)

	return otelhttp.NewHandler(h, "calslots",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// Run serves until ctx is cancelled, then drains in-flight requests for
// up to the configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "address", ln.Addr().String())
		serverErrors <- srv.Serve(ln)
	}()

	select {
	case err := <-serverErrors:
		s.closeRedis()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down HTTP server", "timeout", s.cfg.ShutdownTimeout)

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		s.logger.Error("graceful shutdown failed", "error", err)
		if cerr := srv.Close(); cerr != nil {
			s.logger.Error("could not stop server", "error", cerr)
		}
	}
	s.closeRedis()

	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) closeRedis() {
	if s.redis == nil {
		return
	}
	if err := s.redis.Close(); err != nil {
		s.logger.Warn("closing redis client", "error", err)
	}
}
