package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lfariabr/excel-pilot-sub000/pkg/config"
	"github.com/lfariabr/excel-pilot-sub000/pkg/limits"
	"github.com/lfariabr/excel-pilot-sub000/pkg/telemetry/health"
	"github.com/lfariabr/excel-pilot-sub000/pkg/telemetry/metrics"
)

// Options carries the collaborators of a Server.
type Options struct {
	// Manager serves every /v1 route. Required.
	Manager *limits.Manager

	// Checker backs /ready. When nil a checker with store and breaker
	// checks is created from Manager.
	Checker *health.Checker

	// Gatherer backs the metrics endpoint. Nil disables it.
	Gatherer prometheus.Gatherer

	// MetricsPath defaults to "/metrics".
	MetricsPath string

	// HTTPMetrics instruments the routes. Optional.
	HTTPMetrics *metrics.HTTPMetrics

	Logger *slog.Logger

	Version   string
	Commit    string
	BuildTime string
}

// Server is the HTTP surface of the limits service.
type Server struct {
	config       config.ServerConfig
	opts         Options
	logger       *slog.Logger
	handler      http.Handler
	httpServer   *http.Server
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
}

// NewServer creates a server and builds its routes.
func NewServer(cfg config.ServerConfig, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = config.DefaultMetricsPath
	}
	if opts.Checker == nil {
		opts.Checker = health.New(0)
		opts.Checker.RegisterCheck("store", health.StoreCheck(opts.Manager))
		opts.Checker.RegisterCheck("breaker", health.BreakerCheck(opts.Manager.Breaker()))
	}

	s := &Server{
		config: cfg,
		opts:   opts,
		logger: opts.Logger.With("component", "server"),
	}
	s.handler = s.setupRoutes()
	return s
}

// Start serves until ctx is cancelled or the listener fails, then shuts
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		ln.Close()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.httpServer = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
	srv := s.httpServer
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting limits server", "address", ln.Addr().String())
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		} else if err != nil {
			err = fmt.Errorf("server error: %w", err)
		}
		errChan <- err
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.WithoutCancel(ctx))
	case err := <-errChan:
		return err
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			return
		}
		srv := s.httpServer
		s.mu.Unlock()

		s.logger.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())

		shutdownCtx := ctx
		if s.config.ShutdownTimeout > 0 {
			var cancel context.CancelFunc
			shutdownCtx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
			defer cancel()
		}

		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error during server shutdown", "error", err)
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("limits server stopped")
	})

	return shutdownErr
}

// setupRoutes configures HTTP routes and middleware chain.
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()
	h := NewHandlers(s.opts.Manager, s.opts.Logger)
	throttle := func(f http.HandlerFunc) http.HandlerFunc {
		return health.RateLimitedHandler(f, s.config.AdminRPS, s.config.AdminBurst)
	}

	route := func(pattern, name string, handler http.Handler) {
		mux.Handle(pattern, s.opts.HTTPMetrics.Wrap(name, handler))
	}

	// Enforcement
	route("POST /v1/limits/check", "check", http.HandlerFunc(h.Check))
	route("POST /v1/budget/charge", "charge", http.HandlerFunc(h.Charge))
	route("POST /v1/budget/adjust", "adjust", http.HandlerFunc(h.Adjust))

	// Analytics
	route("POST /v1/violations", "report_violation", http.HandlerFunc(h.ReportViolation))
	route("GET /v1/violations/users/{id}", "user_violations", throttle(h.UserViolations))
	route("GET /v1/violations/top", "top_violators", throttle(h.TopViolators))

	// Operations
	route("GET /v1/health/breaker", "breaker", health.BreakerHandler(s.opts.Manager.Breaker()))
	mux.HandleFunc("/health", s.opts.Checker.LivenessHandler())
	mux.HandleFunc("/ready", throttle(s.opts.Checker.ReadinessHandler()))
	mux.HandleFunc("/version", health.VersionHandler(s.opts.Version, s.opts.Commit, s.opts.BuildTime))
	if s.opts.Gatherer != nil {
		mux.Handle(s.opts.MetricsPath, metrics.Handler(s.opts.Gatherer))
	}

	var handler http.Handler = mux
	handler = LoggingMiddleware(s.opts.Logger)(handler)
	handler = RequestIDMiddleware(handler)

	// Recovery middleware (outermost)
	handler = RecoveryMiddleware(s.opts.Logger)(handler)

	return handler
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Handler returns the configured HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}
