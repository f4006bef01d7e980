package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ChaosDigtal/eth-swap-block-tracker/internal/metrics"
)

// Server exposes the webhook, health probes and Prometheus metrics.
type Server struct {
	mux    *http.ServeMux
	logger zerolog.Logger
}

// ServerOptions wires the server's handlers.
type ServerOptions struct {
	WebhookPath string
	SigningKey  string
	Webhook     http.Handler
	Health      *HealthChecker
	Metrics     *metrics.Metrics
}

func NewServer(opts ServerOptions, logger zerolog.Logger) *Server {
	s := &Server{
		mux:    http.NewServeMux(),
		logger: logger.With().Str("component", "api").Logger(),
	}

	if opts.Health != nil {
		s.mux.HandleFunc("/health", opts.Health.handleHealth)
		s.mux.HandleFunc("/ready", opts.Health.handleReady)
		s.mux.HandleFunc("/live", opts.Health.handleLive)
	}
	if opts.Metrics != nil {
		s.mux.Handle("/metrics", opts.Metrics.Handler())
	}
	if opts.Webhook != nil {
		validate := ValidateSignature(opts.SigningKey, opts.Metrics, s.logger)
		s.mux.Handle(opts.WebhookPath, validate(opts.Webhook))
	}
	return s
}

// Handler returns the root handler with request logging.
func (s *Server) Handler() http.Handler {
	return s.logMiddleware(s.mux)
}

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.logger.Info().Str("addr", addr).Msg("Starting API server")
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info().Msg("Shutting down API server...")
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("latency", time.Since(start)).
			Msg("http")
	})
}
