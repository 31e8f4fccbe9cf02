// Package gateway is the HTTP boundary: the chat endpoint, health check,
// and metrics. Authentication is optional at the chat endpoint; anonymous
// callers get conversation without actions.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/concierge/internal/auth"
	"github.com/haasonsaas/concierge/internal/orchestrator"
	"github.com/haasonsaas/concierge/internal/ratelimit"
	"github.com/haasonsaas/concierge/internal/stepup"
)

// Server hosts the HTTP API.
type Server struct {
	orch     *orchestrator.Orchestrator
	jwt      *auth.JWTService
	verifier *stepup.Verifier
	limiter  *ratelimit.Limiter
	metrics  *Metrics
	logger   *slog.Logger

	httpServer *http.Server
}

// Options configures a Server.
type Options struct {
	JWT      *auth.JWTService
	Verifier *stepup.Verifier
	Limiter  *ratelimit.Limiter
	Metrics  *Metrics
	Logger   *slog.Logger
}

// NewServer creates a Server around the orchestrator.
func NewServer(orch *orchestrator.Orchestrator, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.NewLimiter(ratelimit.Config{Enabled: false})
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Server{
		orch:     orch,
		jwt:      opts.JWT,
		verifier: opts.Verifier,
		limiter:  limiter,
		metrics:  metrics,
		logger:   logger,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	authed := auth.Middleware(s.jwt, s.logger)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/v1/chat", authed(http.HandlerFunc(s.handleChat)))
	if s.verifier != nil {
		mux.Handle("/v1/security/code", authed(http.HandlerFunc(s.handleCreateCode)))
		mux.Handle("/v1/security/code/verify", authed(http.HandlerFunc(s.handleVerifyCode)))
	}
	return mux
}

// ListenAndServe runs the server until ctx is canceled, then drains with
// the given timeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway: listen: %w", err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("gateway listening", "addr", listener.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("gateway shutdown", "error", err)
		return err
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}
