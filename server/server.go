// Package server exposes health and Prometheus endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"subreddit-watcher/pkg/watcher"
)

// TokenStatus reports when the live access token expires.
type TokenStatus interface {
	Expiry() time.Time
}

// Server serves /health and /metrics. It is also a presenter so /health can
// report the most recent cycle.
type Server struct {
	tokens TokenStatus
	logger *slog.Logger

	mu   sync.RWMutex
	last *watcher.Snapshot
}

// Config holds server configuration.
type Config struct {
	Tokens TokenStatus // Optional
	Logger *slog.Logger
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	return &Server{
		tokens: cfg.Tokens,
		logger: cfg.Logger,
	}
}

// Event is ignored; only whole cycles are reported.
func (s *Server) Event(watcher.Event) {}

// Cycle records s for /health.
func (s *Server) Cycle(snap *watcher.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = snap
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// ListenAndServe serves on port until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, port string) error {
	// Configure server with timeouts to prevent resource exhaustion
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("HTTP server shutdown failed", "error", err)
		}
	}()

	s.logger.Info("Starting HTTP server", "port", port)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type healthResponse struct {
	Status          string     `json:"status"`
	LastCycleAt     *time.Time `json:"last_cycle_at,omitempty"`
	TokenExpiresAt  *time.Time `json:"token_expires_at,omitempty"`
	FailedFeeds     []string   `json:"failed_feeds,omitempty"`
	Cycle           int        `json:"cycle"`
	NewItems        int        `json:"new_items"`
	NewContributors int        `json:"new_contributors"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := healthResponse{Status: "healthy"}
	s.mu.RLock()
	if s.last != nil {
		at := s.last.CompletedAt
		resp.LastCycleAt = &at
		resp.Cycle = s.last.Cycle
		resp.NewItems = s.last.NewItems
		resp.NewContributors = s.last.NewContributors
		resp.FailedFeeds = s.last.FailedFeeds
		if len(s.last.FailedFeeds) > 0 {
			resp.Status = "degraded"
		}
	}
	s.mu.RUnlock()
	if s.tokens != nil {
		if exp := s.tokens.Expiry(); !exp.IsZero() {
			resp.TokenExpiresAt = &exp
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("Failed to write health response", "error", err)
	}
}
