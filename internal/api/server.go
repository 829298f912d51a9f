package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nolan/converse/internal/engine"
	"github.com/nolan/converse/internal/syncdb"
)

// Server is the HTTP API server for converse-sync.
type Server struct {
	config      Config
	http        *http.Server
	store       *syncdb.DB
	engine      *engine.Engine
	metrics     *Metrics
	rateLimiter *RateLimiter
	cancel      context.CancelFunc
}

// NewServer creates a new Server with the given config, store, and engine.
func NewServer(cfg Config, store *syncdb.DB, eng *engine.Engine) (*Server, error) {
	cfg = cfg.withDefaults()
	s := &Server{
		config:      cfg,
		store:       store,
		engine:      eng,
		metrics:     NewMetrics(),
		rateLimiter: NewRateLimiter(),
	}

	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start begins listening for HTTP requests (non-blocking).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "err", err)
		}
	}()

	// Periodically purge resolved events past the retention cutoff
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("maintenance panic", "panic", r)
			}
		}()
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-s.config.ResolvedEventRetention)
				if _, err := s.engine.PurgeResolved(ctx, "", cutoff); err != nil {
					slog.Error("purge resolved events", "err", err)
				}
			}
		}
	}()

	return nil
}

// Shutdown gracefully stops the server and its background loops.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	s.rateLimiter.Stop()
	return s.http.Shutdown(ctx)
}

// Handler returns the fully assembled route handler so callers can
// serve it without opening a listener.
func (s *Server) Handler() http.Handler {
	return s.routes()
}

// routes builds the HTTP handler with all routes and middleware.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health & metrics
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /metricz", s.handleMetrics)

	// Devices
	mux.HandleFunc("POST /v1/devices", s.requireAuth(s.withRateLimit(s.handleRegisterDevice, s.config.RateLimitOther)))
	mux.HandleFunc("GET /v1/devices", s.requireAuth(s.withRateLimit(s.handleListDevices, s.config.RateLimitOther)))
	mux.HandleFunc("DELETE /v1/devices/{id}", s.requireAuth(s.withRateLimit(s.handleDeactivateDevice, s.config.RateLimitOther)))

	// Sync
	mux.HandleFunc("POST /v1/devices/{id}/sync", s.requireAuth(s.withRateLimit(s.handleInitiateSync, s.config.RateLimitSync)))
	mux.HandleFunc("POST /v1/devices/{id}/sync/complete", s.requireAuth(s.withRateLimit(s.handleCompleteSync, s.config.RateLimitSync)))
	mux.HandleFunc("GET /v1/devices/{id}/sync/status", s.requireAuth(s.withRateLimit(s.handleSyncStatus, s.config.RateLimitOther)))

	// Events
	mux.HandleFunc("POST /v1/events", s.requireAuth(s.withRateLimit(s.handleRecordEvent, s.config.RateLimitSync)))
	mux.HandleFunc("POST /v1/events/batch", s.requireAuth(s.withRateLimit(s.handleBatchRecord, s.config.RateLimitSync)))

	// Conflicts & stats
	mux.HandleFunc("GET /v1/conflicts", s.requireAuth(s.withRateLimit(s.handleListConflicts, s.config.RateLimitOther)))
	mux.HandleFunc("POST /v1/conflicts/{id}/resolve", s.requireAuth(s.withRateLimit(s.handleResolveConflict, s.config.RateLimitOther)))
	mux.HandleFunc("GET /v1/stats", s.requireAuth(s.withRateLimit(s.handleStats, s.config.RateLimitOther)))

	return chain(mux,
		recoveryMiddleware,
		requestIDMiddleware,
		loggerMiddleware,
		metricsMiddleware(s.metrics),
		loggingMiddleware,
		maxBytesMiddleware(10<<20),
		timeoutMiddleware(s.config.RequestTimeout),
	)
}

// handleHealth returns a health check response, pinging the database.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "detail": "db unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMetrics returns a snapshot of server metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}
