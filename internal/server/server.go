// Package server exposes the analytics and upload API over HTTP.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	gosync "sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/callviewhq/callview/internal/config"
	"github.com/callviewhq/callview/internal/db"
	"github.com/callviewhq/callview/internal/metrics"
)

// jobRunner is what the handlers need from the analysis pipeline.
type jobRunner interface {
	Enqueue(callID string, retry bool) error
	Cancel(ctx context.Context, callID string) error
}

// Server is the HTTP server serving the REST API.
type Server struct {
	mu      gosync.RWMutex
	cfg     config.Config
	db      *db.DB
	jobs    jobRunner
	mux     *http.ServeMux
	httpSrv *http.Server
	log     logrus.FieldLogger

	// now is the clock used to resolve date windows. Tests pin it.
	now func() time.Time

	// handlerDelay is injected before each timeout-wrapped
	// handler, used only by tests to guarantee handlers
	// exceed a short timeout. Zero in production.
	handlerDelay time.Duration
}

// New creates a new Server.
func New(
	cfg config.Config, database *db.DB, jobs jobRunner,
	opts ...Option,
) *Server {
	s := &Server{
		cfg:  cfg,
		db:   database,
		jobs: jobs,
		mux:  http.NewServeMux(),
		log: logrus.StandardLogger().
			WithField("component", "server"),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// Option configures a Server.
type Option func(*Server)

// WithClock overrides the clock used for date windows. Nil is
// ignored.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

func (s *Server) routes() {
	s.mux.Handle("GET /api/v1/managers", s.withTimeout(s.handleListManagers))
	s.mux.Handle(
		"GET /api/v1/managers/{id}/stats", s.withTimeout(s.handleManagerStats),
	)
	s.mux.Handle("GET /api/v1/stats/company", s.withTimeout(s.handleCompanyStats))
	s.mux.Handle("GET /api/v1/stats/volume", s.withTimeout(s.handleVolume))

	s.mux.Handle(
		"GET /api/v1/calls/{id}/analysis", s.withTimeout(s.handleCallAnalysis),
	)
	s.mux.Handle("POST /api/v1/calls/upload", s.withTimeout(s.handleUploadCall))
	s.mux.Handle("POST /api/v1/calls/{id}/cancel", s.withTimeout(s.handleCancelCall))
	s.mux.Handle("POST /api/v1/calls/{id}/retry", s.withTimeout(s.handleRetryCall))

	// Export: no timeout handler, to support large downloads and
	// avoid buffering.
	s.mux.Handle(
		"GET /api/v1/export/managers", http.HandlerFunc(s.handleExportManagers),
	)

	s.mux.Handle("GET /health", s.withTimeout(s.handleHealth))
	s.mux.Handle("GET /metrics", metrics.Handler())
}

func (s *Server) handleHealth(
	w http.ResponseWriter, r *http.Request,
) {
	if err := s.db.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Handler returns the http.Handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.logMiddleware(s.mux))
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()
	s.log.WithField("addr", addr).Info("starting server")
	return srv.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.httpSrv
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// FindAvailablePort finds an available port starting from the
// given port, binding to the specified host.
func FindAvailablePort(host string, start int) int {
	for port := start; port < start+100; port++ {
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			ln.Close()
			return port
		}
	}
	return start
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set(
				"Access-Control-Allow-Origin", "*",
			)
			w.Header().Set(
				"Access-Control-Allow-Methods",
				"GET, POST, OPTIONS",
			)
			w.Header().Set(
				"Access-Control-Allow-Headers",
				"Content-Type",
			)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			s.log.WithFields(logrus.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
			}).Debug("request")
			metrics.RequestsTotal.
				WithLabelValues(r.Method, r.URL.Path).Inc()
		}
		next.ServeHTTP(w, r)
	})
}
