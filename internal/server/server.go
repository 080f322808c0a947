package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/config"
	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/quota"
	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/sink"
	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/storage"
	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/telemetry"
)

// MetricsSource exposes collected metrics. *telemetry.Telemetry implements it.
type MetricsSource interface {
	Snapshot(ctx context.Context) ([]telemetry.Point, error)
}

// Searcher queries harvested records. *sink.BleveSink implements it.
type Searcher interface {
	Search(query string, limit int) ([]sink.Hit, error)
}

// Server handles HTTP requests
type Server struct {
	config  config.ServerConfig
	storage storage.Storage
	metrics MetricsSource
	search  Searcher
	quota   *quota.Tracker
	server  *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics serves /metrics from src.
func WithMetrics(src MetricsSource) Option {
	return func(s *Server) { s.metrics = src }
}

// WithSearch serves /search from idx.
func WithSearch(idx Searcher) Option {
	return func(s *Server) { s.search = idx }
}

// WithQuota reports the live quota budget on /status.
func WithQuota(t *quota.Tracker) Option {
	return func(s *Server) { s.quota = t }
}

// NewServer creates a new HTTP server
func NewServer(cfg config.ServerConfig, store storage.Storage, opts ...Option) *Server {
	s := &Server{
		config:  cfg,
		storage: store,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	return s
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/checkpoints", s.handleCheckpoints)
	mux.HandleFunc("/schedule", s.handleSchedule)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/search", s.handleSearch)
	return mux
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus handles GET requests for ingestion status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	status, err := s.storage.GetIngestionStatus(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to retrieve status: %v", err), http.StatusInternalServerError)
		return
	}
	if s.quota != nil {
		if remaining, ok := s.quota.Remaining(); ok {
			status.QuotaRemaining = remaining
		}
	}

	writeJSON(w, status)
}

// handleCheckpoints returns the resume cursor of every tag-key
func (s *Server) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	cp, err := s.storage.LoadCheckpoint(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to retrieve checkpoints: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, cp)
}

// handleSchedule returns the pending/exhausted flag of every tag-key
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	sch, err := s.storage.LoadSchedule(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to retrieve schedule: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, sch)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	if s.metrics == nil {
		http.Error(w, "Metrics not enabled", http.StatusNotFound)
		return
	}

	points, err := s.metrics.Snapshot(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to collect metrics: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{"metrics": points})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	if s.search == nil {
		http.Error(w, "Search not enabled", http.StatusNotFound)
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "Missing query parameter q", http.StatusBadRequest)
		return
	}
	limit := 10
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 100 {
		limit = l
	}

	hits, err := s.search.Search(query, limit)
	if err != nil {
		http.Error(w, fmt.Sprintf("Search failed: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"query": query,
		"hits":  hits,
		"count": len(hits),
	})
}
