// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package api exposes the monitoring pipeline over HTTP: ingest, queries,
// block rule management and the live websocket stream.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/burrow/internal/bus"
	"grimm.is/burrow/internal/errors"
	"grimm.is/burrow/internal/logging"
	"grimm.is/burrow/internal/pipeline"
	"grimm.is/burrow/internal/stats"
	"grimm.is/burrow/internal/store"
)

// ServerConfig holds HTTP server hardening settings.
type ServerConfig struct {
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	MaxBodyBytes      int64
}

// DefaultServerConfig returns the standard server hardening settings.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
		MaxBodyBytes:      10 << 20,
	}
}

// Server handles API requests.
type Server struct {
	engine    *pipeline.Engine
	recent    *store.RecentWindow
	archive   *store.Archive
	stats     *stats.Aggregator
	broadcast *bus.Broadcaster
	logger    *logging.Logger
	registry  *prometheus.Registry
	cfg       *ServerConfig
	startTime time.Time

	router *mux.Router
}

// ServerOptions holds dependencies for the API server.
type ServerOptions struct {
	Engine    *pipeline.Engine
	Recent    *store.RecentWindow
	Archive   *store.Archive // optional
	Stats     *stats.Aggregator
	Broadcast *bus.Broadcaster
	Logger    *logging.Logger
	Registry  *prometheus.Registry // optional; nil serves the default gatherer
	Config    *ServerConfig
}

// NewServer creates the API server and registers its routes.
func NewServer(opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = DefaultServerConfig()
	}

	s := &Server{
		engine:    opts.Engine,
		recent:    opts.Recent,
		archive:   opts.Archive,
		stats:     opts.Stats,
		broadcast: opts.Broadcast,
		logger:    logger,
		registry:  opts.Registry,
		cfg:       cfg,
		startTime: time.Now(),
		router:    mux.NewRouter(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(s.bodyLimit)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/ingest", s.handleIngest).Methods("POST")
	api.HandleFunc("/logs", s.handleLogs).Methods("GET")
	api.HandleFunc("/detections", s.handleDetections).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/blocklist", s.handleListRules).Methods("GET")
	api.HandleFunc("/blocklist", s.handleAddRule).Methods("POST")
	api.HandleFunc("/blocklist", s.handleRemoveRule).Methods("DELETE")
	api.HandleFunc("/blocklist/{id}", s.handleRemoveRuleByID).Methods("DELETE")
	api.HandleFunc("/timeline", s.handleTimeline).Methods("POST")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/stream", s.handleStream).Methods("GET")

	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if s.registry != nil {
		gatherer = s.registry
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// HTTPServer builds a hardened http.Server bound to addr.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		MaxHeaderBytes:    s.cfg.MaxHeaderBytes,
	}
}

func (s *Server) bodyLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// WriteJSON writes data as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}

// BindJSON decodes the request body into dest. Returns false if decoding
// failed; the error response has already been sent.
func BindJSON[T any](w http.ResponseWriter, r *http.Request, dest *T) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// writeErrorKind maps the error taxonomy onto HTTP statuses.
func writeErrorKind(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.GetKind(err) {
	case errors.KindValidation:
		status = http.StatusBadRequest
	case errors.KindNotFound:
		status = http.StatusNotFound
	case errors.KindConflict:
		status = http.StatusConflict
	case errors.KindTransient, errors.KindCapacity:
		status = http.StatusServiceUnavailable
	}
	WriteError(w, status, err.Error())
}
