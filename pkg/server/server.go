// Package server exposes a Database over HTTP: one handler per collection
// operation, CORS and panic-recovery middleware, and per-request latency
// logging.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cianyyz/vectordb/pkg/collection"
	"github.com/cianyyz/vectordb/pkg/distance"
	"github.com/cianyyz/vectordb/pkg/vectordb"
	"github.com/cianyyz/vectordb/pkg/vlog"
)

// Config holds HTTP server configuration.
type Config struct {
	Address string
	Port    int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	MaxRequestSize int64

	EnableCORS  bool
	CORSOrigins []string

	DefaultSimilarityK int
	DefaultMetadataK   int
}

// DefaultConfig returns a Config with VectorDB's default HTTP server
// settings.
func DefaultConfig() *Config {
	return &Config{
		Address:            "0.0.0.0",
		Port:               8000,
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       30 * time.Second,
		IdleTimeout:        120 * time.Second,
		MaxRequestSize:     10 * 1024 * 1024,
		EnableCORS:         true,
		CORSOrigins:        []string{"*"},
		DefaultSimilarityK: 1,
		DefaultMetadataK:   5,
	}
}

// Server serves Database over HTTP.
type Server struct {
	config *Config
	db     *vectordb.Database
	log    *vlog.Logger

	httpServer *http.Server
	listener   net.Listener
	started    time.Time

	requestCount atomic.Int64
	errorCount   atomic.Int64
}

// New creates a Server for db. A nil config uses DefaultConfig(); a nil
// logger uses vlog.Default().
func New(db *vectordb.Database, config *Config, log *vlog.Logger) (*Server, error) {
	if db == nil {
		return nil, fmt.Errorf("server: database required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = vlog.Default()
	}
	return &Server{config: config, db: db, log: log}, nil
}

// Start binds the configured address:port and begins serving in the
// background. It returns once the listener is established.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Address, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.started = time.Now()

	s.httpServer = &http.Server{
		Handler:      s.buildRouter(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorf("http server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts the server down, waiting for in-flight requests to
// finish or ctx to expire.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the server's bound listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stats summarizes request volume since Start.
type Stats struct {
	Uptime       time.Duration
	RequestCount int64
	ErrorCount   int64
}

// Stats returns the server's current request/error counters.
func (s *Server) Stats() Stats {
	return Stats{
		Uptime:       time.Since(s.started),
		RequestCount: s.requestCount.Load(),
		ErrorCount:   s.errorCount.Load(),
	}
}

func (s *Server) buildRouter() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/collections/", s.handleCollections)

	var h http.Handler = mux
	h = s.recoveryMiddleware(h)
	h = s.loggingMiddleware(h)
	h = s.corsMiddleware(h)
	h = s.metricsMiddleware(h)
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCollections dispatches every /collections/{name}[/...] request.
// The path is split by hand on "/": the first segment is the collection
// name and at most one further segment selects the sub-resource, so a
// collection name cannot itself contain "/".
func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/collections/"), "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		s.writeError(w, http.StatusNotFound, "collection name required")
		return
	}
	name := parts[0]
	rest := parts[1:]

	switch {
	case len(rest) == 0:
		s.handleCollectionRoot(w, r, name)
	case len(rest) == 1 && rest[0] == "insert":
		s.handleInsert(w, r, name)
	case len(rest) == 1 && rest[0] == "query":
		s.handleMetadataQuery(w, r, name)
	case len(rest) == 1 && rest[0] == "querynum":
		s.handleMetadataQueryNumber(w, r, name)
	case len(rest) == 1:
		s.handleEmbeddingByID(w, r, name, rest[0])
	default:
		s.writeError(w, http.StatusNotFound, "unknown route")
	}
}

// handleCollectionRoot implements PUT (create), GET (info), DELETE
// (destroy), and POST (similarity query) on /collections/{name}.
func (s *Server) handleCollectionRoot(w http.ResponseWriter, r *http.Request, name string) {
	switch r.Method {
	case http.MethodPut:
		s.handleCreateCollection(w, r, name)
	case http.MethodGet:
		s.handleCollectionInfo(w, r, name)
	case http.MethodDelete:
		s.handleDeleteCollection(w, r, name)
	case http.MethodPost:
		s.handleSimilarity(w, r, name)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type createCollectionRequest struct {
	Dimension  int                `json:"dimension"`
	Distance   string             `json:"distance"`
	Embeddings []embeddingPayload `json:"embeddings,omitempty"`
}

type embeddingPayload struct {
	ID       string            `json:"id"`
	Vector   []float32         `json:"vector"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleCreateCollection(w http.ResponseWriter, r *http.Request, name string) {
	var req createCollectionRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	metric := distance.Metric(req.Distance)
	if !metric.Valid() {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown distance metric %q", req.Distance))
		return
	}

	seed := make([]collection.Embedding, len(req.Embeddings))
	for i, e := range req.Embeddings {
		seed[i] = collection.Embedding{ID: e.ID, Vector: e.Vector, Metadata: e.Metadata}
	}

	if err := s.db.CreateCollection(name, req.Dimension, metric, seed); err != nil {
		switch {
		case errors.Is(err, vectordb.ErrUniqueViolation):
			s.writeError(w, http.StatusConflict, "collection already exists")
		case errors.Is(err, collection.ErrDimensionMismatch):
			s.writeError(w, http.StatusBadRequest, "embedding dimension mismatch")
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"name": name})
}

func (s *Server) handleCollectionInfo(w http.ResponseWriter, r *http.Request, name string) {
	info, err := s.db.GetCollectionInfo(name)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "collection not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"name":            info.Name,
		"dimension":       info.Dimension,
		"distance":        string(info.Distance),
		"embedding_count": info.EmbeddingCount,
	})
}

func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request, name string) {
	if err := s.db.DeleteCollection(name); err != nil {
		s.writeError(w, http.StatusNotFound, "collection not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type similarityRequest struct {
	Query []float32 `json:"query"`
	K     int       `json:"k,omitempty"`
}

func (s *Server) handleSimilarity(w http.ResponseWriter, r *http.Request, name string) {
	var req similarityRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	k := req.K
	if k <= 0 {
		k = s.config.DefaultSimilarityK
	}

	results, err := s.db.Similarity(r.Context(), name, req.Query, k)
	if err != nil {
		switch {
		case errors.Is(err, vectordb.ErrNotFound):
			s.writeError(w, http.StatusNotFound, "collection not found")
		case errors.Is(err, vectordb.ErrDimensionMismatch):
			s.writeError(w, http.StatusBadRequest, "query dimension mismatch")
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.writeJSON(w, http.StatusOK, scoredResponses(results))
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req embeddingPayload
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := s.db.Insert(name, collection.Embedding{ID: req.ID, Vector: req.Vector, Metadata: req.Metadata})
	if err != nil {
		switch {
		case errors.Is(err, vectordb.ErrNotFound):
			s.writeError(w, http.StatusNotFound, "collection not found")
		case errors.Is(err, vectordb.ErrDimensionMismatch):
			s.writeError(w, http.StatusBadRequest, "embedding dimension mismatch")
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleEmbeddingByID(w http.ResponseWriter, r *http.Request, name, id string) {
	switch r.Method {
	case http.MethodGet:
		e, err := s.db.GetByID(name, id)
		if err != nil {
			switch {
			case errors.Is(err, vectordb.ErrNotFound):
				s.writeError(w, http.StatusNotFound, "collection not found")
			case errors.Is(err, vectordb.ErrIDNotFound):
				s.writeError(w, http.StatusBadRequest, "id not found")
			default:
				s.writeError(w, http.StatusInternalServerError, err.Error())
			}
			return
		}
		s.writeJSON(w, http.StatusOK, embeddingResponse(e))
	case http.MethodDelete:
		if _, err := s.db.DeleteEmbedding(name, id); err != nil {
			switch {
			case errors.Is(err, vectordb.ErrNotFound):
				s.writeError(w, http.StatusNotFound, "collection not found")
			case errors.Is(err, vectordb.ErrIDNotFound):
				s.writeError(w, http.StatusNotFound, "id not found")
			default:
				s.writeError(w, http.StatusInternalServerError, err.Error())
			}
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type metadataStringRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	K     int    `json:"k,omitempty"`
}

func (s *Server) handleMetadataQuery(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req metadataStringRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	k := req.K
	if k <= 0 {
		k = s.config.DefaultMetadataK
	}

	results, err := s.db.GetMetadataString(name, req.Key, req.Value, k)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "collection not found")
		return
	}
	s.writeJSON(w, http.StatusOK, embeddingResponses(results))
}

type metadataNumberRequest struct {
	Key      string  `json:"key"`
	Value    float32 `json:"value"`
	Equality string  `json:"equality"`
	K        int     `json:"k,omitempty"`
}

func (s *Server) handleMetadataQueryNumber(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req metadataNumberRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	op, err := collection.ParseEquality(req.Equality)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid equality operator")
		return
	}
	k := req.K
	if k <= 0 {
		k = s.config.DefaultMetadataK
	}

	results, err := s.db.GetMetadataNumber(name, req.Key, req.Value, op, k)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "collection not found")
		return
	}
	s.writeJSON(w, http.StatusOK, embeddingResponses(results))
}

func embeddingResponse(e collection.Embedding) embeddingPayload {
	return embeddingPayload{ID: e.ID, Vector: e.Vector, Metadata: e.Metadata}
}

func embeddingResponses(es []collection.Embedding) []embeddingPayload {
	out := make([]embeddingPayload, len(es))
	for i, e := range es {
		out[i] = embeddingResponse(e)
	}
	return out
}

type scoredResponse struct {
	Score     float32          `json:"score"`
	Embedding embeddingPayload `json:"embedding"`
}

func scoredResponses(results []collection.Scored) []scoredResponse {
	out := make([]scoredResponse, len(results))
	for i, r := range results {
		out[i] = scoredResponse{Score: r.Score, Embedding: embeddingResponse(r.Embedding)}
	}
	return out
}

// Middleware

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.EnableCORS {
			origin := r.Header.Get("Origin")
			if origin == "" {
				origin = "*"
			}
			allowed := false
			for _, o := range s.config.CORSOrigins {
				if o == "*" || o == origin {
					allowed = true
					break
				}
			}
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.log.Infof("%s %s %d %s", r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				s.log.Errorf("panic: %v\n%s", err, buf[:n])
				s.errorCount.Add(1)
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requestCount.Add(1)
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *Server) readJSON(r *http.Request, v any) error {
	body := io.LimitReader(r.Body, s.config.MaxRequestSize)
	return json.NewDecoder(body).Decode(v)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	if status >= 500 {
		s.errorCount.Add(1)
	}
	s.writeJSON(w, status, map[string]any{"error": message})
}
