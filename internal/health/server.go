/**
 * Health and Stats HTTP Server
 *
 * Small operational surface of the worker:
 *   GET /healthz                 storage connectivity
 *   GET /stats                   queue and storage statistics
 *   GET /analyses/{documentID}   stored outcome of one document
 *   GET /analyses/{documentID}/similar?limit=N
 *                                documents with a similar vocabulary
 */

package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/adverant/nexus/docanalysis-worker/internal/logging"
	"github.com/adverant/nexus/docanalysis-worker/internal/storage"
)

const (
	checkTimeout        = 5 * time.Second
	shutdownTimeout     = 10 * time.Second
	defaultSimilarLimit = 5
	maxSimilarLimit     = 50
)

// Store is what the server needs from storage
type Store interface {
	Ping(ctx context.Context) error
	GetStats(ctx context.Context) (map[string]interface{}, error)
	GetAnalysis(ctx context.Context, documentID string) (*storage.StoredAnalysis, error)
	SearchSimilarDocuments(ctx context.Context, frequencies map[string]int, limit int) ([]*storage.SimilarDocument, error)
}

// QueueStats reports queue counters
type QueueStats interface {
	GetStats(ctx context.Context) (map[string]int64, error)
}

// Server serves the health endpoints
type Server struct {
	router  *chi.Mux
	server  *http.Server
	store   Store
	queue   QueueStats
	started time.Time
	logger  *logging.Logger
}

// NewServer creates a server listening on addr
func NewServer(addr string, store Store, queue QueueStats) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		store:   store,
		queue:   queue,
		started: time.Now(),
		logger:  logging.NewLogger("HealthServer"),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(middleware.Recoverer)

	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/stats", s.handleStats)
	s.router.Get("/analyses/{documentID}", s.handleGetAnalysis)
	s.router.Get("/analyses/{documentID}/similar", s.handleSimilar)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Handler exposes the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves in the background. Listen errors other than a clean
// shutdown are logged.
func (s *Server) Start() {
	go func() {
		s.logger.Info("Health server listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Health server failed", "error", err)
		}
	}()
}

// Shutdown gives in-flight requests a deadline, then closes
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("Graceful shutdown failed", "error", err)
		return s.server.Close()
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	body := map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	}

	if err := s.store.Ping(ctx); err != nil {
		body["status"] = "unavailable"
		body["error"] = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}

	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	body := map[string]interface{}{}

	if s.queue != nil {
		queueStats, err := s.queue.GetStats(ctx)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		body["queue"] = queueStats
	}

	storageStats, err := s.store.GetStats(ctx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	body["storage"] = storageStats

	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "documentID")

	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	stored, err := s.store.GetAnalysis(ctx, documentID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, analysisResponse(stored))
}

// handleSimilar searches with the stored word frequencies of a completed
// analysis. The document itself is left out of the hits.
func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "documentID")

	limit := defaultSimilarLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxSimilarLimit {
			writeError(w, http.StatusBadRequest, fmt.Errorf("limit must be between 1 and %d", maxSimilarLimit))
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	stored, err := s.store.GetAnalysis(ctx, documentID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if stored.Result == nil || stored.Result.TextAnalysis == nil {
		writeError(w, http.StatusConflict, fmt.Errorf("analysis %s has no text statistics", documentID))
		return
	}

	// one extra hit since the document matches itself
	hits, err := s.store.SearchSimilarDocuments(ctx, stored.Result.TextAnalysis.WordFrequencies, limit+1)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	similar := make([]*storage.SimilarDocument, 0, limit)
	for _, hit := range hits {
		if hit.DocumentID == documentID || len(similar) == limit {
			continue
		}
		similar = append(similar, hit)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"document_id": documentID,
		"similar":     similar,
	})
}

func analysisResponse(a *storage.StoredAnalysis) map[string]interface{} {
	body := map[string]interface{}{
		"document_id":               a.DocumentID,
		"filename":                  a.Filename,
		"status":                    a.Status,
		"classification_confidence": a.ClassificationConfidence,
		"processing_time_ms":        a.ProcessingTimeMs,
		"updated_at":                a.UpdatedAt,
	}

	if a.Status == storage.AnalysisStatusRejected {
		body["category"] = a.Category
		body["rejection_reason"] = a.RejectionReason
		return body
	}

	body["total_words"] = a.TotalWords
	body["unique_words"] = a.UniqueWords
	body["paragraph_count"] = a.ParagraphCount
	body["is_compliant"] = a.IsCompliant
	if a.Result != nil {
		body["result"] = a.Result
	}
	return body
}

func requestLogger(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Debug("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
