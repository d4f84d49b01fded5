// Package api exposes the read-only operational HTTP interface of the
// pipeline: health probes, Prometheus metrics, and batch progress lookups.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/draftpress/articlegen/internal/batch"
	"github.com/draftpress/articlegen/internal/cache"
)

// Server wires HTTP handlers to the batch tracker and cache.
type Server struct {
	router  chi.Router
	tracker *batch.Tracker
	cache   *cache.Store
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(tracker *batch.Tracker, cacheStore *cache.Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{tracker: tracker, cache: cacheStore, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/batches/{batch_id}", func(r chi.Router) {
			r.Get("/stats", s.getBatchStats)
			r.Get("/pending", s.getBatchPending)
		})
		r.Get("/cache/stats", s.getCacheStats)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getBatchStats(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batch_id")
	stats, err := s.tracker.Stats(r.Context(), batchID)
	if err != nil {
		if errors.Is(err, batch.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "batch not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to load batch stats")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"batch_id": batchID, "stats": stats})
}

func (s *Server) getBatchPending(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batch_id")
	pending, err := s.tracker.PendingArticles(r.Context(), batchID)
	if err != nil {
		if errors.Is(err, batch.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "batch not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to load pending records")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"batch_id": batchID, "pending": pending})
}

func (s *Server) getCacheStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cache.Stats(r.Context()))
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
