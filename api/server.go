package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"powermon/services"
)

// Server exposes the HTTP heartbeat ingress. Probes poll it with a GET so
// even the most constrained firmware can report in.
type Server struct {
	httpServer *http.Server
	ingester   *services.HeartbeatIngester
	logger     *zap.Logger
}

func NewServer(addr string, ingester *services.HeartbeatIngester, logger *zap.Logger) *Server {
	s := &Server{
		ingester: ingester,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/api/heartbeat", s.handleHeartbeat)
	r.Get("/api/heartbeat/", s.handleHeartbeat)
	r.Get("/healthz", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Start blocks serving requests until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// handleHeartbeat accepts a probe heartbeat. The API key comes from the
// api_key query parameter or the X-API-Key header.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	apiKey := r.URL.Query().Get("api_key")
	if apiKey == "" {
		apiKey = r.Header.Get("X-API-Key")
	}
	if apiKey == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_api_key"})
		return
	}

	receivedAt := time.Now()
	result, err := s.ingester.Ingest(r.Context(), apiKey, receivedAt)
	if err != nil {
		s.logger.Error("Heartbeat ingest failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}

	switch result {
	case services.IngestUnauthorized:
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_api_key"})
	case services.IngestDuplicate:
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "duplicate_ignored",
			"received_at": receivedAt.UTC().Format(time.RFC3339),
		})
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"received_at": receivedAt.UTC().Format(time.RFC3339),
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
