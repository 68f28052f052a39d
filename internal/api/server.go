package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/mangalib-parser/internal/manga"
	"github.com/JakeFAU/mangalib-parser/internal/metrics"
)

const (
	defaultEnqueueTimeout = 5 * time.Second
	maxBodyBytes          = 1 << 20

	msgAccepted    = "Manga was sent successfully"
	msgInvalidBody = "Invalid request body"
	msgUnavailable = "Service is busy, try again later"
)

// Enqueuer accepts jobs for asynchronous processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, item manga.QueueItem) error
}

// Config controls Server behavior.
type Config struct {
	EnqueueTimeout time.Duration
}

// Server wires HTTP handlers to the ingress queue.
type Server struct {
	router   chi.Router
	enqueuer Enqueuer
	clock    manga.Clock
	cfg      Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(enqueuer Enqueuer, clock manga.Clock, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = defaultEnqueueTimeout
	}
	s := &Server{
		enqueuer: enqueuer,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Post("/scrap-manga", s.scrapManga)
	r.Post("/scrap-manga/", s.scrapManga)

	r.NotFound(s.routeNotFound)
	r.MethodNotAllowed(s.routeNotFound)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) scrapManga(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.With(zap.String("request_id", requestID(r.Context())))

	req, err := decodeJobRequest(r.Body)
	if err != nil {
		logger.Warn("rejecting job request", zap.Error(err))
		writeResult(w, logger, http.StatusBadRequest, false, msgInvalidBody)
		return
	}

	item := manga.QueueItem{
		RequestID: requestID(r.Context()),
		Request:   req,
		Submitted: s.now(),
	}
	// The job outlives the request; only the enqueue is bounded by it.
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.EnqueueTimeout)
	defer cancel()
	if err := s.enqueuer.Enqueue(ctx, item); err != nil {
		logger.Error("enqueue job failed", zap.String("slug", req.Slug), zap.Error(err))
		writeResult(w, logger, http.StatusServiceUnavailable, false, msgUnavailable)
		return
	}

	logger.Info("job accepted", zap.String("slug", req.Slug), zap.String("callback_url", req.CallbackURL))
	writeResult(w, logger, http.StatusOK, true, msgAccepted)
}

func (s *Server) routeNotFound(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.logger, http.StatusNotFound, false, fmt.Sprintf("Route %s not found", r.URL.Path))
}

func (s *Server) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now()
}

func decodeJobRequest(body io.Reader) (manga.JobRequest, error) {
	raw, err := io.ReadAll(io.LimitReader(body, maxBodyBytes))
	if err != nil {
		return manga.JobRequest{}, fmt.Errorf("read body: %w", err)
	}
	return manga.DecodeJobRequest(raw)
}

type resultResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeResult(w http.ResponseWriter, logger *zap.Logger, status int, success bool, msg string) {
	writeJSON(w, logger, status, resultResponse{Success: success, Message: msg})
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Int("status", status), zap.Error(err))
	}
}
