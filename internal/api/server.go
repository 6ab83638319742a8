package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crashlens/leadcrawler/internal/config"
	"github.com/crashlens/leadcrawler/internal/dispatcher"
	"github.com/crashlens/leadcrawler/internal/leads"
	"github.com/crashlens/leadcrawler/internal/metrics"
)

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router        chi.Router
	taskStore     leads.TaskStore
	businessStore leads.Store
	dispatcher    *dispatcher.Dispatcher
	idGen         leads.IDGenerator
	clock         leads.Clock
	cfg           config.Config
	logger        *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	taskStore leads.TaskStore,
	businessStore leads.Store,
	dispatcher *dispatcher.Dispatcher,
	idGen leads.IDGenerator,
	clock leads.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		taskStore:     taskStore,
		businessStore: businessStore,
		dispatcher:    dispatcher,
		idGen:         idGen,
		clock:         clock,
		cfg:           cfg,
		logger:        logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	r.Use(metrics.Middleware)
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/crawls", func(r chi.Router) {
			r.Post("/", s.submitCrawl)
			r.Get("/{task_id}", s.getCrawl)
		})
		r.Get("/businesses", s.listBusinesses)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type crawlRequestBody struct {
	Query      string `json:"query"`
	Location   string `json:"location"`
	MaxResults *int   `json:"max_results"`
	Headless   *bool  `json:"headless"`
}

func (s *Server) submitCrawl(w http.ResponseWriter, r *http.Request) {
	var body crawlRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req, err := s.toCrawlRequest(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	taskID, err := s.enqueueTask(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, leads.ErrQueueFull) {
			status = http.StatusServiceUnavailable
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"task_id": taskID,
		"status":  string(leads.TaskStatusPending),
	})
}

func (s *Server) getCrawl(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	task, err := s.taskStore.GetTask(r.Context(), taskID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

func (s *Server) listBusinesses(w http.ResponseWriter, r *http.Request) {
	limit := intQueryParam(r, "limit", 50)
	if limit <= 0 || limit > 500 {
		s.writeError(w, http.StatusBadRequest, "limit must be in 1..500")
		return
	}
	offset := intQueryParam(r, "offset", 0)
	if offset < 0 {
		s.writeError(w, http.StatusBadRequest, "offset must be >= 0")
		return
	}

	records, err := s.businessStore.List(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list businesses failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list businesses")
		return
	}

	if strings.EqualFold(r.URL.Query().Get("complete"), "true") {
		filtered := records[:0]
		for _, rec := range records {
			if rec.IsComplete() {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}
	if records == nil {
		records = []leads.BusinessRecord{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"businesses": records,
		"limit":      limit,
		"offset":     offset,
	})
}

func (s *Server) toCrawlRequest(body crawlRequestBody) (leads.CrawlRequest, error) {
	query := strings.TrimSpace(body.Query)
	if query == "" {
		return leads.CrawlRequest{}, errors.New("query is required")
	}

	maxResults := s.cfg.Crawler.MaxResultsDefault
	if body.MaxResults != nil {
		maxResults = *body.MaxResults
	}
	if maxResults < 1 || maxResults > s.cfg.Crawler.MaxResultsCap {
		return leads.CrawlRequest{}, fmt.Errorf("max_results must be in 1..%d", s.cfg.Crawler.MaxResultsCap)
	}

	headless := s.cfg.Browser.Headless
	if body.Headless != nil {
		headless = *body.Headless
	}

	return leads.CrawlRequest{
		Query:      query,
		Location:   strings.TrimSpace(body.Location),
		MaxResults: maxResults,
		Headless:   headless,
	}, nil
}

func (s *Server) enqueueTask(ctx context.Context, req leads.CrawlRequest) (string, error) {
	taskID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate task id: %w", err)
	}
	now := s.clock.Now()
	task := leads.Task{
		ID:        taskID,
		Status:    leads.TaskStatusPending,
		Submitted: now,
		Request:   req,
	}
	if err := s.taskStore.CreateTask(ctx, task); err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	item := leads.TaskItem{
		TaskID:    taskID,
		Request:   req,
		Submitted: now.Unix(),
	}
	if err := s.dispatcher.TryEnqueue(item); err != nil {
		return "", fmt.Errorf("enqueue task: %w", err)
	}
	return taskID, nil
}

func intQueryParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return value
}

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

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeErrorWith(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
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

func writeErrorWith(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
