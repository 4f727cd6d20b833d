// Package api exposes the HTTP interface: project submission and control,
// status reads, and the SSE stream for live subscribers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leadscout/leadscout/internal/config"
	"github.com/leadscout/leadscout/internal/hub"
	"github.com/leadscout/leadscout/internal/leads"
	"github.com/leadscout/leadscout/internal/metrics"
	"github.com/leadscout/leadscout/internal/middleware"
	"github.com/leadscout/leadscout/internal/scheduler"
	"github.com/leadscout/leadscout/internal/store"
)

// Server wires HTTP handlers to the scheduler, store, and hub.
type Server struct {
	router chi.Router
	store  leads.ResultStore
	sched  *scheduler.Scheduler
	hub    *hub.Hub
	ids    leads.IDGenerator
	clock  leads.Clock
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	resultStore leads.ResultStore,
	sched *scheduler.Scheduler,
	h *hub.Hub,
	ids leads.IDGenerator,
	clock leads.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:  resultStore,
		sched:  sched,
		hub:    h,
		ids:    ids,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(middleware.Metrics)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(cfg.Server.RequestTimeout()))
			r.Post("/projects", s.createProject)
			r.Get("/projects", s.listProjects)
			r.Route("/projects/{project_id}", func(r chi.Router) {
				r.Get("/status", s.projectStatus)
				r.Post("/submit", s.resubmitProject)
				r.Post("/cancel", s.cancelProject)
				r.Post("/pause", s.pauseProject)
				r.Post("/resume", s.resumeProject)
			})
		})
		// The stream endpoint holds its connection open; the timeout handler
		// would buffer and kill it.
		r.Get("/stream", s.stream)
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

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// A store round trip proves the dependency chain is up.
	if _, err := s.store.ListProjects(r.Context(), "readyz-probe"); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type createProjectRequest struct {
	VendorID         string `json:"vendor_id"`
	ProjectName      string `json:"project_name"`
	City             string `json:"city"`
	BusinessCategory string `json:"business_category"`
	Priority         int    `json:"priority"`
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.VendorID == "" || req.City == "" || req.BusinessCategory == "" {
		s.writeError(w, http.StatusBadRequest, "vendor_id, city, and business_category are required")
		return
	}

	projectID, err := s.ids.NewID()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "generate project id")
		return
	}
	now := s.clock.Now()
	p := leads.Project{
		ProjectID:        projectID,
		VendorID:         req.VendorID,
		ProjectName:      req.ProjectName,
		City:             req.City,
		BusinessCategory: req.BusinessCategory,
		Status:           leads.StatusQueued,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.CreateProject(r.Context(), p); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("create project: %v", err))
		return
	}

	job, err := s.sched.Submit(projectID, req.Priority)
	if err != nil {
		if errors.Is(err, scheduler.ErrShuttingDown) {
			s.writeError(w, http.StatusServiceUnavailable, "scheduler shutting down")
			return
		}
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("submit project: %v", err))
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"project_id": projectID,
		"job_id":     job.ID,
	})
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	vendorID := r.URL.Query().Get("vendor_id")
	if vendorID == "" {
		s.writeError(w, http.StatusBadRequest, "vendor_id is required")
		return
	}
	projects, err := s.store.ListProjects(r.Context(), vendorID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "list projects failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (s *Server) projectStatus(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	p, err := s.store.GetProject(r.Context(), projectID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	count, err := s.store.CountProjectRecords(r.Context(), projectID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "count records failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"project":           p,
		"records_persisted": count,
	})
}

// resubmitProject starts a fresh run for a project in a terminal state.
func (s *Server) resubmitProject(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	p, err := s.store.GetProject(r.Context(), projectID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	// A non-terminal project with no active run and no waiting jobs was
	// abandoned by a shutdown or crash; resubmission is its recovery path.
	if !p.Status.Terminal() && s.sched.Pending(p.ProjectID) {
		s.writeError(w, http.StatusConflict, "project already has a pending or active run")
		return
	}
	if err := s.store.SetCancelRequested(r.Context(), projectID, false); err != nil {
		s.writeStoreError(w, err)
		return
	}
	if err := s.store.SetPauseRequested(r.Context(), projectID, false); err != nil {
		s.writeStoreError(w, err)
		return
	}

	var priority int
	if r.Body != nil {
		var req struct {
			Priority int `json:"priority"`
		}
		// An empty body means default priority.
		_ = json.NewDecoder(r.Body).Decode(&req)
		priority = req.Priority
	}
	job, err := s.sched.Submit(projectID, priority)
	if err != nil {
		if errors.Is(err, scheduler.ErrShuttingDown) {
			s.writeError(w, http.StatusServiceUnavailable, "scheduler shutting down")
			return
		}
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("submit project: %v", err))
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

func (s *Server) cancelProject(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	if _, err := s.store.GetProject(r.Context(), projectID); err != nil {
		s.writeStoreError(w, err)
		return
	}
	if err := s.sched.Cancel(r.Context(), projectID); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("cancel: %v", err))
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"project_id": projectID,
		"status":     "cancel-requested",
	})
}

func (s *Server) pauseProject(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	if err := s.sched.Pause(r.Context(), projectID); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"project_id": projectID,
		"status":     "pause-requested",
	})
}

func (s *Server) resumeProject(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	if err := s.sched.Resume(r.Context(), projectID); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"project_id": projectID,
		"status":     "resumed",
	})
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind, err := parseKind(q.Get("kind"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	vendorID := q.Get("vendor_id")
	category := q.Get("category")
	if vendorID == "" || category == "" {
		s.writeError(w, http.StatusBadRequest, "vendor_id and category are required")
		return
	}

	sub, err := s.hub.Subscribe(r.Context(), kind, vendorID, category)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "subscribe failed")
		return
	}
	defer s.hub.Unsubscribe(sub)
	s.hub.ServeSSE(w, r, sub)
}

func parseKind(raw string) (leads.Kind, error) {
	switch raw {
	case "", string(leads.KindLead):
		return leads.KindLead, nil
	case string(leads.KindJob):
		return leads.KindJob, nil
	case string(leads.KindNews):
		return leads.KindNews, nil
	case string(leads.KindProperty):
		return leads.KindProperty, nil
	default:
		return "", fmt.Errorf("unknown kind %q", raw)
	}
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "project not found")
		return
	}
	s.writeError(w, http.StatusInternalServerError, err.Error())
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
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
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
	if d <= 0 {
		d = 60 * time.Second
	}
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
