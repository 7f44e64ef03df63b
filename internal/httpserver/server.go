// Package httpserver exposes the decision engine and the workflow
// orchestrator over HTTP.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/ILLUVRSE/saferemediate/internal/auth"
	"github.com/ILLUVRSE/saferemediate/internal/config"
	"github.com/ILLUVRSE/saferemediate/internal/decision"
	"github.com/ILLUVRSE/saferemediate/internal/history"
	"github.com/ILLUVRSE/saferemediate/internal/models"
	"github.com/ILLUVRSE/saferemediate/internal/orchestrator"
	"github.com/ILLUVRSE/saferemediate/internal/store"
)

type Server struct {
	cfg      config.Config
	engine   *decision.Engine
	orch     *orchestrator.Orchestrator
	store    store.Store
	tracker  history.Tracker
	verifier *auth.Verifier
}

func New(cfg config.Config, engine *decision.Engine, orch *orchestrator.Orchestrator, st store.Store, tracker history.Tracker, verifier *auth.Verifier) *Server {
	return &Server{cfg: cfg, engine: engine, orch: orch, store: st, tracker: tracker, verifier: verifier}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/evaluate", s.handleEvaluate)
		r.Get("/workflows", s.handleListWorkflows)
		r.Get("/workflows/{id}", s.handleGetWorkflow)
		r.Get("/approvals/pending", s.handlePendingApprovals)

		r.Group(func(r chi.Router) {
			if s.verifier != nil {
				r.Use(s.verifier.Middleware)
			}
			r.Post("/workflows", s.handleCreateWorkflow)
			r.Post("/workflows/{id}/approve", s.handleApprove)
			r.Post("/workflows/{id}/reject", s.handleReject)
			r.Post("/workflows/{id}/start", s.handleStartCanary)
			r.Post("/workflows/{id}/advance", s.handleAdvanceCanary)
			r.Post("/workflows/{id}/rollback", s.handleRollback)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]interface{}{
		"ok":   true,
		"time": time.Now().UTC(),
	}
	if err := s.store.Ping(ctx); err != nil {
		status["ok"] = false
		status["db"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.engine.Evaluate(s.inputsFrom(r.Context(), req)))
}

// inputsFrom applies the documented per-field defaults and, when the caller
// omits the historical context entirely, pulls it from the outcome tracker.
func (s *Server) inputsFrom(ctx context.Context, req evaluateRequest) decision.Inputs {
	in := decision.Inputs{
		Simulation:  req.Simulation.toModel(),
		Usage:       req.Usage.toModel(),
		Dependency:  req.Dependencies.toModel(),
		Environment: req.Environment.toModel(),
		Policy:      req.Policy.toModel(),
	}
	if req.Historical != nil {
		in.Historical = req.Historical.toModel()
	} else if s.tracker != nil {
		metrics, err := s.tracker.Metrics(ctx, req.ResourceType, 90)
		if err != nil {
			log.Printf("[httpserver] historical metrics lookup failed: %v", err)
		} else {
			in.Historical = metrics
		}
	}
	return in
}

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req createWorkflowRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.FindingID == "" || req.ResourceID == "" {
		respondError(w, http.StatusBadRequest, "findingId and resourceId required")
		return
	}

	dec := req.Decision
	if dec == nil {
		req.evaluateRequest.ResourceType = req.ResourceType
		d := s.engine.Evaluate(s.inputsFrom(r.Context(), req.evaluateRequest))
		dec = &d
	}

	requestedBy := req.RequestedBy
	if requestedBy == "" {
		if p := auth.FromContext(r.Context()); p != nil {
			requestedBy = p.Subject
		}
	}

	workflow, err := s.orch.Create(r.Context(), orchestrator.CreateRequest{
		FindingID:    req.FindingID,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		Decision:     *dec,
		RequestedBy:  requestedBy,
		ScheduledFor: req.ScheduledFor,
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, workflow)
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	workflow, err := s.orch.Get(r.Context(), id)
	if err != nil {
		respondOpError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, workflow)
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	var (
		workflows []models.Workflow
		err       error
	)
	if status := r.URL.Query().Get("status"); status != "" {
		workflows, err = s.orch.ListByStatus(r.Context(), models.WorkflowStatus(status))
	} else {
		workflows, err = s.orch.ListActive(r.Context())
	}
	if err != nil {
		respondOpError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, workflows)
}

func (s *Server) handlePendingApprovals(w http.ResponseWriter, r *http.Request) {
	approvals, err := s.orch.ListPendingApprovals(r.Context())
	if err != nil {
		respondOpError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, approvals)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req reviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	reviewer := req.ReviewedBy
	if reviewer == "" {
		if p := auth.FromContext(r.Context()); p != nil {
			reviewer = p.Subject
		}
	}
	if reviewer == "" {
		respondError(w, http.StatusBadRequest, "reviewedBy required")
		return
	}
	workflow, err := s.orch.Approve(r.Context(), id, reviewer, req.Comment)
	if err != nil {
		respondOpError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, workflow)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req reviewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	reviewer := req.ReviewedBy
	if reviewer == "" {
		if p := auth.FromContext(r.Context()); p != nil {
			reviewer = p.Subject
		}
	}
	if reviewer == "" {
		respondError(w, http.StatusBadRequest, "reviewedBy required")
		return
	}
	workflow, err := s.orch.Reject(r.Context(), id, reviewer, req.Comment)
	if err != nil {
		respondOpError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, workflow)
}

func (s *Server) handleStartCanary(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	workflow, err := s.orch.StartCanary(r.Context(), id)
	if err != nil {
		respondOpError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, workflow)
}

func (s *Server) handleAdvanceCanary(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	workflow, err := s.orch.AdvanceCanary(r.Context(), id)
	if err != nil {
		respondOpError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, workflow)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req rollbackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	workflow, err := s.orch.Rollback(r.Context(), id, req.Reason)
	if err != nil {
		respondOpError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, workflow)
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid workflow id")
		return uuid.Nil, false
	}
	return id, true
}

func respondOpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, orchestrator.ErrConflict):
		respondError(w, http.StatusConflict, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeJSON tolerates an empty body; every request struct has workable
// defaults for the fields it leaves unset.
func decodeJSON(_ http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
