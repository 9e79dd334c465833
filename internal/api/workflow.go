package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hugo-lorenzo-mato/upgrader/internal/core"
)

// InitializeRequest overrides the server defaults for a new run. Omitted
// fields keep the default.
type InitializeRequest struct {
	PerformDryRun *bool `json:"perform_dry_run,omitempty"`
	SkipComposer  *bool `json:"skip_composer,omitempty"`
	WithDeletes   *bool `json:"with_deletes,omitempty"`
}

// Apply merges the request into cfg.
func (r InitializeRequest) Apply(cfg core.WorkflowConfig) core.WorkflowConfig {
	if r.PerformDryRun != nil {
		cfg.PerformDryRun = *r.PerformDryRun
	}
	if r.SkipComposer != nil {
		cfg.SkipComposer = *r.SkipComposer
	}
	if r.WithDeletes != nil {
		cfg.WithDeletes = *r.WithDeletes
	}
	return cfg
}

// ConfirmMigrationsRequest is the optional body of a migration confirmation.
type ConfirmMigrationsRequest struct {
	WithDeletes *bool `json:"with_deletes,omitempty"`
}

// decodeOptionalJSON decodes a body that may be empty.
func decodeOptionalJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return core.ErrValidation("INVALID_BODY", "invalid request body: "+err.Error())
	}
	return nil
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, _ *http.Request) {
	state := s.engine.GetState()
	if state == nil {
		s.respondError(w, http.StatusNotFound, "no workflow initialized")
		return
	}
	s.respondJSON(w, http.StatusOK, state)
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req InitializeRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	if err := s.engine.Initialize(req.Apply(s.defaults)); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, s.engine.GetState())
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.engine.Stop()
	s.respondJSON(w, http.StatusOK, s.engine.GetState())
}

func (s *Server) handleConfirmMigrations(w http.ResponseWriter, r *http.Request) {
	var req ConfirmMigrationsRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.accepted(w, r, s.engine.ConfirmMigrations(req.WithDeletes))
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.accepted(w, r, s.engine.Start())
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.accepted(w, r, s.engine.Resume())
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	s.accepted(w, r, s.engine.RetryStep())
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	s.accepted(w, r, s.engine.SkipStep())
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.accepted(w, r, s.engine.CancelWorkflow())
}

func (s *Server) handleSkipMigrations(w http.ResponseWriter, r *http.Request) {
	s.accepted(w, r, s.engine.SkipMigrations())
}

func (s *Server) handleContinueUpdate(w http.ResponseWriter, r *http.Request) {
	s.accepted(w, r, s.engine.ContinueUpdate())
}

func (s *Server) handleSkipComposerUpdate(w http.ResponseWriter, r *http.Request) {
	s.accepted(w, r, s.engine.SkipComposerUpdate())
}

func (s *Server) handleClearPendingTasks(w http.ResponseWriter, r *http.Request) {
	s.accepted(w, r, s.engine.ClearPendingTasks(r.Context()))
}

func (s *Server) handleResolveAction(w http.ResponseWriter, r *http.Request) {
	actionID := chi.URLParam(r, "actionID")
	s.accepted(w, r, s.engine.ResolveAction(r.Context(), actionID))
}

// accepted answers an operation that hands work to the engine. The snapshot
// is the state right after the operation; progress follows on /events.
func (s *Server) accepted(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, s.engine.GetState())
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.respondError(w, http.StatusServiceUnavailable, "state store not configured")
		return
	}
	list, err := s.store.List(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if list == nil {
		list = []core.WorkflowSummary{}
	}
	s.respondJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetStoredWorkflow(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.respondError(w, http.StatusServiceUnavailable, "state store not configured")
		return
	}
	id := core.WorkflowID(chi.URLParam(r, "workflowID"))
	state, err := s.store.LoadByID(r.Context(), id)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if state == nil {
		s.respondErr(w, r, core.ErrNotFound("workflow", string(id)))
		return
	}
	s.respondJSON(w, http.StatusOK, state)
}
