package testutil

import (
	"time"

	"github.com/hugo-lorenzo-mato/upgrader/internal/core"
)

// NewTestState creates a WorkflowState with sensible defaults for tests: a
// short timeline with every step pending. Use functional options to override
// specific fields.
func NewTestState(opts ...func(*core.WorkflowState)) *core.WorkflowState {
	s := &core.WorkflowState{
		ID: "wf-test",
		Steps: []core.Step{
			{ID: "check-tasks", Kind: core.KindCheckTasks, Title: "Check pending tasks", Status: core.StepPending},
			{ID: "check-migrations", Kind: core.KindCheckMigrations, Title: "Check database migrations", Status: core.StepPending},
			{ID: "execute-migrations", Kind: core.KindExecuteMigrations, Title: "Execute database migrations", Status: core.StepPending, Conditional: true},
			{ID: "update-versions", Kind: core.KindUpdateVersions, Title: "Update version information", Status: core.StepPending},
		},
		UpdatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithID overrides the workflow id.
func WithID(id string) func(*core.WorkflowState) {
	return func(s *core.WorkflowState) { s.ID = core.WorkflowID(id) }
}

// WithCursor marks every step before idx complete and moves the cursor there.
func WithCursor(idx int) func(*core.WorkflowState) {
	return func(s *core.WorkflowState) {
		for i := 0; i < idx && i < len(s.Steps); i++ {
			s.Steps[i].Status = core.StepComplete
		}
		s.CurrentStep = idx
	}
}

// WithUpdatedAt overrides the update timestamp.
func WithUpdatedAt(t time.Time) func(*core.WorkflowState) {
	return func(s *core.WorkflowState) { s.UpdatedAt = t }
}
