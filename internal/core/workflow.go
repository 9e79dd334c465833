package core

import (
	"fmt"
	"time"
)

// WorkflowID uniquely identifies a workflow run.
type WorkflowID string

// WorkflowConfig is the immutable input of one workflow run.
type WorkflowConfig struct {
	PerformDryRun bool `json:"perform_dry_run" yaml:"perform_dry_run"`
	SkipComposer  bool `json:"skip_composer" yaml:"skip_composer"`
	WithDeletes   bool `json:"with_deletes" yaml:"with_deletes"`
}

// PendingMigration holds the check result awaiting user confirmation.
type PendingMigration struct {
	Hash        string    `json:"hash"`
	Cycle       int       `json:"cycle"`
	Migration   Migration `json:"migration"`
	WithDeletes bool      `json:"with_deletes"`
}

// WorkflowState is the full snapshot of an update run. The engine owns it;
// everybody else receives clones.
type WorkflowState struct {
	ID               WorkflowID        `json:"id"`
	CurrentStep      int               `json:"current_step"`
	Steps            []Step            `json:"steps"`
	IsRunning        bool              `json:"is_running"`
	IsPaused         bool              `json:"is_paused"`
	Config           WorkflowConfig    `json:"config"`
	StartTime        *time.Time        `json:"start_time,omitempty"`
	EndTime          *time.Time        `json:"end_time,omitempty"`
	Error            string            `json:"error,omitempty"`
	MigrationCycle   int               `json:"migration_cycle"`
	PendingMigration *PendingMigration `json:"pending_migration,omitempty"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Clone returns a deep copy of the state.
func (s *WorkflowState) Clone() *WorkflowState {
	if s == nil {
		return nil
	}
	out := *s
	out.StartTime = cloneTime(s.StartTime)
	out.EndTime = cloneTime(s.EndTime)
	if s.Steps != nil {
		out.Steps = make([]Step, len(s.Steps))
		for i := range s.Steps {
			out.Steps[i] = s.Steps[i].Clone()
		}
	}
	if s.PendingMigration != nil {
		pm := *s.PendingMigration
		pm.Migration = pm.Migration.Clone()
		out.PendingMigration = &pm
	}
	return &out
}

// Step returns a pointer to the step with the given id, or nil.
func (s *WorkflowState) Step(id string) *Step {
	for i := range s.Steps {
		if s.Steps[i].ID == id {
			return &s.Steps[i]
		}
	}
	return nil
}

// Current returns the step under the cursor, or nil past the end.
func (s *WorkflowState) Current() *Step {
	if s.CurrentStep < 0 || s.CurrentStep >= len(s.Steps) {
		return nil
	}
	return &s.Steps[s.CurrentStep]
}

// IsComplete reports whether every step has been passed.
func (s *WorkflowState) IsComplete() bool {
	return len(s.Steps) > 0 && s.CurrentStep >= len(s.Steps) && !s.IsRunning
}

// Counts tallies steps per status.
func (s *WorkflowState) Counts() map[StepStatus]int {
	counts := make(map[StepStatus]int)
	for _, st := range s.Steps {
		counts[st.Status]++
	}
	return counts
}

// Validate checks the structural invariants of a snapshot:
// one active step iff running, terminal steps behind the cursor and
// pending steps ahead of it.
func (s *WorkflowState) Validate() error {
	if s.CurrentStep < 0 || s.CurrentStep > len(s.Steps) {
		return ErrState(CodeInvalidState, fmt.Sprintf("cursor %d out of range [0,%d]", s.CurrentStep, len(s.Steps)))
	}
	seen := make(map[string]bool, len(s.Steps))
	active := 0
	for i, st := range s.Steps {
		if seen[st.ID] {
			return ErrState(CodeInvalidState, fmt.Sprintf("duplicate step id %q", st.ID))
		}
		seen[st.ID] = true
		if st.Status == StepActive {
			active++
		}
		switch {
		case i < s.CurrentStep && !st.Status.IsTerminal():
			return ErrState(CodeInvalidState, fmt.Sprintf("step %q before cursor is %s", st.ID, st.Status))
		case i > s.CurrentStep && st.Status != StepPending:
			return ErrState(CodeInvalidState, fmt.Sprintf("step %q after cursor is %s", st.ID, st.Status))
		}
	}
	if s.IsRunning && active != 1 {
		return ErrState(CodeInvalidState, fmt.Sprintf("running workflow has %d active steps", active))
	}
	if !s.IsRunning && active != 0 {
		return ErrState(CodeInvalidState, fmt.Sprintf("idle workflow has %d active steps", active))
	}
	return nil
}

// WorkflowSummary is a lightweight listing entry for stored runs.
type WorkflowSummary struct {
	ID          WorkflowID `json:"id"`
	CurrentStep int        `json:"current_step"`
	TotalSteps  int        `json:"total_steps"`
	IsRunning   bool       `json:"is_running"`
	IsPaused    bool       `json:"is_paused"`
	Error       string     `json:"error,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Summarize builds the listing entry for a snapshot.
func (s *WorkflowState) Summarize() WorkflowSummary {
	return WorkflowSummary{
		ID:          s.ID,
		CurrentStep: s.CurrentStep,
		TotalSteps:  len(s.Steps),
		IsRunning:   s.IsRunning,
		IsPaused:    s.IsPaused,
		Error:       s.Error,
		UpdatedAt:   s.UpdatedAt,
	}
}
