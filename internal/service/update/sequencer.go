package update

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hugo-lorenzo-mato/upgrader/internal/core"
)

// StepPatch is a partial update of a step. Nil fields are left untouched.
type StepPatch struct {
	Status      *core.StepStatus
	Data        *json.RawMessage
	Error       *string
	StartTime   *time.Time
	EndTime     *time.Time
	UserActions *[]core.UserAction

	// ClearEndTime drops a previous end time (re-entering a step).
	ClearEndTime bool

	// AppendHistory is added to the step's migration history.
	AppendHistory []core.MigrationExecutionHistory
}

// Sequencer owns the ordered step list of a workflow snapshot and the cursor
// into it. It edits the state in place; callers hold the engine lock.
type Sequencer struct {
	state *core.WorkflowState
	clock func() time.Time
}

// NewSequencer wraps a state snapshot.
func NewSequencer(state *core.WorkflowState, clock func() time.Time) *Sequencer {
	if clock == nil {
		clock = time.Now
	}
	return &Sequencer{state: state, clock: clock}
}

// Len returns the number of steps.
func (s *Sequencer) Len() int {
	return len(s.state.Steps)
}

// Cursor returns the index of the current step.
func (s *Sequencer) Cursor() int {
	return s.state.CurrentStep
}

// Current returns the step under the cursor, or nil once every step is passed.
func (s *Sequencer) Current() *core.Step {
	return s.state.Current()
}

// AtEnd reports whether the cursor is past the last step.
func (s *Sequencer) AtEnd() bool {
	return s.state.CurrentStep >= len(s.state.Steps)
}

// IndexOf returns the index of the step with the given id, or -1.
func (s *Sequencer) IndexOf(id string) int {
	for i := range s.state.Steps {
		if s.state.Steps[i].ID == id {
			return i
		}
	}
	return -1
}

// Get returns the step with the given id.
func (s *Sequencer) Get(id string) (*core.Step, error) {
	idx := s.IndexOf(id)
	if idx < 0 {
		return nil, core.ErrNotFound("step", id)
	}
	return &s.state.Steps[idx], nil
}

// Advance moves the cursor to the next step and returns the new index.
func (s *Sequencer) Advance() int {
	if s.state.CurrentStep < len(s.state.Steps) {
		s.state.CurrentStep++
	}
	return s.state.CurrentStep
}

// ReplaceStepAt merges patch into the step with the given id. Unrelated
// fields and the other steps are left as they are.
func (s *Sequencer) ReplaceStepAt(id string, patch StepPatch) error {
	step, err := s.Get(id)
	if err != nil {
		return err
	}
	if patch.Status != nil && *patch.Status != step.Status {
		if !core.CanTransition(step.Status, *patch.Status) {
			return core.ErrState(core.CodeInvalidTransition,
				fmt.Sprintf("step %s cannot go from %s to %s", id, step.Status, *patch.Status))
		}
		step.Status = *patch.Status
	}
	if patch.Data != nil {
		step.Data = append(json.RawMessage(nil), (*patch.Data)...)
	}
	if patch.Error != nil {
		step.Error = *patch.Error
	}
	if patch.StartTime != nil {
		t := *patch.StartTime
		step.StartTime = &t
	}
	if patch.ClearEndTime {
		step.EndTime = nil
	}
	if patch.EndTime != nil {
		t := *patch.EndTime
		step.EndTime = &t
	}
	if patch.UserActions != nil {
		step.UserActions = append([]core.UserAction(nil), (*patch.UserActions)...)
	}
	if len(patch.AppendHistory) > 0 {
		step.MigrationHistory = append(step.MigrationHistory, patch.AppendHistory...)
	}
	return nil
}

// InsertStepsAfter splices steps into the sequence right after afterID.
// Steps before the insertion point keep their identity, and the cursor keeps
// pointing at the same step.
func (s *Sequencer) InsertStepsAfter(afterID string, steps ...core.Step) error {
	idx := s.IndexOf(afterID)
	if idx < 0 {
		return core.ErrNotFound("step", afterID)
	}
	seen := make(map[string]bool, len(steps))
	for _, st := range steps {
		if s.IndexOf(st.ID) >= 0 || seen[st.ID] {
			return core.ErrState(core.CodeInvalidState, fmt.Sprintf("step %q already exists", st.ID))
		}
		seen[st.ID] = true
	}

	at := idx + 1
	tail := append([]core.Step(nil), s.state.Steps[at:]...)
	s.state.Steps = append(s.state.Steps[:at], steps...)
	for i := at; i < at+len(steps); i++ {
		if s.state.Steps[i].Status == "" {
			s.state.Steps[i].Status = core.StepPending
		}
	}
	s.state.Steps = append(s.state.Steps, tail...)

	if at <= s.state.CurrentStep {
		s.state.CurrentStep += len(steps)
	}
	return nil
}

// MarkSkipped sets a step to skipped without running it.
func (s *Sequencer) MarkSkipped(id string) error {
	step, err := s.Get(id)
	if err != nil {
		return err
	}
	if step.Status == core.StepSkipped {
		return nil
	}
	status := core.StepSkipped
	now := s.clock()
	empty := []core.UserAction{}
	return s.ReplaceStepAt(id, StepPatch{Status: &status, EndTime: &now, UserActions: &empty})
}

// ResetStep returns a step to pending, clearing the fields of the last
// attempt. Migration history is kept.
func (s *Sequencer) ResetStep(id string) error {
	step, err := s.Get(id)
	if err != nil {
		return err
	}
	step.Status = core.StepPending
	step.Data = nil
	step.Error = ""
	step.StartTime = nil
	step.EndTime = nil
	step.UserActions = nil
	return nil
}

// MoveTo moves the cursor back to an existing step at or before it.
func (s *Sequencer) MoveTo(id string) error {
	idx := s.IndexOf(id)
	if idx < 0 {
		return core.ErrNotFound("step", id)
	}
	if idx > s.state.CurrentStep {
		return core.ErrState(core.CodeInvalidState,
			fmt.Sprintf("cannot move forward to %s; use Advance", id))
	}
	s.state.CurrentStep = idx
	return nil
}

// Next returns the first step after the cursor with the given kind, or nil.
func (s *Sequencer) Next(kind core.StepKind) *core.Step {
	for i := s.state.CurrentStep + 1; i < len(s.state.Steps); i++ {
		if s.state.Steps[i].Kind == kind {
			return &s.state.Steps[i]
		}
	}
	return nil
}
