package core

import (
	"testing"
	"time"
)

func newState(cursor int, statuses ...StepStatus) *WorkflowState {
	s := &WorkflowState{ID: "wf", CurrentStep: cursor}
	for i, st := range statuses {
		s.Steps = append(s.Steps, Step{ID: string(rune('a' + i)), Status: st})
	}
	return s
}

func TestWorkflowState_Validate(t *testing.T) {
	tests := []struct {
		name    string
		state   *WorkflowState
		wantErr bool
	}{
		{"fresh", newState(0, StepPending, StepPending), false},
		{"running", func() *WorkflowState {
			s := newState(1, StepComplete, StepActive, StepPending)
			s.IsRunning = true
			return s
		}(), false},
		{"paused on decision", newState(1, StepSkipped, StepUserActionRequired, StepPending), false},
		{"complete", newState(2, StepComplete, StepSkipped), false},
		{"cursor out of range", newState(3, StepComplete, StepComplete), true},
		{"pending behind cursor", newState(1, StepPending, StepPending), true},
		{"work ahead of cursor", newState(0, StepPending, StepComplete), true},
		{"active while idle", newState(0, StepActive), true},
		{"running without active step", func() *WorkflowState {
			s := newState(0, StepPending)
			s.IsRunning = true
			return s
		}(), true},
		{"duplicate ids", &WorkflowState{Steps: []Step{{ID: "x", Status: StepPending}, {ID: "x", Status: StepPending}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.state.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !IsCategory(err, ErrCatState) {
				t.Fatalf("expected state error, got %v", err)
			}
		})
	}
}

func TestWorkflowState_CurrentAndComplete(t *testing.T) {
	s := newState(1, StepComplete, StepPending)
	if cur := s.Current(); cur == nil || cur.ID != "b" {
		t.Fatalf("Current = %+v", cur)
	}
	if s.IsComplete() {
		t.Fatalf("not complete yet")
	}
	s.CurrentStep = 2
	s.Steps[1].Status = StepComplete
	if s.Current() != nil || !s.IsComplete() {
		t.Fatalf("expected completion past the last step")
	}
	if (&WorkflowState{}).IsComplete() {
		t.Fatalf("an empty timeline is not complete")
	}
	if s.Step("a") == nil || s.Step("zz") != nil {
		t.Fatalf("Step lookup mismatch")
	}
}

func TestWorkflowState_Counts(t *testing.T) {
	counts := newState(2, StepComplete, StepSkipped, StepPending, StepPending).Counts()
	if counts[StepComplete] != 1 || counts[StepSkipped] != 1 || counts[StepPending] != 2 {
		t.Fatalf("Counts = %v", counts)
	}
}

func TestWorkflowState_CloneIsDeep(t *testing.T) {
	start := time.Now()
	s := newState(0, StepUserActionRequired)
	s.StartTime = &start
	s.PendingMigration = &PendingMigration{
		Hash:      "h",
		Migration: Migration{Hash: "h", Operations: []MigrationOperation{{Name: "CREATE TABLE a"}}},
	}

	c := s.Clone()
	c.Steps[0].Status = StepError
	*c.StartTime = start.Add(time.Hour)
	c.PendingMigration.Migration.Operations[0].Name = "DROP TABLE a"

	if s.Steps[0].Status != StepUserActionRequired || !s.StartTime.Equal(start) ||
		s.PendingMigration.Migration.Operations[0].Name != "CREATE TABLE a" {
		t.Fatalf("clone shares memory with the original")
	}
	var nilState *WorkflowState
	if nilState.Clone() != nil {
		t.Fatalf("clone of nil must be nil")
	}
}

func TestWorkflowState_Summarize(t *testing.T) {
	s := newState(1, StepComplete, StepError, StepPending)
	s.Error = "boom"
	s.UpdatedAt = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	sum := s.Summarize()
	if sum.ID != "wf" || sum.CurrentStep != 1 || sum.TotalSteps != 3 || sum.Error != "boom" || !sum.UpdatedAt.Equal(s.UpdatedAt) {
		t.Fatalf("Summarize = %+v", sum)
	}
}
