package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// StepStatus is the lifecycle state of a single timeline step.
type StepStatus string

const (
	StepPending            StepStatus = "pending"
	StepActive             StepStatus = "active"
	StepComplete           StepStatus = "complete"
	StepError              StepStatus = "error"
	StepSkipped            StepStatus = "skipped"
	StepCancelled          StepStatus = "cancelled"
	StepUserActionRequired StepStatus = "user_action_required"
)

// IsTerminal reports whether the status ends a step attempt.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepComplete, StepError, StepSkipped, StepCancelled:
		return true
	}
	return false
}

// IsSuspending reports whether the step is doing or awaiting work.
func (s StepStatus) IsSuspending() bool {
	return s == StepActive || s == StepUserActionRequired
}

// IsDone reports whether the step needs no further execution.
func (s StepStatus) IsDone() bool {
	return s == StepComplete || s == StepSkipped
}

// transitions lists the legal edges of the step state machine.
var transitions = map[StepStatus][]StepStatus{
	StepPending:            {StepActive, StepSkipped},
	StepActive:             {StepComplete, StepUserActionRequired, StepError, StepCancelled, StepSkipped},
	StepUserActionRequired: {StepActive, StepComplete, StepSkipped, StepCancelled},
	StepError:              {StepActive, StepSkipped},
	StepCancelled:          {StepActive, StepSkipped},
}

// CanTransition reports whether a step may move from one status to another.
func CanTransition(from, to StepStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// StepKind selects the executor that runs a step.
type StepKind string

const (
	KindCheckTasks        StepKind = "check-tasks"
	KindCheckManager      StepKind = "check-manager"
	KindUpdateManager     StepKind = "update-manager"
	KindComposerDryRun    StepKind = "composer-dry-run"
	KindComposerUpdate    StepKind = "composer-update"
	KindCheckMigrations   StepKind = "check-migrations"
	KindExecuteMigrations StepKind = "execute-migrations"
	KindUpdateVersions    StepKind = "update-versions"
)

// CycleStepID derives the id of a dynamically generated migration cycle step.
// The first cycle uses the bare kind.
func CycleStepID(kind StepKind, cycle int) string {
	if cycle <= 1 {
		return string(kind)
	}
	return fmt.Sprintf("%s-%d", kind, cycle)
}

// HistoryStepType tells which half of a migration cycle produced a history entry.
type HistoryStepType string

const (
	HistoryCheck   HistoryStepType = "check"
	HistoryExecute HistoryStepType = "execute"
)

// MigrationExecutionHistory is one audit entry of the migration loop.
type MigrationExecutionHistory struct {
	Cycle     int             `json:"cycle"`
	StepType  HistoryStepType `json:"step_type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
	StartTime time.Time       `json:"start_time"`
	EndTime   *time.Time      `json:"end_time,omitempty"`
	Status    StepStatus      `json:"status"`
	Error     string          `json:"error,omitempty"`
}

// ActionVariant hints how a presentation layer should style an action.
type ActionVariant string

const (
	VariantPrimary   ActionVariant = "primary"
	VariantSecondary ActionVariant = "secondary"
	VariantDanger    ActionVariant = "danger"
)

// Action identifiers understood by the engine.
const (
	ActionConfirmMigrations            = "confirm-migrations"
	ActionConfirmMigrationsWithDeletes = "confirm-migrations-with-deletes"
	ActionSkipMigrations               = "skip-migrations"
	ActionContinueUpdate               = "continue-update"
	ActionSkipComposerUpdate           = "skip-composer-update"
	ActionCancelWorkflow               = "cancel-workflow"
	ActionClearPendingTasks            = "clear-pending-tasks"
	ActionRetryStep                    = "retry-step"
	ActionSkipStep                     = "skip-step"
)

// UserAction is a resolution offered to the user while a step is suspended.
// Only the identifier travels; the engine maps it to one of its operations.
type UserAction struct {
	ID      string        `json:"id"`
	Label   string        `json:"label"`
	Variant ActionVariant `json:"variant"`
}

// Step is one unit of the ordered update workflow.
type Step struct {
	ID               string                      `json:"id"`
	Kind             StepKind                    `json:"kind"`
	Title            string                      `json:"title"`
	Description      string                      `json:"description,omitempty"`
	Status           StepStatus                  `json:"status"`
	Data             json.RawMessage             `json:"data,omitempty"`
	Error            string                      `json:"error,omitempty"`
	StartTime        *time.Time                  `json:"start_time,omitempty"`
	EndTime          *time.Time                  `json:"end_time,omitempty"`
	Conditional      bool                        `json:"conditional,omitempty"`
	Cycle            int                         `json:"cycle,omitempty"`
	MigrationHistory []MigrationExecutionHistory `json:"migration_history,omitempty"`
	UserActions      []UserAction                `json:"user_actions,omitempty"`
}

// DecodeData unmarshals the step's last payload into v.
// It reports false when the step carries no payload.
func (s *Step) DecodeData(v any) (bool, error) {
	if len(s.Data) == 0 || string(s.Data) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(s.Data, v); err != nil {
		return false, fmt.Errorf("decoding %s data: %w", s.ID, err)
	}
	return true, nil
}

// HasAction reports whether the step currently offers the given action.
func (s *Step) HasAction(id string) bool {
	for _, a := range s.UserActions {
		if a.ID == id {
			return true
		}
	}
	return false
}

// HistoryOf returns the history entries of one step type, in cycle order.
func (s *Step) HistoryOf(t HistoryStepType) []MigrationExecutionHistory {
	var out []MigrationExecutionHistory
	for _, h := range s.MigrationHistory {
		if h.StepType == t {
			out = append(out, h)
		}
	}
	return out
}

// Clone returns a deep copy of the step.
func (s Step) Clone() Step {
	out := s
	out.Data = cloneRaw(s.Data)
	out.StartTime = cloneTime(s.StartTime)
	out.EndTime = cloneTime(s.EndTime)
	if s.MigrationHistory != nil {
		out.MigrationHistory = make([]MigrationExecutionHistory, len(s.MigrationHistory))
		for i, h := range s.MigrationHistory {
			h.Data = cloneRaw(h.Data)
			h.EndTime = cloneTime(h.EndTime)
			out.MigrationHistory[i] = h
		}
	}
	if s.UserActions != nil {
		out.UserActions = append([]UserAction(nil), s.UserActions...)
	}
	return out
}

// TimelineResult is what an executor reports back to the engine.
type TimelineResult struct {
	Status      StepStatus
	Data        any
	Err         error
	UserActions []UserAction
}

// Complete builds a successful result.
func Complete(data any) TimelineResult {
	return TimelineResult{Status: StepComplete, Data: data}
}

// Failed builds a failed result, keeping the payload that was last seen.
func Failed(err error, data any) TimelineResult {
	return TimelineResult{Status: StepError, Err: err, Data: data}
}

// NeedsAction builds a result that suspends the step until the user resolves it.
func NeedsAction(data any, actions ...UserAction) TimelineResult {
	return TimelineResult{Status: StepUserActionRequired, Data: data, UserActions: actions}
}

// MarshalData encodes an executor payload for storage on a step.
func MarshalData(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return cloneRaw(raw), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// FormatStatus renders a status for humans ("user action required").
func FormatStatus(s StepStatus) string {
	return strings.ReplaceAll(string(s), "_", " ")
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	return append(json.RawMessage(nil), b...)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
