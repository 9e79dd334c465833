package events

import "github.com/hugo-lorenzo-mato/upgrader/internal/core"

// Event type constants for step events.
const (
	TypeStepStarted        = "step_started"
	TypeStepProgress       = "step_progress"
	TypeStepCompleted      = "step_completed"
	TypeStepSkipped        = "step_skipped"
	TypeStepFailed         = "step_failed"
	TypeStepCancelled      = "step_cancelled"
	TypeStepActionRequired = "step_action_required"
	TypeMigrationRecorded  = "migration_recorded"
)

// StepEvent reports a status change or new payload of one step.
type StepEvent struct {
	BaseEvent
	StepID  string            `json:"step_id"`
	Kind    core.StepKind     `json:"kind"`
	Title   string            `json:"title"`
	Status  core.StepStatus   `json:"status"`
	Error   string            `json:"error,omitempty"`
	Actions []core.UserAction `json:"actions,omitempty"`
}

// NewStepEvent creates a step event from the step as it is now.
func NewStepEvent(eventType, workflowID string, step core.Step) StepEvent {
	return StepEvent{
		BaseEvent: NewBaseEvent(eventType, workflowID),
		StepID:    step.ID,
		Kind:      step.Kind,
		Title:     step.Title,
		Status:    step.Status,
		Error:     step.Error,
		Actions:   append([]core.UserAction(nil), step.UserActions...),
	}
}

// StepTypeForStatus maps the status a step just entered to its event type.
func StepTypeForStatus(status core.StepStatus) string {
	switch status {
	case core.StepActive:
		return TypeStepStarted
	case core.StepComplete:
		return TypeStepCompleted
	case core.StepSkipped:
		return TypeStepSkipped
	case core.StepError:
		return TypeStepFailed
	case core.StepCancelled:
		return TypeStepCancelled
	case core.StepUserActionRequired:
		return TypeStepActionRequired
	default:
		return TypeStepProgress
	}
}

// MigrationEvent is emitted for every entry appended to a migration history.
type MigrationEvent struct {
	BaseEvent
	StepID      string               `json:"step_id"`
	Cycle       int                  `json:"cycle"`
	StepType    core.HistoryStepType `json:"step_type"`
	Status      core.StepStatus      `json:"status"`
	Hash        string               `json:"hash,omitempty"`
	Operations  int                  `json:"operations"`
	WithDeletes bool                 `json:"with_deletes,omitempty"`
}

// NewMigrationEvent creates a migration history event.
func NewMigrationEvent(workflowID, stepID string, entry core.MigrationExecutionHistory, m core.Migration, withDeletes bool) MigrationEvent {
	return MigrationEvent{
		BaseEvent:   NewBaseEvent(TypeMigrationRecorded, workflowID),
		StepID:      stepID,
		Cycle:       entry.Cycle,
		StepType:    entry.StepType,
		Status:      entry.Status,
		Hash:        m.Hash,
		Operations:  len(m.Operations),
		WithDeletes: withDeletes,
	}
}
