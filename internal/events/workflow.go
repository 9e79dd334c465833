package events

import (
	"time"

	"github.com/hugo-lorenzo-mato/upgrader/internal/core"
)

// Event type constants for workflow events.
const (
	TypeWorkflowInitialized  = "workflow_initialized"
	TypeWorkflowStarted      = "workflow_started"
	TypeWorkflowStateUpdated = "workflow_state_updated"
	TypeWorkflowPaused       = "workflow_paused"
	TypeWorkflowResumed      = "workflow_resumed"
	TypeWorkflowStopped      = "workflow_stopped"
	TypeWorkflowCancelled    = "workflow_cancelled"
	TypeWorkflowCompleted    = "workflow_completed"
	TypeWorkflowFailed       = "workflow_failed"
)

// WorkflowEvent reports a lifecycle change of the whole run.
type WorkflowEvent struct {
	BaseEvent
	StepID string `json:"step_id,omitempty"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}

// NewWorkflowEvent creates a workflow lifecycle event.
func NewWorkflowEvent(eventType, workflowID, stepID string) WorkflowEvent {
	return WorkflowEvent{
		BaseEvent: NewBaseEvent(eventType, workflowID),
		StepID:    stepID,
	}
}

// NewWorkflowPausedEvent is emitted when the run waits for the user.
func NewWorkflowPausedEvent(workflowID, stepID, reason string) WorkflowEvent {
	e := NewWorkflowEvent(TypeWorkflowPaused, workflowID, stepID)
	e.Reason = reason
	return e
}

// NewWorkflowFailedEvent is emitted when a step error halts the run.
// This is a PRIORITY event - never dropped.
func NewWorkflowFailedEvent(workflowID, stepID, errMsg string) WorkflowEvent {
	e := NewWorkflowEvent(TypeWorkflowFailed, workflowID, stepID)
	e.Error = errMsg
	return e
}

// WorkflowCompletedEvent is emitted once every step has been passed.
type WorkflowCompletedEvent struct {
	BaseEvent
	Duration time.Duration `json:"duration"`
	Skipped  int           `json:"skipped"`
	Cycles   int           `json:"migration_cycles"`
}

// NewWorkflowCompletedEvent creates a new workflow completed event.
func NewWorkflowCompletedEvent(workflowID string, duration time.Duration, skipped, cycles int) WorkflowCompletedEvent {
	return WorkflowCompletedEvent{
		BaseEvent: NewBaseEvent(TypeWorkflowCompleted, workflowID),
		Duration:  duration,
		Skipped:   skipped,
		Cycles:    cycles,
	}
}

// StateUpdatedEvent carries a full snapshot after every transition.
type StateUpdatedEvent struct {
	BaseEvent
	State *core.WorkflowState `json:"state"`
}

// NewStateUpdatedEvent wraps a snapshot. The caller passes a clone.
func NewStateUpdatedEvent(state *core.WorkflowState) StateUpdatedEvent {
	return StateUpdatedEvent{
		BaseEvent: NewBaseEvent(TypeWorkflowStateUpdated, string(state.ID)),
		State:     state,
	}
}
