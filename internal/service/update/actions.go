package update

import (
	"context"
	"fmt"

	retry "github.com/avast/retry-go/v4"

	"github.com/hugo-lorenzo-mato/upgrader/internal/core"
	"github.com/hugo-lorenzo-mato/upgrader/internal/events"
)

// ResolveAction maps an action identifier offered on the current step to
// the engine operation behind it.
func (e *Engine) ResolveAction(ctx context.Context, actionID string) error {
	e.mu.Lock()
	if e.state == nil {
		e.mu.Unlock()
		return core.ErrState(core.CodeNotInitialized, "no workflow initialized")
	}
	cur := e.seq.Current()
	offered := cur != nil && cur.HasAction(actionID)
	e.mu.Unlock()

	if !offered {
		return core.ErrValidation(core.CodeUnknownAction,
			fmt.Sprintf("action %q is not offered by the current step", actionID))
	}

	switch actionID {
	case core.ActionConfirmMigrations:
		return e.ConfirmMigrations(nil)
	case core.ActionConfirmMigrationsWithDeletes:
		withDeletes := true
		return e.ConfirmMigrations(&withDeletes)
	case core.ActionSkipMigrations:
		return e.SkipMigrations()
	case core.ActionContinueUpdate:
		return e.ContinueUpdate()
	case core.ActionSkipComposerUpdate:
		return e.SkipComposerUpdate()
	case core.ActionCancelWorkflow:
		return e.CancelWorkflow()
	case core.ActionClearPendingTasks:
		return e.ClearPendingTasks(ctx)
	case core.ActionRetryStep:
		return e.RetryStep()
	case core.ActionSkipStep:
		return e.SkipStep()
	default:
		return core.ErrValidation(core.CodeUnknownAction, fmt.Sprintf("unknown action %q", actionID))
	}
}

// ConfirmMigrations executes the pending migration of the current cycle.
// withDeletes overrides the configured default when set.
func (e *Engine) ConfirmMigrations(withDeletes *bool) error {
	e.mu.Lock()
	if _, err := e.awaitingLocked(core.KindExecuteMigrations); err != nil {
		e.mu.Unlock()
		return err
	}
	pending := e.state.PendingMigration
	if pending == nil {
		e.mu.Unlock()
		return core.ErrState(core.CodeInvalidState, "no pending migration to confirm")
	}
	pending.WithDeletes = e.state.Config.WithDeletes
	if withDeletes != nil {
		pending.WithDeletes = *withDeletes
	}
	e.logger.Info("migrations confirmed", "workflow_id", e.state.ID, "cycle", pending.Cycle,
		"hash", pending.Hash, "with_deletes", pending.WithDeletes)
	c := e.commitLocked(e.runLocked(events.TypeWorkflowResumed)...)
	e.mu.Unlock()

	e.flush(c)
	return nil
}

// SkipMigrations skips the execute step of the current cycle and ends the
// migration loop.
func (e *Engine) SkipMigrations() error {
	e.mu.Lock()
	step, err := e.awaitingLocked(core.KindExecuteMigrations)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	id := step.ID
	if err := e.seq.MarkSkipped(id); err != nil {
		e.mu.Unlock()
		return err
	}
	e.state.PendingMigration = nil
	e.logger.Info("migrations skipped", "workflow_id", e.state.ID, "step", id)
	evs := e.stepEventsLocked(id)
	e.seq.Advance()
	c := e.commitLocked(append(evs, e.runLocked(events.TypeWorkflowResumed)...)...)
	e.mu.Unlock()

	e.flush(c)
	return nil
}

// ContinueUpdate accepts the dry-run result and proceeds to the real update.
func (e *Engine) ContinueUpdate() error {
	return e.resolveDryRun(false)
}

// SkipComposerUpdate accepts the dry-run result but skips the real update.
func (e *Engine) SkipComposerUpdate() error {
	return e.resolveDryRun(true)
}

func (e *Engine) resolveDryRun(skipUpdate bool) error {
	e.mu.Lock()
	step, err := e.awaitingLocked(core.KindComposerDryRun)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	id := step.ID
	evs := e.setStatusLocked(id, core.StepComplete, e.clock())
	if skipUpdate {
		if next := e.seq.Next(core.KindComposerUpdate); next != nil {
			nextID := next.ID
			if err := e.seq.MarkSkipped(nextID); err != nil {
				e.mu.Unlock()
				return err
			}
			evs = append(evs, e.stepEventsLocked(nextID)...)
		}
	}
	e.logger.Info("dry run resolved", "workflow_id", e.state.ID, "skip_update", skipUpdate)
	e.seq.Advance()
	c := e.commitLocked(append(evs, e.runLocked(events.TypeWorkflowResumed)...)...)
	e.mu.Unlock()

	e.flush(c)
	return nil
}

// SkipStep skips the failed or suspended conditional step at the cursor and
// continues with the next one.
func (e *Engine) SkipStep() error {
	e.mu.Lock()
	if err := e.requireIdleLocked(); err != nil {
		e.mu.Unlock()
		return err
	}
	cur := e.seq.Current()
	if cur == nil {
		e.mu.Unlock()
		return core.ErrState(core.CodeInvalidState, "no step to skip")
	}
	if !cur.Conditional {
		e.mu.Unlock()
		return core.ErrState(core.CodeInvalidState, fmt.Sprintf("step %s cannot be skipped", cur.ID))
	}
	id := cur.ID
	if cur.Kind == core.KindExecuteMigrations {
		e.state.PendingMigration = nil
	}
	if err := e.seq.MarkSkipped(id); err != nil {
		e.mu.Unlock()
		return err
	}
	e.logger.Info("step skipped by user", "workflow_id", e.state.ID, "step", id)
	evs := e.stepEventsLocked(id)
	e.seq.Advance()
	c := e.commitLocked(append(evs, e.runLocked(events.TypeWorkflowResumed)...)...)
	e.mu.Unlock()

	e.flush(c)
	return nil
}

// CancelWorkflow ends the run at the user's request. The current step is
// marked cancelled; nothing after it runs.
func (e *Engine) CancelWorkflow() error {
	e.mu.Lock()
	if e.state == nil {
		e.mu.Unlock()
		return core.ErrState(core.CodeNotInitialized, "no workflow initialized")
	}
	if e.seq.AtEnd() {
		e.mu.Unlock()
		return core.ErrState(core.CodeInvalidState, "workflow already finished")
	}
	e.gen++
	e.queue = nil
	if e.stepCancel != nil {
		e.stepCancel()
		e.stepCancel = nil
	}
	session := e.session
	e.session = nil

	now := e.clock()
	var evs []events.Event
	if cur := e.seq.Current(); cur.Status == core.StepActive || cur.Status == core.StepUserActionRequired {
		evs = append(evs, e.setStatusLocked(cur.ID, core.StepCancelled, now)...)
	}
	e.state.IsRunning = false
	e.state.IsPaused = false
	e.state.PendingMigration = nil
	e.state.EndTime = &now
	e.state.Error = "Workflow cancelled by user"
	e.logger.Info("workflow cancelled", "workflow_id", e.state.ID, "step", e.currentIDLocked())
	evs = append(evs, events.NewWorkflowEvent(events.TypeWorkflowCancelled, string(e.state.ID), e.currentIDLocked()))
	c := e.commitLocked(evs...)
	e.mu.Unlock()

	if session != nil {
		session.Stop()
	}
	e.flush(c)
	return nil
}

// ClearPendingTasks removes whatever occupies the remote task and migration
// slots and restarts the workflow from the first step. A running task is
// aborted first and its deletion retried until the manager accepts it.
func (e *Engine) ClearPendingTasks(ctx context.Context) error {
	e.mu.Lock()
	err := e.requireIdleLocked()
	e.mu.Unlock()
	if err != nil {
		if core.IsCategory(err, core.ErrCatConflict) {
			return core.ErrState(core.CodeInvalidState, "stop the workflow before clearing pending tasks")
		}
		return err
	}

	if err := e.clearRemote(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	if err := e.requireIdleLocked(); err != nil {
		e.mu.Unlock()
		return core.ErrState(core.CodeInvalidState, "workflow started while clearing pending tasks")
	}
	e.resetTimelineLocked()
	c := e.commitLocked(e.runLocked(events.TypeWorkflowStarted)...)
	e.mu.Unlock()

	e.flush(c)
	return nil
}

func (e *Engine) clearRemote(ctx context.Context) error {
	found, err := FindPendingArtifacts(ctx, e.api)
	if err != nil {
		return err
	}

	if task := found.Task; task != nil {
		log := e.logger.With("task", task.ID, "status", task.Status)
		if task.Status == core.TaskActive {
			log.Info("aborting pending task")
			if _, err := e.api.PatchTaskStatus(ctx, core.TaskAborting); err != nil {
				return fmt.Errorf("aborting task %s: %w", task.ID, err)
			}
		}
		err := retry.Do(func() error {
			return e.api.DeleteTaskData(ctx)
		},
			retry.Attempts(e.clear.Attempts),
			retry.DelayType(retry.BackOffDelay),
			retry.Delay(e.clear.Delay),
			retry.MaxDelay(e.clear.MaxDelay),
			retry.LastErrorOnly(true),
			retry.OnRetry(func(n uint, err error) {
				log.Debug("task not deletable yet", "attempt", n+1, "error", err)
			}),
			retry.Context(ctx),
		)
		if err != nil {
			return fmt.Errorf("deleting task %s: %w", task.ID, err)
		}
		log.Info("pending task cleared")
	}

	if found.Migration != nil {
		if err := e.api.DeleteDatabaseMigrationTask(ctx); err != nil {
			return fmt.Errorf("deleting migration task: %w", err)
		}
		e.logger.Info("pending migration cleared", "status", found.Migration.Status)
	}
	return nil
}

// resetTimelineLocked rebuilds the step list and rewinds the cursor. The
// migration history of steps that exist again is carried over.
func (e *Engine) resetTimelineLocked() {
	fresh := BuildSteps(e.state.Config)
	for i := range fresh {
		if old := e.state.Step(fresh[i].ID); old != nil && len(old.MigrationHistory) > 0 {
			fresh[i].MigrationHistory = old.Clone().MigrationHistory
		}
	}
	e.state.Steps = fresh
	e.state.CurrentStep = 0
	e.state.PendingMigration = nil
	e.state.StartTime = nil
	e.state.Error = ""
}

// awaitingLocked returns the current step if it is of the given kind and
// waits for a user decision.
func (e *Engine) awaitingLocked(kind core.StepKind) (*core.Step, error) {
	if e.state == nil {
		return nil, core.ErrState(core.CodeNotInitialized, "no workflow initialized")
	}
	cur := e.seq.Current()
	if e.state.IsRunning || cur == nil || cur.Kind != kind || cur.Status != core.StepUserActionRequired {
		return nil, core.ErrState(core.CodeNotPaused,
			fmt.Sprintf("workflow is not waiting for a %s decision", kind))
	}
	return cur, nil
}
