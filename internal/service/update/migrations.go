package update

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hugo-lorenzo-mato/upgrader/internal/core"
	"github.com/hugo-lorenzo-mato/upgrader/internal/events"
)

// The migration loop: a check either finds nothing (the paired execute step
// is skipped) or a hash, which parks the execute step on a confirmation.
// After a successful execution the loop checks again, until a check comes
// back empty or the user skips.

func (e *Engine) migrationCheckedLocked(checkID string, m core.Migration) []events.Event {
	if !m.HasPending() {
		e.state.PendingMigration = nil
		var evs []events.Event
		if exec := e.pairedExecuteLocked(checkID); exec != nil {
			id := exec.ID
			if err := e.seq.MarkSkipped(id); err != nil {
				return e.haltLocked(checkID, err)
			}
			evs = append(evs, e.stepEventsLocked(id)...)
		}
		e.logger.Info("no pending migrations", "workflow_id", e.state.ID, "step", checkID)
		e.seq.Advance()
		return append(evs, e.startCurrentLocked()...)
	}

	e.state.MigrationCycle++
	cycle := e.state.MigrationCycle
	now := e.clock()

	check, _ := e.seq.Get(checkID)
	entry, ev := e.historyEntryLocked(check, core.HistoryCheck, core.StepComplete, "", check.Data, now)
	entry.Cycle = cycle
	ev.Cycle = cycle
	if err := e.seq.ReplaceStepAt(checkID, StepPatch{AppendHistory: []core.MigrationExecutionHistory{entry}}); err != nil {
		return e.haltLocked(checkID, err)
	}
	evs := []events.Event{ev}

	e.state.PendingMigration = &core.PendingMigration{
		Hash:        m.Hash,
		Cycle:       cycle,
		Migration:   m.Clone(),
		WithDeletes: e.state.Config.WithDeletes,
	}

	exec := e.pairedExecuteLocked(checkID)
	if exec == nil {
		check, _ = e.seq.Get(checkID)
		added := NewStep(core.KindExecuteMigrations, max(check.Cycle, 1))
		if err := e.seq.InsertStepsAfter(checkID, added); err != nil {
			return e.haltLocked(checkID, err)
		}
		exec, _ = e.seq.Get(added.ID)
	}
	execID := exec.ID

	e.seq.Advance()
	activate := core.StepActive
	data := json.RawMessage(nil)
	if raw, err := core.MarshalData(m); err == nil {
		data = raw
	}
	if err := e.seq.ReplaceStepAt(execID, StepPatch{Status: &activate, StartTime: &now, ClearEndTime: true}); err != nil {
		return e.haltLocked(execID, err)
	}

	e.logger.Info("pending migrations found", "workflow_id", e.state.ID, "cycle", cycle,
		"hash", m.Hash, "operations", len(m.Operations), "has_deletes", m.HasDeletes())
	reason := fmt.Sprintf("Confirm %d pending database changes (cycle %d)", len(m.Operations), cycle)
	return append(evs, e.suspendStepLocked(execID, data, migrationActions(m, e.state.Config), reason)...)
}

func (e *Engine) migrationExecutedLocked(execID string, m core.Migration) []events.Event {
	now := e.clock()
	exec, _ := e.seq.Get(execID)

	entry, ev := e.historyEntryLocked(exec, core.HistoryExecute, core.StepComplete, "", exec.Data, now)
	ev.Hash = m.Hash
	if err := e.seq.ReplaceStepAt(execID, StepPatch{AppendHistory: []core.MigrationExecutionHistory{entry}}); err != nil {
		return e.haltLocked(execID, err)
	}
	evs := []events.Event{ev}
	e.logger.Info("migrations executed", "workflow_id", e.state.ID, "cycle", entry.Cycle, "hash", m.Hash)
	e.state.PendingMigration = nil

	if e.timeline == TimelineExpand {
		next := e.state.MigrationCycle + 1
		added := []core.Step{
			NewStep(core.KindCheckMigrations, next),
			NewStep(core.KindExecuteMigrations, next),
		}
		err := e.seq.InsertStepsAfter(execID, added...)
		if err == nil {
			e.seq.Advance()
			return append(evs, e.startCurrentLocked()...)
		}
		e.logger.Warn("cannot extend timeline, looping instead", "error", err)
	}

	evs = append(evs, e.loopBackLocked(execID)...)
	return append(evs, e.startCurrentLocked()...)
}

// loopBackLocked resets an execute step and its paired check and moves the
// cursor back to the check. History is kept.
func (e *Engine) loopBackLocked(execID string) []events.Event {
	idx := e.seq.IndexOf(execID)
	if idx <= 0 || e.state.Steps[idx-1].Kind != core.KindCheckMigrations {
		e.logger.Warn("execute step has no paired check", "step", execID)
		return nil
	}
	checkID := e.state.Steps[idx-1].ID
	if err := e.seq.ResetStep(execID); err != nil {
		return nil
	}
	if err := e.seq.ResetStep(checkID); err != nil {
		return nil
	}
	if err := e.seq.MoveTo(checkID); err != nil {
		e.logger.Warn("loop back rejected", "step", checkID, "error", err)
		return nil
	}
	e.state.PendingMigration = nil
	e.logger.Debug("migration loop back", "workflow_id", e.state.ID, "step", checkID)
	return nil
}

// pairedExecuteLocked returns the execute step directly after a check.
func (e *Engine) pairedExecuteLocked(checkID string) *core.Step {
	idx := e.seq.IndexOf(checkID)
	if idx < 0 || idx+1 >= e.seq.Len() {
		return nil
	}
	if next := &e.state.Steps[idx+1]; next.Kind == core.KindExecuteMigrations {
		return next
	}
	return nil
}

// historyEntryLocked builds a migration history entry for the current cycle
// and the event announcing it.
func (e *Engine) historyEntryLocked(step *core.Step, typ core.HistoryStepType, status core.StepStatus,
	errMsg string, data json.RawMessage, now time.Time) (core.MigrationExecutionHistory, events.MigrationEvent) {
	cycle := e.state.MigrationCycle
	withDeletes := false
	var m core.Migration
	if pm := e.state.PendingMigration; pm != nil {
		cycle = pm.Cycle
		withDeletes = pm.WithDeletes
		m = pm.Migration
	}
	started := now
	if step.StartTime != nil {
		started = *step.StartTime
	}
	end := now
	entry := core.MigrationExecutionHistory{
		Cycle:     cycle,
		StepType:  typ,
		Timestamp: now,
		Data:      append(json.RawMessage(nil), data...),
		StartTime: started,
		EndTime:   &end,
		Status:    status,
		Error:     errMsg,
	}
	if len(data) == 0 {
		entry.Data = nil
	}
	if typ == core.HistoryCheck {
		_ = json.Unmarshal(data, &m)
	}
	return entry, events.NewMigrationEvent(string(e.state.ID), step.ID, entry, m, withDeletes)
}

func migrationActions(m core.Migration, cfg core.WorkflowConfig) []core.UserAction {
	actions := []core.UserAction{{
		ID: core.ActionConfirmMigrations, Label: "Execute migrations", Variant: core.VariantPrimary,
	}}
	if m.HasDeletes() && !cfg.WithDeletes {
		actions = append(actions, core.UserAction{
			ID: core.ActionConfirmMigrationsWithDeletes, Label: "Execute including deletions", Variant: core.VariantDanger,
		})
	}
	return append(actions, core.UserAction{
		ID: core.ActionSkipMigrations, Label: "Skip migrations", Variant: core.VariantSecondary,
	})
}
