package update

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/upgrader/internal/core"
	"github.com/hugo-lorenzo-mato/upgrader/internal/logging"
	"github.com/hugo-lorenzo-mato/upgrader/internal/polling"
)

// StepContext is what an executor sees while its step runs.
type StepContext interface {
	// Context is cancelled when the workflow is stopped.
	Context() context.Context
	API() core.ManagerAPI
	Config() core.WorkflowConfig
	Step() core.Step
	// State is a snapshot taken when the step started.
	State() *core.WorkflowState
	Logger() *logging.Logger
	Polling() PollSettings
	// Progress publishes an intermediate payload without changing the status.
	Progress(data any)
	// Track registers a polling session so that Stop can halt it. It reports
	// false when the run is already stale; the session must not be started.
	Track(s Stopper) (release func(), ok bool)
}

// Stopper is anything Stop has to halt synchronously.
type Stopper interface {
	Stop()
}

// Executor performs one kind of step.
type Executor interface {
	Execute(sc StepContext) core.TimelineResult
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(sc StepContext) core.TimelineResult

// Execute calls f.
func (f ExecutorFunc) Execute(sc StepContext) core.TimelineResult { return f(sc) }

// PollSettings configures the polling sessions executors start.
type PollSettings struct {
	Interval    time.Duration
	MaxDuration time.Duration
	Clock       func() time.Time
}

// DefaultExecutors returns the executor for every step kind.
func DefaultExecutors() map[core.StepKind]Executor {
	return map[core.StepKind]Executor{
		core.KindCheckTasks:        ExecutorFunc(checkTasks),
		core.KindCheckManager:      ExecutorFunc(checkManager),
		core.KindUpdateManager:     ExecutorFunc(updateManager),
		core.KindComposerDryRun:    ExecutorFunc(composerDryRun),
		core.KindComposerUpdate:    ExecutorFunc(composerUpdate),
		core.KindCheckMigrations:   ExecutorFunc(checkMigrations),
		core.KindExecuteMigrations: ExecutorFunc(executeMigrations),
		core.KindUpdateVersions:    ExecutorFunc(updateVersions),
	}
}

// errStale reports that the run was stopped before a session could start.
var errStale = errors.New("workflow run is no longer current")

// await polls until cont reports false, publishing every result as progress.
func await[T any](sc StepContext, name string, poll func(context.Context) (T, error), cont func(T) bool) (T, error) {
	settings := sc.Polling()
	session := polling.New(polling.Options[T]{
		Name:           name,
		Poll:           poll,
		ShouldContinue: cont,
		OnResult:       func(r T) { sc.Progress(r) },
		Interval:       settings.Interval,
		MaxDuration:    settings.MaxDuration,
		Clock:          settings.Clock,
	})
	release, ok := sc.Track(session)
	if !ok {
		var zero T
		return zero, errStale
	}
	defer release()

	session.Start(sc.Context())
	return session.Wait(sc.Context())
}

// PendingArtifacts is the payload of the check-tasks step.
type PendingArtifacts struct {
	Task      *core.Task      `json:"task,omitempty"`
	Migration *core.Migration `json:"migration,omitempty"`
}

// Empty reports whether nothing blocks the update.
func (p PendingArtifacts) Empty() bool {
	return p.Task == nil && p.Migration == nil
}

func (p PendingArtifacts) describe() string {
	switch {
	case p.Task != nil && p.Migration != nil:
		return fmt.Sprintf("task %q (%s) and a database migration (%s)", p.Task.Title, p.Task.Status, p.Migration.Status)
	case p.Task != nil:
		return fmt.Sprintf("task %q (%s)", p.Task.Title, p.Task.Status)
	default:
		return fmt.Sprintf("database migration (%s)", p.Migration.Status)
	}
}

// FindPendingArtifacts queries both remote slots concurrently.
func FindPendingArtifacts(ctx context.Context, api core.ManagerAPI) (PendingArtifacts, error) {
	var task core.Task
	var migration core.Migration

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := api.GetTaskData(gctx)
		if err != nil {
			return fmt.Errorf("reading task slot: %w", err)
		}
		task = t
		return nil
	})
	g.Go(func() error {
		m, err := api.GetDatabaseMigrationStatus(gctx)
		if err != nil {
			return fmt.Errorf("reading migration slot: %w", err)
		}
		migration = m
		return nil
	})
	if err := g.Wait(); err != nil {
		return PendingArtifacts{}, err
	}

	var found PendingArtifacts
	if !task.IsEmpty() {
		found.Task = &task
	}
	if !migration.IsEmpty() {
		found.Migration = &migration
	}
	return found, nil
}

func checkTasks(sc StepContext) core.TimelineResult {
	found, err := FindPendingArtifacts(sc.Context(), sc.API())
	if err != nil {
		return core.Failed(err, nil)
	}
	if !found.Empty() {
		err := core.ErrConflict(core.CodePendingTasks, "Pending tasks found: "+found.describe()).
			WithDetail("task", found.Task != nil).
			WithDetail("migration", found.Migration != nil)
		return core.Failed(err, found)
	}
	return core.Complete(found)
}

func checkManager(sc StepContext) core.TimelineResult {
	status, err := sc.API().GetUpdateStatus(sc.Context())
	if err != nil {
		return core.Failed(err, nil)
	}
	sc.Logger().Info("manager version checked",
		"current", status.SelfUpdate.CurrentVersion,
		"latest", status.SelfUpdate.LatestVersion)
	return core.Complete(status)
}

func updateManager(sc StepContext) core.TimelineResult {
	task, err := runTask(sc, core.TaskRequest{Name: core.TaskManagerSelfUpdate})
	if err != nil {
		return core.Failed(err, task)
	}
	return core.Complete(task)
}

func composerDryRun(sc StepContext) core.TimelineResult {
	task, err := runTask(sc, core.TaskRequest{
		Name:   core.TaskComposerUpdate,
		Config: map[string]any{"dry_run": true},
	})
	if err != nil {
		return core.Failed(err, task)
	}
	return core.NeedsAction(task,
		core.UserAction{ID: core.ActionContinueUpdate, Label: "Install updates", Variant: core.VariantPrimary},
		core.UserAction{ID: core.ActionSkipComposerUpdate, Label: "Skip package update", Variant: core.VariantSecondary},
		core.UserAction{ID: core.ActionCancelWorkflow, Label: "Cancel", Variant: core.VariantDanger},
	)
}

func composerUpdate(sc StepContext) core.TimelineResult {
	task, err := runTask(sc, core.TaskRequest{
		Name:   core.TaskComposerUpdate,
		Config: map[string]any{"dry_run": false},
	})
	if err != nil {
		return core.Failed(err, task)
	}
	return core.Complete(task)
}

// runTask creates a remote task, polls it to a terminal status and clears
// the slot. A slot that empties while polling counts as success.
func runTask(sc StepContext, req core.TaskRequest) (core.Task, error) {
	ctx := sc.Context()
	api := sc.API()
	log := sc.Logger().With("task", req.Name)

	created, err := api.SetTaskData(ctx, req)
	if err != nil {
		// A task left behind by an interrupted run blocks the slot.
		if cur, gerr := api.GetTaskData(ctx); gerr == nil && !cur.IsEmpty() {
			conflict := core.ErrConflict(core.CodePendingTasks,
				fmt.Sprintf("Pending tasks found: task %q (%s)", cur.Title, cur.Status)).WithCause(err)
			return cur, fmt.Errorf("starting task %s: %w", req.Name, conflict)
		}
		return core.Task{}, fmt.Errorf("starting task %s: %w", req.Name, err)
	}
	sc.Progress(created)
	log.Debug("task started", "status", created.Status)

	task, err := await(sc, "task "+req.Name, api.GetTaskData, func(t core.Task) bool {
		return t.Status.IsRunning()
	})
	if err != nil {
		if task.IsEmpty() {
			task = created
		}
		return task, err
	}
	if task.IsEmpty() {
		created.Status = core.TaskComplete
		return created, nil
	}

	if task.Status != core.TaskComplete {
		if derr := api.DeleteTaskData(ctx); derr != nil {
			log.Warn("could not clear failed task", "error", derr)
		}
		return task, core.ErrRemote(core.CodeTaskFailed,
			fmt.Sprintf("Task %s ended with status %s: %s", req.Name, task.Status, task.FailureSummary()))
	}
	if err := api.DeleteTaskData(ctx); err != nil {
		return task, fmt.Errorf("clearing finished task %s: %w", req.Name, err)
	}
	return task, nil
}

func checkMigrations(sc StepContext) core.TimelineResult {
	m, err := runMigration(sc, core.MigrationRequest{}, "migration check")
	if err != nil {
		return core.Failed(err, m)
	}
	return core.Complete(m)
}

func executeMigrations(sc StepContext) core.TimelineResult {
	pending := sc.State().PendingMigration
	if pending == nil || pending.Hash == "" {
		return core.Failed(core.ErrState(core.CodeInvalidState, "no confirmed migration to execute"), nil)
	}
	req := core.MigrationRequest{Hash: pending.Hash, WithDeletes: pending.WithDeletes}
	m, err := runMigration(sc, req, "migration execution")
	if err != nil {
		return core.Failed(err, m)
	}
	return core.Complete(m)
}

// runMigration starts a check or an execution, waits for it and clears the
// migration slot. The finished remote document is returned either way.
func runMigration(sc StepContext, req core.MigrationRequest, what string) (core.Migration, error) {
	ctx := sc.Context()
	api := sc.API()

	started, err := api.StartDatabaseMigration(ctx, req)
	if err != nil {
		return core.Migration{}, fmt.Errorf("starting %s: %w", what, err)
	}
	sc.Progress(started)

	m, err := await(sc, what, api.GetDatabaseMigrationStatus, core.Migration.IsRunning)
	if err != nil {
		return m, err
	}
	if m.IsEmpty() {
		return m, nil
	}
	if m.Status == core.MigrationError {
		if derr := api.DeleteDatabaseMigrationTask(ctx); derr != nil {
			sc.Logger().Warn("could not clear failed migration", "error", derr)
		}
		summary := m.FailureSummary()
		if summary == "" {
			summary = "the server reported an error"
		}
		return m, core.ErrRemote(core.CodeMigrationFailed, fmt.Sprintf("Database %s failed: %s", what, summary))
	}
	if err := api.DeleteDatabaseMigrationTask(ctx); err != nil {
		return m, fmt.Errorf("clearing %s: %w", what, err)
	}
	return m, nil
}

func updateVersions(sc StepContext) core.TimelineResult {
	info, err := sc.API().UpdateVersionInfo(sc.Context())
	if err != nil {
		return core.Failed(err, nil)
	}
	return core.Complete(info)
}
