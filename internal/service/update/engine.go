package update

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hugo-lorenzo-mato/upgrader/internal/core"
	"github.com/hugo-lorenzo-mato/upgrader/internal/events"
	"github.com/hugo-lorenzo-mato/upgrader/internal/logging"
)

// TimelineMode selects how the migration loop repeats.
type TimelineMode string

const (
	// TimelineLoop re-runs the same check and execute steps.
	TimelineLoop TimelineMode = "loop"
	// TimelineExpand appends a fresh check/execute pair per cycle.
	TimelineExpand TimelineMode = "expand"
)

// ClearSettings bounds the delete retries of ClearPendingTasks. Zero
// attempts retries until the context ends.
type ClearSettings struct {
	Attempts uint
	Delay    time.Duration
	MaxDelay time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore persists a snapshot after every transition.
func WithStore(store core.StateStore) Option {
	return func(e *Engine) { e.store = store }
}

// WithEventBus publishes step and workflow events.
func WithEventBus(bus *events.EventBus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock replaces time.Now.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithPolling configures the polling sessions of long-running steps.
func WithPolling(p PollSettings) Option {
	return func(e *Engine) { e.polling = p }
}

// WithClearRetry configures ClearPendingTasks.
func WithClearRetry(c ClearSettings) Option {
	return func(e *Engine) { e.clear = c }
}

// WithTimelineMode selects loop or expand for the migration loop.
func WithTimelineMode(mode TimelineMode) Option {
	return func(e *Engine) { e.timeline = mode }
}

// WithExecutor overrides the executor of one step kind.
func WithExecutor(kind core.StepKind, ex Executor) Option {
	return func(e *Engine) { e.executors[kind] = ex }
}

// WithManualDispatch disables the runner goroutine. Queued steps only run
// inside Drain.
func WithManualDispatch() Option {
	return func(e *Engine) { e.manual = true }
}

// Engine drives one update workflow over the manager API. All state
// transitions happen under a single lock; step executors run outside it, one
// at a time, from a queue serviced by the runner goroutine (or Drain).
type Engine struct {
	api       core.ManagerAPI
	store     core.StateStore
	bus       *events.EventBus
	logger    *logging.Logger
	clock     func() time.Time
	polling   PollSettings
	clear     ClearSettings
	timeline  TimelineMode
	executors map[core.StepKind]Executor
	manual    bool

	mu         sync.Mutex
	state      *core.WorkflowState
	seq        *Sequencer
	gen        uint64
	queue      []uint64
	stepCancel context.CancelFunc
	session    Stopper
	rev        uint64

	persistMu sync.Mutex
	savedRev  uint64

	wake     chan struct{}
	baseCtx  context.Context
	shutdown context.CancelFunc
	loopDone chan struct{}
	closed   sync.Once
}

// NewEngine creates an engine. Call Initialize before Start.
func NewEngine(api core.ManagerAPI, opts ...Option) (*Engine, error) {
	if api == nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "manager API is required")
	}
	e := &Engine{
		api:       api,
		logger:    logging.NewNop(),
		clock:     time.Now,
		timeline:  TimelineLoop,
		executors: DefaultExecutors(),
		wake:      make(chan struct{}, 1),
		loopDone:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.polling.Clock == nil {
		e.polling.Clock = e.clock
	}
	switch e.timeline {
	case TimelineLoop, TimelineExpand:
	default:
		return nil, core.ErrValidation(core.CodeInvalidConfig,
			fmt.Sprintf("unknown migration timeline mode %q", e.timeline))
	}

	e.baseCtx, e.shutdown = context.WithCancel(context.Background())
	if e.manual {
		close(e.loopDone)
	} else {
		go e.loop()
	}
	return e, nil
}

// Close stops a running workflow and the runner goroutine.
func (e *Engine) Close() error {
	e.Stop()
	e.closed.Do(func() {
		e.shutdown()
		<-e.loopDone
	})
	return nil
}

// GetState returns a snapshot of the workflow, or nil before Initialize.
func (e *Engine) GetState() *core.WorkflowState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// Initialize builds a fresh timeline for cfg. It refuses while running.
func (e *Engine) Initialize(cfg core.WorkflowConfig) error {
	e.mu.Lock()
	if e.state != nil && e.state.IsRunning {
		e.mu.Unlock()
		return core.ErrState(core.CodeInvalidState, "cannot initialize while a workflow is running")
	}
	e.gen++
	e.queue = nil
	e.state = &core.WorkflowState{
		ID:     core.WorkflowID(uuid.NewString()),
		Steps:  BuildSteps(cfg),
		Config: cfg,
	}
	e.seq = NewSequencer(e.state, e.clock)
	e.logger.Info("workflow initialized", "workflow_id", e.state.ID, "steps", len(e.state.Steps),
		"dry_run", cfg.PerformDryRun, "skip_composer", cfg.SkipComposer)
	c := e.commitLocked(events.NewWorkflowEvent(events.TypeWorkflowInitialized, string(e.state.ID), ""))
	e.mu.Unlock()

	e.flush(c)
	return nil
}

// Restore loads the active snapshot from the store. A step that was running
// when the process died is marked cancelled and the workflow paused, so that
// Resume re-runs it. It reports whether a snapshot was found.
func (e *Engine) Restore(ctx context.Context) (bool, error) {
	if e.store == nil {
		return false, nil
	}
	state, err := e.store.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("loading workflow state: %w", err)
	}
	if state == nil {
		return false, nil
	}

	e.mu.Lock()
	if e.state != nil && e.state.IsRunning {
		e.mu.Unlock()
		return false, core.ErrState(core.CodeInvalidState, "cannot restore while a workflow is running")
	}
	e.gen++
	e.queue = nil
	e.state = state
	e.seq = NewSequencer(e.state, e.clock)
	if state.IsRunning {
		now := e.clock()
		for i := range state.Steps {
			if state.Steps[i].Status == core.StepActive {
				state.Steps[i].Status = core.StepCancelled
				state.Steps[i].EndTime = &now
			}
		}
		state.IsRunning = false
		state.IsPaused = true
	}
	e.logger.Info("workflow restored", "workflow_id", state.ID, "current_step", state.CurrentStep)
	c := e.commitLocked()
	e.mu.Unlock()

	e.flush(c)
	return true, nil
}

// Start begins (or continues) execution at the cursor.
func (e *Engine) Start() error {
	e.mu.Lock()
	if err := e.requireIdleLocked(); err != nil {
		e.mu.Unlock()
		if core.IsCategory(err, core.ErrCatConflict) {
			return nil
		}
		return err
	}
	if cur := e.seq.Current(); cur != nil && cur.Status == core.StepUserActionRequired {
		e.mu.Unlock()
		return awaitingError(cur)
	}
	if e.seq.AtEnd() {
		e.mu.Unlock()
		return core.ErrState(core.CodeInvalidState, "workflow already finished; initialize a new one")
	}
	c := e.commitLocked(e.runLocked(events.TypeWorkflowStarted)...)
	e.mu.Unlock()

	e.flush(c)
	return nil
}

// Stop halts the run: the active step is cancelled, its polling session is
// stopped before Stop returns and late results are discarded. Stopping an
// idle workflow does nothing.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state == nil || !e.state.IsRunning {
		e.mu.Unlock()
		return
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
	if cur := e.seq.Current(); cur != nil && cur.Status == core.StepActive {
		evs = append(evs, e.setStatusLocked(cur.ID, core.StepCancelled, now)...)
	}
	e.state.IsRunning = false
	e.state.IsPaused = true
	e.state.EndTime = &now
	e.logger.Info("workflow stopped", "workflow_id", e.state.ID, "current_step", e.state.CurrentStep)
	evs = append(evs, events.NewWorkflowEvent(events.TypeWorkflowStopped, string(e.state.ID), e.currentIDLocked()))
	c := e.commitLocked(evs...)
	e.mu.Unlock()

	// The session may be delivering a result that calls back into the engine;
	// stop it without holding the lock.
	if session != nil {
		session.Stop()
	}
	e.flush(c)
}

// Resume continues a paused or failed workflow at the cursor. A failed
// migration execution loops back to a fresh check first. Steps waiting for a
// user decision are not resumed; resolve them with their action instead.
func (e *Engine) Resume() error {
	return e.resume(false)
}

// RetryStep re-runs the failed or cancelled step at the cursor.
func (e *Engine) RetryStep() error {
	return e.resume(true)
}

func (e *Engine) resume(requireFailure bool) error {
	e.mu.Lock()
	if err := e.requireIdleLocked(); err != nil {
		e.mu.Unlock()
		if core.IsCategory(err, core.ErrCatConflict) {
			return nil
		}
		return err
	}
	cur := e.seq.Current()
	if cur == nil {
		e.mu.Unlock()
		if requireFailure {
			return core.ErrState(core.CodeInvalidState, "no step to retry")
		}
		return nil
	}
	if cur.Status == core.StepUserActionRequired {
		e.mu.Unlock()
		return awaitingError(cur)
	}
	failed := cur.Status == core.StepError || cur.Status == core.StepCancelled
	if requireFailure && !failed {
		e.mu.Unlock()
		return core.ErrState(core.CodeInvalidState, fmt.Sprintf("step %s is %s, not failed", cur.ID, cur.Status))
	}

	var evs []events.Event
	if failed && cur.Kind == core.KindExecuteMigrations {
		evs = append(evs, e.loopBackLocked(cur.ID)...)
	}
	evs = append(evs, e.runLocked(events.TypeWorkflowResumed)...)
	c := e.commitLocked(evs...)
	e.mu.Unlock()

	e.flush(c)
	return nil
}

// Drain runs queued steps on the calling goroutine until the queue is empty.
// Only available with WithManualDispatch.
func (e *Engine) Drain(ctx context.Context) error {
	if !e.manual {
		return core.ErrState(core.CodeInvalidState, "Drain requires manual dispatch")
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !e.dispatch(ctx) {
			return nil
		}
	}
}

func (e *Engine) loop() {
	defer close(e.loopDone)
	for {
		select {
		case <-e.baseCtx.Done():
			return
		case <-e.wake:
		}
		for e.dispatch(e.baseCtx) {
		}
	}
}

// dispatch runs one queued item and reports whether there was one.
func (e *Engine) dispatch(ctx context.Context) bool {
	e.mu.Lock()
	if len(e.queue) == 0 {
		e.mu.Unlock()
		return false
	}
	gen := e.queue[0]
	e.queue = e.queue[1:]
	e.mu.Unlock()

	e.runStep(ctx, gen)
	return true
}

func (e *Engine) enqueueLocked() {
	e.queue = append(e.queue, e.gen)
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) runStep(ctx context.Context, gen uint64) {
	e.mu.Lock()
	if gen != e.gen || e.state == nil || !e.state.IsRunning {
		e.mu.Unlock()
		return
	}
	cur := e.seq.Current()
	if cur == nil || cur.Status != core.StepActive {
		e.mu.Unlock()
		return
	}
	stepID := cur.ID
	executor, ok := e.executors[cur.Kind]
	stepCtx, cancel := context.WithCancel(ctx)
	e.stepCancel = cancel
	sc := &stepContext{
		engine: e,
		gen:    gen,
		ctx:    stepCtx,
		step:   cur.Clone(),
		state:  e.state.Clone(),
		logger: e.logger.WithWorkflow(string(e.state.ID)).WithStep(stepID),
	}
	e.mu.Unlock()

	var result core.TimelineResult
	if !ok {
		result = core.Failed(core.ErrState(core.CodeInvalidState,
			fmt.Sprintf("no executor for step kind %s", sc.step.Kind)), nil)
	} else {
		result = e.execute(executor, sc)
	}
	cancel()

	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		sc.logger.Debug("discarding result of a stopped run", "status", result.Status)
		return
	}
	e.stepCancel = nil
	c := e.commitLocked(e.applyResultLocked(stepID, result)...)
	e.mu.Unlock()

	e.flush(c)
}

func (e *Engine) execute(ex Executor, sc *stepContext) (result core.TimelineResult) {
	defer func() {
		if r := recover(); r != nil {
			sc.logger.Error("step executor panicked", "panic", r, "stack", string(debug.Stack()))
			result = core.Failed(fmt.Errorf("step %s panicked: %v", sc.step.ID, r), nil)
		}
	}()
	return ex.Execute(sc)
}

// applyResultLocked records an executor result and decides what runs next.
func (e *Engine) applyResultLocked(stepID string, res core.TimelineResult) []events.Event {
	data, err := core.MarshalData(res.Data)
	if err != nil {
		res = core.Failed(fmt.Errorf("encoding %s payload: %w", stepID, err), nil)
		data = nil
	}
	switch res.Status {
	case core.StepComplete:
		return e.completeStepLocked(stepID, res.Data, data)
	case core.StepUserActionRequired:
		return e.suspendStepLocked(stepID, data, res.UserActions, "")
	default:
		return e.failStepLocked(stepID, res.Err, data)
	}
}

func (e *Engine) completeStepLocked(stepID string, payload any, data json.RawMessage) []events.Event {
	now := e.clock()
	status := core.StepComplete
	noActions := []core.UserAction{}
	patch := StepPatch{Status: &status, EndTime: &now, UserActions: &noActions}
	if data != nil {
		patch.Data = &data
	}
	if err := e.seq.ReplaceStepAt(stepID, patch); err != nil {
		return e.haltLocked(stepID, err)
	}
	evs := e.stepEventsLocked(stepID)

	step, _ := e.seq.Get(stepID)
	switch step.Kind {
	case core.KindCheckManager:
		if st, ok := payload.(core.UpdateStatus); ok && !st.SelfUpdate.HasUpdate() {
			if next := e.seq.Next(core.KindUpdateManager); next != nil {
				id := next.ID
				if err := e.seq.MarkSkipped(id); err == nil {
					e.logger.Info("manager is up to date, skipping self-update",
						"version", st.SelfUpdate.CurrentVersion)
					evs = append(evs, e.stepEventsLocked(id)...)
				}
			}
		}
	case core.KindCheckMigrations:
		m, _ := payload.(core.Migration)
		return append(evs, e.migrationCheckedLocked(stepID, m)...)
	case core.KindExecuteMigrations:
		m, _ := payload.(core.Migration)
		return append(evs, e.migrationExecutedLocked(stepID, m)...)
	}

	e.seq.Advance()
	return append(evs, e.startCurrentLocked()...)
}

// suspendStepLocked parks a step on user actions and pauses the workflow.
func (e *Engine) suspendStepLocked(stepID string, data json.RawMessage, actions []core.UserAction, reason string) []events.Event {
	status := core.StepUserActionRequired
	patch := StepPatch{Status: &status, UserActions: &actions}
	if data != nil {
		patch.Data = &data
	}
	if err := e.seq.ReplaceStepAt(stepID, patch); err != nil {
		return e.haltLocked(stepID, err)
	}
	step, _ := e.seq.Get(stepID)
	if reason == "" {
		reason = step.Title + " needs a decision"
	}
	e.state.IsRunning = false
	e.state.IsPaused = true
	e.logger.Info("workflow paused", "workflow_id", e.state.ID, "step", stepID, "reason", reason)

	evs := e.stepEventsLocked(stepID)
	return append(evs, events.NewWorkflowPausedEvent(string(e.state.ID), stepID, reason))
}

func (e *Engine) failStepLocked(stepID string, cause error, data json.RawMessage) []events.Event {
	msg := "step failed"
	if cause != nil {
		msg = core.Message(cause)
	}
	now := e.clock()
	step, _ := e.seq.Get(stepID)

	status := core.StepError
	actions := failureActions(step, cause)
	patch := StepPatch{Status: &status, Error: &msg, EndTime: &now, UserActions: &actions}
	if data != nil {
		patch.Data = &data
	}
	var evs []events.Event
	if step.Kind == core.KindExecuteMigrations {
		entry, ev := e.historyEntryLocked(step, core.HistoryExecute, core.StepError, msg, data, now)
		patch.AppendHistory = []core.MigrationExecutionHistory{entry}
		evs = append(evs, ev)
	}
	if err := e.seq.ReplaceStepAt(stepID, patch); err != nil {
		return e.haltLocked(stepID, err)
	}

	e.state.IsRunning = false
	e.state.IsPaused = false
	e.state.EndTime = &now
	e.state.Error = fmt.Sprintf("%s: %s", step.Title, msg)
	e.logger.Error("step failed", "workflow_id", e.state.ID, "step", stepID, "error", msg)

	evs = append(e.stepEventsLocked(stepID), evs...)
	return append(evs, events.NewWorkflowFailedEvent(string(e.state.ID), stepID, msg))
}

// haltLocked ends the run after an internal inconsistency.
func (e *Engine) haltLocked(stepID string, err error) []events.Event {
	e.logger.Error("workflow halted", "workflow_id", e.state.ID, "step", stepID, "error", err)
	now := e.clock()
	if cur := e.seq.Current(); cur != nil && cur.Status == core.StepActive {
		e.setStatusLocked(cur.ID, core.StepError, now)
		cur.Error = core.Message(err)
	}
	e.state.IsRunning = false
	e.state.IsPaused = false
	e.state.Error = core.Message(err)
	return []events.Event{events.NewWorkflowFailedEvent(string(e.state.ID), stepID, e.state.Error)}
}

func failureActions(step *core.Step, cause error) []core.UserAction {
	actions := []core.UserAction{{ID: core.ActionRetryStep, Label: "Retry", Variant: core.VariantPrimary}}
	if core.IsCategory(cause, core.ErrCatConflict) {
		actions = append(actions, core.UserAction{
			ID: core.ActionClearPendingTasks, Label: "Clear pending tasks", Variant: core.VariantDanger,
		})
	}
	if step.Conditional {
		actions = append(actions, core.UserAction{ID: core.ActionSkipStep, Label: "Skip step", Variant: core.VariantSecondary})
	}
	return actions
}

// runLocked marks the workflow running and activates the step at the cursor.
func (e *Engine) runLocked(eventType string) []events.Event {
	e.gen++
	e.queue = nil
	now := e.clock()
	if e.state.StartTime == nil {
		e.state.StartTime = &now
	}
	e.state.EndTime = nil
	e.state.Error = ""
	e.state.IsPaused = false
	e.logger.Info("workflow running", "workflow_id", e.state.ID, "event", eventType, "current_step", e.state.CurrentStep)
	evs := []events.Event{events.NewWorkflowEvent(eventType, string(e.state.ID), e.currentIDLocked())}
	return append(evs, e.startCurrentLocked()...)
}

// startCurrentLocked passes done steps, then either finishes the workflow or
// activates the step at the cursor and queues its execution.
func (e *Engine) startCurrentLocked() []events.Event {
	for !e.seq.AtEnd() && e.seq.Current().Status.IsDone() {
		e.seq.Advance()
	}
	if e.seq.AtEnd() {
		return e.finishLocked()
	}

	cur := e.seq.Current()
	now := e.clock()
	active := core.StepActive
	noError := ""
	noActions := []core.UserAction{}
	err := e.seq.ReplaceStepAt(cur.ID, StepPatch{
		Status:       &active,
		StartTime:    &now,
		ClearEndTime: true,
		Error:        &noError,
		UserActions:  &noActions,
	})
	if err != nil {
		return e.haltLocked(cur.ID, err)
	}
	e.state.IsRunning = true
	e.state.IsPaused = false
	e.enqueueLocked()
	return e.stepEventsLocked(cur.ID)
}

func (e *Engine) finishLocked() []events.Event {
	now := e.clock()
	e.state.IsRunning = false
	e.state.IsPaused = false
	e.state.EndTime = &now
	e.state.PendingMigration = nil

	var duration time.Duration
	if e.state.StartTime != nil {
		duration = now.Sub(*e.state.StartTime)
	}
	skipped := e.state.Counts()[core.StepSkipped]
	e.logger.Info("workflow complete", "workflow_id", e.state.ID, "duration", duration,
		"skipped", skipped, "migration_cycles", e.state.MigrationCycle)
	return []events.Event{events.NewWorkflowCompletedEvent(string(e.state.ID), duration, skipped, e.state.MigrationCycle)}
}

// setStatusLocked moves a step to a terminal status and clears its actions.
func (e *Engine) setStatusLocked(stepID string, status core.StepStatus, at time.Time) []events.Event {
	noActions := []core.UserAction{}
	if err := e.seq.ReplaceStepAt(stepID, StepPatch{Status: &status, EndTime: &at, UserActions: &noActions}); err != nil {
		e.logger.Warn("status change rejected", "step", stepID, "error", err)
		return nil
	}
	return e.stepEventsLocked(stepID)
}

func (e *Engine) stepEventsLocked(stepID string) []events.Event {
	step, err := e.seq.Get(stepID)
	if err != nil {
		return nil
	}
	return []events.Event{events.NewStepEvent(events.StepTypeForStatus(step.Status), string(e.state.ID), *step)}
}

func (e *Engine) currentIDLocked() string {
	if cur := e.seq.Current(); cur != nil {
		return cur.ID
	}
	return ""
}

// requireIdleLocked fails when there is no workflow, and reports a running
// one as a conflict so callers can treat it as a no-op.
func (e *Engine) requireIdleLocked() error {
	if e.state == nil {
		return core.ErrState(core.CodeNotInitialized, "no workflow initialized")
	}
	if e.state.IsRunning {
		return core.ErrConflict(core.CodeInvalidState, "workflow is already running")
	}
	return nil
}

func awaitingError(step *core.Step) error {
	ids := make([]string, 0, len(step.UserActions))
	for _, a := range step.UserActions {
		ids = append(ids, a.ID)
	}
	return core.ErrState(core.CodeInvalidState,
		fmt.Sprintf("step %s awaits a decision, use one of %v", step.ID, ids))
}

type commit struct {
	state  *core.WorkflowState
	rev    uint64
	events []events.Event
}

// commitLocked stamps the state and captures what flush publishes.
func (e *Engine) commitLocked(evs ...events.Event) commit {
	e.state.UpdatedAt = e.clock()
	e.rev++
	if err := e.state.Validate(); err != nil {
		e.logger.Error("workflow invariant violated", "workflow_id", e.state.ID, "error", err)
	}
	snap := e.state.Clone()
	evs = append(evs, events.NewStateUpdatedEvent(snap.Clone()))
	return commit{state: snap, rev: e.rev, events: evs}
}

// flush persists and publishes a commit. Called without the engine lock.
func (e *Engine) flush(c commit) {
	if e.store != nil {
		e.persistMu.Lock()
		if c.rev > e.savedRev {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := e.store.Save(ctx, c.state); err != nil {
				e.logger.Warn("saving workflow state failed", "workflow_id", c.state.ID, "error", err)
			} else {
				e.savedRev = c.rev
			}
			cancel()
		}
		e.persistMu.Unlock()
	}
	if e.bus != nil {
		for _, ev := range c.events {
			e.bus.Publish(ev)
		}
	}
}

// progress stores an intermediate payload of the running step.
func (e *Engine) progress(gen uint64, stepID string, data any) {
	raw, err := core.MarshalData(data)
	if err != nil || raw == nil {
		return
	}
	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return
	}
	step, err := e.seq.Get(stepID)
	if err != nil || step.Status != core.StepActive {
		e.mu.Unlock()
		return
	}
	step.Data = raw
	e.state.UpdatedAt = e.clock()
	snap := e.state.Clone()
	ev := events.NewStepEvent(events.TypeStepProgress, string(e.state.ID), *step)
	e.mu.Unlock()

	if e.bus != nil {
		e.bus.Publish(ev)
		e.bus.Publish(events.NewStateUpdatedEvent(snap))
	}
}

func (e *Engine) track(gen uint64, s Stopper) (func(), bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen {
		return nil, false
	}
	e.session = s
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.session == s {
			e.session = nil
		}
	}, true
}

// stepContext is the StepContext handed to executors.
type stepContext struct {
	engine *Engine
	gen    uint64
	ctx    context.Context
	step   core.Step
	state  *core.WorkflowState
	logger *logging.Logger
}

func (c *stepContext) Context() context.Context    { return c.ctx }
func (c *stepContext) API() core.ManagerAPI        { return c.engine.api }
func (c *stepContext) Config() core.WorkflowConfig { return c.state.Config }
func (c *stepContext) Step() core.Step             { return c.step }
func (c *stepContext) State() *core.WorkflowState  { return c.state }
func (c *stepContext) Logger() *logging.Logger     { return c.logger }
func (c *stepContext) Polling() PollSettings       { return c.engine.polling }

func (c *stepContext) Progress(data any) {
	c.engine.progress(c.gen, c.step.ID, data)
}

func (c *stepContext) Track(s Stopper) (func(), bool) {
	return c.engine.track(c.gen, s)
}
