package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/upgrader/internal/core"
)

// FakeManager is a scriptable in-memory implementation of core.ManagerAPI.
// It models the single task slot and the single migration slot of a real
// manager: creating a task fills the slot, polls walk through a scripted
// sequence of snapshots and deleting empties the slot again.
type FakeManager struct {
	mu sync.Mutex

	// Update is returned by GetUpdateStatus.
	Update core.UpdateStatus

	// Versions is returned by UpdateVersionInfo.
	Versions core.VersionInfo

	// TaskScripts maps a task name to the snapshots successive polls return.
	// The last snapshot repeats. Unscripted tasks complete on the first poll.
	TaskScripts map[string][]core.Task

	// MigrationChecks are the final results of successive migration checks.
	// Once exhausted, checks report nothing pending.
	MigrationChecks []core.Migration

	// MigrationRuns are the final results of successive executions. Once
	// exhausted, executions complete.
	MigrationRuns []core.Migration

	// ActivePolls is how many "active" migration snapshots precede the result.
	ActivePolls int

	// AbortAfterDeletes is how many DeleteTaskData calls fail on an aborting
	// task before it reports stopped.
	AbortAfterDeletes int

	// Errors injects a failure per method name. Entries persist until removed.
	Errors map[string]error

	// OnCall runs before every method with the method name.
	OnCall func(method string)

	task       core.Task
	taskName   string
	created    bool
	taskPolls  int
	migration  core.Migration
	migResult  core.Migration
	migPolls   int
	checks     int
	runs       int
	lastHash   string
	abortTries int
	calls      []MockCall
}

// MockCall records a call to the fake.
type MockCall struct {
	Method    string
	Args      interface{}
	Timestamp time.Time
}

// NewFakeManager creates a fake with no pending work and no manager update.
func NewFakeManager() *FakeManager {
	return &FakeManager{
		Update: core.UpdateStatus{SelfUpdate: core.SelfUpdate{
			CurrentVersion: "1.9.0",
			LatestVersion:  "1.9.0",
		}},
		Versions:    core.VersionInfo{Version: "5.3.1"},
		TaskScripts: make(map[string][]core.Task),
		Errors:      make(map[string]error),
	}
}

// SetTask occupies the task slot directly, as if left over by another client.
func (f *FakeManager) SetTask(task core.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.task = task
	f.taskName = task.ID
	f.created = false
	f.taskPolls = 0
	f.abortTries = 0
}

// SetMigration occupies the migration slot directly.
func (f *FakeManager) SetMigration(m core.Migration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.migration = m
	f.migResult = m
	f.migPolls = f.ActivePolls
}

// CurrentTask returns what the task slot holds.
func (f *FakeManager) CurrentTask() core.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.task
}

// CurrentMigration returns what the migration slot holds.
func (f *FakeManager) CurrentMigration() core.Migration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.migration
}

// SetError injects or clears (nil) a failure for a method.
func (f *FakeManager) SetError(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.Errors, method)
		return
	}
	f.Errors[method] = err
}

// Calls returns the recorded calls.
func (f *FakeManager) Calls() []MockCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]MockCall(nil), f.calls...)
}

// CallCount returns how often a method was called.
func (f *FakeManager) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// MigrationRequests returns the arguments of every StartDatabaseMigration call.
func (f *FakeManager) MigrationRequests() []core.MigrationRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []core.MigrationRequest
	for _, c := range f.calls {
		if req, ok := c.Args.(core.MigrationRequest); ok {
			out = append(out, req)
		}
	}
	return out
}

// enter records a call and returns the injected error, if any. The returned
// unlock must be deferred.
func (f *FakeManager) enter(ctx context.Context, method string, args interface{}) (func(), error) {
	if f.OnCall != nil {
		f.OnCall(method)
	}
	f.mu.Lock()
	f.calls = append(f.calls, MockCall{Method: method, Args: args, Timestamp: time.Now()})
	if err := ctx.Err(); err != nil {
		return f.mu.Unlock, err
	}
	return f.mu.Unlock, f.Errors[method]
}

// GetTaskData returns the next scripted snapshot of a task created through
// SetTaskData. Planted tasks are returned unchanged.
func (f *FakeManager) GetTaskData(ctx context.Context) (core.Task, error) {
	unlock, err := f.enter(ctx, "GetTaskData", nil)
	defer unlock()
	if err != nil {
		return core.Task{}, err
	}
	if f.task.IsEmpty() {
		return core.Task{}, nil
	}
	if !f.created || f.task.Status == core.TaskAborting {
		return f.task, nil
	}

	script := f.TaskScripts[f.taskName]
	if len(script) == 0 {
		script = []core.Task{{Status: core.TaskComplete}}
	}
	idx := f.taskPolls
	if idx >= len(script) {
		idx = len(script) - 1
	}
	f.taskPolls++

	snap := script[idx]
	if snap.IsEmpty() {
		f.task = core.Task{}
		f.created = false
		return core.Task{}, nil
	}
	if snap.ID == "" {
		snap.ID = f.taskName
	}
	f.task = snap
	return snap, nil
}

// SetTaskData fills the task slot. It fails while the slot is occupied.
func (f *FakeManager) SetTaskData(ctx context.Context, req core.TaskRequest) (core.Task, error) {
	unlock, err := f.enter(ctx, "SetTaskData", req)
	defer unlock()
	if err != nil {
		return core.Task{}, err
	}
	if !f.task.IsEmpty() {
		return core.Task{}, core.ErrRemote(core.CodeRemoteError,
			fmt.Sprintf("task %s is already running", f.task.ID))
	}
	f.taskName = req.Name
	f.taskPolls = 0
	f.created = true
	f.task = core.Task{ID: req.Name, Title: req.Name, Status: core.TaskActive}
	return f.task, nil
}

// PatchTaskStatus only understands "aborting".
func (f *FakeManager) PatchTaskStatus(ctx context.Context, status core.TaskStatus) (core.Task, error) {
	unlock, err := f.enter(ctx, "PatchTaskStatus", status)
	defer unlock()
	if err != nil {
		return core.Task{}, err
	}
	if f.task.IsEmpty() {
		return core.Task{}, core.ErrRemote(core.CodeRemoteError, "no task to update")
	}
	if status != core.TaskAborting {
		return core.Task{}, core.ErrValidation("BAD_STATUS", fmt.Sprintf("cannot set status %s", status))
	}
	f.task.Status = core.TaskAborting
	f.abortTries = 0
	return f.task, nil
}

// DeleteTaskData empties the slot. Running tasks refuse; an aborting task
// turns stopped after AbortAfterDeletes refusals.
func (f *FakeManager) DeleteTaskData(ctx context.Context) error {
	unlock, err := f.enter(ctx, "DeleteTaskData", nil)
	defer unlock()
	if err != nil {
		return err
	}
	if f.task.IsEmpty() {
		return nil
	}
	if f.task.Status == core.TaskAborting {
		if f.abortTries < f.AbortAfterDeletes {
			f.abortTries++
			return core.ErrRemote(core.CodeRemoteError, "task is still aborting")
		}
		f.task.Status = core.TaskStopped
	}
	if f.task.Status.IsRunning() {
		return core.ErrRemote(core.CodeRemoteError, "cannot delete a running task")
	}
	f.task = core.Task{}
	f.taskName = ""
	f.created = false
	return nil
}

// GetUpdateStatus returns Update.
func (f *FakeManager) GetUpdateStatus(ctx context.Context) (core.UpdateStatus, error) {
	unlock, err := f.enter(ctx, "GetUpdateStatus", nil)
	defer unlock()
	if err != nil {
		return core.UpdateStatus{}, err
	}
	return f.Update, nil
}

// GetDatabaseMigrationStatus reports "active" ActivePolls times, then the result.
func (f *FakeManager) GetDatabaseMigrationStatus(ctx context.Context) (core.Migration, error) {
	unlock, err := f.enter(ctx, "GetDatabaseMigrationStatus", nil)
	defer unlock()
	if err != nil {
		return core.Migration{}, err
	}
	if f.migration.IsEmpty() {
		return core.Migration{}, nil
	}
	if f.migration.IsRunning() {
		if f.migPolls > 0 {
			f.migPolls--
			return f.migration.Clone(), nil
		}
		f.migration = f.migResult.Clone()
	}
	return f.migration.Clone(), nil
}

// StartDatabaseMigration starts a check (no hash) or an execution (hash).
// Executions must use the hash of the last check.
func (f *FakeManager) StartDatabaseMigration(ctx context.Context, req core.MigrationRequest) (core.Migration, error) {
	unlock, err := f.enter(ctx, "StartDatabaseMigration", req)
	defer unlock()
	if err != nil {
		return core.Migration{}, err
	}
	if !f.migration.IsEmpty() {
		return core.Migration{}, core.ErrRemote(core.CodeRemoteError, "a migration task already exists")
	}

	var result core.Migration
	if req.Hash == "" {
		result = core.Migration{Type: "migrate", Status: core.MigrationComplete}
		if f.checks < len(f.MigrationChecks) {
			result = f.MigrationChecks[f.checks].Clone()
		}
		f.checks++
		f.lastHash = result.Hash
	} else {
		if req.Hash != f.lastHash {
			return core.Migration{}, core.ErrRemote(core.CodeRemoteError,
				fmt.Sprintf("hash %s does not match the last check", req.Hash))
		}
		result = core.Migration{Type: "migrate", Status: core.MigrationComplete, Hash: req.Hash}
		if f.runs < len(f.MigrationRuns) {
			result = f.MigrationRuns[f.runs].Clone()
		}
		f.runs++
	}

	f.migResult = result
	f.migPolls = f.ActivePolls
	f.migration = core.Migration{Type: result.Type, Status: core.MigrationActive, Hash: req.Hash}
	return f.migration.Clone(), nil
}

// DeleteDatabaseMigrationTask empties the migration slot.
func (f *FakeManager) DeleteDatabaseMigrationTask(ctx context.Context) error {
	unlock, err := f.enter(ctx, "DeleteDatabaseMigrationTask", nil)
	defer unlock()
	if err != nil {
		return err
	}
	if f.migration.IsRunning() {
		return core.ErrRemote(core.CodeRemoteError, "cannot delete a running migration")
	}
	f.migration = core.Migration{}
	return nil
}

// UpdateVersionInfo returns Versions.
func (f *FakeManager) UpdateVersionInfo(ctx context.Context) (core.VersionInfo, error) {
	unlock, err := f.enter(ctx, "UpdateVersionInfo", nil)
	defer unlock()
	if err != nil {
		return core.VersionInfo{}, err
	}
	return f.Versions, nil
}

// PendingMigration builds a finished check result with the given hash and
// operations.
func PendingMigration(hash string, operations ...string) core.Migration {
	m := core.Migration{Type: "migrate", Status: core.MigrationPending, Hash: hash}
	for _, op := range operations {
		m.Operations = append(m.Operations, core.MigrationOperation{Name: op, Status: core.MigrationPending})
	}
	return m
}

// FailedMigration builds a finished execution result with an error.
func FailedMigration(hash, message string) core.Migration {
	return core.Migration{
		Type:   "migrate",
		Status: core.MigrationError,
		Hash:   hash,
		Operations: []core.MigrationOperation{
			{Name: "ALTER TABLE tl_page ADD COLUMN foo", Status: core.MigrationError, Message: message},
		},
	}
}

// ActiveTask builds a running task snapshot.
func ActiveTask(name string) core.Task {
	return core.Task{ID: name, Title: name, Status: core.TaskActive}
}
