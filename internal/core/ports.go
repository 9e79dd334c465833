package core

import (
	"context"
)

// ManagerAPI is the remote management API consumed by the update engine.
// Empty responses (HTTP 204 or {}) come back as zero values, not errors.
type ManagerAPI interface {
	// GetTaskData returns the active task, or an empty Task when the slot is free.
	GetTaskData(ctx context.Context) (Task, error)

	// SetTaskData creates a task. Fails if a task already occupies the slot.
	SetTaskData(ctx context.Context, req TaskRequest) (Task, error)

	// PatchTaskStatus requests a status change, typically "aborting".
	PatchTaskStatus(ctx context.Context, status TaskStatus) (Task, error)

	// DeleteTaskData archives and clears a finished task. Fails while it is active.
	DeleteTaskData(ctx context.Context) error

	// GetUpdateStatus returns the manager self-update status.
	GetUpdateStatus(ctx context.Context) (UpdateStatus, error)

	// GetDatabaseMigrationStatus returns the migration slot, or an empty Migration.
	GetDatabaseMigrationStatus(ctx context.Context) (Migration, error)

	// StartDatabaseMigration checks (no hash) or executes (hash) migrations.
	StartDatabaseMigration(ctx context.Context, req MigrationRequest) (Migration, error)

	// DeleteDatabaseMigrationTask clears the migration slot.
	DeleteDatabaseMigrationTask(ctx context.Context) error

	// UpdateVersionInfo makes the remote refresh its recorded versions.
	UpdateVersionInfo(ctx context.Context) (VersionInfo, error)
}

// StateStore persists engine snapshots so an interrupted run can be resumed.
type StateStore interface {
	// Save persists the snapshot and marks it as the active run.
	Save(ctx context.Context, state *WorkflowState) error

	// Load returns the active run, or nil and no error when none exists.
	Load(ctx context.Context) (*WorkflowState, error)

	// LoadByID returns a specific run, or nil and no error when it does not exist.
	LoadByID(ctx context.Context, id WorkflowID) (*WorkflowState, error)

	// List returns summaries of all stored runs, newest first.
	List(ctx context.Context) ([]WorkflowSummary, error)

	// Delete removes a stored run.
	Delete(ctx context.Context, id WorkflowID) error
}
