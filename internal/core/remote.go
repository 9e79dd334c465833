package core

import (
	"encoding/json"
	"strings"
)

// TaskStatus is the status the remote side reports for its single task slot.
type TaskStatus string

const (
	TaskActive   TaskStatus = "active"
	TaskAborting TaskStatus = "aborting"
	TaskComplete TaskStatus = "complete"
	TaskError    TaskStatus = "error"
	TaskStopped  TaskStatus = "stopped"
	TaskFailed   TaskStatus = "failed"
)

// IsRunning reports whether the remote task is still doing work.
func (s TaskStatus) IsRunning() bool {
	return s == TaskActive || s == TaskAborting
}

// Remote task names.
const (
	TaskManagerSelfUpdate = "manager/self-update"
	TaskComposerUpdate    = "composer/update"
)

// TaskOperation is one sub-operation of a remote task.
type TaskOperation struct {
	Summary string     `json:"summary"`
	Details string     `json:"details,omitempty"`
	Console string     `json:"console,omitempty"`
	Status  TaskStatus `json:"status"`
}

// Task is the remote asynchronous job occupying the single task slot.
type Task struct {
	ID          string          `json:"id,omitempty"`
	Title       string          `json:"title,omitempty"`
	Status      TaskStatus      `json:"status,omitempty"`
	Console     string          `json:"console,omitempty"`
	Cancellable bool            `json:"cancellable,omitempty"`
	Autoclose   bool            `json:"autoclose,omitempty"`
	Operations  []TaskOperation `json:"operations,omitempty"`
}

// IsEmpty reports whether the slot is free (204 or {}).
func (t Task) IsEmpty() bool {
	return t.ID == "" && t.Status == "" && t.Title == "" && len(t.Operations) == 0
}

// FailureSummary collects the summaries of failed operations, falling back
// to the task title.
func (t Task) FailureSummary() string {
	var parts []string
	for _, op := range t.Operations {
		if op.Status == TaskError || op.Status == TaskFailed {
			parts = append(parts, op.Summary)
		}
	}
	if len(parts) == 0 {
		return t.Title
	}
	return strings.Join(parts, "; ")
}

// TaskRequest creates a remote task.
type TaskRequest struct {
	Name   string         `json:"name"`
	Config map[string]any `json:"config,omitempty"`
}

// MigrationStatus is the status of the remote migration slot.
type MigrationStatus string

const (
	MigrationActive   MigrationStatus = "active"
	MigrationPending  MigrationStatus = "pending"
	MigrationComplete MigrationStatus = "complete"
	MigrationError    MigrationStatus = "error"
)

// MigrationOperation is one schema change or migration reported by a check
// or performed by an execution.
type MigrationOperation struct {
	Name    string          `json:"name"`
	Status  MigrationStatus `json:"status,omitempty"`
	Message string          `json:"message,omitempty"`
}

// IsDelete reports whether the operation drops data.
func (o MigrationOperation) IsDelete() bool {
	n := strings.ToUpper(o.Name)
	return strings.HasPrefix(n, "DROP ") || strings.Contains(n, " DROP ")
}

// Migration is the remote database-migration slot.
type Migration struct {
	Type       string               `json:"type,omitempty"`
	Status     MigrationStatus      `json:"status,omitempty"`
	Hash       string               `json:"hash,omitempty"`
	Operations []MigrationOperation `json:"operations,omitempty"`
}

// IsEmpty reports whether the slot is free (204 or {}).
func (m Migration) IsEmpty() bool {
	return m.Type == "" && m.Status == "" && m.Hash == "" && len(m.Operations) == 0
}

// IsRunning reports whether the remote side is still checking or migrating.
func (m Migration) IsRunning() bool {
	return m.Status == MigrationActive
}

// HasPending reports whether a finished check found work to do.
func (m Migration) HasPending() bool {
	return m.Hash != ""
}

// HasDeletes reports whether any pending operation drops data.
func (m Migration) HasDeletes() bool {
	for _, op := range m.Operations {
		if op.IsDelete() {
			return true
		}
	}
	return false
}

// FailureSummary collects the messages of failed operations.
func (m Migration) FailureSummary() string {
	var parts []string
	for _, op := range m.Operations {
		if op.Status == MigrationError {
			if op.Message != "" {
				parts = append(parts, op.Name+": "+op.Message)
			} else {
				parts = append(parts, op.Name)
			}
		}
	}
	return strings.Join(parts, "; ")
}

// Clone returns a deep copy.
func (m Migration) Clone() Migration {
	out := m
	if m.Operations != nil {
		out.Operations = append([]MigrationOperation(nil), m.Operations...)
	}
	return out
}

// MigrationRequest starts a check (no hash) or an execution (hash set).
type MigrationRequest struct {
	Hash        string `json:"hash,omitempty"`
	WithDeletes bool   `json:"withDeletes,omitempty"`
}

// SelfUpdate is the manager's own version status.
type SelfUpdate struct {
	CurrentVersion string `json:"current_version"`
	LatestVersion  string `json:"latest_version"`
	Channel        string `json:"channel,omitempty"`
	Supported      bool   `json:"supported,omitempty"`
}

// HasUpdate reports whether a newer manager is available.
func (s SelfUpdate) HasUpdate() bool {
	return s.LatestVersion != "" && s.CurrentVersion != s.LatestVersion
}

// UpdateStatus is the remote update status document.
type UpdateStatus struct {
	SelfUpdate SelfUpdate `json:"selfUpdate"`
}

// VersionInfo is returned after the remote refreshed its version records.
type VersionInfo struct {
	Version    string          `json:"version,omitempty"`
	Build      string          `json:"build,omitempty"`
	Components json.RawMessage `json:"components,omitempty"`
}
