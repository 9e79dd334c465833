package state

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/upgrader/internal/core"
)

func newTestState(id string, updated time.Time) *core.WorkflowState {
	start := updated.Add(-time.Minute)
	return &core.WorkflowState{
		ID:          core.WorkflowID(id),
		CurrentStep: 1,
		Steps: []core.Step{
			{
				ID:        string(core.KindCheckTasks),
				Kind:      core.KindCheckTasks,
				Title:     "Check pending tasks",
				Status:    core.StepComplete,
				Data:      json.RawMessage(`{"task":null}`),
				StartTime: &start,
				EndTime:   &updated,
			},
			{
				ID:          string(core.KindCheckMigrations),
				Kind:        core.KindCheckMigrations,
				Title:       "Check database migrations",
				Status:      core.StepUserActionRequired,
				Conditional: true,
				UserActions: []core.UserAction{
					{ID: core.ActionConfirmMigrations, Label: "Execute", Variant: core.VariantPrimary},
				},
			},
		},
		IsPaused:       true,
		Config:         core.WorkflowConfig{PerformDryRun: true},
		StartTime:      &start,
		MigrationCycle: 1,
		PendingMigration: &core.PendingMigration{
			Hash:  "abc123",
			Cycle: 1,
		},
		UpdatedAt: updated,
	}
}

func TestJSONStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	store := NewJSONStore(t.TempDir())
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	if err := store.Save(ctx, newTestState("wf-1", now)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded == nil {
		t.Fatal("Load() returned nil")
	}
	if loaded.ID != "wf-1" {
		t.Errorf("ID = %q, want wf-1", loaded.ID)
	}
	if len(loaded.Steps) != 2 {
		t.Fatalf("len(Steps) = %d, want 2", len(loaded.Steps))
	}
	if loaded.Steps[1].Status != core.StepUserActionRequired {
		t.Errorf("Steps[1].Status = %s", loaded.Steps[1].Status)
	}
	if !loaded.Steps[1].HasAction(core.ActionConfirmMigrations) {
		t.Error("user actions not restored")
	}
	if loaded.PendingMigration == nil || loaded.PendingMigration.Hash != "abc123" {
		t.Errorf("PendingMigration = %+v", loaded.PendingMigration)
	}
	if !loaded.UpdatedAt.Equal(now) {
		t.Errorf("UpdatedAt = %v, want %v", loaded.UpdatedAt, now)
	}
}

func TestJSONStore_LoadEmpty(t *testing.T) {
	store := NewJSONStore(t.TempDir())

	state, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if state != nil {
		t.Errorf("Load() = %+v, want nil", state)
	}

	state, err = store.LoadByID(context.Background(), "missing")
	if err != nil || state != nil {
		t.Errorf("LoadByID(missing) = %v, %v", state, err)
	}
}

func TestJSONStore_SaveDoesNotMutate(t *testing.T) {
	store := NewJSONStore(t.TempDir())
	state := newTestState("wf-1", time.Now())
	before, _ := json.Marshal(state)

	if err := store.Save(context.Background(), state); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	after, _ := json.Marshal(state)
	if string(before) != string(after) {
		t.Error("Save() modified the state")
	}
}

func TestJSONStore_ActiveFollowsLastSave(t *testing.T) {
	ctx := context.Background()
	store := NewJSONStore(t.TempDir())
	now := time.Now().UTC()

	for _, id := range []string{"wf-1", "wf-2"} {
		if err := store.Save(ctx, newTestState(id, now)); err != nil {
			t.Fatalf("Save(%s) error = %v", id, err)
		}
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.ID != "wf-2" {
		t.Errorf("active = %s, want wf-2", loaded.ID)
	}

	first, err := store.LoadByID(ctx, "wf-1")
	if err != nil || first == nil {
		t.Fatalf("LoadByID(wf-1) = %v, %v", first, err)
	}
}

func TestJSONStore_BackupRecovery(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewJSONStore(dir)

	state := newTestState("wf-1", time.Now().UTC())
	if err := store.Save(ctx, state); err != nil {
		t.Fatalf("first Save() error = %v", err)
	}
	state.CurrentStep = 2
	state.Steps[1].Status = core.StepComplete
	state.Steps[1].UserActions = nil
	if err := store.Save(ctx, state); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	path := filepath.Join(dir, "workflows", "wf-1.json")
	if _, err := os.Stat(path + ".bak"); err != nil {
		t.Fatalf("backup missing: %v", err)
	}
	if err := os.WriteFile(path, []byte(`{"version":1,"checksum":"bogus","state":{"id":"wf-1"}}`), 0o600); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.CurrentStep != 1 {
		t.Errorf("CurrentStep = %d, want 1 from backup", loaded.CurrentStep)
	}
}

func TestJSONStore_CorruptWithoutBackup(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewJSONStore(dir)

	if err := store.Save(ctx, newTestState("wf-1", time.Now())); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	path := filepath.Join(dir, "workflows", "wf-1.json")
	if err := os.WriteFile(path, []byte("not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Load(ctx); err == nil {
		t.Error("Load() should fail on a corrupt file without backup")
	}
}

func TestJSONStore_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	store := NewJSONStore(t.TempDir())
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"wf-old", "wf-new"} {
		if err := store.Save(ctx, newTestState(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("Save(%s) error = %v", id, err)
		}
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len(List()) = %d, want 2", len(list))
	}
	if list[0].ID != "wf-new" || list[1].ID != "wf-old" {
		t.Errorf("List() order = %s, %s", list[0].ID, list[1].ID)
	}
	if list[0].TotalSteps != 2 || !list[0].IsPaused {
		t.Errorf("summary = %+v", list[0])
	}

	if err := store.Delete(ctx, "wf-new"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	active, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if active != nil {
		t.Errorf("active run should be cleared after delete, got %s", active.ID)
	}
	list, _ = store.List(ctx)
	if len(list) != 1 {
		t.Errorf("len(List()) = %d after delete, want 1", len(list))
	}
}

func TestJSONStore_RejectsUnsafeIDs(t *testing.T) {
	store := NewJSONStore(t.TempDir())
	for _, id := range []string{"", "../escape", "a/b", `a\b`} {
		state := newTestState(id, time.Now())
		err := store.Save(context.Background(), state)
		if !core.IsCategory(err, core.ErrCatValidation) {
			t.Errorf("Save(%q) error = %v, want validation error", id, err)
		}
	}
}
