package state

import (
	"context"
	"crypto/sha256"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hugo-lorenzo-mato/upgrader/internal/core"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// SQLiteStore implements core.StateStore on a SQLite database.
type SQLiteStore struct {
	dbPath string
	db     *sql.DB
	mu     sync.RWMutex
}

// NewSQLiteStore opens (or creates) the database at dbPath and applies
// pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s := &SQLiteStore{dbPath: dbPath, db: db}

	if err := s.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) migrate() error {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		// Table doesn't exist yet
		version = 0
	}

	if version < 1 {
		if _, err := s.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

// Save upserts the snapshot and points active_workflow at it in one
// transaction.
func (s *SQLiteStore) Save(ctx context.Context, state *core.WorkflowState) error {
	if state == nil || state.ID == "" {
		return core.ErrValidation("INVALID_STATE", "cannot save a state without id")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}
	sum := sha256.Sum256(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	updatedAt := state.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflows (
			id, current_step, total_steps, is_running, is_paused, error,
			migration_cycle, state_json, checksum, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			current_step = excluded.current_step,
			total_steps = excluded.total_steps,
			is_running = excluded.is_running,
			is_paused = excluded.is_paused,
			error = excluded.error,
			migration_cycle = excluded.migration_cycle,
			state_json = excluded.state_json,
			checksum = excluded.checksum,
			updated_at = excluded.updated_at
	`,
		string(state.ID), state.CurrentStep, len(state.Steps), state.IsRunning, state.IsPaused,
		state.Error, state.MigrationCycle, string(data), hex.EncodeToString(sum[:]),
		now, updatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting workflow: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO active_workflow (id, workflow_id, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			workflow_id = excluded.workflow_id,
			updated_at = excluded.updated_at
	`, string(state.ID), now)
	if err != nil {
		return fmt.Errorf("setting active workflow: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Load returns the active run.
func (s *SQLiteStore) Load(ctx context.Context) (*core.WorkflowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var id string
	err := s.db.QueryRowContext(ctx, "SELECT workflow_id FROM active_workflow WHERE id = 1").Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting active workflow ID: %w", err)
	}
	return s.loadByID(ctx, core.WorkflowID(id))
}

// LoadByID returns a stored run.
func (s *SQLiteStore) LoadByID(ctx context.Context, id core.WorkflowID) (*core.WorkflowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadByID(ctx, id)
}

func (s *SQLiteStore) loadByID(ctx context.Context, id core.WorkflowID) (*core.WorkflowState, error) {
	var data, checksum string
	err := s.db.QueryRowContext(ctx,
		"SELECT state_json, checksum FROM workflows WHERE id = ?", string(id),
	).Scan(&data, &checksum)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading workflow %s: %w", id, err)
	}

	sum := sha256.Sum256([]byte(data))
	if hex.EncodeToString(sum[:]) != checksum {
		return nil, core.ErrState(CodeStateCorrupted, fmt.Sprintf("checksum mismatch for workflow %s", id))
	}

	var state core.WorkflowState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("unmarshaling workflow %s: %w", id, err)
	}
	return &state, nil
}

// List returns summaries of every stored run, newest first.
func (s *SQLiteStore) List(ctx context.Context) ([]core.WorkflowSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, current_step, total_steps, is_running, is_paused, error, updated_at
		FROM workflows
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("listing workflows: %w", err)
	}
	defer rows.Close()

	var summaries []core.WorkflowSummary
	for rows.Next() {
		var (
			sum core.WorkflowSummary
			id  string
		)
		if err := rows.Scan(&id, &sum.CurrentStep, &sum.TotalSteps, &sum.IsRunning,
			&sum.IsPaused, &sum.Error, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning workflow summary: %w", err)
		}
		sum.ID = core.WorkflowID(id)
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating workflow summaries: %w", err)
	}
	return summaries, nil
}

// Delete removes a run. The active pointer goes with it.
func (s *SQLiteStore) Delete(ctx context.Context, id core.WorkflowID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM workflows WHERE id = ?", string(id)); err != nil {
		return fmt.Errorf("deleting workflow %s: %w", id, err)
	}
	return nil
}

var _ core.StateStore = (*SQLiteStore)(nil)
