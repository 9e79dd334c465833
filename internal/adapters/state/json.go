package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/upgrader/internal/core"
)

// CodeStateCorrupted marks a snapshot whose checksum does not match.
const CodeStateCorrupted = "STATE_CORRUPTED"

const envelopeVersion = 1

// stateEnvelope wraps a snapshot with an integrity checksum.
type stateEnvelope struct {
	Version  int                 `json:"version"`
	Checksum string              `json:"checksum"`
	SavedAt  time.Time           `json:"saved_at"`
	State    *core.WorkflowState `json:"state"`
}

// JSONStore keeps one JSON file per workflow run under dir/workflows and the
// id of the active run in dir/active. Every write is atomic; the previous
// version of a run is kept as a .bak file and used when the primary fails
// its checksum.
type JSONStore struct {
	dir string
	mu  sync.Mutex
}

// NewJSONStore creates a store rooted at dir.
func NewJSONStore(dir string) *JSONStore {
	return &JSONStore{dir: dir}
}

// Dir returns the store directory.
func (s *JSONStore) Dir() string {
	return s.dir
}

func (s *JSONStore) workflowPath(id core.WorkflowID) (string, error) {
	name := string(id)
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", core.ErrValidation("INVALID_ID", fmt.Sprintf("invalid workflow id %q", name))
	}
	return filepath.Join(s.dir, "workflows", name+".json"), nil
}

func (s *JSONStore) activePath() string {
	return filepath.Join(s.dir, "active")
}

// Save writes the snapshot and marks it active.
func (s *JSONStore) Save(_ context.Context, state *core.WorkflowState) error {
	if state == nil {
		return core.ErrValidation("INVALID_STATE", "cannot save a nil state")
	}
	path, err := s.workflowPath(state.ID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	checksum, err := checksumOf(state)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(stateEnvelope{
		Version:  envelopeVersion,
		Checksum: checksum,
		SavedAt:  time.Now(),
		State:    state,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}

	if prev, err := os.ReadFile(path); err == nil {
		if err := atomicWriteFile(path+".bak", prev, 0o600); err != nil {
			return fmt.Errorf("creating backup: %w", err)
		}
	}
	if err := atomicWriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := atomicWriteFile(s.activePath(), []byte(state.ID), 0o600); err != nil {
		return fmt.Errorf("marking active workflow: %w", err)
	}
	return nil
}

// Load returns the active run.
func (s *JSONStore) Load(ctx context.Context) (*core.WorkflowState, error) {
	s.mu.Lock()
	data, err := os.ReadFile(s.activePath())
	s.mu.Unlock()
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading active workflow: %w", err)
	}
	id := strings.TrimSpace(string(data))
	if id == "" {
		return nil, nil
	}
	return s.LoadByID(ctx, core.WorkflowID(id))
}

// LoadByID returns a stored run, falling back to its backup when the
// primary file is damaged.
func (s *JSONStore) LoadByID(_ context.Context, id core.WorkflowID) (*core.WorkflowState, error) {
	path, err := s.workflowPath(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := loadEnvelope(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		backup, backupErr := loadEnvelope(path + ".bak")
		if backupErr != nil {
			return nil, fmt.Errorf("loading state: %w (backup also failed: %v)", err, backupErr)
		}
		return backup, nil
	}
	return state, nil
}

// List returns summaries of every readable run, newest first.
func (s *JSONStore) List(_ context.Context) ([]core.WorkflowSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.dir, "workflows"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing workflows: %w", err)
	}

	var out []core.WorkflowSummary
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		state, err := loadEnvelope(filepath.Join(s.dir, "workflows", e.Name()))
		if err != nil {
			continue
		}
		out = append(out, state.Summarize())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// Delete removes a run and its backup.
func (s *JSONStore) Delete(_ context.Context, id core.WorkflowID) error {
	path, err := s.workflowPath(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range []string{path, path + ".bak"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("deleting %s: %w", filepath.Base(p), err)
		}
	}
	if active, err := os.ReadFile(s.activePath()); err == nil && strings.TrimSpace(string(active)) == string(id) {
		if err := os.Remove(s.activePath()); err != nil {
			return fmt.Errorf("clearing active workflow: %w", err)
		}
	}
	return nil
}

func loadEnvelope(path string) (*core.WorkflowState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var env stateEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshaling envelope: %w", err)
	}
	if env.State == nil {
		return nil, core.ErrState(CodeStateCorrupted, "envelope has no state")
	}
	sum, err := checksumOf(env.State)
	if err != nil {
		return nil, err
	}
	if sum != env.Checksum {
		return nil, core.ErrState(CodeStateCorrupted, fmt.Sprintf("checksum mismatch in %s", filepath.Base(path)))
	}
	return env.State, nil
}

func checksumOf(state *core.WorkflowState) (string, error) {
	b, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("marshaling state for checksum: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

var _ core.StateStore = (*JSONStore)(nil)
