package state

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hugo-lorenzo-mato/upgrader/internal/core"
)

// Supported storage backends.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// NewStore creates a StateStore for backend at path. For sqlite, path is the
// database file and gets a .db extension when it has none; for json it is
// the store directory.
func NewStore(backend, path string) (core.StateStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "state path is required")
	}

	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendSQLite:
		if filepath.Ext(path) == "" {
			path += ".db"
		}
		return NewSQLiteStore(path)
	case BackendJSON:
		return NewJSONStore(path), nil
	default:
		return nil, core.ErrValidation(core.CodeInvalidConfig,
			fmt.Sprintf("unknown state backend %q (want %s or %s)", backend, BackendJSON, BackendSQLite))
	}
}

// Closeable is an optional interface for stores that need cleanup.
type Closeable interface {
	Close() error
}

// CloseStore closes a store if it implements Closeable.
func CloseStore(s core.StateStore) error {
	if c, ok := s.(Closeable); ok {
		return c.Close()
	}
	return nil
}
