//go:build !windows

package state

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// atomicWriteFile replaces path with data in one rename, creating the
// parent directory when needed.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating directory for %s: %w", filepath.Base(path), err)
	}
	return renameio.WriteFile(path, data, perm)
}
