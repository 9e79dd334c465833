package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/hugo-lorenzo-mato/upgrader/internal/core"
)

// Lock error codes.
const (
	CodeLockHeld     = "LOCK_HELD"
	CodeLockNotOwned = "LOCK_NOT_OWNED"
)

// lockInfo is the content of a lock file.
type lockInfo struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// FileLock keeps two controllers from driving the same manager instance at
// once. A lock whose owner died, or that is older than the TTL, is stale and
// taken over.
type FileLock struct {
	path string
	ttl  time.Duration
}

// NewFileLock creates a lock at path. A zero ttl means one hour.
func NewFileLock(path string, ttl time.Duration) *FileLock {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &FileLock{path: path, ttl: ttl}
}

// Path returns the lock file path.
func (l *FileLock) Path() string {
	return l.path
}

// Acquire takes the lock or reports who holds it.
func (l *FileLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o750); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}

	if data, err := os.ReadFile(l.path); err == nil {
		var info lockInfo
		if err := json.Unmarshal(data, &info); err == nil {
			if time.Since(info.AcquiredAt) < l.ttl && processExists(info.PID) {
				return core.ErrState(CodeLockHeld,
					fmt.Sprintf("another upgrader (PID %d on %s) holds %s since %s",
						info.PID, info.Hostname, l.path, info.AcquiredAt.Format(time.RFC3339)))
			}
		}
		os.Remove(l.path)
	}

	hostname, _ := os.Hostname()
	data, err := json.Marshal(lockInfo{PID: os.Getpid(), Hostname: hostname, AcquiredAt: time.Now()})
	if err != nil {
		return fmt.Errorf("marshaling lock info: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return core.ErrState(CodeLockHeld, "lock file created by another process")
		}
		return fmt.Errorf("creating lock file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		os.Remove(l.path)
		return fmt.Errorf("writing lock file: %w", err)
	}
	return nil
}

// Release drops a lock held by this process. Releasing twice is fine.
func (l *FileLock) Release() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading lock file: %w", err)
	}

	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return fmt.Errorf("parsing lock info: %w", err)
	}
	if info.PID != os.Getpid() {
		return core.ErrState(CodeLockNotOwned, fmt.Sprintf("lock owned by PID %d", info.PID))
	}
	return os.Remove(l.path)
}

// processExists checks if a process is running.
func processExists(pid int) bool {
	// Windows reports no access when signaling the current process.
	if runtime.GOOS == "windows" && pid == os.Getpid() {
		return true
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds; signal 0 probes the process.
	return process.Signal(syscall.Signal(0)) == nil
}
