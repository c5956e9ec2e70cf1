package runner

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// LockFileName is the lock file created in a locked workspace.
const LockFileName = ".qaforge.lock"

// ErrLocked is returned by Acquire when a live process holds the workspace.
var ErrLocked = errors.New("workspace locked")

// LockInfo describes the owner of a workspace lock.
type LockInfo struct {
	PID       int       `json:"pid"`
	Owner     string    `json:"owner"`
	Host      string    `json:"host,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Acquire creates a lock file in dir on behalf of owner.
// A lock left by a dead process is reclaimed.
func Acquire(dir, owner string) error {
	lockPath := filepath.Join(dir, LockFileName)
	host, _ := os.Hostname()

	info := LockInfo{
		PID:       os.Getpid(),
		Owner:     owner,
		Host:      host,
		StartedAt: time.Now(),
	}

	err := writeLock(lockPath, &info)
	if err == nil {
		return nil
	}
	if !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("create lock %s: %w", lockPath, err)
	}

	existing, readErr := ReadLock(dir)
	if readErr != nil {
		return fmt.Errorf("%w: %s (could not read lock: %v)", ErrLocked, dir, readErr)
	}

	// a lock from another host cannot be checked for liveness
	if (existing.Host == "" || existing.Host == host) && !isProcessAlive(existing.PID) {
		slog.Warn("reclaiming stale workspace lock", "dir", dir, "stale_pid", existing.PID, "owner", existing.Owner)
		if err := os.Remove(lockPath); err != nil {
			return fmt.Errorf("remove stale lock: %w", err)
		}
		if err := writeLock(lockPath, &info); err != nil {
			return fmt.Errorf("acquire after stale removal: %w", err)
		}
		return nil
	}

	return fmt.Errorf("%w by PID %d since %s (owner %s)",
		ErrLocked, existing.PID, existing.StartedAt.Format(time.RFC3339), existing.Owner)
}

// Release removes the lock file from dir. It is idempotent.
func Release(dir string) {
	lockPath := filepath.Join(dir, LockFileName)
	if err := os.Remove(lockPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to release lock", "path", lockPath, "error", err)
	}
}

// ReadLock reads the lock file from dir.
func ReadLock(dir string) (*LockInfo, error) {
	data, err := os.ReadFile(filepath.Join(dir, LockFileName))
	if err != nil {
		return nil, err
	}

	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse lock: %w", err)
	}
	return &info, nil
}

// writeLock atomically creates the lock file using O_CREATE|O_EXCL.
func writeLock(path string, info *LockInfo) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	encErr := json.NewEncoder(f).Encode(info)
	closeErr := f.Close()
	if encErr != nil {
		return encErr
	}
	return closeErr
}

// isProcessAlive checks if a process with the given PID exists.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// signal 0 checks existence without delivering anything
	return proc.Signal(syscall.Signal(0)) == nil
}
