// Package pidfile implements the cross-process PID bookkeeping protocol.
//
// A PID file holds a single integer, guarded by an OS advisory lock
// (gofrs/flock): writers take an exclusive lock, readers a shared one, both
// non-blocking with a fixed retry interval bounded by the caller's timeout.
// A PID is validated against the live process table before it is written
// and again whenever it is read, so a recycled PID is never treated as
// authoritative. That ordering is what prevents the "kill an unrelated
// process via PID recycling" failure class.
package pidfile

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/smazurov/agentnode/internal/logging"
)

// lockRetryInterval is how often lock acquisition is retried under
// contention, until the caller's timeout elapses.
const lockRetryInterval = 100 * time.Millisecond

func logger() *slog.Logger {
	return logging.GetLogger("pidfile")
}

// ValidatePID reports whether pid names a live process whose name
// case-insensitively contains at least one of expectedNames. An empty
// expectedNames only requires liveness. It never returns an error: any
// failure to inspect the process counts as not valid.
func ValidatePID(pid int, expectedNames []string) bool {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}

	running, err := proc.IsRunning()
	if err != nil || !running {
		return false
	}

	if len(expectedNames) == 0 {
		return true
	}

	name, err := proc.Name()
	if err != nil {
		return false
	}

	lower := strings.ToLower(name)
	for _, expected := range expectedNames {
		if strings.Contains(lower, strings.ToLower(expected)) {
			return true
		}
	}
	return false
}

// Write validates pid and records it in the file at path under an
// exclusive lock. An invalid PID fails with ErrInvalidPID before the file
// is touched. Lock contention is retried until timeout, then ErrLocked.
func Write(path string, pid int, timeout time.Duration, expectedNames []string) error {
	if !ValidatePID(pid, expectedNames) {
		return fmt.Errorf("refusing to write %s: pid %d: %w", path, pid, ErrInvalidPID)
	}

	lock := flock.New(path)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	locked, err := lock.TryLockContext(ctx, lockRetryInterval)
	if err != nil || !locked {
		return fmt.Errorf("writing %s: %w", path, ErrLocked)
	}
	defer lock.Unlock() //nolint:errcheck

	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	logger().Debug("PID file written", "path", path, "pid", pid)
	return nil
}

// Read returns the PID recorded at path after validating it under a
// shared lock. A missing file surfaces os.ErrNotExist; unparseable content
// is ErrInvalidPID; a dead or mismatched PID is a *StaleError (matching
// ErrStale), and the file is deleted first when removeStale is set.
func Read(path string, timeout time.Duration, expectedNames []string, removeStale bool) (int, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, err
	}

	lock := flock.New(path)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	locked, err := lock.TryRLockContext(ctx, lockRetryInterval)
	if err != nil || !locked {
		return 0, fmt.Errorf("reading %s: %w", path, ErrLocked)
	}

	data, err := os.ReadFile(path)
	unlockErr := lock.Unlock()
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}
	if unlockErr != nil {
		logger().Warn("Failed to release PID file lock", "path", path, "error", unlockErr)
	}

	content := strings.TrimSpace(string(data))
	if content == "" {
		return 0, fmt.Errorf("%s is empty: %w", path, ErrInvalidPID)
	}

	pid, err := strconv.Atoi(content)
	if err != nil {
		return 0, fmt.Errorf("%s content %q: %w", path, content, ErrInvalidPID)
	}

	if !ValidatePID(pid, expectedNames) {
		if removeStale {
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				logger().Warn("Failed to remove stale PID file", "path", path, "error", rmErr)
			} else {
				logger().Debug("Removed stale PID file", "path", path, "pid", pid)
			}
		}
		return 0, &StaleError{Path: path, PID: pid}
	}

	return pid, nil
}

// Remove deletes the PID file at path. Without force the removal is
// refused (logged, not an error) when the recorded PID still validates, so
// a running process is never silently untracked. With force the file is
// deleted unconditionally. A missing file is a no-op either way.
func Remove(path string, force bool) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	if !force {
		pid, err := Read(path, time.Second, nil, false)
		if err == nil && ValidatePID(pid, nil) {
			logger().Info("Refusing to remove PID file for live process", "path", path, "pid", pid)
			return nil
		}
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}
