package pidfile

import (
	"errors"
	"fmt"
)

// Sentinel errors for the PID file protocol. Callers distinguish failure
// classes with errors.Is; a missing file surfaces as os.ErrNotExist.
var (
	// ErrLocked means the advisory lock could not be acquired before the
	// caller's timeout elapsed.
	ErrLocked = errors.New("pid file lock timeout")

	// ErrInvalidPID means a PID failed validation (dead process or name
	// mismatch) on the write path, or the file content was not a PID.
	ErrInvalidPID = errors.New("invalid pid")

	// ErrStale means the file's recorded PID no longer names the expected
	// live process.
	ErrStale = errors.New("stale pid file")
)

// StaleError carries the stale file's path and recorded PID.
// errors.Is(err, ErrStale) matches it.
type StaleError struct {
	Path string
	PID  int
}

func (e *StaleError) Error() string {
	return fmt.Sprintf("pid file %s: recorded pid %d does not name a live expected process", e.Path, e.PID)
}

// Is reports that a StaleError matches ErrStale.
func (e *StaleError) Is(target error) bool {
	return target == ErrStale
}
