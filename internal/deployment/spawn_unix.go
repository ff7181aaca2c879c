//go:build !windows

package deployment

import "syscall"

// detachedProcAttr puts the child in its own process group so it survives
// the supervisor and does not receive the supervisor's terminal signals.
func detachedProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}
