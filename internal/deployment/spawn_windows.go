//go:build windows

package deployment

import "syscall"

const detachedProcess = 0x00000008

// detachedProcAttr detaches the child from the supervisor's console and
// gives it its own process group.
func detachedProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP | detachedProcess,
	}
}
