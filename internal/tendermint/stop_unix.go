//go:build !windows

package tendermint

import (
	"log/slog"
	"os/exec"
	"syscall"
	"time"
)

const termGracePeriod = 10 * time.Second

// terminate sends SIGTERM and escalates to a hard kill only if the node
// has not exited within the grace period.
func terminate(logger *slog.Logger, cmd *exec.Cmd, waitCh chan error) {
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Already exited
		return
	}

	select {
	case <-waitCh:
		return
	case <-time.After(termGracePeriod):
	}

	logger.Warn("Node ignored SIGTERM, killing", "pid", cmd.Process.Pid)
	_ = cmd.Process.Kill()
	select {
	case <-waitCh:
	case <-time.After(termGracePeriod):
		logger.Error("Node did not exit after kill", "pid", cmd.Process.Pid)
	}
}
