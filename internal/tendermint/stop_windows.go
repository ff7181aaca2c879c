//go:build windows

package tendermint

import (
	"log/slog"
	"os/exec"
	"time"
)

const termGracePeriod = 10 * time.Second

// terminate uses the platform's native hard termination; windows has no
// SIGTERM equivalent for console-less children.
func terminate(logger *slog.Logger, cmd *exec.Cmd, waitCh chan error) {
	if err := cmd.Process.Kill(); err != nil {
		return
	}
	select {
	case <-waitCh:
	case <-time.After(termGracePeriod):
		logger.Error("Node did not exit after kill", "pid", cmd.Process.Pid)
	}
}
