package tendermint

import (
	"errors"
	"fmt"
	"os/exec"
)

// PruneBlocks wipes the node's chain state via the binary's destructive
// reset subcommand. It returns the subcommand's exit code and never
// errors; a failure to spawn at all reports exit code 1.
func (n *Node) PruneBlocks() int {
	cmd := exec.Command(n.cfg.Binary, "unsafe-reset-all", "--home", n.cfg.Home)
	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			n.logger.Error("State reset failed", "exit_code", exitErr.ExitCode(), "output", string(out))
			return exitErr.ExitCode()
		}
		n.logger.Error("Failed to run state reset", "error", err)
		return 1
	}

	n.logger.Info("Chain state pruned", "home", n.cfg.Home)
	return 0
}

// GentleReset restarts the node process without touching chain state.
func (n *Node) GentleReset() error {
	n.restartMu.Lock()
	defer n.restartMu.Unlock()
	if n.stopping.Load() {
		return errors.New("node supervisor is stopping")
	}

	n.logger.Info("Gentle reset requested")
	n.stopProcess()
	return n.startProcess()
}

// HardReset stops the node, wipes chain state, rewrites the genesis
// parameters and starts fresh. When snapshot is set the node home is
// copied aside first; a failed snapshot is logged but never blocks the
// reset.
func (n *Node) HardReset(genesisTime, initialHeight string, periodCount int, snapshot bool) error {
	n.restartMu.Lock()
	defer n.restartMu.Unlock()
	if n.stopping.Load() {
		return errors.New("node supervisor is stopping")
	}

	n.logger.Info("Hard reset requested", "period_count", periodCount)
	n.stopProcess()

	if snapshot {
		if _, err := n.SnapshotHome(); err != nil {
			n.logger.Warn("Snapshot before hard reset failed", "error", err)
		}
	}

	if code := n.PruneBlocks(); code != 0 {
		return fmt.Errorf("state reset exited with code %d", code)
	}
	if err := n.ResetGenesis(genesisTime, initialHeight, periodCount); err != nil {
		return err
	}
	return n.startProcess()
}
