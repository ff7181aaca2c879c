// Package proctree provides recursive, idempotent process-tree termination.
//
// Descendants are enumerated before any signal is sent and killed in
// reverse discovery order, so the deepest children go first and the named
// process last. Termination is issued twice per process because a single
// hard kill can race with an exiting process or be ignored by a zombie's
// reaper.
package proctree

import (
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/smazurov/agentnode/internal/logging"
	"github.com/smazurov/agentnode/internal/metrics"
)

const (
	defaultPollInterval = 100 * time.Millisecond
	killRounds          = 2
)

// Killer terminates whole process trees.
type Killer struct {
	logger       *slog.Logger
	pollInterval time.Duration

	// kill is the per-process termination primitive, replaceable in tests.
	kill func(p *process.Process) error
}

// New creates a Killer.
func New(logger *slog.Logger) *Killer {
	if logger == nil {
		logger = logging.GetLogger("proctree")
	}
	return &Killer{
		logger:       logger,
		pollInterval: defaultPollInterval,
		kill:         func(p *process.Process) error { return p.Kill() },
	}
}

// KillTree terminates pid and all of its descendants. It is a no-op when
// pid does not name a live process. Children are killed before the named
// process, deepest first. Errors from individual kills are swallowed: the
// target may have vanished mid-operation or the caller may lack rights.
func (k *Killer) KillTree(pid int) {
	root, err := process.NewProcess(int32(pid))
	if err != nil {
		k.logger.Debug("Process does not exist, nothing to kill", "pid", pid)
		return
	}

	descendants := collectDescendants(root)

	// Reverse discovery order: most recently found (deepest) first
	for i := len(descendants) - 1; i >= 0; i-- {
		k.terminate(descendants[i])
	}
	k.terminate(root)
}

// collectDescendants walks the child tree breadth-first, recording
// processes in discovery order.
func collectDescendants(root *process.Process) []*process.Process {
	var found []*process.Process
	queue := []*process.Process{root}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		children, err := current.Children()
		if err != nil {
			continue
		}
		found = append(found, children...)
		queue = append(queue, children...)
	}

	return found
}

// terminate kills one process and waits for it to disappear. A dead or
// zombie status short-circuits without signaling. Kill errors are
// swallowed and end the attempt.
func (k *Killer) terminate(p *process.Process) {
	for round := 0; round < killRounds; round++ {
		statuses, err := p.Status()
		if err != nil {
			// Already gone
			return
		}
		for _, status := range statuses {
			if status == process.Zombie || status == "dead" {
				k.logger.Debug("Process already defunct", "pid", p.Pid, "status", status)
				return
			}
		}

		if err := k.kill(p); err != nil {
			// Vanished mid-kill or insufficient permissions
			k.logger.Debug("Kill attempt failed, giving up on process", "pid", p.Pid, "error", err)
			return
		}
		metrics.IncKilledProcess()
		k.logger.Debug("Killed process", "pid", p.Pid, "round", round+1)
	}

	for {
		exists, err := process.PidExists(p.Pid)
		if err != nil || !exists {
			return
		}
		statuses, err := p.Status()
		if err != nil {
			return
		}
		for _, status := range statuses {
			if status == process.Zombie || status == "dead" {
				return
			}
		}
		time.Sleep(k.pollInterval)
	}
}
