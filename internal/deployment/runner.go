package deployment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/smazurov/agentnode/internal/events"
	"github.com/smazurov/agentnode/internal/logging"
	"github.com/smazurov/agentnode/internal/metrics"
	"github.com/smazurov/agentnode/internal/pidfile"
	"github.com/smazurov/agentnode/internal/proctree"
	"github.com/smazurov/agentnode/internal/retry"
)

// PID file names, one per supervised process kind.
const (
	agentPIDFile = "agent.pid"
	nodePIDFile  = "tendermint.pid"
)

const (
	setupAttempts = 3
	startAttempts = 3
	backoffUnit   = time.Second

	defaultPIDFileTimeout = 10 * time.Second
)

// Runner drives start/stop orchestration for one deployment's two
// processes.
type Runner interface {
	Start(ctx context.Context, password string) error
	Stop(ctx context.Context) error
}

// Bootstrapper prepares the agent's identity and crypto material before a
// start. The concrete steps are externally defined; the runner only cares
// that they either succeed or fail as a unit.
type Bootstrapper interface {
	Bootstrap(ctx context.Context, buildDir, password string) error
}

// NoopBootstrapper skips agent bootstrap. Used when the build dir already
// carries prepared material.
type NoopBootstrapper struct{}

// Bootstrap implements Bootstrapper.
func (NoopBootstrapper) Bootstrap(context.Context, string, string) error { return nil }

// Config configures a deployment runner.
type Config struct {
	// BuildDir is the deployment directory and identity key.
	BuildDir string

	// ConsensusEnabled spawns the consensus node before the agent.
	ConsensusEnabled bool

	// Packaged selects the packaged-binary layout over host PATH lookup.
	Packaged bool

	// BinDir is where packaged binaries live. Defaults to the directory
	// of the running executable.
	BinDir string

	// NodeControlURL and NodeRPCURL are the locally managed consensus
	// node addresses injected into the agent's environment descriptor.
	NodeControlURL string
	NodeRPCURL     string

	// PIDFileTimeout bounds PID file lock acquisition.
	PIDFileTimeout time.Duration

	// Bootstrapper runs the externally-defined agent setup steps.
	Bootstrapper Bootstrapper
}

func (c Config) withDefaults() Config {
	if c.BinDir == "" {
		if exe, err := os.Executable(); err == nil {
			c.BinDir = filepath.Dir(exe)
		}
	}
	if c.NodeControlURL == "" {
		c.NodeControlURL = "http://localhost:8080"
	}
	if c.NodeRPCURL == "" {
		c.NodeRPCURL = "http://localhost:26657"
	}
	if c.PIDFileTimeout == 0 {
		c.PIDFileTimeout = defaultPIDFileTimeout
	}
	if c.Bootstrapper == nil {
		c.Bootstrapper = NoopBootstrapper{}
	}
	return c
}

// commandSet supplies platform-variant binary paths and argument lists.
type commandSet interface {
	agentCommand(cfg Config, password string) (bin string, args []string)
	nodeCommand(cfg Config) (bin string, args []string)
}

// baseRunner implements the start/stop orchestration shared by all
// platform variants.
type baseRunner struct {
	cfg    Config
	cmds   commandSet
	logger *slog.Logger
	killer *proctree.Killer
	bus    *events.Bus

	setupPolicy retry.Policy
	startPolicy retry.Policy
}

func newBaseRunner(cfg Config, cmds commandSet, logger *slog.Logger, bus *events.Bus) *baseRunner {
	if logger == nil {
		logger = logging.GetLogger("deployment")
	}
	return &baseRunner{
		cfg:         cfg,
		cmds:        cmds,
		logger:      logger,
		killer:      proctree.New(logger),
		bus:         bus,
		setupPolicy: retry.Policy{Attempts: setupAttempts, Backoff: retry.LinearBackoff(backoffUnit)},
		startPolicy: retry.Policy{Attempts: startAttempts, Backoff: retry.LinearBackoff(backoffUnit)},
	}
}

// Start prepares the agent and spawns the deployment's processes. The
// consensus node always comes up before the agent so the agent never
// starts against a missing node. The whole sequence runs under a retry
// ceiling; the terminal error wraps the last attempt's failure.
func (r *baseRunner) Start(ctx context.Context, password string) error {
	err := r.startPolicy.Do(ctx, func() error {
		if err := r.setupAgent(ctx, password); err != nil {
			return err
		}
		if r.cfg.ConsensusEnabled {
			if err := r.spawnNode(); err != nil {
				return err
			}
		}
		return r.spawnAgent(password)
	})
	if err != nil {
		return fmt.Errorf("starting deployment %s: %w", r.cfg.BuildDir, err)
	}
	return nil
}

// setupAgent rewrites the environment descriptor and runs the bootstrap
// steps, removing any partially created working directory before a retry.
func (r *baseRunner) setupAgent(ctx context.Context, password string) error {
	workDir := filepath.Join(r.cfg.BuildDir, agentDataDir)

	return r.setupPolicy.Do(ctx, func() error {
		err := func() error {
			if err := RewriteEnvDescriptor(r.cfg.BuildDir, r.cfg.NodeControlURL, r.cfg.NodeRPCURL); err != nil {
				return err
			}
			if err := os.MkdirAll(workDir, 0o755); err != nil {
				return fmt.Errorf("creating agent work dir: %w", err)
			}
			return r.cfg.Bootstrapper.Bootstrap(ctx, r.cfg.BuildDir, password)
		}()
		if err != nil {
			if rmErr := os.RemoveAll(workDir); rmErr != nil {
				r.logger.Debug("Failed to remove partial work dir", "dir", workDir, "error", rmErr)
			}
			return err
		}
		return nil
	})
}

func (r *baseRunner) spawnAgent(password string) error {
	bin, args := r.cmds.agentCommand(r.cfg, password)
	return r.spawn("agent", agentPIDFile, bin, args)
}

func (r *baseRunner) spawnNode() error {
	bin, args := r.cmds.nodeCommand(r.cfg)
	return r.spawn("node", nodePIDFile, bin, args)
}

// spawn launches one process detached from the supervisor's process group
// with its output mirrored to a per-process log file, then records its
// PID. If the PID file write fails the fresh process is killed best-effort
// and the original error is returned, so no process is ever left running
// untracked.
func (r *baseRunner) spawn(kind, pidName, bin string, args []string) error {
	logPath := filepath.Join(r.cfg.BuildDir, kind+".log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s log sink: %w", kind, err)
	}

	cmd := exec.Command(bin, args...)
	cmd.Dir = r.cfg.BuildDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = detachedProcAttr()

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return fmt.Errorf("spawning %s process: %w", kind, err)
	}
	logFile.Close()

	pid := cmd.Process.Pid
	r.logger.Info("Process started",
		"kind", kind,
		"pid", pid,
		"command", bin+" "+strings.Join(MaskArgs(args), " "))

	// The supervisor does not parent the process beyond this point
	_ = cmd.Process.Release()

	pidPath := filepath.Join(r.cfg.BuildDir, pidName)
	if err := pidfile.Write(pidPath, pid, r.cfg.PIDFileTimeout, []string{filepath.Base(bin)}); err != nil {
		r.logger.Error("Failed to track process, killing it", "kind", kind, "pid", pid, "error", err)
		r.killer.KillTree(pid)
		return fmt.Errorf("tracking %s process: %w", kind, err)
	}

	return nil
}

// Stop stops the agent, and the consensus node when enabled. Recorded
// PIDs are read with the same expected identity they were written with,
// so a recycled PID naming an unrelated process is treated as stale and
// never killed. Each sub-step tolerates absent or stale PID files;
// unexpected PID file errors are self-healed with a forced removal.
func (r *baseRunner) Stop(_ context.Context) error {
	var errs []error

	agentBin, _ := r.cmds.agentCommand(r.cfg, "")
	errs = append(errs, r.stopProcess("agent", agentPIDFile, []string{filepath.Base(agentBin)}))
	if r.cfg.ConsensusEnabled {
		nodeBin, _ := r.cmds.nodeCommand(r.cfg)
		errs = append(errs, r.stopProcess("node", nodePIDFile, []string{filepath.Base(nodeBin)}))
	}

	return errors.Join(errs...)
}

func (r *baseRunner) stopProcess(kind, pidName string, expectedNames []string) error {
	path := filepath.Join(r.cfg.BuildDir, pidName)

	pid, err := pidfile.Read(path, r.cfg.PIDFileTimeout, expectedNames, true)
	switch {
	case err == nil:
		r.logger.Info("Stopping process", "kind", kind, "pid", pid)
		r.killer.KillTree(pid)
		if rmErr := pidfile.Remove(path, true); rmErr != nil {
			return rmErr
		}

	case os.IsNotExist(err):
		r.logger.Debug("PID file absent, process already stopped", "kind", kind)

	case errors.Is(err, pidfile.ErrStale):
		r.logger.Debug("Stale PID file, process already stopped", "kind", kind)
		metrics.IncStalePIDFile()
		r.publishStale(path, err)

	default:
		r.logger.Warn("PID file error, forcing removal", "kind", kind, "error", err)
		if rmErr := pidfile.Remove(path, true); rmErr != nil {
			return rmErr
		}
	}

	return nil
}

func (r *baseRunner) publishStale(path string, err error) {
	if r.bus == nil {
		return
	}
	var stale *pidfile.StaleError
	pid := 0
	if errors.As(err, &stale) {
		pid = stale.PID
	}
	r.bus.Publish(events.StalePIDDetectedEvent{
		Path:      path,
		PID:       pid,
		Removed:   true,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
