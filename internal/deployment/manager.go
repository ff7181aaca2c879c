package deployment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/agentnode/internal/events"
	"github.com/smazurov/agentnode/internal/logging"
	"github.com/smazurov/agentnode/internal/metrics"
	"github.com/smazurov/agentnode/internal/retry"
)

const (
	connectAttempts = 3
	connectBackoff  = 2 * time.Second
	connectTimeout  = 5 * time.Second
	defaultIPFSAddr = "registry.autonolas.tech:443"
)

// Manager tracks the lifecycle state of every known deployment and
// serializes start/stop transitions per build directory.
type Manager struct {
	logger   *slog.Logger
	bus      *events.Bus
	ipfsAddr string

	// newRunner and probe are replaceable in tests.
	newRunner     func(Config, *slog.Logger, *events.Bus) (Runner, error)
	probe         func(ctx context.Context, addr string) error
	connectPolicy retry.Policy

	mu      sync.Mutex
	states  map[string]State
	runners map[string]Runner

	stopping atomic.Bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithIPFSAddr overrides the registry address used by the connectivity
// preflight.
func WithIPFSAddr(addr string) ManagerOption {
	return func(m *Manager) { m.ipfsAddr = addr }
}

// NewManager creates a deployment manager.
func NewManager(logger *slog.Logger, bus *events.Bus, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = logging.GetLogger("deployment")
	}
	m := &Manager{
		logger:        logger,
		bus:           bus,
		ipfsAddr:      defaultIPFSAddr,
		newRunner:     NewRunner,
		probe:         dialProbe,
		connectPolicy: retry.Policy{Attempts: connectAttempts, Backoff: retry.FixedBackoff(connectBackoff)},
		states:        make(map[string]State),
		runners:       make(map[string]Runner),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the recorded state for buildDir. Unknown build dirs report
// StateNone.
func (m *Manager) State(buildDir string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[buildDir]; ok {
		return s
	}
	return StateNone
}

// States returns a snapshot of every tracked deployment's state.
func (m *Manager) States() map[string]State {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := make(map[string]State, len(m.states))
	for dir, s := range m.states {
		snapshot[dir] = s
	}
	return snapshot
}

// Register records a deployment's runner configuration without starting
// it, so a later StopDeployment uses the right settings. Used by the
// stop CLI path, where the manager has no start history.
func (m *Manager) Register(cfg Config) error {
	runner, err := m.newRunner(cfg, m.logger, m.bus)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.runners[cfg.BuildDir] = runner
	m.mu.Unlock()
	return nil
}

// RunDeployment starts the deployment described by cfg. It refuses new
// deployments once shutdown has begun, and refuses concurrent transitions
// on the same build dir unless force is set. Any start failure transitions
// the deployment to the error state, runs a forced stop to clean up
// half-started processes, and returns the failure.
func (m *Manager) RunDeployment(ctx context.Context, cfg Config, password string, force bool) error {
	if m.stopping.Load() {
		return ErrStopping
	}

	if err := m.beginTransition(cfg.BuildDir, StateStarting, force); err != nil {
		metrics.IncDeploymentStart("rejected")
		return err
	}

	runner, err := m.newRunner(cfg, m.logger, m.bus)
	if err != nil {
		m.setState(cfg.BuildDir, StateError, err)
		metrics.IncDeploymentStart("error")
		return err
	}
	m.mu.Lock()
	m.runners[cfg.BuildDir] = runner
	m.mu.Unlock()

	if err := m.CheckIPFSConnection(ctx); err != nil {
		m.setState(cfg.BuildDir, StateError, err)
		metrics.IncDeploymentStart("error")
		return fmt.Errorf("registry unreachable: %w", err)
	}

	if err := runner.Start(ctx, password); err != nil {
		m.setState(cfg.BuildDir, StateError, err)
		metrics.IncDeploymentStart("error")
		m.forceStop(ctx, cfg.BuildDir, runner)
		return err
	}

	if m.stopping.Load() {
		// Shutdown raced the start. Do not leave a fresh deployment
		// running behind the manager's back.
		m.logger.Warn("Shutdown began during start, stopping fresh deployment", "build_dir", cfg.BuildDir)
		m.forceStop(ctx, cfg.BuildDir, runner)
		m.setState(cfg.BuildDir, StateStopped, nil)
		return ErrStopping
	}

	m.setState(cfg.BuildDir, StateStarted, nil)
	metrics.IncDeploymentStart("ok")
	return nil
}

// StopDeployment stops the deployment for buildDir. A failed stop leaves
// the deployment in the error state and returns the failure.
func (m *Manager) StopDeployment(ctx context.Context, buildDir string, force bool) error {
	if err := m.beginTransition(buildDir, StateStopping, force); err != nil {
		return err
	}

	m.mu.Lock()
	runner, ok := m.runners[buildDir]
	m.mu.Unlock()
	if !ok {
		var err error
		runner, err = m.newRunner(Config{BuildDir: buildDir}, m.logger, m.bus)
		if err != nil {
			m.setState(buildDir, StateError, err)
			return err
		}
	}

	if err := runner.Stop(ctx); err != nil {
		m.setState(buildDir, StateError, err)
		return fmt.Errorf("stopping deployment %s: %w", buildDir, err)
	}

	m.setState(buildDir, StateStopped, nil)
	return nil
}

// Stop idempotently raises the manager-wide stopping flag: new
// deployments are refused from here on. Running deployments are left
// alone; their processes are detached and outlive the supervisor.
// Callers that want them down use StopDeployment explicitly.
func (m *Manager) Stop() {
	m.stopping.Store(true)
}

// CheckIPFSConnection verifies the component registry is reachable before
// a start. Hard network errors abort immediately; anything else retries on
// a fixed delay.
func (m *Manager) CheckIPFSConnection(ctx context.Context) error {
	return m.connectPolicy.Do(ctx, func() error {
		err := m.probe(ctx, m.ipfsAddr)
		if err == nil {
			return nil
		}

		var opErr *net.OpError
		var dnsErr *net.DNSError
		if errors.As(err, &opErr) || errors.As(err, &dnsErr) {
			return retry.Permanent(err)
		}
		return err
	})
}

func dialProbe(ctx context.Context, addr string) error {
	dialer := net.Dialer{Timeout: connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// beginTransition atomically checks the transition guard and records the
// transient state.
func (m *Manager) beginTransition(buildDir string, next State, force bool) error {
	m.mu.Lock()
	current, ok := m.states[buildDir]
	if !ok {
		current = StateNone
	}
	if current.inTransition() && !force {
		m.mu.Unlock()
		return &TransitionError{BuildDir: buildDir, State: current}
	}
	m.states[buildDir] = next
	m.mu.Unlock()

	m.announce(buildDir, current, next, nil)
	return nil
}

func (m *Manager) setState(buildDir string, next State, cause error) {
	m.mu.Lock()
	old, ok := m.states[buildDir]
	if !ok {
		old = StateNone
	}
	m.states[buildDir] = next
	m.mu.Unlock()

	m.announce(buildDir, old, next, cause)
}

func (m *Manager) announce(buildDir string, old, next State, cause error) {
	metrics.SetDeploymentState(buildDir, string(old), string(next))

	if cause != nil {
		m.logger.Error("Deployment state changed", "build_dir", buildDir, "old", old, "new", next, "error", cause)
	} else {
		m.logger.Info("Deployment state changed", "build_dir", buildDir, "old", old, "new", next)
	}

	if m.bus == nil {
		return
	}
	evt := events.DeploymentStateEvent{
		BuildDir:  buildDir,
		OldState:  string(old),
		NewState:  string(next),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if cause != nil {
		evt.Error = cause.Error()
	}
	m.bus.Publish(evt)
}

// forceStop is the cleanup path after a failed or raced start. Stop errors
// are logged, not propagated, so the original failure stays the caller's
// error.
func (m *Manager) forceStop(ctx context.Context, buildDir string, runner Runner) {
	if err := runner.Stop(ctx); err != nil {
		m.logger.Warn("Cleanup stop failed", "build_dir", buildDir, "error", err)
	}
}
