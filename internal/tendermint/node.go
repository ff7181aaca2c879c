// Package tendermint supervises one consensus node process. The node is
// spawned with its combined output streamed through a line scanner; known
// failure signatures become events that drive an in-place restart, so a
// wedged RPC server or a lost ABCI connection heals without operator
// action. Reset operations (prune, genesis rewrite, config overrides,
// dev snapshots) support the control API's gentle and hard resets.
package tendermint

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/agentnode/internal/events"
	"github.com/smazurov/agentnode/internal/logging"
)

const (
	defaultBinary   = "tendermint"
	defaultRPCLaddr = "tcp://0.0.0.0:26657"
	defaultP2PLaddr = "tcp://0.0.0.0:26656"
	defaultProxyApp = "tcp://127.0.0.1:26658"

	// monitorJoinTimeout bounds the wait for the monitor goroutine on
	// stop. Generous so an in-flight line read can unblock.
	monitorJoinTimeout = 10 * time.Second
)

// Config describes how the node binary is launched.
type Config struct {
	// Binary is the node executable. Defaults to "tendermint" on PATH.
	Binary string

	// Home is the node's home directory (config, data, genesis).
	Home string

	RPCLaddr string
	P2PLaddr string
	ProxyApp string

	// Seeds are peer seed addresses, comma-joined on the command line.
	Seeds []string

	// UseGRPC selects the gRPC ABCI transport over the socket one.
	UseGRPC bool

	// Debug raises the node's own log verbosity.
	Debug bool

	// ChainIDPrefix seeds the chain id written by genesis resets.
	ChainIDPrefix string
}

func (c Config) withDefaults() Config {
	if c.Binary == "" {
		c.Binary = defaultBinary
	}
	if c.RPCLaddr == "" {
		c.RPCLaddr = defaultRPCLaddr
	}
	if c.P2PLaddr == "" {
		c.P2PLaddr = defaultP2PLaddr
	}
	if c.ProxyApp == "" {
		c.ProxyApp = defaultProxyApp
	}
	if c.ChainIDPrefix == "" {
		c.ChainIDPrefix = "agentnode"
	}
	return c
}

// Node owns one consensus node process and its monitor goroutine.
type Node struct {
	cfg    Config
	logger *slog.Logger
	bus    *events.Bus

	// signals carries parsed failure signatures from the line scanner to
	// the monitor loop.
	signals chan signal

	monitorStop chan struct{}
	monitorDone chan struct{}

	stopping atomic.Bool

	// restartMu serializes stop+start pairs. Resets arrive on API
	// goroutines while the monitor restarts on its own; interleaving the
	// pairs would leak an untracked node process.
	restartMu sync.Mutex

	// newCmd builds the node process command, replaceable in tests.
	newCmd func() *exec.Cmd

	mu     sync.Mutex
	cmd    *exec.Cmd
	output *os.File
	waitCh chan error

	resetCount atomic.Int64
}

// New creates a node supervisor. Start must be called before any reset
// operation that expects a running process.
func New(cfg Config, logger *slog.Logger, bus *events.Bus) *Node {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = logging.GetLogger("tendermint")
	}
	n := &Node{
		cfg:         cfg,
		logger:      logger,
		bus:         bus,
		signals:     make(chan signal, 8),
		monitorStop: make(chan struct{}),
		monitorDone: make(chan struct{}),
	}
	n.newCmd = n.buildCmd
	return n
}

// args assembles the node binary's command line from the config.
func (n *Node) args() []string {
	args := []string{
		"node",
		"--home", n.cfg.Home,
		"--rpc.laddr", n.cfg.RPCLaddr,
		"--p2p.laddr", n.cfg.P2PLaddr,
		"--proxy_app", n.cfg.ProxyApp,
	}
	if len(n.cfg.Seeds) > 0 {
		args = append(args, "--p2p.seeds", strings.Join(n.cfg.Seeds, ","))
	}
	if n.cfg.UseGRPC {
		args = append(args, "--abci", "grpc")
	} else {
		args = append(args, "--abci", "socket")
	}
	if n.cfg.Debug {
		args = append(args, "--log_level", "debug")
	}
	return args
}

func (n *Node) buildCmd() *exec.Cmd {
	return exec.Command(n.cfg.Binary, n.args()...)
}

// Start spawns the node process and the monitor goroutine. A Node is
// one-shot: once Stop has run it cannot be started again, construct a
// new one instead.
func (n *Node) Start() error {
	if n.stopping.Load() {
		return errors.New("node supervisor already stopped")
	}
	if err := n.startProcess(); err != nil {
		return err
	}
	go n.monitorLoop()
	return nil
}

// startProcess spawns one node process with stdout and stderr combined
// into a single pipe read by a dedicated scanner goroutine.
func (n *Node) startProcess() error {
	pr, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("creating output pipe: %w", err)
	}

	cmd := n.newCmd()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return fmt.Errorf("spawning consensus node: %w", err)
	}
	// The child holds its own write end now
	pw.Close()

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	n.mu.Lock()
	n.cmd = cmd
	n.output = pr
	n.waitCh = waitCh
	n.mu.Unlock()

	go n.scanOutput(pr)

	n.logger.Info("Consensus node started", "pid", cmd.Process.Pid, "home", n.cfg.Home)
	return nil
}

// PID returns the running node process id, or 0 when not running.
func (n *Node) PID() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cmd == nil || n.cmd.Process == nil {
		return 0
	}
	return n.cmd.Process.Pid
}

// Stop signals and joins the monitor, then terminates the node process.
// Re-entrant calls are no-ops.
func (n *Node) Stop() {
	if !n.stopping.CompareAndSwap(false, true) {
		return
	}

	close(n.monitorStop)
	select {
	case <-n.monitorDone:
	case <-time.After(monitorJoinTimeout):
		n.logger.Warn("Monitor did not stop within timeout, proceeding")
	}

	n.restartMu.Lock()
	defer n.restartMu.Unlock()
	n.stopProcess()
}

// stopProcess terminates the current node process and reaps it. Safe to
// call with no process running.
func (n *Node) stopProcess() {
	n.mu.Lock()
	cmd := n.cmd
	output := n.output
	waitCh := n.waitCh
	n.cmd = nil
	n.output = nil
	n.waitCh = nil
	n.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}

	terminate(n.logger, cmd, waitCh)

	if output != nil {
		output.Close()
	}
	n.logger.Info("Consensus node stopped", "pid", cmd.Process.Pid)
}
