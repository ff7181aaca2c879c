package deployment

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"

	"github.com/smazurov/agentnode/internal/events"
)

const (
	agentBinary = "agent"
	nodeBinary  = "agentnode"
)

// NewRunner selects the platform variant for the current host. Packaged
// deployments resolve their binaries from the bundle's bin directory with
// per-OS naming; host deployments resolve them from PATH. An unsupported
// host OS is rejected up front rather than failing at spawn time.
func NewRunner(cfg Config, logger *slog.Logger, bus *events.Bus) (Runner, error) {
	cfg = cfg.withDefaults()

	var cmds commandSet
	if cfg.Packaged {
		switch runtime.GOOS {
		case "linux", "darwin":
			cmds = packagedCommands{}
		case "windows":
			cmds = packagedCommands{exeSuffix: ".exe"}
		default:
			return nil, fmt.Errorf("unsupported host platform %q", runtime.GOOS)
		}
	} else {
		cmds = hostCommands{}
	}

	return newBaseRunner(cfg, cmds, logger, bus), nil
}

// packagedCommands resolves binaries from the packaged bundle directory.
type packagedCommands struct {
	exeSuffix string
}

func (p packagedCommands) agentCommand(cfg Config, password string) (string, []string) {
	return filepath.Join(cfg.BinDir, agentBinary+p.exeSuffix), agentArgs(password)
}

func (p packagedCommands) nodeCommand(cfg Config) (string, []string) {
	return filepath.Join(cfg.BinDir, nodeBinary+p.exeSuffix), nodeArgs(cfg)
}

// hostCommands resolves binaries from the host PATH.
type hostCommands struct{}

func (hostCommands) agentCommand(cfg Config, password string) (string, []string) {
	return agentBinary, agentArgs(password)
}

func (hostCommands) nodeCommand(cfg Config) (string, []string) {
	return nodeBinary, nodeArgs(cfg)
}

func agentArgs(password string) []string {
	args := []string{"run"}
	if password != "" {
		args = append(args, "--password", password)
	}
	return args
}

// nodeArgs launches the supervisor binary itself in its default serving
// mode, pointed at the deployment's node home.
func nodeArgs(cfg Config) []string {
	return []string{"--node-home", filepath.Join(cfg.BuildDir, "node")}
}
