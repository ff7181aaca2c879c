package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/agentnode/internal/pidfile"
)

const statusReadTimeout = 5 * time.Second

// CreateStatusCmd creates the status command, which reports process
// liveness for a deployment from its PID files.
func CreateStatusCmd() *cobra.Command {
	var buildDir string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show deployment process status",
		Long: `Reads the deployment's PID files and reports whether the agent and ` +
			`consensus node processes are alive. Stale files are reported, not removed.`,
		Run: func(cmd *cobra.Command, _ []string) {
			initCommandLogging(false)

			exitCode := 0
			for _, proc := range []struct {
				kind string
				file string
			}{
				{"agent", "agent.pid"},
				{"node", "tendermint.pid"},
			} {
				path := filepath.Join(buildDir, proc.file)
				pid, err := pidfile.Read(path, statusReadTimeout, nil, false)
				switch {
				case err == nil:
					fmt.Printf("%s: running (pid %d)\n", proc.kind, pid)
				case errors.Is(err, os.ErrNotExist):
					fmt.Printf("%s: stopped\n", proc.kind)
				case errors.Is(err, pidfile.ErrStale):
					fmt.Printf("%s: stopped (stale pid file)\n", proc.kind)
				default:
					fmt.Printf("%s: unknown (%v)\n", proc.kind, err)
					exitCode = 1
				}
			}
			os.Exit(exitCode)
		},
	}

	cmd.Flags().StringVar(&buildDir, "build-dir", "", "Deployment build directory")
	_ = cmd.MarkFlagRequired("build-dir")

	return cmd
}
