package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/smazurov/agentnode/internal/deployment"
	"github.com/smazurov/agentnode/internal/events"
	"github.com/smazurov/agentnode/internal/logging"
)

// CreateStopCmd creates the stop command, which terminates a running
// deployment's processes via their PID files.
func CreateStopCmd() *cobra.Command {
	var (
		buildDir  string
		consensus bool
		force     bool
		logJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop an agent deployment",
		Long: `Kills the deployment's agent process and, when enabled, its consensus ` +
			`node, using the recorded PID files. Stale PID files are cleaned up.`,
		Run: func(cmd *cobra.Command, _ []string) {
			initCommandLogging(logJSON)
			logger := logging.GetLogger("deployment")

			manager := deployment.NewManager(logger, events.New())
			// Register the deployment so the stop path sees the right
			// consensus setting
			cfg := deployment.Config{BuildDir: buildDir, ConsensusEnabled: consensus}
			if err := manager.Register(cfg); err != nil {
				logger.Error("Unsupported deployment configuration", "error", err)
				os.Exit(1)
			}

			if err := manager.StopDeployment(context.Background(), buildDir, force); err != nil {
				logger.Error("Deployment stop failed", "build_dir", buildDir, "error", err)
				os.Exit(1)
			}
			logger.Info("Deployment stopped", "build_dir", buildDir)
		},
	}

	cmd.Flags().StringVar(&buildDir, "build-dir", "", "Deployment build directory")
	cmd.Flags().BoolVar(&consensus, "consensus", true, "Also stop the consensus node")
	cmd.Flags().BoolVar(&force, "force", false, "Override an in-flight transition")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Log in JSON format")
	_ = cmd.MarkFlagRequired("build-dir")

	return cmd
}
