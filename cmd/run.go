// Package cmd holds the deployment lifecycle subcommands added to the
// supervisor CLI.
package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/smazurov/agentnode/internal/deployment"
	"github.com/smazurov/agentnode/internal/events"
	"github.com/smazurov/agentnode/internal/logging"
)

// CreateRunCmd creates the run command, which starts one deployment's
// agent and consensus node processes and exits.
func CreateRunCmd() *cobra.Command {
	var (
		buildDir       string
		password       string
		consensus      bool
		packaged       bool
		force          bool
		nodeControlURL string
		nodeRPCURL     string
		logJSON        bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start an agent deployment",
		Long: `Prepares the agent in the build directory, spawns the consensus node ` +
			`(unless disabled) and the agent process, and records their PIDs.`,
		Run: func(cmd *cobra.Command, _ []string) {
			initCommandLogging(logJSON)
			logger := logging.GetLogger("deployment")

			manager := deployment.NewManager(logger, events.New())
			cfg := deployment.Config{
				BuildDir:         buildDir,
				ConsensusEnabled: consensus,
				Packaged:         packaged,
				NodeControlURL:   nodeControlURL,
				NodeRPCURL:       nodeRPCURL,
			}

			if err := manager.RunDeployment(context.Background(), cfg, password, force); err != nil {
				logger.Error("Deployment start failed", "build_dir", buildDir, "error", err)
				os.Exit(1)
			}
			logger.Info("Deployment started", "build_dir", buildDir)
		},
	}

	cmd.Flags().StringVar(&buildDir, "build-dir", "", "Deployment build directory")
	cmd.Flags().StringVar(&password, "password", "", "Agent key password")
	cmd.Flags().BoolVar(&consensus, "consensus", true, "Spawn the consensus node")
	cmd.Flags().BoolVar(&packaged, "packaged", false, "Resolve binaries from the packaged bundle")
	cmd.Flags().BoolVar(&force, "force", false, "Override an in-flight transition")
	cmd.Flags().StringVar(&nodeControlURL, "node-control-url", "", "Consensus node control API URL")
	cmd.Flags().StringVar(&nodeRPCURL, "node-rpc-url", "", "Consensus node RPC URL")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Log in JSON format")
	_ = cmd.MarkFlagRequired("build-dir")

	return cmd
}

func initCommandLogging(logJSON bool) {
	cfg := logging.Config{Level: "info", Format: "text"}
	if logJSON {
		cfg.Format = "json"
	}
	logging.Initialize(cfg)
}
