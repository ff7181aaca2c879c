package main

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smazurov/agentnode/cmd"
	"github.com/smazurov/agentnode/internal/api"
	"github.com/smazurov/agentnode/internal/config"
	"github.com/smazurov/agentnode/internal/events"
	"github.com/smazurov/agentnode/internal/logging"
	"github.com/smazurov/agentnode/internal/tendermint"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"agentnode.toml"`

	// Control API settings
	Port    string `help:"Control API listen address" short:"p" default:":8080" toml:"api.port" env:"API_PORT"`
	DevMode bool   `help:"Enable dev mode (home snapshots before hard resets)" default:"false" toml:"api.dev-mode" env:"DEV_MODE"`

	// Consensus node settings
	NodeBinary   string `help:"Consensus node binary" default:"tendermint" toml:"node.binary" env:"NODE_BINARY"`
	NodeHome     string `help:"Consensus node home directory" default:"node" toml:"node.home" env:"NODE_HOME"`
	NodeRPCLaddr string `help:"Node RPC listen address" default:"tcp://0.0.0.0:26657" toml:"node.rpc-laddr" env:"NODE_RPC_LADDR"`
	NodeP2PLaddr string `help:"Node P2P listen address" default:"tcp://0.0.0.0:26656" toml:"node.p2p-laddr" env:"NODE_P2P_LADDR"`
	NodeProxyApp string `help:"ABCI proxy application address" default:"tcp://127.0.0.1:26658" toml:"node.proxy-app" env:"NODE_PROXY_APP"`
	NodeSeeds    string `help:"Comma-separated peer seed addresses" default:"" toml:"node.seeds" env:"NODE_SEEDS"`
	NodeUseGRPC  bool   `help:"Use gRPC ABCI transport instead of socket" default:"false" toml:"node.use-grpc" env:"NODE_USE_GRPC"`
	NodeDebug    bool   `help:"Raise node log verbosity" default:"false" toml:"node.debug" env:"NODE_DEBUG"`
	NodeRPCURL   string `help:"Node RPC URL proxied by /app_hash" default:"http://127.0.0.1:26657" toml:"node.rpc-url" env:"NODE_RPC_URL"`

	// Logging settings
	LoggingLevel      string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat     string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingDeployment string `help:"Deployment logging level" default:"info" toml:"logging.deployment" env:"LOGGING_DEPLOYMENT"`
	LoggingTendermint string `help:"Consensus node supervisor logging level" default:"info" toml:"logging.tendermint" env:"LOGGING_TENDERMINT"`
	LoggingAPI        string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingHTTP       string `help:"HTTP request logging level" default:"info" toml:"logging.http" env:"LOGGING_HTTP"`
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if loadErr := config.LoadConfig(opts, nil); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"deployment": opts.LoggingDeployment,
				"tendermint": opts.LoggingTendermint,
				"api":        opts.LoggingAPI,
				"http":       opts.LoggingHTTP,
			},
		})
		logger := logging.GetLogger("main")

		eventBus := events.New()

		// Feed new log entries onto the bus for the SSE log stream
		logging.SetLogCallback(func(entry logging.LogEntry) {
			eventBus.Publish(events.LogEntryEvent{
				Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
				Level:      entry.Level,
				Module:     entry.Module,
				Message:    entry.Message,
				Attributes: entry.Attributes,
			})
		})

		var seeds []string
		if opts.NodeSeeds != "" {
			for _, seed := range strings.Split(opts.NodeSeeds, ",") {
				seeds = append(seeds, strings.TrimSpace(seed))
			}
		}

		node := tendermint.New(tendermint.Config{
			Binary:   opts.NodeBinary,
			Home:     opts.NodeHome,
			RPCLaddr: opts.NodeRPCLaddr,
			P2PLaddr: opts.NodeP2PLaddr,
			ProxyApp: opts.NodeProxyApp,
			Seeds:    seeds,
			UseGRPC:  opts.NodeUseGRPC,
			Debug:    opts.NodeDebug,
		}, logging.GetLogger("tendermint"), eventBus)

		server := api.NewServer(&api.Options{
			Node:              node,
			NodeHome:          opts.NodeHome,
			NodeRPCURL:        opts.NodeRPCURL,
			DevMode:           opts.DevMode,
			EventBus:          eventBus,
			PrometheusHandler: promhttp.Handler(),
		})

		// Live-reload logging levels when the config file changes
		watcher := config.NewConfigWatcher(opts.Config, func(path string) (logging.Config, error) {
			return config.LoadLoggingConfig(path), nil
		}, logger)
		watcher.OnReload(func(cfg logging.Config) {
			logging.SetGlobalLevel(cfg.Level)
			for module, level := range cfg.Modules {
				logging.SetModuleLevel(module, level)
			}
		})

		hooks.OnStart(func() {
			if startErr := node.Start(); startErr != nil {
				logger.Error("Failed to start consensus node", "error", startErr)
				os.Exit(1)
			}

			if watchErr := watcher.Start(); watchErr != nil {
				logger.Warn("Config watcher unavailable", "error", watchErr)
			}

			logger.Info("Starting control API", "addr", opts.Port)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start control API", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping control API", "error", stopErr)
			}
			if stopErr := watcher.Stop(); stopErr != nil {
				logger.Error("Error stopping config watcher", "error", stopErr)
			}
			node.Stop()
		})
	})

	cli.Root().Use = "agentnode"
	cli.Root().AddCommand(
		cmd.CreateRunCmd(),
		cmd.CreateStopCmd(),
		cmd.CreateStatusCmd(),
		cmd.CreateVersionCmd(),
	)

	cli.Run()
}
