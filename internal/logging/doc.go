// Package logging provides structured logging built on log/slog.
//
// The package maintains a registry of module-scoped loggers so every
// subsystem (pidfile, deployment, tendermint, api, ...) logs with a
// "module" attribute and an independently adjustable level. Levels are
// backed by slog.LevelVar and can be changed at runtime, which the config
// watcher uses for live log-level reloads.
//
// Records fan out to up to three sinks:
//   - stdout (text or json, per config)
//   - the systemd journal, when running under systemd
//   - an in-memory ring buffer served by the control API's /logs routes
//
// Usage:
//
//	logger := logging.GetLogger("deployment")
//	logger.Info("Deployment started", "build_dir", dir)
package logging
