package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

type testOptions struct {
	Config   string
	NodeHome string `toml:"node.home" env:"NODE_HOME"`
	Port     int    `toml:"api.port" env:"PORT"`
	DevMode  bool   `toml:"api.dev-mode" env:"DEV_MODE"`
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agentnode.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

func TestLoadConfigFromTOML(t *testing.T) {
	path := writeConfigFile(t, `
[node]
home = "/var/lib/agentnode"

[api]
port = 9090
dev-mode = true
`)

	opts := testOptions{Config: path}
	if err := LoadConfig(&opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if opts.NodeHome != "/var/lib/agentnode" {
		t.Errorf("NodeHome = %q", opts.NodeHome)
	}
	if opts.Port != 9090 {
		t.Errorf("Port = %d, want 9090", opts.Port)
	}
	if !opts.DevMode {
		t.Error("DevMode not applied from TOML")
	}
}

func TestEnvOverridesTOML(t *testing.T) {
	path := writeConfigFile(t, `
[api]
port = 9090
`)
	t.Setenv("AGENTNODE_PORT", "7070")

	opts := testOptions{Config: path}
	if err := LoadConfig(&opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if opts.Port != 7070 {
		t.Errorf("Port = %d, want env override 7070", opts.Port)
	}
}

func TestCLIFlagWinsOverEverything(t *testing.T) {
	path := writeConfigFile(t, `
[api]
port = 9090
`)
	t.Setenv("AGENTNODE_PORT", "7070")

	opts := testOptions{Config: path, Port: 8080}
	cmd := &cobra.Command{}
	cmd.Flags().IntVar(&opts.Port, "port", 8080, "")
	if err := cmd.Flags().Set("port", "6060"); err != nil {
		t.Fatalf("setting flag: %v", err)
	}

	if err := LoadConfig(&opts, cmd); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if opts.Port != 6060 {
		t.Errorf("Port = %d, want CLI value 6060", opts.Port)
	}
}

func TestLoadConfigMissingFileIsFine(t *testing.T) {
	opts := testOptions{Config: "/nonexistent/agentnode.toml"}
	if err := LoadConfig(&opts, nil); err != nil {
		t.Fatalf("LoadConfig should tolerate a missing file: %v", err)
	}
}

func TestLoadConfigMalformedTOML(t *testing.T) {
	path := writeConfigFile(t, "this is not toml = = =")
	opts := testOptions{Config: path}
	if err := LoadConfig(&opts, nil); err == nil {
		t.Fatal("expected error for malformed TOML")
	}
}

func TestLoadLoggingConfig(t *testing.T) {
	path := writeConfigFile(t, `
[logging]
level = "warn"
format = "json"
deployment = "debug"
tendermint = "error"
`)

	cfg := LoadLoggingConfig(path)
	if cfg.Level != "warn" || cfg.Format != "json" {
		t.Errorf("level/format = %s/%s, want warn/json", cfg.Level, cfg.Format)
	}
	if cfg.Modules["deployment"] != "debug" || cfg.Modules["tendermint"] != "error" {
		t.Errorf("module overrides = %v", cfg.Modules)
	}
}

func TestLoadLoggingConfigDefaults(t *testing.T) {
	cfg := LoadLoggingConfig("/nonexistent.toml")
	if cfg.Level != "info" || cfg.Format != "text" {
		t.Errorf("defaults = %s/%s, want info/text", cfg.Level, cfg.Format)
	}
}

func TestWatcherNotifiesOnChange(t *testing.T) {
	path := writeConfigFile(t, `
[logging]
level = "info"
`)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	watcher := NewConfigWatcher(path, func(p string) (string, error) {
		data, err := os.ReadFile(p)
		return string(data), err
	}, logger, WithDebounce[string](50*time.Millisecond))

	reloaded := make(chan string, 1)
	watcher.OnReload(func(content string) {
		select {
		case reloaded <- content:
		default:
		}
	})

	if err := watcher.Start(); err != nil {
		t.Fatalf("starting watcher: %v", err)
	}
	defer watcher.Stop()

	updated := "[logging]\nlevel = \"debug\"\n"
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewriting config: %v", err)
	}

	select {
	case content := <-reloaded:
		if content != updated {
			t.Errorf("handler got stale content: %q", content)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never notified")
	}
}
