package tendermint

import (
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestNode(t *testing.T, cfg Config) *Node {
	t.Helper()
	return New(cfg, discardLogger(), nil)
}

func TestArgs(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want []string
		omit []string
	}{
		{
			name: "defaults use socket transport",
			cfg:  Config{Home: "/tmp/node"},
			want: []string{"--abci", "socket", "--rpc.laddr", defaultRPCLaddr},
			omit: []string{"--p2p.seeds", "--log_level"},
		},
		{
			name: "grpc transport",
			cfg:  Config{Home: "/tmp/node", UseGRPC: true},
			want: []string{"--abci", "grpc"},
		},
		{
			name: "seeds comma joined",
			cfg:  Config{Home: "/tmp/node", Seeds: []string{"a@1:26656", "b@2:26656"}},
			want: []string{"--p2p.seeds", "a@1:26656,b@2:26656"},
		},
		{
			name: "debug verbosity",
			cfg:  Config{Home: "/tmp/node", Debug: true},
			want: []string{"--log_level", "debug"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newTestNode(t, tt.cfg)
			got := strings.Join(n.args(), " ")

			for _, want := range tt.want {
				if !strings.Contains(got, want) {
					t.Errorf("args %q missing %q", got, want)
				}
			}
			for _, omit := range tt.omit {
				if strings.Contains(got, omit) {
					t.Errorf("args %q should not contain %q", got, omit)
				}
			}
		})
	}
}

func TestMatchSignature(t *testing.T) {
	tests := []struct {
		line string
		want string
		ok   bool
	}{
		{"E[2026-01-27] RPC HTTP server stopped module=rpc", "rpc_server_stopped", true},
		{"E[2026-01-27] Stopping abci.socketClient for error: read message: EOF", "abci_connection_lost", true},
		{"I[2026-01-27] Executed block module=state height=42", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := matchSignature(tt.line)
		if got != tt.want || ok != tt.ok {
			t.Errorf("matchSignature(%q) = (%q, %v), want (%q, %v)", tt.line, got, ok, tt.want, tt.ok)
		}
	}
}

func TestScanOutputForwardsSignatures(t *testing.T) {
	n := newTestNode(t, Config{Home: t.TempDir()})

	pr, pw, err := os.Pipe()
	if err != nil {
		t.Fatalf("creating pipe: %v", err)
	}
	go n.scanOutput(pr)

	lines := "I[..] Executed block height=1\nE[..] RPC HTTP server stopped\n"
	if _, err := pw.WriteString(lines); err != nil {
		t.Fatalf("writing lines: %v", err)
	}
	pw.Close()

	select {
	case sig := <-n.signals:
		if sig.signature != "rpc_server_stopped" {
			t.Errorf("signature = %q, want rpc_server_stopped", sig.signature)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no signal forwarded")
	}
}

func TestMonitorRestartsOnceAndStaysAlive(t *testing.T) {
	n := newTestNode(t, Config{Home: t.TempDir()})

	var spawns atomic.Int64
	n.newCmd = func() *exec.Cmd {
		spawns.Add(1)
		return exec.Command("sleep", "30")
	}

	if err := n.startProcess(); err != nil {
		t.Fatalf("startProcess failed: %v", err)
	}
	go n.monitorLoop()
	firstPID := n.PID()

	n.signals <- signal{signature: "rpc_server_stopped", line: "RPC HTTP server stopped"}

	deadline := time.Now().Add(5 * time.Second)
	for spawns.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if got := spawns.Load(); got != 2 {
		t.Fatalf("spawns = %d, want 2 (one restart)", got)
	}
	if pid := n.PID(); pid == 0 || pid == firstPID {
		t.Errorf("PID after restart = %d, want a fresh live process (was %d)", pid, firstPID)
	}

	// Monitor must still be alive and joinable
	n.Stop()
	select {
	case <-n.monitorDone:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not exit on stop")
	}

	// Settled: exactly one restart happened
	if got := spawns.Load(); got != 2 {
		t.Errorf("spawns after stop = %d, want 2", got)
	}
}

func TestConcurrentResetsLeaveOneProcess(t *testing.T) {
	n := newTestNode(t, Config{Home: t.TempDir()})

	var spawns atomic.Int64
	n.newCmd = func() *exec.Cmd {
		spawns.Add(1)
		return exec.Command("sleep", "30")
	}

	if err := n.startProcess(); err != nil {
		t.Fatalf("startProcess failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := n.GentleReset(); err != nil {
				t.Errorf("GentleReset failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := spawns.Load(); got != 9 {
		t.Errorf("spawns = %d, want 9 (initial start plus one per reset)", got)
	}

	// Every superseded process must have been reaped; only the current one
	// may still be running.
	self, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		t.Fatalf("inspecting self: %v", err)
	}
	children, _ := self.Children()
	live := 0
	for _, child := range children {
		name, err := child.Name()
		if err != nil || name != "sleep" {
			continue
		}
		statuses, err := child.Status()
		if err != nil {
			continue
		}
		defunct := false
		for _, status := range statuses {
			if status == process.Zombie || status == "dead" {
				defunct = true
			}
		}
		if !defunct {
			live++
		}
	}
	if live != 1 {
		t.Errorf("live node processes = %d, want 1 (resets leaked a process)", live)
	}

	n.stopProcess()
}

func TestStartAfterStopFails(t *testing.T) {
	n := newTestNode(t, Config{Home: t.TempDir()})
	n.newCmd = func() *exec.Cmd { return exec.Command("sleep", "30") }

	if err := n.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	n.Stop()

	if err := n.Start(); err == nil {
		t.Fatal("Start after Stop succeeded, want error")
	}
}

func TestStopIsReentrant(t *testing.T) {
	n := newTestNode(t, Config{Home: t.TempDir()})
	n.newCmd = func() *exec.Cmd { return exec.Command("sleep", "30") }

	if err := n.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	n.Stop()
	n.Stop() // no panic, no double close
}

func writeNodeHome(t *testing.T, genesis, config string) Config {
	t.Helper()
	home := t.TempDir()
	dir := filepath.Join(home, "config")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("creating config dir: %v", err)
	}
	if genesis != "" {
		if err := os.WriteFile(filepath.Join(dir, "genesis.json"), []byte(genesis), 0o644); err != nil {
			t.Fatalf("writing genesis: %v", err)
		}
	}
	if config != "" {
		if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(config), 0o644); err != nil {
			t.Fatalf("writing config: %v", err)
		}
	}
	return Config{Home: home}
}

func TestResetGenesis(t *testing.T) {
	genesis := `{"genesis_time":"old","initial_height":"1","chain_id":"agentnode-0","validators":[]}`
	n := newTestNode(t, writeNodeHome(t, genesis, ""))

	if err := n.ResetGenesis("2026-08-31T00:00:00Z", "100", 7); err != nil {
		t.Fatalf("ResetGenesis failed: %v", err)
	}

	data, err := os.ReadFile(n.genesisPath())
	if err != nil {
		t.Fatalf("reading genesis: %v", err)
	}
	got := string(data)
	for _, want := range []string{
		`"genesis_time": "2026-08-31T00:00:00Z"`,
		`"initial_height": "100"`,
		`"chain_id": "agentnode-7"`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("genesis missing %s:\n%s", want, got)
		}
	}
}

func TestWriteValidators(t *testing.T) {
	genesis := `{"chain_id":"agentnode-0","validators":[]}`
	n := newTestNode(t, writeNodeHome(t, genesis, ""))

	validators := []Validator{
		{Address: "ADDR1", PubKey: map[string]any{"type": "ed25519", "value": "k1"}, Power: "10", Name: "node0"},
	}
	if err := n.WriteValidators(validators); err != nil {
		t.Fatalf("WriteValidators failed: %v", err)
	}

	data, _ := os.ReadFile(n.genesisPath())
	got := string(data)
	for _, want := range []string{`"address": "ADDR1"`, `"power": "10"`, `"name": "node0"`} {
		if !strings.Contains(got, want) {
			t.Errorf("genesis missing %s:\n%s", want, got)
		}
	}
}

const sampleConfig = `# Comment preserved
fast_sync = true
pex = true
addr_book_strict = true
persistent_peers = ""
external_address = ""
`

func TestOverrideDefaults(t *testing.T) {
	n := newTestNode(t, writeNodeHome(t, "", sampleConfig))

	if err := n.OverrideDefaults(); err != nil {
		t.Fatalf("OverrideDefaults failed: %v", err)
	}

	data, _ := os.ReadFile(n.configPath())
	got := string(data)
	for _, want := range []string{
		"fast_sync = false",
		"pex = false",
		"addr_book_strict = false",
		"# Comment preserved",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("config missing %q:\n%s", want, got)
		}
	}
}

func TestInjectPeersMapsAnyAddressToLoopback(t *testing.T) {
	n := newTestNode(t, writeNodeHome(t, "", sampleConfig))

	validators := []Validator{
		{NodeID: "id0", Hostname: "0.0.0.0", P2PPort: 26656},
		{NodeID: "id1", Hostname: "validator1", P2PPort: 26666},
	}
	if err := n.InjectPeers(validators); err != nil {
		t.Fatalf("InjectPeers failed: %v", err)
	}

	data, _ := os.ReadFile(n.configPath())
	want := `persistent_peers = "id0@127.0.0.1:26656,id1@validator1:26666"`
	if !strings.Contains(string(data), want) {
		t.Errorf("config missing %s:\n%s", want, string(data))
	}
}

func TestOverrideExternalAddress(t *testing.T) {
	n := newTestNode(t, writeNodeHome(t, "", sampleConfig))

	if err := n.OverrideExternalAddress("tcp://1.2.3.4:26656"); err != nil {
		t.Fatalf("OverrideExternalAddress failed: %v", err)
	}

	data, _ := os.ReadFile(n.configPath())
	if !strings.Contains(string(data), `external_address = "tcp://1.2.3.4:26656"`) {
		t.Errorf("external address not rewritten:\n%s", string(data))
	}
}

func TestSnapshotHome(t *testing.T) {
	cfg := writeNodeHome(t, `{"chain_id":"agentnode-0"}`, sampleConfig)
	n := newTestNode(t, cfg)

	// Read-only file must come out writable in the snapshot
	roPath := filepath.Join(cfg.Home, "config", "priv_validator_key.json")
	if err := os.WriteFile(roPath, []byte("{}"), 0o400); err != nil {
		t.Fatalf("writing read-only file: %v", err)
	}

	dest, err := n.SnapshotHome()
	if err != nil {
		t.Fatalf("SnapshotHome failed: %v", err)
	}

	copied := filepath.Join(dest, "config", "priv_validator_key.json")
	info, err := os.Stat(copied)
	if err != nil {
		t.Fatalf("snapshot missing file: %v", err)
	}
	if info.Mode().Perm()&0o200 == 0 {
		t.Errorf("snapshot copy not writable: %v", info.Mode())
	}

	// Second snapshot gets a fresh number
	dest2, err := n.SnapshotHome()
	if err != nil {
		t.Fatalf("second SnapshotHome failed: %v", err)
	}
	if dest2 == dest {
		t.Errorf("snapshot dirs collide: %s", dest)
	}
}
