package proctree

import (
	"io"
	"log/slog"
	"os/exec"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestKillTreeNonexistentPIDIsNoop(t *testing.T) {
	k := New(testLogger())

	killed := 0
	k.kill = func(p *process.Process) error {
		killed++
		return p.Kill()
	}

	// Spawn and reap a process so the PID is known dead
	cmd := exec.Command("true")
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	_ = cmd.Wait()

	k.KillTree(cmd.Process.Pid)
	if killed != 0 {
		t.Errorf("kill attempts = %d, want 0 for a dead pid", killed)
	}
}

func TestKillTreeChildrenBeforeParent(t *testing.T) {
	// Two background sleeps, then the shell execs into a third so the
	// root process does not exit when its children die.
	cmd := exec.Command("sh", "-c", "sleep 30 & sleep 30 & exec sleep 30")
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	root := cmd.Process.Pid
	defer func() {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
	}()

	// Give the shell time to fork its children
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		proc, err := process.NewProcess(int32(root))
		if err != nil {
			t.Fatalf("inspecting shell: %v", err)
		}
		children, _ := proc.Children()
		if len(children) >= 2 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	k := New(testLogger())
	k.pollInterval = 20 * time.Millisecond

	var order []int32
	k.kill = func(p *process.Process) error {
		order = append(order, p.Pid)
		return p.Kill()
	}

	done := make(chan struct{})
	go func() {
		// Reap the shell so it does not linger as a zombie
		_ = cmd.Wait()
		close(done)
	}()

	k.KillTree(root)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("shell was not reaped after KillTree")
	}

	// Deduplicate: each process may be signaled twice
	seen := make(map[int32]bool)
	var unique []int32
	for _, pid := range order {
		if !seen[pid] {
			seen[pid] = true
			unique = append(unique, pid)
		}
	}

	if len(unique) != 3 {
		t.Fatalf("unique kill targets = %d (%v), want 3", len(unique), unique)
	}
	if unique[len(unique)-1] != int32(root) {
		t.Errorf("root pid %d should be killed last, order: %v", root, unique)
	}
}

func TestTerminateSignalsTwice(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	pid := cmd.Process.Pid

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	k := New(testLogger())
	k.pollInterval = 20 * time.Millisecond

	attempts := 0
	k.kill = func(p *process.Process) error {
		attempts++
		return p.Kill()
	}

	k.KillTree(pid)
	<-done

	// Two rounds unless the process vanished between them
	if attempts < 1 || attempts > 2 {
		t.Errorf("kill attempts = %d, want 1 or 2", attempts)
	}
}
