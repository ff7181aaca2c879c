package pidfile

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/shirou/gopsutil/v4/process"
)

const testTimeout = 2 * time.Second

// deadPID spawns and reaps a short-lived process so its PID is known dead.
func deadPID(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("true")
	if err := cmd.Start(); err != nil {
		t.Fatalf("starting helper process: %v", err)
	}
	pid := cmd.Process.Pid
	if err := cmd.Wait(); err != nil {
		t.Fatalf("waiting for helper process: %v", err)
	}
	return pid
}

// selfName returns the current process name as the OS reports it.
func selfName(t *testing.T) string {
	t.Helper()
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		t.Fatalf("inspecting self: %v", err)
	}
	name, err := proc.Name()
	if err != nil {
		t.Fatalf("reading self name: %v", err)
	}
	return name
}

func TestValidatePID(t *testing.T) {
	self := os.Getpid()
	name := selfName(t)

	tests := []struct {
		name          string
		pid           int
		expectedNames []string
		want          bool
	}{
		{"live no names", self, nil, true},
		{"live matching name", self, []string{strings.ToUpper(name)}, true},
		{"live substring", self, []string{name[:3]}, true},
		{"live wrong name", self, []string{"definitely-not-this"}, false},
		{"dead", deadPID(t), nil, false},
		{"negative", -1, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidatePID(tt.pid, tt.expectedNames); got != tt.want {
				t.Errorf("ValidatePID(%d, %v) = %v, want %v", tt.pid, tt.expectedNames, got, tt.want)
			}
		})
	}
}

func TestWriteRejectsDeadPIDWithoutTouchingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.pid")

	err := Write(path, deadPID(t), testTimeout, nil)
	if !errors.Is(err, ErrInvalidPID) {
		t.Fatalf("err = %v, want ErrInvalidPID", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("file should not have been created for an invalid pid")
	}
}

func TestWriteThenRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.pid")
	self := os.Getpid()

	if err := Write(path, self, testTimeout, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading back: %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != strconv.Itoa(self) {
		t.Errorf("file content = %q, want %q", got, strconv.Itoa(self))
	}

	pid, err := Read(path, testTimeout, nil, false)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if pid != self {
		t.Errorf("pid = %d, want %d", pid, self)
	}
}

func TestReadMissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "missing.pid"), testTimeout, nil, false)
	if !os.IsNotExist(err) {
		t.Errorf("err = %v, want not-exist", err)
	}
}

func TestReadInvalidContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"whitespace", "  \n"},
		{"garbage", "not-a-pid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "agent.pid")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}

			_, err := Read(path, testTimeout, nil, false)
			if !errors.Is(err, ErrInvalidPID) {
				t.Errorf("err = %v, want ErrInvalidPID", err)
			}
		})
	}
}

func TestReadStale(t *testing.T) {
	t.Run("remove_stale deletes file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "agent.pid")
		pid := deadPID(t)
		if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644); err != nil {
			t.Fatal(err)
		}

		_, err := Read(path, testTimeout, nil, true)
		if !errors.Is(err, ErrStale) {
			t.Fatalf("err = %v, want ErrStale", err)
		}

		var stale *StaleError
		if !errors.As(err, &stale) {
			t.Fatalf("err = %T, want *StaleError", err)
		}
		if stale.PID != pid {
			t.Errorf("stale.PID = %d, want %d", stale.PID, pid)
		}

		if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
			t.Error("stale file should have been removed")
		}
	})

	t.Run("without remove_stale file remains", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "agent.pid")
		if err := os.WriteFile(path, []byte(strconv.Itoa(deadPID(t))), 0o644); err != nil {
			t.Fatal(err)
		}

		_, err := Read(path, testTimeout, nil, false)
		if !errors.Is(err, ErrStale) {
			t.Fatalf("err = %v, want ErrStale", err)
		}
		if _, statErr := os.Stat(path); statErr != nil {
			t.Error("file should remain when remove_stale is false")
		}
	})

	t.Run("name mismatch is stale", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "agent.pid")
		if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
			t.Fatal(err)
		}

		_, err := Read(path, testTimeout, []string{"definitely-not-this"}, false)
		if !errors.Is(err, ErrStale) {
			t.Errorf("err = %v, want ErrStale", err)
		}
	})
}

func TestWriteLockContention(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.pid")

	holder := flock.New(path)
	if err := holder.Lock(); err != nil {
		t.Fatalf("acquiring holder lock: %v", err)
	}
	defer holder.Unlock() //nolint:errcheck

	err := Write(path, os.Getpid(), 300*time.Millisecond, nil)
	if !errors.Is(err, ErrLocked) {
		t.Errorf("err = %v, want ErrLocked", err)
	}
}

func TestReadSharedLockCompatible(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.pid")
	if err := Write(path, os.Getpid(), testTimeout, nil); err != nil {
		t.Fatal(err)
	}

	// A concurrent reader holding a shared lock must not block Read
	holder := flock.New(path)
	if err := holder.RLock(); err != nil {
		t.Fatalf("acquiring shared lock: %v", err)
	}
	defer holder.Unlock() //nolint:errcheck

	pid, err := Read(path, testTimeout, nil, false)
	if err != nil {
		t.Fatalf("Read under shared lock: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}
}

func TestRemove(t *testing.T) {
	t.Run("missing file is a no-op", func(t *testing.T) {
		if err := Remove(filepath.Join(t.TempDir(), "missing.pid"), false); err != nil {
			t.Errorf("err = %v, want nil", err)
		}
	})

	t.Run("refuses live pid without force", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "agent.pid")
		if err := Write(path, os.Getpid(), testTimeout, nil); err != nil {
			t.Fatal(err)
		}

		if err := Remove(path, false); err != nil {
			t.Fatalf("Remove: %v", err)
		}
		if _, err := os.Stat(path); err != nil {
			t.Error("file for a live process should not have been removed")
		}
	})

	t.Run("force removes live pid", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "agent.pid")
		if err := Write(path, os.Getpid(), testTimeout, nil); err != nil {
			t.Fatal(err)
		}

		if err := Remove(path, true); err != nil {
			t.Fatalf("Remove: %v", err)
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Error("force removal should always delete the file")
		}
	})

	t.Run("removes stale pid without force", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "agent.pid")
		if err := os.WriteFile(path, []byte(strconv.Itoa(deadPID(t))), 0o644); err != nil {
			t.Fatal(err)
		}

		if err := Remove(path, false); err != nil {
			t.Fatalf("Remove: %v", err)
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Error("stale file should have been removed")
		}
	})
}
