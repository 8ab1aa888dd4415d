package xdg

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDirs(t *testing.T) {
	tests := []struct {
		name string
		env  string
		val  string
		fn   func() string
		want string
	}{
		{"config env", "XDG_CONFIG_HOME", "/custom/config", ConfigDir, "/custom/config/flowfarm"},
		{"config default", "XDG_CONFIG_HOME", "", ConfigDir, "/home/testuser/.config/flowfarm"},
		{"data env", "XDG_DATA_HOME", "/custom/data", DataDir, "/custom/data/flowfarm"},
		{"data default", "XDG_DATA_HOME", "", DataDir, "/home/testuser/.local/share/flowfarm"},
		{"state env", "XDG_STATE_HOME", "/custom/state", StateDir, "/custom/state/flowfarm"},
		{"state default", "XDG_STATE_HOME", "", StateDir, "/home/testuser/.local/state/flowfarm"},
		{"config file", "XDG_CONFIG_HOME", "/custom/config", ConfigFile, "/custom/config/flowfarm/config.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("HOME", "/home/testuser")
			t.Setenv(tt.env, tt.val)
			if got := tt.fn(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRuntimeDir_EnvVar(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	want := "/run/user/1000/flowfarm"
	if got := RuntimeDir(); got != want {
		t.Errorf("RuntimeDir() = %q, want %q", got, want)
	}
}

func TestRuntimeDir_FallsBackToState(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "")
	t.Setenv("XDG_STATE_HOME", "/custom/state")
	want := "/custom/state/flowfarm/run"
	if got := RuntimeDir(); got != want {
		t.Errorf("RuntimeDir() = %q, want %q", got, want)
	}
}

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	if err := EnsureDir(dir); err != nil {
		t.Fatalf("EnsureDir() error = %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o700 {
		t.Errorf("perm = %o, want 700", perm)
	}
}
