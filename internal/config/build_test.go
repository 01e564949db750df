package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultPaths(t *testing.T) {
	m := Default()
	if m.RuntimeDir != "/run/airup" {
		t.Errorf("got RuntimeDir %q", m.RuntimeDir)
	}
	if m.ServiceDir != "/etc/airup/services" {
		t.Errorf("got ServiceDir %q", m.ServiceDir)
	}
}

func TestSocketPathPrefersEnvOverride(t *testing.T) {
	m := Default()
	os.Setenv("AIRUP_SOCK", "/tmp/custom.sock")
	defer os.Unsetenv("AIRUP_SOCK")

	if got := m.SocketPath(); got != "/tmp/custom.sock" {
		t.Errorf("got %q", got)
	}
}

func TestSocketPathFallsBackToRuntimeDir(t *testing.T) {
	m := Default()
	os.Unsetenv("AIRUP_SOCK")

	if got := m.SocketPath(); got != "/run/airup/airupd.sock" {
		t.Errorf("got %q", got)
	}
}

func TestLoadOverridesDefaultsFromJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "build_manifest.json")
	if err := os.WriteFile(path, []byte(`{"runtime_dir":"/tmp/airup-run"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.RuntimeDir != "/tmp/airup-run" {
		t.Errorf("got RuntimeDir %q", m.RuntimeDir)
	}
	if m.ServiceDir != "/etc/airup/services" {
		t.Errorf("unset field lost its default: %q", m.ServiceDir)
	}
}
