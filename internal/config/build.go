// Package config holds the daemon's build manifest: the compile-time-ish
// table of well-known directories and startup commands (spec §6 "build
// manifest", supplemented from `airup-sdk/src/build.rs`).
package config

import (
	"encoding/json"
	"os"
)

// BuildManifest is the static configuration handed to `info.build_manifest`
// and used to resolve every on-disk directory the daemon touches.
type BuildManifest struct {
	OSName       string            `json:"os_name"`
	ConfigDir    string            `json:"config_dir"`
	ServiceDir   string            `json:"service_dir"`
	MilestoneDir string            `json:"milestone_dir"`
	RuntimeDir   string            `json:"runtime_dir"`
	LogDir       string            `json:"log_dir"`
	EnvVars      map[string]string `json:"env_vars"`
	EarlyCmds    []string          `json:"early_cmds"`
}

// Default returns the built-in build manifest, used when no
// --build-manifest override is given.
func Default() *BuildManifest {
	return &BuildManifest{
		OSName:       "Airup",
		ConfigDir:    "/etc/airup",
		ServiceDir:   "/etc/airup/services",
		MilestoneDir: "/etc/airup/milestones",
		RuntimeDir:   "/run/airup",
		LogDir:       "/var/log/airup",
	}
}

// Load reads a build manifest override from path, falling back to
// unspecified fields' defaults.
func Load(path string) (*BuildManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m := Default()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, err
	}
	return m, nil
}

// SocketPath resolves the RPC socket path: AIRUP_SOCK if set, else
// `runtime_dir/airupd.sock` (spec §6).
func (m *BuildManifest) SocketPath() string {
	if sock := os.Getenv("AIRUP_SOCK"); sock != "" {
		return sock
	}
	return m.RuntimeDir + "/airupd.sock"
}

// LockPath is the daemon's exclusive lock file under its runtime
// directory (spec §5).
func (m *BuildManifest) LockPath() string {
	return m.RuntimeDir + "/airupd.lock"
}
