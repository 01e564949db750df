// Package manifest parses and validates on-disk service and milestone
// manifests (TOML), decoded with pelletier/go-toml/v2.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Kind is a service's supervision kind.
type Kind string

const (
	KindSimple  Kind = "simple"
	KindForking Kind = "forking"
	KindOneshot Kind = "oneshot"
	KindNotify  Kind = "notify"
)

// StdioMode is a stdio redirection choice (spec §4.1's stdio table).
type StdioMode string

const (
	StdioNulldev StdioMode = "nulldev"
	StdioInherit StdioMode = "inherit"
	StdioFile    StdioMode = "file"
	StdioLog     StdioMode = "log"
)

// Stdio is one stdio stream's redirection. It decodes either from a bare
// string ("nulldev", "inherit", "log") or from a table ({file = "path"}).
type Stdio struct {
	Mode StdioMode
	Path string
}

// UnmarshalTOML implements toml.Unmarshaler.
func (s *Stdio) UnmarshalTOML(value interface{}) error {
	switch v := value.(type) {
	case string:
		s.Mode = StdioMode(v)
	case map[string]interface{}:
		if p, ok := v["file"].(string); ok {
			s.Mode = StdioFile
			s.Path = p
			return nil
		}
		return fmt.Errorf("manifest: stdio table missing `file` key")
	default:
		return fmt.Errorf("manifest: invalid stdio value %#v", value)
	}
	return nil
}

// Env is a service's execution environment (`[env]` section).
type Env struct {
	Login      *string           `toml:"login"`
	UID        *uint32           `toml:"uid"`
	GID        *uint32           `toml:"gid"`
	ClearVars  bool              `toml:"clear-vars"`
	Stdin      Stdio             `toml:"stdin"`
	Stdout     Stdio             `toml:"stdout"`
	Stderr     Stdio             `toml:"stderr"`
	WorkingDir string            `toml:"working-dir"`
	RootDir    string            `toml:"root-dir"`
	Vars       map[string]string `toml:"vars"`
}

func defaultEnv() Env {
	return Env{
		Stdin:  Stdio{Mode: StdioNulldev},
		Stdout: Stdio{Mode: StdioLog},
		Stderr: Stdio{Mode: StdioLog},
	}
}

// Metadata is the `[service]` section.
type Metadata struct {
	DisplayName   *string  `toml:"display-name"`
	Description   *string  `toml:"description"`
	Homepage      *string  `toml:"homepage"`
	Docs          *string  `toml:"docs"`
	Provides      []string `toml:"provides"`
	Kind          Kind     `toml:"kind"`
	PidFile       *string  `toml:"pid-file"`
	Dependencies  []string `toml:"dependencies"`
	ConflictsWith []string `toml:"conflicts-with"`
}

// Exec is the `[exec]` section: lifecycle hook commands and their timeouts.
type Exec struct {
	PreStart    *string `toml:"pre-start"`
	Start       string  `toml:"start"`
	PostStart   *string `toml:"post-start"`
	Reload      *string `toml:"reload"`
	PreStop     *string `toml:"pre-stop"`
	Stop        *string `toml:"stop"`
	PostStop    *string `toml:"post-stop"`
	HealthCheck *string `toml:"health-check"`

	AllTimeoutMS         *uint32 `toml:"all-timeout"`
	StartTimeoutMS       *uint32 `toml:"start-timeout"`
	StopTimeoutMS        *uint32 `toml:"stop-timeout"`
	HealthCheckTimeoutMS *uint32 `toml:"health-check-timeout"`
	ReloadTimeoutMS      *uint32 `toml:"reload-timeout"`
}

func msDuration(ms *uint32) *time.Duration {
	if ms == nil {
		return nil
	}
	d := time.Duration(*ms) * time.Millisecond
	return &d
}

// StartTimeout resolves `start_timeout` falling back to `all_timeout`.
func (e Exec) StartTimeout() *time.Duration {
	return msDuration(firstSet(e.StartTimeoutMS, e.AllTimeoutMS))
}

// StopTimeout resolves `stop_timeout` falling back to `all_timeout`.
func (e Exec) StopTimeout() *time.Duration {
	return msDuration(firstSet(e.StopTimeoutMS, e.AllTimeoutMS))
}

// ReloadTimeout resolves `reload_timeout` falling back to `all_timeout`.
func (e Exec) ReloadTimeout() *time.Duration {
	return msDuration(firstSet(e.ReloadTimeoutMS, e.AllTimeoutMS))
}

// HealthCheckTimeout resolves `health_check_timeout` falling back to `all_timeout`.
func (e Exec) HealthCheckTimeout() *time.Duration {
	return msDuration(firstSet(e.HealthCheckTimeoutMS, e.AllTimeoutMS))
}

func firstSet(a, b *uint32) *uint32 {
	if a != nil {
		return a
	}
	return b
}

// Retry is the `[retry]` section.
type Retry struct {
	MaxAttempts int32  `toml:"max-attempts"`
	Delay       uint64 `toml:"delay"`
}

// Enabled reports whether retries are not disabled (max_attempts != 0).
func (r Retry) Enabled() bool { return r.MaxAttempts != 0 }

// WatchdogKind selects how service health is monitored.
type WatchdogKind string

const (
	WatchdogHealthCheck WatchdogKind = "health-check"
	WatchdogNotify      WatchdogKind = "notify"
)

// Watchdog is the `[watchdog]` section.
type Watchdog struct {
	Kind           *WatchdogKind `toml:"kind"`
	HealthInterval uint32        `toml:"health-interval"`
	SuccessfulExit bool          `toml:"successful-exit"`
}

// Reslimit is the `[reslimit]` section (resource limitation; enforcement is
// an external collaborator's concern).
type Reslimit struct {
	CPU    *uint64 `toml:"cpu"`
	Memory *uint64 `toml:"memory"`
}

// Service is a fully-decoded service manifest.
type Service struct {
	Name string `toml:"-"`

	ServiceMeta   Metadata          `toml:"service"`
	Exec          Exec              `toml:"exec"`
	Env           Env               `toml:"env"`
	Retry         Retry             `toml:"retry"`
	Watchdog      Watchdog          `toml:"watchdog"`
	Reslimit      Reslimit          `toml:"reslimit"`
	EventHandlers map[string]string `toml:"event-handlers"`
}

// DisplayName returns the configured display name, falling back to Name.
func (s *Service) DisplayName() string {
	if s.ServiceMeta.DisplayName != nil {
		return *s.ServiceMeta.DisplayName
	}
	return s.Name
}

// Suffix is the filename suffix of a service manifest.
const Suffix = ".airs"

// ParseService decodes a service manifest from TOML bytes and applies
// field defaults that go-toml/v2 cannot express via struct tags alone.
func ParseService(data []byte) (*Service, error) {
	svc := &Service{Env: defaultEnv(), Watchdog: Watchdog{HealthInterval: 5000}}
	if err := toml.Unmarshal(data, svc); err != nil {
		return nil, fmt.Errorf("manifest: decode service: %w", err)
	}
	return svc, nil
}

// LoadService reads and decodes a service manifest from path, deriving its
// name from the file stem.
func LoadService(path string) (*Service, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	svc, err := ParseService(data)
	if err != nil {
		return nil, err
	}
	base := filepath.Base(path)
	svc.Name = strings.TrimSuffix(base, Suffix)
	return svc, nil
}

// ApplyPatch merges a JSON-merge-patch-style override (spec §6 "Merge
// semantics for patch files") decoded from TOML on top of the base
// manifest, re-decoding the merged document.
func ApplyPatch(base *Service, patch []byte) (*Service, error) {
	var baseMap map[string]interface{}
	baseBytes, err := toml.Marshal(base)
	if err != nil {
		return nil, err
	}
	if err := toml.Unmarshal(baseBytes, &baseMap); err != nil {
		return nil, err
	}

	var patchMap map[string]interface{}
	if err := toml.Unmarshal(patch, &patchMap); err != nil {
		return nil, err
	}

	merged := mergePatch(baseMap, patchMap)
	mergedBytes, err := toml.Marshal(merged)
	if err != nil {
		return nil, err
	}

	out, err := ParseService(mergedBytes)
	if err != nil {
		return nil, err
	}
	out.Name = base.Name
	return out, nil
}

func mergePatch(base, patch map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(base))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range patch {
		if v == nil {
			delete(result, k)
			continue
		}
		if sub, ok := v.(map[string]interface{}); ok {
			if baseSub, ok := result[k].(map[string]interface{}); ok {
				result[k] = mergePatch(baseSub, sub)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// Validate checks the invariants from spec §3.
func (s *Service) Validate() error {
	if s.Env.Login != nil && (s.Env.UID != nil || s.Env.GID != nil) {
		return fmt.Errorf("manifest: `env.login` conflicts with either `env.uid` or `env.gid`")
	}
	if s.ServiceMeta.PidFile != nil && s.ServiceMeta.Kind == KindOneshot {
		return fmt.Errorf("manifest: `service.pid_file` must not be set with kind=\"oneshot\"")
	}
	if s.ServiceMeta.PidFile == nil && s.ServiceMeta.Kind == KindForking {
		return fmt.Errorf("manifest: `service.pid_file` must be set with kind=\"forking\"")
	}
	if s.Env.Stdin.Mode == StdioLog {
		return fmt.Errorf("manifest: value of field `env.stdin` cannot be \"log\"")
	}
	return nil
}
