package task

import (
	"os"
	"strconv"
	"strings"

	"github.com/airup-sh/airupd/internal/ace"
	"github.com/airup-sh/airupd/internal/apierror"
	"github.com/airup-sh/airupd/internal/logger"
	"github.com/airup-sh/airupd/internal/manifest"
	"github.com/airup-sh/airupd/internal/reaper"
)

// Daemon is the slice of Manager/registry operations a task needs to
// resolve dependencies and conflicts. Supervisors reference it only for the
// lifetime of one task invocation, never storing it (spec §9 "Cyclic
// references").
type Daemon interface {
	// MakeActive starts (or confirms active) the named service, returning
	// its task handle (already-Active services get a trivially-satisfied
	// handle).
	MakeActive(name string) (Handle, error)

	// IsActive reports whether a registered service is currently Active.
	// The second return is false if no such service is registered.
	IsActive(name string) (active bool, found bool)
}

// Context is the per-task execution environment: the service's manifest
// plus the collaborators a task drives (Command Engine, Child Reaper,
// Daemon) and the accessors it uses to read/mutate its owning Supervisor's
// child handle.
type Context struct {
	Service *manifest.Service
	Reaper  *reaper.Reaper
	Daemon  Daemon
	Retry   *RetryState

	GetChild   func() ace.Child
	SetChild   func(ace.Child)
	ClearChild func()
}

// log tags a line with the service's name before handing it to the daemon
// logger, mirroring how console.info/warn/error are attributed.
func (c *Context) log(level, line string) {
	switch level {
	case "stderr":
		logger.Warnf("%s: %s", c.Service.Name, line)
	default:
		logger.Noticef("%s: %s", c.Service.Name, line)
	}
}

// NewAce builds a Command Engine bound to this service's environment, with
// extraVars (e.g. MAINPID) overlaid on top of the manifest's own vars.
func (c *Context) NewAce(extraVars map[string]string) (*ace.Ace, error) {
	env, err := c.Service.Env.ToProcessEnv(c.log)
	if err != nil {
		return nil, apierror.Io(err.Error())
	}
	for k, v := range extraVars {
		val := v
		env.Var(k, &val)
	}
	return ace.New(env, c.Reaper), nil
}

// mainPIDVars returns {"MAINPID": "<pid>"} if a child is currently
// attached, per the supplemented MAINPID-injection behavior.
func (c *Context) mainPIDVars() map[string]string {
	child := c.GetChild()
	if child == nil {
		return nil
	}
	return map[string]string{"MAINPID": strconv.Itoa(child.Id())}
}

// WritePidFile best-effort writes pid to the manifest's configured
// pid_file, ignoring errors per spec §4.3 ("delete pid_file... ignore
// errors" — writing follows the same tolerance).
func (c *Context) WritePidFile(pid int) {
	if c.Service.ServiceMeta.PidFile == nil {
		return
	}
	_ = os.WriteFile(*c.Service.ServiceMeta.PidFile, []byte(strconv.Itoa(pid)), 0o644)
}

// ReadPidFile parses the configured pid_file's contents as a decimal
// integer, tolerating trailing whitespace (spec §6 "PID file format").
func (c *Context) ReadPidFile() (int, error) {
	if c.Service.ServiceMeta.PidFile == nil {
		return 0, apierror.PidFile("no pid_file configured")
	}
	data, err := os.ReadFile(*c.Service.ServiceMeta.PidFile)
	if err != nil {
		return 0, apierror.PidFile(err.Error())
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, apierror.PidFile(err.Error())
	}
	return pid, nil
}

// RemovePidFile best-effort deletes the configured pid_file.
func (c *Context) RemovePidFile() {
	if c.Service.ServiceMeta.PidFile == nil {
		return
	}
	_ = os.Remove(*c.Service.ServiceMeta.PidFile)
}
