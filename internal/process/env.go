package process

// StdioMode selects how a child's stdio stream is connected (spec §4.1).
type StdioMode int

const (
	StdioInherit StdioMode = iota // use the daemon's own fd
	StdioNull                     // discard
	StdioFile                     // open for append, create if missing
	StdioLog                      // pipe, delivered line-by-line to a callback
)

// Stdio describes how one stdio stream of a child should be connected.
type Stdio struct {
	Mode StdioMode
	Path string // StdioFile

	// LogFunc receives each output line when Mode is StdioLog. The level
	// string names which stream it came from ("stdout" or "stderr").
	LogFunc func(level, line string)
}

// Env is the environment a command is spawned with: the Command Engine's
// per-caller context (spec §4.1 "External commands"). Grounded on
// airupfx-ace's `Env` (uid/gid/vars/clear_vars) generalized with the
// stdio-mode and working-directory fields the service manifest's `env`
// section requires.
type Env struct {
	Uid *int
	Gid *int

	ClearVars bool
	Vars      map[string]*string // nil value removes the variable

	WorkDir string
	Setsid  bool

	Stdin  Stdio
	Stdout Stdio
	Stderr Stdio
}

// Var sets (or, with a nil value, removes) an environment variable.
func (e *Env) Var(k string, v *string) *Env {
	if e.Vars == nil {
		e.Vars = make(map[string]*string)
	}
	e.Vars[k] = v
	return e
}

// Clone returns a deep-enough copy suitable for per-task mutation (e.g.
// injecting MAINPID without mutating the supervisor's shared Env).
func (e Env) Clone() Env {
	out := e
	if e.Vars != nil {
		out.Vars = make(map[string]*string, len(e.Vars))
		for k, v := range e.Vars {
			out.Vars[k] = v
		}
	}
	return out
}
