// Package ace implements the Airup Command Engine: a small shell-like
// command DSL used for service lifecycle hooks (spec §4.1).
package ace

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/airup-sh/airupd/internal/apierror"
	"github.com/airup-sh/airupd/internal/process"
	"github.com/airup-sh/airupd/internal/reaper"
)

// Ace is one Command Engine instance, bound to a particular caller's
// environment (per spec, the environment comes from "the caller's
// context" — one Ace is built per task invocation by the Supervisor).
type Ace struct {
	Env    process.Env
	Reaper *reaper.Reaper

	modules map[string]Builtin
}

// New creates an Ace bound to env, with the mandatory built-in set
// registered (spec §4.1 "Built-ins").
func New(env process.Env, r *reaper.Reaper) *Ace {
	return &Ace{Env: env, Reaper: r, modules: defaultBuiltins()}
}

// RegisterBuiltin adds or replaces a built-in module. Built-in names use
// dotted namespaces by convention.
func (a *Ace) RegisterBuiltin(name string, fn Builtin) {
	if a.modules == nil {
		a.modules = defaultBuiltins()
	}
	a.modules[name] = fn
}

// Run parses and spawns a single command line, returning its Child.
func (a *Ace) Run(line string) (Child, error) {
	cmd, err := ParseCommand(line)
	if err != nil {
		return nil, apierror.Internal(err.Error())
	}
	return a.runParsed(cmd)
}

func (a *Ace) runParsed(cmd Command) (Child, error) {
	switch cmd.Module {
	case "-":
		wrapped, ok := wrap(cmd)
		if !ok {
			return nopChild{}, nil
		}
		inner, err := a.runParsed(wrapped)
		if err != nil {
			return nopChild{}, nil
		}
		return &alwaysSuccessChild{inner: inner}, nil
	case "&":
		wrapped, ok := wrap(cmd)
		if !ok {
			return nopChild{}, nil
		}
		inner, err := a.runParsed(wrapped)
		if err != nil {
			return nil, err
		}
		return spawnAsync(inner), nil
	}

	if fn, ok := a.modules[cmd.Module]; ok {
		return spawnBuiltin(fn, cmd.Args), nil
	}
	return a.runBinCommand(cmd)
}

// wrap strips the modifier token off, returning the remainder as a new
// Command (and false if nothing follows it).
func wrap(cmd Command) (Command, bool) {
	if len(cmd.Args) == 0 {
		return Command{}, false
	}
	return Command{Module: cmd.Args[0], Args: cmd.Args[1:]}, true
}

func (a *Ace) runBinCommand(cmd Command) (Child, error) {
	c := process.NewCommand(cmd.Module, cmd.Args...)
	c.Env = a.Env
	child, err := c.Spawn(a.Reaper)
	if err != nil {
		return nil, apierror.Io(err.Error())
	}
	return &processChild{inner: child}, nil
}

// RunWait runs cmd and waits for it with no timeout.
func (a *Ace) RunWait(cmd string) error {
	return a.RunWaitTimeout(cmd, nil)
}

// RunWaitTimeout runs one command and awaits it with a timeout; on timeout
// it attempts SIGTERM and then a force-kill (spec §4.1 "run_wait_timeout
// contract"). The returned error's apierror.Kind distinguishes TimedOut
// (engine-level) from Exited/Signaled (the command's own failure).
func (a *Ace) RunWaitTimeout(cmd string, timeout *time.Duration) error {
	child, err := a.Run(cmd)
	if err != nil {
		return err
	}
	wait, err := child.WaitTimeout(timeout)
	if err != nil {
		if apierror.Of(err, apierror.KindTimedOut) {
			child.KillTimeout(unix.SIGTERM, timeout)
			return apierror.ErrTimedOut
		}
		return err
	}
	return exitError(wait)
}

func exitError(wait process.Wait) error {
	if wait.IsSuccess() {
		return nil
	}
	switch wait.Exit.Kind {
	case process.ExitedKind:
		return apierror.Exited(wait.Exit.Code)
	case process.SignaledKind:
		return apierror.Signaled(wait.Exit.Signum)
	default:
		return apierror.Internal("child exited abnormally")
	}
}
