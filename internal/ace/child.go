package ace

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/airup-sh/airupd/internal/apierror"
	"github.com/airup-sh/airupd/internal/process"
	"github.com/airup-sh/airupd/internal/reaper"
)

// Child is the Command Engine's "Child abstraction" (spec §4.1): one of an
// external process, a built-in task, or an `&`/`-` modifier wrapper around
// another Child.
type Child interface {
	Id() int
	Wait() (process.Wait, error)
	WaitTimeout(d *time.Duration) (process.Wait, error)
	SendSignal(sig unix.Signal) error
	Kill() error
	KillTimeout(sig unix.Signal, d *time.Duration) error
}

// processChild adapts *process.Child (an external OS process) to Child.
type processChild struct {
	inner *process.Child
}

func (c *processChild) Id() int { return c.inner.Id() }

func (c *processChild) Wait() (process.Wait, error) {
	return c.inner.Wait(), nil
}

func (c *processChild) WaitTimeout(d *time.Duration) (process.Wait, error) {
	w, err := c.inner.WaitTimeout(d)
	if err != nil {
		return process.Wait{}, apierror.ErrTimedOut
	}
	return w, nil
}

// FromPid attaches to an already-running process known only by PID (spec
// §4.4's Forking kind: the start command exits after writing a pid_file,
// and the real main process is adopted by PID via the Child Reaper).
func FromPid(r *reaper.Reaper, pid int) (Child, error) {
	inner, err := process.FromPid(r, pid)
	if err != nil {
		return nil, err
	}
	return &processChild{inner: inner}, nil
}

func (c *processChild) SendSignal(sig unix.Signal) error { return c.inner.SendSignal(sig) }
func (c *processChild) Kill() error                      { return c.inner.Kill() }
func (c *processChild) KillTimeout(sig unix.Signal, d *time.Duration) error {
	return c.inner.KillTimeout(sig, d)
}

// builtinChild runs a registered Builtin as a cooperative goroutine task.
type builtinChild struct {
	cancel context.CancelFunc
	done   chan int // buffered 1; receives the builtin's exit code

	once   sync.Once
	result int
}

func spawnBuiltin(fn Builtin, args []string) *builtinChild {
	ctx, cancel := context.WithCancel(context.Background())
	c := &builtinChild{cancel: cancel, done: make(chan int, 1)}
	go func() {
		c.done <- fn(ctx, args)
	}()
	return c
}

func (c *builtinChild) Id() int { return 0 }

func (c *builtinChild) Wait() (process.Wait, error) {
	c.once.Do(func() { c.result = <-c.done })
	return process.Wait{Exit: process.Exited(c.result)}, nil
}

func (c *builtinChild) WaitTimeout(d *time.Duration) (process.Wait, error) {
	if d == nil {
		return c.Wait()
	}
	select {
	case code := <-c.done:
		c.once.Do(func() { c.result = code })
		return process.Wait{Exit: process.Exited(c.result)}, nil
	case <-time.After(*d):
		return process.Wait{}, apierror.ErrTimedOut
	}
}

func (c *builtinChild) SendSignal(unix.Signal) error { c.cancel(); return nil }
func (c *builtinChild) Kill() error                  { c.cancel(); return nil }
func (c *builtinChild) KillTimeout(sig unix.Signal, d *time.Duration) error {
	c.cancel()
	return nil
}

// asyncChild implements the `&` modifier: it detaches the inner child,
// resolving immediately with success regardless of the inner outcome, while
// still draining the inner child's wait in the background so it doesn't
// leak a reaper subscription.
type asyncChild struct {
	inner Child
}

func spawnAsync(inner Child) *asyncChild {
	c := &asyncChild{inner: inner}
	go inner.Wait() //nolint:errcheck // detached: outcome is intentionally discarded
	return c
}

func (c *asyncChild) Id() int { return c.inner.Id() }
func (c *asyncChild) Wait() (process.Wait, error) {
	return process.NewWait(c.inner.Id()), nil
}
func (c *asyncChild) WaitTimeout(*time.Duration) (process.Wait, error) {
	return process.NewWait(c.inner.Id()), nil
}
func (c *asyncChild) SendSignal(sig unix.Signal) error { return c.inner.SendSignal(sig) }
func (c *asyncChild) Kill() error                      { return c.inner.Kill() }
func (c *asyncChild) KillTimeout(sig unix.Signal, d *time.Duration) error {
	return c.inner.KillTimeout(sig, d)
}

// alwaysSuccessChild implements the `-` modifier: any failure (including a
// timeout) is swallowed and reported as success.
type alwaysSuccessChild struct {
	inner Child
}

func (c *alwaysSuccessChild) Id() int { return c.inner.Id() }

func (c *alwaysSuccessChild) Wait() (process.Wait, error) {
	w, err := c.inner.Wait()
	if err != nil {
		return process.NewWait(c.inner.Id()), nil
	}
	w.Exit = process.SuccessExit()
	return w, nil
}

func (c *alwaysSuccessChild) WaitTimeout(d *time.Duration) (process.Wait, error) {
	w, err := c.inner.WaitTimeout(d)
	if err != nil {
		// Covers both TimedOut and any inner error: "-" always succeeds.
		return process.NewWait(c.inner.Id()), nil
	}
	w.Exit = process.SuccessExit()
	return w, nil
}

func (c *alwaysSuccessChild) SendSignal(sig unix.Signal) error { return c.inner.SendSignal(sig) }
func (c *alwaysSuccessChild) Kill() error                      { return c.inner.Kill() }
func (c *alwaysSuccessChild) KillTimeout(sig unix.Signal, d *time.Duration) error {
	return c.inner.KillTimeout(sig, d)
}

// nopChild is the no-op success child for a modifier with an empty
// remainder (spec §4.1: "Empty remainder after a modifier: the modified
// child is a no-op success").
type nopChild struct{}

func (nopChild) Id() int                                          { return 0 }
func (nopChild) Wait() (process.Wait, error)                      { return process.NewWait(0), nil }
func (nopChild) WaitTimeout(*time.Duration) (process.Wait, error) { return process.NewWait(0), nil }
func (nopChild) SendSignal(unix.Signal) error                     { return nil }
func (nopChild) Kill() error                                      { return nil }
func (nopChild) KillTimeout(unix.Signal, *time.Duration) error    { return nil }
