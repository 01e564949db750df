package process

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/airup-sh/airupd/internal/reaper"
)

// Command describes an external process about to be spawned, grounded on
// airupfx's `process::Command` / loykin-provisr's `ConfigureCmd`.
type Command struct {
	Path string
	Args []string
	Env  Env
}

// NewCommand creates a Command for the given executable path and args.
func NewCommand(path string, args ...string) *Command {
	return &Command{Path: path, Args: args}
}

// Spawn starts the process and registers it with the reaper so its exit can
// be observed without racing a naive wait4(2) call.
func (c *Command) Spawn(r *reaper.Reaper) (*Child, error) {
	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Env.WorkDir
	cmd.Env = buildEnviron(c.Env)

	attr := &syscall.SysProcAttr{Setsid: c.Env.Setsid}
	if c.Env.Uid != nil || c.Env.Gid != nil {
		cred := &syscall.Credential{}
		if c.Env.Uid != nil {
			cred.Uid = uint32(*c.Env.Uid)
		}
		if c.Env.Gid != nil {
			cred.Gid = uint32(*c.Env.Gid)
		}
		attr.Credential = cred
	}
	cmd.SysProcAttr = attr

	closers, err := attachStdio(cmd, c.Env)
	if err != nil {
		return nil, err
	}

	// cmd.Start and the subscription must be registered atomically: if the
	// child exited and was reaped between Start returning and Subscribe
	// running, the reaper would find no subscriber for its PID, drop the
	// exit on the floor, and leave every future Wait on this Child hanging.
	var started bool
	sub, err := r.SpawnAndSubscribe(func() (int, error) {
		if err := cmd.Start(); err != nil {
			return 0, err
		}
		started = true
		return cmd.Process.Pid, nil
	})
	if err != nil {
		closeAll(closers)
		if started {
			cmd.Process.Kill()
		}
		return nil, err
	}

	return &Child{cmd: cmd, pid: cmd.Process.Pid, sub: sub, reaper: r, closers: closers}, nil
}

func buildEnviron(env Env) []string {
	base := os.Environ()
	if env.ClearVars {
		base = nil
	}
	merged := make(map[string]string, len(base)+len(env.Vars))
	for _, kv := range base {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				merged[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	for k, v := range env.Vars {
		if v == nil {
			delete(merged, k)
		} else {
			merged[k] = *v
		}
	}
	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	return out
}

func attachStdio(cmd *exec.Cmd, env Env) ([]io.Closer, error) {
	var closers []io.Closer
	streams := []struct {
		mode   *Stdio
		assign func(io.Reader, io.Writer)
		level  string
	}{
		{&env.Stdin, func(r io.Reader, _ io.Writer) { cmd.Stdin = r }, "stdin"},
		{&env.Stdout, func(_ io.Reader, w io.Writer) { cmd.Stdout = w }, "stdout"},
		{&env.Stderr, func(_ io.Reader, w io.Writer) { cmd.Stderr = w }, "stderr"},
	}

	for _, s := range streams {
		switch s.mode.Mode {
		case StdioInherit:
			if s.level == "stdin" {
				s.assign(os.Stdin, nil)
			} else if s.level == "stdout" {
				s.assign(nil, os.Stdout)
			} else {
				s.assign(nil, os.Stderr)
			}
		case StdioNull:
			null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
			if err != nil {
				closeAll(closers)
				return nil, err
			}
			closers = append(closers, null)
			if s.level == "stdin" {
				s.assign(null, nil)
			} else {
				s.assign(nil, null)
			}
		case StdioFile:
			f, err := os.OpenFile(s.mode.Path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
			if err != nil {
				closeAll(closers)
				return nil, err
			}
			closers = append(closers, f)
			if s.level == "stdin" {
				s.assign(f, nil)
			} else {
				s.assign(nil, f)
			}
		case StdioLog:
			if s.level == "stdin" {
				// Logging only makes sense for output streams; fall back to null.
				null, err := os.OpenFile(os.DevNull, os.O_RDONLY, 0)
				if err != nil {
					closeAll(closers)
					return nil, err
				}
				closers = append(closers, null)
				s.assign(null, nil)
				continue
			}
			pr, pw, err := os.Pipe()
			if err != nil {
				closeAll(closers)
				return nil, err
			}
			closers = append(closers, pw)
			s.assign(nil, pw)
			level, logFunc := s.level, s.mode.LogFunc
			go pipeLines(pr, level, logFunc)
		}
	}
	return closers, nil
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		c.Close()
	}
}

func pipeLines(r io.ReadCloser, level string, logFunc func(string, string)) {
	defer r.Close()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if logFunc != nil {
			logFunc(level, scanner.Text())
		}
	}
}

// Child is a running or exited external process, one of the variants the
// Command Engine's "Child abstraction" names: here, the process variant.
type Child struct {
	cmd     *exec.Cmd // nil when attached by PID only (Forking kind)
	pid     int
	reaper  *reaper.Reaper
	sub     *reaper.Subscription
	closers []io.Closer

	once   sync.Once
	result Wait
}

// FromPid attaches to an already-running process known only by PID, used
// for Forking-kind services whose main process re-parents after exec
// (spec §4.4 step 7, "Forking").
func FromPid(r *reaper.Reaper, pid int) (*Child, error) {
	sub, err := r.Subscribe(pid)
	if err != nil {
		return nil, err
	}
	return &Child{pid: pid, reaper: r, sub: sub}, nil
}

// Id returns the child's PID.
func (c *Child) Id() int { return c.pid }

// Wait blocks until the child exits, caching the result so repeated calls
// observe the same Wait (the reaper's channel is single-consumer).
func (c *Child) Wait() Wait {
	c.once.Do(func() {
		c.result = c.sub.Wait()
		if c.cmd != nil {
			// The reaper already reaped the child; Wait() here only flushes
			// stdio goroutines and releases the process's file descriptors.
			c.cmd.Wait()
		}
		closeAll(c.closers)
	})
	return c.result
}

// WaitTimeout waits up to d (nil means no timeout) for the child to exit.
//
// The reaper's subscription channel is single-consumer (spec §4.2), so this
// must never read c.sub.Chan() directly: a concurrent Wait() call (e.g. the
// Supervisor's background child watcher) could be the one to receive the
// reaper's notification, leaving this select with nothing to read and no way
// to tell a genuine timeout from having lost the race. Routing through Wait()
// means every caller, however many there are, observes the one cached result
// once the first of them receives it.
func (c *Child) WaitTimeout(d *time.Duration) (Wait, error) {
	if d == nil {
		return c.Wait(), nil
	}
	done := make(chan Wait, 1)
	go func() { done <- c.Wait() }()
	select {
	case w := <-done:
		return w, nil
	case <-time.After(*d):
		return Wait{}, fmt.Errorf("timed out")
	}
}

// SendSignal forwards a signal to the process.
func (c *Child) SendSignal(sig unix.Signal) error {
	return c.reaper.SendSignal(c.pid, sig)
}

// Kill sends SIGKILL.
func (c *Child) Kill() error {
	return c.SendSignal(unix.SIGKILL)
}

// KillTimeout sends sig, then force-kills with SIGKILL if the process has
// not been reaped within d (spec §4.1 "kill_timeout").
func (c *Child) KillTimeout(sig unix.Signal, d *time.Duration) error {
	if err := c.SendSignal(sig); err != nil {
		return err
	}
	if _, err := c.WaitTimeout(d); err != nil {
		return c.Kill()
	}
	return nil
}
