// Package reaper owns the process-wide SIGCHLD handler and fans exit
// notifications out to per-PID subscribers (spec §4.2).
package reaper

import (
	"fmt"
	"os"
	"os/signal"
	"sync"

	"golang.org/x/sys/unix"
	"gopkg.in/tomb.v2"

	"github.com/airup-sh/airupd/internal/logger"
	"github.com/airup-sh/airupd/internal/process"
)

// Reaper centralizes SIGCHLD handling so exit notifications can't be lost
// between a process dying and something calling wait(2) for it. A single
// mutex serializes the reaping loop against SendSignal, which prevents
// signaling a reused PID once its original owner has already been reaped.
type Reaper struct {
	mu   sync.Mutex
	subs map[int]chan process.Wait

	t       tomb.Tomb
	started bool
}

// New creates a Reaper. Call Start to begin handling SIGCHLD.
func New() *Reaper {
	return &Reaper{subs: make(map[int]chan process.Wait)}
}

// Start installs the SIGCHLD handler and begins draining exited children.
// It is idempotent.
func (r *Reaper) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}
	r.started = true
	r.t.Go(r.loop)
	return nil
}

// Stop uninstalls the SIGCHLD handler and waits for the loop to exit.
func (r *Reaper) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.t.Kill(nil)
	r.t.Wait()

	r.mu.Lock()
	r.started = false
	r.t = tomb.Tomb{}
	r.mu.Unlock()
}

// IsForkingSupervisable reports whether this platform lets the daemon
// become a child-subreaper, a prerequisite for Forking-kind services
// (spec §4.2 "Linux note"). It finds out by setting PR_SET_CHILD_SUBREAPER
// on the calling process, so a true result also leaves that flag set.
func IsForkingSupervisable() bool {
	err := unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0)
	return err == nil
}

func (r *Reaper) loop() error {
	logger.Debugf("reaper: waiting for SIGCHLD")
	sigChld := make(chan os.Signal, 1)
	signal.Notify(sigChld, unix.SIGCHLD)
	defer signal.Stop(sigChld)
	for {
		select {
		case <-sigChld:
			r.reapAll()
		case <-r.t.Dying():
			logger.Debugf("reaper: stopped")
			return nil
		}
	}
}

// reapAll drains zombie children with non-blocking waitpid(-1) until none
// remain, publishing each exit to its subscriber if one is registered.
// r.mu is held throughout, so SendSignal never runs between a PID being
// reaped and its subscription being removed.
func (r *Reaper) reapAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		var status unix.WaitStatus
		pid, err := unix.Wait4(-1, &status, unix.WNOHANG, nil)
		switch err {
		case nil:
			if pid <= 0 {
				return
			}
			r.publish(pid, waitOf(status))
		case unix.ECHILD:
			return
		default:
			logger.Warnf("reaper: wait4 failed: %v", err)
			return
		}
	}
}

func waitOf(status unix.WaitStatus) process.Wait {
	var exit process.Exit
	switch {
	case status.Exited():
		exit = process.Exited(status.ExitStatus())
	case status.Signaled():
		exit = process.Signaled(int(status.Signal()))
	default:
		exit = process.Other()
	}
	return process.Wait{Exit: exit}
}

// publish must be called with r.mu held.
func (r *Reaper) publish(pid int, wait process.Wait) {
	ch, ok := r.subs[pid]
	delete(r.subs, pid)

	if !ok {
		return
	}
	wait.Pid = pid
	ch <- wait
}

// Subscription is a single-value watch on one PID's exit. Release must be
// called once the caller no longer cares (mirrors the Rust Child's Drop).
type Subscription struct {
	pid int
	ch  chan process.Wait
}

// Subscribe registers interest in pid's exit. At most one subscription may
// exist per PID at a time.
func (r *Reaper) Subscribe(pid int) (*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subscribeLocked(pid)
}

func (r *Reaper) subscribeLocked(pid int) (*Subscription, error) {
	if _, exists := r.subs[pid]; exists {
		return nil, fmt.Errorf("reaper: pid %d is already subscribed", pid)
	}
	ch := make(chan process.Wait, 1)
	r.subs[pid] = ch
	return &Subscription{pid: pid, ch: ch}, nil
}

// SpawnAndSubscribe runs start, which must start a child process and return
// its PID, and registers the subscription for that PID in the same critical
// section. reapAll holds this mutex across wait4 and publish, so a SIGCHLD racing the child's
// exit against subscription setup can never be handled in between: the
// reaper either reaps before start runs (nothing to reap yet) or after the
// subscription is already in place. This mirrors the teacher's StartCommand,
// which holds its mutex across cmd.Start and the PID-map insertion for the
// same reason.
func (r *Reaper) SpawnAndSubscribe(start func() (int, error)) (*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pid, err := start()
	if err != nil {
		return nil, err
	}
	return r.subscribeLocked(pid)
}

// Wait blocks until the subscribed PID is reaped.
func (s *Subscription) Wait() process.Wait {
	return <-s.ch
}

// Chan exposes the underlying channel for use in select statements.
func (s *Subscription) Chan() <-chan process.Wait {
	return s.ch
}

// Release cancels the subscription (the spec's "unsubscribe on drop").
func (r *Reaper) Release(s *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.subs[s.pid]; ok && ch == s.ch {
		delete(r.subs, s.pid)
	}
}

// SendSignal signals pid, but only if it is still an outstanding
// subscription — this is the lock that prevents signaling a PID that has
// already been reaped and potentially reused by the kernel.
func (r *Reaper) SendSignal(pid int, sig unix.Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subs[pid]; !ok {
		return fmt.Errorf("reaper: pid %d is no longer tracked", pid)
	}
	return unix.Kill(pid, sig)
}
