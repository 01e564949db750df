// Package task implements the Supervisor's typed lifecycle operations:
// StartService, StopService, ReloadService, CleanupService (spec §4.4–4.6,
// "Cleanup" in the glossary). Each task runs as its own goroutine, detached
// from its owning Supervisor's event loop, and reports completion through a
// Handle.
package task

import (
	"context"
	"sync"

	"github.com/airup-sh/airupd/internal/apierror"
)

// Class names a task's kind, surfaced to clients via Query's `task_class`.
type Class string

const (
	ClassStart   Class = "StartService"
	ClassStop    Class = "StopService"
	ClassReload  Class = "ReloadService"
	ClassCleanup Class = "CleanupService"
)

// Handle is a task's client-facing handle (spec's "TaskHandle"): interrupt
// plus wait for completion.
type Handle interface {
	Class() Class
	Interrupt()
	Wait() error
	Done() <-chan struct{}
}

// Helper is the interrupt-flag-plus-completion-channel building block each
// task implementation embeds (spec's "TaskHelper"/"TaskHelperHandle").
type Helper struct {
	classMu sync.RWMutex
	class   Class

	interruptOnce sync.Once
	interrupt     chan struct{}

	doneOnce sync.Once
	done     chan struct{}
	err      error
}

// NewHelper creates a Helper for a task of the given class.
func NewHelper(class Class) *Helper {
	return &Helper{
		class:     class,
		interrupt: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (h *Helper) Class() Class {
	h.classMu.RLock()
	defer h.classMu.RUnlock()
	return h.class
}

// SetClass overrides the reported task class. CleanupService uses this to
// surface "StartService" while a restart is pending, or "StopService" when
// it has decided not to retry (spec §4.3 "Retry policy").
func (h *Helper) SetClass(class Class) {
	h.classMu.Lock()
	defer h.classMu.Unlock()
	h.class = class
}

// Interrupt requests the task stop at its next interruption point. Calling
// it more than once is a no-op.
func (h *Helper) Interrupt() {
	h.interruptOnce.Do(func() { close(h.interrupt) })
}

// Interrupted reports whether Interrupt has been called.
func (h *Helper) Interrupted() <-chan struct{} { return h.interrupt }

// IsInterrupted reports Interrupted without blocking.
func (h *Helper) IsInterrupted() bool {
	select {
	case <-h.interrupt:
		return true
	default:
		return false
	}
}

// Finish records the task's outcome and unblocks Wait. Calling it more than
// once is a no-op — only the first outcome is kept.
func (h *Helper) Finish(err error) {
	h.doneOnce.Do(func() {
		h.err = err
		close(h.done)
	})
}

// Wait blocks until Finish is called and returns its error.
func (h *Helper) Wait() error {
	<-h.done
	return h.err
}

// Done exposes the completion channel for use in select statements.
func (h *Helper) Done() <-chan struct{} { return h.done }

// CheckInterrupt is consulted at well-defined suspension points (spec
// "between hook lines, during delay sleeps"). It returns TaskInterrupted if
// Interrupt was called.
func (h *Helper) CheckInterrupt() error {
	if h.IsInterrupted() {
		return apierror.ErrTaskInterrupted
	}
	return nil
}

// InterruptableScope races fn against the interrupt flag, canceling fn's
// context if the flag is raised first. Important operations (Stop's own
// kill/wait) should not be wrapped in this and instead run to completion
// regardless of interruption, per spec §5 ("Stop is always marked
// important").
func (h *Helper) InterruptableScope(ctx context.Context, fn func(ctx context.Context) error) error {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(cctx) }()

	select {
	case err := <-done:
		return err
	case <-h.Interrupted():
		cancel()
		<-done
		return apierror.ErrTaskInterrupted
	}
}
