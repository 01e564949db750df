package supervisor

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
	"gopkg.in/tomb.v2"

	"github.com/airup-sh/airupd/internal/ace"
	"github.com/airup-sh/airupd/internal/apierror"
	"github.com/airup-sh/airupd/internal/logger"
	"github.com/airup-sh/airupd/internal/manifest"
	"github.com/airup-sh/airupd/internal/process"
	"github.com/airup-sh/airupd/internal/reaper"
	"github.com/airup-sh/airupd/internal/task"
)

// Supervisor is the per-service actor (spec §4.3): it exclusively owns its
// status, current task and child handle, serializing mutation through its
// own mutex so at most one task ever runs and state reads are always
// internally consistent. A background loop, supervised by a tomb.Tomb,
// reacts to unexpected child exits and task completions — the two events
// that originate outside the synchronous request methods below.
type Supervisor struct {
	reaper *reaper.Reaper
	daemon task.Daemon

	mu                sync.Mutex
	manifest          *manifest.Service
	status            Status
	statusSince       int64
	child             ace.Child
	childGen          uint64
	currentTask       *task.Helper
	currentTaskClass  task.Class
	lastError         *apierror.Error
	lastErrorAutosave bool
	retry             task.RetryState

	t         tomb.Tomb
	childExit chan childExitEvent
	taskDone  chan taskResult
}

type childExitEvent struct {
	gen  uint64
	wait process.Wait
}

// taskResult carries a just-finished task's outcome into the background
// loop; ack is closed once the loop has applied the status transition, so
// runTask can safely unblock the task's own Wait() only afterwards.
type taskResult struct {
	helper *task.Helper
	err    error
	ack    chan struct{}
}

// New creates a Supervisor for m, in the Stopped state, and starts its
// background loop.
func New(m *manifest.Service, r *reaper.Reaper, d task.Daemon) *Supervisor {
	s := &Supervisor{
		reaper:      r,
		daemon:      d,
		manifest:    m,
		status:      StatusStopped,
		statusSince: nowMS(),
		childExit:   make(chan childExitEvent, 4),
		taskDone:    make(chan taskResult),
	}
	s.t.Go(s.loop)
	return s
}

func nowMS() int64 { return time.Now().UnixMilli() }

// Close stops the Supervisor's background loop. It does not interrupt any
// running task; callers should arrange that first if they want a clean
// stop.
func (s *Supervisor) Close() {
	s.t.Kill(nil)
	s.t.Wait()
}

func (s *Supervisor) loop() error {
	for {
		select {
		case ev := <-s.childExit:
			s.handleChildExit(ev)
		case tr := <-s.taskDone:
			s.handleTaskDone(tr)
			close(tr.ack)
		case <-s.t.Dying():
			return nil
		}
	}
}

// Query returns a snapshot of the Supervisor's current state.
func (s *Supervisor) Query() Query {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := Query{
		Status:      s.status,
		StatusSince: s.statusSince,
		LastError:   s.lastError,
		Manifest:    s.manifest,
	}
	if s.child != nil {
		q.Pid = s.child.Id()
	}
	if s.currentTask != nil {
		class := s.currentTask.Class()
		q.TaskClass = &class
	}
	return q
}

// GetTaskHandle returns the in-flight task's handle, or TaskNotFound.
func (s *Supervisor) GetTaskHandle() (task.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentTask == nil {
		return nil, apierror.ErrTaskNotFound
	}
	return s.currentTask, nil
}

// InterruptTask signals the running task to stop and disables last_error
// autosave for it (spec §4.3 "InterruptTask").
func (s *Supervisor) InterruptTask() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentTask == nil {
		return apierror.ErrTaskNotFound
	}
	s.lastErrorAutosave = false
	s.currentTask.Interrupt()
	return nil
}

// Kill sends SIGKILL directly to the attached child, bypassing any
// `exec.stop` hook (spec §6 `system.kill_service`: a blunt instrument
// distinct from the graceful Stop task). It does not wait for the exit;
// the usual child-exit event still drives Cleanup through the
// background loop. Fails with NotStarted if no child is attached.
func (s *Supervisor) Kill() error {
	s.mu.Lock()
	pid := 0
	if s.child != nil {
		pid = s.child.Id()
	}
	s.mu.Unlock()

	if pid == 0 {
		return apierror.ErrNotStarted
	}
	return s.reaper.SendSignal(pid, unix.SIGKILL)
}

// Start spawns a StartService task. Fails with UnitStarted if already
// Active, TaskExists if a task is already running.
func (s *Supervisor) Start() (task.Handle, error) {
	helper, err := s.beginTask(task.ClassStart, false)
	if err != nil {
		return nil, err
	}
	go s.runTask(helper, func() error { return task.RunStart(helper, s.context(helper)) })
	return helper, nil
}

// Stop spawns a StopService task. Fails with NotStarted if not Active,
// TaskExists if a task is already running.
func (s *Supervisor) Stop() (task.Handle, error) {
	helper, err := s.beginTask(task.ClassStop, true)
	if err != nil {
		return nil, err
	}
	go s.runTask(helper, func() error { return task.RunStop(helper, s.context(helper)) })
	return helper, nil
}

// Reload spawns a ReloadService task. Fails with NotStarted if not
// Active, TaskExists if a task is already running.
func (s *Supervisor) Reload() (task.Handle, error) {
	helper, err := s.beginTask(task.ClassReload, true)
	if err != nil {
		return nil, err
	}
	go s.runTask(helper, func() error { return task.RunReload(helper, s.context(helper)) })
	return helper, nil
}

// MakeActive is an idempotent start: if Active, returns a
// trivially-satisfied handle; if a StartService is already in flight,
// returns its handle; otherwise starts one (spec §4.3 "MakeActive").
func (s *Supervisor) MakeActive() (task.Handle, error) {
	s.mu.Lock()
	if s.status == StatusActive {
		s.mu.Unlock()
		return alreadyDone(task.ClassStart), nil
	}
	if s.currentTask != nil && s.currentTaskClass == task.ClassStart {
		h := s.currentTask
		s.mu.Unlock()
		return h, nil
	}
	s.mu.Unlock()
	return s.Start()
}

func alreadyDone(class task.Class) task.Handle {
	h := task.NewHelper(class)
	h.Finish(nil)
	return h
}

// beginTask enforces arbitration: at most one task, and the status
// precondition for Start (requireActive=false: must not be Active) or
// Stop/Reload (requireActive=true: must be Active).
func (s *Supervisor) beginTask(class task.Class, requireActive bool) (*task.Helper, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentTask != nil {
		return nil, apierror.ErrTaskExists
	}
	if requireActive && s.status != StatusActive {
		return nil, apierror.ErrNotStarted
	}
	if !requireActive && s.status == StatusActive {
		return nil, apierror.ErrUnitStarted
	}

	helper := task.NewHelper(class)
	s.currentTask = helper
	s.currentTaskClass = class
	s.lastErrorAutosave = true

	switch class {
	case task.ClassStart:
		s.lastError = nil
		s.retry.Reset()
	case task.ClassStop:
		s.lastError = nil
		s.retry.Disable()
	}

	return helper, nil
}

// beginCleanupTask is beginTask's counterpart for the automatic
// CleanupService triggered by an unexpected exit: it does not check (or
// change) the status precondition, since the child has already exited.
func (s *Supervisor) beginCleanupTask() (*task.Helper, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentTask != nil {
		return nil, false
	}
	helper := task.NewHelper(task.ClassCleanup)
	s.currentTask = helper
	s.currentTaskClass = task.ClassCleanup
	s.lastErrorAutosave = true
	return helper, true
}

// runTask executes fn and reports its outcome to the background loop,
// blocking until the loop has applied the resulting status transition
// before unblocking the task's own Wait() — otherwise a caller racing
// Wait() against Query() could observe a stale status.
func (s *Supervisor) runTask(helper *task.Helper, fn func() error) {
	err := s.safeRun(fn)

	ack := make(chan struct{})
	select {
	case s.taskDone <- taskResult{helper: helper, err: err, ack: ack}:
		<-ack
	case <-s.t.Dying():
	}

	helper.Finish(err)
}

func (s *Supervisor) safeRun(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apierror.Internal("task panicked")
		}
	}()
	return fn()
}

// context builds a fresh task.Context bound to this Supervisor's current
// manifest and child accessors. Built per-task since the manifest may be
// refreshed between tasks (spec §4.7 "Refresh").
func (s *Supervisor) context(helper *task.Helper) *task.Context {
	return &task.Context{
		Service: s.manifestSnapshot(),
		Reaper:  s.reaper,
		Daemon:  s.daemon,
		Retry:   &s.retry,
		GetChild: func() ace.Child {
			s.mu.Lock()
			defer s.mu.Unlock()
			return s.child
		},
		SetChild: func(c ace.Child) {
			s.attachChild(c)
		},
		ClearChild: func() {
			s.mu.Lock()
			s.child = nil
			s.childGen++
			s.mu.Unlock()
		},
	}
}

func (s *Supervisor) manifestSnapshot() *manifest.Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manifest
}

func (s *Supervisor) attachChild(c ace.Child) {
	s.mu.Lock()
	s.child = c
	s.childGen++
	gen := s.childGen
	s.mu.Unlock()

	go s.watchChild(c, gen)
}

func (s *Supervisor) watchChild(c ace.Child, gen uint64) {
	wait, err := c.Wait()
	if err != nil {
		logger.Warnf("supervisor: child wait failed: %v", err)
		return
	}
	select {
	case s.childExit <- childExitEvent{gen: gen, wait: wait}:
	case <-s.t.Dying():
	}
}

// handleChildExit reacts to an unexpected child termination observed while
// no task was running, spawning CleanupService (spec §4.3 "Event loop").
func (s *Supervisor) handleChildExit(ev childExitEvent) {
	s.mu.Lock()
	if s.childGen != ev.gen || s.child == nil {
		// Stale: the child was already detached (e.g. by a Stop task)
		// before this exit was observed.
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	helper, ok := s.beginCleanupTask()
	if !ok {
		// A task won the race (e.g. Stop observed Active and started
		// first); its own kill-and-wait already consumes this exit.
		return
	}

	s.mu.Lock()
	s.child = nil
	s.childGen++
	s.mu.Unlock()

	go s.runTask(helper, func() error {
		return task.RunCleanup(helper, s.context(helper), ev.wait)
	})
}

// handleTaskDone applies a completed task's effect on status, records
// last_error if autosave is still on, and clears currentTask.
func (s *Supervisor) handleTaskDone(tr taskResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentTask != tr.helper {
		return
	}
	err := tr.err
	initialClass := s.currentTaskClass
	finalClass := tr.helper.Class()

	switch initialClass {
	case task.ClassStart:
		if err == nil {
			s.transition(StatusActive)
		}
	case task.ClassStop:
		// Resolved Open Question: exec.stop's exit code does not gate the
		// transition; the attempt having run to completion is enough.
		s.transition(StatusStopped)
	case task.ClassReload:
		// Status never changes.
	case task.ClassCleanup:
		switch finalClass {
		case task.ClassStart:
			if err == nil {
				s.transition(StatusActive)
			} else {
				s.transition(StatusStopped)
			}
		default:
			s.transition(StatusStopped)
		}
	}

	if err != nil && s.lastErrorAutosave {
		s.lastError = toAPIError(err)
	}

	s.currentTask = nil
}

func (s *Supervisor) transition(status Status) {
	s.status = status
	s.statusSince = nowMS()
}

func toAPIError(err error) *apierror.Error {
	if ae, ok := err.(*apierror.Error); ok {
		return ae
	}
	return apierror.Internal(err.Error())
}

// RefreshManifest best-effort replaces the in-memory manifest if the
// Supervisor is currently idle (spec §4.7 "Refresh").
func (s *Supervisor) RefreshManifest(m *manifest.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentTask != nil || s.status != StatusStopped {
		return apierror.ErrUnitStarted
	}
	s.manifest = m
	return nil
}

// IsIdle reports whether the supervisor has no running task and is
// Stopped — the precondition Manager.remove/gc check.
func (s *Supervisor) IsIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTask == nil && s.status == StatusStopped
}

// HasError reports whether last_error is set.
func (s *Supervisor) HasError() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError != nil
}

// Manifest returns the currently active manifest.
func (s *Supervisor) Manifest() *manifest.Service {
	return s.manifestSnapshot()
}
