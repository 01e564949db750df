package task

import (
	"time"

	"github.com/airup-sh/airupd/internal/apierror"
	"github.com/airup-sh/airupd/internal/countdown"
	"github.com/airup-sh/airupd/internal/process"
)

// RunCleanup executes CleanupService (spec §4.3 "Retry policy" and
// "Cleanup steps"), triggered by an unexpected child exit while no task is
// running. wait is the exited child's outcome.
//
// The cleanup steps (delete pid_file, run post_stop) always run first.
// Afterwards, the retry decision is made: if it retries, this task reports
// itself as a StartService and, after retry.delay, chains into one; if
// not, it reports as a StopService and its own error becomes the
// recorded last_error when applicable.
func RunCleanup(helper *Helper, c *Context, wait process.Wait) error {
	svc := c.Service
	cd := countdown.New(svc.Exec.StopTimeout())

	// Cleanup steps failing does not itself block a retry decision; the
	// original exit outcome still governs it, but the failure is worth
	// surfacing if no retry follows.
	stepsErr := runCleanupSteps(c, cd)

	if !shouldRetry(c, wait) {
		helper.SetClass(ClassStop)
		if stepsErr != nil {
			return stepsErr
		}
		return exitOutcome(svc.Watchdog.SuccessfulExit, wait)
	}

	helper.SetClass(ClassStart)
	delay := time.Duration(svc.Retry.Delay) * time.Millisecond
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-helper.Interrupted():
			return apierror.ErrTaskInterrupted
		}
	}

	return RunStart(helper, c)
}

func shouldRetry(c *Context, wait process.Wait) bool {
	svc := c.Service
	if !c.Retry.Enabled() {
		return false
	}
	if !svc.Watchdog.SuccessfulExit && wait.IsSuccess() {
		return false
	}
	return c.Retry.CheckAndMark(svc.Retry.MaxAttempts)
}

func exitOutcome(successfulExitIsFailure bool, wait process.Wait) error {
	if !wait.IsSuccess() {
		switch wait.Exit.Kind {
		case process.ExitedKind:
			return apierror.Exited(wait.Exit.Code)
		case process.SignaledKind:
			return apierror.Signaled(wait.Exit.Signum)
		default:
			return apierror.Internal("child exited abnormally")
		}
	}
	if successfulExitIsFailure {
		return apierror.Exited(wait.Exit.Code)
	}
	return nil
}
