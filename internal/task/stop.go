package task

import (
	"golang.org/x/sys/unix"

	"github.com/airup-sh/airupd/internal/apierror"
	"github.com/airup-sh/airupd/internal/countdown"
)

// RunStop executes StopService (spec §4.5). The caller (Supervisor) is
// responsible for step 1 ("fail if not Active") and for transitioning
// status to Stopped once this returns, whether or not it returns an error.
func RunStop(helper *Helper, c *Context) error {
	svc := c.Service
	cd := countdown.New(svc.Exec.StopTimeout())

	a, err := c.NewAce(c.mainPIDVars())
	if err != nil {
		return err
	}

	// Stop is always "important" (spec §5): it runs to completion even if
	// interrupted, so the service is never left half-stopped.
	if err := runHooksImportant(a, svc.Exec.PreStop, cd); err != nil {
		return err
	}

	switch {
	case svc.Exec.Stop != nil:
		if err := a.RunWaitTimeout(*svc.Exec.Stop, cd.Left()); err != nil {
			return err
		}
	default:
		child := c.GetChild()
		if child == nil {
			return apierror.Unsupported("service has no stop command and no running child")
		}
		if err := child.KillTimeout(unix.SIGTERM, cd.Left()); err != nil {
			return err
		}
	}
	c.ClearChild()

	if err := runCleanupSteps(c, cd); err != nil {
		return err
	}

	return nil
}
