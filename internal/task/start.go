package task

import (
	"github.com/airup-sh/airupd/internal/ace"
	"github.com/airup-sh/airupd/internal/apierror"
	"github.com/airup-sh/airupd/internal/countdown"
	"github.com/airup-sh/airupd/internal/manifest"
)

// RunStart executes StartService (spec §4.4). Callers (the Supervisor)
// are responsible for step 1 ("fail if Active") and for clearing
// last_error/enabling autosave before spawning this task, since those are
// Supervisor-owned fields.
func RunStart(helper *Helper, c *Context) error {
	svc := c.Service

	for _, name := range svc.ServiceMeta.ConflictsWith {
		if active, found := c.Daemon.IsActive(name); found && active {
			return apierror.ConflictsWith(name)
		}
	}

	for _, name := range svc.ServiceMeta.Dependencies {
		dep, err := c.Daemon.MakeActive(name)
		if err != nil {
			return apierror.DependencyNotSatisfied(name)
		}
		if err := dep.Wait(); err != nil {
			return apierror.DependencyNotSatisfied(name)
		}
	}

	if err := helper.CheckInterrupt(); err != nil {
		return err
	}

	cd := countdown.New(svc.Exec.StartTimeout())

	a, err := c.NewAce(c.mainPIDVars())
	if err != nil {
		return err
	}

	if err := runHooks(a, helper, svc.Exec.PreStart, cd); err != nil {
		return err
	}

	if err := launchMain(helper, c, a, cd); err != nil {
		return err
	}

	if err := runHooks(a, helper, svc.Exec.PostStart, cd); err != nil {
		return err
	}

	return nil
}

func launchMain(helper *Helper, c *Context, a *ace.Ace, cd *countdown.Countdown) error {
	svc := c.Service

	switch svc.ServiceMeta.Kind {
	case manifest.KindSimple, manifest.KindNotify:
		child, err := a.Run(svc.Exec.Start)
		if err != nil {
			return err
		}
		c.SetChild(child)
		c.WritePidFile(child.Id())
		return nil

	case manifest.KindForking:
		if err := a.RunWaitTimeout(svc.Exec.Start, cd.Left()); err != nil {
			return err
		}
		pid, err := c.ReadPidFile()
		if err != nil {
			return err
		}
		child, err := ace.FromPid(c.Reaper, pid)
		if err != nil {
			return apierror.PidFile(err.Error())
		}
		c.SetChild(child)
		return nil

	case manifest.KindOneshot:
		return a.RunWaitTimeout(svc.Exec.Start, cd.Left())

	default:
		return apierror.Internal("unknown service kind")
	}
}
