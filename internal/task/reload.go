package task

import (
	"github.com/airup-sh/airupd/internal/apierror"
	"github.com/airup-sh/airupd/internal/countdown"
)

// RunReload executes ReloadService (spec §4.6). The caller is responsible
// for step 1 ("fail if not Active"); reload never alters status.
func RunReload(helper *Helper, c *Context) error {
	svc := c.Service
	if svc.Exec.Reload == nil {
		return apierror.Unsupported("service has no reload command")
	}

	cd := countdown.New(svc.Exec.ReloadTimeout())
	a, err := c.NewAce(c.mainPIDVars())
	if err != nil {
		return err
	}
	return runHooks(a, helper, svc.Exec.Reload, cd)
}
