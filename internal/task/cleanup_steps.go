package task

import "github.com/airup-sh/airupd/internal/countdown"

// runCleanupSteps performs the two steps that always run after a service
// stops, whether by request or after an unexpected exit (spec §4.3
// "Cleanup steps"): delete pid_file (ignoring errors) and execute
// post_stop under the stop timeout.
func runCleanupSteps(c *Context, cd *countdown.Countdown) error {
	c.RemovePidFile()

	a, err := c.NewAce(nil)
	if err != nil {
		return err
	}
	return runHooksImportant(a, c.Service.Exec.PostStop, cd)
}
