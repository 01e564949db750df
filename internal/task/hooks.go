package task

import (
	"strings"

	"github.com/airup-sh/airupd/internal/ace"
	"github.com/airup-sh/airupd/internal/countdown"
)

// runHooks executes lines (a hook string, one command per line) one at a
// time under cd's remaining time, short-circuiting on the first failure
// (spec §4.1 "Hooks composed of multiple lines are executed one at a time
// by the caller, short-circuiting on failure"). A nil/empty hook is a
// no-op. helper's interrupt flag is consulted between lines.
func runHooks(a *ace.Ace, helper *Helper, hook *string, cd *countdown.Countdown) error {
	return runHooksInterruptible(a, helper, hook, cd, true)
}

// runHooksImportant is runHooks for an "important" operation (spec §5:
// "Stop is always marked important") which must run to completion
// regardless of a pending interrupt.
func runHooksImportant(a *ace.Ace, hook *string, cd *countdown.Countdown) error {
	return runHooksInterruptible(a, nil, hook, cd, false)
}

func runHooksInterruptible(a *ace.Ace, helper *Helper, hook *string, cd *countdown.Countdown, interruptible bool) error {
	if hook == nil {
		return nil
	}
	for _, line := range strings.Split(*hook, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if interruptible {
			if err := helper.CheckInterrupt(); err != nil {
				return err
			}
		}
		if err := a.RunWaitTimeout(line, cd.Left()); err != nil {
			return err
		}
	}
	return nil
}
