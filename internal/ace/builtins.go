package ace

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/airup-sh/airupd/internal/logger"
)

// Builtin is a cooperative task registered under a dotted module name
// (spec §4.1 "Built-ins"). It must honor ctx cancellation promptly so
// SendSignal/Kill on a builtin Child can abort it.
type Builtin func(ctx context.Context, args []string) int

func defaultBuiltins() map[string]Builtin {
	return map[string]Builtin{
		"noop":          builtinNoop,
		"console.setup": builtinConsoleSetup,
		"console.info":  builtinConsoleLevel(logger.Noticef),
		"console.warn":  builtinConsoleLevel(logger.Warnf),
		"console.error": builtinConsoleLevel(logger.Errorf),
		"builtin.sleep": builtinSleep,
	}
}

func builtinNoop(_ context.Context, _ []string) int {
	return 0
}

// builtinConsoleSetup redirects the calling daemon's own stdio to the
// device at the given path.
func builtinConsoleSetup(_ context.Context, args []string) int {
	if len(args) != 1 {
		return 1
	}
	f, err := os.OpenFile(args[0], os.O_RDWR, 0)
	if err != nil {
		logger.Errorf("console.setup: cannot open %s: %v", args[0], err)
		return 1
	}
	defer f.Close()

	if err := dup2(f.Fd(), os.Stdin.Fd()); err != nil {
		return 1
	}
	if err := dup2(f.Fd(), os.Stdout.Fd()); err != nil {
		return 1
	}
	if err := dup2(f.Fd(), os.Stderr.Fd()); err != nil {
		return 1
	}
	return 0
}

func builtinConsoleLevel(emit func(format string, v ...interface{})) Builtin {
	return func(_ context.Context, args []string) int {
		msg := ""
		for i, a := range args {
			if i > 0 {
				msg += " "
			}
			msg += a
		}
		emit("%s", msg)
		return 0
	}
}

func builtinSleep(ctx context.Context, args []string) int {
	if len(args) != 1 {
		return 1
	}
	ms, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || ms < 0 {
		return 1
	}
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return 0
	case <-ctx.Done():
		return 1
	}
}
