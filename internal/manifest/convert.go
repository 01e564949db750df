package manifest

import (
	"os/user"
	"strconv"

	"github.com/airup-sh/airupd/internal/process"
)

func convertStdio(s Stdio, level string, logFunc func(level, line string)) process.Stdio {
	switch s.Mode {
	case StdioInherit:
		return process.Stdio{Mode: process.StdioInherit}
	case StdioFile:
		return process.Stdio{Mode: process.StdioFile, Path: s.Path}
	case StdioLog:
		return process.Stdio{Mode: process.StdioLog, LogFunc: logFunc}
	default:
		return process.Stdio{Mode: process.StdioNull}
	}
}

// ToProcessEnv builds the Command Engine's process.Env for this service,
// resolving env.login to a uid/gid pair if set. logFunc receives stdout
// and stderr lines when the corresponding stream uses Log mode.
func (e Env) ToProcessEnv(logFunc func(level, line string)) (process.Env, error) {
	out := process.Env{
		ClearVars: e.ClearVars,
		WorkDir:   e.WorkingDir,
		Stdin:     convertStdio(e.Stdin, "stdin", logFunc),
		Stdout:    convertStdio(e.Stdout, "stdout", logFunc),
		Stderr:    convertStdio(e.Stderr, "stderr", logFunc),
	}

	if e.Login != nil {
		u, err := user.Lookup(*e.Login)
		if err != nil {
			return process.Env{}, err
		}
		uid, err := strconv.Atoi(u.Uid)
		if err != nil {
			return process.Env{}, err
		}
		gid, err := strconv.Atoi(u.Gid)
		if err != nil {
			return process.Env{}, err
		}
		out.Uid = &uid
		out.Gid = &gid
	} else {
		if e.UID != nil {
			uid := int(*e.UID)
			out.Uid = &uid
		}
		if e.GID != nil {
			gid := int(*e.GID)
			out.Gid = &gid
		}
	}

	if len(e.Vars) > 0 {
		out.Vars = make(map[string]*string, len(e.Vars))
		for k, v := range e.Vars {
			val := v
			out.Vars[k] = &val
		}
	}

	return out, nil
}
