package main

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// acquireLock takes the daemon's runtime-directory lock file (spec §5):
// exclusive create, so a second concurrent daemon fails outright, except
// when running as PID 1, where the file is truncated on start instead
// (PID 1 can't ever collide with a prior instance of itself).
func acquireLock(path string) (*os.File, error) {
	flags := os.O_RDWR | os.O_CREATE
	if unix.Getpid() == 1 {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	return f, nil
}
