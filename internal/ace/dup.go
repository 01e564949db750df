package ace

import "golang.org/x/sys/unix"

// dup2 duplicates fd onto target, used by console.setup to redirect the
// daemon's own stdio streams.
func dup2(fd, target uintptr) error {
	return unix.Dup2(int(fd), int(target))
}
