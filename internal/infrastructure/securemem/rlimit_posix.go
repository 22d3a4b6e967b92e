//go:build linux || darwin

package securemem

import (
	"golang.org/x/sys/unix"
)

// Available reports whether RLIMIT_MEMLOCK allows locked buffers, and the
// current soft limit (-1 when unlimited).
func Available() (bool, int64) {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rl); err != nil {
		return false, 0
	}
	if rl.Cur == ^uint64(0) {
		return true, -1
	}
	return rl.Cur >= MinMemlockBytes, int64(rl.Cur)
}
