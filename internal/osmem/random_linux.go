//go:build linux

package osmem

import (
	"errors"

	"golang.org/x/sys/unix"
)

// randomBytes fills b from getrandom(2) without blocking on an unseeded pool.
func randomBytes(b []byte) bool {
	for len(b) > 0 {
		n, err := unix.Getrandom(b, unix.GRND_NONBLOCK)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil || n <= 0 {
			return false
		}
		b = b[n:]
	}
	return true
}
