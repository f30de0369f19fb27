//go:build linux || darwin

package osmem

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// mapPages maps size bytes of anonymous zeroed memory.
func mapPages(size int) ([]byte, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("osmem: mmap %d bytes: %w", size, err)
	}
	return mem, nil
}

// unmapPages releases a mapping.
func unmapPages(mem []byte) error {
	err := unix.Munmap(mem)
	if errors.Is(err, unix.EINVAL) {
		// Treat double-unmap as no-op for callers.
		return nil
	}
	return err
}

// reservePages reserves address space, inaccessible until committed.
func reservePages(size int, commit bool) ([]byte, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON|unix.MAP_NORESERVE)
	if err != nil {
		return nil, fmt.Errorf("osmem: reserve %d bytes: %w", size, err)
	}
	if commit {
		if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_WRITE); err != nil {
			_ = unix.Munmap(mem)
			return nil, fmt.Errorf("osmem: commit %d bytes: %w", size, err)
		}
	}
	return mem, nil
}
