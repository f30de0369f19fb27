//go:build linux

package osmem

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// mapHuge maps one explicit 1GiB huge page. It fails when the kernel has no
// huge pages configured.
//
// The NUMA node is advisory; pages are placed by the kernel's default policy.
func mapHuge(size, _ int) ([]byte, error) {
	flags := unix.MAP_PRIVATE | unix.MAP_ANON | unix.MAP_HUGETLB | unix.MAP_HUGE_1GB
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, flags)
	if err != nil {
		return nil, fmt.Errorf("osmem: huge page: %w", err)
	}
	return mem, nil
}

// adviseLarge asks the kernel to back mem with transparent huge pages.
func adviseLarge(mem []byte) {
	_ = unix.Madvise(mem, unix.MADV_HUGEPAGE)
}
