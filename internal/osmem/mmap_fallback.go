//go:build !linux && !darwin

package osmem

// mapPages falls back to Go memory when mmap is not available.
func mapPages(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func unmapPages([]byte) error {
	return nil
}

func reservePages(size int, _ bool) ([]byte, error) {
	return make([]byte, size), nil
}
