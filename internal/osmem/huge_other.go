//go:build !linux

package osmem

func mapHuge(int, int) ([]byte, error) {
	return nil, ErrUnsupported
}

func adviseLarge([]byte) {}
