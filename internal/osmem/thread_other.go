//go:build !linux

package osmem

// threadID reports 0: the platform exposes no portable OS thread id.
func threadID() uint64 {
	return 0
}
