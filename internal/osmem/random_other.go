//go:build !linux

package osmem

import "crypto/rand"

func randomBytes(b []byte) bool {
	_, err := rand.Read(b)
	return err == nil
}
