package common

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// GenerateRandByteArray returns size cryptographically random bytes.
// It panics if the system RNG fails, which is not recoverable.
func GenerateRandByteArray(size int) []byte {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}

// MakeRandHexString generates a random hexadecimal string of the given size.
// The size parameter specifies the number of random bytes to generate, so the
// resulting string is twice as long.
func MakeRandHexString(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// WipeByteArray overwrites the contents of the provided byte slice with
// zeros. Useful for removing key material from memory after use. A nil slice
// is a no-op.
func WipeByteArray(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// NowMilliseconds returns the current wall-clock time in Unix milliseconds,
// the timestamp unit used for item created/updated times.
func NowMilliseconds() int64 {
	return time.Now().UnixMilli()
}
