package cryptox

import (
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/argon2"
)

// DeriveMasterKey derives a 32-byte wrapping key from a passphrase and salt
// using argon2id. Parameters are fixed: changing them would make existing
// wrapped keys undecryptable.
func DeriveMasterKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, 32)
}

// Checksum returns the SHA-256 hex digest of b. Used for wrapped-key
// corruption detection.
func Checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
