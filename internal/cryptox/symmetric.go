// Package cryptox implements the pluggable crypto providers: symmetric item
// ciphers, asymmetric key-wrap providers for device key exchange, and the
// passphrase KDF.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/personalizedrefrigerator/notesync/internal/common"
)

// AlgorithmID selects a registered provider. The id travels inside ciphertext
// headers and wrapped-key blobs, so values are fixed forever.
type AlgorithmID int

const (
	AlgorithmNone      AlgorithmID = 0
	AlgorithmAES256GCM AlgorithmID = 1

	// RSA variants used only for wrapping master-key material. RSAV1 is the
	// legacy PKCS#1 v1.5 scheme, kept registered for reading keys wrapped by
	// old clients; new wraps must use RSAV2 or newer.
	AlgorithmRSAV1 AlgorithmID = 10
	AlgorithmRSAV2 AlgorithmID = 11
	AlgorithmRSAV3 AlgorithmID = 12
)

func (a AlgorithmID) String() string {
	switch a {
	case AlgorithmNone:
		return "none"
	case AlgorithmAES256GCM:
		return "aes-256-gcm"
	case AlgorithmRSAV1:
		return "rsa-v1"
	case AlgorithmRSAV2:
		return "rsa-v2"
	case AlgorithmRSAV3:
		return "rsa-v3"
	default:
		return fmt.Sprintf("algorithm(%d)", int(a))
	}
}

// SymmetricCipher encrypts and decrypts item content with a master key.
// Decrypt must fail with common.ErrIntegrity when the ciphertext or its
// authentication tag has been tampered with.
type SymmetricCipher interface {
	ID() AlgorithmID
	Encrypt(plaintext, key []byte) (ciphertext, nonce []byte, err error)
	Decrypt(ciphertext, nonce, key []byte) ([]byte, error)
}

// AESGCM is AES-256-GCM with a random 12-byte nonce per encryption.
type AESGCM struct{}

func (AESGCM) ID() AlgorithmID { return AlgorithmAES256GCM }

func (AESGCM) Encrypt(plaintext, key []byte) ([]byte, []byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	nonce := common.GenerateRandByteArray(aead.NonceSize())
	return aead.Seal(nil, nonce, plaintext, nil), nonce, nil
}

func (AESGCM) Decrypt(ciphertext, nonce, key []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		// cipher.Open reports tag mismatch and truncation alike.
		return nil, fmt.Errorf("%w: %v", common.ErrIntegrity, err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
