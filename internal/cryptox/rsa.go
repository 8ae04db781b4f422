package cryptox

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// PublicKeyCipher wraps and unwraps master-key material for device key
// exchange. Implementations never touch item content.
type PublicKeyCipher interface {
	ID() AlgorithmID

	// WrapAllowed reports whether the scheme may be used for new wraps.
	// Legacy schemes stay registered decrypt-only.
	WrapAllowed() bool

	WrapKey(pub *rsa.PublicKey, material []byte) ([]byte, error)
	UnwrapKey(priv *rsa.PrivateKey, wrapped []byte) ([]byte, error)
}

// RSAV1 is PKCS#1 v1.5, the scheme used by the earliest clients. It is kept
// only so their wrapped keys remain readable.
type RSAV1 struct{}

func (RSAV1) ID() AlgorithmID   { return AlgorithmRSAV1 }
func (RSAV1) WrapAllowed() bool { return false }

func (RSAV1) WrapKey(pub *rsa.PublicKey, material []byte) ([]byte, error) {
	return rsa.EncryptPKCS1v15(rand.Reader, pub, material)
}

func (RSAV1) UnwrapKey(priv *rsa.PrivateKey, wrapped []byte) ([]byte, error) {
	return rsa.DecryptPKCS1v15(rand.Reader, priv, wrapped)
}

// RSAV2 is RSA-OAEP with SHA-1.
type RSAV2 struct{}

func (RSAV2) ID() AlgorithmID   { return AlgorithmRSAV2 }
func (RSAV2) WrapAllowed() bool { return true }

func (RSAV2) WrapKey(pub *rsa.PublicKey, material []byte) ([]byte, error) {
	return rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, material, nil)
}

func (RSAV2) UnwrapKey(priv *rsa.PrivateKey, wrapped []byte) ([]byte, error) {
	return rsa.DecryptOAEP(sha1.New(), rand.Reader, priv, wrapped, nil)
}

// RSAV3 is RSA-OAEP with SHA-256, the default for new wraps.
type RSAV3 struct{}

func (RSAV3) ID() AlgorithmID   { return AlgorithmRSAV3 }
func (RSAV3) WrapAllowed() bool { return true }

func (RSAV3) WrapKey(pub *rsa.PublicKey, material []byte) ([]byte, error) {
	return rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, material, nil)
}

func (RSAV3) UnwrapKey(priv *rsa.PrivateKey, wrapped []byte) ([]byte, error) {
	return rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrapped, nil)
}

// DeviceKeyBits is the modulus size for freshly generated device keypairs.
const DeviceKeyBits = 2048

// GenerateDeviceKeyPair creates a new RSA keypair for this device.
func GenerateDeviceKeyPair() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, DeviceKeyBits)
}

// MarshalPrivateKeyPEM encodes a private key as PKCS#8 PEM.
func MarshalPrivateKeyPEM(priv *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// MarshalPublicKeyPEM encodes a public key as PKIX PEM.
func MarshalPublicKeyPEM(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// ParsePrivateKeyPEM decodes a PKCS#8 PEM private key.
func ParsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unexpected private key type %T", key)
	}
	return priv, nil
}

// ParsePublicKeyPEM decodes a PKIX PEM public key.
func ParsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unexpected public key type %T", key)
	}
	return pub, nil
}
