package models

// EncryptionMethod values for MasterKey. Zero means the key material is
// stored unwrapped (legacy unencrypted profile); otherwise it names the
// symmetric algorithm used to wrap the material under a passphrase-derived
// key.
const (
	EncryptionMethodNone      = 0
	EncryptionMethodAES256GCM = 1
)

// MasterKey is a symmetric key used to encrypt item content. Its key
// material is stored wrapped (Content+Nonce, AEAD under an argon2id
// passphrase-derived key with Salt) or raw when EncryptionMethod is none.
//
// Master keys synchronize across devices as items of type master_key; their
// content is never additionally envelope-encrypted, which is what allows a
// new device to receive keys through a normal sync pass. Historical keys are
// retained indefinitely so old ciphertext stays decryptable.
type MasterKey struct {
	ID               string `json:"id"`
	CreatedTime      int64  `json:"created_time"`
	UpdatedTime      int64  `json:"updated_time"`
	EncryptionMethod int    `json:"encryption_method"`

	// Checksum is the SHA-256 hex digest of the wrapped Content bytes; it
	// detects corruption without attempting an unwrap.
	Checksum string `json:"checksum"`

	Salt    []byte `json:"salt,omitempty"`
	Nonce   []byte `json:"nonce,omitempty"`
	Content []byte `json:"content"`

	// HasBeenUsed is set once the key has been successfully created or
	// unwrapped on this device. The sync engine refuses to encrypt new items
	// until at least one key is confirmed usable.
	HasBeenUsed bool `json:"has_been_used"`
}

// WrappedKey is the transfer format for handing a master key's material to
// another device: the material encrypted under the recipient's public key.
type WrappedKey struct {
	AlgorithmID int    `json:"algorithm_id"`
	KeyID       string `json:"master_key_id"`
	Wrapped     []byte `json:"wrapped_bytes"`

	// Checksum is the SHA-256 hex digest of Wrapped, for corruption
	// detection before an unwrap is attempted.
	Checksum string `json:"checksum"`
}

// KeyPair is this device's asymmetric keypair, used only to wrap and unwrap
// master-key material during key exchange. It never encrypts item content.
type KeyPair struct {
	DeviceID    string `json:"device_id"`
	AlgorithmID int    `json:"algorithm_id"`
	PrivatePEM  []byte `json:"private_pem"`
	PublicPEM   []byte `json:"public_pem"`
	CreatedTime int64  `json:"created_time"`
}
