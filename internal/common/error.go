// Package common defines shared constants, sentinel errors and small helpers
// used across notesync components. Callers should use errors.Is to match
// these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Remote store errors.
	ErrVersionConflict    = errors.New("version conflict")
	ErrIncompatibleRemote = errors.New("incompatible remote schema version")
	ErrSyncInProgress     = errors.New("sync already in progress for this target")
	ErrUnauthorized       = errors.New("unauthorized")

	// Crypto errors. ErrKeyNotFound and ErrKeyLocked are retryable: the key
	// may still arrive or be unlocked in a later sync pass.
	ErrKeyNotFound          = errors.New("master key not found")
	ErrKeyLocked            = errors.New("master key locked")
	ErrIntegrity            = errors.New("integrity check failed")
	ErrChecksumMismatch     = errors.New("checksum mismatch")
	ErrUnknownAlgorithm     = errors.New("unknown algorithm")
	ErrAlgorithmUnavailable = errors.New("algorithm unavailable on this platform")
	ErrWeakAlgorithm        = errors.New("algorithm rejected for new wraps")
	ErrCryptoUnavailable    = errors.New("no symmetric cipher registered")
	ErrEncryptionDisabled   = errors.New("encryption is not enabled")

	// Codec errors.
	ErrUnsupportedEnvelopeVersion = errors.New("unsupported envelope version")
)
