package common

import (
	"context"
	"errors"
)

// Kind buckets an error into one of the sync failure categories. Per-item
// handling depends on the kind: transient errors are retried with backoff,
// conflicts are resolved and reported, deferred crypto errors park the item
// until a key arrives, corruption is surfaced for the single item, and fatal
// errors abort the whole run.
type Kind int

const (
	KindTransient Kind = iota
	KindConflict
	KindCryptoDeferred
	KindCorruption
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindConflict:
		return "conflict"
	case KindCryptoDeferred:
		return "crypto_deferred"
	case KindCorruption:
		return "corruption"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ClassifyError maps an error to its Kind. Unrecognized errors are treated as
// transient network/storage hiccups; the retry budget turns persistent ones
// into per-item failures.
func ClassifyError(err error) Kind {
	switch {
	case err == nil:
		return KindTransient
	case errors.Is(err, ErrVersionConflict):
		return KindConflict
	case errors.Is(err, ErrKeyNotFound), errors.Is(err, ErrKeyLocked):
		return KindCryptoDeferred
	case errors.Is(err, ErrIntegrity),
		errors.Is(err, ErrChecksumMismatch),
		errors.Is(err, ErrUnsupportedEnvelopeVersion),
		errors.Is(err, ErrUnknownAlgorithm):
		return KindCorruption
	case errors.Is(err, ErrIncompatibleRemote),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return KindFatal
	default:
		return KindTransient
	}
}
