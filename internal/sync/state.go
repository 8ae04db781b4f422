package sync

import "time"

// State names the stage a sync run is in. Runs move strictly forward through
// the states; Error and Cancelled are reachable from any non-terminal one.
type State int

const (
	StateIdle State = iota
	StateLocating
	StatePulling
	StateResolving
	StatePushing
	StateFinalizing
	StateError
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLocating:
		return "locating"
	case StatePulling:
		return "pulling"
	case StateResolving:
		return "resolving"
	case StatePushing:
		return "pushing"
	case StateFinalizing:
		return "finalizing"
	case StateError:
		return "error"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Summary is the end-of-run report. Per-item failures are isolated here;
// only a run-level failure makes Run itself return an error.
type Summary struct {
	// Pulled counts remote items applied locally, master keys included.
	Pulled int
	// Pushed counts local creates/updates accepted by the remote.
	Pushed int
	// Deleted counts deletions applied in either direction.
	Deleted int
	// Conflicted counts divergences resolved; each left a conflict copy or
	// an undelete behind.
	Conflicted int
	// Deferred counts items parked for a later pass: missing or locked
	// keys, and pushes rejected with a stale revision token.
	Deferred int
	// Failed counts items that exhausted retries or hit corruption.
	Failed int
	// Errors carries one error per failed item.
	Errors []error
}

// Options tune a run. The zero value is usable; Normalize fills defaults.
type Options struct {
	// MaxParallel bounds concurrent network operations per stage.
	MaxParallel int
	// MaxAttempts bounds tries per item for transient failures.
	MaxAttempts int
	// RetryBase is the first backoff delay; it grows exponentially and is
	// capped at RetryCap.
	RetryBase time.Duration
	RetryCap  time.Duration
	// OpTimeout bounds each network operation. Zero means no per-op limit.
	OpTimeout time.Duration
}

func (o Options) Normalize() Options {
	if o.MaxParallel <= 0 {
		o.MaxParallel = 4
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 250 * time.Millisecond
	}
	if o.RetryCap <= 0 {
		o.RetryCap = 5 * time.Second
	}
	return o
}
