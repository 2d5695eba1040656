package bridge

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline errors so the coordinator can decide retry
// versus terminal from the kind alone, never from the message.
type Kind int

const (
	// KindRetryable covers transient failures: RPC timeouts, connection
	// resets, confirmation still pending. Retried with backoff.
	KindRetryable Kind = iota
	// KindInvalidPayload marks event data that cannot be mapped to a
	// valid issuance. Terminal, never retried.
	KindInvalidPayload
	// KindRejected marks a ledger-level rejection of a submitted
	// transaction. Terminal, never retried.
	KindRejected
	// KindStaleState marks a lost optimistic-lock race on a record.
	KindStaleState
)

func (k Kind) String() string {
	switch k {
	case KindRetryable:
		return "retryable"
	case KindInvalidPayload:
		return "invalid_payload"
	case KindRejected:
		return "rejected"
	case KindStaleState:
		return "stale_state"
	}
	return "unknown"
}

// Error carries a kind alongside the wrapped cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// ErrStaleState signals that a record's stored state no longer matches the
// expected state of a transition. The operation must be abandoned.
var ErrStaleState = &Error{Kind: KindStaleState, Err: errors.New("record state changed concurrently")}

// Retryable wraps err as transient.
func Retryable(err error) error { return &Error{Kind: KindRetryable, Err: err} }

// InvalidPayload wraps err as a terminal event-payload failure.
func InvalidPayload(err error) error { return &Error{Kind: KindInvalidPayload, Err: err} }

// Rejected wraps err as a terminal ledger rejection.
func Rejected(err error) error { return &Error{Kind: KindRejected, Err: err} }

// KindOf extracts the kind from err. Unclassified errors default to
// retryable so that a missed annotation can never drop an event.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindRetryable
}

// IsRetryable reports whether err should be retried with backoff.
func IsRetryable(err error) bool { return KindOf(err) == KindRetryable }
