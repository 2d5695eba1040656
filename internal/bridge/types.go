package bridge

import (
	"fmt"
	"time"
)

// State is the lifecycle position of an issuance record.
type State string

const (
	StateDiscovered State = "discovered"
	StateBuilding   State = "building"
	StateBuilt      State = "built"
	StateSubmitting State = "submitting"
	StateSubmitted  State = "submitted"
	StateConfirmed  State = "confirmed"
	StateFailed     State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateFailed
}

// Valid reports whether s is a known lifecycle state.
func (s State) Valid() bool {
	switch s {
	case StateDiscovered, StateBuilding, StateBuilt, StateSubmitting,
		StateSubmitted, StateConfirmed, StateFailed:
		return true
	}
	return false
}

// EventID builds the canonical chain event identifier. Block height plus
// log index is stable and monotonic within a chain, which makes it usable
// as the idempotency key for the whole pipeline.
func EventID(height uint64, logIndex uint) string {
	return fmt.Sprintf("%d-%d", height, logIndex)
}

// SourceEvent is one qualifying mint observed on the source chain.
type SourceEvent struct {
	ID          string
	Height      uint64
	LogIndex    uint
	TxHash      string
	Contract    string
	TokenID     string
	Recipient   string
	MetadataURI string
	Amount      uint64
	Standard    string
}

// IssuanceRecord tracks bridging progress for one source event, keyed 1:1
// by the event id. Records are never deleted; they form the audit trail.
type IssuanceRecord struct {
	Event        SourceEvent
	State        State
	BuiltTxn     []byte
	DestTxRef    string
	AttemptCount int
	LastError    string
	NextRetryAt  time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
