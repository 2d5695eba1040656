package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/devblac/mintbridge/internal/bridge"
)

// Status is the observed fate of a submitted transaction.
type Status int

const (
	StatusPending Status = iota
	StatusConfirmed
	StatusRejected
)

// Receipt describes a transaction's standing on the ledger.
type Receipt struct {
	TxID           string
	Status         Status
	ConfirmedRound uint64
	PoolError      string
}

// Submitter pushes signed transactions to the ledger and checks on them.
// Submissions and confirmation queries may go to different nodes.
type Submitter struct {
	client Client
	query  Client
}

func NewSubmitter(client, query Client) *Submitter {
	if query == nil {
		query = client
	}
	return &Submitter{client: client, query: query}
}

// Submit broadcasts a signed transaction. A node reporting the
// transaction as already known counts as an accepted submission: the
// bytes are identical, so the earlier copy is the same issuance.
func (s *Submitter) Submit(ctx context.Context, txid string, raw []byte) error {
	got, err := s.client.SendRawTransaction(raw).Do(ctx)
	if err != nil {
		if isAlreadyApplied(err) {
			return nil
		}
		if isLedgerRejection(err) {
			return bridge.Rejected(fmt.Errorf("submit %s: %w", txid, err))
		}
		return bridge.Retryable(fmt.Errorf("submit %s: %w", txid, err))
	}
	if got != "" && got != txid {
		// The node accepted bytes we signed, so a mismatched id means a
		// local bookkeeping bug rather than a network problem.
		return bridge.Rejected(fmt.Errorf("submitted %s but node reports %s", txid, got))
	}
	return nil
}

// Confirm reports whether a submitted transaction has landed. A pending
// transaction the node does not know yet is still pending, not lost: the
// submission may simply not have propagated.
func (s *Submitter) Confirm(ctx context.Context, txid string) (Receipt, error) {
	info, _, err := s.query.PendingTransactionInformation(txid).Do(ctx)
	if err != nil {
		if isNotFound(err) {
			return Receipt{TxID: txid, Status: StatusPending}, nil
		}
		return Receipt{}, bridge.Retryable(fmt.Errorf("pending info %s: %w", txid, err))
	}
	if info.ConfirmedRound > 0 {
		return Receipt{TxID: txid, Status: StatusConfirmed, ConfirmedRound: info.ConfirmedRound}, nil
	}
	if info.PoolError != "" {
		return Receipt{TxID: txid, Status: StatusRejected, PoolError: info.PoolError},
			bridge.Rejected(fmt.Errorf("txn %s rejected by pool: %s", txid, info.PoolError))
	}
	return Receipt{TxID: txid, Status: StatusPending}, nil
}

// Ping checks node reachability.
func (s *Submitter) Ping(ctx context.Context) error {
	if _, err := s.client.Status().Do(ctx); err != nil {
		return bridge.Retryable(fmt.Errorf("ledger status: %w", err))
	}
	return nil
}

func isAlreadyApplied(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already in ledger") ||
		strings.Contains(msg, "transaction already in")
}

// isLedgerRejection spots errors the node will never stop returning for
// the same bytes. Everything else is treated as transient.
func isLedgerRejection(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"malformed",
		"overspend",
		"below min",
		"txn dead",
		"logic eval error",
		"rejected",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func isNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "404") || strings.Contains(msg, "not found")
}
