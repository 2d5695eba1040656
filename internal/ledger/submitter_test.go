package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/common/models"

	"github.com/devblac/mintbridge/internal/bridge"
)

func TestSubmitSendsRawBytes(t *testing.T) {
	fake := &fakeAlgod{sendID: "TX1"}
	s := NewSubmitter(fake, nil)

	if err := s.Submit(context.Background(), "TX1", []byte("raw")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(fake.sentRaw) != 1 || string(fake.sentRaw[0]) != "raw" {
		t.Fatalf("raw bytes not forwarded: %v", fake.sentRaw)
	}
}

func TestSubmitDuplicateIsAccepted(t *testing.T) {
	fake := &fakeAlgod{sendErr: errors.New("TransactionPool.Remember: transaction already in ledger")}
	s := NewSubmitter(fake, nil)

	if err := s.Submit(context.Background(), "TX1", []byte("raw")); err != nil {
		t.Fatalf("duplicate submission must be accepted, got %v", err)
	}
}

func TestSubmitRejectionIsTerminal(t *testing.T) {
	fake := &fakeAlgod{sendErr: errors.New("TransactionPool.Remember: transaction malformed")}
	s := NewSubmitter(fake, nil)

	err := s.Submit(context.Background(), "TX1", []byte("raw"))
	if err == nil || bridge.KindOf(err) != bridge.KindRejected {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestSubmitNetworkErrorIsRetryable(t *testing.T) {
	fake := &fakeAlgod{sendErr: errors.New("connection refused")}
	s := NewSubmitter(fake, nil)

	err := s.Submit(context.Background(), "TX1", []byte("raw"))
	if err == nil || !bridge.IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

func TestConfirmStates(t *testing.T) {
	tests := []struct {
		name    string
		pending models.PendingTransactionInfoResponse
		err     error
		want    Status
		wantErr bool
	}{
		{name: "confirmed", pending: models.PendingTransactionInfoResponse{ConfirmedRound: 42}, want: StatusConfirmed},
		{name: "still pending", want: StatusPending},
		{name: "pool rejection", pending: models.PendingTransactionInfoResponse{PoolError: "overspend"}, want: StatusRejected, wantErr: true},
		{name: "unknown txn", err: errors.New("404 Not Found"), want: StatusPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeAlgod{pending: tt.pending, pendingErr: tt.err}
			s := NewSubmitter(fake, nil)

			receipt, err := s.Confirm(context.Background(), "TX1")
			if tt.wantErr {
				if err == nil || bridge.KindOf(err) != bridge.KindRejected {
					t.Fatalf("expected rejection, got %v", err)
				}
			} else if err != nil {
				t.Fatalf("confirm: %v", err)
			}
			if receipt.Status != tt.want {
				t.Fatalf("status = %d, want %d", receipt.Status, tt.want)
			}
		})
	}
}

func TestConfirmNodeErrorIsRetryable(t *testing.T) {
	fake := &fakeAlgod{pendingErr: errors.New("connection reset")}
	s := NewSubmitter(fake, nil)

	_, err := s.Confirm(context.Background(), "TX1")
	if err == nil || !bridge.IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

func TestPing(t *testing.T) {
	s := NewSubmitter(&fakeAlgod{}, nil)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	s = NewSubmitter(&fakeAlgod{statusErr: errors.New("down")}, nil)
	if err := s.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping failure")
	}
}

func TestConfirmedRoundCarried(t *testing.T) {
	fake := &fakeAlgod{pending: models.PendingTransactionInfoResponse{ConfirmedRound: 42}}
	s := NewSubmitter(fake, nil)

	receipt, err := s.Confirm(context.Background(), "TX1")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if receipt.ConfirmedRound != 42 {
		t.Fatalf("confirmed round = %d", receipt.ConfirmedRound)
	}
}
