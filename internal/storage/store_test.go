package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/devblac/mintbridge/internal/bridge"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testEvent(height uint64, idx uint) bridge.SourceEvent {
	return bridge.SourceEvent{
		ID:        bridge.EventID(height, idx),
		Height:    height,
		LogIndex:  idx,
		TxHash:    "0xabc",
		Contract:  "0x1111111111111111111111111111111111111111",
		TokenID:   "7",
		Recipient: "0x2222222222222222222222222222222222222222",
		Amount:    1,
		Standard:  "erc721",
	}
}

func TestCursorSaveAndLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := store.LoadCursor(ctx); err != nil || ok {
		t.Fatalf("fresh store should have no cursor, ok=%v err=%v", ok, err)
	}

	if err := store.SaveCursor(ctx, 10); err != nil {
		t.Fatalf("save cursor: %v", err)
	}
	h, ok, err := store.LoadCursor(ctx)
	if err != nil || !ok || h != 10 {
		t.Fatalf("load cursor: h=%d ok=%v err=%v", h, ok, err)
	}

	if err := store.SaveCursor(ctx, 25); err != nil {
		t.Fatalf("replace cursor: %v", err)
	}
	h, _, _ = store.LoadCursor(ctx)
	if h != 25 {
		t.Fatalf("cursor not replaced: %d", h)
	}
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ev := testEvent(100, 2)

	rec, created, err := store.GetOrCreate(ctx, ev)
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}
	if rec.State != bridge.StateDiscovered {
		t.Fatalf("new record state = %s", rec.State)
	}

	// duplicate delivery must be a no-op, even after the record moved on
	if err := store.Transition(ctx, ev.ID, bridge.StateDiscovered, bridge.StateBuilding, Update{}); err != nil {
		t.Fatalf("transition: %v", err)
	}
	rec2, created, err := store.GetOrCreate(ctx, ev)
	if err != nil || created {
		t.Fatalf("re-observation: created=%v err=%v", created, err)
	}
	if rec2.State != bridge.StateBuilding {
		t.Fatalf("re-observation must not reset state, got %s", rec2.State)
	}
}

func TestTransitionGuardsExpectedState(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ev := testEvent(100, 2)
	if _, _, err := store.GetOrCreate(ctx, ev); err != nil {
		t.Fatalf("create: %v", err)
	}

	err := store.Transition(ctx, ev.ID, bridge.StateBuilt, bridge.StateSubmitting, Update{})
	if !errors.Is(err, bridge.ErrStaleState) {
		t.Fatalf("expected stale state error, got %v", err)
	}

	if err := store.Transition(ctx, ev.ID, bridge.StateDiscovered, bridge.StateBuilding, Update{}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.Transition(ctx, ev.ID, bridge.StateBuilding, bridge.StateBuilt, Update{
		BuiltTxn:  []byte("signed-bytes"),
		DestTxRef: "TXID1",
	}); err != nil {
		t.Fatalf("built: %v", err)
	}

	rec, _, _ := store.Get(ctx, ev.ID)
	if string(rec.BuiltTxn) != "signed-bytes" || rec.DestTxRef != "TXID1" {
		t.Fatalf("payload not persisted: %+v", rec)
	}
}

func TestTransitionPreservesPayloadOnRetry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ev := testEvent(100, 2)
	if _, _, err := store.GetOrCreate(ctx, ev); err != nil {
		t.Fatalf("create: %v", err)
	}
	mustTransition(t, store, ev.ID, bridge.StateDiscovered, bridge.StateBuilding, Update{})
	mustTransition(t, store, ev.ID, bridge.StateBuilding, bridge.StateBuilt, Update{BuiltTxn: []byte("stx"), DestTxRef: "TXID"})
	mustTransition(t, store, ev.ID, bridge.StateBuilt, bridge.StateSubmitting, Update{})

	// retryable submit failure: back to built with a bumped attempt, same payload
	retryAt := time.Now().Add(time.Minute)
	mustTransition(t, store, ev.ID, bridge.StateSubmitting, bridge.StateBuilt, Update{
		LastError:   "connection reset",
		Bump:        true,
		NextRetryAt: retryAt,
	})

	rec, _, _ := store.Get(ctx, ev.ID)
	if string(rec.BuiltTxn) != "stx" || rec.DestTxRef != "TXID" {
		t.Fatalf("retry must reuse the same built transaction: %+v", rec)
	}
	if rec.AttemptCount != 1 || rec.LastError != "connection reset" {
		t.Fatalf("attempt bookkeeping wrong: %+v", rec)
	}
	if rec.NextRetryAt.IsZero() {
		t.Fatalf("next retry not persisted")
	}
}

func TestConcurrentClaimsOnlyOneWins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ev := testEvent(100, 2)
	if _, _, err := store.GetOrCreate(ctx, ev); err != nil {
		t.Fatalf("create: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	wins := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Transition(ctx, ev.ID, bridge.StateDiscovered, bridge.StateBuilding, Update{})
			if err == nil {
				wins <- struct{}{}
				return
			}
			if !errors.Is(err, bridge.ErrStaleState) {
				t.Errorf("unexpected transition error: %v", err)
			}
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for range wins {
		won++
	}
	if won != 1 {
		t.Fatalf("expected exactly one claim to win, got %d", won)
	}
}

func TestListRunnableRespectsBackoff(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	due := testEvent(100, 0)
	waiting := testEvent(101, 0)
	claimed := testEvent(102, 0)
	for _, ev := range []bridge.SourceEvent{due, waiting, claimed} {
		if _, _, err := store.GetOrCreate(ctx, ev); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	mustTransition(t, store, waiting.ID, bridge.StateDiscovered, bridge.StateDiscovered, Update{
		Bump:        true,
		NextRetryAt: now.Add(time.Hour),
	})
	mustTransition(t, store, claimed.ID, bridge.StateDiscovered, bridge.StateBuilding, Update{})

	recs, err := store.ListRunnable(ctx, now)
	if err != nil {
		t.Fatalf("list runnable: %v", err)
	}
	if len(recs) != 1 || recs[0].Event.ID != due.ID {
		t.Fatalf("runnable = %+v, want only %s", recs, due.ID)
	}
}

func TestOldestNonTerminalPinsCursor(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := testEvent(100, 0)
	b := testEvent(105, 1)
	for _, ev := range []bridge.SourceEvent{a, b} {
		if _, _, err := store.GetOrCreate(ctx, ev); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	h, ok, err := store.OldestNonTerminal(ctx)
	if err != nil || !ok || h != 100 {
		t.Fatalf("oldest = %d ok=%v err=%v", h, ok, err)
	}

	mustTransition(t, store, a.ID, bridge.StateDiscovered, bridge.StateFailed, Update{LastError: "invalid payload"})
	h, ok, err = store.OldestNonTerminal(ctx)
	if err != nil || !ok || h != 105 {
		t.Fatalf("oldest after terminal = %d ok=%v err=%v", h, ok, err)
	}

	mustTransition(t, store, b.ID, bridge.StateDiscovered, bridge.StateFailed, Update{LastError: "invalid payload"})
	if _, ok, _ := store.OldestNonTerminal(ctx); ok {
		t.Fatalf("all terminal: expected no pin")
	}
}

func TestRecoverInFlight(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	building := testEvent(100, 0)
	submitting := testEvent(101, 0)
	for _, ev := range []bridge.SourceEvent{building, submitting} {
		if _, _, err := store.GetOrCreate(ctx, ev); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	mustTransition(t, store, building.ID, bridge.StateDiscovered, bridge.StateBuilding, Update{})
	mustTransition(t, store, submitting.ID, bridge.StateDiscovered, bridge.StateBuilding, Update{})
	mustTransition(t, store, submitting.ID, bridge.StateBuilding, bridge.StateBuilt, Update{BuiltTxn: []byte("stx"), DestTxRef: "TXID"})
	mustTransition(t, store, submitting.ID, bridge.StateBuilt, bridge.StateSubmitting, Update{})

	n, err := store.RecoverInFlight(ctx)
	if err != nil || n != 2 {
		t.Fatalf("recover = %d err=%v", n, err)
	}

	rec, _, _ := store.Get(ctx, building.ID)
	if rec.State != bridge.StateDiscovered {
		t.Fatalf("building should recover to discovered, got %s", rec.State)
	}
	rec, _, _ = store.Get(ctx, submitting.ID)
	if rec.State != bridge.StateBuilt {
		t.Fatalf("submitting should recover to built, got %s", rec.State)
	}
	if string(rec.BuiltTxn) != "stx" {
		t.Fatalf("recovery must not touch the built transaction")
	}
}

func TestCountByState(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := uint(0); i < 3; i++ {
		if _, _, err := store.GetOrCreate(ctx, testEvent(100, i)); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	mustTransition(t, store, bridge.EventID(100, 0), bridge.StateDiscovered, bridge.StateFailed, Update{})

	counts, err := store.CountByState(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[bridge.StateDiscovered] != 2 || counts[bridge.StateFailed] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}

func mustTransition(t *testing.T, store *Store, id string, from, to bridge.State, upd Update) {
	t.Helper()
	if err := store.Transition(context.Background(), id, from, to, upd); err != nil {
		t.Fatalf("transition %s %s->%s: %v", id, from, to, err)
	}
}
