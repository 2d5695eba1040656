package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/devblac/mintbridge/internal/bridge"
	"github.com/devblac/mintbridge/internal/ledger"
	"github.com/devblac/mintbridge/internal/metrics"
	"github.com/devblac/mintbridge/internal/sink"
	"github.com/devblac/mintbridge/internal/source/evm"
	"github.com/devblac/mintbridge/internal/storage"
)

// Watcher is the source chain scanning surface the coordinator drives.
type Watcher interface {
	StartHeight(ctx context.Context) (uint64, error)
	Poll(ctx context.Context, from uint64) ([]bridge.SourceEvent, []evm.DecodeFailure, uint64, error)
}

// Builder produces signed issuance transactions for mint events.
type Builder interface {
	Build(ctx context.Context, ev bridge.SourceEvent) (ledger.BuiltTxn, error)
}

// Submitter pushes built transactions and reports on their fate.
type Submitter interface {
	Submit(ctx context.Context, txid string, raw []byte) error
	Confirm(ctx context.Context, txid string) (ledger.Receipt, error)
}

// Config carries the coordinator's tunables.
type Config struct {
	PollInterval time.Duration
	Workers      int
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	DryRun       bool
}

// Coordinator drives the issuance pipeline: discover mint events, persist
// them, walk each record through build, submit, and confirm, and advance
// the scan cursor only past fully resolved heights.
type Coordinator struct {
	store     *storage.Store
	watcher   Watcher
	builder   Builder
	submitter Submitter
	sinks     map[string]sink.Sender
	metrics   *metrics.Metrics
	log       *slog.Logger
	cfg       Config
	nowFunc   func() time.Time
	trigger   chan struct{}
}

// New builds a coordinator. sinks and m may be nil.
func New(store *storage.Store, watcher Watcher, builder Builder, submitter Submitter,
	sinks map[string]sink.Sender, m *metrics.Metrics, log *slog.Logger, cfg Config) *Coordinator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &Coordinator{
		store:     store,
		watcher:   watcher,
		builder:   builder,
		submitter: submitter,
		sinks:     sinks,
		metrics:   m,
		log:       log,
		cfg:       cfg,
		nowFunc:   time.Now,
		trigger:   make(chan struct{}, 1),
	}
}

// Trigger requests an immediate sweep without waiting for the next tick.
func (c *Coordinator) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Run recovers interrupted records and then sweeps until ctx is done.
// Sweep errors are logged and retried on the next tick rather than
// stopping the loop.
func (c *Coordinator) Run(ctx context.Context) error {
	n, err := c.store.RecoverInFlight(ctx)
	if err != nil {
		return fmt.Errorf("recover in-flight records: %w", err)
	}
	if n > 0 {
		c.log.Info("recovered interrupted records", "count", n)
	}

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-c.trigger:
		}
		if err := c.Sweep(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			c.metrics.Errors()
			c.log.Error("sweep failed", "error", err)
		}
	}
}

// Sweep performs one full pass: poll the source for new events, persist
// them, process every runnable record, and advance the cursor.
func (c *Coordinator) Sweep(ctx context.Context) error {
	from, err := c.scanFrom(ctx)
	if err != nil {
		return err
	}

	events, failures, scannedTo, err := c.watcher.Poll(ctx, from)
	if err != nil {
		return fmt.Errorf("poll source: %w", err)
	}
	if scannedTo >= from {
		c.metrics.BlocksScanned(scannedTo - from + 1)
	}
	for _, f := range failures {
		c.metrics.Errors()
		c.log.Warn("undecodable mint log",
			"event_id", f.ID, "tx_hash", f.TxHash, "error", f.Err)
		if err := c.recordDecodeFailure(ctx, f); err != nil {
			return fmt.Errorf("record decode failure %s: %w", f.ID, err)
		}
	}

	for _, ev := range events {
		_, created, err := c.store.GetOrCreate(ctx, ev)
		if err != nil {
			return fmt.Errorf("persist event %s: %w", ev.ID, err)
		}
		if created {
			c.metrics.EventsDiscovered()
			c.log.Info("discovered mint",
				"event_id", ev.ID, "token_id", ev.TokenID, "recipient", ev.Recipient)
		}
	}

	if err := c.processRunnable(ctx); err != nil {
		return err
	}
	return c.advanceCursor(ctx, scannedTo)
}

// recordDecodeFailure persists a qualifying log that could not be mapped
// to an issuance. The record lands terminal immediately so the malformed
// entry stays auditable without ever pinning the cursor.
func (c *Coordinator) recordDecodeFailure(ctx context.Context, f evm.DecodeFailure) error {
	rec, created, err := c.store.GetOrCreate(ctx, bridge.SourceEvent{
		ID:       f.ID,
		Height:   f.Height,
		LogIndex: f.LogIndex,
		TxHash:   f.TxHash,
	})
	if err != nil {
		return err
	}
	if !created && rec.State != bridge.StateDiscovered {
		return nil
	}
	err = c.store.Transition(ctx, f.ID, bridge.StateDiscovered, bridge.StateFailed, storage.Update{
		LastError: f.Err.Error(),
	})
	if errors.Is(err, bridge.ErrStaleState) {
		return nil
	}
	if err != nil {
		return err
	}
	c.metrics.Failed()
	return nil
}

func (c *Coordinator) scanFrom(ctx context.Context) (uint64, error) {
	height, ok, err := c.store.LoadCursor(ctx)
	if err != nil {
		return 0, err
	}
	if ok {
		return height + 1, nil
	}
	start, err := c.watcher.StartHeight(ctx)
	if err != nil {
		return 0, fmt.Errorf("resolve start height: %w", err)
	}
	return start, nil
}

// processRunnable walks every due record through its next transition,
// bounded by the worker count. The store's state guard makes concurrent
// workers safe; at most one wins any given claim.
func (c *Coordinator) processRunnable(ctx context.Context) error {
	records, err := c.store.ListRunnable(ctx, c.nowFunc())
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	sem := make(chan struct{}, c.cfg.Workers)
	var wg sync.WaitGroup
	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(rec bridge.IssuanceRecord) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := c.processOne(ctx, rec); err != nil {
				c.metrics.Errors()
				c.log.Error("process record failed",
					"event_id", rec.Event.ID, "state", rec.State, "error", err)
			}
		}(rec)
	}
	wg.Wait()
	return ctx.Err()
}

func (c *Coordinator) processOne(ctx context.Context, rec bridge.IssuanceRecord) error {
	switch rec.State {
	case bridge.StateDiscovered:
		return c.build(ctx, rec)
	case bridge.StateBuilt:
		if c.cfg.DryRun {
			return nil
		}
		return c.submit(ctx, rec)
	case bridge.StateSubmitted:
		if c.cfg.DryRun {
			return nil
		}
		return c.confirm(ctx, rec)
	}
	return nil
}

// build claims a discovered record, signs its issuance transaction, and
// persists the payload. The claim means at most one worker ever signs a
// given event, and the persisted bytes are what every later submission
// reuses.
func (c *Coordinator) build(ctx context.Context, rec bridge.IssuanceRecord) error {
	err := c.store.Transition(ctx, rec.Event.ID, bridge.StateDiscovered, bridge.StateBuilding, storage.Update{})
	if errors.Is(err, bridge.ErrStaleState) {
		return nil
	}
	if err != nil {
		return err
	}

	built, err := c.builder.Build(ctx, rec.Event)
	if err != nil {
		return c.handleStepError(ctx, rec, bridge.StateBuilding, bridge.StateDiscovered, err)
	}

	if err := c.store.Transition(ctx, rec.Event.ID, bridge.StateBuilding, bridge.StateBuilt, storage.Update{
		BuiltTxn:  built.Raw,
		DestTxRef: built.TxID,
	}); err != nil {
		return err
	}
	c.log.Info("built issuance", "event_id", rec.Event.ID, "dest_tx", built.TxID)
	return nil
}

// submit claims a built record and broadcasts its stored bytes.
func (c *Coordinator) submit(ctx context.Context, rec bridge.IssuanceRecord) error {
	if len(rec.BuiltTxn) == 0 || rec.DestTxRef == "" {
		return c.fail(ctx, rec, rec.State, errors.New("built record has no transaction payload"))
	}
	err := c.store.Transition(ctx, rec.Event.ID, bridge.StateBuilt, bridge.StateSubmitting, storage.Update{})
	if errors.Is(err, bridge.ErrStaleState) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := c.submitter.Submit(ctx, rec.DestTxRef, rec.BuiltTxn); err != nil {
		return c.handleStepError(ctx, rec, bridge.StateSubmitting, bridge.StateBuilt, err)
	}

	if err := c.store.Transition(ctx, rec.Event.ID, bridge.StateSubmitting, bridge.StateSubmitted, storage.Update{}); err != nil {
		return err
	}
	c.metrics.Submissions()
	c.log.Info("submitted issuance", "event_id", rec.Event.ID, "dest_tx", rec.DestTxRef)
	return nil
}

// confirm checks whether a submitted transaction landed. A transaction
// still pending past the attempt cap is marked failed with its ledger id
// preserved for reconciliation.
func (c *Coordinator) confirm(ctx context.Context, rec bridge.IssuanceRecord) error {
	receipt, err := c.submitter.Confirm(ctx, rec.DestTxRef)
	if err != nil {
		return c.handleStepError(ctx, rec, bridge.StateSubmitted, bridge.StateSubmitted, err)
	}

	switch receipt.Status {
	case ledger.StatusConfirmed:
		if err := c.store.Transition(ctx, rec.Event.ID, bridge.StateSubmitted, bridge.StateConfirmed, storage.Update{}); err != nil {
			if errors.Is(err, bridge.ErrStaleState) {
				return nil
			}
			return err
		}
		c.metrics.Confirmed()
		c.log.Info("issuance confirmed",
			"event_id", rec.Event.ID, "dest_tx", rec.DestTxRef, "round", receipt.ConfirmedRound)
		rec.State = bridge.StateConfirmed
		c.notify(ctx, rec, "")
		return nil
	case ledger.StatusRejected:
		return c.fail(ctx, rec, bridge.StateSubmitted, fmt.Errorf("rejected by ledger: %s", receipt.PoolError))
	default:
		return c.retreat(ctx, rec, bridge.StateSubmitted, bridge.StateSubmitted,
			errors.New("transaction not yet confirmed"))
	}
}

// handleStepError routes a step failure by its kind: permanent errors end
// the record, everything else retreats for a retry.
func (c *Coordinator) handleStepError(ctx context.Context, rec bridge.IssuanceRecord, from, retreatTo bridge.State, stepErr error) error {
	switch bridge.KindOf(stepErr) {
	case bridge.KindInvalidPayload, bridge.KindRejected:
		return c.fail(ctx, rec, from, stepErr)
	case bridge.KindStaleState:
		return nil
	default:
		return c.retreat(ctx, rec, from, retreatTo, stepErr)
	}
}

// retreat returns a record to its retryable state with backoff, or fails
// it once the attempt budget is spent.
func (c *Coordinator) retreat(ctx context.Context, rec bridge.IssuanceRecord, from, to bridge.State, stepErr error) error {
	attempts := rec.AttemptCount + 1
	if attempts >= c.cfg.MaxAttempts {
		return c.fail(ctx, rec, from, fmt.Errorf("attempt budget exhausted: %w", stepErr))
	}
	delay := backoffDelay(c.cfg.BaseBackoff, c.cfg.MaxBackoff, attempts)
	err := c.store.Transition(ctx, rec.Event.ID, from, to, storage.Update{
		LastError:   stepErr.Error(),
		Bump:        true,
		NextRetryAt: c.nowFunc().Add(delay),
	})
	if errors.Is(err, bridge.ErrStaleState) {
		return nil
	}
	if err != nil {
		return err
	}
	c.log.Warn("step failed, will retry",
		"event_id", rec.Event.ID, "state", from, "attempt", attempts, "delay", delay, "error", stepErr)
	return nil
}

func (c *Coordinator) fail(ctx context.Context, rec bridge.IssuanceRecord, from bridge.State, stepErr error) error {
	err := c.store.Transition(ctx, rec.Event.ID, from, bridge.StateFailed, storage.Update{
		LastError: stepErr.Error(),
		Bump:      true,
	})
	if errors.Is(err, bridge.ErrStaleState) {
		return nil
	}
	if err != nil {
		return err
	}
	c.metrics.Failed()
	c.log.Error("issuance failed", "event_id", rec.Event.ID, "error", stepErr)
	rec.State = bridge.StateFailed
	c.notify(ctx, rec, stepErr.Error())
	return nil
}

// notify fans a terminal outcome out to the configured sinks. Sink
// problems are logged, never propagated: notification is advisory.
func (c *Coordinator) notify(ctx context.Context, rec bridge.IssuanceRecord, errMsg string) {
	if c.cfg.DryRun {
		return
	}
	payload := sink.OutcomePayload{
		EventID:   rec.Event.ID,
		State:     string(rec.State),
		Contract:  rec.Event.Contract,
		TokenID:   rec.Event.TokenID,
		Recipient: rec.Event.Recipient,
		TxHash:    rec.Event.TxHash,
		DestTxRef: rec.DestTxRef,
		Error:     errMsg,
	}
	for id, s := range c.sinks {
		if s == nil {
			continue
		}
		if err := s.Send(ctx, payload); err != nil {
			c.log.Warn("sink delivery failed", "sink", id, "event_id", rec.Event.ID, "error", err)
		}
	}
}

// advanceCursor moves the scan cursor to the last covered height, pinned
// below the oldest unresolved record so a restart always rediscovers
// whatever is still in flight. The cursor never moves backwards.
func (c *Coordinator) advanceCursor(ctx context.Context, scannedTo uint64) error {
	target := scannedTo
	oldest, ok, err := c.store.OldestNonTerminal(ctx)
	if err != nil {
		return err
	}
	if ok {
		if oldest == 0 {
			return nil
		}
		if oldest-1 < target {
			target = oldest - 1
		}
	}

	current, have, err := c.store.LoadCursor(ctx)
	if err != nil {
		return err
	}
	if have && target <= current {
		return nil
	}
	return c.store.SaveCursor(ctx, target)
}
