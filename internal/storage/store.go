package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/devblac/mintbridge/internal/bridge"
)

// Store wraps SQLite-backed persistence for the issuance records and the
// watcher cursor. The database lives under the configured data directory.
type Store struct {
	db *sql.DB
}

// Open creates the data directory if needed, initializes the database, and
// runs schema setup. Writes are flushed durably before calls return.
func Open(dirPath string) (*Store, error) {
	if dirPath == "" {
		return nil, errors.New("dir path required")
	}
	if err := os.MkdirAll(dirPath, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dirPath, "mintbridge.db"))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := configure(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	return s.db.PingContext(ctx)
}

func configure(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = FULL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	return nil
}

func migrate(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	schema := `
CREATE TABLE IF NOT EXISTS cursor (
  id          INTEGER PRIMARY KEY CHECK (id = 1),
  height      INTEGER NOT NULL,
  updated_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS issuances (
  event_id      TEXT PRIMARY KEY,
  height        INTEGER NOT NULL,
  log_index     INTEGER NOT NULL,
  tx_hash       TEXT NOT NULL DEFAULT '',
  contract      TEXT NOT NULL DEFAULT '',
  token_id      TEXT NOT NULL DEFAULT '',
  recipient     TEXT NOT NULL DEFAULT '',
  metadata_uri  TEXT NOT NULL DEFAULT '',
  amount        INTEGER NOT NULL DEFAULT 1,
  standard      TEXT NOT NULL DEFAULT 'erc721',
  state         TEXT NOT NULL,
  built_txn     BLOB,
  dest_tx_ref   TEXT NOT NULL DEFAULT '',
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error    TEXT NOT NULL DEFAULT '',
  next_retry_at TIMESTAMP,
  created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_issuances_state ON issuances(state);
CREATE INDEX IF NOT EXISTS idx_issuances_height ON issuances(height, log_index);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// LoadCursor returns the persisted cursor height; ok is false when no
// cursor has been saved yet.
func (s *Store) LoadCursor(ctx context.Context) (height uint64, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT height FROM cursor WHERE id = 1;`)
	switch err = row.Scan(&height); err {
	case nil:
		return height, true, nil
	case sql.ErrNoRows:
		return 0, false, nil
	default:
		return 0, false, fmt.Errorf("load cursor: %w", err)
	}
}

// SaveCursor atomically replaces the cursor row.
func (s *Store) SaveCursor(ctx context.Context, height uint64) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO cursor (id, height, updated_at)
VALUES (1, ?, CURRENT_TIMESTAMP)
ON CONFLICT(id) DO UPDATE SET
  height=excluded.height,
  updated_at=CURRENT_TIMESTAMP;
`, height)
	if err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

// GetOrCreate records ev if unseen and returns the stored record. The
// primary key on event_id makes re-observation a no-op; created reports
// whether a new record was inserted.
func (s *Store) GetOrCreate(ctx context.Context, ev bridge.SourceEvent) (bridge.IssuanceRecord, bool, error) {
	if ev.ID == "" {
		return bridge.IssuanceRecord{}, false, errors.New("event id required")
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO issuances (event_id, height, log_index, tx_hash, contract, token_id,
                       recipient, metadata_uri, amount, standard, state)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(event_id) DO NOTHING;
`, ev.ID, ev.Height, ev.LogIndex, ev.TxHash, ev.Contract, ev.TokenID,
		ev.Recipient, ev.MetadataURI, ev.Amount, ev.Standard, string(bridge.StateDiscovered))
	if err != nil {
		return bridge.IssuanceRecord{}, false, fmt.Errorf("insert issuance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return bridge.IssuanceRecord{}, false, fmt.Errorf("insert issuance: %w", err)
	}

	rec, ok, err := s.Get(ctx, ev.ID)
	if err != nil {
		return bridge.IssuanceRecord{}, false, err
	}
	if !ok {
		return bridge.IssuanceRecord{}, false, fmt.Errorf("issuance %s vanished after insert", ev.ID)
	}
	return rec, n > 0, nil
}

// Get returns the record for an event id.
func (s *Store) Get(ctx context.Context, eventID string) (bridge.IssuanceRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+`WHERE event_id = ?;`, eventID)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return bridge.IssuanceRecord{}, false, nil
	}
	if err != nil {
		return bridge.IssuanceRecord{}, false, fmt.Errorf("get issuance: %w", err)
	}
	return rec, true, nil
}

// Update carries the optional payload written alongside a transition.
type Update struct {
	BuiltTxn    []byte    // retained when nil
	DestTxRef   string    // retained when empty
	LastError   string    // always written
	Bump        bool      // increments attempt_count
	NextRetryAt time.Time // cleared when zero
}

// Transition moves a record from the expected state to a new one. It is
// the optimistic lock for the whole pipeline: when the stored state does
// not match from, nothing is written and bridge.ErrStaleState is returned.
func (s *Store) Transition(ctx context.Context, eventID string, from, to bridge.State, upd Update) error {
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("invalid transition %s -> %s", from, to)
	}
	bump := 0
	if upd.Bump {
		bump = 1
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE issuances SET
  state = ?,
  built_txn = COALESCE(?, built_txn),
  dest_tx_ref = CASE WHEN ? = '' THEN dest_tx_ref ELSE ? END,
  last_error = ?,
  attempt_count = attempt_count + ?,
  next_retry_at = ?,
  updated_at = CURRENT_TIMESTAMP
WHERE event_id = ? AND state = ?;
`, string(to), upd.BuiltTxn, upd.DestTxRef, upd.DestTxRef, upd.LastError,
		bump, nullTime(upd.NextRetryAt), eventID, string(from))
	if err != nil {
		return fmt.Errorf("transition %s: %w", eventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition %s: %w", eventID, err)
	}
	if n == 0 {
		return bridge.ErrStaleState
	}
	return nil
}

// ListByState returns all records in the given state, in event order.
func (s *Store) ListByState(ctx context.Context, state bridge.State) ([]bridge.IssuanceRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+`
WHERE state = ? ORDER BY height, log_index;`, string(state))
	if err != nil {
		return nil, fmt.Errorf("list by state: %w", err)
	}
	return collectRecords(rows)
}

// ListRunnable returns non-terminal records whose retry backoff has
// elapsed, in event order. Records claimed mid-flight (building or
// submitting) are excluded; startup recovery resets those.
func (s *Store) ListRunnable(ctx context.Context, now time.Time) ([]bridge.IssuanceRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+`
WHERE state IN (?, ?, ?)
  AND (next_retry_at IS NULL OR next_retry_at <= ?)
ORDER BY height, log_index;`,
		string(bridge.StateDiscovered), string(bridge.StateBuilt), string(bridge.StateSubmitted),
		now.UTC())
	if err != nil {
		return nil, fmt.Errorf("list runnable: %w", err)
	}
	return collectRecords(rows)
}

// OldestNonTerminal returns the lowest block height with an unresolved
// record; ok is false when every record is terminal.
func (s *Store) OldestNonTerminal(ctx context.Context) (uint64, bool, error) {
	var height sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
SELECT MIN(height) FROM issuances WHERE state NOT IN (?, ?);`,
		string(bridge.StateConfirmed), string(bridge.StateFailed)).Scan(&height)
	if err != nil {
		return 0, false, fmt.Errorf("oldest non-terminal: %w", err)
	}
	if !height.Valid {
		return 0, false, nil
	}
	return uint64(height.Int64), true, nil
}

// RecoverInFlight resets records abandoned mid-claim by a crash. A record
// in building never produced bytes that left the process, so it returns to
// discovered; a record in submitting keeps its payload and returns to
// built, where resubmission of the identical bytes is safe.
func (s *Store) RecoverInFlight(ctx context.Context) (int, error) {
	total := 0
	steps := []struct{ from, to bridge.State }{
		{bridge.StateBuilding, bridge.StateDiscovered},
		{bridge.StateSubmitting, bridge.StateBuilt},
	}
	for _, st := range steps {
		res, err := s.db.ExecContext(ctx, `
UPDATE issuances SET state = ?, updated_at = CURRENT_TIMESTAMP WHERE state = ?;`,
			string(st.to), string(st.from))
		if err != nil {
			return total, fmt.Errorf("recover %s: %w", st.from, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("recover %s: %w", st.from, err)
		}
		total += int(n)
	}
	return total, nil
}

// CountByState returns record counts grouped by state.
func (s *Store) CountByState(ctx context.Context) (map[bridge.State]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM issuances GROUP BY state;`)
	if err != nil {
		return nil, fmt.Errorf("count by state: %w", err)
	}
	defer rows.Close()

	counts := map[bridge.State]int{}
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("count by state: %w", err)
		}
		counts[bridge.State(state)] = n
	}
	return counts, rows.Err()
}

// WithTx executes a callback inside a transaction for callers needing atomicity.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const selectColumns = `
SELECT event_id, height, log_index, tx_hash, contract, token_id, recipient,
       metadata_uri, amount, standard, state, built_txn, dest_tx_ref,
       attempt_count, last_error, next_retry_at, created_at, updated_at
FROM issuances `

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (bridge.IssuanceRecord, error) {
	var rec bridge.IssuanceRecord
	var state string
	var nextRetry sql.NullTime
	err := row.Scan(
		&rec.Event.ID, &rec.Event.Height, &rec.Event.LogIndex, &rec.Event.TxHash,
		&rec.Event.Contract, &rec.Event.TokenID, &rec.Event.Recipient,
		&rec.Event.MetadataURI, &rec.Event.Amount, &rec.Event.Standard,
		&state, &rec.BuiltTxn, &rec.DestTxRef,
		&rec.AttemptCount, &rec.LastError, &nextRetry, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return bridge.IssuanceRecord{}, err
	}
	rec.State = bridge.State(state)
	if nextRetry.Valid {
		rec.NextRetryAt = nextRetry.Time
	}
	return rec, nil
}

func collectRecords(rows *sql.Rows) ([]bridge.IssuanceRecord, error) {
	defer rows.Close()
	out := []bridge.IssuanceRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issuance: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
