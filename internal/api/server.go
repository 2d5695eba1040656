package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/devblac/mintbridge/internal/bridge"
	"github.com/devblac/mintbridge/internal/storage"
)

// Deps holds everything the HTTP facade reads from. All fields are
// optional except Store; nil checks degrade the matching endpoint.
type Deps struct {
	Store      *storage.Store
	RPCPing    func(ctx context.Context) error
	LedgerPing func(ctx context.Context) error
	Trigger    func()
	Metrics    http.Handler
	Version    string
	Commit     string
}

// recordView is the JSON shape served for issuance records. Built
// transaction bytes stay out of responses; only their size is reported.
type recordView struct {
	EventID      string    `json:"event_id"`
	Height       uint64    `json:"height"`
	LogIndex     uint      `json:"log_index"`
	TxHash       string    `json:"tx_hash"`
	Contract     string    `json:"contract"`
	TokenID      string    `json:"token_id"`
	Recipient    string    `json:"recipient"`
	MetadataURI  string    `json:"metadata_uri,omitempty"`
	Amount       uint64    `json:"amount"`
	Standard     string    `json:"standard"`
	State        string    `json:"state"`
	BuiltTxnSize int       `json:"built_txn_size,omitempty"`
	DestTxRef    string    `json:"dest_tx_ref,omitempty"`
	AttemptCount int       `json:"attempt_count"`
	LastError    string    `json:"last_error,omitempty"`
	NextRetryAt  time.Time `json:"next_retry_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toView(rec bridge.IssuanceRecord) recordView {
	return recordView{
		EventID:      rec.Event.ID,
		Height:       rec.Event.Height,
		LogIndex:     rec.Event.LogIndex,
		TxHash:       rec.Event.TxHash,
		Contract:     rec.Event.Contract,
		TokenID:      rec.Event.TokenID,
		Recipient:    rec.Event.Recipient,
		MetadataURI:  rec.Event.MetadataURI,
		Amount:       rec.Event.Amount,
		Standard:     rec.Event.Standard,
		State:        string(rec.State),
		BuiltTxnSize: len(rec.BuiltTxn),
		DestTxRef:    rec.DestTxRef,
		AttemptCount: rec.AttemptCount,
		LastError:    rec.LastError,
		NextRetryAt:  rec.NextRetryAt,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
}

// Handler builds the facade routes.
func Handler(deps Deps) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", healthz(deps))
	mux.HandleFunc("GET /version", version(deps))
	mux.HandleFunc("GET /status/{id}", status(deps))
	mux.HandleFunc("GET /records", records(deps))
	mux.HandleFunc("POST /trigger", trigger(deps))
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics)
	}
	return mux
}

// Serve starts the facade server.
func Serve(addr string, deps Deps) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(deps),
		ReadHeaderTimeout: 3 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

// Shutdown gracefully shuts down the facade server.
func Shutdown(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}

func healthz(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := map[string]string{"status": "ok"}
		code := http.StatusOK

		check := func(name string, ping func(ctx context.Context) error) {
			if ping == nil {
				return
			}
			if err := ping(ctx); err != nil {
				status[name] = "fail"
				code = http.StatusServiceUnavailable
			} else {
				status[name] = "ok"
			}
		}
		if deps.Store != nil {
			check("db", deps.Store.Ping)
		}
		check("rpc", deps.RPCPing)
		check("ledger", deps.LedgerPing)

		writeJSON(w, code, status)
	}
}

func version(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version": deps.Version,
			"commit":  deps.Commit,
		})
	}
}

func status(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		rec, ok, err := deps.Store.Get(r.Context(), id)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown event id"})
			return
		}
		writeJSON(w, http.StatusOK, toView(rec))
	}
}

func records(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			recs []bridge.IssuanceRecord
			err  error
		)
		if q := r.URL.Query().Get("state"); q != "" {
			state := bridge.State(q)
			if !state.Valid() {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown state"})
				return
			}
			recs, err = deps.Store.ListByState(r.Context(), state)
		} else {
			recs, err = listAll(r.Context(), deps.Store)
		}
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}

		views := make([]recordView, 0, len(recs))
		for _, rec := range recs {
			views = append(views, toView(rec))
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func listAll(ctx context.Context, store *storage.Store) ([]bridge.IssuanceRecord, error) {
	out := []bridge.IssuanceRecord{}
	for _, state := range []bridge.State{
		bridge.StateDiscovered, bridge.StateBuilding, bridge.StateBuilt,
		bridge.StateSubmitting, bridge.StateSubmitted, bridge.StateConfirmed, bridge.StateFailed,
	} {
		recs, err := store.ListByState(ctx, state)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

func trigger(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Trigger == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "engine not running"})
			return
		}
		deps.Trigger()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
