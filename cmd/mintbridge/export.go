package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/devblac/mintbridge/internal/bridge"
	"github.com/devblac/mintbridge/internal/config"
	"github.com/devblac/mintbridge/internal/ledger"
	"github.com/devblac/mintbridge/internal/storage"
)

var (
	flagExportState  string
	flagExportDecode bool
)

func init() {
	exportCmd.Flags().StringVar(&flagExportState, "state", "", "Only export records in this state")
	exportCmd.Flags().BoolVar(&flagExportDecode, "decode", false, "Decode stored transaction payloads")
}

type exportRecord struct {
	EventID      string     `json:"event_id"`
	Height       uint64     `json:"height"`
	LogIndex     uint       `json:"log_index"`
	TxHash       string     `json:"tx_hash"`
	Contract     string     `json:"contract"`
	TokenID      string     `json:"token_id"`
	Recipient    string     `json:"recipient"`
	Amount       uint64     `json:"amount"`
	Standard     string     `json:"standard"`
	State        string     `json:"state"`
	DestTxRef    string     `json:"dest_tx_ref,omitempty"`
	AttemptCount int        `json:"attempt_count"`
	LastError    string     `json:"last_error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	BuiltTxn     string     `json:"built_txn,omitempty"`
	Decoded      *decodedTx `json:"decoded,omitempty"`
}

type decodedTx struct {
	Sender     string `json:"sender"`
	Type       string `json:"type"`
	FirstValid uint64 `json:"first_valid"`
	LastValid  uint64 `json:"last_valid"`
	AssetName  string `json:"asset_name,omitempty"`
	UnitName   string `json:"unit_name,omitempty"`
	Total      uint64 `json:"total,omitempty"`
	Note       string `json:"note,omitempty"`
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export issuance records as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		store, err := storage.Open(cfg.Store.DirPath)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		states := []bridge.State{
			bridge.StateDiscovered, bridge.StateBuilding, bridge.StateBuilt,
			bridge.StateSubmitting, bridge.StateSubmitted, bridge.StateConfirmed, bridge.StateFailed,
		}
		if flagExportState != "" {
			state := bridge.State(flagExportState)
			if !state.Valid() {
				return fmt.Errorf("unknown state %q", flagExportState)
			}
			states = []bridge.State{state}
		}

		out := []exportRecord{}
		for _, state := range states {
			recs, err := store.ListByState(ctx, state)
			if err != nil {
				return err
			}
			for _, rec := range recs {
				out = append(out, toExportRecord(rec))
			}
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func toExportRecord(rec bridge.IssuanceRecord) exportRecord {
	er := exportRecord{
		EventID:      rec.Event.ID,
		Height:       rec.Event.Height,
		LogIndex:     rec.Event.LogIndex,
		TxHash:       rec.Event.TxHash,
		Contract:     rec.Event.Contract,
		TokenID:      rec.Event.TokenID,
		Recipient:    rec.Event.Recipient,
		Amount:       rec.Event.Amount,
		Standard:     rec.Event.Standard,
		State:        string(rec.State),
		DestTxRef:    rec.DestTxRef,
		AttemptCount: rec.AttemptCount,
		LastError:    rec.LastError,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
	if len(rec.BuiltTxn) == 0 {
		return er
	}
	er.BuiltTxn = base64.StdEncoding.EncodeToString(rec.BuiltTxn)
	if !flagExportDecode {
		return er
	}
	stx, err := ledger.DecodeSignedTxn(rec.BuiltTxn)
	if err != nil {
		return er
	}
	er.Decoded = &decodedTx{
		Sender:     stx.Txn.Sender.String(),
		Type:       string(stx.Txn.Type),
		FirstValid: uint64(stx.Txn.FirstValid),
		LastValid:  uint64(stx.Txn.LastValid),
		AssetName:  stx.Txn.AssetParams.AssetName,
		UnitName:   stx.Txn.AssetParams.UnitName,
		Total:      stx.Txn.AssetParams.Total,
		Note:       string(stx.Txn.Note),
	}
	return er
}
