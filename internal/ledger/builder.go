package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/algorand/go-algorand-sdk/v2/crypto"
	"github.com/algorand/go-algorand-sdk/v2/mnemonic"
	"github.com/algorand/go-algorand-sdk/v2/transaction"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/devblac/mintbridge/internal/bridge"
)

const (
	unitName     = "BNFT"
	maxAssetName = 32
	maxAssetURL  = 96
)

// BuiltTxn is a signed, submission-ready asset creation transaction.
type BuiltTxn struct {
	TxID string
	Raw  []byte
}

// Builder turns source mint events into signed asset creation
// transactions for the issuing account.
type Builder struct {
	client  Client
	account crypto.Account
}

// NewBuilder derives the issuing account from its mnemonic.
func NewBuilder(client Client, mnemonicPhrase string) (*Builder, error) {
	key, err := mnemonic.ToPrivateKey(mnemonicPhrase)
	if err != nil {
		return nil, fmt.Errorf("parse issuer mnemonic: %w", err)
	}
	account, err := crypto.AccountFromPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("derive issuer account: %w", err)
	}
	return &Builder{client: client, account: account}, nil
}

// Address returns the issuing account's address.
func (b *Builder) Address() string {
	return b.account.Address.String()
}

// AssetCode derives the 32-byte asset identity commitment for an event.
// Every field that makes the source mint unique feeds the digest, so the
// same event always maps to the same asset metadata and two distinct
// events never collide.
func AssetCode(ev bridge.SourceEvent) [32]byte {
	digest := ethcrypto.Keccak256(
		[]byte(ev.Contract),
		[]byte(ev.Recipient),
		[]byte(ev.TokenID),
		[]byte(ev.ID),
	)
	var code [32]byte
	copy(code[:], digest)
	return code
}

// assetNote is embedded in the transaction note field so the issued
// asset can be traced back to its source mint without external state.
type assetNote struct {
	EventID   string `json:"event_id"`
	Contract  string `json:"contract"`
	TokenID   string `json:"token_id"`
	Recipient string `json:"recipient"`
	TxHash    string `json:"tx_hash"`
	Standard  string `json:"standard"`
}

// Build signs an asset creation transaction for one mint event. Only the
// suggested params fetch talks to the network; everything else is local
// and deterministic given those params.
func (b *Builder) Build(ctx context.Context, ev bridge.SourceEvent) (BuiltTxn, error) {
	if err := validateEvent(ev); err != nil {
		return BuiltTxn{}, bridge.InvalidPayload(err)
	}

	sp, err := b.client.SuggestedParams().Do(ctx)
	if err != nil {
		return BuiltTxn{}, bridge.Retryable(fmt.Errorf("suggested params: %w", err))
	}

	note, err := json.Marshal(assetNote{
		EventID:   ev.ID,
		Contract:  ev.Contract,
		TokenID:   ev.TokenID,
		Recipient: ev.Recipient,
		TxHash:    ev.TxHash,
		Standard:  ev.Standard,
	})
	if err != nil {
		return BuiltTxn{}, bridge.InvalidPayload(fmt.Errorf("marshal asset note: %w", err))
	}

	code := AssetCode(ev)
	addr := b.account.Address.String()
	txn, err := transaction.MakeAssetCreateTxn(
		addr, note, sp,
		ev.Amount, 0, false,
		addr, "", "", "",
		unitName, assetName(ev), assetURL(ev), string(code[:]),
	)
	if err != nil {
		return BuiltTxn{}, bridge.InvalidPayload(fmt.Errorf("make asset create txn: %w", err))
	}

	txid, raw, err := crypto.SignTransaction(b.account.PrivateKey, txn)
	if err != nil {
		return BuiltTxn{}, fmt.Errorf("sign asset create txn: %w", err)
	}
	return BuiltTxn{TxID: txid, Raw: raw}, nil
}

func validateEvent(ev bridge.SourceEvent) error {
	switch {
	case ev.ID == "":
		return errors.New("event has no id")
	case ev.Contract == "":
		return errors.New("event has no contract address")
	case ev.Recipient == "":
		return errors.New("event has no recipient")
	case ev.TokenID == "":
		return errors.New("event has no token id")
	case ev.Amount == 0:
		return errors.New("event has zero amount")
	}
	return nil
}

func assetName(ev bridge.SourceEvent) string {
	name := "bridged #" + ev.TokenID
	if len(name) > maxAssetName {
		name = name[:maxAssetName]
	}
	return name
}

func assetURL(ev bridge.SourceEvent) string {
	url := ev.MetadataURI
	if len(url) > maxAssetURL {
		url = url[:maxAssetURL]
	}
	return url
}
