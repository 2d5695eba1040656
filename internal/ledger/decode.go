package ledger

import (
	"fmt"

	sdk "github.com/algorand/go-algorand-sdk/v2/types"
	"github.com/algorand/go-codec/codec"
)

// DecodeSignedTxn parses the msgpack bytes of a stored signed transaction.
// Used by tooling that inspects persisted payloads.
func DecodeSignedTxn(raw []byte) (sdk.SignedTxn, error) {
	var stx sdk.SignedTxn
	h := &codec.MsgpackHandle{}
	dec := codec.NewDecoderBytes(raw, h)
	if err := dec.Decode(&stx); err != nil {
		return sdk.SignedTxn{}, fmt.Errorf("decode signed txn: %w", err)
	}
	return stx, nil
}
