package ledger

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/common"
	"github.com/algorand/go-algorand-sdk/v2/client/v2/common/models"
	sdk "github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/devblac/mintbridge/internal/bridge"
)

// Well-known throwaway account used across Algorand SDK examples.
const testMnemonic = "advice pudding treat near rule blouse same whisper inner electric quit surface sunny dismiss leader blood seat clown cost exist hospital century reform able sponsor"

type fakeAlgod struct {
	params     sdk.SuggestedParams
	paramsErr  error
	sendID     string
	sendErr    error
	pending    models.PendingTransactionInfoResponse
	pendingErr error
	statusErr  error
	sentRaw    [][]byte
}

type fakeParams struct{ f *fakeAlgod }

func (p fakeParams) Do(_ context.Context, _ ...*common.Header) (sdk.SuggestedParams, error) {
	return p.f.params, p.f.paramsErr
}

type fakeSend struct {
	f   *fakeAlgod
	raw []byte
}

func (s fakeSend) Do(_ context.Context, _ ...*common.Header) (string, error) {
	if s.f.sendErr != nil {
		return "", s.f.sendErr
	}
	s.f.sentRaw = append(s.f.sentRaw, s.raw)
	return s.f.sendID, nil
}

type fakePending struct{ f *fakeAlgod }

func (p fakePending) Do(_ context.Context, _ ...*common.Header) (models.PendingTransactionInfoResponse, sdk.SignedTxn, error) {
	return p.f.pending, sdk.SignedTxn{}, p.f.pendingErr
}

type fakeStatus struct{ f *fakeAlgod }

func (s fakeStatus) Do(_ context.Context, _ ...*common.Header) (models.NodeStatus, error) {
	return models.NodeStatus{LastRound: 100}, s.f.statusErr
}

func (f *fakeAlgod) SuggestedParams() paramsGetter { return fakeParams{f} }
func (f *fakeAlgod) SendRawTransaction(stx []byte) rawSender {
	return fakeSend{f: f, raw: stx}
}
func (f *fakeAlgod) PendingTransactionInformation(string) pendingGetter { return fakePending{f} }
func (f *fakeAlgod) Status() statusGetter                               { return fakeStatus{f} }

func testParams() sdk.SuggestedParams {
	return sdk.SuggestedParams{
		Fee:             1000,
		FlatFee:         true,
		GenesisID:       "testnet-v1.0",
		GenesisHash:     bytes.Repeat([]byte{1}, 32),
		FirstRoundValid: 1000,
		LastRoundValid:  2000,
		MinFee:          1000,
	}
}

func testEvent() bridge.SourceEvent {
	return bridge.SourceEvent{
		ID:          "100-2",
		Height:      100,
		LogIndex:    2,
		TxHash:      "0xfeed",
		Contract:    "0x1111111111111111111111111111111111111111",
		TokenID:     "7",
		Recipient:   "0x00000000000000000000000000000000000aBC12",
		MetadataURI: "ipfs://meta/7",
		Amount:      1,
		Standard:    "erc721",
	}
}

func newTestBuilder(t *testing.T, client Client) *Builder {
	t.Helper()
	b, err := NewBuilder(client, testMnemonic)
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}
	return b
}

func TestBuildIsDeterministic(t *testing.T) {
	fake := &fakeAlgod{params: testParams()}
	b := newTestBuilder(t, fake)

	first, err := b.Build(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	second, err := b.Build(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if first.TxID != second.TxID || !bytes.Equal(first.Raw, second.Raw) {
		t.Fatalf("same event and params must produce identical transactions")
	}
	if first.TxID == "" || len(first.Raw) == 0 {
		t.Fatalf("empty built transaction: %+v", first)
	}
}

func TestBuildEmbedsEventIdentity(t *testing.T) {
	fake := &fakeAlgod{params: testParams()}
	b := newTestBuilder(t, fake)
	ev := testEvent()

	built, err := b.Build(context.Background(), ev)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	stx, err := DecodeSignedTxn(built.Raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stx.Txn.Type != sdk.AssetConfigTx {
		t.Fatalf("txn type = %q", stx.Txn.Type)
	}
	if stx.Txn.AssetParams.Total != ev.Amount {
		t.Fatalf("total = %d, want %d", stx.Txn.AssetParams.Total, ev.Amount)
	}
	code := AssetCode(ev)
	if !bytes.Equal(stx.Txn.AssetParams.MetadataHash[:], code[:]) {
		t.Fatalf("metadata hash does not match derived asset code")
	}
	if !bytes.Contains(stx.Txn.Note, []byte(ev.ID)) {
		t.Fatalf("note does not carry the event id: %s", stx.Txn.Note)
	}
}

func TestAssetCodeDistinguishesEvents(t *testing.T) {
	a := testEvent()
	b := testEvent()
	b.ID = "100-3"
	b.LogIndex = 3
	if AssetCode(a) == AssetCode(b) {
		t.Fatalf("distinct events must derive distinct asset codes")
	}
	if AssetCode(a) != AssetCode(testEvent()) {
		t.Fatalf("asset code must be stable for the same event")
	}
}

func TestBuildRejectsBadEvent(t *testing.T) {
	fake := &fakeAlgod{params: testParams()}
	b := newTestBuilder(t, fake)

	ev := testEvent()
	ev.Amount = 0
	_, err := b.Build(context.Background(), ev)
	if err == nil || bridge.KindOf(err) != bridge.KindInvalidPayload {
		t.Fatalf("expected invalid payload, got %v", err)
	}

	ev = testEvent()
	ev.Recipient = ""
	_, err = b.Build(context.Background(), ev)
	if err == nil || bridge.KindOf(err) != bridge.KindInvalidPayload {
		t.Fatalf("expected invalid payload, got %v", err)
	}
}

func TestBuildParamsFailureIsRetryable(t *testing.T) {
	fake := &fakeAlgod{paramsErr: errors.New("connection refused")}
	b := newTestBuilder(t, fake)

	_, err := b.Build(context.Background(), testEvent())
	if err == nil || !bridge.IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

func TestBuildTruncatesLongMetadata(t *testing.T) {
	fake := &fakeAlgod{params: testParams()}
	b := newTestBuilder(t, fake)

	ev := testEvent()
	for len(ev.MetadataURI) <= maxAssetURL {
		ev.MetadataURI += "/segment"
	}
	built, err := b.Build(context.Background(), ev)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	stx, err := DecodeSignedTxn(built.Raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(stx.Txn.AssetParams.URL) != maxAssetURL {
		t.Fatalf("url not truncated: %d bytes", len(stx.Txn.AssetParams.URL))
	}
}
