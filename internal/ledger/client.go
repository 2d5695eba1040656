package ledger

import (
	"context"
	"fmt"

	"github.com/algorand/go-algorand-sdk/v2/client/v2/algod"
	"github.com/algorand/go-algorand-sdk/v2/client/v2/common"
	"github.com/algorand/go-algorand-sdk/v2/client/v2/common/models"
	sdk "github.com/algorand/go-algorand-sdk/v2/types"
)

// paramsGetter models the algod SuggestedParams() fluent call.
type paramsGetter interface {
	Do(ctx context.Context, headers ...*common.Header) (sdk.SuggestedParams, error)
}

// rawSender models the algod SendRawTransaction() fluent call.
type rawSender interface {
	Do(ctx context.Context, headers ...*common.Header) (string, error)
}

// pendingGetter models the algod PendingTransactionInformation() fluent call.
type pendingGetter interface {
	Do(ctx context.Context, headers ...*common.Header) (models.PendingTransactionInfoResponse, sdk.SignedTxn, error)
}

// statusGetter models the algod Status() fluent call.
type statusGetter interface {
	Do(ctx context.Context, headers ...*common.Header) (models.NodeStatus, error)
}

// Client is the minimal subset of the algod client the relayer needs.
type Client interface {
	SuggestedParams() paramsGetter
	SendRawTransaction(stx []byte) rawSender
	PendingTransactionInformation(txid string) pendingGetter
	Status() statusGetter
}

// NewClient constructs a real algod client.
func NewClient(url, token string) (Client, error) {
	cli, err := algod.MakeClient(url, token)
	if err != nil {
		return nil, fmt.Errorf("make algod client: %w", err)
	}
	return &clientAdapter{c: cli}, nil
}

type clientAdapter struct {
	c *algod.Client
}

func (a *clientAdapter) SuggestedParams() paramsGetter { return a.c.SuggestedParams() }
func (a *clientAdapter) SendRawTransaction(stx []byte) rawSender {
	return a.c.SendRawTransaction(stx)
}
func (a *clientAdapter) PendingTransactionInformation(txid string) pendingGetter {
	return a.c.PendingTransactionInformation(txid)
}
func (a *clientAdapter) Status() statusGetter { return a.c.Status() }
