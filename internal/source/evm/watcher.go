package evm

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/devblac/mintbridge/internal/bridge"
)

// LogClient captures the subset of ethclient used by the watcher.
type LogClient interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// RPCClient is a thin wrapper over ethclient.Client that satisfies LogClient.
type RPCClient struct {
	*ethclient.Client
}

// NewRPCClient builds an RPC client to an EVM node.
func NewRPCClient(rpcURL string) (*RPCClient, error) {
	c, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial evm rpc: %w", err)
	}
	return &RPCClient{Client: c}, nil
}

// Watcher polls the configured contract for new qualifying mint events.
type Watcher struct {
	client        LogClient
	contract      common.Address
	confirmations uint64
	maxRange      uint64
	startBlock    string
}

// NewWatcher builds a watcher for one contract address.
func NewWatcher(client LogClient, contractAddress string, confirmations, maxRange uint64, startBlock string) (*Watcher, error) {
	if !common.IsHexAddress(contractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", contractAddress)
	}
	if maxRange == 0 {
		maxRange = 500
	}
	return &Watcher{
		client:        client,
		contract:      common.HexToAddress(contractAddress),
		confirmations: confirmations,
		maxRange:      maxRange,
		startBlock:    startBlock,
	}, nil
}

// StartHeight resolves the genesis scan height when the store holds no cursor.
func (w *Watcher) StartHeight(ctx context.Context) (uint64, error) {
	safe, err := w.safeHead(ctx)
	if err != nil {
		return 0, err
	}
	return resolveStartHeight(w.startBlock, safe)
}

// Poll scans [from, head] for mint events, capped by the confirmation
// offset and the configured range, and returns events ascending by block
// height and log index. Per-log decode problems come back as failures so
// one malformed entry never aborts the whole poll. scannedTo is the last
// height covered; it equals from-1 when the window is empty.
func (w *Watcher) Poll(ctx context.Context, from uint64) ([]bridge.SourceEvent, []DecodeFailure, uint64, error) {
	safe, err := w.safeHead(ctx)
	if err != nil {
		return nil, nil, 0, err
	}
	if from > safe {
		return nil, nil, from - 1, nil
	}
	to := safe
	if to-from+1 > w.maxRange {
		to = from + w.maxRange - 1
	}

	logs, err := w.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{w.contract},
		Topics:    [][]common.Hash{{transferTopic, transferSingleTopic}},
	})
	if err != nil {
		return nil, nil, 0, bridge.Retryable(fmt.Errorf("filter logs [%d,%d]: %w", from, to, err))
	}

	events := []bridge.SourceEvent{}
	failures := []DecodeFailure{}
	for _, lg := range logs {
		ev, ok, err := decodeMint(lg)
		if err != nil {
			failures = append(failures, DecodeFailure{
				ID:       bridge.EventID(lg.BlockNumber, uint(lg.Index)),
				Height:   lg.BlockNumber,
				LogIndex: uint(lg.Index),
				TxHash:   lg.TxHash.Hex(),
				Err:      err,
			})
			continue
		}
		if !ok {
			continue
		}
		ev.MetadataURI = w.tokenURI(ctx, ev.Standard, ev.TokenID)
		events = append(events, ev)
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].Height != events[j].Height {
			return events[i].Height < events[j].Height
		}
		return events[i].LogIndex < events[j].LogIndex
	})

	return events, failures, to, nil
}

func (w *Watcher) safeHead(ctx context.Context) (uint64, error) {
	latest, err := w.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, bridge.Retryable(fmt.Errorf("latest header: %w", err))
	}
	head := latest.Number.Uint64()
	if w.confirmations > head {
		return 0, nil
	}
	return head - w.confirmations, nil
}

// tokenURI fetches the token's metadata URI via eth_call, best-effort: a
// failed lookup leaves the URI empty rather than failing the event.
func (w *Watcher) tokenURI(ctx context.Context, standard, tokenID string) string {
	id, ok := new(big.Int).SetString(tokenID, 10)
	if !ok {
		return ""
	}
	data, err := packTokenURICall(standard, id)
	if err != nil {
		return ""
	}
	out, err := w.client.CallContract(ctx, ethereum.CallMsg{To: &w.contract, Data: data}, nil)
	if err != nil {
		return ""
	}
	uri, err := unpackTokenURIResult(out)
	if err != nil {
		return ""
	}
	return uri
}

func resolveStartHeight(start string, safeHeight uint64) (uint64, error) {
	if start == "" || start == "0" {
		return 0, nil
	}
	if strings.HasPrefix(start, "latest-") {
		offsetStr := strings.TrimPrefix(start, "latest-")
		n, err := strconv.ParseUint(offsetStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse start_block %q: %w", start, err)
		}
		if n > safeHeight {
			return 0, nil
		}
		return safeHeight - n, nil
	}

	n, err := strconv.ParseUint(start, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse start_block %q: %w", start, err)
	}
	return n, nil
}
