package evm

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/devblac/mintbridge/internal/bridge"
)

var (
	transferTopic       = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	transferSingleTopic = crypto.Keccak256Hash([]byte("TransferSingle(address,address,address,uint256,uint256)"))

	zeroHash    common.Hash
	zeroAddress common.Address
)

// transferSingleData decodes the non-indexed (id, value) words of an
// ERC-1155 TransferSingle log.
var transferSingleData = func() abi.Arguments {
	uint256, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{
		{Name: "id", Type: uint256},
		{Name: "value", Type: uint256},
	}
}()

// decodeMint maps a raw log to a source event. ok is false for logs that
// are not qualifying mints (fungible transfers, secondary transfers); a
// non-nil error means a qualifying log with an unusable payload.
func decodeMint(lg types.Log) (bridge.SourceEvent, bool, error) {
	if len(lg.Topics) == 0 {
		return bridge.SourceEvent{}, false, nil
	}
	switch lg.Topics[0] {
	case transferTopic:
		return decodeTransfer(lg)
	case transferSingleTopic:
		return decodeTransferSingle(lg)
	}
	return bridge.SourceEvent{}, false, nil
}

// decodeTransfer handles ERC-721 Transfer logs, where from, to, and
// tokenId are all indexed. The same signature with two indexed topics is
// an ERC-20 transfer and does not qualify.
func decodeTransfer(lg types.Log) (bridge.SourceEvent, bool, error) {
	if len(lg.Topics) == 3 {
		return bridge.SourceEvent{}, false, nil
	}
	if len(lg.Topics) != 4 {
		return bridge.SourceEvent{}, false, fmt.Errorf("transfer log with %d topics", len(lg.Topics))
	}
	if lg.Topics[1] != zeroHash {
		return bridge.SourceEvent{}, false, nil
	}

	recipient := common.BytesToAddress(lg.Topics[2].Bytes())
	if recipient == zeroAddress {
		return bridge.SourceEvent{}, false, errors.New("mint without recipient address")
	}
	tokenID := new(big.Int).SetBytes(lg.Topics[3].Bytes())

	return newEvent(lg, StandardERC721, tokenID, recipient, 1), true, nil
}

// decodeTransferSingle handles ERC-1155 TransferSingle logs: operator,
// from, and to indexed, id and value in the data section.
func decodeTransferSingle(lg types.Log) (bridge.SourceEvent, bool, error) {
	if len(lg.Topics) != 4 {
		return bridge.SourceEvent{}, false, fmt.Errorf("transfer-single log with %d topics", len(lg.Topics))
	}
	if lg.Topics[2] != zeroHash {
		return bridge.SourceEvent{}, false, nil
	}

	recipient := common.BytesToAddress(lg.Topics[3].Bytes())
	if recipient == zeroAddress {
		return bridge.SourceEvent{}, false, errors.New("mint without recipient address")
	}

	vals, err := transferSingleData.Unpack(lg.Data)
	if err != nil {
		return bridge.SourceEvent{}, false, fmt.Errorf("unpack transfer-single data: %w", err)
	}
	tokenID, ok := vals[0].(*big.Int)
	if !ok {
		return bridge.SourceEvent{}, false, errors.New("transfer-single id is not uint256")
	}
	value, ok := vals[1].(*big.Int)
	if !ok {
		return bridge.SourceEvent{}, false, errors.New("transfer-single value is not uint256")
	}
	if value.Sign() == 0 {
		return bridge.SourceEvent{}, false, errors.New("mint with zero amount")
	}

	// the ledger caps issuance totals at uint64
	amount := uint64(math.MaxUint64)
	if value.IsUint64() {
		amount = value.Uint64()
	}

	return newEvent(lg, StandardERC1155, tokenID, recipient, amount), true, nil
}

func newEvent(lg types.Log, standard string, tokenID *big.Int, recipient common.Address, amount uint64) bridge.SourceEvent {
	return bridge.SourceEvent{
		ID:        bridge.EventID(lg.BlockNumber, uint(lg.Index)),
		Height:    lg.BlockNumber,
		LogIndex:  uint(lg.Index),
		TxHash:    lg.TxHash.Hex(),
		Contract:  lg.Address.Hex(),
		TokenID:   tokenID.String(),
		Recipient: recipient.Hex(),
		Amount:    amount,
		Standard:  standard,
	}
}

// packTokenURICall builds calldata for tokenURI(uint256) or uri(uint256).
func packTokenURICall(standard string, tokenID *big.Int) ([]byte, error) {
	method := "tokenURI(uint256)"
	if standard == StandardERC1155 {
		method = "uri(uint256)"
	}
	selector := crypto.Keccak256([]byte(method))[:4]

	uint256, err := abi.NewType("uint256", "", nil)
	if err != nil {
		return nil, err
	}
	arg, err := abi.Arguments{{Type: uint256}}.Pack(tokenID)
	if err != nil {
		return nil, fmt.Errorf("pack token id: %w", err)
	}
	return append(selector, arg...), nil
}

func unpackTokenURIResult(out []byte) (string, error) {
	str, err := abi.NewType("string", "", nil)
	if err != nil {
		return "", err
	}
	vals, err := abi.Arguments{{Type: str}}.Unpack(out)
	if err != nil {
		return "", fmt.Errorf("unpack token uri: %w", err)
	}
	uri, ok := vals[0].(string)
	if !ok {
		return "", errors.New("token uri is not a string")
	}
	return uri, nil
}
