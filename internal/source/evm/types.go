package evm

// Token standards recognized by the decoder.
const (
	StandardERC721  = "erc721"
	StandardERC1155 = "erc1155"
)

// DecodeFailure is a qualifying log whose payload could not be mapped to a
// valid source event. The event identity is still known, so the failure
// can be recorded without aborting the poll.
type DecodeFailure struct {
	ID       string
	Height   uint64
	LogIndex uint
	TxHash   string
	Err      error
}
