package watcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrBlockNotFound is returned when the node does not have the requested block yet.
var ErrBlockNotFound = errors.New("block not found")

// Block is a block with only the transaction fields the watcher needs.
// Decoding these fields alone accepts every transaction type the node
// returns, including Optimism deposit transactions.
type Block struct {
	Number       hexutil.Uint64   `json:"number"`
	Transactions []RPCTransaction `json:"transactions"`
}

type RPCTransaction struct {
	Hash  common.Hash     `json:"hash"`
	To    *common.Address `json:"to"`
	Input hexutil.Bytes   `json:"input"`
}

// RPCClient is the subset of *rpc.Client used by RPCReader.
type RPCClient interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// RPCReader reads blocks through raw JSON-RPC calls.
type RPCReader struct {
	client RPCClient
}

func NewRPCReader(client RPCClient) *RPCReader {
	return &RPCReader{client: client}
}

func (r *RPCReader) BlockNumber(ctx context.Context) (uint64, error) {
	var n hexutil.Uint64
	if err := r.client.CallContext(ctx, &n, "eth_blockNumber"); err != nil {
		return 0, err
	}
	return uint64(n), nil
}

func (r *RPCReader) BlockByNumber(ctx context.Context, number uint64) (*Block, error) {
	var block *Block
	if err := r.client.CallContext(ctx, &block, "eth_getBlockByNumber", hexutil.EncodeUint64(number), true); err != nil {
		return nil, err
	}
	if block == nil {
		return nil, fmt.Errorf("%w: %d", ErrBlockNotFound, number)
	}
	return block, nil
}
