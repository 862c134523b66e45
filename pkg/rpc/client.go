package rpc

import (
	"context"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// EthSource is the network request queue consumed by the historical sync
// service. Implementations perform their own rate limiting and
// transport-level retries; errors that surface here are treated as
// exhaustion by the caller and retried via task re-enqueue.
type EthSource interface {
	// GetLogs retrieves logs matching the given filter query.
	GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)

	// GetBlockByNumber retrieves a block with full transaction objects.
	// A null response is lifted to an error: data must exist for
	// finalized blocks.
	GetBlockByNumber(ctx context.Context, number uint64) (*Block, error)

	// GetTransactionReceipt retrieves the receipt for a transaction hash.
	// A null response is lifted to an error.
	GetTransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error)
}
