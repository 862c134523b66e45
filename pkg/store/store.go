package store

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/goran-ethernal/BlockHarvester/pkg/rpc"
)

// IntervalKind selects the completed-range table a filter records progress in.
type IntervalKind string

const (
	IntervalLogFilter        IntervalKind = "log"
	IntervalFactoryLogFilter IntervalKind = "factoryLog"
	IntervalBlockFilter      IntervalKind = "block"
	IntervalTraceFilter      IntervalKind = "trace"
)

// BlockRange is a closed completed block range recorded for a filter.
type BlockRange struct {
	FromBlock uint64
	ToBlock   uint64
}

// ChildAddressEntry is a child contract address announced by a factory event.
type ChildAddressEntry struct {
	Address     common.Address
	BlockNumber uint64
	LogIndex    uint64
}

// SyncStore is the durable cache filled by the historical sync service.
// All writes are idempotent: re-inserting data for a block range that was
// already written must not fail or duplicate rows.
type SyncStore interface {
	// InsertInterval records that the filter identified by filterKey is
	// complete over the given range.
	InsertInterval(ctx context.Context, chainID uint64, kind IntervalKind, filterKey string, r BlockRange) error

	// GetIntervals returns the merged completed ranges recorded for the
	// filter identified by filterKey.
	GetIntervals(ctx context.Context, chainID uint64, kind IntervalKind, filterKey string) ([]BlockRange, error)

	// InsertLogs persists matched logs.
	InsertLogs(ctx context.Context, chainID uint64, logs []types.Log) error

	// InsertBlock persists a block and the subset of its transactions
	// whose hashes appear in txHashes. A nil txHashes persists no
	// transactions.
	InsertBlock(ctx context.Context, chainID uint64, block *rpc.Block, txHashes map[common.Hash]struct{}) error

	// InsertReceipts persists transaction receipts.
	InsertReceipts(ctx context.Context, chainID uint64, receipts []*rpc.Receipt) error

	// InsertFactoryChildAddresses persists child addresses discovered for
	// the factory identified by factoryKey.
	InsertFactoryChildAddresses(ctx context.Context, chainID uint64, factoryKey string, entries []ChildAddressEntry) error

	// GetFactoryChildAddresses returns the distinct child addresses of a
	// factory announced at or below toBlock, in discovery order, in
	// batches of at most batchSize.
	GetFactoryChildAddresses(ctx context.Context, chainID uint64, factoryKey string, toBlock uint64, batchSize int) ([][]common.Address, error)

	// HasBlock reports whether the block is already persisted.
	HasBlock(ctx context.Context, chainID uint64, number uint64) (bool, error)

	// Close closes the store and releases any resources.
	Close() error
}
