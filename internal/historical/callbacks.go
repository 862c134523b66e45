package historical

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/goran-ethernal/BlockHarvester/pkg/rpc"
	pkgstore "github.com/goran-ethernal/BlockHarvester/pkg/store"
)

// callbackKind discriminates what a block callback persists.
type callbackKind string

const (
	// callbackFilterData persists logs, the block, the referenced
	// transactions, optional receipts, and a completed-interval record.
	callbackFilterData callbackKind = "filterData"

	// callbackIntervalOnly persists the block and a completed-interval
	// record without any log data.
	callbackIntervalOnly callbackKind = "intervalOnly"
)

// blockCallback is a deferred per-block action produced by a range task and
// executed once the block is fetched. Callbacks for a block run in the order
// they were appended.
type blockCallback struct {
	kind         callbackKind
	trackerIdx   int
	intervalKind pkgstore.IntervalKind
	filterKey    string
	interval     pkgstore.BlockRange

	logs            []types.Log
	txHashes        map[common.Hash]struct{}
	includeReceipts bool
}

// executeCallback persists the data a callback carries against the fetched
// block.
func (s *Service) executeCallback(ctx context.Context, block *rpc.Block, cb blockCallback) error {
	switch cb.kind {
	case callbackFilterData:
		if err := s.store.InsertLogs(ctx, s.chainID, cb.logs); err != nil {
			return fmt.Errorf("failed to insert logs: %w", err)
		}

		if err := s.store.InsertBlock(ctx, s.chainID, block, cb.txHashes); err != nil {
			return fmt.Errorf("failed to insert block: %w", err)
		}

		if cb.includeReceipts {
			receipts := make([]*rpc.Receipt, 0, len(cb.txHashes))
			for hash := range cb.txHashes {
				receipt, err := s.client.GetTransactionReceipt(ctx, hash)
				if err != nil {
					return fmt.Errorf("failed to fetch receipt: %w", err)
				}
				receipts = append(receipts, receipt)
			}

			if err := s.store.InsertReceipts(ctx, s.chainID, receipts); err != nil {
				return fmt.Errorf("failed to insert receipts: %w", err)
			}
		}

	case callbackIntervalOnly:
		if err := s.store.InsertBlock(ctx, s.chainID, block, nil); err != nil {
			return fmt.Errorf("failed to insert block: %w", err)
		}

	default:
		return fmt.Errorf("unknown callback kind %q", cb.kind)
	}

	if err := s.store.InsertInterval(ctx, s.chainID, cb.intervalKind, cb.filterKey, cb.interval); err != nil {
		return fmt.Errorf("failed to insert interval: %w", err)
	}

	return nil
}
