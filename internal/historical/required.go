package historical

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	pkgstore "github.com/goran-ethernal/BlockHarvester/pkg/store"
)

// requiredInterval is a contiguous slice of a fetched range ending at a block
// that must be fetched. The carried logs are the ones emitted at EndBlock of
// the interval.
type requiredInterval struct {
	interval pkgstore.BlockRange
	logs     []types.Log
	txHashes map[common.Hash]struct{}
}

// buildRequiredIntervals partitions [fromBlock, toBlock] at every block that
// has logs. toBlock closes the final interval even when it has no logs, so
// the whole range is recorded as complete. The returned intervals are
// contiguous and cover [fromBlock, toBlock] exactly.
func buildRequiredIntervals(fromBlock, toBlock uint64, logs []types.Log) []requiredInterval {
	byBlock := make(map[uint64][]types.Log)
	for _, l := range logs {
		byBlock[l.BlockNumber] = append(byBlock[l.BlockNumber], l)
	}

	numbers := make([]uint64, 0, len(byBlock)+1)
	for n := range byBlock {
		numbers = append(numbers, n)
	}
	sort.Slice(numbers, func(a, b int) bool { return numbers[a] < numbers[b] })

	if len(numbers) == 0 || numbers[len(numbers)-1] != toBlock {
		numbers = append(numbers, toBlock)
	}

	out := make([]requiredInterval, 0, len(numbers))
	prev := fromBlock
	for _, n := range numbers {
		blockLogs := byBlock[n]

		txHashes := make(map[common.Hash]struct{}, len(blockLogs))
		for _, l := range blockLogs {
			txHashes[l.TxHash] = struct{}{}
		}

		out = append(out, requiredInterval{
			interval: pkgstore.BlockRange{FromBlock: prev, ToBlock: n},
			logs:     blockLogs,
			txHashes: txHashes,
		})
		prev = n + 1
	}

	return out
}
