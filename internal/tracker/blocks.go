package tracker

import "fmt"

// BlockFrontier is the most recent block whose data, and the data of every
// block below it that any filter needed, is fully persisted.
type BlockFrontier struct {
	BlockNumber    uint64
	BlockTimestamp uint64
}

// BlockProgressTracker tracks completion of individual block fetch tasks.
// Blocks are registered in ascending order as they are scheduled and the
// frontier advances only when the lowest pending block completes, so emitted
// frontiers are strictly increasing.
type BlockProgressTracker struct {
	pending   []uint64
	completed map[uint64]uint64
	frontier  *BlockFrontier
}

// NewBlockProgressTracker returns an empty tracker.
func NewBlockProgressTracker() *BlockProgressTracker {
	return &BlockProgressTracker{
		completed: make(map[uint64]uint64),
	}
}

// Frontier returns the current frontier, or nil before any block completes.
func (t *BlockProgressTracker) Frontier() *BlockFrontier {
	return t.frontier
}

// AddPendingBlocks registers blocks awaiting fetch. Numbers must be strictly
// ascending and greater than every block already registered.
func (t *BlockProgressTracker) AddPendingBlocks(numbers []uint64) error {
	for _, n := range numbers {
		if len(t.pending) > 0 && n <= t.pending[len(t.pending)-1] {
			return fmt.Errorf("pending block %d is not greater than %d", n, t.pending[len(t.pending)-1])
		}
		if t.frontier != nil && n <= t.frontier.BlockNumber {
			return fmt.Errorf("pending block %d is behind frontier %d", n, t.frontier.BlockNumber)
		}

		t.pending = append(t.pending, n)
	}

	return nil
}

// AddCompletedBlock records a finished block fetch. It returns the new
// frontier when the completion is contiguous with all lower pending blocks,
// and nil when a lower block is still outstanding.
func (t *BlockProgressTracker) AddCompletedBlock(number, timestamp uint64) (*BlockFrontier, error) {
	idx := -1
	for i, n := range t.pending {
		if n == number {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, fmt.Errorf("block %d was not pending", number)
	}

	t.completed[number] = timestamp

	// Pop the contiguous completed prefix; the frontier is its last element.
	advanced := false
	for len(t.pending) > 0 {
		ts, ok := t.completed[t.pending[0]]
		if !ok {
			break
		}

		t.frontier = &BlockFrontier{
			BlockNumber:    t.pending[0],
			BlockTimestamp: ts,
		}
		delete(t.completed, t.pending[0])
		t.pending = t.pending[1:]
		advanced = true
	}

	if !advanced {
		return nil, nil
	}

	return t.frontier, nil
}
