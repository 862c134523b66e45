package historical

// taskKind discriminates the variants of a historical sync task.
type taskKind string

const (
	taskLogFilter           taskKind = "logFilter"
	taskFactoryChildAddress taskKind = "factoryChildAddress"
	taskFactoryLogFilter    taskKind = "factoryLogFilter"
	taskBlockFilter         taskKind = "blockFilter"
	taskTraceFilter         taskKind = "traceFilter"
	taskBlock               taskKind = "block"
)

// task is a unit of work dispatched through the queue. Range tasks carry
// [FromBlock, ToBlock] and the index of the tracker they advance; block tasks
// carry the block number and the callbacks drained against the fetched block.
type task struct {
	kind       taskKind
	trackerIdx int
	fromBlock  uint64
	toBlock    uint64

	blockNumber uint64
	callbacks   []blockCallback
}

// priorityBase keeps computed priorities positive while ordering earlier
// blocks first.
const priorityBase = int64(1) << 62

// taskPriority orders tasks so that lower block numbers drain first, which
// is the precondition for advancing the checkpoint.
func taskPriority(block uint64) int64 {
	return priorityBase - int64(block)
}

func (t task) priority() int64 {
	if t.kind == taskBlock {
		return taskPriority(t.blockNumber)
	}
	return taskPriority(t.fromBlock)
}
