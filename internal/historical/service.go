package historical

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	internalcommon "github.com/goran-ethernal/BlockHarvester/internal/common"
	"github.com/goran-ethernal/BlockHarvester/internal/events"
	"github.com/goran-ethernal/BlockHarvester/internal/intervals"
	"github.com/goran-ethernal/BlockHarvester/internal/logger"
	"github.com/goran-ethernal/BlockHarvester/internal/metrics"
	"github.com/goran-ethernal/BlockHarvester/internal/queue"
	internalrpc "github.com/goran-ethernal/BlockHarvester/internal/rpc"
	"github.com/goran-ethernal/BlockHarvester/internal/tracker"
	pkgrpc "github.com/goran-ethernal/BlockHarvester/pkg/rpc"
	"github.com/goran-ethernal/BlockHarvester/pkg/sources"
	pkgstore "github.com/goran-ethernal/BlockHarvester/pkg/store"
)

// Config carries the orchestration parameters of one network's historical
// sync.
type Config struct {
	Network              string
	ChainID              uint64
	Concurrency          int
	DefaultMaxBlockRange uint64

	CheckpointDebounce    time.Duration
	ProgressLogInterval   time.Duration
	ChildAddressBatchSize int
}

type trackerRole string

const (
	// roleFilter tracks the completion of the source's own data fetching.
	roleFilter trackerRole = "filter"

	// roleChildAddress tracks factory child-address discovery.
	roleChildAddress trackerRole = "childAddress"
)

// sourceTracker binds a progress tracker to the source and store key it
// advances. Factory sources own two trackers linked via siblingIdx.
type sourceTracker struct {
	source        sources.Source
	role          trackerRole
	tracker       *tracker.ProgressTracker
	intervalKind  pkgstore.IntervalKind
	filterKey     string
	factoryKey    string
	maxBlockRange uint64
	siblingIdx    int
}

// Service is the historical sync orchestrator of a single network. It owns
// the per-source progress trackers and the block-callback map, schedules
// fetch tasks through a bounded priority queue, and emits monotonic
// checkpoints as the durable frontier advances.
type Service struct {
	cfg     Config
	chainID uint64
	network string

	client  pkgrpc.EthSource
	store   pkgstore.SyncStore
	emitter *events.Emitter
	log     *logger.Logger

	queue     *queue.Queue[task]
	debouncer *checkpointDebouncer

	mu                           sync.Mutex
	trackers                     []*sourceTracker
	blockCallbacks               map[uint64][]blockCallback
	blockTasksEnqueuedCheckpoint int64
	blockTracker                 *tracker.BlockProgressTracker
	killed                       bool
	completed                    bool
	progressStop                 chan struct{}

	totalBlocks     uint64
	cachedBlocks    uint64
	initialTasks    int
	completedBlocks atomic.Uint64
	startTime       time.Time
}

// NewService creates an orchestrator. Setup must be called before Start.
func NewService(cfg Config, client pkgrpc.EthSource, store pkgstore.SyncStore, emitter *events.Emitter, log *logger.Logger) *Service {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 10
	}
	if cfg.CheckpointDebounce <= 0 {
		cfg.CheckpointDebounce = 500 * time.Millisecond
	}
	if cfg.ProgressLogInterval <= 0 {
		cfg.ProgressLogInterval = 10 * time.Second
	}
	if cfg.ChildAddressBatchSize <= 0 {
		cfg.ChildAddressBatchSize = 500
	}

	s := &Service{
		cfg:                          cfg,
		chainID:                      cfg.ChainID,
		network:                      cfg.Network,
		client:                       client,
		store:                        store,
		emitter:                      emitter,
		log:                          log.WithComponent(internalcommon.ComponentHistorical),
		blockCallbacks:               make(map[uint64][]blockCallback),
		blockTasksEnqueuedCheckpoint: math.MinInt64,
		blockTracker:                 tracker.NewBlockProgressTracker(),
	}

	s.debouncer = newCheckpointDebouncer(cfg.CheckpointDebounce, emitter.HistoricalCheckpoint)
	s.queue = queue.New(queue.Options[task]{
		Worker:      s.runTask,
		Concurrency: cfg.Concurrency,
		OnError:     s.onTaskError,
	})

	return s
}

// Setup restores progress from the sync store and enqueues the fetch tasks
// still required for each source. Sources whose range lies entirely above
// the finalized block are skipped with a warning.
func (s *Service) Setup(ctx context.Context, srcs []sources.Source, finalizedBlock uint64) error {
	for _, src := range srcs {
		if err := s.setupSource(ctx, src, finalizedBlock); err != nil {
			return fmt.Errorf("failed to set up source %q: %w", src.ID(), err)
		}
	}

	return nil
}

func (s *Service) setupSource(ctx context.Context, src sources.Source, finalizedBlock uint64) error {
	start := src.StartBlock()
	end, hasEnd := src.EndBlock()

	if hasEnd && end < start {
		s.log.Warnw("skipping source with invalid block range",
			"source", src.ID(), "contract", src.Name(), "startBlock", start, "endBlock", end)
		return nil
	}

	if start > finalizedBlock {
		// Nothing to fetch yet. Seed the trackers as complete so they
		// never pin the block-task checkpoint.
		s.log.Warnw("skipping source with no historical blocks",
			"source", src.ID(), "contract", src.Name(), "startBlock", start, "finalizedBlock", finalizedBlock)
		s.seedSkippedSource(src)
		return nil
	}

	effectiveEnd := finalizedBlock
	if hasEnd && end < finalizedBlock {
		effectiveEnd = end
	}

	target := intervals.New(start, effectiveEnd)

	maxRange := src.MaxBlockRange()
	if maxRange == 0 {
		maxRange = s.cfg.DefaultMaxBlockRange
	}

	var required []intervals.Interval

	switch v := src.(type) {
	case sources.LogSource:
		idx, req, err := s.restoreTracker(ctx, src, roleFilter,
			pkgstore.IntervalLogFilter, pkgstore.LogFilterKey(s.chainID, v.Criteria), "", target, maxRange)
		if err != nil {
			return err
		}
		s.enqueueRangeTasks(taskLogFilter, idx, req, maxRange)
		required = req

	case sources.FactorySource:
		factoryKey := pkgstore.FactoryFilterKey(s.chainID, v.Criteria)
		childKey := pkgstore.LogFilterKey(s.chainID, v.ChildFilterCriteria())

		childIdx, childReq, err := s.restoreTracker(ctx, src, roleChildAddress,
			pkgstore.IntervalLogFilter, childKey, factoryKey, target, maxRange)
		if err != nil {
			return err
		}

		logIdx, logReq, err := s.restoreTracker(ctx, src, roleFilter,
			pkgstore.IntervalFactoryLogFilter, factoryKey, factoryKey, target, maxRange)
		if err != nil {
			return err
		}

		s.trackers[childIdx].siblingIdx = logIdx
		s.trackers[logIdx].siblingIdx = childIdx

		s.enqueueRangeTasks(taskFactoryChildAddress, childIdx, childReq, maxRange)

		// Ranges whose children are already discovered can fetch logs
		// immediately; the rest is enqueued by child-address
		// completions.
		discovered := intervals.Difference(logReq, childReq)
		s.enqueueRangeTasks(taskFactoryLogFilter, logIdx, discovered, maxRange)
		required = logReq

	case sources.BlockSource:
		idx, req, err := s.restoreTracker(ctx, src, roleFilter,
			pkgstore.IntervalBlockFilter, pkgstore.BlockFilterKey(s.chainID, v.Criteria), "", target, maxRange)
		if err != nil {
			return err
		}
		s.enqueueRangeTasks(taskBlockFilter, idx, req, maxRange)
		required = req

	case sources.CallTraceSource:
		idx, req, err := s.restoreTracker(ctx, src, roleFilter,
			pkgstore.IntervalTraceFilter, pkgstore.TraceFilterKey(s.chainID, v.Criteria), "", target, maxRange)
		if err != nil {
			return err
		}
		s.enqueueRangeTasks(taskTraceFilter, idx, req, maxRange)
		required = req

	default:
		return fmt.Errorf("unknown source kind %q", src.Kind())
	}

	total := target.Len()
	cached := total - intervals.Sum(required)
	s.totalBlocks += total
	s.cachedBlocks += cached

	metrics.HistoricalTotalBlocksSet(s.network, src.ID(), total)
	metrics.HistoricalCachedBlocksSet(s.network, src.ID(), cached)

	return nil
}

// seedSkippedSource registers complete trackers for a source above the
// finalized block.
func (s *Service) seedSkippedSource(src sources.Source) {
	target := intervals.New(src.StartBlock(), src.StartBlock())
	seed := []intervals.Interval{target}

	s.trackers = append(s.trackers, &sourceTracker{
		source:     src,
		role:       roleFilter,
		tracker:    tracker.NewProgressTracker(target, seed),
		siblingIdx: -1,
	})

	if src.Kind() == sources.KindFactory {
		s.trackers = append(s.trackers, &sourceTracker{
			source:     src,
			role:       roleChildAddress,
			tracker:    tracker.NewProgressTracker(target, seed),
			siblingIdx: -1,
		})
	}

	metrics.HistoricalTotalBlocksSet(s.network, src.ID(), 0)
	metrics.HistoricalCachedBlocksSet(s.network, src.ID(), 0)
}

func (s *Service) restoreTracker(ctx context.Context, src sources.Source, role trackerRole,
	kind pkgstore.IntervalKind, filterKey, factoryKey string,
	target intervals.Interval, maxRange uint64) (int, []intervals.Interval, error) {
	ranges, err := s.store.GetIntervals(ctx, s.chainID, kind, filterKey)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to restore %s intervals: %w", kind, err)
	}

	completed := make([]intervals.Interval, len(ranges))
	for i, r := range ranges {
		completed[i] = intervals.Interval{Start: r.FromBlock, End: r.ToBlock}
	}

	tr := tracker.NewProgressTracker(target, completed)

	st := &sourceTracker{
		source:        src,
		role:          role,
		tracker:       tr,
		intervalKind:  kind,
		filterKey:     filterKey,
		factoryKey:    factoryKey,
		maxBlockRange: maxRange,
		siblingIdx:    -1,
	}
	s.trackers = append(s.trackers, st)

	return len(s.trackers) - 1, tr.Required(), nil
}

func (s *Service) enqueueRangeTasks(kind taskKind, trackerIdx int, required []intervals.Interval, maxRange uint64) {
	for _, chunk := range intervals.Chunks(required, maxRange) {
		s.queue.AddTask(task{
			kind:       kind,
			trackerIdx: trackerIdx,
			fromBlock:  chunk.Start,
			toBlock:    chunk.End,
		}, taskPriority(chunk.Start))
		s.initialTasks++
	}
}

// Start begins processing. When no tasks were enqueued during Setup the sync
// completes synchronously.
func (s *Service) Start(ctx context.Context) {
	s.startTime = time.Now()
	metrics.HistoricalStartTimestampSet(s.network, s.startTime)

	cachedPct := float64(100)
	if s.totalBlocks > 0 {
		cachedPct = float64(s.cachedBlocks) / float64(s.totalBlocks) * 100
	}
	s.log.Infow("started historical sync",
		"totalBlocks", s.totalBlocks,
		"cachedBlocks", s.cachedBlocks,
		"cached", fmt.Sprintf("%.1f%%", cachedPct),
	)

	if s.initialTasks == 0 {
		s.complete()
		return
	}

	s.mu.Lock()
	s.progressStop = make(chan struct{})
	s.mu.Unlock()
	go s.progressLoop(s.progressStop)

	s.queue.Start(ctx)
	s.queue.Resume()

	// The queue going idle also marks completion; this covers the last
	// tasks finishing concurrently, when each still sees the other pending.
	go func() {
		if err := s.queue.OnIdle(ctx); err == nil {
			s.complete()
		}
	}()
}

// Kill requests cooperative shutdown: queued tasks are dropped, in-flight
// tasks finish and their failures are suppressed.
func (s *Service) Kill() {
	s.mu.Lock()
	s.killed = true
	s.stopProgressLocked()
	s.mu.Unlock()

	s.debouncer.Stop()
	s.queue.Pause()
	s.queue.Clear()
}

func (s *Service) isKilled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.killed
}

func (s *Service) stopProgressLocked() {
	if s.progressStop != nil {
		close(s.progressStop)
		s.progressStop = nil
	}
}

// complete fires syncComplete exactly once.
func (s *Service) complete() {
	s.mu.Lock()
	if s.completed || s.killed {
		s.mu.Unlock()
		return
	}
	s.completed = true
	s.stopProgressLocked()
	s.mu.Unlock()

	s.log.Infof("historical sync complete in %s", time.Since(s.startTime).Round(time.Millisecond))
	s.emitter.SyncComplete()
}

func (s *Service) runTask(ctx context.Context, t task, q *queue.Queue[task]) error {
	if s.isKilled() {
		return nil
	}

	var err error
	switch t.kind {
	case taskLogFilter:
		err = s.runLogFilter(ctx, t)
	case taskFactoryChildAddress:
		err = s.runFactoryChildAddress(ctx, t)
	case taskFactoryLogFilter:
		err = s.runFactoryLogFilter(ctx, t)
	case taskBlockFilter:
		err = s.runBlockFilter(ctx, t)
	case taskTraceFilter:
		err = s.runTraceFilter(ctx, t)
	case taskBlock:
		err = s.runBlock(ctx, t)
	default:
		err = fmt.Errorf("unknown task kind %q", t.kind)
	}
	if err != nil {
		return err
	}

	metrics.QueuedTasksSet(s.network, q.Size())

	// This task is the only in-flight one and nothing is queued: the run
	// is drained.
	if q.Size() == 0 && q.Pending() == 1 {
		s.complete()
	}

	return nil
}

func (s *Service) onTaskError(_ context.Context, err error, t task, q *queue.Queue[task]) {
	if s.isKilled() {
		return
	}

	s.log.Warnw("task failed, re-enqueueing",
		"kind", t.kind,
		"fromBlock", t.fromBlock,
		"toBlock", t.toBlock,
		"blockNumber", t.blockNumber,
		"err", err,
	)
	metrics.TaskRetryInc(s.network, string(t.kind))

	q.AddTask(t, t.priority())
}

// markCompletedLocked advances a tracker and the completion metrics.
// Callers must hold s.mu.
func (s *Service) markCompletedLocked(trackerIdx int, fromBlock, toBlock uint64) (isUpdated bool, prev, cur int64) {
	st := s.trackers[trackerIdx]
	isUpdated, prev, cur = st.tracker.AddCompletedInterval(intervals.New(fromBlock, toBlock))

	n := toBlock - fromBlock + 1
	s.completedBlocks.Add(n)
	metrics.HistoricalCompletedBlocksAdd(s.network, st.source.ID(), n)

	return isUpdated, prev, cur
}

// enqueueBlockTasksLocked converts accumulated block callbacks into BLOCK fetch
// tasks once every tracker that still has work has completed past them, so
// each block is fetched exactly once and drained against all its callbacks.
// Callers must hold s.mu.
func (s *Service) enqueueBlockTasksLocked() {
	canEnqueueUpTo := int64(math.MinInt64)
	hasWork := false
	for _, st := range s.trackers {
		if len(st.tracker.Required()) == 0 {
			continue
		}
		if cp := st.tracker.Checkpoint(); !hasWork || cp < canEnqueueUpTo {
			canEnqueueUpTo = cp
		}
		hasWork = true
	}

	if !hasWork {
		for _, st := range s.trackers {
			if cp := st.tracker.Checkpoint(); cp > canEnqueueUpTo {
				canEnqueueUpTo = cp
			}
		}
	}

	if canEnqueueUpTo <= s.blockTasksEnqueuedCheckpoint {
		return
	}

	if canEnqueueUpTo >= 0 {
		limit := uint64(canEnqueueUpTo)

		var numbers []uint64
		for n := range s.blockCallbacks {
			if n <= limit {
				numbers = append(numbers, n)
			}
		}
		sort.Slice(numbers, func(a, b int) bool { return numbers[a] < numbers[b] })

		if len(numbers) > 0 {
			if err := s.blockTracker.AddPendingBlocks(numbers); err != nil {
				s.log.Errorf("failed to register pending blocks: %v", err)
				return
			}

			for _, n := range numbers {
				cbs := s.blockCallbacks[n]
				delete(s.blockCallbacks, n)

				s.queue.AddTask(task{
					kind:        taskBlock,
					trackerIdx:  -1,
					blockNumber: n,
					callbacks:   cbs,
				}, taskPriority(n))
			}
		}
	}

	s.blockTasksEnqueuedCheckpoint = canEnqueueUpTo
}

func (s *Service) runLogFilter(ctx context.Context, t task) error {
	st := s.trackers[t.trackerIdx]
	src := st.source.(sources.LogSource)

	logs, err := s.client.GetLogs(ctx, filterQuery(src.Criteria.Addresses, src.Criteria.Topics, t.fromBlock, t.toBlock))
	if err != nil {
		if s.splitOversizedRange(t, err) {
			return nil
		}
		return err
	}

	required := buildRequiredIntervals(t.fromBlock, t.toBlock, logs)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.killed {
		return nil
	}

	for _, ri := range required {
		s.blockCallbacks[ri.interval.ToBlock] = append(s.blockCallbacks[ri.interval.ToBlock], blockCallback{
			kind:            callbackFilterData,
			trackerIdx:      t.trackerIdx,
			intervalKind:    st.intervalKind,
			filterKey:       st.filterKey,
			interval:        ri.interval,
			logs:            ri.logs,
			txHashes:        ri.txHashes,
			includeReceipts: src.Criteria.IncludeTransactionReceipts,
		})
	}

	s.markCompletedLocked(t.trackerIdx, t.fromBlock, t.toBlock)
	s.enqueueBlockTasksLocked()

	return nil
}

func (s *Service) runFactoryChildAddress(ctx context.Context, t task) error {
	st := s.trackers[t.trackerIdx]
	src := st.source.(sources.FactorySource)

	query := filterQuery(
		[]common.Address{src.Criteria.Address},
		[][]common.Hash{{src.Criteria.EventSelector}},
		t.fromBlock, t.toBlock,
	)
	logs, err := s.client.GetLogs(ctx, query)
	if err != nil {
		if s.splitOversizedRange(t, err) {
			return nil
		}
		return err
	}

	entries := extractChildAddresses(logs, src.Criteria.ChildAddressLocation)
	if err := s.store.InsertFactoryChildAddresses(ctx, s.chainID, st.factoryKey, entries); err != nil {
		return fmt.Errorf("failed to insert child addresses: %w", err)
	}

	required := buildRequiredIntervals(t.fromBlock, t.toBlock, logs)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.killed {
		return nil
	}

	// Record the discovery ranges under the child filter criteria so
	// subsequent runs see them as cached.
	for _, ri := range required {
		s.blockCallbacks[ri.interval.ToBlock] = append(s.blockCallbacks[ri.interval.ToBlock], blockCallback{
			kind:         callbackIntervalOnly,
			trackerIdx:   t.trackerIdx,
			intervalKind: st.intervalKind,
			filterKey:    st.filterKey,
			interval:     ri.interval,
		})
	}

	isUpdated, prev, cur := s.markCompletedLocked(t.trackerIdx, t.fromBlock, t.toBlock)

	// Newly discovered ranges stream into factory log fetching. This is
	// the only place factory log tasks are enqueued after setup.
	if isUpdated && st.siblingIdx >= 0 {
		sibling := s.trackers[st.siblingIdx]
		newRange := intervals.New(uint64(prev+1), uint64(cur))
		toFetch := intervals.Intersection(sibling.tracker.Required(), []intervals.Interval{newRange})

		for _, chunk := range intervals.Chunks(toFetch, sibling.maxBlockRange) {
			s.queue.AddTask(task{
				kind:       taskFactoryLogFilter,
				trackerIdx: st.siblingIdx,
				fromBlock:  chunk.Start,
				toBlock:    chunk.End,
			}, taskPriority(chunk.Start))
		}
	}

	s.enqueueBlockTasksLocked()

	return nil
}

func (s *Service) runFactoryLogFilter(ctx context.Context, t task) error {
	st := s.trackers[t.trackerIdx]
	src := st.source.(sources.FactorySource)

	batches, err := s.store.GetFactoryChildAddresses(ctx, s.chainID, st.factoryKey, t.toBlock, s.cfg.ChildAddressBatchSize)
	if err != nil {
		return fmt.Errorf("failed to load child addresses: %w", err)
	}

	var logs []types.Log
	for _, batch := range batches {
		batchLogs, err := s.client.GetLogs(ctx, filterQuery(batch, src.Criteria.Topics, t.fromBlock, t.toBlock))
		if err != nil {
			return err
		}
		logs = append(logs, batchLogs...)
	}

	required := buildRequiredIntervals(t.fromBlock, t.toBlock, logs)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.killed {
		return nil
	}

	for _, ri := range required {
		s.blockCallbacks[ri.interval.ToBlock] = append(s.blockCallbacks[ri.interval.ToBlock], blockCallback{
			kind:            callbackFilterData,
			trackerIdx:      t.trackerIdx,
			intervalKind:    st.intervalKind,
			filterKey:       st.filterKey,
			interval:        ri.interval,
			logs:            ri.logs,
			txHashes:        ri.txHashes,
			includeReceipts: src.Criteria.IncludeTransactionReceipts,
		})
	}

	s.markCompletedLocked(t.trackerIdx, t.fromBlock, t.toBlock)
	s.enqueueBlockTasksLocked()

	return nil
}

func (s *Service) runBlockFilter(ctx context.Context, t task) error {
	st := s.trackers[t.trackerIdx]
	src := st.source.(sources.BlockSource)

	interval := src.Criteria.Interval
	if interval == 0 {
		interval = 1
	}
	offset := src.Criteria.Offset % interval

	var matched []uint64
	first := t.fromBlock + (offset+interval-t.fromBlock%interval)%interval
	for n := first; n <= t.toBlock; n += interval {
		matched = append(matched, n)
	}

	// toBlock closes the range even when unmatched, so the whole range is
	// recorded as cached.
	appendedTail := len(matched) == 0 || matched[len(matched)-1] != t.toBlock
	if appendedTail {
		matched = append(matched, t.toBlock)
	}

	type pendingBlock struct {
		number uint64
		r      pkgstore.BlockRange
	}

	var directs []pkgstore.BlockRange
	var pending []pendingBlock

	prev := t.fromBlock
	for i, n := range matched {
		r := pkgstore.BlockRange{FromBlock: prev, ToBlock: n}
		prev = n + 1

		// The unmatched tail needs no block data.
		if appendedTail && i == len(matched)-1 {
			directs = append(directs, r)
			continue
		}

		has, err := s.store.HasBlock(ctx, s.chainID, n)
		if err != nil {
			return err
		}
		if has {
			directs = append(directs, r)
		} else {
			pending = append(pending, pendingBlock{number: n, r: r})
		}
	}

	for _, r := range directs {
		if err := s.store.InsertInterval(ctx, s.chainID, st.intervalKind, st.filterKey, r); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.killed {
		return nil
	}

	for _, p := range pending {
		s.blockCallbacks[p.number] = append(s.blockCallbacks[p.number], blockCallback{
			kind:         callbackIntervalOnly,
			trackerIdx:   t.trackerIdx,
			intervalKind: st.intervalKind,
			filterKey:    st.filterKey,
			interval:     p.r,
		})
	}

	s.markCompletedLocked(t.trackerIdx, t.fromBlock, t.toBlock)
	s.enqueueBlockTasksLocked()

	return nil
}

func (s *Service) runTraceFilter(ctx context.Context, t task) error {
	st := s.trackers[t.trackerIdx]

	// Trace data fetching is not wired to an RPC method yet; the range is
	// recorded as complete so the checkpoint can advance past it.
	r := pkgstore.BlockRange{FromBlock: t.fromBlock, ToBlock: t.toBlock}
	if err := s.store.InsertInterval(ctx, s.chainID, st.intervalKind, st.filterKey, r); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.killed {
		return nil
	}

	s.markCompletedLocked(t.trackerIdx, t.fromBlock, t.toBlock)
	s.enqueueBlockTasksLocked()

	return nil
}

func (s *Service) runBlock(ctx context.Context, t task) error {
	block, err := s.client.GetBlockByNumber(ctx, t.blockNumber)
	if err != nil {
		return err
	}

	for _, cb := range t.callbacks {
		if s.isKilled() {
			return nil
		}
		if err := s.executeCallback(ctx, block, cb); err != nil {
			return err
		}
	}

	s.mu.Lock()
	frontier, err := s.blockTracker.AddCompletedBlock(t.blockNumber, uint64(block.Timestamp))
	killed := s.killed
	s.mu.Unlock()

	if err != nil {
		s.log.Warnf("block completion not tracked: %v", err)
		return nil
	}

	if frontier != nil && !killed {
		s.debouncer.Call(sources.Checkpoint{
			BlockTimestamp: frontier.BlockTimestamp,
			ChainID:        s.chainID,
			BlockNumber:    frontier.BlockNumber,
		})
	}

	return nil
}

// splitOversizedRange re-enqueues a range task as two halves when the node
// rejects the range for returning too many results. Providers that suggest a
// retry range are honored.
func (s *Service) splitOversizedRange(t task, err error) bool {
	tooMany, msg := internalrpc.IsTooManyResultsError(err)
	if !tooMany || t.fromBlock >= t.toBlock {
		return false
	}

	mid := t.fromBlock + (t.toBlock-t.fromBlock)/2
	if from, to, ok := internalrpc.ParseSuggestedBlockRange(msg); ok && from == t.fromBlock && to >= t.fromBlock && to < t.toBlock {
		mid = to
	}

	s.log.Debugw("splitting oversized block range",
		"kind", t.kind, "fromBlock", t.fromBlock, "toBlock", t.toBlock, "mid", mid)

	left, right := t, t
	left.toBlock = mid
	right.fromBlock = mid + 1

	s.queue.AddTask(left, left.priority())
	s.queue.AddTask(right, right.priority())

	return true
}

func (s *Service) progressLoop(stop chan struct{}) {
	ticker := time.NewTicker(s.cfg.ProgressLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.logProgress()
		case <-stop:
			return
		}
	}
}

func (s *Service) logProgress() {
	toFetch := s.totalBlocks - s.cachedBlocks
	if toFetch == 0 {
		return
	}

	completed := s.completedBlocks.Load()
	if completed > toFetch {
		completed = toFetch
	}

	elapsed := time.Since(s.startTime).Seconds()
	rate := float64(completed) / elapsed

	eta := "unknown"
	if rate > 0 {
		eta = time.Duration(float64(toFetch-completed) / rate * float64(time.Second)).Round(time.Second).String()
	}

	s.log.Infow("historical sync progress",
		"progress", fmt.Sprintf("%.1f%%", float64(completed)/float64(toFetch)*100),
		"blocksPerSecond", fmt.Sprintf("%.1f", rate),
		"eta", eta,
	)
}

func filterQuery(addresses []common.Address, topics [][]common.Hash, fromBlock, toBlock uint64) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: addresses,
		Topics:    topics,
	}
}

// extractChildAddresses pulls the announced child contract address out of
// each factory event, per the configured location: an indexed topic holds it
// right-aligned in 32 bytes, a data offset points at the 32-byte word
// containing it.
func extractChildAddresses(logs []types.Log, loc sources.ChildAddressLocation) []pkgstore.ChildAddressEntry {
	var entries []pkgstore.ChildAddressEntry

	topicIdx, isTopic := loc.TopicIndex()
	dataOffset, isOffset := loc.DataOffset()

	for _, l := range logs {
		var addr common.Address

		switch {
		case isTopic:
			if len(l.Topics) <= topicIdx {
				continue
			}
			addr = common.BytesToAddress(l.Topics[topicIdx].Bytes()[12:])

		case isOffset:
			if len(l.Data) < dataOffset+32 {
				continue
			}
			addr = common.BytesToAddress(l.Data[dataOffset+12 : dataOffset+32])

		default:
			continue
		}

		entries = append(entries, pkgstore.ChildAddressEntry{
			Address:     addr,
			BlockNumber: l.BlockNumber,
			LogIndex:    uint64(l.Index),
		})
	}

	return entries
}
