package historical

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/goran-ethernal/BlockHarvester/internal/db"
	"github.com/goran-ethernal/BlockHarvester/internal/events"
	"github.com/goran-ethernal/BlockHarvester/internal/logger"
	"github.com/goran-ethernal/BlockHarvester/internal/migrations"
	syncstore "github.com/goran-ethernal/BlockHarvester/internal/store"
	"github.com/goran-ethernal/BlockHarvester/pkg/rpc"
	"github.com/goran-ethernal/BlockHarvester/pkg/sources"
	pkgstore "github.com/goran-ethernal/BlockHarvester/pkg/store"
)

// fakeEthClient serves canned logs filtered by block range, address and
// topic0, synthesizes blocks and receipts on demand, and records every call
// so tests can assert each block is fetched at most once per run.
type fakeEthClient struct {
	mu sync.Mutex

	logs []types.Log

	logsErrs     map[string][]error
	logsCalls    map[string]int
	blockCalls   map[uint64]int
	receiptCalls map[common.Hash]int
}

func newFakeEthClient(logs ...types.Log) *fakeEthClient {
	return &fakeEthClient{
		logs:         logs,
		logsErrs:     make(map[string][]error),
		logsCalls:    make(map[string]int),
		blockCalls:   make(map[uint64]int),
		receiptCalls: make(map[common.Hash]int),
	}
}

func rangeKey(from, to uint64) string {
	return fmt.Sprintf("%d-%d", from, to)
}

// failGetLogs queues n failures for the given range before it succeeds.
func (c *fakeEthClient) failGetLogs(from, to uint64, n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := rangeKey(from, to)
	for i := 0; i < n; i++ {
		c.logsErrs[key] = append(c.logsErrs[key], err)
	}
}

func (c *fakeEthClient) GetLogs(_ context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	from := query.FromBlock.Uint64()
	to := query.ToBlock.Uint64()
	key := rangeKey(from, to)
	c.logsCalls[key]++

	if errs := c.logsErrs[key]; len(errs) > 0 {
		c.logsErrs[key] = errs[1:]
		return nil, errs[0]
	}

	var out []types.Log
	for _, l := range c.logs {
		if l.BlockNumber < from || l.BlockNumber > to {
			continue
		}
		if len(query.Addresses) > 0 && !containsAddress(query.Addresses, l.Address) {
			continue
		}
		if len(query.Topics) > 0 && len(query.Topics[0]) > 0 {
			if len(l.Topics) == 0 || !containsHash(query.Topics[0], l.Topics[0]) {
				continue
			}
		}
		out = append(out, l)
	}

	return out, nil
}

func (c *fakeEthClient) GetBlockByNumber(_ context.Context, number uint64) (*rpc.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.blockCalls[number]++

	return &rpc.Block{
		Hash:      common.BigToHash(big.NewInt(int64(number + 1))),
		Number:    hexutil.Uint64(number),
		Timestamp: hexutil.Uint64(1000 + number),
	}, nil
}

func (c *fakeEthClient) GetTransactionReceipt(_ context.Context, hash common.Hash) (*rpc.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.receiptCalls[hash]++

	return &rpc.Receipt{TransactionHash: hash, Status: 1}, nil
}

func (c *fakeEthClient) logsCallCount(from, to uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logsCalls[rangeKey(from, to)]
}

func (c *fakeEthClient) blockCallCount(number uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blockCalls[number]
}

func (c *fakeEthClient) allBlockCalls() map[uint64]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[uint64]int, len(c.blockCalls))
	for k, v := range c.blockCalls {
		out[k] = v
	}
	return out
}

func containsAddress(addrs []common.Address, a common.Address) bool {
	for _, x := range addrs {
		if x == a {
			return true
		}
	}
	return false
}

func containsHash(hashes []common.Hash, h common.Hash) bool {
	for _, x := range hashes {
		if x == h {
			return true
		}
	}
	return false
}

// dataError mimics the provider-side response size limit rejection.
type dataError struct {
	msg string
}

func (e dataError) Error() string          { return e.msg }
func (e dataError) ErrorData() interface{} { return e.msg }

type harness struct {
	svc         *Service
	client      *fakeEthClient
	store       *syncstore.SQLiteStore
	db          *sql.DB
	syncDone    chan struct{}
	completions *atomic.Int32
	checkpoints *checkpointRecorder
}

func newHarness(t *testing.T, client *fakeEthClient, cfg Config) *harness {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "harvester.db")
	database, err := db.NewSQLiteDB(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	log := logger.NewNopLogger()
	require.NoError(t, migrations.RunMigrations(log, database))
	st := syncstore.NewSQLiteStore(database, log)

	if cfg.Network == "" {
		cfg.Network = "testnet"
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = 1
	}
	if cfg.CheckpointDebounce == 0 {
		cfg.CheckpointDebounce = 10 * time.Millisecond
	}

	h := &harness{
		client:      client,
		store:       st,
		db:          database,
		syncDone:    make(chan struct{}),
		completions: &atomic.Int32{},
		checkpoints: &checkpointRecorder{},
	}

	emitter := events.NewEmitter()
	emitter.OnSyncComplete(func() {
		if h.completions.Add(1) == 1 {
			close(h.syncDone)
		}
	})
	emitter.OnHistoricalCheckpoint(h.checkpoints.record)

	h.svc = NewService(cfg, client, st, emitter, log)
	t.Cleanup(h.svc.Kill)

	return h
}

func (h *harness) run(t *testing.T, ctx context.Context, srcs []sources.Source, finalizedBlock uint64) {
	t.Helper()

	require.NoError(t, h.svc.Setup(ctx, srcs, finalizedBlock))
	h.svc.Start(ctx)

	select {
	case <-h.syncDone:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for sync completion")
	}
}

func (h *harness) rowCount(t *testing.T, table string) int {
	t.Helper()

	var n int
	require.NoError(t, h.db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func logAt(addr common.Address, block uint64, tx byte) types.Log {
	return types.Log{
		Address:     addr,
		BlockNumber: block,
		TxHash:      common.Hash{tx},
		Topics:      []common.Hash{common.HexToHash("0xfeed")},
	}
}

func TestService_LogSourceFullRange(t *testing.T) {
	t.Parallel()

	addr := common.HexToAddress("0xaaaa")
	client := newFakeEthClient(
		logAt(addr, 10, 0x01),
		logAt(addr, 57, 0x02),
	)

	h := newHarness(t, client, Config{DefaultMaxBlockRange: 40})
	ctx := context.Background()

	end := uint64(100)
	src := sources.LogSource{
		SourceID:     "erc20",
		Chain:        1,
		ContractName: "Token",
		Start:        0,
		End:          &end,
		Criteria:     sources.LogFilterCriteria{Addresses: []common.Address{addr}},
	}

	h.run(t, ctx, []sources.Source{src}, 200)

	require.Equal(t, int32(1), h.completions.Load())

	key := pkgstore.LogFilterKey(1, src.Criteria)
	got, err := h.store.GetIntervals(ctx, 1, pkgstore.IntervalLogFilter, key)
	require.NoError(t, err)
	require.Equal(t, []pkgstore.BlockRange{{FromBlock: 0, ToBlock: 100}}, got)

	// Range [0,39] partitions at the log block 10, [40,79] at 57 and the
	// final range has no logs, so exactly these blocks are fetched.
	require.Equal(t, map[uint64]int{10: 1, 39: 1, 57: 1, 79: 1, 100: 1}, client.allBlockCalls())

	require.Equal(t, 2, h.rowCount(t, "logs"))
	require.Equal(t, 5, h.rowCount(t, "blocks"))
}

func TestService_CheckpointsStrictlyIncreasing(t *testing.T) {
	t.Parallel()

	addr := common.HexToAddress("0xaaaa")
	client := newFakeEthClient(
		logAt(addr, 10, 0x01),
		logAt(addr, 57, 0x02),
	)

	h := newHarness(t, client, Config{DefaultMaxBlockRange: 25, Concurrency: 1, CheckpointDebounce: time.Millisecond})
	ctx := context.Background()

	end := uint64(100)
	src := sources.LogSource{
		SourceID: "erc20",
		Chain:    1,
		Start:    0,
		End:      &end,
		Criteria: sources.LogFilterCriteria{Addresses: []common.Address{addr}},
	}

	h.run(t, ctx, []sources.Source{src}, 200)

	// The final frontier emission may land after completion.
	var got []sources.Checkpoint
	require.Eventually(t, func() bool {
		got = h.checkpoints.snapshot()
		return len(got) > 0 && got[len(got)-1].BlockNumber == 100
	}, 2*time.Second, 5*time.Millisecond)

	for i := 1; i < len(got); i++ {
		require.Greater(t, got[i].BlockTimestamp, got[i-1].BlockTimestamp)
		require.Greater(t, got[i].BlockNumber, got[i-1].BlockNumber)
	}
	require.Equal(t, uint64(1100), got[len(got)-1].BlockTimestamp)
}

func TestService_FullyCachedCompletesWithoutTasks(t *testing.T) {
	t.Parallel()

	addr := common.HexToAddress("0xaaaa")
	client := newFakeEthClient()

	h := newHarness(t, client, Config{})
	ctx := context.Background()

	end := uint64(100)
	src := sources.LogSource{
		SourceID: "erc20",
		Chain:    1,
		Start:    0,
		End:      &end,
		Criteria: sources.LogFilterCriteria{Addresses: []common.Address{addr}},
	}

	key := pkgstore.LogFilterKey(1, src.Criteria)
	require.NoError(t, h.store.InsertInterval(ctx, 1, pkgstore.IntervalLogFilter, key, pkgstore.BlockRange{FromBlock: 0, ToBlock: 100}))

	h.run(t, ctx, []sources.Source{src}, 200)

	require.Equal(t, int32(1), h.completions.Load())
	require.Empty(t, client.allBlockCalls())
	require.Zero(t, client.logsCallCount(0, 100))
}

func TestService_NoSourcesCompletesImmediately(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakeEthClient(), Config{})

	h.run(t, context.Background(), nil, 100)
	require.Equal(t, int32(1), h.completions.Load())
}

func TestService_TwoSourcesShareBlockFetch(t *testing.T) {
	t.Parallel()

	addrA := common.HexToAddress("0xaaaa")
	addrB := common.HexToAddress("0xbbbb")
	client := newFakeEthClient(
		logAt(addrA, 60, 0x01),
		logAt(addrB, 60, 0x02),
	)

	h := newHarness(t, client, Config{})
	ctx := context.Background()

	end := uint64(100)
	srcA := sources.LogSource{
		SourceID: "a",
		Chain:    1,
		Start:    0,
		End:      &end,
		Criteria: sources.LogFilterCriteria{Addresses: []common.Address{addrA}},
	}
	srcB := sources.LogSource{
		SourceID: "b",
		Chain:    1,
		Start:    50,
		End:      &end,
		Criteria: sources.LogFilterCriteria{Addresses: []common.Address{addrB}},
	}

	h.run(t, ctx, []sources.Source{srcA, srcB}, 200)

	// Block 60 carries data for both sources and block 100 closes both
	// ranges; each is fetched exactly once.
	require.Equal(t, map[uint64]int{60: 1, 100: 1}, client.allBlockCalls())

	for _, src := range []sources.LogSource{srcA, srcB} {
		key := pkgstore.LogFilterKey(1, src.Criteria)
		got, err := h.store.GetIntervals(ctx, 1, pkgstore.IntervalLogFilter, key)
		require.NoError(t, err)
		require.Equal(t, []pkgstore.BlockRange{{FromBlock: src.Start, ToBlock: 100}}, got)
	}

	require.Equal(t, 2, h.rowCount(t, "logs"))
}

func TestService_FactoryStreamsChildLogs(t *testing.T) {
	t.Parallel()

	factory := common.HexToAddress("0xfac")
	child := common.HexToAddress("0xc1d")
	selector := common.HexToHash("0x5e1ec7")

	factoryLog := types.Log{
		Address:     factory,
		BlockNumber: 20,
		TxHash:      common.Hash{0x10},
		Topics: []common.Hash{
			selector,
			common.BytesToHash(common.LeftPadBytes(child.Bytes(), 32)),
		},
	}
	childLog := logAt(child, 70, 0x20)

	client := newFakeEthClient(factoryLog, childLog)

	h := newHarness(t, client, Config{})
	ctx := context.Background()

	end := uint64(100)
	src := sources.FactorySource{
		SourceID:     "pairs",
		Chain:        1,
		ContractName: "Factory",
		Start:        0,
		End:          &end,
		Criteria: sources.FactoryCriteria{
			Address:              factory,
			EventSelector:        selector,
			ChildAddressLocation: "topic1",
		},
	}

	h.run(t, ctx, []sources.Source{src}, 200)

	batches, err := h.store.GetFactoryChildAddresses(ctx, 1, pkgstore.FactoryFilterKey(1, src.Criteria), 100, 0)
	require.NoError(t, err)
	require.Equal(t, [][]common.Address{{child}}, batches)

	childKey := pkgstore.LogFilterKey(1, src.ChildFilterCriteria())
	got, err := h.store.GetIntervals(ctx, 1, pkgstore.IntervalLogFilter, childKey)
	require.NoError(t, err)
	require.Equal(t, []pkgstore.BlockRange{{FromBlock: 0, ToBlock: 100}}, got)

	factoryKey := pkgstore.FactoryFilterKey(1, src.Criteria)
	got, err = h.store.GetIntervals(ctx, 1, pkgstore.IntervalFactoryLogFilter, factoryKey)
	require.NoError(t, err)
	require.Equal(t, []pkgstore.BlockRange{{FromBlock: 0, ToBlock: 100}}, got)

	// Discovery partitions at 20, child log fetching at 70; block 100
	// closes both ranges and is fetched once.
	require.Equal(t, map[uint64]int{20: 1, 70: 1, 100: 1}, client.allBlockCalls())

	require.Equal(t, 1, h.rowCount(t, "factory_child_addresses"))
	require.Equal(t, 1, h.rowCount(t, "logs"))
}

func TestService_FactoryCachedDiscoveryFetchesLogsDirectly(t *testing.T) {
	t.Parallel()

	factory := common.HexToAddress("0xfac")
	child := common.HexToAddress("0xc1d")
	selector := common.HexToHash("0x5e1ec7")

	client := newFakeEthClient(logAt(child, 70, 0x20))

	h := newHarness(t, client, Config{})
	ctx := context.Background()

	end := uint64(100)
	src := sources.FactorySource{
		SourceID: "pairs",
		Chain:    1,
		Start:    0,
		End:      &end,
		Criteria: sources.FactoryCriteria{
			Address:              factory,
			EventSelector:        selector,
			ChildAddressLocation: "topic1",
		},
	}

	// A previous run discovered the child set over the whole range.
	childKey := pkgstore.LogFilterKey(1, src.ChildFilterCriteria())
	factoryKey := pkgstore.FactoryFilterKey(1, src.Criteria)
	require.NoError(t, h.store.InsertInterval(ctx, 1, pkgstore.IntervalLogFilter, childKey, pkgstore.BlockRange{FromBlock: 0, ToBlock: 100}))
	require.NoError(t, h.store.InsertFactoryChildAddresses(ctx, 1, factoryKey, []pkgstore.ChildAddressEntry{
		{Address: child, BlockNumber: 20, LogIndex: 0},
	}))

	h.run(t, ctx, []sources.Source{src}, 200)

	// No discovery query is issued; logs are fetched over the whole range.
	require.Equal(t, 1, client.logsCallCount(0, 100))

	got, err := h.store.GetIntervals(ctx, 1, pkgstore.IntervalFactoryLogFilter, factoryKey)
	require.NoError(t, err)
	require.Equal(t, []pkgstore.BlockRange{{FromBlock: 0, ToBlock: 100}}, got)
}

func TestService_RetriesFailedTask(t *testing.T) {
	t.Parallel()

	addr := common.HexToAddress("0xaaaa")
	client := newFakeEthClient(logAt(addr, 25, 0x01))
	client.failGetLogs(0, 50, 2, fmt.Errorf("connection reset"))

	h := newHarness(t, client, Config{})
	ctx := context.Background()

	end := uint64(50)
	src := sources.LogSource{
		SourceID: "erc20",
		Chain:    1,
		Start:    0,
		End:      &end,
		Criteria: sources.LogFilterCriteria{Addresses: []common.Address{addr}},
	}

	h.run(t, ctx, []sources.Source{src}, 200)

	require.Equal(t, 3, client.logsCallCount(0, 50))
	require.Equal(t, int32(1), h.completions.Load())

	key := pkgstore.LogFilterKey(1, src.Criteria)
	got, err := h.store.GetIntervals(ctx, 1, pkgstore.IntervalLogFilter, key)
	require.NoError(t, err)
	require.Equal(t, []pkgstore.BlockRange{{FromBlock: 0, ToBlock: 50}}, got)
}

func TestService_SplitsOversizedRange(t *testing.T) {
	t.Parallel()

	addr := common.HexToAddress("0xaaaa")
	client := newFakeEthClient(logAt(addr, 25, 0x01))
	client.failGetLogs(0, 100, 1, dataError{
		msg: "Query returned more than 10000 results. Try with this block range [0x0, 0x31].",
	})

	h := newHarness(t, client, Config{})
	ctx := context.Background()

	end := uint64(100)
	src := sources.LogSource{
		SourceID: "erc20",
		Chain:    1,
		Start:    0,
		End:      &end,
		Criteria: sources.LogFilterCriteria{Addresses: []common.Address{addr}},
	}

	h.run(t, ctx, []sources.Source{src}, 200)

	// The provider suggestion splits the range at 0x31 = 49.
	require.Equal(t, 1, client.logsCallCount(0, 100))
	require.Equal(t, 1, client.logsCallCount(0, 49))
	require.Equal(t, 1, client.logsCallCount(50, 100))

	key := pkgstore.LogFilterKey(1, src.Criteria)
	got, err := h.store.GetIntervals(ctx, 1, pkgstore.IntervalLogFilter, key)
	require.NoError(t, err)
	require.Equal(t, []pkgstore.BlockRange{{FromBlock: 0, ToBlock: 100}}, got)
}

func TestService_BlockFilterFetchesOnlyMissingBlocks(t *testing.T) {
	t.Parallel()

	client := newFakeEthClient()

	h := newHarness(t, client, Config{})
	ctx := context.Background()

	// Block 13 is already persisted by a previous run.
	require.NoError(t, h.store.InsertBlock(ctx, 1, &rpc.Block{
		Hash:      common.Hash{0x13},
		Number:    hexutil.Uint64(13),
		Timestamp: hexutil.Uint64(1013),
	}, nil))

	end := uint64(30)
	src := sources.BlockSource{
		SourceID:   "every10",
		Chain:      1,
		SourceName: "blocks",
		Start:      0,
		End:        &end,
		Criteria:   sources.BlockFilterCriteria{Interval: 10, Offset: 3},
	}

	h.run(t, ctx, []sources.Source{src}, 200)

	// Matched blocks are 3, 13, 23; 13 is cached and 30 closes the range
	// without block data.
	require.Equal(t, map[uint64]int{3: 1, 23: 1}, client.allBlockCalls())

	key := pkgstore.BlockFilterKey(1, src.Criteria)
	got, err := h.store.GetIntervals(ctx, 1, pkgstore.IntervalBlockFilter, key)
	require.NoError(t, err)
	require.Equal(t, []pkgstore.BlockRange{{FromBlock: 0, ToBlock: 30}}, got)
}

func TestService_IncludeReceipts(t *testing.T) {
	t.Parallel()

	addr := common.HexToAddress("0xaaaa")
	client := newFakeEthClient(
		logAt(addr, 10, 0x01),
		logAt(addr, 10, 0x02),
	)

	h := newHarness(t, client, Config{})
	ctx := context.Background()

	end := uint64(20)
	src := sources.LogSource{
		SourceID: "erc20",
		Chain:    1,
		Start:    0,
		End:      &end,
		Criteria: sources.LogFilterCriteria{
			Addresses:                  []common.Address{addr},
			IncludeTransactionReceipts: true,
		},
	}

	h.run(t, ctx, []sources.Source{src}, 200)

	require.Equal(t, 2, h.rowCount(t, "transaction_receipts"))

	client.mu.Lock()
	defer client.mu.Unlock()
	require.Equal(t, 1, client.receiptCalls[common.Hash{0x01}])
	require.Equal(t, 1, client.receiptCalls[common.Hash{0x02}])
}

func TestService_SkipsSourceAboveFinalized(t *testing.T) {
	t.Parallel()

	addrA := common.HexToAddress("0xaaaa")
	addrB := common.HexToAddress("0xbbbb")
	client := newFakeEthClient(logAt(addrA, 40, 0x01))

	h := newHarness(t, client, Config{})
	ctx := context.Background()

	srcA := sources.LogSource{
		SourceID: "live",
		Chain:    1,
		Start:    0,
		Criteria: sources.LogFilterCriteria{Addresses: []common.Address{addrA}},
	}
	srcB := sources.LogSource{
		SourceID: "future",
		Chain:    1,
		Start:    500,
		Criteria: sources.LogFilterCriteria{Addresses: []common.Address{addrB}},
	}

	h.run(t, ctx, []sources.Source{srcA, srcB}, 100)

	require.Zero(t, client.logsCallCount(500, 500))

	// The skipped source does not pin block-task scheduling for the live
	// one.
	key := pkgstore.LogFilterKey(1, srcA.Criteria)
	got, err := h.store.GetIntervals(ctx, 1, pkgstore.IntervalLogFilter, key)
	require.NoError(t, err)
	require.Equal(t, []pkgstore.BlockRange{{FromBlock: 0, ToBlock: 100}}, got)
}

func TestService_ResumesFromPartialProgress(t *testing.T) {
	t.Parallel()

	addr := common.HexToAddress("0xaaaa")
	client := newFakeEthClient(logAt(addr, 75, 0x01))

	h := newHarness(t, client, Config{})
	ctx := context.Background()

	end := uint64(100)
	src := sources.LogSource{
		SourceID: "erc20",
		Chain:    1,
		Start:    0,
		End:      &end,
		Criteria: sources.LogFilterCriteria{Addresses: []common.Address{addr}},
	}

	key := pkgstore.LogFilterKey(1, src.Criteria)
	require.NoError(t, h.store.InsertInterval(ctx, 1, pkgstore.IntervalLogFilter, key, pkgstore.BlockRange{FromBlock: 0, ToBlock: 60}))

	h.run(t, ctx, []sources.Source{src}, 200)

	// Only the missing suffix is queried.
	require.Zero(t, client.logsCallCount(0, 100))
	require.Equal(t, 1, client.logsCallCount(61, 100))

	got, err := h.store.GetIntervals(ctx, 1, pkgstore.IntervalLogFilter, key)
	require.NoError(t, err)
	require.Equal(t, []pkgstore.BlockRange{{FromBlock: 0, ToBlock: 100}}, got)
}
