package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/russross/meddler"

	internalcommon "github.com/goran-ethernal/BlockHarvester/internal/common"
	"github.com/goran-ethernal/BlockHarvester/internal/intervals"
	"github.com/goran-ethernal/BlockHarvester/internal/logger"
	"github.com/goran-ethernal/BlockHarvester/internal/metrics"
	"github.com/goran-ethernal/BlockHarvester/pkg/rpc"
	pkgstore "github.com/goran-ethernal/BlockHarvester/pkg/store"
)

// Compile-time check to ensure SQLiteStore implements pkgstore.SyncStore.
var _ pkgstore.SyncStore = (*SQLiteStore)(nil)

var intervalTables = map[pkgstore.IntervalKind]string{
	pkgstore.IntervalLogFilter:        "log_filter_intervals",
	pkgstore.IntervalFactoryLogFilter: "factory_log_filter_intervals",
	pkgstore.IntervalBlockFilter:      "block_filter_intervals",
	pkgstore.IntervalTraceFilter:      "trace_filter_intervals",
}

// SQLiteStore implements the SyncStore interface using SQLite as the backend.
type SQLiteStore struct {
	db  *sql.DB
	log *logger.Logger
}

// NewSQLiteStore creates a new SQLite-backed SyncStore.
func NewSQLiteStore(db *sql.DB, log *logger.Logger) *SQLiteStore {
	return &SQLiteStore{
		db:  db,
		log: log.WithComponent(internalcommon.ComponentSyncStore),
	}
}

// InsertInterval records a completed range for a filter. Overlapping records
// are merged on read.
func (s *SQLiteStore) InsertInterval(ctx context.Context, chainID uint64, kind pkgstore.IntervalKind, filterKey string, r pkgstore.BlockRange) error {
	table, ok := intervalTables[kind]
	if !ok {
		return fmt.Errorf("unknown interval kind %q", kind)
	}

	metrics.DBQueryInc("insert_interval")

	query := fmt.Sprintf(`
		INSERT OR IGNORE INTO %s (chain_id, filter_key, from_block, to_block)
		VALUES (?, ?, ?, ?)
	`, table)

	if _, err := s.db.ExecContext(ctx, query, chainID, filterKey, r.FromBlock, r.ToBlock); err != nil {
		metrics.DBErrorInc("insert_interval")
		return fmt.Errorf("failed to insert interval: %w", err)
	}

	return nil
}

// GetIntervals returns the canonical completed ranges recorded for a filter.
func (s *SQLiteStore) GetIntervals(ctx context.Context, chainID uint64, kind pkgstore.IntervalKind, filterKey string) ([]pkgstore.BlockRange, error) {
	table, ok := intervalTables[kind]
	if !ok {
		return nil, fmt.Errorf("unknown interval kind %q", kind)
	}

	metrics.DBQueryInc("get_intervals")

	query := fmt.Sprintf(`
		SELECT from_block, to_block FROM %s
		WHERE chain_id = ? AND filter_key = ?
		ORDER BY from_block ASC
	`, table)

	var rows []*dbInterval
	if err := meddler.QueryAll(s.db, &rows, query, chainID, filterKey); err != nil {
		metrics.DBErrorInc("get_intervals")
		return nil, fmt.Errorf("failed to query intervals: %w", err)
	}

	set := make([]intervals.Interval, len(rows))
	for i, r := range rows {
		set[i] = intervals.Interval{Start: r.FromBlock, End: r.ToBlock}
	}

	merged := intervals.Normalize(set)
	out := make([]pkgstore.BlockRange, len(merged))
	for i, iv := range merged {
		out[i] = pkgstore.BlockRange{FromBlock: iv.Start, ToBlock: iv.End}
	}

	return out, nil
}

// InsertLogs persists matched logs. Re-inserted logs are ignored.
func (s *SQLiteStore) InsertLogs(ctx context.Context, chainID uint64, logs []types.Log) error {
	if len(logs) == 0 {
		return nil
	}

	metrics.DBQueryInc("insert_logs")

	return s.withTx(ctx, func(tx *sql.Tx) error {
		const query = `
			INSERT OR IGNORE INTO logs
			(chain_id, block_number, log_index, block_hash, transaction_hash, address,
			 topic0, topic1, topic2, topic3, data)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`

		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to prepare log insert: %w", err)
		}
		defer stmt.Close()

		for _, l := range logs {
			topics := make([]any, 4)
			for i := range l.Topics {
				if i > 3 {
					break
				}
				topics[i] = l.Topics[i].Hex()
			}

			_, err := stmt.ExecContext(ctx,
				chainID, l.BlockNumber, l.Index,
				l.BlockHash.Hex(), l.TxHash.Hex(), l.Address.Hex(),
				topics[0], topics[1], topics[2], topics[3], l.Data,
			)
			if err != nil {
				return fmt.Errorf("failed to insert log %d/%d: %w", l.BlockNumber, l.Index, err)
			}
		}

		return nil
	})
}

// InsertBlock persists a block and the subset of its transactions whose
// hashes appear in txHashes.
func (s *SQLiteStore) InsertBlock(ctx context.Context, chainID uint64, block *rpc.Block, txHashes map[common.Hash]struct{}) error {
	metrics.DBQueryInc("insert_block")

	return s.withTx(ctx, func(tx *sql.Tx) error {
		const blockQuery = `
			INSERT OR IGNORE INTO blocks
			(chain_id, number, hash, parent_hash, timestamp, gas_used, gas_limit)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`

		_, err := tx.ExecContext(ctx, blockQuery,
			chainID, uint64(block.Number),
			block.Hash.Hex(), block.ParentHash.Hex(),
			uint64(block.Timestamp), uint64(block.GasUsed), uint64(block.GasLimit),
		)
		if err != nil {
			return fmt.Errorf("failed to insert block %d: %w", uint64(block.Number), err)
		}

		if len(txHashes) == 0 {
			return nil
		}

		const txQuery = `
			INSERT OR IGNORE INTO transactions
			(chain_id, hash, block_number, transaction_index, from_address, to_address, value, input)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`

		stmt, err := tx.PrepareContext(ctx, txQuery)
		if err != nil {
			return fmt.Errorf("failed to prepare transaction insert: %w", err)
		}
		defer stmt.Close()

		for _, t := range block.Transactions {
			if _, ok := txHashes[t.Hash]; !ok {
				continue
			}

			var to any
			if t.To != nil {
				to = t.To.Hex()
			}

			var value any
			if t.Value != nil {
				value = t.Value.String()
			}

			_, err := stmt.ExecContext(ctx,
				chainID, t.Hash.Hex(),
				uint64(t.BlockNumber), uint64(t.TransactionIndex),
				t.From.Hex(), to, value, []byte(t.Input),
			)
			if err != nil {
				return fmt.Errorf("failed to insert transaction %s: %w", t.Hash, err)
			}
		}

		return nil
	})
}

// InsertReceipts persists transaction receipts.
func (s *SQLiteStore) InsertReceipts(ctx context.Context, chainID uint64, receipts []*rpc.Receipt) error {
	if len(receipts) == 0 {
		return nil
	}

	metrics.DBQueryInc("insert_receipts")

	return s.withTx(ctx, func(tx *sql.Tx) error {
		const query = `
			INSERT OR IGNORE INTO transaction_receipts
			(chain_id, transaction_hash, block_number, status, gas_used)
			VALUES (?, ?, ?, ?, ?)
		`

		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to prepare receipt insert: %w", err)
		}
		defer stmt.Close()

		for _, r := range receipts {
			_, err := stmt.ExecContext(ctx,
				chainID, r.TransactionHash.Hex(),
				uint64(r.BlockNumber), uint64(r.Status), uint64(r.GasUsed),
			)
			if err != nil {
				return fmt.Errorf("failed to insert receipt %s: %w", r.TransactionHash, err)
			}
		}

		return nil
	})
}

// InsertFactoryChildAddresses persists discovered child addresses.
func (s *SQLiteStore) InsertFactoryChildAddresses(ctx context.Context, chainID uint64, factoryKey string, entries []pkgstore.ChildAddressEntry) error {
	if len(entries) == 0 {
		return nil
	}

	metrics.DBQueryInc("insert_factory_children")

	return s.withTx(ctx, func(tx *sql.Tx) error {
		const query = `
			INSERT OR IGNORE INTO factory_child_addresses
			(chain_id, factory_key, child_address, block_number, log_index)
			VALUES (?, ?, ?, ?, ?)
		`

		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to prepare child address insert: %w", err)
		}
		defer stmt.Close()

		for _, e := range entries {
			_, err := stmt.ExecContext(ctx,
				chainID, factoryKey, e.Address.Hex(), e.BlockNumber, e.LogIndex,
			)
			if err != nil {
				return fmt.Errorf("failed to insert child address %s: %w", e.Address, err)
			}
		}

		return nil
	})
}

// GetFactoryChildAddresses returns the distinct child addresses of a factory
// announced at or below toBlock, in discovery order, batched.
func (s *SQLiteStore) GetFactoryChildAddresses(ctx context.Context, chainID uint64, factoryKey string, toBlock uint64, batchSize int) ([][]common.Address, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	metrics.DBQueryInc("get_factory_children")

	const query = `
		SELECT child_address, block_number, log_index FROM factory_child_addresses
		WHERE chain_id = ? AND factory_key = ? AND block_number <= ?
		ORDER BY block_number ASC, log_index ASC
	`

	var rows []*dbChildAddress
	if err := meddler.QueryAll(s.db, &rows, query, chainID, factoryKey, toBlock); err != nil {
		metrics.DBErrorInc("get_factory_children")
		return nil, fmt.Errorf("failed to query child addresses: %w", err)
	}

	seen := make(map[common.Address]struct{}, len(rows))

	var batches [][]common.Address
	var batch []common.Address
	for _, r := range rows {
		if _, ok := seen[r.Address]; ok {
			continue
		}
		seen[r.Address] = struct{}{}

		batch = append(batch, r.Address)
		if len(batch) == batchSize {
			batches = append(batches, batch)
			batch = nil
		}
	}
	if len(batch) > 0 {
		batches = append(batches, batch)
	}

	return batches, nil
}

// HasBlock reports whether the block is already persisted.
func (s *SQLiteStore) HasBlock(ctx context.Context, chainID uint64, number uint64) (bool, error) {
	metrics.DBQueryInc("has_block")

	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM blocks WHERE chain_id = ? AND number = ?",
		chainID, number,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		metrics.DBErrorInc("has_block")
		return false, fmt.Errorf("failed to query block %d: %w", number, err)
	}

	return true, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Warnf("rollback failed: %v", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
