package store

import (
	"github.com/ethereum/go-ethereum/common"

	// Registers the hash and address meddlers.
	_ "github.com/goran-ethernal/BlockHarvester/internal/db"
)

type dbInterval struct {
	FromBlock uint64 `meddler:"from_block"`
	ToBlock   uint64 `meddler:"to_block"`
}

type dbChildAddress struct {
	Address     common.Address `meddler:"child_address,address"`
	BlockNumber uint64         `meddler:"block_number"`
	LogIndex    uint64         `meddler:"log_index"`
}
