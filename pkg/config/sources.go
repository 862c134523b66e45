package config

import (
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/goran-ethernal/BlockHarvester/pkg/sources"
)

// SourcesConfig declares the event sources of a network.
type SourcesConfig struct {
	// Logs contains plain log filter sources
	Logs []LogSourceConfig `yaml:"logs,omitempty" json:"logs,omitempty" toml:"logs,omitempty"`

	// Factories contains factory child contract sources
	Factories []FactorySourceConfig `yaml:"factories,omitempty" json:"factories,omitempty" toml:"factories,omitempty"`

	// Blocks contains block interval sources
	Blocks []BlockSourceConfig `yaml:"blocks,omitempty" json:"blocks,omitempty" toml:"blocks,omitempty"`

	// Traces contains function call trace sources
	Traces []TraceSourceConfig `yaml:"traces,omitempty" json:"traces,omitempty" toml:"traces,omitempty"`
}

// LogSourceConfig represents a plain log filter source.
type LogSourceConfig struct {
	// ID is a unique identifier for this source within the network
	ID string `yaml:"id" json:"id" toml:"id"`

	// Name is the human-readable contract name
	Name string `yaml:"name" json:"name" toml:"name"`

	// Addresses is the set of contract addresses to match (empty = all)
	Addresses []string `yaml:"addresses,omitempty" json:"addresses,omitempty" toml:"addresses,omitempty"`

	// Topics is the positional topic filter; each position lists the
	// accepted values (empty position = any)
	Topics [][]string `yaml:"topics,omitempty" json:"topics,omitempty" toml:"topics,omitempty"`

	// StartBlock is the first block of the target range
	StartBlock uint64 `yaml:"start_block" json:"start_block" toml:"start_block"`

	// EndBlock is the last block of the target range (omitted = up to finalized)
	EndBlock *uint64 `yaml:"end_block,omitempty" json:"end_block,omitempty" toml:"end_block,omitempty"`

	// MaxBlockRange overrides the network default block span per fetch
	MaxBlockRange uint64 `yaml:"max_block_range,omitempty" json:"max_block_range,omitempty" toml:"max_block_range,omitempty"` //nolint:lll

	// IncludeTransactionReceipts fetches receipts for matched transactions
	IncludeTransactionReceipts bool `yaml:"include_transaction_receipts,omitempty" json:"include_transaction_receipts,omitempty" toml:"include_transaction_receipts,omitempty"` //nolint:lll
}

// FactorySourceConfig represents a factory child contract source.
type FactorySourceConfig struct {
	// ID is a unique identifier for this source within the network
	ID string `yaml:"id" json:"id" toml:"id"`

	// Name is the human-readable factory name
	Name string `yaml:"name" json:"name" toml:"name"`

	// Address is the factory contract address
	Address string `yaml:"address" json:"address" toml:"address"`

	// EventSelector is the topic0 of the event announcing new children
	EventSelector string `yaml:"event_selector" json:"event_selector" toml:"event_selector"`

	// ChildAddressLocation is where the child address lives in the event:
	// "topic1", "topic2", "topic3" or "offsetN"
	ChildAddressLocation string `yaml:"child_address_location" json:"child_address_location" toml:"child_address_location"` //nolint:lll

	// Topics is the positional topic filter applied to child contract logs
	Topics [][]string `yaml:"topics,omitempty" json:"topics,omitempty" toml:"topics,omitempty"`

	// StartBlock is the first block of the target range
	StartBlock uint64 `yaml:"start_block" json:"start_block" toml:"start_block"`

	// EndBlock is the last block of the target range (omitted = up to finalized)
	EndBlock *uint64 `yaml:"end_block,omitempty" json:"end_block,omitempty" toml:"end_block,omitempty"`

	// MaxBlockRange overrides the network default block span per fetch
	MaxBlockRange uint64 `yaml:"max_block_range,omitempty" json:"max_block_range,omitempty" toml:"max_block_range,omitempty"` //nolint:lll

	// IncludeTransactionReceipts fetches receipts for matched transactions
	IncludeTransactionReceipts bool `yaml:"include_transaction_receipts,omitempty" json:"include_transaction_receipts,omitempty" toml:"include_transaction_receipts,omitempty"` //nolint:lll
}

// BlockSourceConfig represents a block interval source.
type BlockSourceConfig struct {
	// ID is a unique identifier for this source within the network
	ID string `yaml:"id" json:"id" toml:"id"`

	// Name is the human-readable source name
	Name string `yaml:"name" json:"name" toml:"name"`

	// Interval matches blocks where (number - offset) % interval == 0
	Interval uint64 `yaml:"interval" json:"interval" toml:"interval"`

	// Offset shifts the matched block schedule
	Offset uint64 `yaml:"offset,omitempty" json:"offset,omitempty" toml:"offset,omitempty"`

	// StartBlock is the first block of the target range
	StartBlock uint64 `yaml:"start_block" json:"start_block" toml:"start_block"`

	// EndBlock is the last block of the target range (omitted = up to finalized)
	EndBlock *uint64 `yaml:"end_block,omitempty" json:"end_block,omitempty" toml:"end_block,omitempty"`
}

// TraceSourceConfig represents a function call trace source.
type TraceSourceConfig struct {
	// ID is a unique identifier for this source within the network
	ID string `yaml:"id" json:"id" toml:"id"`

	// Name is the human-readable contract name
	Name string `yaml:"name" json:"name" toml:"name"`

	// FromAddresses filters calls by sender (empty = any)
	FromAddresses []string `yaml:"from_addresses,omitempty" json:"from_addresses,omitempty" toml:"from_addresses,omitempty"` //nolint:lll

	// ToAddresses filters calls by recipient (empty = any)
	ToAddresses []string `yaml:"to_addresses,omitempty" json:"to_addresses,omitempty" toml:"to_addresses,omitempty"`

	// StartBlock is the first block of the target range
	StartBlock uint64 `yaml:"start_block" json:"start_block" toml:"start_block"`

	// EndBlock is the last block of the target range (omitted = up to finalized)
	EndBlock *uint64 `yaml:"end_block,omitempty" json:"end_block,omitempty" toml:"end_block,omitempty"`

	// MaxBlockRange overrides the network default block span per fetch
	MaxBlockRange uint64 `yaml:"max_block_range,omitempty" json:"max_block_range,omitempty" toml:"max_block_range,omitempty"` //nolint:lll
}

// Validate checks the declared sources for missing fields and duplicate IDs.
func (s *SourcesConfig) Validate() error {
	if len(s.Logs)+len(s.Factories)+len(s.Blocks)+len(s.Traces) == 0 {
		return fmt.Errorf("at least one source must be configured")
	}

	ids := make(map[string]bool)
	register := func(id, kind string) error {
		if id == "" {
			return fmt.Errorf("%s source: id is required", kind)
		}
		if ids[id] {
			return fmt.Errorf("duplicate source id '%s'", id)
		}
		ids[id] = true
		return nil
	}

	for _, src := range s.Logs {
		if err := register(src.ID, "log"); err != nil {
			return err
		}
		for _, addr := range src.Addresses {
			if !ethcommon.IsHexAddress(addr) {
				return fmt.Errorf("log source '%s': invalid address '%s'", src.ID, addr)
			}
		}
	}

	for _, src := range s.Factories {
		if err := register(src.ID, "factory"); err != nil {
			return err
		}
		if !ethcommon.IsHexAddress(src.Address) {
			return fmt.Errorf("factory source '%s': invalid address '%s'", src.ID, src.Address)
		}
		if src.EventSelector == "" {
			return fmt.Errorf("factory source '%s': event_selector is required", src.ID)
		}
		if _, err := sources.ParseChildAddressLocation(src.ChildAddressLocation); err != nil {
			return fmt.Errorf("factory source '%s': %w", src.ID, err)
		}
	}

	for _, src := range s.Blocks {
		if err := register(src.ID, "block"); err != nil {
			return err
		}
		if src.Interval == 0 {
			return fmt.Errorf("block source '%s': interval must be greater than zero", src.ID)
		}
	}

	for _, src := range s.Traces {
		if err := register(src.ID, "trace"); err != nil {
			return err
		}
		for _, addr := range append(append([]string{}, src.FromAddresses...), src.ToAddresses...) {
			if !ethcommon.IsHexAddress(addr) {
				return fmt.Errorf("trace source '%s': invalid address '%s'", src.ID, addr)
			}
		}
	}

	return nil
}

// BuildSources converts the declared sources of a network into their runtime
// representation. Validate must pass before calling this.
func (n *NetworkConfig) BuildSources() ([]sources.Source, error) {
	var out []sources.Source

	for _, src := range n.Sources.Logs {
		out = append(out, sources.LogSource{
			SourceID:     src.ID,
			Chain:        n.ChainID,
			ContractName: src.Name,
			Start:        src.StartBlock,
			End:          src.EndBlock,
			Criteria: sources.LogFilterCriteria{
				Addresses:                  parseAddresses(src.Addresses),
				Topics:                     parseTopics(src.Topics),
				IncludeTransactionReceipts: src.IncludeTransactionReceipts,
			},
			BlockRangeLimit: src.MaxBlockRange,
		})
	}

	for _, src := range n.Sources.Factories {
		loc, err := sources.ParseChildAddressLocation(src.ChildAddressLocation)
		if err != nil {
			return nil, fmt.Errorf("factory source '%s': %w", src.ID, err)
		}

		out = append(out, sources.FactorySource{
			SourceID:     src.ID,
			Chain:        n.ChainID,
			ContractName: src.Name,
			Start:        src.StartBlock,
			End:          src.EndBlock,
			Criteria: sources.FactoryCriteria{
				Address:                    ethcommon.HexToAddress(src.Address),
				EventSelector:              ethcommon.HexToHash(src.EventSelector),
				ChildAddressLocation:       loc,
				Topics:                     parseTopics(src.Topics),
				IncludeTransactionReceipts: src.IncludeTransactionReceipts,
			},
			BlockRangeLimit: src.MaxBlockRange,
		})
	}

	for _, src := range n.Sources.Blocks {
		out = append(out, sources.BlockSource{
			SourceID:   src.ID,
			Chain:      n.ChainID,
			SourceName: src.Name,
			Start:      src.StartBlock,
			End:        src.EndBlock,
			Criteria: sources.BlockFilterCriteria{
				Interval: src.Interval,
				Offset:   src.Offset,
			},
		})
	}

	for _, src := range n.Sources.Traces {
		out = append(out, sources.CallTraceSource{
			SourceID:     src.ID,
			Chain:        n.ChainID,
			ContractName: src.Name,
			Start:        src.StartBlock,
			End:          src.EndBlock,
			Criteria: sources.TraceFilterCriteria{
				FromAddresses: parseAddresses(src.FromAddresses),
				ToAddresses:   parseAddresses(src.ToAddresses),
			},
			BlockRangeLimit: src.MaxBlockRange,
		})
	}

	return out, nil
}

func parseAddresses(raw []string) []ethcommon.Address {
	if len(raw) == 0 {
		return nil
	}

	out := make([]ethcommon.Address, len(raw))
	for i, s := range raw {
		out[i] = ethcommon.HexToAddress(s)
	}
	return out
}

func parseTopics(raw [][]string) [][]ethcommon.Hash {
	if len(raw) == 0 {
		return nil
	}

	out := make([][]ethcommon.Hash, len(raw))
	for i, position := range raw {
		if len(position) == 0 {
			continue
		}
		hashes := make([]ethcommon.Hash, len(position))
		for j, s := range position {
			hashes[j] = ethcommon.HexToHash(s)
		}
		out[i] = hashes
	}
	return out
}
