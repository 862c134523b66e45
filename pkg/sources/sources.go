package sources

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Kind identifies the variant of an event source.
type Kind string

const (
	// KindLog matches logs emitted by a fixed set of contract addresses.
	KindLog Kind = "log"

	// KindFactory matches logs emitted by child contracts whose addresses
	// are announced by an event on a parent contract.
	KindFactory Kind = "factory"

	// KindBlock matches blocks on a fixed numeric interval.
	KindBlock Kind = "block"

	// KindCallTrace matches function calls discovered via traces.
	KindCallTrace Kind = "callTrace"
)

// Source is a user-declared event source over a single network.
// The historical sync service schedules one or more progress trackers per
// source and fills the sync store over the source's target block range.
type Source interface {
	// ID uniquely identifies the source within a network. It is also used
	// as the metrics label because contract names are not guaranteed unique.
	ID() string

	// Name is the human-readable contract or source name, used in logs.
	Name() string

	ChainID() uint64
	StartBlock() uint64

	// EndBlock returns the configured end of the target range.
	// ok is false when the source is open-ended (sync up to finalized).
	EndBlock() (endBlock uint64, ok bool)

	// MaxBlockRange limits the block span of a single fetch task.
	// Zero means the network default applies.
	MaxBlockRange() uint64

	Kind() Kind
}

// LogFilterCriteria describes an eth_getLogs filter for a LogSource.
type LogFilterCriteria struct {
	Addresses                  []common.Address
	Topics                     [][]common.Hash
	IncludeTransactionReceipts bool
}

// FactoryCriteria describes a factory source: the parent contract address,
// the event announcing new children, where the child address lives inside
// that event, and the topic filter applied to child logs.
type FactoryCriteria struct {
	Address                    common.Address
	EventSelector              common.Hash
	ChildAddressLocation       ChildAddressLocation
	Topics                     [][]common.Hash
	IncludeTransactionReceipts bool
}

// BlockFilterCriteria matches blocks where (number - Offset) % Interval == 0.
type BlockFilterCriteria struct {
	Interval uint64
	Offset   uint64
}

// TraceFilterCriteria describes a function-call (trace) filter.
type TraceFilterCriteria struct {
	FromAddresses []common.Address
	ToAddresses   []common.Address
}

// ChildAddressLocation encodes where the child contract address is found in
// the factory event: one of "topic1", "topic2", "topic3", or "offsetN" for a
// byte offset N into the event data.
type ChildAddressLocation string

const offsetPrefix = "offset"

// TopicIndex returns the topic index (1..3) when the location is a topic.
func (l ChildAddressLocation) TopicIndex() (int, bool) {
	switch l {
	case "topic1":
		return 1, true
	case "topic2":
		return 2, true
	case "topic3":
		return 3, true
	default:
		return 0, false
	}
}

// DataOffset returns the byte offset into the event data for "offsetN"
// locations.
func (l ChildAddressLocation) DataOffset() (int, bool) {
	s := string(l)
	if !strings.HasPrefix(s, offsetPrefix) {
		return 0, false
	}

	offset, err := strconv.Atoi(s[len(offsetPrefix):])
	if err != nil || offset < 0 {
		return 0, false
	}

	return offset, true
}

// ParseChildAddressLocation validates and returns a ChildAddressLocation.
func ParseChildAddressLocation(s string) (ChildAddressLocation, error) {
	l := ChildAddressLocation(s)
	if _, ok := l.TopicIndex(); ok {
		return l, nil
	}
	if _, ok := l.DataOffset(); ok {
		return l, nil
	}

	return "", fmt.Errorf("invalid child address location: %q (must be topic1, topic2, topic3 or offsetN)", s)
}

// LogSource is a plain log filter source.
type LogSource struct {
	SourceID        string
	Chain           uint64
	ContractName    string
	Start           uint64
	End             *uint64
	Criteria        LogFilterCriteria
	BlockRangeLimit uint64
}

func (s LogSource) ID() string      { return s.SourceID }
func (s LogSource) Name() string    { return s.ContractName }
func (s LogSource) ChainID() uint64 { return s.Chain }

func (s LogSource) StartBlock() uint64 { return s.Start }

func (s LogSource) EndBlock() (uint64, bool) {
	if s.End == nil {
		return 0, false
	}
	return *s.End, true
}

func (s LogSource) MaxBlockRange() uint64 { return s.BlockRangeLimit }
func (s LogSource) Kind() Kind            { return KindLog }

// FactorySource is a factory-generated child contract log filter source.
type FactorySource struct {
	SourceID        string
	Chain           uint64
	ContractName    string
	Start           uint64
	End             *uint64
	Criteria        FactoryCriteria
	BlockRangeLimit uint64
}

func (s FactorySource) ID() string      { return s.SourceID }
func (s FactorySource) Name() string    { return s.ContractName }
func (s FactorySource) ChainID() uint64 { return s.Chain }

func (s FactorySource) StartBlock() uint64 { return s.Start }

func (s FactorySource) EndBlock() (uint64, bool) {
	if s.End == nil {
		return 0, false
	}
	return *s.End, true
}

func (s FactorySource) MaxBlockRange() uint64 { return s.BlockRangeLimit }
func (s FactorySource) Kind() Kind            { return KindFactory }

// ChildFilterCriteria returns the log filter criteria under which completed
// child-address discovery ranges are cached in the sync store. Keying the
// cache this way makes discovery ranges visible to subsequent runs.
func (s FactorySource) ChildFilterCriteria() LogFilterCriteria {
	return LogFilterCriteria{
		Addresses: []common.Address{s.Criteria.Address},
		Topics:    [][]common.Hash{{s.Criteria.EventSelector}},
	}
}

// BlockSource matches blocks on a fixed interval/offset schedule.
type BlockSource struct {
	SourceID   string
	Chain      uint64
	SourceName string
	Start      uint64
	End        *uint64
	Criteria   BlockFilterCriteria
}

func (s BlockSource) ID() string      { return s.SourceID }
func (s BlockSource) Name() string    { return s.SourceName }
func (s BlockSource) ChainID() uint64 { return s.Chain }

func (s BlockSource) StartBlock() uint64 { return s.Start }

func (s BlockSource) EndBlock() (uint64, bool) {
	if s.End == nil {
		return 0, false
	}
	return *s.End, true
}

func (s BlockSource) MaxBlockRange() uint64 { return 0 }
func (s BlockSource) Kind() Kind            { return KindBlock }

// CallTraceSource is a function-call (trace) filter source.
type CallTraceSource struct {
	SourceID        string
	Chain           uint64
	ContractName    string
	Start           uint64
	End             *uint64
	Criteria        TraceFilterCriteria
	BlockRangeLimit uint64
}

func (s CallTraceSource) ID() string      { return s.SourceID }
func (s CallTraceSource) Name() string    { return s.ContractName }
func (s CallTraceSource) ChainID() uint64 { return s.Chain }

func (s CallTraceSource) StartBlock() uint64 { return s.Start }

func (s CallTraceSource) EndBlock() (uint64, bool) {
	if s.End == nil {
		return 0, false
	}
	return *s.End, true
}

func (s CallTraceSource) MaxBlockRange() uint64 { return s.BlockRangeLimit }
func (s CallTraceSource) Kind() Kind            { return KindCallTrace }
