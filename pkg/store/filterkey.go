package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/goran-ethernal/BlockHarvester/pkg/sources"
)

// FilterKey returns the key under which a source's completed ranges are
// recorded. The key is a digest of the filter criteria, so two sources with
// identical criteria share cached progress while any criteria change starts
// from scratch.
func FilterKey(src sources.Source) string {
	switch s := src.(type) {
	case sources.LogSource:
		return LogFilterKey(s.ChainID(), s.Criteria)
	case sources.FactorySource:
		return FactoryFilterKey(s.ChainID(), s.Criteria)
	case sources.BlockSource:
		return BlockFilterKey(s.ChainID(), s.Criteria)
	case sources.CallTraceSource:
		return TraceFilterKey(s.ChainID(), s.Criteria)
	default:
		return digest(fmt.Sprintf("unknown:%d:%s", src.ChainID(), src.ID()))
	}
}

// LogFilterKey returns the progress key of a plain log filter.
func LogFilterKey(chainID uint64, c sources.LogFilterCriteria) string {
	var b strings.Builder
	fmt.Fprintf(&b, "log:%d:", chainID)
	writeAddresses(&b, c.Addresses)
	writeTopics(&b, c.Topics)
	fmt.Fprintf(&b, ":receipts=%t", c.IncludeTransactionReceipts)

	return digest(b.String())
}

// FactoryFilterKey returns the progress key of a factory child log filter.
func FactoryFilterKey(chainID uint64, c sources.FactoryCriteria) string {
	var b strings.Builder
	fmt.Fprintf(&b, "factory:%d:%s:%s:%s:", chainID,
		strings.ToLower(c.Address.Hex()),
		strings.ToLower(c.EventSelector.Hex()),
		c.ChildAddressLocation,
	)
	writeTopics(&b, c.Topics)
	fmt.Fprintf(&b, ":receipts=%t", c.IncludeTransactionReceipts)

	return digest(b.String())
}

// BlockFilterKey returns the progress key of an interval block filter.
func BlockFilterKey(chainID uint64, c sources.BlockFilterCriteria) string {
	return digest(fmt.Sprintf("block:%d:%d:%d", chainID, c.Interval, c.Offset))
}

// TraceFilterKey returns the progress key of a call trace filter.
func TraceFilterKey(chainID uint64, c sources.TraceFilterCriteria) string {
	var b strings.Builder
	fmt.Fprintf(&b, "trace:%d:", chainID)
	writeAddresses(&b, c.FromAddresses)
	b.WriteByte(':')
	writeAddresses(&b, c.ToAddresses)

	return digest(b.String())
}

func writeAddresses(b *strings.Builder, addrs []common.Address) {
	hexes := make([]string, len(addrs))
	for i, a := range addrs {
		hexes[i] = strings.ToLower(a.Hex())
	}
	sort.Strings(hexes)
	b.WriteString(strings.Join(hexes, ","))
}

func writeTopics(b *strings.Builder, topics [][]common.Hash) {
	for i, position := range topics {
		if i > 0 {
			b.WriteByte(';')
		}
		hexes := make([]string, len(position))
		for j, t := range position {
			hexes[j] = strings.ToLower(t.Hex())
		}
		sort.Strings(hexes)
		b.WriteString(strings.Join(hexes, ","))
	}
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
