package sources

// Checkpoint describes the durable sync frontier of a network: every event
// at or below BlockNumber has been written to the sync store. Emitted
// checkpoints advance monotonically in both timestamp and block number.
type Checkpoint struct {
	BlockTimestamp uint64
	ChainID        uint64
	BlockNumber    uint64
}
