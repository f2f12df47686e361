// Package cache implements spec §4.2: a range-indexed, disk-persisted,
// crash-safe, reorg-tolerant store of historical DepositEvents. Grounded on
// bnb-chain-bsc's segmented-history design (history_segment_params.go:
// fixed-length segments anchored to a start/finality block pair) and on
// emperorhan-multichain-indexer's explicit ReorgEvent/FinalityPromotion
// event shapes, which this package's rollback/seal logic mirrors.
package cache

import "github.com/p2p-org/lido-council-daemon/internal/domain"

// sealedSegment is an immutable, on-disk [From, To) range. Once To <=
// head-FINALIZATION_DEPTH at write time, a segment is never rewritten; a
// later disagreement with its terminal BlockRef is FATAL.
type sealedSegment struct {
	From     uint64
	To       uint64
	Terminal domain.BlockRef // canonical BlockRef of block number To-1
	File     string
}

// manifestDTO is the JSON sidecar listing every sealed segment plus the
// chain identity tag that guards against cross-chain contamination.
type manifestDTO struct {
	ChainID  uint64             `json:"chain_id"`
	Segments []segmentDTO       `json:"segments"`
}

type segmentDTO struct {
	From           uint64 `json:"from"`
	To             uint64 `json:"to"`
	TerminalNumber uint64 `json:"terminal_number"`
	TerminalHash   string `json:"terminal_hash"`
	TerminalTime   uint64 `json:"terminal_time"`
	File           string `json:"file"`
}

// headDTO describes the mutable, unsealed tail of the cache: events
// indexed so far past the last sealed segment, plus the terminal BlockRef
// of the last block (to-1) of each window fetched (cheap reorg detection per
// spec §4.2). Binary event fields are hex-encoded for a readable head.json.
type headDTO struct {
	From      uint64            `json:"from"`
	To        uint64            `json:"to"`
	Events    []depositEventDTO `json:"events"`
	Terminals map[string]blockRefDTO `json:"terminals"` // key: decimal block number
}

type blockRefDTO struct {
	Number    uint64 `json:"number"`
	Hash      string `json:"hash"`
	Timestamp uint64 `json:"timestamp"`
}

type depositEventDTO struct {
	Pubkey    string      `json:"pubkey"`
	WC        string      `json:"wc"`
	Amount    uint64      `json:"amount_gwei"`
	Signature string      `json:"signature"`
	Block     blockRefDTO `json:"block"`
	LogIndex  uint32      `json:"log_index"`
	TxHash    string      `json:"tx_hash"`
}
