package domain

import "encoding/hex"

// DepositEvent is a historical DepositContract log carrying a BLS pubkey
// that has received ETH. Content-addressable by (Block.Hash, LogIndex):
// for a given pair the event is unique and immutable.
type DepositEvent struct {
	Pubkey    [48]byte
	WC        [32]byte
	AmountGwei uint64
	Signature [96]byte
	Block     BlockRef
	LogIndex  uint32
	TxHash    [32]byte
}

// Key returns the content-address of the event.
func (d DepositEvent) Key() DepositEventKey {
	return DepositEventKey{BlockHash: d.Block.Hash, LogIndex: d.LogIndex}
}

// DepositEventKey is the unique, immutable identity of a deposit event.
type DepositEventKey struct {
	BlockHash [32]byte
	LogIndex  uint32
}

// PubkeyHex renders the 48-byte BLS pubkey as a lowercase 0x-prefixed hex
// string, the form used by the Keys API and bus messages.
func (d DepositEvent) PubkeyHex() string {
	return "0x" + hex.EncodeToString(d.Pubkey[:])
}
