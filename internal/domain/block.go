package domain

import "fmt"

// BlockRef identifies an execution-layer block by number, hash and
// timestamp. It is immutable once produced and tags every cached artifact
// so that reorgs can be detected cheaply by comparing refs rather than
// replaying full block bodies.
type BlockRef struct {
	Number    uint64
	Hash      [32]byte
	Timestamp uint64
}

func (b BlockRef) String() string {
	return fmt.Sprintf("#%d(%x)", b.Number, b.Hash[:4])
}

// SameChain reports whether two refs describe the same block.
func (b BlockRef) SameChain(other BlockRef) bool {
	return b.Number == other.Number && b.Hash == other.Hash
}
