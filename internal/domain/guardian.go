package domain

import "github.com/ethereum/go-ethereum/common"

// GuardianIdentity is the local wallet's position within the DSM guardian
// set at a given block: Index is -1 if the wallet address is not currently
// a guardian, in which case signing is disabled for that block.
type GuardianIdentity struct {
	Address common.Address
	Index   int32
}

// InSet reports whether the wallet is a recognized guardian.
func (g GuardianIdentity) InSet() bool {
	return g.Index >= 0
}
