package domain

// ModuleID identifies a staking module on the StakingRouter contract.
type ModuleID uint32

// RegistryKeySnapshot is the result of one fetch against the external Keys
// API: the used/unused pubkey universe plus the EL block the snapshot was
// taken at. A snapshot is only usable if SnapshotBlock.Number is within
// MAX_SNAPSHOT_LAG of the block currently being processed.
type RegistryKeySnapshot struct {
	SnapshotBlock BlockRef
	Used          map[PubkeyHex]struct{}
	Unused        map[PubkeyHex]struct{}
	ByModule      map[ModuleID][]PubkeyHex
}

// PubkeyHex is a 0x-prefixed lowercase hex-encoded 48-byte BLS pubkey, used
// as a map key throughout the registry/cache/detector boundary so equality
// is a plain string comparison instead of a [48]byte compare-and-copy.
type PubkeyHex string

// IsFreshEnough reports whether the snapshot is usable against a pipeline
// run anchored at block B, per spec §4.1 step 4.
func (s RegistryKeySnapshot) IsFreshEnough(b BlockRef, maxSnapshotLag uint64) bool {
	if s.SnapshotBlock.Number+maxSnapshotLag < b.Number {
		return false
	}
	return true
}

// StakingModuleState mirrors the on-chain StakingRouter view of one module.
type StakingModuleState struct {
	ID                ModuleID
	IsActive          bool
	Nonce             uint64 // == keysOpIndex
	LastDepositBlock  uint64
}
