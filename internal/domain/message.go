package domain

import "github.com/ethereum/go-ethereum/common"

// Signature is a recoverable secp256k1 signature in both expanded
// {r, s, v} and EIP-2098 compact {r, vs} forms, the latter being what the
// DSM contract's pauseDeposits(...) and guardian-signature verification
// expect on the wire.
type Signature struct {
	R  [32]byte
	S  [32]byte
	V  uint8
	VS [32]byte
}

// AttestMessage authorizes the next deposit batch for one staking module.
type AttestMessage struct {
	BlockNumber  uint64
	BlockHash    [32]byte
	DepositRoot  [32]byte
	Nonce        uint64
	ModuleID     ModuleID
	Signature    Signature
	GuardianAddr common.Address
	GuardianIdx  int32
}

// PauseMessage halts further deposits on one staking module.
type PauseMessage struct {
	BlockNumber  uint64
	ModuleID     ModuleID
	Signature    Signature
	GuardianAddr common.Address
	GuardianIdx  int32
}

// DecisionKind enumerates the three possible per-module outcomes of one
// orchestrator pass, per spec §4.1.
type DecisionKind int

const (
	DecisionSkip DecisionKind = iota
	DecisionAttest
	DecisionPause
)

// Decision is the orchestrator's verdict for one staking module at one
// block. At most one Decision is produced per (block, module) pair.
type Decision struct {
	Module     ModuleID
	Block      BlockRef
	Kind       DecisionKind
	SkipReason string
	Attest     *AttestMessage
	Pause      *PauseMessage
}
