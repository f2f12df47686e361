// Package ports defines the interfaces the orchestrator and its supporting
// services depend on. Concrete implementations live under
// internal/adapters/*; tests substitute fakes against these same
// interfaces, following the teacher's ports/adapters split.
package ports

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/p2p-org/lido-council-daemon/internal/domain"
)

// Provider is the subset of the EL JSON-RPC surface the daemon consumes:
// eth_blockNumber, eth_getBlockByNumber, eth_getLogs (deposit contract),
// eth_call, eth_sendRawTransaction, eth_getTransactionReceipt, plus the
// nonce/gas-price reads the pause submitter needs to build a transaction.
type Provider interface {
	HeadBlockNumber(ctx context.Context) (uint64, error)
	BlockRefByNumber(ctx context.Context, number uint64) (domain.BlockRef, error)
	DepositLogs(ctx context.Context, fromBlock, toBlock uint64) ([]domain.DepositEvent, error)
	PendingNonce(ctx context.Context, addr common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendRawTransaction(ctx context.Context, raw []byte) ([32]byte, error)
	WaitForReceipt(ctx context.Context, txHash [32]byte) (bool, error)
}

// KeysAPI is the registry-keys fetcher's dependency on the external Keys
// API service.
type KeysAPI interface {
	FetchSnapshot(ctx context.Context) (domain.RegistryKeySnapshot, error)
}

// EventCache is the deposit-event cache's public contract: given a range
// query it returns all deposit events in log order, transparently
// fetching and persisting any missing sub-range.
type EventCache interface {
	// AdvanceTo ensures the cache is current up to block number N,
	// fetching and persisting any missing data. Idempotent, internally
	// serialized to at most one in-flight fetch.
	AdvanceTo(ctx context.Context, n uint64) error

	// Watermark returns the highest block number the cache is known to
	// be current up to.
	Watermark() uint64

	// Query returns deposit events whose block number falls in
	// [from, to), clamped to [from, watermark), in (block_number,
	// log_index) order.
	Query(ctx context.Context, from, to uint64) ([]domain.DepositEvent, error)

	// Close flushes any in-memory state to disk.
	Close() error
}

// GuardianProbe reads guardian-list and module-state context from the DSM
// and StakingRouter contracts at a given block.
type GuardianProbe interface {
	GuardianIdentity(ctx context.Context, at domain.BlockRef) (domain.GuardianIdentity, error)
	ModuleStates(ctx context.Context, at domain.BlockRef) ([]domain.StakingModuleState, error)
	DepositRoot(ctx context.Context, at domain.BlockRef) ([32]byte, error)
	MessagePrefixes(ctx context.Context) (attest, pause [32]byte, err error)
	MaxDeposits(ctx context.Context, at domain.BlockRef) (uint64, error)
}

// Signer holds the guardian's private key and produces deterministic
// signatures for attest/pause messages without ever exposing the key.
type Signer interface {
	Address() common.Address
	SignAttest(depositRoot [32]byte, nonce uint64, block domain.BlockRef, module domain.ModuleID, prefix [32]byte) (domain.Signature, error)
	SignPause(block domain.BlockRef, module domain.ModuleID, prefix [32]byte) (domain.Signature, error)
	// SignTransaction signs an Ethereum transaction with the same guardian
	// wallet key, for the pause submitter's on-chain pauseDeposits call.
	SignTransaction(tx *types.Transaction, chainID uint64) (*types.Transaction, error)
}

// Bus publishes signed messages to the external message broker (RabbitMQ
// or Kafka, chosen by config).
type Bus interface {
	PublishAttest(ctx context.Context, msg domain.AttestMessage) error
	PublishPause(ctx context.Context, msg domain.PauseMessage) error
	Close() error
}

// PauseSubmitter serializes and submits pauseDeposits(...) transactions
// on-chain, process-wide at-most-one-in-flight.
type PauseSubmitter interface {
	SubmitPause(ctx context.Context, block domain.BlockRef, module domain.ModuleID, sig domain.Signature) error
}

// AuditStore is the local operational/audit trail (skip reasons, pause
// attempt history). Never consulted for correctness, purely observability.
type AuditStore interface {
	RecordSkip(ctx context.Context, block uint64, module domain.ModuleID, reason string) error
	RecordPauseAttempt(ctx context.Context, module domain.ModuleID, block uint64, outcome string) error
}

// ConsensusFinality is the optional CL cross-check described in
// SPEC_FULL.md §2.1/§6.3.
type ConsensusFinality interface {
	FinalizedELBlockNumber(ctx context.Context) (uint64, bool, error)
}
