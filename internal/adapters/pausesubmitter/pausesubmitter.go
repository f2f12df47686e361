// Package pausesubmitter implements spec §4.6's on-chain pause path: a
// process-wide serialized `pauseDeposits` submitter that prevents two pause
// transactions from racing for the same wallet nonce (spec §5). Grounded
// on keep-network-keep-ecdsa's manual nonce/transaction-construction
// pattern (tests/ethereum_smoke_test.go: PendingNonceAt + a keyed
// transactor), adapted here without contract-binding codegen: the calldata
// comes from internal/adapters/contracts.PackPauseDeposits and the
// transaction itself is built and signed by hand.
package pausesubmitter

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/p2p-org/lido-council-daemon/internal/domain"
	"github.com/p2p-org/lido-council-daemon/internal/ports"
)

// State is the pause submitter's per-module state machine, spec §4.6:
// Idle → Signing → Broadcasting → OnChainPending → Idle|Failed.
type State int32

const (
	StateIdle State = iota
	StateSigning
	StateBroadcasting
	StateOnChainPending
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSigning:
		return "signing"
	case StateBroadcasting:
		return "broadcasting"
	case StateOnChainPending:
		return "onchain_pending"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// pauseGasLimit is a fixed gas limit for pauseDeposits; the call is cheap
// and constant-cost, so gas estimation is skipped (and would itself be
// another eth_call round trip on the hot pause path).
const pauseGasLimit = 300_000

// contractPacker is the minimal contract surface needed to build the
// pauseDeposits calldata; satisfied by *contracts.GuardianProbe.
type contractPacker interface {
	PackPauseDeposits(blockNumber uint64, moduleID uint32, r, vs [32]byte) ([]byte, error)
}

// Submitter implements ports.PauseSubmitter. The mutex mu, held by the one
// Submitter the daemon builds, serializes every SubmitPause call across all
// modules: the wallet has exactly one nonce and two in-flight pause
// transactions would race for it.
type Submitter struct {
	mu sync.Mutex

	provider   ports.Provider
	signer     ports.Signer
	contract   contractPacker
	dsmAddress common.Address
	chainID    uint64
	audit      ports.AuditStore

	statesMu sync.Mutex
	states   map[domain.ModuleID]State
}

// New builds a Submitter targeting dsmAddress for pauseDeposits calls.
func New(provider ports.Provider, signer ports.Signer, contract contractPacker, dsmAddress common.Address, chainID uint64, audit ports.AuditStore) *Submitter {
	return &Submitter{
		provider:   provider,
		signer:     signer,
		contract:   contract,
		dsmAddress: dsmAddress,
		chainID:    chainID,
		audit:      audit,
		states:     map[domain.ModuleID]State{},
	}
}

var _ ports.PauseSubmitter = (*Submitter)(nil)

func (s *Submitter) stateOf(module domain.ModuleID) State {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()
	return s.states[module]
}

func (s *Submitter) setState(module domain.ModuleID, state State) {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()
	s.states[module] = state
}

// SubmitPause advances the named module's pause state machine: builds
// pauseDeposits(blockNumber, moduleId, {r, vs}) calldata, wraps it in a
// legacy transaction against the current pending nonce and suggested gas
// price, signs it with the guardian wallet key and broadcasts it. A module
// already in OnChainPending is a no-op: the orchestrator must not attempt
// a second pause while one is in flight. The pause path is never silently
// abandoned: callers are expected to retry a Failed module on the next
// block, per spec §7.
func (s *Submitter) SubmitPause(ctx context.Context, block domain.BlockRef, module domain.ModuleID, sig domain.Signature) error {
	if s.stateOf(module) == StateOnChainPending {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.setState(module, StateSigning)
	calldata, err := s.contract.PackPauseDeposits(block.Number, uint32(module), sig.R, sig.VS)
	if err != nil {
		s.setState(module, StateFailed)
		return fmt.Errorf("packing pauseDeposits: %w", err)
	}

	nonce, err := s.provider.PendingNonce(ctx, s.signer.Address())
	if err != nil {
		s.setState(module, StateFailed)
		return err
	}
	gasPrice, err := s.provider.SuggestGasPrice(ctx)
	if err != nil {
		s.setState(module, StateFailed)
		return err
	}

	tx := types.NewTransaction(nonce, s.dsmAddress, big.NewInt(0), pauseGasLimit, gasPrice, calldata)
	signedTx, err := s.signer.SignTransaction(tx, s.chainID)
	if err != nil {
		s.setState(module, StateFailed)
		return err
	}
	raw, err := signedTx.MarshalBinary()
	if err != nil {
		s.setState(module, StateFailed)
		return fmt.Errorf("%w: encoding signed pauseDeposits transaction: %v", domain.ErrFatal, err)
	}

	s.setState(module, StateBroadcasting)
	txHash, err := s.provider.SendRawTransaction(ctx, raw)
	if err != nil {
		if alreadyPaused(err) {
			s.recordAttempt(ctx, module, block.Number, "already_paused")
			s.setState(module, StateIdle)
			return nil
		}
		s.setState(module, StateFailed)
		s.recordAttempt(ctx, module, block.Number, "broadcast_failed")
		return fmt.Errorf("%w: broadcasting pauseDeposits: %v", domain.ErrTransient, err)
	}

	s.setState(module, StateOnChainPending)
	ok, err := s.provider.WaitForReceipt(ctx, txHash)
	if err != nil {
		s.setState(module, StateFailed)
		s.recordAttempt(ctx, module, block.Number, "receipt_wait_failed")
		return fmt.Errorf("%w: awaiting pauseDeposits receipt: %v", domain.ErrTransient, err)
	}
	if !ok {
		s.setState(module, StateFailed)
		s.recordAttempt(ctx, module, block.Number, "reverted")
		return fmt.Errorf("%w: pauseDeposits transaction reverted", domain.ErrTransient)
	}

	s.setState(module, StateIdle)
	s.recordAttempt(ctx, module, block.Number, "confirmed")
	return nil
}

func (s *Submitter) recordAttempt(ctx context.Context, module domain.ModuleID, block uint64, outcome string) {
	if s.audit == nil {
		return
	}
	_ = s.audit.RecordPauseAttempt(ctx, module, block, outcome)
}

// alreadyPaused recognizes the contract-revert message a module being
// already paused produces; the pause submitter treats this as success per
// spec §4.6.
func alreadyPaused(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already paused") || strings.Contains(msg, "paused_module")
}
