// Package contracts implements spec §4.7's guardian-state probe: reads
// from the DSM and StakingRouter contracts via plain eth_call, following
// the ABI-encode/decode idiom go-ethereum's abi package provides (the same
// package 0xPolygon-bor and keep-network-keep-ecdsa build their own
// contract bindings on).
package contracts

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/p2p-org/lido-council-daemon/internal/domain"
	"github.com/p2p-org/lido-council-daemon/internal/ports"
)

// CallerProvider is the minimal eth_call surface the guardian probe needs
// from the EL provider.
type CallerProvider interface {
	CallContract(ctx context.Context, to common.Address, data []byte, atBlock uint64) ([]byte, error)
}

// GuardianProbe implements ports.GuardianProbe against the DSM and
// StakingRouter contracts.
type GuardianProbe struct {
	provider      CallerProvider
	dsmAddress    common.Address
	routerAddress common.Address
	guardianAddr  common.Address

	dsmABI    abi.ABI
	routerABI abi.ABI

	attestPrefix [32]byte
	pausePrefix  [32]byte
	prefixesSet  bool
}

func NewGuardianProbe(provider CallerProvider, dsm, router, guardian common.Address) (*GuardianProbe, error) {
	dsmABI, err := abi.JSON(stringsReader(dsmABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parsing DSM ABI: %w", err)
	}
	routerABI, err := abi.JSON(stringsReader(stakingRouterABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parsing StakingRouter ABI: %w", err)
	}
	return &GuardianProbe{
		provider:      provider,
		dsmAddress:    dsm,
		routerAddress: router,
		guardianAddr:  guardian,
		dsmABI:        dsmABI,
		routerABI:     routerABI,
	}, nil
}

var _ ports.GuardianProbe = (*GuardianProbe)(nil)

// GuardianIdentity returns the wallet's position in the DSM guardian set
// at the given block.
func (g *GuardianProbe) GuardianIdentity(ctx context.Context, at domain.BlockRef) (domain.GuardianIdentity, error) {
	data, err := g.dsmABI.Pack("getGuardians")
	if err != nil {
		return domain.GuardianIdentity{}, fmt.Errorf("packing getGuardians: %w", err)
	}
	out, err := g.provider.CallContract(ctx, g.dsmAddress, data, at.Number)
	if err != nil {
		return domain.GuardianIdentity{}, fmt.Errorf("%w: calling getGuardians: %v", domain.ErrTransient, err)
	}
	vals, err := g.dsmABI.Unpack("getGuardians", out)
	if err != nil {
		return domain.GuardianIdentity{}, fmt.Errorf("unpacking getGuardians: %w", err)
	}
	guardians, ok := vals[0].([]common.Address)
	if !ok {
		return domain.GuardianIdentity{}, fmt.Errorf("%w: getGuardians returned unexpected type %T", domain.ErrInconsistent, vals[0])
	}
	for i, addr := range guardians {
		if addr == g.guardianAddr {
			return domain.GuardianIdentity{Address: g.guardianAddr, Index: int32(i)}, nil
		}
	}
	return domain.GuardianIdentity{Address: g.guardianAddr, Index: -1}, nil
}

// ModuleStates reads is_active/nonce for every module registered on the
// StakingRouter.
func (g *GuardianProbe) ModuleStates(ctx context.Context, at domain.BlockRef) ([]domain.StakingModuleState, error) {
	idsData, err := g.routerABI.Pack("getStakingModuleIds")
	if err != nil {
		return nil, fmt.Errorf("packing getStakingModuleIds: %w", err)
	}
	idsOut, err := g.provider.CallContract(ctx, g.routerAddress, idsData, at.Number)
	if err != nil {
		return nil, fmt.Errorf("%w: calling getStakingModuleIds: %v", domain.ErrTransient, err)
	}
	idVals, err := g.routerABI.Unpack("getStakingModuleIds", idsOut)
	if err != nil {
		return nil, fmt.Errorf("unpacking getStakingModuleIds: %w", err)
	}
	ids, ok := idVals[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: getStakingModuleIds returned unexpected type %T", domain.ErrInconsistent, idVals[0])
	}

	states := make([]domain.StakingModuleState, 0, len(ids))
	for _, id := range ids {
		state, err := g.moduleState(ctx, at, uint32(id.Uint64()))
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, nil
}

func (g *GuardianProbe) moduleState(ctx context.Context, at domain.BlockRef, id uint32) (domain.StakingModuleState, error) {
	data, err := g.routerABI.Pack("getStakingModuleIsActive", big.NewInt(int64(id)))
	if err != nil {
		return domain.StakingModuleState{}, fmt.Errorf("packing getStakingModuleIsActive: %w", err)
	}
	out, err := g.provider.CallContract(ctx, g.routerAddress, data, at.Number)
	if err != nil {
		return domain.StakingModuleState{}, fmt.Errorf("%w: calling getStakingModuleIsActive: %v", domain.ErrTransient, err)
	}
	activeVals, err := g.routerABI.Unpack("getStakingModuleIsActive", out)
	if err != nil {
		return domain.StakingModuleState{}, fmt.Errorf("unpacking getStakingModuleIsActive: %w", err)
	}
	isActive, ok := activeVals[0].(bool)
	if !ok {
		return domain.StakingModuleState{}, fmt.Errorf("%w: getStakingModuleIsActive returned unexpected type %T", domain.ErrInconsistent, activeVals[0])
	}

	nonceData, err := g.routerABI.Pack("getStakingModuleNonce", big.NewInt(int64(id)))
	if err != nil {
		return domain.StakingModuleState{}, fmt.Errorf("packing getStakingModuleNonce: %w", err)
	}
	nonceOut, err := g.provider.CallContract(ctx, g.routerAddress, nonceData, at.Number)
	if err != nil {
		return domain.StakingModuleState{}, fmt.Errorf("%w: calling getStakingModuleNonce: %v", domain.ErrTransient, err)
	}
	nonceVals, err := g.routerABI.Unpack("getStakingModuleNonce", nonceOut)
	if err != nil {
		return domain.StakingModuleState{}, fmt.Errorf("unpacking getStakingModuleNonce: %w", err)
	}
	nonce, ok := nonceVals[0].(*big.Int)
	if !ok {
		return domain.StakingModuleState{}, fmt.Errorf("%w: getStakingModuleNonce returned unexpected type %T", domain.ErrInconsistent, nonceVals[0])
	}

	return domain.StakingModuleState{
		ID:               domain.ModuleID(id),
		IsActive:         isActive,
		Nonce:            nonce.Uint64(),
		LastDepositBlock: at.Number,
	}, nil
}

// DepositRoot reads the deposit root through the DSM's getDepositRoot call
// at the given block; exposed separately so the orchestrator can attach it
// to an AttestMessage.
func (g *GuardianProbe) DepositRoot(ctx context.Context, at domain.BlockRef) ([32]byte, error) {
	data, err := g.dsmABI.Pack("getDepositRoot")
	if err != nil {
		return [32]byte{}, fmt.Errorf("packing getDepositRoot: %w", err)
	}
	out, err := g.provider.CallContract(ctx, g.dsmAddress, data, at.Number)
	if err != nil {
		return [32]byte{}, fmt.Errorf("%w: calling getDepositRoot: %v", domain.ErrTransient, err)
	}
	var root [32]byte
	copy(root[:], out)
	return root, nil
}

// MaxDeposits reads the DSM's configured per-batch deposit cap. The
// orchestrator only checks it against zero: a zero cap turns an Attest
// verdict into Skip("max_deposits_zero").
func (g *GuardianProbe) MaxDeposits(ctx context.Context, at domain.BlockRef) (uint64, error) {
	data, err := g.dsmABI.Pack("getMaxDeposits")
	if err != nil {
		return 0, fmt.Errorf("packing getMaxDeposits: %w", err)
	}
	out, err := g.provider.CallContract(ctx, g.dsmAddress, data, at.Number)
	if err != nil {
		return 0, fmt.Errorf("%w: calling getMaxDeposits: %v", domain.ErrTransient, err)
	}
	vals, err := g.dsmABI.Unpack("getMaxDeposits", out)
	if err != nil {
		return 0, fmt.Errorf("unpacking getMaxDeposits: %w", err)
	}
	max, ok := vals[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("%w: getMaxDeposits returned unexpected type %T", domain.ErrInconsistent, vals[0])
	}
	return max.Uint64(), nil
}

// MessagePrefixes reads ATTEST_MESSAGE_PREFIX/PAUSE_MESSAGE_PREFIX once
// and caches them for the process lifetime: they are contract constants,
// per spec §4.5.
func (g *GuardianProbe) MessagePrefixes(ctx context.Context) (attest, pause [32]byte, err error) {
	if g.prefixesSet {
		return g.attestPrefix, g.pausePrefix, nil
	}
	attestData, err := g.dsmABI.Pack("ATTEST_MESSAGE_PREFIX")
	if err != nil {
		return attest, pause, fmt.Errorf("packing ATTEST_MESSAGE_PREFIX: %w", err)
	}
	attestOut, err := g.provider.CallContract(ctx, g.dsmAddress, attestData, 0)
	if err != nil {
		return attest, pause, fmt.Errorf("%w: calling ATTEST_MESSAGE_PREFIX: %v", domain.ErrTransient, err)
	}
	copy(attest[:], attestOut)

	pauseData, err := g.dsmABI.Pack("PAUSE_MESSAGE_PREFIX")
	if err != nil {
		return attest, pause, fmt.Errorf("packing PAUSE_MESSAGE_PREFIX: %w", err)
	}
	pauseOut, err := g.provider.CallContract(ctx, g.dsmAddress, pauseData, 0)
	if err != nil {
		return attest, pause, fmt.Errorf("%w: calling PAUSE_MESSAGE_PREFIX: %v", domain.ErrTransient, err)
	}
	copy(pause[:], pauseOut)

	g.attestPrefix, g.pausePrefix, g.prefixesSet = attest, pause, true
	return attest, pause, nil
}
