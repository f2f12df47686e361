package orchestrator

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/p2p-org/lido-council-daemon/internal/domain"
	"github.com/p2p-org/lido-council-daemon/internal/ports"
	"github.com/stretchr/testify/require"
)

// --- fakes, one per port, covering only what the orchestrator calls ---

type fakeProvider struct {
	blocks map[uint64]domain.BlockRef
}

func (f *fakeProvider) HeadBlockNumber(ctx context.Context) (uint64, error) { return 0, nil }
func (f *fakeProvider) BlockRefByNumber(ctx context.Context, n uint64) (domain.BlockRef, error) {
	if b, ok := f.blocks[n]; ok {
		return b, nil
	}
	return domain.BlockRef{Number: n}, nil
}
func (f *fakeProvider) DepositLogs(ctx context.Context, from, to uint64) ([]domain.DepositEvent, error) {
	return nil, nil
}
func (f *fakeProvider) PendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	return 0, nil
}
func (f *fakeProvider) SuggestGasPrice(ctx context.Context) (*big.Int, error) { return big.NewInt(1), nil }
func (f *fakeProvider) SendRawTransaction(ctx context.Context, raw []byte) ([32]byte, error) {
	return [32]byte{}, nil
}
func (f *fakeProvider) WaitForReceipt(ctx context.Context, txHash [32]byte) (bool, error) {
	return true, nil
}

type fakeCache struct {
	events     []domain.DepositEvent
	advanceErr error
	advancedTo uint64
	queryCalls int
	// emptyAfter, when nonzero, makes Query return no events once it has
	// been called more than emptyAfter times — used to simulate the
	// watermark no longer reproducing a conflict by the time of signing.
	emptyAfter int
}

func (f *fakeCache) AdvanceTo(ctx context.Context, n uint64) error {
	f.advancedTo = n
	return f.advanceErr
}
func (f *fakeCache) Watermark() uint64 { return f.advancedTo }
func (f *fakeCache) Close() error      { return nil }
func (f *fakeCache) Query(ctx context.Context, from, to uint64) ([]domain.DepositEvent, error) {
	f.queryCalls++
	if f.emptyAfter > 0 && f.queryCalls > f.emptyAfter {
		return nil, nil
	}
	var out []domain.DepositEvent
	for _, e := range f.events {
		if e.Block.Number >= from && e.Block.Number < to {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeKeysAPI struct {
	snapshot domain.RegistryKeySnapshot
	err      error
}

func (f fakeKeysAPI) FetchSnapshot(ctx context.Context) (domain.RegistryKeySnapshot, error) {
	return f.snapshot, f.err
}

type fakeProbe struct {
	identity       domain.GuardianIdentity
	modules        []domain.StakingModuleState
	attestPrefix   [32]byte
	pausePrefix    [32]byte
	depositRoot    [32]byte
	maxDeposits    uint64
	maxDepositsSet bool
	maxDepositsErr error
}

func (f fakeProbe) GuardianIdentity(ctx context.Context, at domain.BlockRef) (domain.GuardianIdentity, error) {
	return f.identity, nil
}
func (f fakeProbe) ModuleStates(ctx context.Context, at domain.BlockRef) ([]domain.StakingModuleState, error) {
	return f.modules, nil
}
func (f fakeProbe) DepositRoot(ctx context.Context, at domain.BlockRef) ([32]byte, error) {
	return f.depositRoot, nil
}
func (f fakeProbe) MessagePrefixes(ctx context.Context) ([32]byte, [32]byte, error) {
	return f.attestPrefix, f.pausePrefix, nil
}
func (f fakeProbe) MaxDeposits(ctx context.Context, at domain.BlockRef) (uint64, error) {
	if f.maxDepositsErr != nil {
		return 0, f.maxDepositsErr
	}
	if f.maxDepositsSet {
		return f.maxDeposits, nil
	}
	return 100, nil
}

type fakeSigner struct{}

func (fakeSigner) Address() common.Address { return common.HexToAddress("0x01") }
func (fakeSigner) SignAttest(root [32]byte, nonce uint64, block domain.BlockRef, module domain.ModuleID, prefix [32]byte) (domain.Signature, error) {
	return domain.Signature{}, nil
}
func (fakeSigner) SignPause(block domain.BlockRef, module domain.ModuleID, prefix [32]byte) (domain.Signature, error) {
	return domain.Signature{}, nil
}
func (fakeSigner) SignTransaction(tx *types.Transaction, chainID uint64) (*types.Transaction, error) {
	return tx, nil
}

type fakeBus struct {
	attests []domain.AttestMessage
	pauses  []domain.PauseMessage
}

func (f *fakeBus) PublishAttest(ctx context.Context, msg domain.AttestMessage) error {
	f.attests = append(f.attests, msg)
	return nil
}
func (f *fakeBus) PublishPause(ctx context.Context, msg domain.PauseMessage) error {
	f.pauses = append(f.pauses, msg)
	return nil
}
func (f *fakeBus) Close() error { return nil }

type fakePauseSubmitter struct {
	calls []domain.ModuleID
	err   error
}

func (f *fakePauseSubmitter) SubmitPause(ctx context.Context, block domain.BlockRef, module domain.ModuleID, sig domain.Signature) error {
	f.calls = append(f.calls, module)
	return f.err
}

type fakeAudit struct {
	skips []string
}

func (f *fakeAudit) RecordSkip(ctx context.Context, block uint64, module domain.ModuleID, reason string) error {
	f.skips = append(f.skips, reason)
	return nil
}
func (f *fakeAudit) RecordPauseAttempt(ctx context.Context, module domain.ModuleID, block uint64, outcome string) error {
	return nil
}

type fakeConsensus struct {
	finalized uint64
	ok        bool
	err       error
	calls     int
}

func (f *fakeConsensus) FinalizedELBlockNumber(ctx context.Context) (uint64, bool, error) {
	f.calls++
	return f.finalized, f.ok, f.err
}

func newTestOrchestrator(probe fakeProbe, keysAPI fakeKeysAPI, cache *fakeCache, bus *fakeBus, pauseSub *fakePauseSubmitter, audit *fakeAudit) *Orchestrator {
	return New(
		&fakeProvider{},
		cache,
		keysAPI,
		probe,
		fakeSigner{},
		bus,
		pauseSub,
		audit,
		nil,
		Config{ConfirmationDepth: 10, MaxSnapshotLag: 100},
	)
}

func TestProcessHead_NoConflictsProducesAttest(t *testing.T) {
	snapshot := domain.RegistryKeySnapshot{
		Unused:   map[domain.PubkeyHex]struct{}{"0xaa": {}},
		Used:     map[domain.PubkeyHex]struct{}{},
		ByModule: map[domain.ModuleID][]domain.PubkeyHex{1: {"0xaa"}},
	}
	probe := fakeProbe{
		identity: domain.GuardianIdentity{Index: 0},
		modules:  []domain.StakingModuleState{{ID: 1, IsActive: true, Nonce: 5}},
	}
	cache := &fakeCache{}
	bus := &fakeBus{}
	pauseSub := &fakePauseSubmitter{}
	audit := &fakeAudit{}

	o := newTestOrchestrator(probe, fakeKeysAPI{snapshot: snapshot}, cache, bus, pauseSub, audit)
	o.ProcessHead(context.Background(), 100)

	require.Len(t, bus.attests, 1)
	require.Empty(t, bus.pauses)
	require.Equal(t, domain.ModuleID(1), bus.attests[0].ModuleID)
	require.Equal(t, uint64(5), bus.attests[0].Nonce)
}

func TestProcessHead_DepositedUnusedKeyProducesPauseAndSubmits(t *testing.T) {
	var wc [32]byte
	wc[0] = 9
	var pk [48]byte
	pk[0] = 1
	conflictEvent := domain.DepositEvent{Pubkey: pk, WC: wc, Block: domain.BlockRef{Number: 5}}
	pubkeyHex := domain.PubkeyHex(conflictEvent.PubkeyHex())

	snapshot := domain.RegistryKeySnapshot{
		Unused:   map[domain.PubkeyHex]struct{}{pubkeyHex: {}},
		Used:     map[domain.PubkeyHex]struct{}{},
		ByModule: map[domain.ModuleID][]domain.PubkeyHex{1: {pubkeyHex}},
	}
	probe := fakeProbe{
		identity: domain.GuardianIdentity{Index: 0},
		modules:  []domain.StakingModuleState{{ID: 1, IsActive: true}},
	}
	cache := &fakeCache{events: []domain.DepositEvent{conflictEvent}}
	bus := &fakeBus{}
	pauseSub := &fakePauseSubmitter{}
	audit := &fakeAudit{}

	o := newTestOrchestrator(probe, fakeKeysAPI{snapshot: snapshot}, cache, bus, pauseSub, audit)
	o.Config.ExpectedWC = map[domain.ModuleID][32]byte{1: wc}
	o.ProcessHead(context.Background(), 100)

	require.Empty(t, bus.attests)
	require.Len(t, bus.pauses, 1)
	require.Equal(t, []domain.ModuleID{1}, pauseSub.calls)
}

func TestProcessHead_NotGuardianSkipsModule(t *testing.T) {
	probe := fakeProbe{identity: domain.GuardianIdentity{Index: -1}}
	cache := &fakeCache{}
	bus := &fakeBus{}
	pauseSub := &fakePauseSubmitter{}
	audit := &fakeAudit{}

	o := newTestOrchestrator(probe, fakeKeysAPI{}, cache, bus, pauseSub, audit)
	o.ProcessHead(context.Background(), 100)

	require.Empty(t, bus.attests)
	require.Empty(t, bus.pauses)
	require.Equal(t, uint64(0), cache.advancedTo, "cache must not advance when the wallet is not a guardian")
}

func TestProcessHead_StaleSnapshotSkipsAllModules(t *testing.T) {
	snapshot := domain.RegistryKeySnapshot{
		SnapshotBlock: domain.BlockRef{Number: 1},
		Unused:        map[domain.PubkeyHex]struct{}{},
	}
	probe := fakeProbe{
		identity: domain.GuardianIdentity{Index: 0},
		modules:  []domain.StakingModuleState{{ID: 1, IsActive: true}},
	}
	cache := &fakeCache{}
	bus := &fakeBus{}
	pauseSub := &fakePauseSubmitter{}
	audit := &fakeAudit{}

	o := newTestOrchestrator(probe, fakeKeysAPI{snapshot: snapshot}, cache, bus, pauseSub, audit)
	o.Config.MaxSnapshotLag = 5
	o.ProcessHead(context.Background(), 1000)

	require.Empty(t, bus.attests)
	require.Empty(t, bus.pauses)
}

func TestProcessHead_InactiveModuleIsSkipped(t *testing.T) {
	snapshot := domain.RegistryKeySnapshot{Unused: map[domain.PubkeyHex]struct{}{}}
	probe := fakeProbe{
		identity: domain.GuardianIdentity{Index: 0},
		modules:  []domain.StakingModuleState{{ID: 2, IsActive: false}},
	}
	cache := &fakeCache{}
	bus := &fakeBus{}
	pauseSub := &fakePauseSubmitter{}
	audit := &fakeAudit{}

	o := newTestOrchestrator(probe, fakeKeysAPI{snapshot: snapshot}, cache, bus, pauseSub, audit)
	o.ProcessHead(context.Background(), 100)

	require.Empty(t, bus.attests)
	require.Empty(t, bus.pauses)
}

func TestProcessHead_KeysAPIErrorAbortsPass(t *testing.T) {
	probe := fakeProbe{identity: domain.GuardianIdentity{Index: 0}}
	cache := &fakeCache{}
	bus := &fakeBus{}
	pauseSub := &fakePauseSubmitter{}
	audit := &fakeAudit{}

	o := newTestOrchestrator(probe, fakeKeysAPI{err: errors.New("keys api down")}, cache, bus, pauseSub, audit)
	o.ProcessHead(context.Background(), 100)

	require.Empty(t, bus.attests)
	require.Empty(t, bus.pauses)
}

func TestProcessHead_FinalitySlackExceededDefersPass(t *testing.T) {
	snapshot := domain.RegistryKeySnapshot{Unused: map[domain.PubkeyHex]struct{}{}}
	probe := fakeProbe{
		identity: domain.GuardianIdentity{Index: 0},
		modules:  []domain.StakingModuleState{{ID: 1, IsActive: true}},
	}
	cache := &fakeCache{}
	bus := &fakeBus{}
	pauseSub := &fakePauseSubmitter{}
	audit := &fakeAudit{}

	o := newTestOrchestrator(probe, fakeKeysAPI{snapshot: snapshot}, cache, bus, pauseSub, audit)
	cl := &fakeConsensus{finalized: 50, ok: true}
	o.Consensus = cl
	o.Config.FinalitySlack = 10
	// confirmed block (head - ConfirmationDepth) = 100 - 10 = 90, which is
	// 40 ahead of the finality proxy of 50, past the slack of 10.
	o.ProcessHead(context.Background(), 100)

	require.Equal(t, 1, cl.calls, "the finality cross-check must actually be invoked")
	require.Empty(t, bus.attests)
	require.Empty(t, bus.pauses)
	require.Equal(t, uint64(0), cache.advancedTo, "pipeline must defer before touching the cache")
}

func TestProcessHead_FinalityWithinSlackProceeds(t *testing.T) {
	snapshot := domain.RegistryKeySnapshot{
		Unused:   map[domain.PubkeyHex]struct{}{"0xaa": {}},
		Used:     map[domain.PubkeyHex]struct{}{},
		ByModule: map[domain.ModuleID][]domain.PubkeyHex{1: {"0xaa"}},
	}
	probe := fakeProbe{
		identity: domain.GuardianIdentity{Index: 0},
		modules:  []domain.StakingModuleState{{ID: 1, IsActive: true}},
	}
	cache := &fakeCache{}
	bus := &fakeBus{}
	pauseSub := &fakePauseSubmitter{}
	audit := &fakeAudit{}

	o := newTestOrchestrator(probe, fakeKeysAPI{snapshot: snapshot}, cache, bus, pauseSub, audit)
	cl := &fakeConsensus{finalized: 89, ok: true}
	o.Consensus = cl
	o.Config.FinalitySlack = 10
	// confirmed block = 90, only 1 ahead of the finality proxy of 89.
	o.ProcessHead(context.Background(), 100)

	require.Equal(t, 1, cl.calls)
	require.Len(t, bus.attests, 1)
}

func TestProcessHead_ConflictResolvedAtSigningAbortsPause(t *testing.T) {
	var wc [32]byte
	wc[0] = 9
	var pk [48]byte
	pk[0] = 1
	conflictEvent := domain.DepositEvent{Pubkey: pk, WC: wc, Block: domain.BlockRef{Number: 5}}
	pubkeyHex := domain.PubkeyHex(conflictEvent.PubkeyHex())

	snapshot := domain.RegistryKeySnapshot{
		Unused:   map[domain.PubkeyHex]struct{}{pubkeyHex: {}},
		Used:     map[domain.PubkeyHex]struct{}{},
		ByModule: map[domain.ModuleID][]domain.PubkeyHex{1: {pubkeyHex}},
	}
	probe := fakeProbe{
		identity: domain.GuardianIdentity{Index: 0},
		modules:  []domain.StakingModuleState{{ID: 1, IsActive: true}},
	}
	// emptyAfter: 1 means the first Conflicts call (inside decide) sees the
	// conflicting event, but the re-check immediately before signing
	// (inside pause) no longer does — the double-check rule must abort.
	cache := &fakeCache{events: []domain.DepositEvent{conflictEvent}, emptyAfter: 1}
	bus := &fakeBus{}
	pauseSub := &fakePauseSubmitter{}
	audit := &fakeAudit{}

	o := newTestOrchestrator(probe, fakeKeysAPI{snapshot: snapshot}, cache, bus, pauseSub, audit)
	o.Config.ExpectedWC = map[domain.ModuleID][32]byte{1: wc}
	o.ProcessHead(context.Background(), 100)

	require.Empty(t, bus.attests)
	require.Empty(t, bus.pauses, "pause must be aborted once the re-check no longer reproduces the conflict")
	require.Empty(t, pauseSub.calls)
	require.Equal(t, []string{"conflict_resolved_at_signing"}, audit.skips)
}

func TestProcessHead_ZeroMaxDepositsSkipsAttest(t *testing.T) {
	snapshot := domain.RegistryKeySnapshot{
		Unused:   map[domain.PubkeyHex]struct{}{"0xaa": {}},
		Used:     map[domain.PubkeyHex]struct{}{},
		ByModule: map[domain.ModuleID][]domain.PubkeyHex{1: {"0xaa"}},
	}
	probe := fakeProbe{
		identity:       domain.GuardianIdentity{Index: 0},
		modules:        []domain.StakingModuleState{{ID: 1, IsActive: true}},
		maxDepositsSet: true,
		maxDeposits:    0,
	}
	cache := &fakeCache{}
	bus := &fakeBus{}
	pauseSub := &fakePauseSubmitter{}
	audit := &fakeAudit{}

	o := newTestOrchestrator(probe, fakeKeysAPI{snapshot: snapshot}, cache, bus, pauseSub, audit)
	o.ProcessHead(context.Background(), 100)

	require.Empty(t, bus.attests, "a module with zero depositable capacity must not be attested")
	require.Empty(t, bus.pauses)
	require.Equal(t, []string{"max_deposits_zero"}, audit.skips)
}

var _ ports.ConsensusFinality = (*fakeConsensus)(nil)
var _ ports.Provider = (*fakeProvider)(nil)
var _ ports.EventCache = (*fakeCache)(nil)
var _ ports.KeysAPI = fakeKeysAPI{}
var _ ports.GuardianProbe = fakeProbe{}
var _ ports.Signer = fakeSigner{}
var _ ports.Bus = (*fakeBus)(nil)
var _ ports.PauseSubmitter = (*fakePauseSubmitter)(nil)
var _ ports.AuditStore = (*fakeAudit)(nil)
