// Package orchestrator implements spec §4.1's block-loop: the daemon's
// single logical loop, gated by new-block notifications, that drives one
// pass of guardian-probe → cache-advance → registry-fetch → per-module
// conflict-detect → sign/publish for every new block. Modeled on
// dappnode-validator-tracker's DutiesChecker
// (internal/application/services/dutieschecker_service.go): a long-running
// Run(ctx) loop reading a ticker/channel and logging each stage via
// internal/logger. The lastProcessed marker records the last block a full
// pass reached; it is not consulted to skip work (repeated head numbers are
// dropped by cmd/guardiand's head watcher before they reach Run).
package orchestrator

import (
	"context"

	"github.com/p2p-org/lido-council-daemon/internal/application/detector"
	"github.com/p2p-org/lido-council-daemon/internal/domain"
	"github.com/p2p-org/lido-council-daemon/internal/logger"
	"github.com/p2p-org/lido-council-daemon/internal/ports"
)

// Config holds the daemon tunables spec §5/§6 name.
type Config struct {
	ConfirmationDepth uint64
	MaxSnapshotLag    uint64
	// ExpectedWC maps a staking module to the withdrawal credential its
	// deposits must carry; the conflict detector only considers deposit
	// events whose wc matches this value for that module.
	ExpectedWC map[domain.ModuleID][32]byte
	// FinalitySlack bounds how far the confirmed block may run ahead of
	// the CL's finalized checkpoint (see internal/adapters/consensus)
	// before ProcessHead defers the pass. Ignored when Consensus is nil.
	FinalitySlack uint64
}

// Orchestrator wires every component into the per-block pipeline
// described by spec §4.1. All dependencies are ports interfaces so tests
// substitute fakes.
type Orchestrator struct {
	Provider       ports.Provider
	Cache          ports.EventCache
	KeysAPI        ports.KeysAPI
	Probe          ports.GuardianProbe
	Signer         ports.Signer
	Bus            ports.Bus
	PauseSubmitter ports.PauseSubmitter
	Audit          ports.AuditStore
	Consensus      ports.ConsensusFinality // optional, may be nil

	Detector *detector.Detector
	Config   Config

	lastProcessed     uint64
	notGuardianLogged bool
}

// New constructs an Orchestrator. Detector wraps Cache, so it is built
// here rather than injected twice.
func New(
	provider ports.Provider,
	cache ports.EventCache,
	keysAPI ports.KeysAPI,
	probe ports.GuardianProbe,
	signer ports.Signer,
	bus ports.Bus,
	pauseSubmitter ports.PauseSubmitter,
	audit ports.AuditStore,
	consensus ports.ConsensusFinality,
	cfg Config,
) *Orchestrator {
	return &Orchestrator{
		Provider:       provider,
		Cache:          cache,
		KeysAPI:        keysAPI,
		Probe:          probe,
		Signer:         signer,
		Bus:            bus,
		PauseSubmitter: pauseSubmitter,
		Audit:          audit,
		Consensus:      consensus,
		Detector:       detector.New(cache),
		Config:         cfg,
	}
}

// Run drives the block-loop until ctx is cancelled. blockNotifications
// delivers new EL head numbers; per spec §5, notifications that arrive
// mid-processing coalesce onto a capacity-1 buffered channel upstream of
// this loop (see cmd/guardiand's head-watcher), so Run only ever needs to
// read the latest one.
//
// Cancellation: Run checks ctx.Done() only between blocks, so an in-flight
// ProcessHead call returns before Run does. That call runs with the same
// ctx, so once ctx is cancelled its remaining RPC, Keys API, bus and
// receipt-wait calls fail and the pass ends early; the wait on an
// OnChainPending pause is not carried to completion. Signing is local and
// is not interrupted.
func (o *Orchestrator) Run(ctx context.Context, blockNotifications <-chan uint64) {
	for {
		select {
		case head, ok := <-blockNotifications:
			if !ok {
				return
			}
			o.ProcessHead(ctx, head)
		case <-ctx.Done():
			return
		}
	}
}

// ProcessHead resolves B = head - ConfirmationDepth and runs one pipeline
// pass, per spec §4.1 steps 1-8. Errors from individual modules are
// logged and recorded to the audit store; ProcessHead itself never
// returns an error; a block that cannot be processed at all is simply
// retried on the next notification.
func (o *Orchestrator) ProcessHead(ctx context.Context, head uint64) {
	if head <= o.Config.ConfirmationDepth {
		logger.DebugFields(logger.WithBlock(head), "below confirmation depth %d, nothing to process", o.Config.ConfirmationDepth)
		return
	}
	targetNumber := head - o.Config.ConfirmationDepth
	block, err := o.Provider.BlockRefByNumber(ctx, targetNumber)
	if err != nil {
		logger.ErrorFields(logger.WithBlock(targetNumber), "resolving confirmed block: %v", err)
		return
	}

	if o.Consensus != nil {
		finalized, ok, err := o.Consensus.FinalizedELBlockNumber(ctx)
		if err != nil {
			logger.WarnFields(logger.WithBlock(block.Number), "reading CL finality checkpoint: %v", err)
		} else if ok && block.Number > finalized+o.Config.FinalitySlack {
			logger.WarnFields(logger.WithBlock(block.Number),
				"deferring: %d ahead of CL finality proxy %d (slack %d)",
				block.Number-finalized, finalized, o.Config.FinalitySlack)
			return
		}
	}

	identity, err := o.Probe.GuardianIdentity(ctx, block)
	if err != nil {
		logger.ErrorFields(logger.WithBlock(block.Number), "probing guardian identity: %v", err)
		return
	}
	if !identity.InSet() {
		if !o.notGuardianLogged {
			logger.WarnFields(logger.WithBlock(block.Number), "wallet %s is not a member of the guardian set", identity.Address.Hex())
			o.notGuardianLogged = true
		}
		return
	}
	o.notGuardianLogged = false

	if err := o.Cache.AdvanceTo(ctx, block.Number); err != nil {
		logger.ErrorFields(logger.WithBlock(block.Number), "advancing deposit event cache: %v", err)
		return
	}

	snapshot, err := o.KeysAPI.FetchSnapshot(ctx)
	if err != nil {
		logger.Warn("fetching registry key snapshot: %v", err)
		return
	}
	if !snapshot.IsFreshEnough(block, o.Config.MaxSnapshotLag) {
		logger.WarnFields(logger.WithBlock(block.Number), "registry snapshot at block %d is stale", snapshot.SnapshotBlock.Number)
		return
	}
	if expected, err := o.Provider.BlockRefByNumber(ctx, snapshot.SnapshotBlock.Number); err == nil && !expected.SameChain(snapshot.SnapshotBlock) {
		logger.WarnFields(logger.WithBlock(snapshot.SnapshotBlock.Number), "registry snapshot disagrees with canonical chain")
		return
	}

	modules, err := o.Probe.ModuleStates(ctx, block)
	if err != nil {
		logger.ErrorFields(logger.WithBlock(block.Number), "reading staking module states: %v", err)
		return
	}

	attestPrefix, pausePrefix, err := o.Probe.MessagePrefixes(ctx)
	if err != nil {
		logger.Error("reading DSM message prefixes: %v", err)
		return
	}

	depositRoot, err := o.Probe.DepositRoot(ctx, block)
	if err != nil {
		logger.ErrorFields(logger.WithBlock(block.Number), "reading deposit root: %v", err)
		return
	}

	for _, module := range modules {
		if !module.IsActive {
			continue
		}
		o.processModule(ctx, block, module, snapshot, identity, attestPrefix, pausePrefix, depositRoot)
	}

	o.lastProcessed = block.Number
}

// processModule implements spec §4.1 steps 5-7 for one staking module: it
// decides the module's Decision, the orchestrator's documented verdict
// type for one (block, module) pair, and dispatches it.
func (o *Orchestrator) processModule(
	ctx context.Context,
	block domain.BlockRef,
	module domain.StakingModuleState,
	snapshot domain.RegistryKeySnapshot,
	identity domain.GuardianIdentity,
	attestPrefix, pausePrefix [32]byte,
	depositRoot [32]byte,
) {
	unused := unusedKeysForModule(snapshot, module.ID)
	expectedWC := o.Config.ExpectedWC[module.ID]
	fields := logger.WithModule(uint32(module.ID)).AndBlock(block.Number)

	decision, err := o.decide(ctx, block, module, unused, expectedWC)
	if err != nil {
		logger.ErrorFields(fields, "detecting key conflicts: %v", err)
		decision = domain.Decision{Module: module.ID, Block: block, Kind: domain.DecisionSkip, SkipReason: "detector_error"}
	} else if decision.Kind == domain.DecisionPause {
		logger.ErrorFields(fields, "previously-unused registry key(s) found in historical deposits, pausing")
	}

	o.dispatch(ctx, decision, module, identity, attestPrefix, pausePrefix, depositRoot, unused, expectedWC)
}

// decide computes the module's Decision for this block, per spec §4.1. A
// Pause verdict takes priority over everything else and skips the
// MaxDeposits gate entirely — a detected conflict must pause regardless
// of the module's remaining deposit capacity. An Attest verdict is only
// reached once MaxDeposits reports at least one depositable slot; zero
// capacity or a read error degrade to Skip instead of an empty attest.
func (o *Orchestrator) decide(
	ctx context.Context,
	block domain.BlockRef,
	module domain.StakingModuleState,
	unused map[domain.PubkeyHex]struct{},
	expectedWC [32]byte,
) (domain.Decision, error) {
	conflicts, err := o.Detector.Conflicts(ctx, block.Number+1, expectedWC, unused)
	if err != nil {
		return domain.Decision{}, err
	}
	if len(conflicts) > 0 {
		return domain.Decision{Module: module.ID, Block: block, Kind: domain.DecisionPause}, nil
	}

	maxDeposits, err := o.Probe.MaxDeposits(ctx, block)
	if err != nil {
		logger.WarnFields(logger.WithModule(uint32(module.ID)).AndBlock(block.Number), "reading max deposits: %v", err)
		return domain.Decision{Module: module.ID, Block: block, Kind: domain.DecisionSkip, SkipReason: "max_deposits_error"}, nil
	}
	if maxDeposits == 0 {
		return domain.Decision{Module: module.ID, Block: block, Kind: domain.DecisionSkip, SkipReason: "max_deposits_zero"}, nil
	}
	return domain.Decision{Module: module.ID, Block: block, Kind: domain.DecisionAttest}, nil
}

// dispatch acts on a Decision: Skip is recorded to the audit store,
// Attest is signed and published, Pause is re-verified against the
// current cache watermark before it is signed, published, and submitted
// on-chain (spec §4.4's double-check rule, see pause below).
func (o *Orchestrator) dispatch(
	ctx context.Context,
	decision domain.Decision,
	module domain.StakingModuleState,
	identity domain.GuardianIdentity,
	attestPrefix, pausePrefix [32]byte,
	depositRoot [32]byte,
	unused map[domain.PubkeyHex]struct{},
	expectedWC [32]byte,
) {
	switch decision.Kind {
	case domain.DecisionAttest:
		o.attest(ctx, decision.Block, module, identity, attestPrefix, depositRoot)
	case domain.DecisionPause:
		o.pause(ctx, decision.Block, module, identity, pausePrefix, unused, expectedWC)
	default:
		o.recordSkip(ctx, decision.Block.Number, decision.Module, decision.SkipReason)
	}
}

func (o *Orchestrator) attest(
	ctx context.Context,
	block domain.BlockRef,
	module domain.StakingModuleState,
	identity domain.GuardianIdentity,
	attestPrefix [32]byte,
	depositRoot [32]byte,
) {
	fields := logger.WithModule(uint32(module.ID)).AndBlock(block.Number)

	sig, err := o.Signer.SignAttest(depositRoot, module.Nonce, block, module.ID, attestPrefix)
	if err != nil {
		logger.ErrorFields(fields, "signing attest message: %v", err)
		o.recordSkip(ctx, block.Number, module.ID, "sign_error")
		return
	}
	msg := domain.AttestMessage{
		BlockNumber:  block.Number,
		BlockHash:    block.Hash,
		DepositRoot:  depositRoot,
		Nonce:        module.Nonce,
		ModuleID:     module.ID,
		Signature:    sig,
		GuardianAddr: identity.Address,
		GuardianIdx:  identity.Index,
	}
	if err := o.Bus.PublishAttest(ctx, msg); err != nil {
		logger.ErrorFields(fields, "publishing attest message: %v", err)
		o.recordSkip(ctx, block.Number, module.ID, "publish_error")
	}
}

// pause signs and publishes a pause message, per spec §4.1/§4.5. Before
// signing, it re-runs the conflict check against the cache's current
// watermark — which may have advanced past the watermark processModule's
// initial Conflicts call used — and aborts the pause, recording a skip
// instead, if the conflict no longer reproduces. This is spec §4.4's
// double-check rule: the exact check that gates a pause is never allowed
// to go stale between detection and signing.
func (o *Orchestrator) pause(
	ctx context.Context,
	block domain.BlockRef,
	module domain.StakingModuleState,
	identity domain.GuardianIdentity,
	pausePrefix [32]byte,
	unused map[domain.PubkeyHex]struct{},
	expectedWC [32]byte,
) {
	fields := logger.WithModule(uint32(module.ID)).AndBlock(block.Number)

	watermark := o.Cache.Watermark()
	recheck, err := o.Detector.Conflicts(ctx, watermark+1, expectedWC, unused)
	if err != nil {
		logger.ErrorFields(fields, "re-checking key conflicts before signing pause: %v", err)
		o.recordSkip(ctx, block.Number, module.ID, "detector_error")
		return
	}
	if len(recheck) == 0 {
		logger.WarnFields(fields, "conflict no longer reproduces against watermark %d, aborting pause", watermark)
		o.recordSkip(ctx, block.Number, module.ID, "conflict_resolved_at_signing")
		return
	}

	sig, err := o.Signer.SignPause(block, module.ID, pausePrefix)
	if err != nil {
		logger.ErrorFields(fields, "signing pause message: %v", err)
		return
	}
	msg := domain.PauseMessage{
		BlockNumber:  block.Number,
		ModuleID:     module.ID,
		Signature:    sig,
		GuardianAddr: identity.Address,
		GuardianIdx:  identity.Index,
	}
	if err := o.Bus.PublishPause(ctx, msg); err != nil {
		logger.ErrorFields(fields, "publishing pause message: %v", err)
	}

	// Unlike attest, a pause failure is never silently dropped: while the
	// module stays active, the next block's pass detects the same conflict
	// and calls SubmitPause again, per spec §7.
	if err := o.PauseSubmitter.SubmitPause(ctx, block, module.ID, sig); err != nil {
		logger.ErrorFields(fields, "submitting on-chain pause: %v", err)
	}
}

func (o *Orchestrator) recordSkip(ctx context.Context, block uint64, module domain.ModuleID, reason string) {
	if o.Audit == nil {
		return
	}
	if err := o.Audit.RecordSkip(ctx, block, module, reason); err != nil {
		logger.WarnFields(logger.WithModule(uint32(module)).AndBlock(block), "recording skip(%s): %v", reason, err)
	}
}

func unusedKeysForModule(snapshot domain.RegistryKeySnapshot, module domain.ModuleID) map[domain.PubkeyHex]struct{} {
	keys := snapshot.ByModule[module]
	out := make(map[domain.PubkeyHex]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := snapshot.Unused[k]; ok {
			out[k] = struct{}{}
		}
	}
	return out
}
