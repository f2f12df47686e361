package contracts

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/p2p-org/lido-council-daemon/internal/domain"
	"github.com/stretchr/testify/require"
)

// fakeCaller answers eth_call by re-decoding the request against the same
// ABI and returning a canned response keyed by method name, so the probe's
// pack/unpack round trip is exercised without a live RPC endpoint.
type fakeCaller struct {
	dsmABI    abi.ABI
	routerABI abi.ABI

	guardians []common.Address
	moduleIDs []*big.Int
	active    map[uint32]bool
	nonce     map[uint32]uint64
	root      [32]byte
	maxDep    uint64
}

func (f *fakeCaller) CallContract(ctx context.Context, to common.Address, data []byte, atBlock uint64) ([]byte, error) {
	method, err := f.dsmABI.MethodById(data[:4])
	if err == nil {
		return f.answerDSM(method.Name, data)
	}
	method, err = f.routerABI.MethodById(data[:4])
	if err != nil {
		return nil, err
	}
	return f.answerRouter(method.Name, data)
}

func (f *fakeCaller) answerDSM(name string, data []byte) ([]byte, error) {
	switch name {
	case "getGuardians":
		return f.dsmABI.Methods[name].Outputs.Pack(f.guardians)
	case "getMaxDeposits":
		return f.dsmABI.Methods[name].Outputs.Pack(new(big.Int).SetUint64(f.maxDep))
	case "getDepositRoot":
		return f.root[:], nil
	case "ATTEST_MESSAGE_PREFIX":
		var p [32]byte
		p[0] = 0xaa
		return p[:], nil
	case "PAUSE_MESSAGE_PREFIX":
		var p [32]byte
		p[0] = 0xbb
		return p[:], nil
	}
	return nil, nil
}

func (f *fakeCaller) answerRouter(name string, data []byte) ([]byte, error) {
	args := data[4:]
	switch name {
	case "getStakingModuleIds":
		return f.routerABI.Methods[name].Outputs.Pack(f.moduleIDs)
	case "getStakingModuleIsActive":
		vals, err := f.routerABI.Methods[name].Inputs.Unpack(args)
		if err != nil {
			return nil, err
		}
		id := uint32(vals[0].(*big.Int).Uint64())
		return f.routerABI.Methods[name].Outputs.Pack(f.active[id])
	case "getStakingModuleNonce":
		vals, err := f.routerABI.Methods[name].Inputs.Unpack(args)
		if err != nil {
			return nil, err
		}
		id := uint32(vals[0].(*big.Int).Uint64())
		return f.routerABI.Methods[name].Outputs.Pack(new(big.Int).SetUint64(f.nonce[id]))
	}
	return nil, nil
}

func newFakeCaller(t *testing.T) *fakeCaller {
	t.Helper()
	dsmABI, err := abi.JSON(stringsReader(dsmABIJSON))
	require.NoError(t, err)
	routerABI, err := abi.JSON(stringsReader(stakingRouterABIJSON))
	require.NoError(t, err)
	return &fakeCaller{
		dsmABI:    dsmABI,
		routerABI: routerABI,
		active:    map[uint32]bool{},
		nonce:     map[uint32]uint64{},
	}
}

func TestGuardianIdentity_FindsWalletIndex(t *testing.T) {
	caller := newFakeCaller(t)
	guardian := common.HexToAddress("0xdead")
	caller.guardians = []common.Address{common.HexToAddress("0x01"), guardian, common.HexToAddress("0x02")}

	probe, err := NewGuardianProbe(caller, common.Address{}, common.Address{}, guardian)
	require.NoError(t, err)

	identity, err := probe.GuardianIdentity(context.Background(), domain.BlockRef{Number: 1})
	require.NoError(t, err)
	require.Equal(t, int32(1), identity.Index)
	require.True(t, identity.InSet())
}

func TestGuardianIdentity_NotAGuardian(t *testing.T) {
	caller := newFakeCaller(t)
	caller.guardians = []common.Address{common.HexToAddress("0x01")}

	probe, err := NewGuardianProbe(caller, common.Address{}, common.Address{}, common.HexToAddress("0xdead"))
	require.NoError(t, err)

	identity, err := probe.GuardianIdentity(context.Background(), domain.BlockRef{Number: 1})
	require.NoError(t, err)
	require.False(t, identity.InSet())
}

func TestModuleStates_ReadsActiveAndNonce(t *testing.T) {
	caller := newFakeCaller(t)
	caller.moduleIDs = []*big.Int{big.NewInt(1), big.NewInt(2)}
	caller.active = map[uint32]bool{1: true, 2: false}
	caller.nonce = map[uint32]uint64{1: 7, 2: 0}

	probe, err := NewGuardianProbe(caller, common.Address{}, common.Address{}, common.Address{})
	require.NoError(t, err)

	states, err := probe.ModuleStates(context.Background(), domain.BlockRef{Number: 1})
	require.NoError(t, err)
	require.Len(t, states, 2)
	require.True(t, states[0].IsActive)
	require.Equal(t, uint64(7), states[0].Nonce)
	require.False(t, states[1].IsActive)
}

func TestMessagePrefixes_CachedAfterFirstCall(t *testing.T) {
	caller := newFakeCaller(t)
	probe, err := NewGuardianProbe(caller, common.Address{}, common.Address{}, common.Address{})
	require.NoError(t, err)

	attest, pause, err := probe.MessagePrefixes(context.Background())
	require.NoError(t, err)
	require.Equal(t, byte(0xaa), attest[0])
	require.Equal(t, byte(0xbb), pause[0])

	require.True(t, probe.prefixesSet)
}

func TestPackPauseDeposits_RoundTripsThroughABI(t *testing.T) {
	caller := newFakeCaller(t)
	probe, err := NewGuardianProbe(caller, common.HexToAddress("0xdsm"), common.Address{}, common.Address{})
	require.NoError(t, err)

	var r, vs [32]byte
	r[0] = 1
	vs[0] = 2
	data, err := probe.PackPauseDeposits(100, 3, r, vs)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	method, err := probe.dsmABI.MethodById(data[:4])
	require.NoError(t, err)
	require.Equal(t, "pauseDeposits", method.Name)

	vals, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	require.Equal(t, big.NewInt(100), vals[0])
	require.Equal(t, big.NewInt(3), vals[1])
}

func TestDSMAddress_ReturnsConfiguredAddress(t *testing.T) {
	caller := newFakeCaller(t)
	dsm := common.HexToAddress("0xdsm")
	probe, err := NewGuardianProbe(caller, dsm, common.Address{}, common.Address{})
	require.NoError(t, err)
	require.Equal(t, dsm, probe.DSMAddress())
}
