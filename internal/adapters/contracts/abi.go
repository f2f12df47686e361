package contracts

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

func stringsReader(s string) *strings.Reader {
	return strings.NewReader(s)
}

// dsmABIJSON is the subset of the Deposit Security Module ABI this daemon
// consumes, per spec §6: ATTEST_MESSAGE_PREFIX, PAUSE_MESSAGE_PREFIX,
// getGuardians, getMaxDeposits, pauseDeposits(blockNumber, moduleId, sig),
// getDepositRoot (forwarded from the deposit contract).
const dsmABIJSON = `[
	{"type":"function","name":"ATTEST_MESSAGE_PREFIX","stateMutability":"view","inputs":[],"outputs":[{"type":"bytes32"}]},
	{"type":"function","name":"PAUSE_MESSAGE_PREFIX","stateMutability":"view","inputs":[],"outputs":[{"type":"bytes32"}]},
	{"type":"function","name":"getGuardians","stateMutability":"view","inputs":[],"outputs":[{"type":"address[]"}]},
	{"type":"function","name":"getMaxDeposits","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
	{"type":"function","name":"getDepositRoot","stateMutability":"view","inputs":[],"outputs":[{"type":"bytes32"}]},
	{"type":"function","name":"pauseDeposits","stateMutability":"nonpayable","inputs":[
		{"name":"blockNumber","type":"uint256"},
		{"name":"stakingModuleId","type":"uint256"},
		{"name":"sig","type":"tuple","components":[{"name":"r","type":"bytes32"},{"name":"vs","type":"bytes32"}]}
	],"outputs":[]}
]`

// stakingRouterABIJSON is the subset of the StakingRouter ABI consumed:
// module listing, activity flag and nonce (keysOpIndex).
const stakingRouterABIJSON = `[
	{"type":"function","name":"getStakingModuleIds","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256[]"}]},
	{"type":"function","name":"getStakingModuleIsActive","stateMutability":"view","inputs":[{"name":"stakingModuleId","type":"uint256"}],"outputs":[{"type":"bool"}]},
	{"type":"function","name":"getStakingModuleNonce","stateMutability":"view","inputs":[{"name":"stakingModuleId","type":"uint256"}],"outputs":[{"type":"uint256"}]}
]`

// PackPauseDeposits encodes a pauseDeposits(blockNumber, moduleId, {r,vs})
// call for submission via eth_sendRawTransaction.
func (g *GuardianProbe) PackPauseDeposits(blockNumber uint64, moduleID uint32, r, vs [32]byte) ([]byte, error) {
	type sig struct {
		R  [32]byte
		Vs [32]byte
	}
	data, err := g.dsmABI.Pack("pauseDeposits", big.NewInt(int64(blockNumber)), big.NewInt(int64(moduleID)), sig{R: r, Vs: vs})
	if err != nil {
		return nil, fmt.Errorf("packing pauseDeposits: %w", err)
	}
	return data, nil
}

// DSMAddress returns the configured DSM contract address, the transaction
// target for pauseDeposits.
func (g *GuardianProbe) DSMAddress() common.Address {
	return g.dsmAddress
}
