package bus

import (
	"encoding/hex"

	"github.com/p2p-org/lido-council-daemon/internal/domain"
)

func hex32(b [32]byte) string {
	return "0x" + hex.EncodeToString(b[:])
}

func attestToWire(msg domain.AttestMessage) wireMessage {
	return wireMessage{
		Type:            "deposit",
		GuardianAddress: msg.GuardianAddr.Hex(),
		GuardianIndex:   msg.GuardianIdx,
		BlockNumber:     msg.BlockNumber,
		BlockHash:       hex32(msg.BlockHash),
		DepositRoot:     hex32(msg.DepositRoot),
		Nonce:           msg.Nonce,
		StakingModuleID: uint32(msg.ModuleID),
		Signature: wireSignature{
			R:  hex32(msg.Signature.R),
			VS: hex32(msg.Signature.VS),
		},
	}
}

func pauseToWire(msg domain.PauseMessage) wireMessage {
	return wireMessage{
		Type:            "pause",
		GuardianAddress: msg.GuardianAddr.Hex(),
		GuardianIndex:   msg.GuardianIdx,
		BlockNumber:     msg.BlockNumber,
		StakingModuleID: uint32(msg.ModuleID),
		Signature: wireSignature{
			R:  hex32(msg.Signature.R),
			VS: hex32(msg.Signature.VS),
		},
	}
}
