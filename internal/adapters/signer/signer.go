// Package signer implements spec §4.5: deterministic EIP-191-style
// secp256k1 signing of attest and pause messages using a locally held
// guardian private key. Grounded on keep-network-keep-ecdsa's
// cmd/signing_ethereum.go, which signs digests with
// "github.com/ethereum/go-ethereum/crypto".Sign and carries the result as
// {r, s, v}.
package signer

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/p2p-org/lido-council-daemon/internal/domain"
)

// GuardianSigner holds the secp256k1 private key in memory for the process
// lifetime. It is never serialized out; only the derived address is ever
// exposed.
type GuardianSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// New constructs a GuardianSigner from a 32-byte hex-encoded private key,
// as read from the WALLET_PRIVATE_KEY configuration option.
func New(hexKey string) (*GuardianSigner, error) {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt private key: %v", domain.ErrFatal, err)
	}
	return &GuardianSigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address returns the guardian address derived from the held key.
func (s *GuardianSigner) Address() common.Address {
	return s.address
}

// SignAttest signs keccak256(prefix ‖ keccak256(depositRoot ‖ nonce ‖
// blockNumber ‖ blockHash ‖ moduleId)), per spec §4.5.
func (s *GuardianSigner) SignAttest(
	depositRoot [32]byte,
	nonce uint64,
	block domain.BlockRef,
	module domain.ModuleID,
	prefix [32]byte,
) (domain.Signature, error) {
	inner := crypto.Keccak256(
		depositRoot[:],
		word(nonce),
		word(block.Number),
		block.Hash[:],
		wordU32(uint32(module)),
	)
	digest := crypto.Keccak256(prefix[:], inner)
	return s.sign(digest)
}

// SignPause signs keccak256(prefix ‖ keccak256(blockNumber ‖ moduleId)),
// per spec §4.5.
func (s *GuardianSigner) SignPause(
	block domain.BlockRef,
	module domain.ModuleID,
	prefix [32]byte,
) (domain.Signature, error) {
	inner := crypto.Keccak256(
		word(block.Number),
		wordU32(uint32(module)),
	)
	digest := crypto.Keccak256(prefix[:], inner)
	return s.sign(digest)
}

func (s *GuardianSigner) sign(digest []byte) (domain.Signature, error) {
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return domain.Signature{}, fmt.Errorf("%w: signing digest: %v", domain.ErrFatal, err)
	}
	var out domain.Signature
	copy(out.R[:], sig[0:32])
	copy(out.S[:], sig[32:64])
	out.V = sig[64] + 27

	copy(out.VS[:], sig[32:64])
	if sig[64] == 1 {
		out.VS[0] |= 0x80
	}
	return out, nil
}

// SignTransaction signs an Ethereum transaction with the guardian wallet
// key, for the pause submitter's pauseDeposits call. Uses the legacy
// EIP-155 signer, matching keep-network-keep-ecdsa's
// bind.NewKeyedTransactor-based transaction construction pattern at a
// lower level (no contract-binding codegen available here).
func (s *GuardianSigner) SignTransaction(tx *types.Transaction, chainID uint64) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, types.NewEIP155Signer(new(big.Int).SetUint64(chainID)), s.key)
	if err != nil {
		return nil, fmt.Errorf("%w: signing transaction: %v", domain.ErrFatal, err)
	}
	return signed, nil
}

// word left-pads a uint64 scalar into a 32-byte big-endian EVM word, the
// packing spec §4.5 requires for every scalar field.
func word(v uint64) []byte {
	var w uint256.Int
	w.SetUint64(v)
	b := w.Bytes32()
	return b[:]
}

func wordU32(v uint32) []byte {
	return word(uint64(v))
}
