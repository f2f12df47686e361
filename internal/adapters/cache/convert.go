package cache

import (
	"encoding/hex"

	"github.com/p2p-org/lido-council-daemon/internal/domain"
)

func blockRefToDTO(b domain.BlockRef) blockRefDTO {
	return blockRefDTO{Number: b.Number, Hash: hex.EncodeToString(b.Hash[:]), Timestamp: b.Timestamp}
}

func blockRefFromDTO(d blockRefDTO) (domain.BlockRef, error) {
	h, err := decodeFixed32(d.Hash)
	if err != nil {
		return domain.BlockRef{}, err
	}
	return domain.BlockRef{Number: d.Number, Hash: h, Timestamp: d.Timestamp}, nil
}

func eventToDTO(e domain.DepositEvent) depositEventDTO {
	return depositEventDTO{
		Pubkey:    hex.EncodeToString(e.Pubkey[:]),
		WC:        hex.EncodeToString(e.WC[:]),
		Amount:    e.AmountGwei,
		Signature: hex.EncodeToString(e.Signature[:]),
		Block:     blockRefToDTO(e.Block),
		LogIndex:  e.LogIndex,
		TxHash:    hex.EncodeToString(e.TxHash[:]),
	}
}

func eventFromDTO(d depositEventDTO) (domain.DepositEvent, error) {
	var e domain.DepositEvent
	block, err := blockRefFromDTO(d.Block)
	if err != nil {
		return e, err
	}
	pub, err := decodeFixedN(d.Pubkey, 48)
	if err != nil {
		return e, err
	}
	wc, err := decodeFixed32(d.WC)
	if err != nil {
		return e, err
	}
	sig, err := decodeFixedN(d.Signature, 96)
	if err != nil {
		return e, err
	}
	tx, err := decodeFixed32(d.TxHash)
	if err != nil {
		return e, err
	}
	copy(e.Pubkey[:], pub)
	copy(e.WC[:], wc[:])
	e.AmountGwei = d.Amount
	copy(e.Signature[:], sig)
	e.Block = block
	e.LogIndex = d.LogIndex
	copy(e.TxHash[:], tx[:])
	return e, nil
}

func decodeFixed32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

func decodeFixedN(s string, n int) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != n {
		b = append(b, make([]byte, n-len(b))...)
	}
	return b, nil
}
