package cache

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/p2p-org/lido-council-daemon/internal/domain"
)

// Segment files (events-<from>-<to>.bin) hold length-prefixed records of
// the DepositEvent fields in the order given in spec §3, little-endian.
// This encoding is self-contained and not EVM-visible: it is a disk format
// only, distinct from the big-endian EVM word packing the signer uses.

const recordLen = 48 + 32 + 8 + 96 + 8 + 32 + 8 + 4 + 32 // pubkey,wc,amount,sig,blocknum,blockhash,blocktime,logindex,txhash

func writeSegmentFile(path string, events []domain.DepositEvent) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating segment file %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(events)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	rec := make([]byte, recordLen)
	for _, e := range events {
		encodeRecord(rec, e)
		if _, err := w.Write(rec); err != nil {
			return fmt.Errorf("writing segment record: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

func readSegmentFile(path string) ([]domain.DepositEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening segment file %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("reading segment header %s: %w", path, err)
	}
	count := binary.LittleEndian.Uint32(lenBuf[:])

	events := make([]domain.DepositEvent, 0, count)
	rec := make([]byte, recordLen)
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(r, rec); err != nil {
			return nil, fmt.Errorf("reading segment record %d of %s: %w", i, path, err)
		}
		events = append(events, decodeRecord(rec))
	}
	return events, nil
}

func encodeRecord(buf []byte, e domain.DepositEvent) {
	off := 0
	copy(buf[off:], e.Pubkey[:])
	off += 48
	copy(buf[off:], e.WC[:])
	off += 32
	binary.LittleEndian.PutUint64(buf[off:], e.AmountGwei)
	off += 8
	copy(buf[off:], e.Signature[:])
	off += 96
	binary.LittleEndian.PutUint64(buf[off:], e.Block.Number)
	off += 8
	copy(buf[off:], e.Block.Hash[:])
	off += 32
	binary.LittleEndian.PutUint64(buf[off:], e.Block.Timestamp)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], e.LogIndex)
	off += 4
	copy(buf[off:], e.TxHash[:])
}

func decodeRecord(buf []byte) domain.DepositEvent {
	var e domain.DepositEvent
	off := 0
	copy(e.Pubkey[:], buf[off:off+48])
	off += 48
	copy(e.WC[:], buf[off:off+32])
	off += 32
	e.AmountGwei = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	copy(e.Signature[:], buf[off:off+96])
	off += 96
	e.Block.Number = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	copy(e.Block.Hash[:], buf[off:off+32])
	off += 32
	e.Block.Timestamp = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	e.LogIndex = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	copy(e.TxHash[:], buf[off:off+32])
	return e
}
