package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/p2p-org/lido-council-daemon/internal/domain"
	"github.com/p2p-org/lido-council-daemon/internal/ports"
	"golang.org/x/sync/singleflight"
)

// DiskCache implements ports.EventCache per spec §4.2: a segmented,
// disk-persisted, reorg-tolerant store of DepositEvents. It is fully
// rebuildable from the provider if its directory is deleted.
type DiskCache struct {
	dir               string
	chainID           uint64
	provider          ports.Provider
	fetchWindow       uint64
	finalizationDepth uint64

	mu     sync.RWMutex
	sealed []sealedSegment // ascending by From
	h      headDTO

	advanceGroup singleflight.Group
}

// New loads (or initializes) the on-disk cache at dir, validating the
// manifest's CHAIN_ID tag against the configured chain.
func New(dir string, chainID uint64, provider ports.Provider, fetchWindow, finalizationDepth uint64) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating cache dir: %v", domain.ErrFatal, err)
	}
	m, err := loadManifest(dir, chainID)
	if err != nil {
		return nil, err
	}
	hd, _, err := loadHead(dir)
	if err != nil {
		return nil, err
	}

	c := &DiskCache{
		dir:               dir,
		chainID:           chainID,
		provider:          provider,
		fetchWindow:       fetchWindow,
		finalizationDepth: finalizationDepth,
		h:                 hd,
	}
	for _, s := range m.Segments {
		term, err := blockRefFromDTO(blockRefDTO{Number: s.TerminalNumber, Hash: s.TerminalHash, Timestamp: s.TerminalTime})
		if err != nil {
			return nil, fmt.Errorf("%w: corrupt segment terminal in manifest: %v", domain.ErrFatal, err)
		}
		c.sealed = append(c.sealed, sealedSegment{From: s.From, To: s.To, Terminal: term, File: s.File})
	}
	sort.Slice(c.sealed, func(i, j int) bool { return c.sealed[i].From < c.sealed[j].From })

	if len(c.sealed) > 0 && c.h.From == 0 && c.h.To == 0 {
		last := c.sealed[len(c.sealed)-1]
		c.h.From, c.h.To = last.To, last.To
	}
	return c, nil
}

// Watermark returns the highest block number the cache is current to.
func (c *DiskCache) Watermark() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.h.To
}

func (c *DiskCache) sealedBoundary() uint64 {
	if len(c.sealed) == 0 {
		return 0
	}
	return c.sealed[len(c.sealed)-1].To
}

// AdvanceTo ensures the cache is current up to block number n. Idempotent
// and internally serialized to at most one in-flight fetch via
// singleflight, satisfying spec §4.2's concurrency contract.
func (c *DiskCache) AdvanceTo(ctx context.Context, n uint64) error {
	_, err, _ := c.advanceGroup.Do("advance", func() (interface{}, error) {
		return nil, c.advance(ctx, n)
	})
	return err
}

func (c *DiskCache) advance(ctx context.Context, n uint64) error {
	for {
		wm := c.Watermark()
		if wm >= n {
			return nil
		}
		if err := c.checkReorg(ctx); err != nil {
			return err
		}
		wm = c.Watermark() // checkReorg may have rolled back
		windowEnd := wm + c.fetchWindow
		if windowEnd > n {
			windowEnd = n
		}
		events, err := c.fetchWithSplit(ctx, wm, windowEnd)
		if err != nil {
			return err
		}
		if err := c.commit(ctx, wm, windowEnd, events); err != nil {
			return err
		}
	}
}

// fetchWithSplit fetches [from, to) via the provider, halving the window
// and retrying (floor of 1 block) if the provider rejects it as too large.
func (c *DiskCache) fetchWithSplit(ctx context.Context, from, to uint64) ([]domain.DepositEvent, error) {
	if from >= to {
		return nil, nil
	}
	events, err := c.provider.DepositLogs(ctx, from, to)
	if err == nil {
		return events, nil
	}
	if !errors.Is(err, domain.ErrRangeTooLarge) || to-from <= 1 {
		return nil, fmt.Errorf("%w: fetching deposit logs [%d,%d): %v", domain.ErrTransient, from, to, err)
	}
	mid := from + (to-from)/2
	left, err := c.fetchWithSplit(ctx, from, mid)
	if err != nil {
		return nil, err
	}
	right, err := c.fetchWithSplit(ctx, mid, to)
	if err != nil {
		return nil, err
	}
	return append(left, right...), nil
}

// checkReorg re-reads the BlockRef of the parent of the cache's current
// tail from the provider and compares it to what was recorded while
// indexing. A disagreement against unsealed data triggers a rollback and
// refetch; a disagreement against sealed data is FATAL, per spec §4.2.
func (c *DiskCache) checkReorg(ctx context.Context) error {
	c.mu.RLock()
	wm := c.h.To
	boundary := c.sealedBoundary()
	c.mu.RUnlock()

	if wm == 0 {
		return nil
	}
	parentNumber := wm - 1
	parentRef, err := c.provider.BlockRefByNumber(ctx, parentNumber)
	if err != nil {
		return fmt.Errorf("%w: reading parent block %d: %v", domain.ErrTransient, parentNumber, err)
	}

	recorded, known := c.recordedTerminal(parentNumber, boundary)
	if !known || recorded.Hash == parentRef.Hash {
		return nil
	}

	if parentNumber < boundary {
		return fmt.Errorf("%w: sealed segment disagreement at block %d: recorded %s, provider reports %s",
			domain.ErrFatal, parentNumber, recorded, parentRef)
	}
	c.rollbackTo(boundary)
	return saveHead(c.dir, c.snapshotHead())
}

func (c *DiskCache) recordedTerminal(blockNumber, boundary uint64) (domain.BlockRef, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if blockNumber >= boundary {
		dto, ok := c.h.Terminals[terminalKey(blockNumber)]
		if !ok {
			return domain.BlockRef{}, false
		}
		ref, err := blockRefFromDTO(dto)
		return ref, err == nil
	}
	for _, s := range c.sealed {
		if s.To-1 == blockNumber {
			return s.Terminal, true
		}
	}
	return domain.BlockRef{}, false
}

func (c *DiskCache) rollbackTo(boundary uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.h.Events[:0:0]
	for _, e := range c.h.Events {
		if e.Block.Number < boundary {
			kept = append(kept, e)
		}
	}
	c.h.Events = kept
	c.h.From = boundary
	c.h.To = boundary
	for k := range c.h.Terminals {
		n, _ := strconv.ParseUint(k, 10, 64)
		if n >= boundary {
			delete(c.h.Terminals, k)
		}
	}
}

func (c *DiskCache) snapshotHead() headDTO {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := headDTO{From: c.h.From, To: c.h.To, Terminals: map[string]blockRefDTO{}}
	cp.Events = append(cp.Events, c.h.Events...)
	for k, v := range c.h.Terminals {
		cp.Terminals[k] = v
	}
	return cp
}

// commit appends a freshly fetched [from, to) window to the unsealed head,
// records the window's terminal BlockRef, persists head.json, then seals
// any portion of the head that has passed FINALIZATION_DEPTH.
func (c *DiskCache) commit(ctx context.Context, from, to uint64, events []domain.DepositEvent) error {
	terminal, err := c.provider.BlockRefByNumber(ctx, to-1)
	if err != nil {
		return fmt.Errorf("%w: reading terminal block %d: %v", domain.ErrTransient, to-1, err)
	}

	c.mu.Lock()
	for _, e := range events {
		c.h.Events = append(c.h.Events, eventToDTO(e))
	}
	c.h.To = to
	c.h.Terminals[terminalKey(to-1)] = blockRefToDTO(terminal)
	c.mu.Unlock()

	if err := saveHead(c.dir, c.snapshotHead()); err != nil {
		return fmt.Errorf("%w: persisting head: %v", domain.ErrFatal, err)
	}
	return c.sealEligible(ctx)
}

// sealEligible moves the prefix of the unsealed head older than
// head - FINALIZATION_DEPTH into a new immutable segment file.
func (c *DiskCache) sealEligible(ctx context.Context) error {
	chainHead, err := c.provider.HeadBlockNumber(ctx)
	if err != nil {
		// Sealing is an optimization, not correctness-critical for this
		// tick; skip it and let the next AdvanceTo retry.
		return nil
	}
	if chainHead < c.finalizationDepth {
		return nil
	}
	sealBoundary := chainHead - c.finalizationDepth

	c.mu.Lock()
	sealFrom, sealTo := c.h.From, c.h.To
	if sealBoundary <= sealFrom {
		c.mu.Unlock()
		return nil
	}
	if sealBoundary < sealTo {
		sealTo = sealBoundary
	}
	var toSeal, remain []depositEventDTO
	for _, e := range c.h.Events {
		if e.Block.Number < sealTo {
			toSeal = append(toSeal, e)
		} else {
			remain = append(remain, e)
		}
	}
	terminalDTO, ok := c.h.Terminals[terminalKey(sealTo-1)]
	c.mu.Unlock()
	if !ok {
		// terminal of the seal boundary was never recorded (e.g. sealTo
		// lands mid fetch-window); defer sealing to the next tick.
		return nil
	}
	terminal, err := blockRefFromDTO(terminalDTO)
	if err != nil {
		return fmt.Errorf("%w: corrupt terminal for seal boundary: %v", domain.ErrFatal, err)
	}

	events := make([]domain.DepositEvent, 0, len(toSeal))
	for _, dto := range toSeal {
		e, err := eventFromDTO(dto)
		if err != nil {
			return fmt.Errorf("%w: corrupt head event: %v", domain.ErrFatal, err)
		}
		events = append(events, e)
	}
	filename := fmt.Sprintf("events-%d-%d.bin", sealFrom, sealTo)
	if err := writeSegmentFile(filepath.Join(c.dir, filename), events); err != nil {
		return fmt.Errorf("%w: writing sealed segment: %v", domain.ErrFatal, err)
	}

	c.mu.Lock()
	c.sealed = append(c.sealed, sealedSegment{From: sealFrom, To: sealTo, Terminal: terminal, File: filename})
	c.h.Events = remain
	c.h.From = sealTo
	for k := range c.h.Terminals {
		n, _ := strconv.ParseUint(k, 10, 64)
		if n < sealTo-1 {
			delete(c.h.Terminals, k)
		}
	}
	m := manifestDTO{ChainID: c.chainID}
	for _, s := range c.sealed {
		m.Segments = append(m.Segments, segmentDTO{
			From: s.From, To: s.To, File: s.File,
			TerminalNumber: s.Terminal.Number, TerminalHash: hexHash(s.Terminal.Hash), TerminalTime: s.Terminal.Timestamp,
		})
	}
	hd := c.snapshotHeadLocked()
	c.mu.Unlock()

	if err := saveManifest(c.dir, m); err != nil {
		return fmt.Errorf("%w: persisting manifest: %v", domain.ErrFatal, err)
	}
	return saveHead(c.dir, hd)
}

func (c *DiskCache) snapshotHeadLocked() headDTO {
	cp := headDTO{From: c.h.From, To: c.h.To, Terminals: map[string]blockRefDTO{}}
	cp.Events = append(cp.Events, c.h.Events...)
	for k, v := range c.h.Terminals {
		cp.Terminals[k] = v
	}
	return cp
}

func hexHash(h [32]byte) string {
	return blockRefToDTO(domain.BlockRef{Hash: h}).Hash
}

// Query returns deposit events in [from, to), clamped to [from, watermark),
// in (block_number, log_index) order.
func (c *DiskCache) Query(ctx context.Context, from, to uint64) ([]domain.DepositEvent, error) {
	wm := c.Watermark()
	if to > wm {
		to = wm
	}
	if from >= to {
		return nil, nil
	}

	var out []domain.DepositEvent

	c.mu.RLock()
	segs := make([]sealedSegment, len(c.sealed))
	copy(segs, c.sealed)
	headEvents := make([]depositEventDTO, len(c.h.Events))
	copy(headEvents, c.h.Events)
	c.mu.RUnlock()

	for _, s := range segs {
		if s.To <= from || s.From >= to {
			continue
		}
		events, err := readSegmentFile(filepath.Join(c.dir, s.File))
		if err != nil {
			return nil, fmt.Errorf("%w: reading segment %s: %v", domain.ErrFatal, s.File, err)
		}
		for _, e := range events {
			if e.Block.Number >= from && e.Block.Number < to {
				out = append(out, e)
			}
		}
	}
	for _, dto := range headEvents {
		if dto.Block.Number >= from && dto.Block.Number < to {
			e, err := eventFromDTO(dto)
			if err != nil {
				return nil, fmt.Errorf("%w: corrupt head event: %v", domain.ErrFatal, err)
			}
			out = append(out, e)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Block.Number != out[j].Block.Number {
			return out[i].Block.Number < out[j].Block.Number
		}
		return out[i].LogIndex < out[j].LogIndex
	})
	return out, nil
}

// Close flushes the in-memory head to disk.
func (c *DiskCache) Close() error {
	return saveHead(c.dir, c.snapshotHead())
}
