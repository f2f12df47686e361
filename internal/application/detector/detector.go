// Package detector implements spec §4.4: the intersection of a staking
// module's unused registry keys against its historical deposit events. An
// approximate bloom-filter prefilter (grounded on 0xPolygon-bor's use of
// github.com/holiman/bloomfilter/v2) short-circuits the common no-conflict
// case; a positive hit always falls through to an exact check before any
// Pause decision is taken. The orchestrator re-runs this whole Conflicts
// call once more, against the cache's watermark at the moment of signing,
// immediately before it signs a pause — spec §4.4's double-check rule —
// so that call site, not this package, is where a stale watermark would
// otherwise let a resolved conflict slip through.
package detector

import (
	"context"
	"fmt"

	bloomfilter "github.com/holiman/bloomfilter/v2"
	"github.com/p2p-org/lido-council-daemon/internal/domain"
	"github.com/p2p-org/lido-council-daemon/internal/ports"
)

// falsePositiveRate bounds the bloom filter's false-positive probability;
// false negatives are structurally impossible for a bloom filter, so the
// no-conflict branch can never be wrongly taken because of the prefilter.
const falsePositiveRate = 0.001

// Detector computes, for one staking module, the subset of unused
// registry pubkeys that have appeared in any deposit event addressed to
// that module's withdrawal credential.
type Detector struct {
	cache ports.EventCache
}

func New(cache ports.EventCache) *Detector {
	return &Detector{cache: cache}
}

// Conflicts returns the unused pubkeys that are also present in a deposit
// event whose WC matches expectedWC, scanning all cached events up to (but
// not including) upTo. The detector is exact: the bloom prefilter is only
// ever used to skip the expensive path when it reports no membership.
func (d *Detector) Conflicts(
	ctx context.Context,
	upTo uint64,
	expectedWC [32]byte,
	unused map[domain.PubkeyHex]struct{},
) ([]domain.PubkeyHex, error) {
	if len(unused) == 0 {
		return nil, nil
	}

	events, err := d.cache.Query(ctx, 0, upTo)
	if err != nil {
		return nil, fmt.Errorf("querying deposit cache: %w", err)
	}

	filter, err := bloomfilter.NewOptimal(uint64(len(events))+1, falsePositiveRate)
	if err != nil {
		return nil, fmt.Errorf("constructing bloom prefilter: %w", err)
	}
	deposited := make(map[domain.PubkeyHex]struct{}, len(events))
	for _, e := range events {
		if e.WC != expectedWC {
			continue
		}
		key := e.PubkeyHex()
		filter.AddHash(bloomHash(key))
		deposited[domain.PubkeyHex(key)] = struct{}{}
	}

	var conflicts []domain.PubkeyHex
	for pk := range unused {
		if !filter.ContainsHash(bloomHash(string(pk))) {
			continue // bloom miss: provably not deposited, skip the exact check
		}
		if _, ok := deposited[pk]; ok { // exact verification of the bloom hit
			conflicts = append(conflicts, pk)
		}
	}
	return conflicts, nil
}

func bloomHash(s string) filterHash {
	h := filterHash(offset64)
	for i := 0; i < len(s); i++ {
		h ^= filterHash(s[i])
		h *= prime64
	}
	return h
}

// filterHash is a 64-bit FNV-1a accumulator, matching the uint64 hash
// bloomfilter.Filter expects.
type filterHash = uint64

const (
	offset64 = 14695981039346656037
	prime64  = 1099511628211
)
