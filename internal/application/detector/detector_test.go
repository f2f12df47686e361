package detector

import (
	"context"
	"testing"

	"github.com/p2p-org/lido-council-daemon/internal/domain"
	"github.com/stretchr/testify/require"
)

// fakeCache is a minimal ports.EventCache backed by an in-memory slice,
// enough to drive the detector's Query calls without touching disk.
type fakeCache struct {
	events []domain.DepositEvent
}

func (f *fakeCache) AdvanceTo(ctx context.Context, n uint64) error { return nil }
func (f *fakeCache) Watermark() uint64                             { return ^uint64(0) }
func (f *fakeCache) Close() error                                  { return nil }

func (f *fakeCache) Query(ctx context.Context, from, to uint64) ([]domain.DepositEvent, error) {
	var out []domain.DepositEvent
	for _, e := range f.events {
		if e.Block.Number >= from && e.Block.Number < to {
			out = append(out, e)
		}
	}
	return out, nil
}

func pubkeyHex(b byte) domain.PubkeyHex {
	var pk [48]byte
	pk[0] = b
	e := domain.DepositEvent{Pubkey: pk}
	return domain.PubkeyHex(e.PubkeyHex())
}

func depositEvent(pk byte, wc [32]byte, blockNumber uint64) domain.DepositEvent {
	var pubkey [48]byte
	pubkey[0] = pk
	return domain.DepositEvent{
		Pubkey: pubkey,
		WC:     wc,
		Block:  domain.BlockRef{Number: blockNumber},
	}
}

func TestConflicts_NoDepositsNoConflict(t *testing.T) {
	d := New(&fakeCache{})
	unused := map[domain.PubkeyHex]struct{}{pubkeyHex(1): {}}

	conflicts, err := d.Conflicts(context.Background(), 1000, [32]byte{9}, unused)
	require.NoError(t, err)
	require.Empty(t, conflicts)
}

func TestConflicts_EmptyUnusedSetShortCircuits(t *testing.T) {
	d := New(&fakeCache{events: []domain.DepositEvent{depositEvent(1, [32]byte{9}, 5)}})
	conflicts, err := d.Conflicts(context.Background(), 1000, [32]byte{9}, nil)
	require.NoError(t, err)
	require.Empty(t, conflicts)
}

func TestConflicts_DetectsMatchingDepositedKey(t *testing.T) {
	wc := [32]byte{9}
	cache := &fakeCache{events: []domain.DepositEvent{
		depositEvent(1, wc, 5),
		depositEvent(2, wc, 6),
	}}
	d := New(cache)
	unused := map[domain.PubkeyHex]struct{}{
		pubkeyHex(1): {},
		pubkeyHex(3): {}, // never deposited
	}

	conflicts, err := d.Conflicts(context.Background(), 1000, wc, unused)
	require.NoError(t, err)
	require.ElementsMatch(t, []domain.PubkeyHex{pubkeyHex(1)}, conflicts)
}

func TestConflicts_IgnoresDepositsWithDifferentWC(t *testing.T) {
	cache := &fakeCache{events: []domain.DepositEvent{
		depositEvent(1, [32]byte{7}, 5), // different module's WC
	}}
	d := New(cache)
	unused := map[domain.PubkeyHex]struct{}{pubkeyHex(1): {}}

	conflicts, err := d.Conflicts(context.Background(), 1000, [32]byte{9}, unused)
	require.NoError(t, err)
	require.Empty(t, conflicts)
}

func TestConflicts_RespectsUpToBound(t *testing.T) {
	wc := [32]byte{9}
	cache := &fakeCache{events: []domain.DepositEvent{
		depositEvent(1, wc, 100), // at or after upTo, must be excluded
	}}
	d := New(cache)
	unused := map[domain.PubkeyHex]struct{}{pubkeyHex(1): {}}

	conflicts, err := d.Conflicts(context.Background(), 100, wc, unused)
	require.NoError(t, err)
	require.Empty(t, conflicts)
}
