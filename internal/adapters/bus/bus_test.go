package bus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/p2p-org/lido-council-daemon/internal/domain"
	"github.com/stretchr/testify/require"
)

// fakeTransport records published bodies and can be made to fail a fixed
// number of times before succeeding, to exercise the backoff-retry path.
type fakeTransport struct {
	failuresRemaining int
	published         [][]byte
	closed            bool
}

func (f *fakeTransport) publish(ctx context.Context, body []byte) error {
	if f.failuresRemaining > 0 {
		f.failuresRemaining--
		return errors.New("transient broker error")
	}
	f.published = append(f.published, body)
	return nil
}

func (f *fakeTransport) close() error {
	f.closed = true
	return nil
}

func TestPublishAttest_EncodesWireMessage(t *testing.T) {
	ft := &fakeTransport{}
	b := &Bus{transport: ft, publishTimeout: time.Second}

	var blockHash, depositRoot, r, vs [32]byte
	blockHash[0] = 1
	depositRoot[0] = 2
	r[0] = 3
	vs[0] = 4

	msg := domain.AttestMessage{
		GuardianAddr: common.HexToAddress("0xabc"),
		GuardianIdx:  5,
		BlockNumber:  100,
		BlockHash:    blockHash,
		DepositRoot:  depositRoot,
		Nonce:        42,
		ModuleID:     domain.ModuleID(1),
		Signature:    domain.Signature{R: r, VS: vs},
	}

	require.NoError(t, b.PublishAttest(context.Background(), msg))
	require.Len(t, ft.published, 1)

	var wire wireMessage
	require.NoError(t, json.Unmarshal(ft.published[0], &wire))
	require.Equal(t, "deposit", wire.Type)
	require.Equal(t, uint64(100), wire.BlockNumber)
	require.Equal(t, uint64(42), wire.Nonce)
	require.Equal(t, uint32(1), wire.StakingModuleID)
	require.Equal(t, hex32(r), wire.Signature.R)
}

func TestPublishPause_OmitsDepositFields(t *testing.T) {
	ft := &fakeTransport{}
	b := &Bus{transport: ft, publishTimeout: time.Second}

	msg := domain.PauseMessage{
		GuardianAddr: common.HexToAddress("0xdef"),
		BlockNumber:  200,
		ModuleID:     domain.ModuleID(2),
	}
	require.NoError(t, b.PublishPause(context.Background(), msg))

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(ft.published[0], &raw))
	require.Equal(t, "pause", raw["type"])
	require.NotContains(t, raw, "depositRoot")
	require.NotContains(t, raw, "nonce")
}

func TestPublish_RetriesTransientFailures(t *testing.T) {
	ft := &fakeTransport{failuresRemaining: 2}
	b := &Bus{transport: ft, publishTimeout: 5 * time.Second}

	err := b.PublishPause(context.Background(), domain.PauseMessage{})
	require.NoError(t, err)
	require.Len(t, ft.published, 1)
}

func TestPublish_ExhaustedRetriesSurfaceAsTransient(t *testing.T) {
	ft := &fakeTransport{failuresRemaining: 1000}
	b := &Bus{transport: ft, publishTimeout: 30 * time.Millisecond}

	err := b.PublishPause(context.Background(), domain.PauseMessage{})
	require.Error(t, err)
	require.ErrorIs(t, err, domain.ErrTransient)
}

func TestClose_DelegatesToTransport(t *testing.T) {
	ft := &fakeTransport{}
	b := &Bus{transport: ft}
	require.NoError(t, b.Close())
	require.True(t, ft.closed)
}
