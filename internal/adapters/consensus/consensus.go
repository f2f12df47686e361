// Package consensus implements ports.ConsensusFinality, an optional
// cross-check described in SPEC_FULL.md §2.1: if BEACON_API_URL is
// configured, the orchestrator can confirm the EL block it is about to act
// on is no more than FINALITY_SLACK blocks ahead of the CL's finalized
// checkpoint before treating a decision as safe to broadcast. Built on the same attestantio client the
// teacher used for duties/attestation reads
// (internal/adapters/attestantclient_adapter.go), here reduced to the one
// call this daemon needs.
package consensus

import (
	"context"
	"fmt"
	nethttp "net/http"
	"time"

	"github.com/attestantio/go-eth2-client/api"
	"github.com/attestantio/go-eth2-client/http"
	"github.com/p2p-org/lido-council-daemon/internal/domain"
	"github.com/p2p-org/lido-council-daemon/internal/ports"
	"github.com/rs/zerolog"
)

// Client implements ports.ConsensusFinality against a beacon node's REST
// API.
type Client struct {
	client *http.Service
}

// New dials the given beacon API endpoint. Returns (nil, nil) for an empty
// endpoint: the cross-check is optional and callers should treat a nil
// *Client as "not configured" rather than failing to start.
func New(ctx context.Context, endpoint string, callTimeout time.Duration) (*Client, error) {
	if endpoint == "" {
		return nil, nil
	}
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	httpClient := &nethttp.Client{Timeout: callTimeout}
	svc, err := http.New(ctx,
		http.WithAddress(endpoint),
		http.WithHTTPClient(httpClient),
		http.WithTimeout(callTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing beacon API %s: %v", domain.ErrTransient, endpoint, err)
	}
	service, ok := svc.(*http.Service)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected beacon client implementation %T", domain.ErrConfigInvalid, svc)
	}
	return &Client{client: service}, nil
}

var _ ports.ConsensusFinality = (*Client)(nil)

// slotsPerEpoch is the mainnet beacon chain constant; post-merge, one
// slot corresponds to at most one EL block, so epoch*slotsPerEpoch is used
// below as an approximate finalized EL block number.
const slotsPerEpoch = 32

// FinalizedELBlockNumber is not directly exposed by the beacon API (it
// reports finalized checkpoints by epoch/root, not by EL block number), so
// the finalized epoch is converted to an approximate EL block height via
// slotsPerEpoch. It is an upper-bound approximation only (missed slots mean
// the real finalized EL block is never higher than this), which is exactly
// the direction ProcessHead's slack check needs: it never mistakes a
// not-yet-finalized block for a finalized one. The bool return is false
// when no finalized checkpoint exists yet (chain still pre-finality).
func (c *Client) FinalizedELBlockNumber(ctx context.Context) (uint64, bool, error) {
	finality, err := c.client.Finality(ctx, &api.FinalityOpts{State: "head"})
	if err != nil {
		return 0, false, fmt.Errorf("%w: fetching finality checkpoint: %v", domain.ErrTransient, err)
	}
	if finality == nil || finality.Data == nil || finality.Data.Finalized == nil {
		return 0, false, nil
	}
	epoch := uint64(finality.Data.Finalized.Epoch)
	if epoch == 0 {
		return 0, false, nil
	}
	return epoch * slotsPerEpoch, true, nil
}
