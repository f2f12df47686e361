// Package keysapi implements ports.KeysAPI: a paginated HTTP client for the
// external Keys API service (spec §4.3/§6). Concurrency across pages is
// bounded with golang.org/x/sync/errgroup, the same package
// dappnode-validator-tracker's duties/attestation services lean on for
// bounded fan-out reads.
package keysapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/p2p-org/lido-council-daemon/internal/domain"
	"github.com/p2p-org/lido-council-daemon/internal/ports"
	"golang.org/x/sync/errgroup"
)

// keyRecord mirrors one element of the Keys API's `data` array. Unknown
// fields are tolerated per spec §6.
type keyRecord struct {
	Key           string `json:"key"`
	Used          bool   `json:"used"`
	ModuleAddress string `json:"moduleAddress"`
	ModuleID      uint32 `json:"moduleId"`
}

type elBlockSnapshot struct {
	BlockNumber uint64 `json:"blockNumber"`
	BlockHash   string `json:"blockHash"`
	Timestamp   uint64 `json:"timestamp"`
}

type keysResponse struct {
	Data []keyRecord `json:"data"`
	Meta struct {
		ElBlockSnapshot elBlockSnapshot `json:"elBlockSnapshot"`
	} `json:"meta"`
}

// Client fetches the registry key inventory.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	batchSize      int
	concurrency    int
	maxSnapshotLag uint64
	provider       ports.Provider
}

// New builds a Keys API client. baseURL is the already-composed
// "http://KEYS_API_HOST:KEYS_API_PORT" root.
func New(baseURL string, timeout time.Duration, batchSize, concurrency int, maxSnapshotLag uint64, provider ports.Provider) *Client {
	if batchSize <= 0 {
		batchSize = 500
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Client{
		baseURL:        baseURL,
		httpClient:     &http.Client{Timeout: timeout},
		batchSize:      batchSize,
		concurrency:    concurrency,
		maxSnapshotLag: maxSnapshotLag,
		provider:       provider,
	}
}

var _ ports.KeysAPI = (*Client)(nil)

// FetchSnapshot retrieves the full unused/used key inventory, paginating
// the "unused" endpoint and then the "used" endpoint (each with up to
// concurrency page requests in flight), then validates elBlockSnapshot
// freshness against the provider's current head.
func (c *Client) FetchSnapshot(ctx context.Context) (domain.RegistryKeySnapshot, error) {
	unusedPages, unusedSnapshot, err := c.fetchAll(ctx, false)
	if err != nil {
		return domain.RegistryKeySnapshot{}, err
	}
	usedPages, _, err := c.fetchAll(ctx, true)
	if err != nil {
		return domain.RegistryKeySnapshot{}, err
	}

	snapshot := domain.RegistryKeySnapshot{
		SnapshotBlock: domain.BlockRef{
			Number:    unusedSnapshot.BlockNumber,
			Hash:      common.HexToHash(unusedSnapshot.BlockHash),
			Timestamp: unusedSnapshot.Timestamp,
		},
		Unused:   map[domain.PubkeyHex]struct{}{},
		Used:     map[domain.PubkeyHex]struct{}{},
		ByModule: map[domain.ModuleID][]domain.PubkeyHex{},
	}
	seen := map[domain.PubkeyHex]struct{}{}
	for _, rec := range unusedPages {
		key := domain.PubkeyHex(rec.Key)
		if _, dup := seen[key]; dup {
			return domain.RegistryKeySnapshot{}, fmt.Errorf("%w: duplicate pubkey %s in unused snapshot", domain.ErrInconsistent, rec.Key)
		}
		seen[key] = struct{}{}
		snapshot.Unused[key] = struct{}{}
		snapshot.ByModule[domain.ModuleID(rec.ModuleID)] = append(snapshot.ByModule[domain.ModuleID(rec.ModuleID)], key)
	}
	for _, rec := range usedPages {
		key := domain.PubkeyHex(rec.Key)
		if _, dup := seen[key]; dup {
			return domain.RegistryKeySnapshot{}, fmt.Errorf("%w: duplicate pubkey %s across used/unused snapshot", domain.ErrInconsistent, rec.Key)
		}
		seen[key] = struct{}{}
		snapshot.Used[key] = struct{}{}
	}

	if c.provider != nil {
		head, err := c.provider.HeadBlockNumber(ctx)
		if err != nil {
			return domain.RegistryKeySnapshot{}, fmt.Errorf("%w: reading head for freshness check: %v", domain.ErrTransient, err)
		}
		if !snapshot.IsFreshEnough(domain.BlockRef{Number: head}, c.maxSnapshotLag) {
			return domain.RegistryKeySnapshot{}, fmt.Errorf("%w: snapshot block %d is stale against head %d",
				domain.ErrStale, snapshot.SnapshotBlock.Number, head)
		}
	}
	return snapshot, nil
}

// fetchAll pages through one of the used/unused endpoints, running up to
// c.concurrency requests in flight via errgroup, and returns the
// concatenated records plus the snapshot header of the first page. The
// headers of later pages are not compared with it, here or by the caller.
func (c *Client) fetchAll(ctx context.Context, used bool) ([]keyRecord, elBlockSnapshot, error) {
	first, err := c.fetchPage(ctx, used, 0)
	if err != nil {
		return nil, elBlockSnapshot{}, err
	}
	if len(first.Data) < c.batchSize {
		return first.Data, first.Meta.ElBlockSnapshot, nil
	}

	// Unknown total count up front: page sequentially until a short page
	// is seen, but once we know there's more than one page, fan the
	// remaining probable pages out concurrently in bounded batches.
	records := append([]keyRecord(nil), first.Data...)
	offset := c.batchSize
	for {
		group, gctx := errgroup.WithContext(ctx)
		group.SetLimit(c.concurrency)
		pages := make([]keysResponse, c.concurrency)
		baseOffset := offset
		for i := 0; i < c.concurrency; i++ {
			i, pageOffset := i, baseOffset+i*c.batchSize
			group.Go(func() error {
				page, err := c.fetchPage(gctx, used, pageOffset)
				if err != nil {
					return err
				}
				pages[i] = page
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return nil, elBlockSnapshot{}, err
		}

		exhausted := false
		for _, page := range pages {
			records = append(records, page.Data...)
			if len(page.Data) < c.batchSize {
				exhausted = true
			}
		}
		offset += c.concurrency * c.batchSize
		if exhausted {
			break
		}
	}
	return records, first.Meta.ElBlockSnapshot, nil
}

func (c *Client) fetchPage(ctx context.Context, used bool, offset int) (keysResponse, error) {
	url := fmt.Sprintf("%s/v1/modules/keys?used=%s&limit=%d&offset=%d",
		c.baseURL, strconv.FormatBool(used), c.batchSize, offset)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return keysResponse{}, fmt.Errorf("%w: building keys API request: %v", domain.ErrConfigInvalid, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return keysResponse{}, fmt.Errorf("%w: keys API request: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return keysResponse{}, fmt.Errorf("%w: keys API returned status %d", domain.ErrTransient, resp.StatusCode)
	}
	var parsed keysResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return keysResponse{}, fmt.Errorf("%w: decoding keys API response: %v", domain.ErrInconsistent, err)
	}
	return parsed, nil
}
