package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/p2p-org/lido-council-daemon/internal/domain"
)

const (
	manifestFile = "manifest.json"
	headFile     = "head.json"
)

func loadManifest(dir string, chainID uint64) (manifestDTO, error) {
	path := filepath.Join(dir, manifestFile)
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return manifestDTO{ChainID: chainID}, nil
	}
	if err != nil {
		return manifestDTO{}, fmt.Errorf("%w: reading manifest: %v", domain.ErrFatal, err)
	}
	var m manifestDTO
	if err := json.Unmarshal(b, &m); err != nil {
		return manifestDTO{}, fmt.Errorf("%w: corrupt manifest: %v", domain.ErrFatal, err)
	}
	if m.ChainID != chainID {
		return manifestDTO{}, fmt.Errorf("%w: manifest chain_id %d disagrees with configured chain %d",
			domain.ErrFatal, m.ChainID, chainID)
	}
	return m, nil
}

func saveManifest(dir string, m manifestDTO) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(filepath.Join(dir, manifestFile), b)
}

func loadHead(dir string) (headDTO, bool, error) {
	path := filepath.Join(dir, headFile)
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return headDTO{Terminals: map[string]blockRefDTO{}}, false, nil
	}
	if err != nil {
		return headDTO{}, false, fmt.Errorf("%w: reading head: %v", domain.ErrFatal, err)
	}
	var h headDTO
	if err := json.Unmarshal(b, &h); err != nil {
		return headDTO{}, false, fmt.Errorf("%w: corrupt head: %v", domain.ErrFatal, err)
	}
	if h.Terminals == nil {
		h.Terminals = map[string]blockRefDTO{}
	}
	return h, true, nil
}

func saveHead(dir string, h headDTO) error {
	b, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(filepath.Join(dir, headFile), b)
}

// atomicWrite writes to a temp file and renames over the target so a crash
// mid-write never leaves a truncated head.json/manifest.json behind.
func atomicWrite(path string, b []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

func terminalKey(blockNumber uint64) string {
	return strconv.FormatUint(blockNumber, 10)
}
