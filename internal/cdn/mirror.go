package cdn

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ZazaJr24/CSF-Downloader/internal/depotkeys"
	inthttp "github.com/ZazaJr24/CSF-Downloader/internal/http"
	"github.com/ZazaJr24/CSF-Downloader/internal/logging"
)

// ChunkObjectKey returns the object key of a chunk in a mirror bucket.
func ChunkObjectKey(prefix string, depotID uint32, sha []byte) string {
	return fmt.Sprintf("%sdepot/%d/chunk/%s", normalizePrefix(prefix), depotID, hex.EncodeToString(sha))
}

// ManifestObjectKey returns the object key of a manifest in a mirror bucket.
func ManifestObjectKey(prefix string, depotID uint32, gid uint64) string {
	return fmt.Sprintf("%sdepot/%d/manifest/%d", normalizePrefix(prefix), depotID, gid)
}

func normalizePrefix(prefix string) string {
	prefix = strings.TrimLeft(prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}

// objectGetter reads one object. It returns a *NetworkError on failure.
type objectGetter func(ctx context.Context, key string) ([]byte, error)

// mirror serves manifests and chunks from an object store holding the
// same encoded objects as the CDN.
type mirror struct {
	prefix string
	get    objectGetter
	keys   KeyResolver
	retry  inthttp.Config
	logger *logging.Logger
}

func (m *mirror) getWithRetry(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := inthttp.ExecuteWithRetry(ctx, m.retry, func() error {
		var err error
		data, err = m.get(ctx, key)
		return err
	})
	return data, err
}

// FetchManifest implements ManifestFetcher.
func (m *mirror) FetchManifest(ctx context.Context, appID, depotID uint32, gid uint64) ([]byte, error) {
	return m.getWithRetry(ctx, ManifestObjectKey(m.prefix, depotID, gid))
}

// FetchChunk implements ChunkFetcher.
func (m *mirror) FetchChunk(ctx context.Context, depotID uint32, sha []byte) ([]byte, error) {
	key, ok := m.keys.Resolve(depotID)
	if !ok {
		return nil, &depotkeys.MissingKeyError{DepotID: depotID}
	}
	objectKey := ChunkObjectKey(m.prefix, depotID, sha)
	raw, err := m.getWithRetry(ctx, objectKey)
	if err != nil {
		return nil, err
	}
	data, err := DecodeChunk(raw, key)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", objectKey, err)
	}
	return data, nil
}
