package manifest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/ZazaJr24/CSF-Downloader/internal/depotkeys"
	"github.com/ZazaJr24/CSF-Downloader/internal/events"
	"github.com/ZazaJr24/CSF-Downloader/internal/logging"
	"github.com/ZazaJr24/CSF-Downloader/internal/storage"
)

// ErrNotCached is returned by Get when the manifest is neither cached nor
// fetchable because no Fetcher is configured.
var ErrNotCached = errors.New("manifest not cached and no source configured")

// Fetcher downloads raw manifest bytes.
type Fetcher interface {
	FetchManifest(ctx context.Context, appID, depotID uint32, gid uint64) ([]byte, error)
}

// KeyResolver looks up depot keys.
type KeyResolver interface {
	Resolve(depotID uint32) ([]byte, bool)
}

// Cache resolves manifests from memory, then from the on-disk cache, then
// from the Fetcher. Concurrent requests for one manifest load it once,
// which also makes each cache file single-writer.
type Cache struct {
	dir     storage.Dir
	fetcher Fetcher
	keys    KeyResolver
	bus     *events.EventBus
	logger  *logging.Logger

	group singleflight.Group

	mu        sync.Mutex
	loaded    map[Key]*Manifest
	persisted map[Key]bool
}

// NewCache creates a cache storing files in dir. fetcher and bus may be
// nil.
func NewCache(dir storage.Dir, fetcher Fetcher, keys KeyResolver, bus *events.EventBus, logger *logging.Logger) *Cache {
	return &Cache{
		dir:       dir,
		fetcher:   fetcher,
		keys:      keys,
		bus:       bus,
		logger:    logging.OrNop(logger),
		loaded:    make(map[Key]*Manifest),
		persisted: make(map[Key]bool),
	}
}

// Get returns the manifest for (appID, depotID, gid).
func (c *Cache) Get(ctx context.Context, appID, depotID uint32, gid uint64) (*Manifest, error) {
	key := Key{AppID: appID, DepotID: depotID, GID: gid}
	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		return c.load(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Manifest), nil
}

func (c *Cache) load(ctx context.Context, key Key) (*Manifest, error) {
	c.mu.Lock()
	m := c.loaded[key]
	c.mu.Unlock()
	if m != nil {
		c.decryptIfKnown(m)
		c.bus.PublishManifestCached(key.DepotID, key.GID, "memory")
		return m, nil
	}

	if m := c.loadFromDisk(key); m != nil {
		c.remember(key, m, true)
		c.bus.PublishManifestCached(key.DepotID, key.GID, "disk")
		return m, nil
	}

	if c.fetcher == nil {
		return nil, fmt.Errorf("manifest %s: %w", key, ErrNotCached)
	}

	data, err := c.fetcher.FetchManifest(ctx, key.AppID, key.DepotID, key.GID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest %d for depot %d: %w", key.GID, key.DepotID, err)
	}
	m, err = Parse(data)
	if err != nil {
		return nil, fmt.Errorf("fetched manifest %d for depot %d: %w", key.GID, key.DepotID, err)
	}
	m.AppID = key.AppID
	c.decryptIfKnown(m)

	c.remember(key, m, false)
	c.persist(key, m)
	c.bus.PublishManifestCached(key.DepotID, key.GID, "fetch")
	c.logger.Debug().Uint32("depot", key.DepotID).Uint64("manifest", key.GID).Msg("Fetched manifest")
	return m, nil
}

// loadFromDisk returns the cached manifest, or nil on a miss. Unreadable
// or empty cache files are removed.
func (c *Cache) loadFromDisk(key Key) *Manifest {
	f := c.dir.File(key.FileName())
	data, err := f.ReadBytes()
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn().Err(err).Str("path", f.Path()).Msg("Cannot read cached manifest")
		}
		return nil
	}

	m, err := Parse(data)
	if err == nil && m.GID == 0 {
		err = errors.New("empty manifest")
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("path", f.Path()).Msg("Discarding corrupt cached manifest")
		if rmErr := f.Remove(); rmErr != nil {
			c.logger.Warn().Err(rmErr).Msg("Failed to remove corrupt cached manifest")
		}
		return nil
	}

	m.AppID = key.AppID
	if c.decryptIfKnown(m) {
		c.persist(key, m)
	}
	return m
}

// decryptIfKnown decrypts filenames when the depot key is available. It
// reports whether the manifest changed. A previously persisted manifest
// is rewritten in its decrypted form.
func (c *Cache) decryptIfKnown(m *Manifest) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !m.FilenamesEncrypted || c.keys == nil {
		return false
	}
	key, ok := c.keys.Resolve(m.DepotID)
	if !ok {
		return false
	}
	if err := m.DecryptFilenames(key); err != nil {
		c.logger.Warn().Err(err).Uint32("depot", m.DepotID).Msg("Depot key does not decrypt manifest filenames")
		return false
	}

	k := m.Key()
	if c.persisted[k] {
		c.persistLocked(k, m)
	}
	return true
}

func (c *Cache) remember(key Key, m *Manifest, persisted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded[key] = m
	if persisted {
		c.persisted[key] = true
	}
}

func (c *Cache) persist(key Key, m *Manifest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.persistLocked(key, m)
}

func (c *Cache) persistLocked(key Key, m *Manifest) {
	data, err := Serialize(m, false)
	if err != nil {
		c.logger.Warn().Err(err).Str("manifest", key.String()).Msg("Failed to serialize manifest for cache")
		return
	}
	f := c.dir.File(key.FileName())
	if err := f.WriteBytes(data); err != nil {
		c.logger.Warn().Err(err).Str("path", f.Path()).Msg("Failed to write manifest cache")
		return
	}
	c.persisted[key] = true
}

// Add registers a manifest read from a local file. It is memoized and
// decrypted when possible but not written to the cache directory.
func (c *Cache) Add(appID uint32, data []byte) (*Manifest, error) {
	m, err := Parse(data)
	if err != nil {
		return nil, err
	}
	m.AppID = appID
	key := m.Key()

	c.mu.Lock()
	if existing := c.loaded[key]; existing != nil {
		c.mu.Unlock()
		c.decryptIfKnown(existing)
		return existing, nil
	}
	c.loaded[key] = m
	c.mu.Unlock()

	c.decryptIfKnown(m)
	c.bus.PublishManifestCached(key.DepotID, key.GID, "local")
	return m, nil
}

// Clear drops every cached manifest from memory and disk.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded = make(map[Key]*Manifest)
	c.persisted = make(map[Key]bool)
	if err := c.dir.RemoveAll(); err != nil {
		return fmt.Errorf("failed to clear manifest cache: %w", err)
	}
	return nil
}

// RequireDecrypted returns a MissingKeyError when the manifest's filenames
// are still encrypted.
func RequireDecrypted(m *Manifest) error {
	if m.FilenamesEncrypted {
		return &depotkeys.MissingKeyError{DepotID: m.DepotID}
	}
	return nil
}
