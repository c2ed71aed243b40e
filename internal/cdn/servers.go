package cdn

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ZazaJr24/CSF-Downloader/internal/constants"
	"github.com/ZazaJr24/CSF-Downloader/internal/events"
	"github.com/ZazaJr24/CSF-Downloader/internal/logging"
	"github.com/ZazaJr24/CSF-Downloader/internal/storage"
)

// serverRecord is the persisted form of the server list.
type serverRecord struct {
	Timestamp int64    `json:"timestamp"`
	CellID    uint32   `json:"cellId"`
	Servers   []Server `json:"servers"`
}

// ServerCache keeps the content server list in cs_servers.json and
// refreshes it through a ServerLister once the record is older than the
// TTL. A refresh replaces the record wholesale.
type ServerCache struct {
	file   storage.File
	lister ServerLister
	cellID uint32
	ttl    time.Duration
	now    func() time.Time
	bus    *events.EventBus
	logger *logging.Logger

	mu     sync.Mutex
	record *serverRecord
}

// ServerCacheOption configures a ServerCache.
type ServerCacheOption func(*ServerCache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ServerCacheOption {
	return func(c *ServerCache) { c.now = now }
}

// WithTTL overrides constants.ServerListTTL.
func WithTTL(ttl time.Duration) ServerCacheOption {
	return func(c *ServerCache) { c.ttl = ttl }
}

// NewServerCache creates a cache stored in cacheDir.
func NewServerCache(cacheDir storage.Dir, lister ServerLister, cellID uint32, bus *events.EventBus, logger *logging.Logger, opts ...ServerCacheOption) *ServerCache {
	c := &ServerCache{
		file:   cacheDir.File(constants.ServerListFile),
		lister: lister,
		cellID: cellID,
		ttl:    constants.ServerListTTL,
		now:    time.Now,
		bus:    bus,
		logger: logging.OrNop(logger),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// List returns the cached servers while fresh, otherwise fetches and
// persists a new list.
func (c *ServerCache) List(ctx context.Context) ([]Server, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.record == nil {
		c.record = c.read()
	}
	if c.fresh(c.record) {
		return c.record.Servers, nil
	}

	servers, err := c.lister.ListServers(ctx, c.cellID)
	if err != nil {
		return nil, asNetworkError("list servers", "", err)
	}
	if len(servers) == 0 {
		return nil, ErrNoServers
	}

	c.record = &serverRecord{
		Timestamp: c.now().Unix(),
		CellID:    c.cellID,
		Servers:   servers,
	}
	if err := c.file.WriteJSON(c.record); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to persist content server list")
	}
	c.bus.PublishServersRefreshed(c.cellID, len(servers))
	c.logger.Debug().Int("servers", len(servers)).Uint32("cell", c.cellID).Msg("Refreshed content server list")
	return servers, nil
}

// Invalidate drops the record from memory and disk.
func (c *ServerCache) Invalidate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record = nil
	return c.file.Remove()
}

func (c *ServerCache) fresh(r *serverRecord) bool {
	if r == nil || len(r.Servers) == 0 {
		return false
	}
	return r.Timestamp+int64(c.ttl/time.Second) > c.now().Unix()
}

// read loads the persisted record. Missing and corrupt files both yield
// nil, which counts as expired.
func (c *ServerCache) read() *serverRecord {
	var r serverRecord
	found, err := c.file.ReadJSON(&r)
	if err != nil {
		c.logger.Debug().Err(err).Msg("Ignoring unreadable content server list")
		return nil
	}
	if !found {
		return nil
	}
	return &r
}

func asNetworkError(op, url string, err error) error {
	var ne *NetworkError
	if errors.As(err, &ne) {
		return err
	}
	return &NetworkError{Op: op, URL: url, Err: err}
}
