package cdn

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"sort"
	"sync/atomic"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/ZazaJr24/CSF-Downloader/internal/constants"
	"github.com/ZazaJr24/CSF-Downloader/internal/depotkeys"
	"github.com/ZazaJr24/CSF-Downloader/internal/events"
	"github.com/ZazaJr24/CSF-Downloader/internal/logging"
)

// ServerSource provides the server list for a Client. *ServerCache
// implements it.
type ServerSource interface {
	List(ctx context.Context) ([]Server, error)
}

// Client fetches manifests and chunks from content servers over HTTP.
// Each request starts at the next server in rotation and moves on to the
// following one when a server fails; retryablehttp handles retries on a
// single server.
type Client struct {
	http    *retryablehttp.Client
	servers ServerSource
	keys    KeyResolver
	bus     *events.EventBus
	logger  *logging.Logger

	maxHosts int
	next     atomic.Uint32
}

// ClientOptions configures a Client.
type ClientOptions struct {
	// MaxHosts bounds how many servers one request may try. 0 means all.
	MaxHosts int
	Bus      *events.EventBus
	Logger   *logging.Logger
}

// NewClient creates a CDN client.
func NewClient(httpClient *retryablehttp.Client, servers ServerSource, keys KeyResolver, opts ClientOptions) *Client {
	return &Client{
		http:     httpClient,
		servers:  servers,
		keys:     keys,
		bus:      opts.Bus,
		logger:   logging.OrNop(opts.Logger),
		maxHosts: opts.MaxHosts,
	}
}

// FetchManifest implements ManifestFetcher.
func (c *Client) FetchManifest(ctx context.Context, appID, depotID uint32, gid uint64) ([]byte, error) {
	path := fmt.Sprintf("/depot/%d/manifest/%d/%d", depotID, gid, constants.ManifestRequestVersion)
	data, _, err := c.get(ctx, "manifest", path, depotID, "")
	return data, err
}

// FetchChunk implements ChunkFetcher.
func (c *Client) FetchChunk(ctx context.Context, depotID uint32, sha []byte) ([]byte, error) {
	key, ok := c.keys.Resolve(depotID)
	if !ok {
		return nil, &depotkeys.MissingKeyError{DepotID: depotID}
	}
	chunkID := hex.EncodeToString(sha)
	raw, url, err := c.get(ctx, "chunk", fmt.Sprintf("/depot/%d/chunk/%s", depotID, chunkID), depotID, chunkID)
	if err != nil {
		return nil, err
	}
	data, err := DecodeChunk(raw, key)
	if err != nil {
		return nil, fmt.Errorf("chunk %s from %s: %w", chunkID, url, err)
	}
	return data, nil
}

// get requests path from successive servers until one answers 200. A 404
// ends the attempt immediately.
func (c *Client) get(ctx context.Context, op, path string, depotID uint32, chunkID string) ([]byte, string, error) {
	servers, err := c.servers.List(ctx)
	if err != nil {
		return nil, "", err
	}
	servers = byLoad(servers)
	if len(servers) == 0 {
		return nil, "", ErrNoServers
	}

	attempts := len(servers)
	if c.maxHosts > 0 && c.maxHosts < attempts {
		attempts = c.maxHosts
	}
	start := int(c.next.Add(1)-1) % len(servers)

	var lastErr error
	for i := 0; i < attempts; i++ {
		server := servers[(start+i)%len(servers)]
		url := server.BaseURL() + path

		data, err := c.fetch(ctx, op, url)
		if err == nil {
			return data, url, nil
		}
		lastErr = err

		var ne *NetworkError
		if ctx.Err() != nil || (errors.As(err, &ne) && ne.NotFound()) {
			break
		}
		c.bus.PublishChunkRetry(depotID, chunkID, server.Host, i+1, err)
		c.logger.Debug().Err(err).Str("host", server.Host).Msgf("Retrying %s on next server", op)
	}
	return nil, "", lastErr
}

func (c *Client) fetch(ctx context.Context, op, url string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, nethttp.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: op, URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != nethttp.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &NetworkError{Op: op, URL: url, StatusCode: resp.StatusCode}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: op, URL: url, StatusCode: resp.StatusCode, Err: err}
	}
	return data, nil
}

// byLoad returns servers ordered by ascending weighted load.
func byLoad(servers []Server) []Server {
	out := make([]Server, len(servers))
	copy(out, servers)
	sort.SliceStable(out, func(i, j int) bool { return out[i].WeightedLoad < out[j].WeightedLoad })
	return out
}
