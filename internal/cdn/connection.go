// Package cdn talks to the content network: it lists content servers,
// downloads manifests and chunks, and decodes chunk payloads. The engine
// only sees the small capability interfaces defined here.
package cdn

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/ZazaJr24/CSF-Downloader/internal/events"
)

// Server is one content server as returned by the directory service.
type Server struct {
	Type         string  `json:"type"`
	SourceID     int     `json:"source_id"`
	CellID       uint32  `json:"cell_id"`
	Load         int     `json:"load"`
	WeightedLoad float64 `json:"weighted_load"`
	Host         string  `json:"host"`
	VHost        string  `json:"vhost"`
	Port         int     `json:"port,omitempty"`
	HTTPSSupport string  `json:"https_support"`
}

// BaseURL returns the scheme://host[:port] prefix for requests.
func (s Server) BaseURL() string {
	scheme := "http"
	if s.HTTPSSupport == "mandatory" || s.HTTPSSupport == "optional" {
		scheme = "https"
	}
	host := s.VHost
	if host == "" {
		host = s.Host
	}
	if s.Port != 0 {
		host = net.JoinHostPort(host, strconv.Itoa(s.Port))
	}
	return fmt.Sprintf("%s://%s", scheme, host)
}

// ServerLister fetches the current content server list for a cell.
type ServerLister interface {
	ListServers(ctx context.Context, cellID uint32) ([]Server, error)
}

// ManifestFetcher downloads raw (possibly zipped) manifest bytes.
type ManifestFetcher interface {
	FetchManifest(ctx context.Context, appID, depotID uint32, gid uint64) ([]byte, error)
}

// ChunkFetcher downloads a chunk by SHA-1 and returns its decoded
// (decrypted and decompressed) content.
type ChunkFetcher interface {
	FetchChunk(ctx context.Context, depotID uint32, sha []byte) ([]byte, error)
}

// Connection is the transport capability the engine depends on.
type Connection interface {
	ManifestFetcher
	ChunkFetcher
}

// EventSource exposes transport events (server refreshes, retries).
// *events.EventBus implements it.
type EventSource interface {
	Subscribe(eventType events.EventType) <-chan events.Event
	Unsubscribe(eventType events.EventType, ch <-chan events.Event)
}

// KeyResolver looks up depot keys for chunk decryption.
type KeyResolver interface {
	Resolve(depotID uint32) ([]byte, bool)
}

var _ EventSource = (*events.EventBus)(nil)
