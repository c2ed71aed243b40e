package cdn

import (
	"errors"
	"fmt"
	nethttp "net/http"
)

var (
	// ErrNoServers is returned when the directory yields no usable server.
	ErrNoServers = errors.New("no content servers available")

	// ErrChunkFormat is returned for chunk payloads that cannot be decoded.
	ErrChunkFormat = errors.New("invalid chunk payload")
)

// NetworkError is a failed request to a content source.
type NetworkError struct {
	Op         string // "list servers", "manifest", "chunk"
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *NetworkError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%s %s: status %d: %v", e.Op, e.URL, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s %s: status %d %s", e.Op, e.URL, e.StatusCode, nethttp.StatusText(e.StatusCode))
	default:
		return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
	}
}

func (e *NetworkError) Unwrap() error { return e.Err }

// NotFound reports whether the source answered that the object does not
// exist.
func (e *NetworkError) NotFound() bool {
	return e.StatusCode == nethttp.StatusNotFound
}
