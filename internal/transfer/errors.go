package transfer

import (
	"errors"
	"fmt"
)

// ErrNothingToDownload is returned when the manifests hold no file that
// can be reconstructed.
var ErrNothingToDownload = errors.New("nothing to download")

// AllocationError is returned when a target file cannot be sized to its
// declared length.
type AllocationError struct {
	Path string
	Want int64
	Got  int64
	Err  error
}

func (e *AllocationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: could not allocate %d bytes: %v", e.Path, e.Want, e.Err)
	}
	return fmt.Sprintf("%s: allocated size %d, want %d", e.Path, e.Got, e.Want)
}

func (e *AllocationError) Unwrap() error { return e.Err }

// ChunkIntegrityError is returned when a fetched chunk does not match its
// manifest record.
type ChunkIntegrityError struct {
	Path    string
	ChunkID string
	Offset  uint64
	Reason  string // "length" or "sha1"
	Want    string
	Got     string
}

func (e *ChunkIntegrityError) Error() string {
	return fmt.Sprintf("%s: chunk %s at offset %d: %s mismatch (want %s, got %s)",
		e.Path, e.ChunkID, e.Offset, e.Reason, e.Want, e.Got)
}
