// Package buffers provides reusable byte buffers for chunk verification,
// where every worker re-reads up to one chunk of existing file data.
package buffers

import (
	"sync"
	"sync/atomic"

	"github.com/ZazaJr24/CSF-Downloader/internal/constants"
)

var verifyAllocations atomic.Int64

var verifyPool = &sync.Pool{
	New: func() interface{} {
		verifyAllocations.Add(1)
		buf := make([]byte, constants.VerifyBufferSize)
		return &buf
	},
}

// GetVerifyBuffer retrieves a buffer of at least n bytes. Buffers up to
// VerifyBufferSize come from the pool; larger requests allocate.
//
// Usage:
//
//	buf := buffers.GetVerifyBuffer(size)
//	defer buffers.PutVerifyBuffer(buf)
//	n, err := f.ReadAt((*buf)[:size], off)
func GetVerifyBuffer(n int) *[]byte {
	if n > constants.VerifyBufferSize {
		buf := make([]byte, n)
		return &buf
	}
	return verifyPool.Get().(*[]byte)
}

// PutVerifyBuffer returns a buffer to the pool. Only buffers of exactly
// VerifyBufferSize are pooled.
func PutVerifyBuffer(buf *[]byte) {
	if buf != nil && len(*buf) == constants.VerifyBufferSize {
		verifyPool.Put(buf)
	}
}

// Stats reports buffer pool usage.
type Stats struct {
	VerifyBufferSize  int   // Size of pooled buffers (bytes)
	VerifyAllocations int64 // Pool misses that allocated a new buffer
}

// GetStats returns current buffer pool statistics.
func GetStats() Stats {
	return Stats{
		VerifyBufferSize:  constants.VerifyBufferSize,
		VerifyAllocations: verifyAllocations.Load(),
	}
}
