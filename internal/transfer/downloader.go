package transfer

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ZazaJr24/CSF-Downloader/internal/cancel"
	"github.com/ZazaJr24/CSF-Downloader/internal/cdn"
	"github.com/ZazaJr24/CSF-Downloader/internal/logging"
	"github.com/ZazaJr24/CSF-Downloader/internal/manifest"
	"github.com/ZazaJr24/CSF-Downloader/internal/progress"
	"github.com/ZazaJr24/CSF-Downloader/internal/util/buffers"
	"github.com/ZazaJr24/CSF-Downloader/internal/validation"
)

// StopSignal is polled between chunks.
type StopSignal interface {
	IsStopRequested() bool
}

// DownloaderOptions configure a Downloader.
type DownloaderOptions struct {
	OutputDir    string
	FlattenPaths bool
	Stop         StopSignal    // optional
	Progress     progress.Sink // optional
	Logger       *logging.Logger
}

// Downloader reconstructs manifest files under an output directory.
// Existing bytes are verified per chunk and only mismatching chunks are
// fetched.
type Downloader struct {
	chunks    cdn.ChunkFetcher
	outputDir string
	flatten   bool
	stop      StopSignal
	sink      progress.Sink
	logger    *logging.Logger
}

type nopSink struct{}

func (nopSink) AddBytes(int64) {}
func (nopSink) FileDone()      {}

// NewDownloader creates a Downloader fetching chunks through chunks.
func NewDownloader(chunks cdn.ChunkFetcher, opts DownloaderOptions) *Downloader {
	d := &Downloader{
		chunks:    chunks,
		outputDir: opts.OutputDir,
		flatten:   opts.FlattenPaths,
		stop:      opts.Stop,
		sink:      opts.Progress,
		logger:    logging.OrNop(opts.Logger),
	}
	if d.sink == nil {
		d.sink = nopSink{}
	}
	return d
}

// TargetPath returns where f is written.
func (d *Downloader) TargetPath(f *manifest.FileEntry) (string, error) {
	return validation.TargetPath(d.outputDir, f.Path(), d.flatten)
}

func (d *Downloader) stopRequested() bool {
	return d.stop != nil && d.stop.IsStopRequested()
}

// Reconstruct rebuilds f from manifest m. With verify set, chunks already
// present with the right SHA-1 are kept; verify is ignored when the target
// does not exist. It returns the bytes fetched and written.
//
// A stop request between chunks returns cancel.ErrStopRequested. Other
// errors name the target path.
func (d *Downloader) Reconstruct(ctx context.Context, m *manifest.Manifest, f *manifest.FileEntry, verify bool) (int64, error) {
	target, err := d.TargetPath(f)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", f.Path(), err)
	}

	if verify {
		if _, err := os.Stat(target); err != nil {
			verify = false
		}
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return 0, fmt.Errorf("%s: failed to create directory: %w", target, err)
	}

	flags := os.O_RDWR | os.O_CREATE
	if !verify {
		flags |= os.O_TRUNC
	}
	out, err := os.OpenFile(target, flags, 0644)
	if err != nil {
		return 0, fmt.Errorf("%s: failed to open: %w", target, err)
	}
	defer out.Close()

	if err := preallocate(out, target, f.Size); err != nil {
		return 0, err
	}

	logger := d.logger.Child(d.logger.With().
		Uint32("depot", m.DepotID).
		Str("path", target).
		Logger())

	var written int64
	for i := range f.Chunks {
		c := &f.Chunks[i]
		if d.stopRequested() {
			return written, cancel.ErrStopRequested
		}
		if err := ctx.Err(); err != nil {
			return written, err
		}

		if verify {
			ok, err := chunkPresent(out, c)
			if err != nil {
				return written, fmt.Errorf("%s: failed to verify chunk %s: %w", target, c.ID(), err)
			}
			if ok {
				d.sink.AddBytes(int64(c.OriginalSize))
				continue
			}
			logger.Debug().Str("chunk", c.ID()).Msg("Chunk mismatch, fetching")
		}

		data, err := d.chunks.FetchChunk(ctx, m.DepotID, c.SHA)
		if err != nil {
			return written, fmt.Errorf("%s: chunk %s: %w", target, c.ID(), err)
		}
		if err := checkChunk(target, c, data); err != nil {
			return written, err
		}
		if _, err := out.WriteAt(data, int64(c.Offset)); err != nil {
			return written, fmt.Errorf("%s: failed to write chunk %s: %w", target, c.ID(), err)
		}
		written += int64(len(data))
		d.sink.AddBytes(int64(len(data)))
	}

	logger.Debug().Int64("bytes", written).Msg("File reconstructed")
	return written, nil
}

// preallocate sizes the open file to its declared length.
func preallocate(f *os.File, target string, size uint64) error {
	if size > math.MaxInt64 {
		return &AllocationError{Path: target, Want: -1, Err: fmt.Errorf("declared size %d out of range", size)}
	}
	want := int64(size)
	if err := f.Truncate(want); err != nil {
		return &AllocationError{Path: target, Want: want, Err: err}
	}
	st, err := f.Stat()
	if err != nil {
		return &AllocationError{Path: target, Want: want, Err: err}
	}
	if st.Size() != want {
		return &AllocationError{Path: target, Want: want, Got: st.Size()}
	}
	return nil
}

// chunkPresent reports whether the bytes at the chunk's offset hash to its
// SHA-1.
func chunkPresent(f *os.File, c *manifest.ChunkRef) (bool, error) {
	size := int(c.OriginalSize)
	buf := buffers.GetVerifyBuffer(size)
	defer buffers.PutVerifyBuffer(buf)

	n, err := f.ReadAt((*buf)[:size], int64(c.Offset))
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	if n < size {
		return false, nil
	}
	sum := sha1.Sum((*buf)[:size])
	return bytes.Equal(sum[:], c.SHA), nil
}

func checkChunk(target string, c *manifest.ChunkRef, data []byte) error {
	if len(data) != int(c.OriginalSize) {
		return &ChunkIntegrityError{
			Path:    target,
			ChunkID: c.ID(),
			Offset:  c.Offset,
			Reason:  "length",
			Want:    strconv.FormatUint(uint64(c.OriginalSize), 10),
			Got:     strconv.Itoa(len(data)),
		}
	}
	sum := sha1.Sum(data)
	if !bytes.Equal(sum[:], c.SHA) {
		return &ChunkIntegrityError{
			Path:    target,
			ChunkID: c.ID(),
			Offset:  c.Offset,
			Reason:  "sha1",
			Want:    c.ID(),
			Got:     hex.EncodeToString(sum[:]),
		}
	}
	return nil
}
