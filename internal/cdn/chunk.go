package cdn

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"sync"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz/lzma"

	encryption "github.com/ZazaJr24/CSF-Downloader/internal/crypto"
)

// Chunk payload prefixes after decryption.
var (
	lzmaMagic = []byte("VZa")
	zstdMagic = []byte("VSZa")
	zipMagic  = []byte("PK\x03\x04")
)

const (
	lzmaHeaderSize = 12 // "VZa" + 4 bytes + 5 bytes of LZMA properties
	lzmaFooterSize = 10 // crc32 + size + "zv"
	zstdHeaderSize = 8  // "VSZa" + 4 bytes
	zstdFooterSize = 15 // crc32 + size + 4 bytes + "zsv"
)

var (
	zstdOnce    sync.Once
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

func sharedZstdDecoder() (*zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdDecoder, zstdErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	return zstdDecoder, zstdErr
}

// DecodeChunk decrypts a raw chunk with the depot key and decompresses it.
func DecodeChunk(raw, key []byte) ([]byte, error) {
	data, err := encryption.SymmetricDecrypt(raw, key)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt: %w", ErrChunkFormat, err)
	}
	return Decompress(data)
}

// Decompress decodes a decrypted chunk payload by its prefix.
func Decompress(data []byte) ([]byte, error) {
	switch {
	case bytes.HasPrefix(data, zstdMagic):
		return decompressZstd(data)
	case bytes.HasPrefix(data, lzmaMagic):
		return decompressLZMA(data)
	case bytes.HasPrefix(data, zipMagic):
		return decompressZip(data)
	default:
		return nil, fmt.Errorf("%w: unknown compression prefix %q", ErrChunkFormat, prefix(data, 4))
	}
}

func decompressLZMA(data []byte) ([]byte, error) {
	if len(data) < lzmaHeaderSize+lzmaFooterSize || !bytes.HasSuffix(data, []byte("zv")) {
		return nil, fmt.Errorf("%w: truncated VZa payload", ErrChunkFormat)
	}
	footer := data[len(data)-lzmaFooterSize:]
	checksum := binary.LittleEndian.Uint32(footer[0:4])
	size := binary.LittleEndian.Uint32(footer[4:8])

	// Rebuild a classic .lzma header: properties (5 bytes) + size (8 bytes).
	header := make([]byte, 13)
	copy(header, data[7:12])
	binary.LittleEndian.PutUint64(header[5:], uint64(size))

	stream := io.MultiReader(bytes.NewReader(header), bytes.NewReader(data[lzmaHeaderSize:len(data)-lzmaFooterSize]))
	r, err := lzma.NewReader(stream)
	if err != nil {
		return nil, fmt.Errorf("%w: lzma header: %w", ErrChunkFormat, err)
	}
	out := make([]byte, size)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("%w: lzma: %w", ErrChunkFormat, err)
	}
	if crc32.ChecksumIEEE(out) != checksum {
		return nil, fmt.Errorf("%w: VZa checksum mismatch", ErrChunkFormat)
	}
	return out, nil
}

func decompressZstd(data []byte) ([]byte, error) {
	if len(data) < zstdHeaderSize+zstdFooterSize || !bytes.HasSuffix(data, []byte("zsv")) {
		return nil, fmt.Errorf("%w: truncated VSZa payload", ErrChunkFormat)
	}
	footer := data[len(data)-zstdFooterSize:]
	checksum := binary.LittleEndian.Uint32(footer[0:4])
	size := binary.LittleEndian.Uint32(footer[4:8])

	dec, err := sharedZstdDecoder()
	if err != nil {
		return nil, err
	}
	out, err := dec.DecodeAll(data[zstdHeaderSize:len(data)-zstdFooterSize], make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %w", ErrChunkFormat, err)
	}
	if uint32(len(out)) != size {
		return nil, fmt.Errorf("%w: VSZa size %d, footer says %d", ErrChunkFormat, len(out), size)
	}
	if crc32.ChecksumIEEE(out) != checksum {
		return nil, fmt.Errorf("%w: VSZa checksum mismatch", ErrChunkFormat)
	}
	return out, nil
}

func decompressZip(data []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: zip: %w", ErrChunkFormat, err)
	}
	if len(zr.File) == 0 {
		return nil, fmt.Errorf("%w: empty zip", ErrChunkFormat)
	}
	rc, err := zr.File[0].Open()
	if err != nil {
		return nil, fmt.Errorf("%w: zip entry: %w", ErrChunkFormat, err)
	}
	defer rc.Close()
	out, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: zip entry: %w", ErrChunkFormat, err)
	}
	return out, nil
}

func prefix(b []byte, n int) []byte {
	if len(b) < n {
		return b
	}
	return b[:n]
}
