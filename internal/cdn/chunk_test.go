package cdn

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz/lzma"

	encryption "github.com/ZazaJr24/CSF-Downloader/internal/crypto"
)

var testDepotKey = bytes.Repeat([]byte{0x42}, 32)

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func encodeVZa(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := lzma.WriterConfig{Size: int64(len(data))}.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	classic := buf.Bytes()

	out := append([]byte("VZa"), le32(0x5EED)...)
	out = append(out, classic[:5]...)
	out = append(out, classic[13:]...)
	out = append(out, le32(crc32.ChecksumIEEE(data))...)
	out = append(out, le32(uint32(len(data)))...)
	return append(out, "zv"...)
}

func encodeVSZa(t *testing.T, data []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	frame := enc.EncodeAll(data, nil)
	require.NoError(t, enc.Close())

	out := append([]byte("VSZa"), le32(0x5EED)...)
	out = append(out, frame...)
	out = append(out, le32(crc32.ChecksumIEEE(data))...)
	out = append(out, le32(uint32(len(data)))...)
	out = append(out, 0, 0, 0, 0)
	return append(out, "zsv"...)
}

func encodePK(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("z")
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// encodeChunk produces a raw chunk as served by the CDN.
func encodeChunk(t *testing.T, data, key []byte) []byte {
	t.Helper()
	raw, err := encryption.SymmetricEncrypt(encodeVSZa(t, data), key)
	require.NoError(t, err)
	return raw
}

func TestDecompress(t *testing.T) {
	content := bytes.Repeat([]byte("chunk content "), 500)

	tests := []struct {
		name    string
		payload []byte
	}{
		{"lzma", encodeVZa(t, content)},
		{"zstd", encodeVSZa(t, content)},
		{"zip", encodePK(t, content)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Decompress(tt.payload)
			require.NoError(t, err)
			assert.Equal(t, content, out)
		})
	}
}

func TestDecompress_Errors(t *testing.T) {
	content := []byte("some bytes that will be compressed")

	badCRC := encodeVZa(t, content)
	badCRC[len(badCRC)-10] ^= 0xff

	badZstdSize := encodeVSZa(t, content)
	binary.LittleEndian.PutUint32(badZstdSize[len(badZstdSize)-11:], 1)

	noTrailer := encodeVZa(t, content)
	noTrailer = noTrailer[:len(noTrailer)-1]

	tests := []struct {
		name    string
		payload []byte
	}{
		{"unknown prefix", []byte("XXXX1234")},
		{"empty", nil},
		{"lzma checksum", badCRC},
		{"lzma trailer", noTrailer},
		{"zstd size", badZstdSize},
		{"zstd truncated", []byte("VSZa1234zsv")},
		{"zip garbage", []byte("PK\x03\x04garbage")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decompress(tt.payload)
			assert.ErrorIs(t, err, ErrChunkFormat)
		})
	}
}

func TestDecodeChunk(t *testing.T) {
	content := []byte("decrypted and decompressed")
	raw := encodeChunk(t, content, testDepotKey)

	out, err := DecodeChunk(raw, testDepotKey)
	require.NoError(t, err)
	assert.Equal(t, content, out)

	_, err = DecodeChunk(raw, bytes.Repeat([]byte{0x01}, 32))
	assert.ErrorIs(t, err, ErrChunkFormat)

	_, err = DecodeChunk([]byte("short"), testDepotKey)
	assert.ErrorIs(t, err, ErrChunkFormat)
}
