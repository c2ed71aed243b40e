package container

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleText = `-- generated
addappid(1244460)
addappid(1244461, 1, "0a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f9")
addappid( 1244462 ,0, "ffeeddccbbaa99887766554433221100ffeeddccbbaa99887766554433221100" )
setManifestid(1244461, "5520155637104529017", 3221225472)
setManifestid(1244462,"7137830154420409023")
`

func TestDecodeText(t *testing.T) {
	d, err := DecodeText([]byte(sampleText))
	require.NoError(t, err)

	assert.Equal(t, []uint32{1244460, 1244461, 1244462}, d.Depots)
	assert.Len(t, d.Keys, 2)

	key, ok := d.Key(1244461)
	require.True(t, ok)
	assert.Len(t, key, 32)
	assert.Equal(t, byte(0x0a), key[0])

	_, ok = d.Key(1244460)
	assert.False(t, ok, "depot declared without key must have no key")

	require.Len(t, d.Manifests, 2)
	assert.Equal(t, ManifestAssignment{DepotID: 1244461, ManifestID: 5520155637104529017}, d.Manifests[0])
	assert.Equal(t, ManifestAssignment{DepotID: 1244462, ManifestID: 7137830154420409023}, d.Manifests[1])
}

func TestDecodeText_LaterKeyOverwritesOnlyKey(t *testing.T) {
	text := `
addappid(10, 1, "aaaa")
setManifestid(10, "99")
addappid(10, 1, "bbbb")
addappid(10)
`
	d, err := DecodeText([]byte(text))
	require.NoError(t, err)

	key, ok := d.Key(10)
	require.True(t, ok)
	assert.Equal(t, []byte{0xbb, 0xbb}, key)

	id, ok := d.ManifestFor(10)
	require.True(t, ok)
	assert.Equal(t, uint64(99), id)
	assert.Equal(t, []uint32{10}, d.Depots)
}

func TestDecodeText_RepeatedManifestAssignments(t *testing.T) {
	text := `
addappid(481)
setManifestid(481, "111")
setManifestid(482, "5")
setManifestid(481, "222")
setManifestid(481, "111")
`
	d, err := DecodeText([]byte(text))
	require.NoError(t, err)

	assert.Equal(t, []ManifestAssignment{
		{DepotID: 481, ManifestID: 111},
		{DepotID: 482, ManifestID: 5},
		{DepotID: 481, ManifestID: 222},
	}, d.Manifests)
	assert.Equal(t, []uint64{111, 222}, d.ManifestsFor(481))

	id, ok := d.ManifestFor(481)
	require.True(t, ok)
	assert.Equal(t, uint64(111), id)
	assert.Empty(t, d.ManifestsFor(999))
}

func TestDecodeText_Empty(t *testing.T) {
	d, err := DecodeText([]byte("-- nothing here\n"))
	require.NoError(t, err)
	assert.Empty(t, d.Depots)
	assert.Empty(t, d.Manifests)
	assert.Empty(t, d.KeyedDepots())
}

func TestDecodeText_GrammarErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"odd-length key", `addappid(1, 1, "abc")`},
		{"depot overflows uint32", `addappid(99999999999)`},
		{"manifest overflows uint64", `setManifestid(1, "999999999999999999999")`},
		{"invalid utf8", "addappid(1)\xff\xfe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeText([]byte(tt.text))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrGrammar)

			var fe *FormatError
			require.True(t, errors.As(err, &fe))
		})
	}
}

func TestXORKey(t *testing.T) {
	assert.Equal(t, byte((0x12345678^0xFFFEA4C8)&0xFF), XORKey(0x12345678))
	assert.Equal(t, byte(0xB0), XORKey(0x12345678))
	assert.Equal(t, byte(0xC8), XORKey(0))
}

func TestBinaryRoundTrip(t *testing.T) {
	encoded, err := EncodeBinary([]byte(sampleText), 0x12345678)
	require.NoError(t, err)

	assert.Equal(t, uint32(0x12345678), binary.LittleEndian.Uint32(encoded[0:4]))
	assert.Equal(t, uint32(len(encoded)-12), binary.LittleEndian.Uint32(encoded[4:8]))

	text, err := UnwrapBinary(encoded)
	require.NoError(t, err)
	assert.Equal(t, sampleText, string(text))

	fromBinary, err := DecodeBinary(encoded)
	require.NoError(t, err)
	fromText, err := DecodeText([]byte(sampleText))
	require.NoError(t, err)
	assert.Equal(t, fromText, fromBinary)
}

func TestDecodeBinary_ManualLayout(t *testing.T) {
	// Build the container by hand: 512 zero bytes + text, zlib, xor 0xB0.
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, _ = zw.Write(make([]byte, 512))
	_, _ = zw.Write([]byte(`setManifestid(7, "8")`))
	require.NoError(t, zw.Close())

	payload := buf.Bytes()
	for i := range payload {
		payload[i] ^= 0xB0
	}
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], 0x12345678)
	binary.LittleEndian.PutUint32(data[4:8], uint32(len(payload)))
	data = append(data, payload...)
	data = append(data, 0xde, 0xad) // trailing bytes beyond payload_size are ignored

	d, err := DecodeBinary(data)
	require.NoError(t, err)
	id, ok := d.ManifestFor(7)
	require.True(t, ok)
	assert.Equal(t, uint64(8), id)
}

func TestDecodeBinary_Errors(t *testing.T) {
	valid, err := EncodeBinary([]byte("addappid(1)"), 42)
	require.NoError(t, err)

	shortPreamble := func() []byte {
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		_, _ = zw.Write(make([]byte, 100))
		_ = zw.Close()
		payload := buf.Bytes()
		key := XORKey(0)
		for i := range payload {
			payload[i] ^= key
		}
		hdr := make([]byte, 12)
		binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(payload)))
		return append(hdr, payload...)
	}

	tests := []struct {
		name string
		data []byte
		kind error
	}{
		{"empty", nil, ErrHeaderTooShort},
		{"eleven bytes", make([]byte, 11), ErrHeaderTooShort},
		{"size exceeds data", func() []byte {
			d := append([]byte(nil), valid...)
			binary.LittleEndian.PutUint32(d[4:8], uint32(len(d)))
			return d
		}(), ErrSizeMismatch},
		{"wrong xor key", func() []byte {
			d := append([]byte(nil), valid...)
			binary.LittleEndian.PutUint32(d[0:4], 43)
			return d
		}(), ErrDecompress},
		{"preamble truncated", shortPreamble(), ErrTruncatedPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeBinary(tt.data)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
			for _, other := range []error{ErrHeaderTooShort, ErrSizeMismatch, ErrDecompress, ErrTruncatedPayload, ErrGrammar} {
				if other != tt.kind {
					assert.NotErrorIs(t, err, other)
				}
			}
		})
	}
}

func TestDecodeFile(t *testing.T) {
	dir := t.TempDir()

	luaPath := filepath.Join(dir, "100.lua")
	require.NoError(t, os.WriteFile(luaPath, []byte(`setManifestid(101, "1")`), 0644))

	encoded, err := EncodeBinary([]byte(`setManifestid(201, "2")`), 7)
	require.NoError(t, err)
	stPath := filepath.Join(dir, "200.st")
	require.NoError(t, os.WriteFile(stPath, encoded, 0644))

	d, err := DecodeFile(luaPath)
	require.NoError(t, err)
	assert.Equal(t, []ManifestAssignment{{DepotID: 101, ManifestID: 1}}, d.Manifests)

	d, err = DecodeFile(stPath)
	require.NoError(t, err)
	assert.Equal(t, []ManifestAssignment{{DepotID: 201, ManifestID: 2}}, d.Manifests)

	badPath := filepath.Join(dir, "300.st")
	require.NoError(t, os.WriteFile(badPath, []byte{1, 2, 3}, 0644))
	_, err = DecodeFile(badPath)
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, badPath, fe.Source)
	assert.Contains(t, err.Error(), badPath)
}

func TestFormatForPath(t *testing.T) {
	assert.Equal(t, FormatText, FormatForPath("x.LUA", nil))
	assert.Equal(t, FormatBinary, FormatForPath("x.st", nil))
	assert.Equal(t, FormatText, FormatForPath("x.txt", []byte("addappid(1)")))
	assert.Equal(t, FormatBinary, FormatForPath("x.bin", []byte{0xff, 0x00}))
}

func TestLocate(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(second, "5.st"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(second, "5.lua"), []byte("x"), 0644))

	p, format, err := Locate(5, first, second)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(second, "5.lua"), p)
	assert.Equal(t, FormatText, format)

	// A .lua in a later directory beats a .st in an earlier one.
	require.NoError(t, os.WriteFile(filepath.Join(first, "5.st"), []byte("x"), 0644))
	p, format, err = Locate(5, first, second)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(second, "5.lua"), p)
	assert.Equal(t, FormatText, format)

	require.NoError(t, os.WriteFile(filepath.Join(second, "7.st"), []byte("x"), 0644))
	p, format, err = Locate(7, first, second)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(second, "7.st"), p)
	assert.Equal(t, FormatBinary, format)

	_, _, err = Locate(6, first, second)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
