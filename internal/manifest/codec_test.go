package manifest

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZazaJr24/CSF-Downloader/internal/constants"
)

func TestSerializeParse(t *testing.T) {
	m := buildManifest(731, 7137830154420409023, "bin\\game.exe", "data/", "data\\pak01.vpk")
	m.Files[0].Flags = FlagExecutable
	m.Files[0].LinkTarget = "launcher"
	m.Signature = []byte{1, 2, 3}
	m.UniqueChunks = 2
	m.OriginalSize = 1234

	for _, compress := range []bool{false, true} {
		data, err := Serialize(m, compress)
		require.NoError(t, err)
		if compress {
			assert.Equal(t, "PK", string(data[:2]))
		} else {
			assert.Equal(t, uint32(constants.ManifestPayloadMagic), binary.LittleEndian.Uint32(data))
		}

		got, err := Parse(data)
		require.NoError(t, err)
		assert.Equal(t, m.DepotID, got.DepotID)
		assert.Equal(t, m.GID, got.GID)
		assert.Equal(t, m.CreationTime, got.CreationTime)
		assert.Equal(t, m.UniqueChunks, got.UniqueChunks)
		assert.Equal(t, m.OriginalSize, got.OriginalSize)
		assert.Equal(t, m.Signature, got.Signature)
		assert.Equal(t, m.Files, got.Files)
	}
}

func TestParse_Corrupt(t *testing.T) {
	valid, err := Serialize(buildManifest(1, 2, "a"), false)
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"missing end marker", valid[:len(valid)-4]},
		{"section overruns", func() []byte {
			d := append([]byte(nil), valid...)
			binary.LittleEndian.PutUint32(d[4:8], uint32(len(d)))
			return d
		}()},
		{"unknown magic", func() []byte {
			d := append([]byte(nil), valid...)
			binary.LittleEndian.PutUint32(d[0:4], 0x12345678)
			return d
		}()},
		{"only end marker", binary.LittleEndian.AppendUint32(nil, constants.ManifestEndMagic)},
		{"bad zip", []byte("PK\x03\x04garbage")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestParse_SkipsUnknownFields(t *testing.T) {
	m := buildManifest(5, 6, "x")
	data, err := Serialize(m, false)
	require.NoError(t, err)

	// Append an unknown varint field (number 15) to the metadata section.
	payloadLen := binary.LittleEndian.Uint32(data[4:8])
	metaStart := 8 + int(payloadLen)
	metaLen := binary.LittleEndian.Uint32(data[metaStart+4 : metaStart+8])
	metaEnd := metaStart + 8 + int(metaLen)

	patched := append([]byte(nil), data[:metaEnd]...)
	patched = append(patched, 0x78, 0x01) // tag 15 varint, value 1
	binary.LittleEndian.PutUint32(patched[metaStart+4:], metaLen+2)
	patched = append(patched, data[metaEnd:]...)

	got, err := Parse(patched)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), got.GID)
}

func TestContentStats(t *testing.T) {
	m := buildManifest(1, 1, "a", "dir/", "dir\\b")
	files, size := m.ContentStats()
	assert.Equal(t, 2, files)
	assert.Equal(t, uint64(len("aaa")+len("dir\\bdir\\bdir\\b")), size)
	assert.True(t, m.Files[1].IsDirectory())
	assert.Equal(t, "dir/b", m.Files[2].Path())
}
