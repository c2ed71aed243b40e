package manifest

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecryptFilenames(t *testing.T) {
	key := bytes.Repeat([]byte{0x5a}, 32)
	m := buildManifest(9, 10, "Zeta.txt", "alpha.txt", "Beta\\c.bin")
	m.Files[1].LinkTarget = "Zeta.txt"
	require.NoError(t, m.EncryptFilenames(key))
	assert.True(t, m.FilenamesEncrypted)
	assert.NotEqual(t, "Zeta.txt", m.Files[0].Name)

	require.NoError(t, m.DecryptFilenames(key))
	assert.False(t, m.FilenamesEncrypted)

	names := []string{m.Files[0].Name, m.Files[1].Name, m.Files[2].Name}
	assert.Equal(t, []string{"alpha.txt", "Beta\\c.bin", "Zeta.txt"}, names)
	assert.Equal(t, "Zeta.txt", m.Files[0].LinkTarget)

	// Second call is a no-op.
	require.NoError(t, m.DecryptFilenames(bytes.Repeat([]byte{0x01}, 32)))
}

func TestDecryptFilenames_WrongKeyLeavesManifest(t *testing.T) {
	key := bytes.Repeat([]byte{0x5a}, 32)
	m := buildManifest(9, 10, "a.txt", "b.txt")
	require.NoError(t, m.EncryptFilenames(key))
	encryptedNames := []string{m.Files[0].Name, m.Files[1].Name}

	err := m.DecryptFilenames(bytes.Repeat([]byte{0x11}, 32))
	require.Error(t, err)
	assert.True(t, m.FilenamesEncrypted)
	assert.Equal(t, encryptedNames, []string{m.Files[0].Name, m.Files[1].Name})
}

func TestEncryptedManifestSurvivesCodec(t *testing.T) {
	key := bytes.Repeat([]byte{0x33}, 32)
	m := buildManifest(9, 10, "a.txt")
	require.NoError(t, m.EncryptFilenames(key))

	data, err := Serialize(m, true)
	require.NoError(t, err)
	got, err := Parse(data)
	require.NoError(t, err)
	require.True(t, got.FilenamesEncrypted)
	require.NoError(t, got.DecryptFilenames(key))
	assert.Equal(t, "a.txt", got.Files[0].Name)
}
