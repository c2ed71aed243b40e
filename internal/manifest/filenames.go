package manifest

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strings"

	encryption "github.com/ZazaJr24/CSF-Downloader/internal/crypto" // package name is 'encryption'
)

// DecryptFilenames decrypts file names and link targets with the depot
// key, then re-sorts entries by lower-cased name. On error the manifest
// is left unchanged. A manifest without encrypted names is a no-op.
func (m *Manifest) DecryptFilenames(key []byte) error {
	if !m.FilenamesEncrypted {
		return nil
	}

	files := make([]FileEntry, len(m.Files))
	copy(files, m.Files)

	for i := range files {
		name, err := decryptName(files[i].Name, key)
		if err != nil {
			return fmt.Errorf("failed to decrypt filename of entry %d in depot %d: %w", i, m.DepotID, err)
		}
		files[i].Name = name

		if files[i].LinkTarget != "" {
			target, err := decryptName(files[i].LinkTarget, key)
			if err != nil {
				return fmt.Errorf("failed to decrypt link target of %s: %w", name, err)
			}
			files[i].LinkTarget = target
		}
	}

	sort.SliceStable(files, func(i, j int) bool {
		return strings.ToLower(files[i].Name) < strings.ToLower(files[j].Name)
	})

	m.Files = files
	m.FilenamesEncrypted = false
	return nil
}

func decryptName(encoded string, key []byte) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(encoded), ""))
	if err != nil {
		return "", fmt.Errorf("invalid base64: %w", err)
	}
	plain, err := encryption.SymmetricDecrypt(raw, key)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(plain), "\x00"), nil
}

// encryptName is the inverse of decryptName.
func encryptName(name string, key []byte) (string, error) {
	ct, err := encryption.SymmetricEncrypt(append([]byte(name), 0), key)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// EncryptFilenames encrypts names and link targets in place. Mirrors
// publish manifests in this form.
func (m *Manifest) EncryptFilenames(key []byte) error {
	if m.FilenamesEncrypted {
		return nil
	}
	files := make([]FileEntry, len(m.Files))
	copy(files, m.Files)

	for i := range files {
		name, err := encryptName(files[i].Name, key)
		if err != nil {
			return fmt.Errorf("failed to encrypt filename %s: %w", files[i].Name, err)
		}
		files[i].Name = name
		if files[i].LinkTarget != "" {
			target, err := encryptName(files[i].LinkTarget, key)
			if err != nil {
				return fmt.Errorf("failed to encrypt link target of entry %d: %w", i, err)
			}
			files[i].LinkTarget = target
		}
	}

	m.Files = files
	m.FilenamesEncrypted = true
	return nil
}
