package manifest

import (
	"crypto/sha1"
	"strings"
)

// buildManifest returns a manifest with one chunk per file whose content
// is the file name repeated to the declared size.
func buildManifest(depotID uint32, gid uint64, names ...string) *Manifest {
	m := &Manifest{DepotID: depotID, GID: gid, CreationTime: 1700000000}
	for _, name := range names {
		if strings.HasSuffix(name, "/") {
			m.Files = append(m.Files, FileEntry{Name: strings.TrimSuffix(name, "/"), Flags: FlagDirectory})
			continue
		}
		content := []byte(strings.Repeat(name, 3))
		sum := sha1.Sum(content)
		m.Files = append(m.Files, FileEntry{
			Name:       name,
			Size:       uint64(len(content)),
			SHAContent: sum[:],
			Chunks: []ChunkRef{{
				SHA:            sum[:],
				CRC:            0xdeadbeef,
				Offset:         0,
				OriginalSize:   uint32(len(content)),
				CompressedSize: uint32(len(content)),
			}},
		})
	}
	return m
}
