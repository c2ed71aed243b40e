// Package manifest models depot manifests: the list of files in one depot
// version and the content-addressed chunks each file is built from.
package manifest

import (
	"fmt"
	"strings"
)

// Flags are the per-file flag bits stored in a manifest.
type Flags uint32

const (
	FlagUserConfig          Flags = 1 << 0
	FlagVersionedUserConfig Flags = 1 << 1
	FlagEncrypted           Flags = 1 << 2
	FlagReadOnly            Flags = 1 << 3
	FlagHidden              Flags = 1 << 4
	FlagExecutable          Flags = 1 << 5
	FlagDirectory           Flags = 1 << 6
	FlagCustomExecutable    Flags = 1 << 7
	FlagInstallScript       Flags = 1 << 8
	FlagSymlink             Flags = 1 << 9
)

// ChunkRef locates one chunk of a file.
type ChunkRef struct {
	SHA            []byte // SHA-1 of the uncompressed chunk, also its content ID
	CRC            uint32
	Offset         uint64
	OriginalSize   uint32
	CompressedSize uint32
}

// ID returns the hex content ID used to fetch the chunk.
func (c ChunkRef) ID() string {
	return fmt.Sprintf("%x", c.SHA)
}

// FileEntry is one file, directory or link in a manifest.
type FileEntry struct {
	Name        string // as stored; backslash separated on most depots
	Size        uint64
	Flags       Flags
	SHAFilename []byte
	SHAContent  []byte
	Chunks      []ChunkRef
	LinkTarget  string
}

// IsDirectory reports whether the entry is a directory.
func (f *FileEntry) IsDirectory() bool {
	return f.Flags&FlagDirectory != 0
}

// IsFile reports whether the entry has content on disk.
func (f *FileEntry) IsFile() bool {
	return !f.IsDirectory()
}

// Path returns the name with forward slashes.
func (f *FileEntry) Path() string {
	return strings.ReplaceAll(f.Name, "\\", "/")
}

// Key identifies a manifest in the cache.
type Key struct {
	AppID   uint32
	DepotID uint32
	GID     uint64
}

// FileName is the cache file name for the manifest.
func (k Key) FileName() string {
	return fmt.Sprintf("%d_%d_%d", k.AppID, k.DepotID, k.GID)
}

func (k Key) String() string {
	return k.FileName()
}

// Manifest is a parsed depot manifest. After loading it is only mutated
// by DecryptFilenames.
type Manifest struct {
	AppID              uint32 // not stored in the binary form
	DepotID            uint32
	GID                uint64
	CreationTime       uint32
	FilenamesEncrypted bool
	OriginalSize       uint64
	CompressedSize     uint64
	UniqueChunks       uint32
	CRCEncrypted       uint32
	CRCClear           uint32
	Signature          []byte

	Files []FileEntry
}

// Key returns the cache key of the manifest.
func (m *Manifest) Key() Key {
	return Key{AppID: m.AppID, DepotID: m.DepotID, GID: m.GID}
}

// ContentStats counts the non-directory entries and their declared bytes.
func (m *Manifest) ContentStats() (files int, bytes uint64) {
	for i := range m.Files {
		if m.Files[i].IsDirectory() {
			continue
		}
		files++
		bytes += m.Files[i].Size
	}
	return files, bytes
}

func (m *Manifest) String() string {
	return fmt.Sprintf("<Manifest depot=%d gid=%d files=%d>", m.DepotID, m.GID, len(m.Files))
}
