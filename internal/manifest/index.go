package manifest

import (
	"fmt"
	"iter"
	"path"
	"strings"
	"sync"
)

// Location is a file resolved to the manifest providing it.
type Location struct {
	Manifest *Manifest
	File     *FileEntry
}

// Index resolves paths across a list of manifests. When several manifests
// carry the same path, the earliest manifest in the list wins. Lookups
// are memoized, misses included, so repeated queries never rescan.
//
// Manifests must have their filenames decrypted before being indexed.
type Index struct {
	manifests []*Manifest

	mu      sync.Mutex
	lookups map[string]*Location // nil value records a miss
	scans   int
}

// NewIndex builds an index over manifests, preserving their order.
func NewIndex(manifests []*Manifest) *Index {
	return &Index{
		manifests: manifests,
		lookups:   make(map[string]*Location),
	}
}

func normalizePath(p string) string {
	return strings.TrimPrefix(strings.ReplaceAll(p, "\\", "/"), "/")
}

// Locate returns the first manifest entry for p. Repeated calls return the
// same *Location.
func (ix *Index) Locate(p string) (*Location, bool) {
	key := normalizePath(p)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if loc, ok := ix.lookups[key]; ok {
		return loc, loc != nil
	}

	ix.scans++
	var found *Location
scan:
	for _, m := range ix.manifests {
		for i := range m.Files {
			if normalizePath(m.Files[i].Name) == key {
				found = &Location{Manifest: m, File: &m.Files[i]}
				break scan
			}
		}
	}
	ix.lookups[key] = found
	return found, found != nil
}

// Exists reports whether any manifest carries p.
func (ix *Index) Exists(p string) bool {
	_, ok := ix.Locate(p)
	return ok
}

// Enumerate yields entries whose slash path matches the shell pattern, in
// manifest order. An empty pattern matches every entry. Entries shadowed
// by an earlier manifest are skipped.
func (ix *Index) Enumerate(pattern string) (iter.Seq[*Location], error) {
	if pattern != "" {
		if _, err := path.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
	}

	return func(yield func(*Location) bool) {
		for _, m := range ix.manifests {
			for i := range m.Files {
				p := normalizePath(m.Files[i].Name)
				if pattern != "" {
					if ok, _ := path.Match(pattern, p); !ok {
						continue
					}
				}

				loc := ix.remember(p, m, &m.Files[i])
				if loc.File != &m.Files[i] {
					continue
				}
				if !yield(loc) {
					return
				}
			}
		}
	}, nil
}

// remember stores the location for p unless one is already known, and
// returns the canonical location.
func (ix *Index) remember(p string, m *Manifest, f *FileEntry) *Location {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if loc := ix.lookups[p]; loc != nil {
		return loc
	}
	loc := &Location{Manifest: m, File: f}
	ix.lookups[p] = loc
	return loc
}
