// Package container decodes content descriptors: the text directive
// format (.lua) and the obfuscated binary wrapper around it (.st).
package container

import "sort"

// Format identifies a container encoding.
type Format int

const (
	FormatUnknown Format = iota
	FormatText           // directive text, .lua
	FormatBinary         // xor + zlib wrapped text, .st
)

func (f Format) String() string {
	switch f {
	case FormatText:
		return "text"
	case FormatBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// ManifestAssignment binds a depot to the manifest to download.
type ManifestAssignment struct {
	DepotID    uint32
	ManifestID uint64
}

// Descriptor is the decoded content of a container.
type Descriptor struct {
	// Keys maps depot IDs to their AES keys. Depots declared without a key
	// are present in Depots but not here.
	Keys map[uint32][]byte

	// Depots lists declared depot IDs in order of first appearance.
	Depots []uint32

	// Manifests lists manifest assignments in order of appearance. A depot
	// may carry several manifests; only exact duplicates are dropped.
	Manifests []ManifestAssignment
}

func newDescriptor() *Descriptor {
	return &Descriptor{Keys: make(map[uint32][]byte)}
}

// Key returns the key declared for a depot.
func (d *Descriptor) Key(depotID uint32) ([]byte, bool) {
	k, ok := d.Keys[depotID]
	return k, ok
}

// ManifestFor returns the first manifest assigned to a depot.
func (d *Descriptor) ManifestFor(depotID uint32) (uint64, bool) {
	ids := d.ManifestsFor(depotID)
	if len(ids) == 0 {
		return 0, false
	}
	return ids[0], true
}

// ManifestsFor returns every manifest assigned to a depot, in order of
// appearance.
func (d *Descriptor) ManifestsFor(depotID uint32) []uint64 {
	var ids []uint64
	for _, m := range d.Manifests {
		if m.DepotID == depotID {
			ids = append(ids, m.ManifestID)
		}
	}
	return ids
}

// KeyedDepots returns the depot IDs that carry a key, ascending.
func (d *Descriptor) KeyedDepots() []uint32 {
	ids := make([]uint32, 0, len(d.Keys))
	for id := range d.Keys {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (d *Descriptor) declareDepot(depotID uint32) {
	for _, id := range d.Depots {
		if id == depotID {
			return
		}
	}
	d.Depots = append(d.Depots, depotID)
}

func (d *Descriptor) assignManifest(depotID uint32, manifestID uint64) {
	a := ManifestAssignment{DepotID: depotID, ManifestID: manifestID}
	for _, m := range d.Manifests {
		if m == a {
			return
		}
	}
	d.Manifests = append(d.Manifests, a)
}
