package manifest

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndex_LocateFirstManifestWins(t *testing.T) {
	first := buildManifest(1, 1, "shared.txt", "only-first.txt")
	second := buildManifest(2, 2, "shared.txt", "dir\\only-second.txt")
	ix := NewIndex([]*Manifest{first, second})

	loc, ok := ix.Locate("shared.txt")
	require.True(t, ok)
	assert.Same(t, first, loc.Manifest)

	loc, ok = ix.Locate("dir/only-second.txt")
	require.True(t, ok)
	assert.Same(t, second, loc.Manifest)
	assert.Len(t, loc.File.Chunks, 1)

	assert.True(t, ix.Exists("dir\\only-second.txt"))
	assert.False(t, ix.Exists("missing.txt"))
}

func TestIndex_MemoizesIncludingMisses(t *testing.T) {
	ix := NewIndex([]*Manifest{buildManifest(1, 1, "a.txt")})

	loc1, ok := ix.Locate("a.txt")
	require.True(t, ok)
	loc2, _ := ix.Locate("a.txt")
	assert.Same(t, loc1, loc2)

	_, ok = ix.Locate("nope")
	assert.False(t, ok)
	_, ok = ix.Locate("nope")
	assert.False(t, ok)

	assert.Equal(t, 2, ix.scans)
}

func TestIndex_Enumerate(t *testing.T) {
	first := buildManifest(1, 1, "bin\\a.dll", "readme.txt")
	second := buildManifest(2, 2, "bin\\b.dll", "readme.txt")
	ix := NewIndex([]*Manifest{first, second})

	seq, err := ix.Enumerate("bin/*.dll")
	require.NoError(t, err)
	var got []string
	for loc := range seq {
		got = append(got, loc.File.Path())
	}
	assert.Equal(t, []string{"bin/a.dll", "bin/b.dll"}, got)

	all, err := ix.Enumerate("")
	require.NoError(t, err)
	var count int
	for loc := range all {
		count++
		if loc.File.Name == "readme.txt" {
			assert.Same(t, first, loc.Manifest, "shadowed entry must not be yielded")
		}
	}
	assert.Equal(t, 3, count)

	// Enumerate populated the memo: Locate returns without scanning.
	loc, ok := ix.Locate("bin/b.dll")
	require.True(t, ok)
	assert.Same(t, second, loc.Manifest)
	assert.Equal(t, 0, ix.scans)

	_, err = ix.Enumerate("[")
	assert.Error(t, err)
}

func TestIndex_EnumerateStopsEarly(t *testing.T) {
	ix := NewIndex([]*Manifest{buildManifest(1, 1, "a", "b", "c")})
	seq, err := ix.Enumerate("")
	require.NoError(t, err)
	n := 0
	for range seq {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestIndex_ConcurrentLocate(t *testing.T) {
	ix := NewIndex([]*Manifest{buildManifest(1, 1, "a.txt", "b.txt")})
	var wg sync.WaitGroup
	results := make([]*Location, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = ix.Locate("b.txt")
		}(i)
	}
	wg.Wait()
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
	assert.Equal(t, 1, ix.scans)
}
