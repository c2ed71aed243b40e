package cdn

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZazaJr24/CSF-Downloader/internal/constants"
	"github.com/ZazaJr24/CSF-Downloader/internal/events"
	"github.com/ZazaJr24/CSF-Downloader/internal/storage"
)

type fakeLister struct {
	servers []Server
	err     error
	calls   int
}

func (f *fakeLister) ListServers(ctx context.Context, cellID uint32) ([]Server, error) {
	f.calls++
	return f.servers, f.err
}

var fixedNow = time.Unix(1_700_000_000, 0)

func clock() time.Time { return fixedNow }

func seedRecord(t *testing.T, dir storage.Dir, age time.Duration, host string) {
	t.Helper()
	rec := serverRecord{
		Timestamp: fixedNow.Add(-age).Unix(),
		CellID:    3,
		Servers:   []Server{{Host: host, Type: "CDN"}},
	}
	require.NoError(t, dir.File(constants.ServerListFile).WriteJSON(rec))
}

func TestServerCache_TTL(t *testing.T) {
	tests := []struct {
		name      string
		age       time.Duration
		wantCalls int
		wantHost  string
	}{
		{"fresh record reused", 299 * time.Second, 0, "cached.example"},
		{"expired record refetched", 301 * time.Second, 1, "fresh.example"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := storage.NewDir(t.TempDir())
			seedRecord(t, dir, tt.age, "cached.example")
			lister := &fakeLister{servers: []Server{{Host: "fresh.example"}}}
			c := NewServerCache(dir, lister, 7, nil, nil, WithClock(clock))

			servers, err := c.List(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantCalls, lister.calls)
			require.Len(t, servers, 1)
			assert.Equal(t, tt.wantHost, servers[0].Host)

			// Second call within the run never refetches.
			_, err = c.List(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantCalls, lister.calls)
		})
	}
}

func TestServerCache_RefreshPersistsRecord(t *testing.T) {
	dir := storage.NewDir(t.TempDir())
	bus := events.NewEventBus(4)
	defer bus.Close()
	ch := bus.Subscribe(events.EventServersRefreshed)

	lister := &fakeLister{servers: []Server{{Host: "a"}, {Host: "b"}}}
	c := NewServerCache(dir, lister, 9, bus, nil, WithClock(clock))
	_, err := c.List(context.Background())
	require.NoError(t, err)

	var rec serverRecord
	found, err := dir.File(constants.ServerListFile).ReadJSON(&rec)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, fixedNow.Unix(), rec.Timestamp)
	assert.Equal(t, uint32(9), rec.CellID)
	assert.Len(t, rec.Servers, 2)

	raw, err := os.ReadFile(dir.Path(constants.ServerListFile))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"cellId": 9`)

	select {
	case ev := <-ch:
		assert.Equal(t, 2, ev.(*events.ServersRefreshedEvent).Servers)
	case <-time.After(time.Second):
		t.Fatal("expected ServersRefreshed event")
	}
}

func TestServerCache_CorruptRecordIsExpired(t *testing.T) {
	dir := storage.NewDir(t.TempDir())
	require.NoError(t, dir.File(constants.ServerListFile).WriteBytes([]byte("{not json")))

	lister := &fakeLister{servers: []Server{{Host: "fresh"}}}
	c := NewServerCache(dir, lister, 0, nil, nil, WithClock(clock))
	servers, err := c.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, lister.calls)
	assert.Equal(t, "fresh", servers[0].Host)
}

func TestServerCache_Errors(t *testing.T) {
	dir := storage.NewDir(t.TempDir())
	seedRecord(t, dir, time.Hour, "stale")

	lister := &fakeLister{err: errors.New("dial tcp: connection refused")}
	c := NewServerCache(dir, lister, 0, nil, nil, WithClock(clock))
	_, err := c.List(context.Background())
	var ne *NetworkError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, "list servers", ne.Op)

	lister.err = nil
	_, err = c.List(context.Background())
	assert.ErrorIs(t, err, ErrNoServers)
}

func TestServerCache_Invalidate(t *testing.T) {
	dir := storage.NewDir(t.TempDir())
	seedRecord(t, dir, time.Second, "cached")
	lister := &fakeLister{servers: []Server{{Host: "fresh"}}}
	c := NewServerCache(dir, lister, 0, nil, nil, WithClock(clock))

	_, err := c.List(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Invalidate())
	assert.False(t, dir.File(constants.ServerListFile).Exists())

	servers, err := c.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", servers[0].Host)
	assert.Equal(t, 1, lister.calls)
}
