package core

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZazaJr24/CSF-Downloader/internal/cancel"
	"github.com/ZazaJr24/CSF-Downloader/internal/cdn"
	"github.com/ZazaJr24/CSF-Downloader/internal/config"
	"github.com/ZazaJr24/CSF-Downloader/internal/constants"
	"github.com/ZazaJr24/CSF-Downloader/internal/manifest"
	"github.com/ZazaJr24/CSF-Downloader/internal/transfer"
)

const (
	testApp   = 480
	testDepot = 481
	testGID   = 3183503801510301321
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

// fakeConnection serves serialized manifests and decoded chunks.
type fakeConnection struct {
	manifests     map[uint64][]byte
	chunks        map[string][]byte
	manifestCalls atomic.Int64
	chunkCalls    atomic.Int64
}

func (f *fakeConnection) FetchManifest(ctx context.Context, appID, depotID uint32, gid uint64) ([]byte, error) {
	f.manifestCalls.Add(1)
	data, ok := f.manifests[gid]
	if !ok {
		return nil, &cdn.NetworkError{Op: "manifest", URL: fmt.Sprint(gid), StatusCode: 404}
	}
	return data, nil
}

func (f *fakeConnection) FetchChunk(ctx context.Context, depotID uint32, sha []byte) ([]byte, error) {
	f.chunkCalls.Add(1)
	data, ok := f.chunks[string(sha)]
	if !ok {
		return nil, &cdn.NetworkError{Op: "chunk", URL: hex.EncodeToString(sha), StatusCode: 404}
	}
	return data, nil
}

type fixture struct {
	cfg     *config.Config
	dir     string // search dir
	out     string
	conn    *fakeConnection
	content []byte
}

// newFixture builds a depot with one 100-byte file and one directory,
// published through the fake connection, plus a container for testApp.
func newFixture(t *testing.T, encryptNames bool) *fixture {
	t.Helper()
	fx := &fixture{
		dir:     t.TempDir(),
		out:     t.TempDir(),
		conn:    &fakeConnection{manifests: map[uint64][]byte{}, chunks: map[string][]byte{}},
		content: []byte(strings.Repeat("depotdata!", 10)),
	}
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.CacheDir = t.TempDir()
	fx.cfg = &cfg

	sum := sha1.Sum(fx.content)
	fx.conn.chunks[string(sum[:])] = fx.content
	m := &manifest.Manifest{
		DepotID: testDepot,
		GID:     testGID,
		Files: []manifest.FileEntry{
			{Name: "game", Flags: manifest.FlagDirectory},
			{Name: `game\data.bin`, Size: uint64(len(fx.content)), Chunks: []manifest.ChunkRef{
				{SHA: sum[:], OriginalSize: uint32(len(fx.content))},
			}},
		},
	}
	if encryptNames {
		require.NoError(t, m.EncryptFilenames(testKey))
	}
	data, err := manifest.Serialize(m, true)
	require.NoError(t, err)
	fx.conn.manifests[testGID] = data

	lua := fmt.Sprintf("addappid(%d)\naddappid(%d,1,\"%s\")\nsetManifestid(%d,\"%d\",0)\n",
		testApp, testDepot, hex.EncodeToString(testKey), testDepot, testGID)
	require.NoError(t, os.WriteFile(filepath.Join(fx.dir, fmt.Sprintf("%d.lua", testApp)), []byte(lua), 0644))
	return fx
}

func (fx *fixture) engine(t *testing.T, opts ...EngineOption) *Engine {
	ctrl := cancel.New(cancel.WithExitFunc(func(int) { t.Error("forced exit") }))
	opts = append([]EngineOption{WithConnector(func(ctx context.Context, keys cdn.KeyResolver) (cdn.Connection, error) {
		return fx.conn, nil
	})}, opts...)
	return NewEngine(fx.cfg, ctrl, opts...)
}

func (fx *fixture) request() Request {
	return Request{AppIDs: []uint32{testApp}, SearchDirs: []string{fx.dir}, OutputDir: fx.out}
}

func TestDownload_EndToEnd(t *testing.T) {
	fx := newFixture(t, false)
	e := fx.engine(t)

	status := e.Download(context.Background(), fx.request())
	assert.Equal(t, ExitSuccess, status)

	got, err := os.ReadFile(filepath.Join(fx.out, "game", "data.bin"))
	require.NoError(t, err)
	assert.Equal(t, fx.content, got)

	entries, err := os.ReadDir(fx.out)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	assert.FileExists(t, filepath.Join(fx.cfg.CacheDir, constants.ManifestCacheDir,
		fmt.Sprintf("%d_%d_%d", testApp, testDepot, testGID)))
}

func TestRun_Summary(t *testing.T) {
	fx := newFixture(t, false)
	res, err := fx.engine(t).Run(context.Background(), fx.request())
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, uint32(testApp), res.AppID)
	assert.Equal(t, 1, res.Manifests)
	assert.Equal(t, transfer.StateCompleted, res.Summary.State)
	assert.Equal(t, 1, res.Summary.TotalFiles)
	assert.Equal(t, 1, res.Summary.Completed)
	assert.Equal(t, int64(100), res.Summary.BytesWritten)
}

func TestRun_SecondRunVerifiesWithoutFetching(t *testing.T) {
	fx := newFixture(t, false)
	_, err := fx.engine(t).Run(context.Background(), fx.request())
	require.NoError(t, err)
	chunkCalls := fx.conn.chunkCalls.Load()
	manifestCalls := fx.conn.manifestCalls.Load()

	res, err := fx.engine(t).Run(context.Background(), fx.request())
	require.NoError(t, err)
	assert.Equal(t, transfer.StateCompleted, res.Summary.State)
	assert.Zero(t, res.Summary.BytesWritten)
	assert.Equal(t, chunkCalls, fx.conn.chunkCalls.Load())
	assert.Equal(t, manifestCalls, fx.conn.manifestCalls.Load(), "manifest served from the disk cache")
}

func TestRun_DecryptsFilenamesWithContainerKey(t *testing.T) {
	fx := newFixture(t, true)
	res, err := fx.engine(t).Run(context.Background(), fx.request())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Summary.Completed)
	assert.FileExists(t, filepath.Join(fx.out, "game", "data.bin"))
}

func TestRun_SavesKeysToDefaultStore(t *testing.T) {
	fx := newFixture(t, false)
	_, err := fx.engine(t).Run(context.Background(), fx.request())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(fx.cfg.DataDir, constants.DepotKeysFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), hex.EncodeToString(testKey))
}

func TestRun_CustomKeyFileIsolatesDefaultStore(t *testing.T) {
	fx := newFixture(t, false)
	custom := filepath.Join(t.TempDir(), "keys.json")
	require.NoError(t, os.WriteFile(custom, []byte(`{}`), 0644))

	req := fx.request()
	req.Options.CustomDepotKeysPath = custom
	res, err := fx.engine(t).Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, transfer.StateCompleted, res.Summary.State)

	assert.NoFileExists(t, filepath.Join(fx.cfg.DataDir, constants.DepotKeysFile))
	data, err := os.ReadFile(custom)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}

func TestRun_LocalManifestFileOffline(t *testing.T) {
	fx := newFixture(t, false)
	manifestPath := filepath.Join(fx.dir, fmt.Sprintf("%d_%d.manifest", testDepot, testGID))
	require.NoError(t, os.WriteFile(manifestPath, fx.conn.manifests[testGID], 0644))

	res, err := fx.engine(t).Run(context.Background(), fx.request())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Summary.Completed)
	assert.Zero(t, fx.conn.manifestCalls.Load())
}

func TestRun_ExplicitManifestFileWithoutContainer(t *testing.T) {
	fx := newFixture(t, false)
	manifestPath := filepath.Join(t.TempDir(), "depot.manifest")
	require.NoError(t, os.WriteFile(manifestPath, fx.conn.manifests[testGID], 0644))

	req := Request{ManifestFiles: []string{manifestPath}, OutputDir: fx.out, SearchDirs: []string{t.TempDir()}}
	res, err := fx.engine(t).Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Summary.Completed)
}

func TestDownload_FailedFileExitsNonZero(t *testing.T) {
	fx := newFixture(t, false)
	fx.conn.chunks = map[string][]byte{}

	status := fx.engine(t).Download(context.Background(), fx.request())
	assert.Equal(t, ExitFailure, status)
}

func TestDownload_RunScopedErrors(t *testing.T) {
	fx := newFixture(t, false)

	_, err := fx.engine(t).Run(context.Background(), Request{OutputDir: fx.out})
	assert.ErrorIs(t, err, ErrNoInput)

	missing := fx.request()
	missing.AppIDs = []uint32{999}
	_, err = fx.engine(t).Run(context.Background(), missing)
	assert.ErrorIs(t, err, os.ErrNotExist)

	fx.conn.manifests = map[uint64][]byte{}
	_, err = fx.engine(t).Run(context.Background(), fx.request())
	assert.ErrorIs(t, err, ErrNoManifests)
	assert.Equal(t, ExitFailure, fx.engine(t).Download(context.Background(), fx.request()))
}

func TestRun_OnlyFirstAppIDIsUsed(t *testing.T) {
	fx := newFixture(t, false)
	req := fx.request()
	req.AppIDs = []uint32{testApp, 12345}

	res, err := fx.engine(t).Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, uint32(testApp), res.AppID)
	assert.Equal(t, 1, res.Summary.Completed)
}

func TestRun_StopBeforeStartCancels(t *testing.T) {
	fx := newFixture(t, false)
	ctrl := cancel.New(cancel.WithExitFunc(func(int) {}))
	ctrl.RequestStop()
	e := NewEngine(fx.cfg, ctrl, WithConnector(func(ctx context.Context, keys cdn.KeyResolver) (cdn.Connection, error) {
		return fx.conn, nil
	}))

	assert.Equal(t, ExitFailure, e.Download(context.Background(), fx.request()))
	assert.NoError(t, ctrl.AwaitStopped(context.Background()))
	assert.NoFileExists(t, filepath.Join(fx.out, "game", "data.bin"))
}

func TestRun_ConnectorErrorFallsBackToLocalFiles(t *testing.T) {
	fx := newFixture(t, false)
	manifestPath := filepath.Join(fx.dir, fmt.Sprintf("%d_%d.manifest", testDepot, testGID))
	require.NoError(t, os.WriteFile(manifestPath, fx.conn.manifests[testGID], 0644))

	e := NewEngine(fx.cfg, nil, WithConnector(func(ctx context.Context, keys cdn.KeyResolver) (cdn.Connection, error) {
		return nil, assert.AnError
	}))
	res, err := e.Run(context.Background(), fx.request())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Summary.Failed, "chunks cannot be fetched offline")
}

// stoppingConnection requests a graceful stop on the first chunk fetch.
type stoppingConnection struct {
	*fakeConnection
	ctrl *cancel.Controller
}

func (s *stoppingConnection) FetchChunk(ctx context.Context, depotID uint32, sha []byte) ([]byte, error) {
	s.ctrl.RequestStop()
	return s.fakeConnection.FetchChunk(ctx, depotID, sha)
}

func TestRun_GracefulStopSavesKeys(t *testing.T) {
	fx := newFixture(t, false)
	ctrl := cancel.New(cancel.WithExitFunc(func(int) { t.Error("forced exit") }))
	conn := &stoppingConnection{fakeConnection: fx.conn, ctrl: ctrl}
	e := NewEngine(fx.cfg, ctrl, WithConnector(func(ctx context.Context, keys cdn.KeyResolver) (cdn.Connection, error) {
		return conn, nil
	}))

	assert.Equal(t, ExitFailure, e.Download(context.Background(), fx.request()))

	data, err := os.ReadFile(filepath.Join(fx.cfg.DataDir, constants.DepotKeysFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), hex.EncodeToString(testKey))
}

func TestRun_KeysSavedWhenNoManifestResolves(t *testing.T) {
	fx := newFixture(t, false)
	fx.conn.manifests = map[uint64][]byte{}

	_, err := fx.engine(t).Run(context.Background(), fx.request())
	require.ErrorIs(t, err, ErrNoManifests)
	assert.FileExists(t, filepath.Join(fx.cfg.DataDir, constants.DepotKeysFile))
}
