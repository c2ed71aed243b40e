// Package core implements the top-level download operation: it resolves
// the content descriptor and manifests for a request, then rebuilds every
// file on disk through the transfer scheduler.
package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ZazaJr24/CSF-Downloader/internal/cancel"
	"github.com/ZazaJr24/CSF-Downloader/internal/cdn"
	"github.com/ZazaJr24/CSF-Downloader/internal/config"
	"github.com/ZazaJr24/CSF-Downloader/internal/constants"
	"github.com/ZazaJr24/CSF-Downloader/internal/container"
	"github.com/ZazaJr24/CSF-Downloader/internal/depotkeys"
	"github.com/ZazaJr24/CSF-Downloader/internal/diskspace"
	"github.com/ZazaJr24/CSF-Downloader/internal/events"
	"github.com/ZazaJr24/CSF-Downloader/internal/logging"
	"github.com/ZazaJr24/CSF-Downloader/internal/manifest"
	"github.com/ZazaJr24/CSF-Downloader/internal/progress"
	"github.com/ZazaJr24/CSF-Downloader/internal/storage"
	"github.com/ZazaJr24/CSF-Downloader/internal/transfer"
)

// ExitStatus is the process exit status of a download.
type ExitStatus int

const (
	ExitSuccess ExitStatus = 0
	ExitFailure ExitStatus = 1
)

var (
	// ErrNoInput is returned when a request names neither an app nor a
	// container nor manifest files.
	ErrNoInput = errors.New("no app ID, container or manifest file given")

	// ErrNoManifests is returned when no manifest could be resolved.
	ErrNoManifests = errors.New("no manifests to download")

	errNoSource = errors.New("no content source configured")
)

// Options tune a download.
type Options struct {
	FlattenPaths        bool
	ShowProgress        bool
	SkipVerify          bool
	CustomDepotKeysPath string
	Concurrency         int // 0 uses the configured value
	ProgressStyle       progress.Style
}

// Request describes one download.
type Request struct {
	// AppIDs selects the container {app}.lua / {app}.st. Only the first
	// ID is used.
	AppIDs []uint32

	// ContainerPath names a container file directly, bypassing the search.
	ContainerPath string

	// SearchDirs are searched for containers and {depot}_{gid}.manifest
	// files. Defaults to the working directory.
	SearchDirs []string

	// ManifestFiles are manifest files to download in addition to the
	// container's assignments.
	ManifestFiles []string

	OutputDir string
	Options   Options
}

// Result describes a finished download.
type Result struct {
	RunID     string
	AppID     uint32
	Manifests int
	Summary   transfer.Summary
}

// Connector opens the content source once the key store is known.
type Connector func(ctx context.Context, keys cdn.KeyResolver) (cdn.Connection, error)

// Engine runs downloads. An Engine may run several requests in sequence.
type Engine struct {
	cfg         *config.Config
	controller  *cancel.Controller
	connect     Connector
	bus         *events.EventBus
	logger      *logging.Logger
	progressOut *os.File
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithConnector replaces the source selected by the configuration.
func WithConnector(c Connector) EngineOption {
	return func(e *Engine) { e.connect = c }
}

// WithEventBus sets the bus the connection publishes to.
func WithEventBus(bus *events.EventBus) EngineOption {
	return func(e *Engine) { e.bus = bus }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithProgressOutput sets where progress bars are drawn (os.Stderr by
// default).
func WithProgressOutput(f *os.File) EngineOption {
	return func(e *Engine) { e.progressOut = f }
}

// NewEngine creates an engine. A nil cfg uses the defaults; a nil
// controller gets a private one.
func NewEngine(cfg *config.Config, controller *cancel.Controller, opts ...EngineOption) *Engine {
	if cfg == nil {
		d := config.Default()
		cfg = &d
	}
	if controller == nil {
		controller = cancel.New()
	}
	e := &Engine{
		cfg:        cfg,
		controller: controller,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.OrNop(e.logger)
	if e.bus == nil {
		e.bus = events.NewEventBus(constants.EventBusDefaultBuffer)
	}
	if e.connect == nil {
		e.connect = e.openConfiguredSource
	}
	return e
}

func (e *Engine) openConfiguredSource(ctx context.Context, keys cdn.KeyResolver) (cdn.Connection, error) {
	conn, _, err := cdn.Open(ctx, e.cfg, storage.NewDir(e.cfg.CacheDir), keys, e.bus, e.logger)
	return conn, err
}

// Events returns the bus connection events are published to.
func (e *Engine) Events() *events.EventBus {
	return e.bus
}

// Download runs req and maps the outcome to an exit status: ExitSuccess
// only when every file was reconstructed.
func (e *Engine) Download(ctx context.Context, req Request) ExitStatus {
	res, err := e.Run(ctx, req)
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, cancel.ErrStopRequested):
		e.logger.Info().Msg("Download cancelled")
		return ExitFailure
	case err != nil:
		e.logger.Error().Err(err).Msg("Download failed")
		return ExitFailure
	case res.Summary.State == transfer.StateCancelled:
		e.logger.Info().Int("completed", res.Summary.Completed).Msg("Download cancelled")
		return ExitFailure
	case res.Summary.State != transfer.StateCompleted || res.Summary.Failed > 0:
		for _, t := range res.Summary.Failures {
			e.logger.Error().Err(t.Err()).Str("path", t.File.Path()).Msg("Not downloaded")
		}
		return ExitFailure
	}
	return ExitSuccess
}

// Run executes req. The returned error is run-scoped; file failures are
// reported in the Summary.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	defer e.controller.MarkStopped()

	res := &Result{RunID: uuid.NewString()}
	logger := e.logger.Child(e.logger.With().Str("run_id", res.RunID).Logger())

	if len(req.AppIDs) == 0 && req.ContainerPath == "" && len(req.ManifestFiles) == 0 {
		return nil, ErrNoInput
	}
	if req.OutputDir == "" {
		req.OutputDir = "."
	}
	if len(req.SearchDirs) == 0 {
		req.SearchDirs = []string{"."}
	}
	concurrency := req.Options.Concurrency
	if concurrency <= 0 {
		concurrency = e.cfg.Concurrency
	}

	if len(req.AppIDs) > 0 {
		res.AppID = req.AppIDs[0]
		if len(req.AppIDs) > 1 {
			logger.Warn().Uint32("app", res.AppID).Interface("ignored", req.AppIDs[1:]).
				Msg("Only the first app ID is used")
		}
	}

	keys := depotkeys.Open(storage.NewDir(e.cfg.DataDir), req.Options.CustomDepotKeysPath, logger)

	desc, err := e.loadDescriptor(req, res.AppID, logger)
	if err != nil {
		return nil, err
	}
	if desc != nil {
		added := 0
		for _, depot := range desc.KeyedDepots() {
			key, _ := desc.Key(depot)
			if keys.Add(depot, key) {
				added++
			}
		}
		logger.Info().
			Int("depots", len(desc.Depots)).
			Int("manifests", len(desc.Manifests)).
			Int("new_keys", added).
			Msg("Container decoded")
	}

	// Keys learned from the container survive any run that gets past
	// decoding, graceful stops included.
	defer func() {
		if err := keys.Save(); err != nil {
			logger.Warn().Err(err).Msg("Could not save depot keys")
		}
	}()

	var conn cdn.Connection
	if c, err := e.connect(ctx, keys); err != nil {
		logger.Warn().Err(err).Msg("Content source unavailable, using local files only")
	} else {
		conn = c
	}

	stopWatch := e.watchEvents(logger)
	defer stopWatch()

	var fetcher manifest.Fetcher
	if conn != nil {
		fetcher = conn
	}
	cache := manifest.NewCache(storage.NewDir(e.cfg.CacheDir).Sub(constants.ManifestCacheDir), fetcher, keys, e.bus, logger)

	manifests, err := e.resolveManifests(ctx, req, res.AppID, desc, cache, concurrency, logger)
	if err != nil {
		return nil, err
	}
	if e.controller.IsStopRequested() {
		return nil, cancel.ErrStopRequested
	}
	if len(manifests) == 0 {
		return nil, ErrNoManifests
	}
	res.Manifests = len(manifests)

	var chunks cdn.ChunkFetcher = offlineChunks{}
	if conn != nil {
		chunks = conn
	}

	reporter := progress.New(progress.Options{
		Style:   req.Options.ProgressStyle,
		Enabled: req.Options.ShowProgress,
		Output:  e.progressOut,
	})
	downloader := transfer.NewDownloader(chunks, transfer.DownloaderOptions{
		OutputDir:    req.OutputDir,
		FlattenPaths: req.Options.FlattenPaths,
		Stop:         e.controller,
		Progress:     reporter,
		Logger:       logger,
	})

	e.checkSpace(downloader, manifests, req.OutputDir, logger)

	deregister := e.controller.Register(reporter)
	defer deregister()

	scheduler := transfer.NewScheduler(downloader, transfer.SchedulerOptions{
		Concurrency: concurrency,
		Controller:  e.controller,
		Progress:    reporter,
		Bus:         e.bus,
		Logger:      logger,
	})
	summary, err := scheduler.Run(ctx, manifests, !req.Options.SkipVerify)
	if summary.State == transfer.StateCancelled {
		reporter.Cancel()
	} else {
		reporter.Finish()
	}
	res.Summary = summary
	if err != nil {
		return res, err
	}
	return res, nil
}

// loadDescriptor decodes the container named by the request. A missing
// container is only an error when no manifest file was given either.
func (e *Engine) loadDescriptor(req Request, appID uint32, logger *logging.Logger) (*container.Descriptor, error) {
	path := req.ContainerPath
	if path == "" {
		if appID == 0 {
			return nil, nil
		}
		found, format, err := container.Locate(appID, req.SearchDirs...)
		if err != nil {
			if len(req.ManifestFiles) > 0 {
				logger.Warn().Err(err).Msg("No container found, using manifest files only")
				return nil, nil
			}
			return nil, err
		}
		logger.Debug().Str("path", found).Str("format", format.String()).Msg("Container located")
		path = found
	}

	desc, err := container.DecodeFile(path)
	if err != nil {
		return nil, err
	}
	return desc, nil
}

// resolveManifests loads explicit manifest files, then the container's
// assignments from local files or the cache. Results keep request order;
// assignments that cannot be resolved are logged and skipped.
func (e *Engine) resolveManifests(ctx context.Context, req Request, appID uint32, desc *container.Descriptor,
	cache *manifest.Cache, concurrency int, logger *logging.Logger) ([]*manifest.Manifest, error) {

	var out []*manifest.Manifest
	seen := make(map[manifest.Key]bool)

	for _, p := range req.ManifestFiles {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest file: %w", err)
		}
		m, err := cache.Add(appID, data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		if !seen[m.Key()] {
			seen[m.Key()] = true
			out = append(out, m)
		}
	}

	if desc == nil || len(desc.Manifests) == 0 {
		return out, nil
	}

	resolved := make([]*manifest.Manifest, len(desc.Manifests))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, a := range desc.Manifests {
		if e.controller.IsStopRequested() {
			break
		}
		g.Go(func() error {
			m, err := e.resolveAssignment(gctx, a, appID, req.SearchDirs, cache)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Error().Err(err).
					Uint32("depot", a.DepotID).
					Uint64("manifest", a.ManifestID).
					Msg("Skipping manifest")
				return nil
			}
			resolved[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, m := range resolved {
		if m == nil || seen[m.Key()] {
			continue
		}
		seen[m.Key()] = true
		out = append(out, m)
	}
	return out, nil
}

func (e *Engine) resolveAssignment(ctx context.Context, a container.ManifestAssignment, appID uint32,
	dirs []string, cache *manifest.Cache) (*manifest.Manifest, error) {

	if p, ok := findLocalManifest(a.DepotID, a.ManifestID, dirs); ok {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest file: %w", err)
		}
		m, err := cache.Add(appID, data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		return m, nil
	}
	return cache.Get(ctx, appID, a.DepotID, a.ManifestID)
}

// findLocalManifest looks for {depot}_{gid}.manifest in dirs.
func findLocalManifest(depotID uint32, gid uint64, dirs []string) (string, bool) {
	name := strconv.FormatUint(uint64(depotID), 10) + "_" + strconv.FormatUint(gid, 10) + ".manifest"
	for _, dir := range dirs {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return p, true
		}
	}
	return "", false
}

// checkSpace warns when the bytes not yet on disk do not fit.
func (e *Engine) checkSpace(d *transfer.Downloader, manifests []*manifest.Manifest, outputDir string, logger *logging.Logger) {
	var required int64
	for _, m := range manifests {
		if m.FilenamesEncrypted {
			continue
		}
		for i := range m.Files {
			f := &m.Files[i]
			if f.IsDirectory() {
				continue
			}
			need := int64(f.Size)
			if target, err := d.TargetPath(f); err == nil {
				if info, err := os.Stat(target); err == nil {
					need -= min(info.Size(), need)
				}
			}
			required += need
		}
	}

	if err := diskspace.CheckAvailableSpace(outputDir, required, constants.DiskSpaceSafetyMargin); err != nil {
		logger.Warn().Err(err).Msg("Output directory may run out of space")
	}
}

// watchEvents logs connection events until the returned function is
// called.
func (e *Engine) watchEvents(logger *logging.Logger) func() {
	types := []events.EventType{events.EventServersRefreshed, events.EventChunkRetry, events.EventManifestCached}
	chans := make([]<-chan events.Event, len(types))
	for i, t := range types {
		chans[i] = e.bus.Subscribe(t)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		servers, retries, manifests := chans[0], chans[1], chans[2]
		for servers != nil || retries != nil || manifests != nil {
			var ev events.Event
			var ok bool
			select {
			case ev, ok = <-servers:
				if !ok {
					servers = nil
					continue
				}
			case ev, ok = <-retries:
				if !ok {
					retries = nil
					continue
				}
			case ev, ok = <-manifests:
				if !ok {
					manifests = nil
					continue
				}
			}
			logEvent(logger, ev)
		}
	}()

	return func() {
		for i, t := range types {
			e.bus.Unsubscribe(t, chans[i])
		}
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
}

func logEvent(logger *logging.Logger, ev events.Event) {
	switch ev := ev.(type) {
	case *events.ServersRefreshedEvent:
		logger.Info().Uint32("cell", ev.CellID).Int("servers", ev.Servers).Msg("Content servers refreshed")
	case *events.ChunkRetryEvent:
		logger.Debug().Err(ev.Error).
			Uint32("depot", ev.DepotID).
			Str("chunk", ev.ChunkID).
			Str("host", ev.Host).
			Int("attempt", ev.Attempt).
			Msg("Chunk retry")
	case *events.ManifestCachedEvent:
		logger.Debug().Uint32("depot", ev.DepotID).Uint64("manifest", ev.GID).Str("source", ev.Source).
			Msg("Manifest resolved")
	}
}

// offlineChunks is the chunk source when no connection could be opened;
// files already complete on disk still verify.
type offlineChunks struct{}

func (offlineChunks) FetchChunk(ctx context.Context, depotID uint32, sha []byte) ([]byte, error) {
	return nil, errNoSource
}
