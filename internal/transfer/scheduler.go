package transfer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZazaJr24/CSF-Downloader/internal/cancel"
	"github.com/ZazaJr24/CSF-Downloader/internal/constants"
	"github.com/ZazaJr24/CSF-Downloader/internal/depotkeys"
	"github.com/ZazaJr24/CSF-Downloader/internal/events"
	"github.com/ZazaJr24/CSF-Downloader/internal/logging"
	"github.com/ZazaJr24/CSF-Downloader/internal/manifest"
	"github.com/ZazaJr24/CSF-Downloader/internal/progress"
)

// State is the scheduler lifecycle:
// Idle → Counting → Downloading → {Completed | Cancelled | Failed}.
type State string

const (
	StateIdle        State = "idle"
	StateCounting    State = "counting"
	StateDownloading State = "downloading"
	StateCompleted   State = "completed"
	StateCancelled   State = "cancelled"
	StateFailed      State = "failed"
)

// Reconstructor rebuilds one file. *Downloader implements it.
type Reconstructor interface {
	Reconstruct(ctx context.Context, m *manifest.Manifest, f *manifest.FileEntry, verify bool) (int64, error)
}

var _ Reconstructor = (*Downloader)(nil)

// Summary describes a finished run.
type Summary struct {
	State        State
	TotalFiles   int
	TotalBytes   uint64
	Completed    int
	Failed       int
	Cancelled    int
	Skipped      int // files of manifests whose filenames stay encrypted
	Submitted    int
	BytesWritten int64
	Duration     time.Duration
	Failures     []*FileTask
}

// SchedulerOptions configure a Scheduler.
type SchedulerOptions struct {
	Concurrency   int                // defaults to constants.DefaultConcurrency
	SettleTimeout time.Duration      // defaults to constants.CancelSettleTimeout
	Controller    *cancel.Controller // optional
	Progress      progress.Tracker   // optional
	Bus           *events.EventBus   // optional
	Logger        *logging.Logger
}

// Scheduler reconstructs every file of a set of manifests with a bounded
// pool of workers. It holds no state between runs besides its State.
type Scheduler struct {
	rec         Reconstructor
	concurrency int
	settle      time.Duration
	controller  *cancel.Controller
	progress    progress.Tracker
	bus         *events.EventBus
	logger      *logging.Logger

	mu    sync.RWMutex
	state State
}

// NewScheduler creates a scheduler driving rec.
func NewScheduler(rec Reconstructor, opts SchedulerOptions) *Scheduler {
	s := &Scheduler{
		rec:         rec,
		concurrency: opts.Concurrency,
		settle:      opts.SettleTimeout,
		controller:  opts.Controller,
		progress:    opts.Progress,
		bus:         opts.Bus,
		logger:      logging.OrNop(opts.Logger),
		state:       StateIdle,
	}
	if s.concurrency < constants.MinConcurrency {
		s.concurrency = constants.DefaultConcurrency
	}
	if s.concurrency > constants.MaxConcurrency {
		s.concurrency = constants.MaxConcurrency
	}
	if s.settle <= 0 {
		s.settle = constants.CancelSettleTimeout
	}
	if s.progress == nil {
		s.progress = progress.Disabled()
	}
	return s
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Scheduler) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.logger.Debug().Str("state", string(state)).Msg("Scheduler state")
}

// run holds the per-Run counters shared with workers.
type run struct {
	stopCh   chan struct{}
	stopOnce sync.Once

	completed atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Int64
	written   atomic.Int64

	mu       sync.Mutex
	failures []*FileTask
}

func (r *run) stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *run) stopped(ctx context.Context) bool {
	select {
	case <-r.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// Run reconstructs every non-directory file of manifests. Manifests whose
// filenames are still encrypted are skipped. File-scoped errors are
// counted in the Summary and never stop other files; the returned error is
// reserved for run-scoped failures such as ErrNothingToDownload.
func (s *Scheduler) Run(ctx context.Context, manifests []*manifest.Manifest, verify bool) (Summary, error) {
	start := time.Now()
	r := &run{stopCh: make(chan struct{})}
	if s.controller != nil {
		deregister := s.controller.Register(cancel.StopperFunc(func() {
			s.logger.Debug().Msg("Stop requested, finishing files in progress")
			r.stop()
		}))
		defer deregister()
	}

	s.setState(StateCounting)
	summary := Summary{}
	runnable := make([]*manifest.Manifest, 0, len(manifests))
	for _, m := range manifests {
		files, bytes := m.ContentStats()
		if m.FilenamesEncrypted {
			err := &depotkeys.MissingKeyError{DepotID: m.DepotID}
			s.logger.Warn().Err(err).
				Uint32("depot", m.DepotID).
				Uint64("manifest", m.GID).
				Int("files", files).
				Msg("Skipping manifest with encrypted filenames")
			summary.Skipped += files
			continue
		}
		summary.TotalFiles += files
		summary.TotalBytes += bytes
		runnable = append(runnable, m)
	}

	if summary.TotalFiles == 0 {
		s.setState(StateFailed)
		summary.State = StateFailed
		summary.Duration = time.Since(start)
		return summary, ErrNothingToDownload
	}

	s.setState(StateDownloading)
	s.logger.Info().
		Int("files", summary.TotalFiles).
		Uint64("bytes", summary.TotalBytes).
		Int("workers", s.concurrency).
		Msg("Downloading")
	s.progress.Start(int64(summary.TotalBytes), int64(summary.TotalFiles))

	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup
	interrupted := false

submit:
	for _, m := range runnable {
		for i := range m.Files {
			f := &m.Files[i]
			if f.IsDirectory() {
				continue
			}
			if r.stopped(ctx) {
				interrupted = true
				break submit
			}
			select {
			case sem <- struct{}{}:
			case <-r.stopCh:
				interrupted = true
				break submit
			case <-ctx.Done():
				interrupted = true
				break submit
			}
			// A stop may have raced the slot.
			if r.stopped(ctx) {
				<-sem
				interrupted = true
				break submit
			}

			task := NewFileTask(m, f)
			summary.Submitted++
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				s.execute(ctx, r, task, verify)
			}()
		}
		if r.stopped(ctx) {
			interrupted = true
			break
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	if interrupted {
		select {
		case <-done:
		case <-time.After(s.settle):
			s.logger.Warn().Dur("timeout", s.settle).Msg("Files still in progress after stop, not waiting")
		}
	} else {
		<-done
	}

	summary.Completed = int(r.completed.Load())
	summary.Failed = int(r.failed.Load())
	summary.Cancelled = int(r.cancelled.Load())
	summary.BytesWritten = r.written.Load()
	r.mu.Lock()
	summary.Failures = append([]*FileTask(nil), r.failures...)
	r.mu.Unlock()

	switch {
	case interrupted || summary.Cancelled > 0 || r.stopped(ctx):
		summary.State = StateCancelled
	default:
		summary.State = StateCompleted
	}
	s.setState(summary.State)
	summary.Duration = time.Since(start)

	s.logger.Info().
		Str("state", string(summary.State)).
		Int("completed", summary.Completed).
		Int("failed", summary.Failed).
		Int64("bytes", summary.BytesWritten).
		Dur("elapsed", summary.Duration).
		Msg("Download finished")
	return summary, nil
}

func (s *Scheduler) execute(ctx context.Context, r *run, task *FileTask, verify bool) {
	task.SetState(TaskActive)
	written, err := s.rec.Reconstruct(ctx, task.Manifest, task.File, verify)
	r.written.Add(written)

	switch {
	case err == nil:
		task.Finish(written, nil, TaskCompleted)
		r.completed.Add(1)
		s.progress.FileDone()
		s.bus.PublishFile(task.File.Path(), written, nil)

	case errors.Is(err, cancel.ErrStopRequested) || errors.Is(err, context.Canceled):
		task.Finish(written, err, TaskCancelled)
		r.cancelled.Add(1)
		s.logger.Debug().Str("path", task.File.Path()).Msg("File interrupted")

	default:
		task.Finish(written, err, TaskFailed)
		r.failed.Add(1)
		r.mu.Lock()
		r.failures = append(r.failures, task)
		r.mu.Unlock()
		s.logger.Error().Err(err).
			Uint32("depot", task.Manifest.DepotID).
			Str("path", task.File.Path()).
			Msg("File failed")
		s.bus.PublishFile(task.File.Path(), written, err)
	}
}
