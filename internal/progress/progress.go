// Package progress renders download progress: a "Data" bar counting bytes
// and a "Files" bar counting reconstructed files. Counters are updated
// lock-free by workers; one goroutine owned by the Reporter redraws the
// display every ProgressRefreshInterval.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/term"

	"github.com/ZazaJr24/CSF-Downloader/internal/constants"
)

// Style selects how progress is drawn.
type Style string

const (
	StyleBars    Style = "bars"
	StyleCompact Style = "compact"
	StyleNone    Style = "none"
)

// ParseStyle maps a flag value to a Style. Empty means StyleBars.
func ParseStyle(s string) (Style, error) {
	switch Style(s) {
	case "", StyleBars:
		return StyleBars, nil
	case StyleCompact, StyleNone:
		return Style(s), nil
	}
	return "", fmt.Errorf("unknown progress style %q (want bars, compact or none)", s)
}

// Sink receives progress from file reconstruction.
type Sink interface {
	AddBytes(n int64)
	FileDone()
}

// Tracker is a Sink that also learns the run totals.
type Tracker interface {
	Sink
	Start(totalBytes, totalFiles int64)
}

var _ Tracker = (*Reporter)(nil)

// renderer draws the counters. All calls come from a single goroutine
// except start, which happens before the refresh loop runs.
type renderer interface {
	start(totalBytes, totalFiles int64)
	render(bytes, files int64)
	finish(bytes, files int64)
	abort()
	writer() io.Writer
}

// Options configure a Reporter.
type Options struct {
	Style   Style
	Enabled bool
	Output  *os.File // defaults to os.Stderr
}

// Reporter tracks bytes and files. A disabled Reporter keeps counting
// and draws nothing.
type Reporter struct {
	bytes      atomic.Int64
	files      atomic.Int64
	totalBytes atomic.Int64
	totalFiles atomic.Int64

	r        renderer
	interval time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	quit      chan struct{}
	loopDone  chan struct{}
	started   atomic.Bool
}

// New creates a Reporter. Rendering is off when opts.Enabled is false,
// the style is StyleNone, or the output is not a terminal.
func New(opts Options) *Reporter {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if !opts.Enabled || opts.Style == StyleNone || !term.IsTerminal(int(out.Fd())) {
		return newReporter(nil)
	}

	enableANSIOnWindows(out)
	switch opts.Style {
	case StyleCompact:
		return newReporter(newCompactRenderer(out))
	default:
		return newReporter(newBarsRenderer(out))
	}
}

// Disabled returns a Reporter that only counts.
func Disabled() *Reporter {
	return newReporter(nil)
}

func newReporter(r renderer) *Reporter {
	return &Reporter{
		r:        r,
		interval: constants.ProgressRefreshInterval,
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
}

// Enabled reports whether anything is drawn.
func (p *Reporter) Enabled() bool {
	return p.r != nil
}

// Start sets the totals and begins refreshing. Only the first call has
// an effect.
func (p *Reporter) Start(totalBytes, totalFiles int64) {
	p.startOnce.Do(func() {
		p.totalBytes.Store(totalBytes)
		p.totalFiles.Store(totalFiles)
		p.started.Store(true)
		if p.r == nil {
			close(p.loopDone)
			return
		}
		p.r.start(totalBytes, totalFiles)
		go p.loop()
	})
}

func (p *Reporter) loop() {
	defer close(p.loopDone)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.r.render(p.bytes.Load(), p.files.Load())
		case <-p.quit:
			return
		}
	}
}

// AddBytes records n reconstructed bytes.
func (p *Reporter) AddBytes(n int64) {
	p.bytes.Add(n)
}

// FileDone records one finished file.
func (p *Reporter) FileDone() {
	p.files.Add(1)
}

// Bytes returns the bytes recorded so far.
func (p *Reporter) Bytes() int64 {
	return p.bytes.Load()
}

// Files returns the files recorded so far.
func (p *Reporter) Files() int64 {
	return p.files.Load()
}

// Totals returns the values passed to Start.
func (p *Reporter) Totals() (bytes, files int64) {
	return p.totalBytes.Load(), p.totalFiles.Load()
}

// Finish draws the final state and releases the terminal.
func (p *Reporter) Finish() {
	p.stop(func() {
		p.r.finish(p.bytes.Load(), p.files.Load())
	})
}

// Cancel removes the display. It is safe to call more than once and
// after Finish.
func (p *Reporter) Cancel() {
	p.stop(func() {
		p.r.abort()
	})
}

// Stop removes the display on a graceful stop request, so the bars do not
// keep redrawing while in-flight files settle.
func (p *Reporter) Stop() {
	p.Cancel()
}

func (p *Reporter) stop(final func()) {
	p.stopOnce.Do(func() {
		close(p.quit)
		if !p.started.Load() || p.r == nil {
			return
		}
		<-p.loopDone
		final()
	})
}

// Writer returns a writer that prints above the display, or nil when
// nothing is drawn.
func (p *Reporter) Writer() io.Writer {
	if p.r == nil {
		return nil
	}
	return p.r.writer()
}
