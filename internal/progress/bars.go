package progress

import (
	"io"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/ZazaJr24/CSF-Downloader/internal/constants"
)

// barsRenderer draws two mpb bars, "Data" and "Files".
type barsRenderer struct {
	out   io.Writer
	p     *mpb.Progress
	data  *mpb.Bar
	files *mpb.Bar

	lastRender time.Time
}

func newBarsRenderer(out io.Writer) *barsRenderer {
	return &barsRenderer{out: out}
}

func barStyle() mpb.BarFillerBuilder {
	return mpb.BarStyle().
		Lbound("[").
		Filler("█").
		Tip("█").
		Padding("░").
		Rbound("]")
}

func (b *barsRenderer) start(totalBytes, totalFiles int64) {
	b.p = mpb.New(
		mpb.WithOutput(b.out),
		mpb.WithWidth(constants.ProgressBarWidth),
		mpb.WithRefreshRate(constants.ProgressRefreshInterval),
		mpb.WithAutoRefresh(),
	)
	b.lastRender = time.Now()

	b.data = b.p.New(totalBytes, barStyle(),
		mpb.PrependDecorators(
			decor.Name("Data ", decor.WCSyncSpaceR),
			decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WCSyncSpace),
			decor.Name("  "),
			decor.EwmaSpeed(decor.SizeB1024(0), "% .1f", 60, decor.WCSyncSpace),
		),
		mpb.BarRemoveOnComplete(),
	)
	b.files = b.p.New(totalFiles, barStyle(),
		mpb.PrependDecorators(
			decor.Name("Files", decor.WCSyncSpaceR),
			decor.CountersNoUnit("%d / %d", decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WCSyncSpace),
		),
		mpb.BarRemoveOnComplete(),
	)
}

// render feeds the elapsed time on every tick, even without new bytes,
// so the EWMA speed decays while the transfer stalls.
func (b *barsRenderer) render(bytes, files int64) {
	now := time.Now()
	b.data.EwmaSetCurrent(bytes, now.Sub(b.lastRender))
	b.files.SetCurrent(files)
	b.lastRender = now
}

func (b *barsRenderer) finish(bytes, files int64) {
	b.render(bytes, files)
	// Negative total means "use current"; this completes bars whose
	// totals were not reached (skipped or failed files).
	b.data.SetTotal(-1, true)
	b.files.SetTotal(-1, true)
	b.p.Wait()
}

func (b *barsRenderer) abort() {
	b.data.Abort(true)
	b.files.Abort(true)
	b.p.Wait()
}

func (b *barsRenderer) writer() io.Writer {
	return b.p
}
