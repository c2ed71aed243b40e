package progress

import (
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"

	"github.com/ZazaJr24/CSF-Downloader/internal/constants"
)

// compactRenderer draws a single progressbar line; files are shown in
// the description.
type compactRenderer struct {
	out        io.Writer
	bar        *progressbar.ProgressBar
	totalFiles int64
}

func newCompactRenderer(out io.Writer) *compactRenderer {
	return &compactRenderer{out: out}
}

func (c *compactRenderer) description(files int64) string {
	return fmt.Sprintf("Files %d/%d", files, c.totalFiles)
}

func (c *compactRenderer) start(totalBytes, totalFiles int64) {
	c.totalFiles = totalFiles
	c.bar = progressbar.NewOptions64(totalBytes,
		progressbar.OptionSetDescription(c.description(0)),
		progressbar.OptionSetWriter(c.out),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(constants.ProgressRefreshInterval),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(c.out, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func (c *compactRenderer) render(bytes, files int64) {
	c.bar.Describe(c.description(files))
	_ = c.bar.Set64(bytes)
}

func (c *compactRenderer) finish(bytes, files int64) {
	c.render(bytes, files)
	_ = c.bar.Finish()
}

func (c *compactRenderer) abort() {
	_ = c.bar.Clear()
}

func (c *compactRenderer) writer() io.Writer {
	return c.out
}
