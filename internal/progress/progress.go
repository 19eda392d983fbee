package progress

import (
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/digital-carver/keepass2/internal/status"
)

// Bar is a status.Surface drawn with mpb: one bar scaled to 100 with the
// title in front and the latest status text behind it.
type Bar struct {
	opts Options

	p   *mpb.Progress
	bar *mpb.Bar

	mu   sync.Mutex
	text string

	canceled atomic.Bool
	closed   bool
}

var _ status.Surface = (*Bar)(nil)

// Options holds configuration for creating a progress bar
type Options struct {
	status.SurfaceOptions
	// Output defaults to stdout
	Output io.Writer
	// Context cancellation is reported as a user cancel
	Context context.Context
	Width   int
}

// New creates the bar. Nothing is rendered before Show.
func New(opts Options) *Bar {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Width <= 0 {
		opts.Width = 40
	}
	return &Bar{opts: opts}
}

// Factory returns a status.SurfaceFactory producing bars that share output and ctx
func Factory(ctx context.Context, output io.Writer) status.SurfaceFactory {
	return func(so status.SurfaceOptions) status.Surface {
		return New(Options{SurfaceOptions: so, Output: output, Context: ctx})
	}
}

func (b *Bar) Show() {
	if b.p != nil {
		return
	}
	b.p = mpb.New(
		mpb.WithWidth(b.opts.Width),
		mpb.WithOutput(b.opts.Output),
		mpb.WithAutoRefresh(),
	)
	b.bar = b.p.AddBar(100,
		mpb.PrependDecorators(
			decor.Name(b.opts.Title+" ", decor.WCSyncSpaceR),
			decor.Percentage(decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.Elapsed(decor.ET_STYLE_GO, decor.WCSyncSpace),
			decor.Any(func(decor.Statistics) string { return " " + b.currentText() }),
		),
	)
}

func (b *Bar) currentText() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text
}

// StartLogging is a no-op: the title is fixed at construction
func (b *Bar) StartLogging(title string, writeToLog bool) {}

// EndLogging fills the bar if the operation did not get there on its own
func (b *Bar) EndLogging() {
	if b.bar == nil || b.bar.Completed() {
		return
	}
	if b.canceled.Load() {
		b.bar.Abort(false)
		return
	}
	b.bar.SetCurrent(100)
}

func (b *Bar) SetProgress(percent uint32) bool {
	if percent > 100 {
		percent = 100
	}
	// a completed bar stops rendering, so 100 is held back until EndLogging
	if b.bar != nil && percent < 100 {
		b.bar.SetCurrent(int64(percent))
	}
	return b.ContinueWork()
}

func (b *Bar) SetText(text string, severity status.Severity) bool {
	if severity == status.Info {
		b.mu.Lock()
		b.text = text
		b.mu.Unlock()
	}
	return b.ContinueWork()
}

func (b *Bar) ContinueWork() bool {
	if b.canceled.Load() {
		return false
	}
	if ctx := b.opts.Context; ctx != nil && ctx.Err() != nil {
		b.canceled.Store(true)
		return false
	}
	return true
}

// Cancel makes every following continue signal false
func (b *Bar) Cancel() {
	b.canceled.Store(true)
}

// Close waits for the last frame to be rendered
func (b *Bar) Close() {
	if b.p == nil || b.closed {
		return
	}
	b.closed = true
	if !b.bar.Completed() {
		b.bar.Abort(false)
	}
	b.p.Wait()
}

func (b *Bar) Release() {
	b.p = nil
	b.bar = nil
}

// Output returns the writer that logs should use to stay above the progress bar
func (b *Bar) Output() io.Writer {
	if b.p == nil || b.closed {
		return b.opts.Output
	}
	return b.p
}
