// Package copier copies a local directory tree while reporting to a
// status.Logger.
package copier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/digital-carver/keepass2/internal/status"
)

// ErrCanceled is returned when the status logger asked to stop
var ErrCanceled = errors.New("copy canceled")

const chunkSize = 256 << 10

// Options holds configuration for the copy operation
type Options struct {
	Src    string
	Dst    string
	Logger *zap.SugaredLogger
	Status status.Logger
}

// Summary is what Copy managed to do
type Summary struct {
	Dirs  int
	Files int
	Bytes int64
}

type entry struct {
	rel  string
	mode fs.FileMode
	size int64
}

// Copy copies the tree under Src into Dst, creating Dst when needed.
// Existing files in Dst are overwritten.
func Copy(ctx context.Context, opts Options) (Summary, error) {
	var summary Summary
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	st := opts.Status
	if st == nil {
		st = status.Discard
	}

	entries, total, err := scan(opts.Src)
	if err != nil {
		return summary, err
	}
	opts.Logger.Infow("Copying tree",
		"src", opts.Src,
		"dst", opts.Dst,
		"entries", len(entries),
		"size", humanize.IBytes(uint64(total)),
	)

	st.StartLogging("Copying files", true)
	defer st.EndLogging()

	c := copier{ctx: ctx, st: st, total: total, buf: make([]byte, chunkSize)}
	for _, e := range entries {
		if !e.mode.IsDir() {
			c.count++
		}
	}
	for _, e := range entries {
		dst := filepath.Join(opts.Dst, e.rel)
		if e.mode.IsDir() {
			if err := os.MkdirAll(dst, e.mode.Perm()|0o700); err != nil {
				return summary, fmt.Errorf("create directory: %w", err)
			}
			summary.Dirs++
			continue
		}

		if !st.SetText("Copying "+e.rel, status.Info) {
			return summary, ErrCanceled
		}
		n, err := c.file(filepath.Join(opts.Src, e.rel), dst, e.mode.Perm())
		summary.Bytes += n
		if err != nil {
			return summary, err
		}
		summary.Files++
		c.files++
		opts.Logger.Debugw("Copied file", "path", e.rel, "size", humanize.IBytes(uint64(n)))
		if !c.report() {
			return summary, ErrCanceled
		}
	}

	opts.Logger.Infow("Copy complete",
		"files", summary.Files,
		"dirs", summary.Dirs,
		"size", humanize.IBytes(uint64(summary.Bytes)),
	)
	return summary, nil
}

// scan lists the tree with directories before their contents
func scan(root string) ([]entry, int64, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, 0, fmt.Errorf("stat source: %w", err)
	}
	if !info.IsDir() {
		return nil, 0, fmt.Errorf("source %s is not a directory", root)
	}

	var entries []entry
	var total int64
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			entries = append(entries, entry{rel: rel, mode: info.Mode()})
		case info.Mode().IsRegular():
			entries = append(entries, entry{rel: rel, mode: info.Mode(), size: info.Size()})
			total += info.Size()
		}
		// symlinks and devices are skipped
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("scan source: %w", err)
	}
	return entries, total, nil
}

type copier struct {
	ctx   context.Context
	st    status.Logger
	total int64
	done  int64
	count int
	files int
	buf   []byte
}

// report sends the current progress. Trees with no data count files instead.
func (c *copier) report() bool {
	if c.ctx.Err() != nil {
		return false
	}
	if c.total > 0 {
		return c.st.SetProgress(status.Percent(c.done, c.total))
	}
	return c.st.SetProgress(status.Percent(int64(c.files), int64(c.count)))
}

func (c *copier) file(src, dst string, perm fs.FileMode) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("open source file: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return 0, fmt.Errorf("create destination file: %w", err)
	}

	var written int64
	for {
		n, rerr := in.Read(c.buf)
		if n > 0 {
			if _, err := out.Write(c.buf[:n]); err != nil {
				out.Close()
				return written, fmt.Errorf("write %s: %w", dst, err)
			}
			written += int64(n)
			c.done += int64(n)
			if !c.report() {
				out.Close()
				return written, ErrCanceled
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			out.Close()
			return written, fmt.Errorf("read %s: %w", src, rerr)
		}
	}
	if err := out.Close(); err != nil {
		return written, fmt.Errorf("close %s: %w", dst, err)
	}
	return written, nil
}
