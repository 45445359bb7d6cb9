// Package progress draws transfer progress bars. A nil *Tracker is valid and
// does nothing, so callers never check whether progress is enabled.
package progress

import (
	"fmt"
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
)

// Tracker is safe for use by concurrent transfer workers.
type Tracker struct {
	bar   *progressbar.ProgressBar
	files int

	mu   sync.Mutex
	done int
}

// New returns a byte tracker for a transfer of total bytes over files
// objects, or nil when disabled. Bars are also suppressed at debug level
// where they would interleave with log lines.
func New(enabled bool, op string, files int, total int64) *Tracker {
	if !enabled || logrus.GetLevel() >= logrus.DebugLevel {
		return nil
	}
	bar := progressbar.DefaultBytes(total)
	bar.Describe(fmt.Sprintf("%s [0/%d]", op, files))
	return &Tracker{bar: bar, files: files}
}

// Writer counts bytes written through w.
func (t *Tracker) Writer(w io.Writer) io.Writer {
	if t == nil {
		return w
	}
	return io.MultiWriter(w, t.bar)
}

// Reader counts bytes read from r.
func (t *Tracker) Reader(r io.Reader) io.Reader {
	if t == nil {
		return r
	}
	return io.TeeReader(r, t.bar)
}

func (t *Tracker) Add(n int64) {
	if t == nil {
		return
	}
	_ = t.bar.Add64(n)
}

// FileDone marks one object finished and updates the description.
func (t *Tracker) FileDone(name string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done++
	t.bar.Describe(fmt.Sprintf("[%d/%d] %s", t.done, t.files, name))
}

func (t *Tracker) Finish() {
	if t == nil {
		return
	}
	_ = t.bar.Finish()
}
