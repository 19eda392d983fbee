// Package statustest provides recording doubles for the status contracts.
package statustest

import (
	"fmt"
	"sync"

	"github.com/digital-carver/keepass2/internal/status"
)

// Journal is an ordered, goroutine-safe list of calls shared by the fakes so
// that tests can assert on the interleaving between surface and owner.
type Journal struct {
	mu    sync.Mutex
	calls []string
}

func (j *Journal) Record(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = append(j.calls, fmt.Sprintf(format, args...))
}

// Calls returns a copy of everything recorded so far
func (j *Journal) Calls() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.calls...)
}

// Count returns how many recorded calls equal call
func (j *Journal) Count(call string) int {
	n := 0
	for _, c := range j.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

// Surface records every call prefixed with "surface.". Continue is what its
// bool-returning methods answer.
type Surface struct {
	Journal *Journal
	Options status.SurfaceOptions

	mu       sync.Mutex
	proceed  bool
	progress uint32
	text     string
}

func NewSurface(j *Journal, opts status.SurfaceOptions) *Surface {
	j.Record("surface.new(%s)", opts.Title)
	return &Surface{Journal: j, Options: opts, proceed: true}
}

// SetContinue changes the answer of SetProgress, SetText and ContinueWork
func (s *Surface) SetContinue(proceed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proceed = proceed
}

func (s *Surface) Progress() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

func (s *Surface) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

func (s *Surface) continues() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proceed
}

func (s *Surface) Show() { s.Journal.Record("surface.show") }

func (s *Surface) StartLogging(title string, writeToLog bool) {
	s.Journal.Record("surface.startLogging")
}

func (s *Surface) EndLogging() { s.Journal.Record("surface.endLogging") }
func (s *Surface) Close()      { s.Journal.Record("surface.close") }
func (s *Surface) Release()    { s.Journal.Record("surface.release") }

func (s *Surface) SetProgress(percent uint32) bool {
	s.mu.Lock()
	s.progress = percent
	s.mu.Unlock()
	s.Journal.Record("surface.setProgress(%d)", percent)
	return s.continues()
}

func (s *Surface) SetText(text string, severity status.Severity) bool {
	s.mu.Lock()
	s.text = text
	s.mu.Unlock()
	s.Journal.Record("surface.setText(%s)", text)
	return s.continues()
}

// ContinueWork is polled on every worker iteration, so it is not journaled
func (s *Surface) ContinueWork() bool {
	return s.continues()
}

// Factory hands out fake surfaces and keeps every one it built
type Factory struct {
	Journal *Journal
	// Continue is the initial answer of every new surface
	Continue bool

	mu       sync.Mutex
	surfaces []*Surface
}

func NewFactory(j *Journal) *Factory {
	return &Factory{Journal: j, Continue: true}
}

func (f *Factory) New(opts status.SurfaceOptions) status.Surface {
	s := NewSurface(f.Journal, opts)
	s.SetContinue(f.Continue)
	f.mu.Lock()
	f.surfaces = append(f.surfaces, s)
	f.mu.Unlock()
	return s
}

func (f *Factory) Surfaces() []*Surface {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Surface(nil), f.surfaces...)
}

// Owner records every call prefixed with "owner."
type Owner struct {
	Journal *Journal
}

func (o *Owner) PushActivationRedirect(s status.Surface) {
	o.Journal.Record("owner.pushActivationRedirect")
}

func (o *Owner) PopActivationRedirect() { o.Journal.Record("owner.popActivationRedirect") }

func (o *Owner) SetInputBlocked(blocked bool) {
	o.Journal.Record("owner.setInputBlocked(%t)", blocked)
}

func (o *Owner) Activate() { o.Journal.Record("owner.activate") }

// Entry is one call received by a Recorder
type Entry struct {
	Text     string
	Severity status.Severity
}

// Recorder is a status.Logger that remembers what an operation reported
type Recorder struct {
	// StopAfter makes the recorder answer false once it has seen that many
	// SetProgress calls. Zero means never.
	StopAfter int

	mu        sync.Mutex
	Title     string
	Started   int
	Ended     int
	Progress  []uint32
	Texts     []Entry
	Continues int
}

var _ status.Logger = (*Recorder)(nil)

func (r *Recorder) StartLogging(title string, writeToLog bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Title = title
	r.Started++
}

func (r *Recorder) EndLogging() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Ended++
}

func (r *Recorder) SetProgress(percent uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Progress = append(r.Progress, percent)
	return r.proceedLocked()
}

func (r *Recorder) SetText(text string, severity status.Severity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Texts = append(r.Texts, Entry{Text: text, Severity: severity})
	return r.proceedLocked()
}

func (r *Recorder) ContinueWork() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Continues++
	return r.proceedLocked()
}

func (r *Recorder) proceedLocked() bool {
	return r.StopAfter == 0 || len(r.Progress) < r.StopAfter
}

// TextsOf returns the texts recorded with the given severity
func (r *Recorder) TextsOf(severity status.Severity) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.Texts {
		if e.Severity == severity {
			out = append(out, e.Text)
		}
	}
	return out
}

// LastProgress returns the latest SetProgress value, or 0
func (r *Recorder) LastProgress() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Progress) == 0 {
		return 0
	}
	return r.Progress[len(r.Progress)-1]
}
