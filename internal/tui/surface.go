// Package tui draws a status surface as a small bubbletea program.
package tui

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/digital-carver/keepass2/internal/status"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	textStyle  = lipgloss.NewStyle().Faint(true)
	hintStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

type (
	percentMsg uint32
	textMsg    string
)

type model struct {
	title    string
	percent  float64
	text     string
	bar      progress.Model
	spin     spinner.Model
	canceled *atomic.Bool
}

func newModel(title string, width int, canceled *atomic.Bool) model {
	return model{
		title:    title,
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(width)),
		spin:     spinner.New(spinner.WithSpinner(spinner.Dot)),
		canceled: canceled,
	}
}

func (m model) Init() tea.Cmd {
	return m.spin.Tick
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc", "q":
			// the operation notices on its next continue check and ends logging
			m.canceled.Store(true)
		}
		return m, nil
	case percentMsg:
		m.percent = float64(min(uint32(msg), 100)) / 100
		return m, nil
	case textMsg:
		m.text = string(msg)
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) View() string {
	var sb strings.Builder
	sb.WriteString(m.spin.View())
	sb.WriteString(titleStyle.Render(m.title))
	sb.WriteString("\n")
	sb.WriteString(m.bar.ViewAs(m.percent))
	sb.WriteString("\n")
	sb.WriteString(textStyle.Render(m.text))
	sb.WriteString("\n")
	if m.canceled.Load() {
		sb.WriteString(hintStyle.Render("canceling..."))
	} else {
		sb.WriteString(hintStyle.Render("q: cancel"))
	}
	sb.WriteString("\n")
	return sb.String()
}

// Options holds configuration for a TUI surface
type Options struct {
	status.SurfaceOptions
	// Input receives key presses; nil disables cancel keys
	Input  io.Reader
	Output io.Writer
	// Context cancellation is reported as a user cancel
	Context context.Context
	Width   int
}

// Surface is a status.Surface running its own bubbletea event loop. The
// program is the surface's message pump, so the façade's Pump only has to
// yield.
type Surface struct {
	opts     Options
	program  *tea.Program
	done     chan struct{}
	canceled atomic.Bool
}

var _ status.Surface = (*Surface)(nil)

func New(opts Options) *Surface {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Width <= 0 {
		opts.Width = 40
	}
	return &Surface{opts: opts}
}

// Factory returns a status.SurfaceFactory producing TUI surfaces on in/out
func Factory(ctx context.Context, in io.Reader, out io.Writer) status.SurfaceFactory {
	return func(so status.SurfaceOptions) status.Surface {
		return New(Options{SurfaceOptions: so, Input: in, Output: out, Context: ctx})
	}
}

func (s *Surface) Show() {
	if s.program != nil {
		return
	}
	opts := []tea.ProgramOption{
		tea.WithInput(s.opts.Input),
		tea.WithOutput(s.opts.Output),
		tea.WithoutSignalHandler(),
	}
	if s.opts.Context != nil {
		opts = append(opts, tea.WithContext(s.opts.Context))
	}
	s.program = tea.NewProgram(newModel(s.opts.Title, s.opts.Width, &s.canceled), opts...)
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		// a killed program only means the context was canceled
		_, _ = s.program.Run()
	}()
}

// StartLogging is a no-op: the title is fixed at construction
func (s *Surface) StartLogging(title string, writeToLog bool) {}

func (s *Surface) EndLogging() {
	if s.program != nil && !s.canceled.Load() {
		s.program.Send(percentMsg(100))
	}
}

func (s *Surface) SetProgress(percent uint32) bool {
	if s.program != nil {
		s.program.Send(percentMsg(percent))
	}
	return s.ContinueWork()
}

func (s *Surface) SetText(text string, severity status.Severity) bool {
	if s.program != nil && severity == status.Info {
		s.program.Send(textMsg(text))
	}
	return s.ContinueWork()
}

func (s *Surface) ContinueWork() bool {
	if s.canceled.Load() {
		return false
	}
	if ctx := s.opts.Context; ctx != nil && ctx.Err() != nil {
		s.canceled.Store(true)
		return false
	}
	return true
}

// Cancel makes every following continue signal false
func (s *Surface) Cancel() {
	s.canceled.Store(true)
}

// Close stops the program and waits for it to restore the terminal
func (s *Surface) Close() {
	if s.program == nil {
		return
	}
	s.program.Quit()
	<-s.done
}

func (s *Surface) Release() {
	s.program = nil
	s.done = nil
}

// Output returns a writer printing complete lines above the program. Once
// the program has exited, lines go straight to the output.
func (s *Surface) Output() io.Writer {
	if s.program == nil {
		return s.opts.Output
	}
	return lineWriter{p: s.program, done: s.done, out: s.opts.Output}
}

type lineWriter struct {
	p    *tea.Program
	done <-chan struct{}
	out  io.Writer
}

func (w lineWriter) Write(b []byte) (int, error) {
	select {
	case <-w.done:
		return w.out.Write(b)
	default:
	}
	for _, line := range bytes.Split(bytes.TrimRight(b, "\n"), []byte("\n")) {
		// Send drops the message if the program exits meanwhile, Println would block
		w.p.Send(tea.Println(string(line))())
	}
	return len(b), nil
}
