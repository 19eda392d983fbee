package tui

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digital-carver/keepass2/internal/console"
	"github.com/digital-carver/keepass2/internal/status"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestModelUpdates(t *testing.T) {
	var canceled atomic.Bool
	var m tea.Model = newModel("Copying files", 20, &canceled)

	m, _ = m.Update(percentMsg(40))
	m, _ = m.Update(textMsg("copying a.txt"))
	assert.InDelta(t, 0.4, m.(model).percent, 0.001)
	assert.Equal(t, "copying a.txt", m.(model).text)

	m, _ = m.Update(percentMsg(250))
	assert.InDelta(t, 1.0, m.(model).percent, 0.001)

	view := m.View()
	assert.Contains(t, view, "Copying files")
	assert.Contains(t, view, "copying a.txt")
	assert.Contains(t, view, "q: cancel")
}

func TestModelCancelKeys(t *testing.T) {
	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune("q")},
		{Type: tea.KeyCtrlC},
		{Type: tea.KeyEsc},
	} {
		var canceled atomic.Bool
		var m tea.Model = newModel("t", 20, &canceled)
		m, cmd := m.Update(key)
		assert.Nil(t, cmd, key.String())
		assert.True(t, canceled.Load(), key.String())
		assert.Contains(t, m.View(), "canceling...")
	}

	var canceled atomic.Bool
	m := newModel("t", 20, &canceled)
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	assert.False(t, canceled.Load())
}

func TestSurfaceLifecycle(t *testing.T) {
	out := &syncBuffer{}
	s := New(Options{
		SurfaceOptions: status.SurfaceOptions{Title: "Restoring"},
		Output:         out,
	})

	s.Show()
	s.StartLogging("", false)
	assert.True(t, s.SetProgress(10))
	assert.True(t, s.SetText("copying a.txt", status.Info))
	assert.True(t, s.ContinueWork())

	s.Cancel()
	assert.False(t, s.SetProgress(20))

	s.EndLogging()
	s.Close()
	s.Release()

	assert.Contains(t, out.String(), "Restoring")
	assert.Same(t, out, s.Output())
}

func TestSurfaceContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := Factory(ctx, nil, &syncBuffer{})(status.SurfaceOptions{Title: "ctx"})

	assert.True(t, s.ContinueWork())
	cancel()
	assert.False(t, s.ContinueWork())

	// never shown: teardown is a no-op
	s.EndLogging()
	s.Close()
	s.Release()
}

// writeWithin fails the test if the write does not return in time
func writeWithin(t *testing.T, w io.Writer, line string) {
	t.Helper()
	written := make(chan struct{})
	go func() {
		defer close(written)
		fmt.Fprintln(w, line)
	}()
	select {
	case <-written:
	case <-time.After(2 * time.Second):
		t.Fatalf("write of %q blocked", line)
	}
}

func exited(s *Surface) func() bool {
	done := s.done
	return func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}
}

func TestOutputWhileRunning(t *testing.T) {
	out := &syncBuffer{}
	s := New(Options{SurfaceOptions: status.SurfaceOptions{Title: "Restoring"}, Output: out})
	s.Show()

	writeWithin(t, s.Output(), "log line above the program")

	s.EndLogging()
	s.Close()
	s.Release()
	assert.Contains(t, out.String(), "log line above the program")
}

func TestOutputAfterProgramKilled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	out := &syncBuffer{}
	s := New(Options{SurfaceOptions: status.SurfaceOptions{Title: "Restoring"}, Output: out, Context: ctx})
	s.Show()
	w := s.Output()

	cancel()
	require.Eventually(t, exited(s), 2*time.Second, 5*time.Millisecond)

	writeWithin(t, w, "after the program")
	writeWithin(t, s.Output(), "and again")
	assert.Contains(t, out.String(), "after the program\n")
	assert.Contains(t, out.String(), "and again\n")

	s.Close()
	s.Release()
}

func TestConsoleLogsAfterInterruptDoNotBlock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	out := &syncBuffer{}
	term := console.New(nil, out)

	var surface *Surface
	d := status.NewOnDemand(status.Options{
		Owner: term,
		NewSurface: func(so status.SurfaceOptions) status.Surface {
			surface = New(Options{SurfaceOptions: so, Output: out, Context: ctx})
			return surface
		},
	})
	d.StartLogging("Restoring", false)
	assert.True(t, d.SetText("working", status.Info))
	require.NotNil(t, surface)
	assert.Same(t, surface, term.Redirected())

	cancel()
	require.Eventually(t, exited(surface), 2*time.Second, 5*time.Millisecond)

	writeWithin(t, term, "process key failed")
	assert.False(t, d.ContinueWork())

	d.EndLogging()
	assert.Nil(t, term.Redirected())
	assert.Contains(t, out.String(), "process key failed")
}
