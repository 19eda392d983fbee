package console

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digital-carver/keepass2/internal/status"
	"github.com/digital-carver/keepass2/internal/status/statustest"
)

type writerSurface struct {
	*statustest.Surface
	out bytes.Buffer
}

func (w *writerSurface) Output() io.Writer { return &w.out }

func TestConsoleRedirectsWrites(t *testing.T) {
	base := &bytes.Buffer{}
	c := New(nil, base)
	assert.False(t, c.IsTerminal())

	io.WriteString(c, "before\n")

	s := &writerSurface{Surface: statustest.NewSurface(&statustest.Journal{}, status.SurfaceOptions{})}
	c.PushActivationRedirect(s)
	assert.Same(t, s, c.Redirected())
	io.WriteString(c, "during\n")

	// surfaces without an Output are skipped
	plain := statustest.NewSurface(&statustest.Journal{}, status.SurfaceOptions{})
	c.PushActivationRedirect(plain)
	io.WriteString(c, "nested\n")
	c.PopActivationRedirect()

	c.PopActivationRedirect()
	assert.Nil(t, c.Redirected())
	io.WriteString(c, "after\n")

	// popping an empty stack is harmless
	c.PopActivationRedirect()

	assert.Equal(t, "before\nafter\n", base.String())
	assert.Equal(t, "during\nnested\n", s.out.String())
}

func TestConsoleConfirm(t *testing.T) {
	out := &bytes.Buffer{}
	c := New(strings.NewReader("my-bucket\nrest\n"), out)

	c.SetInputBlocked(true)
	assert.True(t, c.InputBlocked())
	_, err := c.Confirm("name: ")
	assert.ErrorIs(t, err, ErrInputBlocked)
	assert.Empty(t, out.String())

	c.SetInputBlocked(false)
	line, err := c.Confirm("name: ")
	require.NoError(t, err)
	assert.Equal(t, "my-bucket", line)
	assert.Equal(t, "name: ", out.String())
}

func TestConsoleConfirmWithoutNewline(t *testing.T) {
	c := New(strings.NewReader("yes"), io.Discard)
	line, err := c.Confirm("? ")
	require.NoError(t, err)
	assert.Equal(t, "yes", line)

	_, err = c.Confirm("? ")
	assert.Error(t, err)

	_, err = New(nil, io.Discard).Confirm("? ")
	assert.ErrorIs(t, err, io.EOF)
}

func TestConsoleAsOwner(t *testing.T) {
	base := &bytes.Buffer{}
	c := New(nil, base)
	j := &statustest.Journal{}
	f := statustest.NewFactory(j)
	d := status.NewOnDemand(status.Options{Owner: c, NewSurface: f.New})

	d.StartLogging("owned", false)
	d.SetText("working", status.Info)
	assert.True(t, c.InputBlocked())
	assert.NotNil(t, c.Redirected())

	d.EndLogging()
	assert.False(t, c.InputBlocked())
	assert.Nil(t, c.Redirected())
	assert.Equal(t, 1, c.Activations())
	// not a terminal: nothing to clear
	assert.Empty(t, base.String())
}
