// Package console is the terminal that owns the CLI's output and input while
// no progress surface is in front of it.
package console

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/digital-carver/keepass2/internal/status"
)

// ErrInputBlocked is returned by Confirm while a surface holds the terminal
var ErrInputBlocked = errors.New("console input is blocked by a running operation")

// outputter is implemented by surfaces that can print above themselves
type outputter interface {
	Output() io.Writer
}

// Console is a status.Owner for terminal programs. Writes go to the surface
// on top of the activation stack, or to the base writer when it is empty.
type Console struct {
	mu          sync.Mutex
	in          *bufio.Reader
	out         io.Writer
	tty         bool
	redirects   []status.Surface
	blocked     bool
	activations int
}

var (
	_ status.Owner = (*Console)(nil)
	_ io.Writer    = (*Console)(nil)
)

// New creates a console reading from in and writing to out
func New(in io.Reader, out io.Writer) *Console {
	c := &Console{out: out}
	if in != nil {
		c.in = bufio.NewReader(in)
	}
	if f, ok := out.(*os.File); ok {
		c.tty = term.IsTerminal(int(f.Fd()))
	}
	return c
}

// IsTerminal reports whether the base writer is a terminal
func (c *Console) IsTerminal() bool {
	return c.tty
}

func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	w := c.writerLocked()
	c.mu.Unlock()
	return w.Write(p)
}

func (c *Console) writerLocked() io.Writer {
	for i := len(c.redirects) - 1; i >= 0; i-- {
		if o, ok := c.redirects[i].(outputter); ok {
			return o.Output()
		}
	}
	return c.out
}

func (c *Console) PushActivationRedirect(s status.Surface) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.redirects = append(c.redirects, s)
}

func (c *Console) PopActivationRedirect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := len(c.redirects); n > 0 {
		c.redirects[n-1] = nil
		c.redirects = c.redirects[:n-1]
	}
}

// Redirected returns the surface currently on top, or nil
func (c *Console) Redirected() status.Surface {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := len(c.redirects); n > 0 {
		return c.redirects[n-1]
	}
	return nil
}

func (c *Console) SetInputBlocked(blocked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocked = blocked
}

func (c *Console) InputBlocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocked
}

// Activate takes the terminal back after a surface closed. On a TTY the
// cursor line is cleared so the prompt does not start in the middle of a
// half-erased bar.
func (c *Console) Activate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activations++
	if c.tty && len(c.redirects) == 0 {
		fmt.Fprint(c.out, "\r\033[K")
	}
}

// Activations counts Activate calls
func (c *Console) Activations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activations
}

// Confirm prints prompt and reads one line of input
func (c *Console) Confirm(prompt string) (string, error) {
	if c.InputBlocked() {
		return "", ErrInputBlocked
	}
	if c.in == nil {
		return "", io.EOF
	}
	if _, err := io.WriteString(c, prompt); err != nil {
		return "", err
	}
	line, err := c.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read confirmation: %w", err)
	}
	return strings.TrimSpace(line), nil
}
