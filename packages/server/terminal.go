package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
)

const terminalPrompt = "> "

// TerminalManager serves exactly one connection on a reader/writer pair,
// normally stdin and stdout
type TerminalManager struct {
	in     io.Reader
	out    io.Writer
	prompt bool

	mu       sync.Mutex
	accepted bool
}

// NewTerminalManager serves in and out. prompt prints "> " before every
// read.
func NewTerminalManager(in io.Reader, out io.Writer, prompt bool) *TerminalManager {
	return &TerminalManager{in: in, out: out, prompt: prompt}
}

// NewStdioManager serves in and out, prompting only when in is a terminal
func NewStdioManager(in io.Reader, out io.Writer) *TerminalManager {
	return NewTerminalManager(in, out, isTerminal(in))
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func (m *TerminalManager) Transport() string {
	return "terminal"
}

// Accept returns the terminal connection once, then ErrNoMoreConnections
func (m *TerminalManager) Accept(ctx context.Context) (Connection, error) {
	if ctx.Err() != nil {
		return nil, ErrNoMoreConnections
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.accepted {
		return nil, ErrNoMoreConnections
	}
	m.accepted = true
	return &terminalConn{
		in:     m.in,
		reader: bufio.NewReader(m.in),
		out:    bufio.NewWriter(m.out),
		prompt: m.prompt,
	}, nil
}

type terminalConn struct {
	in     io.Reader
	reader *bufio.Reader
	out    *bufio.Writer
	prompt bool
}

func (c *terminalConn) ReadMessage() (string, error) {
	if c.prompt {
		if _, err := c.out.WriteString(terminalPrompt); err != nil {
			return "", err
		}
		if err := c.out.Flush(); err != nil {
			return "", err
		}
	}
	line, err := readLine(c.reader)
	if errors.Is(err, os.ErrClosed) {
		return "", io.EOF
	}
	return line, err
}

func (c *terminalConn) WriteMessage(reply Reply) error {
	if _, err := c.out.WriteString(reply.String() + "\n"); err != nil {
		return err
	}
	return c.out.Flush()
}

// Close closes the input when it can be closed, which unblocks a pending
// read on most platforms
func (c *terminalConn) Close() error {
	if closer, ok := c.in.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
