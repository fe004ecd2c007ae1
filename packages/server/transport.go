package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
)

// MaxLineBytes bounds one command on the line transports and one frame on
// the WebSocket transport, line terminator excluded
const MaxLineBytes = 64 << 10

var (
	// ErrNoMoreConnections is returned by Accept once a manager will never
	// produce another connection
	ErrNoMoreConnections = errors.New("no more connections")

	// ErrLineTooLong is returned by ReadMessage for a line over
	// MaxLineBytes. the line has been consumed, so the connection stays
	// usable.
	ErrLineTooLong = errors.New("line too long")
)

// Manager hands out client connections
type Manager interface {
	// Accept blocks until a client connects. it returns
	// ErrNoMoreConnections when the manager is exhausted or ctx is done.
	Accept(ctx context.Context) (Connection, error)

	// Transport names the manager in logs and metrics
	Transport() string
}

// Connection is one client session. reads and writes alternate; the
// handler never has two messages in flight on one connection.
type Connection interface {
	// ReadMessage returns the next command text, or io.EOF once the client
	// has gone away
	ReadMessage() (string, error)

	WriteMessage(reply Reply) error

	Close() error
}

// readLine reads one line of at most MaxLineBytes and strips its
// terminator. the rest of an over-long line is discarded up to its newline.
// a final line without a newline is returned before io.EOF.
func readLine(r *bufio.Reader) (string, error) {
	var line []byte
	tooLong := false
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong {
			line = append(line, chunk...)
			if len(bytes.TrimRight(line, "\r\n")) > MaxLineBytes {
				tooLong, line = true, nil
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		if tooLong {
			return "", fmt.Errorf("%w: limit is %d bytes", ErrLineTooLong, MaxLineBytes)
		}
		if err != nil && len(line) == 0 {
			return "", io.EOF
		}
		return string(bytes.TrimRight(line, "\r\n")), nil
	}
}
