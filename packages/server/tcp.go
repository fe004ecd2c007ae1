package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
)

// TCPManager accepts newline-framed line protocol clients
type TCPManager struct {
	listener net.Listener
}

// ListenTCP binds addr, e.g. "127.0.0.1:6991" or ":0"
func ListenTCP(ctx context.Context, addr string) (*TCPManager, error) {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &TCPManager{listener: listener}, nil
}

func (m *TCPManager) Addr() net.Addr {
	return m.listener.Addr()
}

func (m *TCPManager) Transport() string {
	return "tcp"
}

// Accept waits for the next client. cancelling ctx closes the listener.
func (m *TCPManager) Accept(ctx context.Context) (Connection, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = m.listener.Close()
	})
	defer stop()

	conn, err := m.listener.Accept()
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
			return nil, ErrNoMoreConnections
		}
		return nil, fmt.Errorf("accept: %w", err)
	}
	return newTCPConn(conn), nil
}

func (m *TCPManager) Close() error {
	return m.listener.Close()
}

type tcpConn struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
}

func newTCPConn(conn net.Conn) *tcpConn {
	return &tcpConn{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
	}
}

// ReadMessage reads one line. a final line without a newline is still
// delivered before io.EOF.
func (c *tcpConn) ReadMessage() (string, error) {
	line, err := readLine(c.reader)
	if errors.Is(err, net.ErrClosed) {
		return "", io.EOF
	}
	return line, err
}

func (c *tcpConn) WriteMessage(reply Reply) error {
	if _, err := c.writer.WriteString(reply.String() + "\n"); err != nil {
		return err
	}
	return c.writer.Flush()
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}
