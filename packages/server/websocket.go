package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// WebSocketManager turns upgraded HTTP requests into connections. each text
// frame is one command; each reply is one JSON frame.
type WebSocketManager struct {
	upgrader websocket.Upgrader
	conns    chan *wsConn
	done     chan struct{}
	once     sync.Once
	logger   *slog.Logger
}

func NewWebSocketManager(logger *slog.Logger) *WebSocketManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketManager{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		conns:  make(chan *wsConn),
		done:   make(chan struct{}),
		logger: logger,
	}
}

func (m *WebSocketManager) Transport() string {
	return "websocket"
}

// Handler upgrades the request and hands the connection to Accept. it
// returns once the connection has been accepted; the hijacked socket
// outlives the request.
func (m *WebSocketManager) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := m.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			m.logger.Warn("websocket upgrade failed", slog.Any("error", err))
			return
		}
		ws.SetReadLimit(MaxLineBytes)
		conn := &wsConn{ws: ws}
		select {
		case m.conns <- conn:
		case <-m.done:
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(time.Second))
			_ = ws.Close()
		case <-c.Request.Context().Done():
			_ = ws.Close()
		}
	}
}

func (m *WebSocketManager) Accept(ctx context.Context) (Connection, error) {
	select {
	case conn := <-m.conns:
		return conn, nil
	case <-m.done:
		return nil, ErrNoMoreConnections
	case <-ctx.Done():
		return nil, ErrNoMoreConnections
	}
}

// Close rejects further upgrades
func (m *WebSocketManager) Close() error {
	m.once.Do(func() {
		close(m.done)
	})
	return nil
}

type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) ReadMessage() (string, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) || errors.Is(err, io.EOF) ||
				errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, websocket.ErrCloseSent) {
				return "", io.EOF
			}
			return "", err
		}
		if kind == websocket.TextMessage {
			return string(data), nil
		}
	}
}

func (c *wsConn) WriteMessage(reply Reply) error {
	return c.ws.WriteJSON(reply.JSON())
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}
