package server

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Server runs one goroutine per accepted connection, bounded by a shared
// connection limit. Serve may be called concurrently for several managers.
type Server struct {
	handler *Handler
	slots   *semaphore.Weighted
	logger  *slog.Logger
	metrics *Metrics
}

func NewServer(handler *Handler, maxConnections int, logger *slog.Logger, metrics *Metrics) *Server {
	if maxConnections < 1 {
		maxConnections = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		handler: handler,
		slots:   semaphore.NewWeighted(int64(maxConnections)),
		logger:  logger,
		metrics: metrics,
	}
}

// Serve accepts connections from m until it reports ErrNoMoreConnections
// or ctx is done, then waits for every connection it started to finish.
// only an accept failure is returned; connection faults are logged.
func (s *Server) Serve(ctx context.Context, m Manager) error {
	transport := m.Transport()
	logger := s.logger.With(slog.String("transport", transport))

	var g errgroup.Group
	var acceptErr error
	for {
		// a slot is held before accepting so a full server leaves clients
		// waiting in the listen backlog
		if err := s.slots.Acquire(ctx, 1); err != nil {
			break
		}
		conn, err := m.Accept(ctx)
		if err != nil {
			s.slots.Release(1)
			if !errors.Is(err, ErrNoMoreConnections) && ctx.Err() == nil {
				logger.Error("accept failed", slog.Any("error", err))
				acceptErr = err
			}
			break
		}

		id := uuid.NewString()
		g.Go(func() error {
			defer s.slots.Release(1)
			s.serveConn(ctx, conn, logger.With(slog.String("conn", id)), transport)
			return nil
		})
	}

	logger.Debug("waiting for open connections")
	_ = g.Wait()
	logger.Info("stopped accepting connections")
	return acceptErr
}

func (s *Server) serveConn(ctx context.Context, conn Connection, logger *slog.Logger, transport string) {
	s.metrics.connectionOpened(transport)
	defer s.metrics.connectionClosed()
	defer func() {
		_ = conn.Close()
	}()

	logger.Info("connection opened")
	if err := s.handler.ServeConn(ctx, conn, logger); err != nil {
		logger.Warn("connection ended with error", slog.Any("error", err))
		return
	}
	logger.Info("connection closed")
}
