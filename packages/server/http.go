package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/vogtb/rsheet/packages/spreadsheet"
)

const serviceName = "rsheet"

type setCellRequest struct {
	Expression string `json:"expression" binding:"required"`
}

type cellResponse struct {
	ReplyJSON
	Expression string     `json:"expression,omitempty"`
	Written    *time.Time `json:"written,omitempty"`
}

type healthResponse struct {
	Status string `json:"status"`
	spreadsheet.SheetStats
}

// RouterConfig wires the HTTP API
type RouterConfig struct {
	Handler   *Handler
	Gatherer  prometheus.Gatherer // serves /metrics when set
	WebSocket *WebSocketManager   // serves /v1/ws when set
	Logger    *slog.Logger
}

// NewRouter builds the HTTP/JSON API:
//
//	GET  /v1/cells                   names of all set cells
//	GET  /v1/cells/:name             value, expression and write time
//	PUT  /v1/cells/:name             {"expression": "..."}
//	GET  /v1/cells/:name/dependents  cells a write would recompute, in order
//	GET  /v1/ws                      websocket command stream
//	GET  /healthz
//	GET  /metrics
func NewRouter(cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware(serviceName), requestLogger(logger))

	api := &cellAPI{handler: cfg.Handler}
	v1 := router.Group("/v1")
	v1.GET("/cells", api.list)
	v1.GET("/cells/:name", api.get)
	v1.PUT("/cells/:name", api.set)
	v1.GET("/cells/:name/dependents", api.dependents)
	if cfg.WebSocket != nil {
		v1.GET("/ws", cfg.WebSocket.Handler())
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, healthResponse{
			Status:     "ok",
			SheetStats: cfg.Handler.Sheet().Stats(),
		})
	})
	if cfg.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}
	return router
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)))
	}
}

type cellAPI struct {
	handler *Handler
}

func (a *cellAPI) list(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"cells": a.handler.Sheet().Names()})
}

func (a *cellAPI) get(c *gin.Context) {
	cmd, err := NewGetCommand(c.Param("name"))
	if err != nil {
		a.fail(c, err)
		return
	}
	reply := a.handler.Execute(c.Request.Context(), cmd)
	if reply.IsError() {
		a.fail(c, reply.Err)
		return
	}

	resp := cellResponse{ReplyJSON: reply.JSON()}
	if record := reply.Record; record != nil {
		resp.Expression = record.Expression
		resp.Written = &record.Written
	}
	c.JSON(http.StatusOK, resp)
}

func (a *cellAPI) set(c *gin.Context) {
	var req setCellRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.fail(c, fmt.Errorf("%w: %v", ErrMissingExpression, err))
		return
	}
	cmd, err := NewSetCommand(c.Param("name"), req.Expression)
	if err != nil {
		a.fail(c, err)
		return
	}
	reply := a.handler.Execute(c.Request.Context(), cmd)
	if reply.IsError() {
		a.fail(c, reply.Err)
		return
	}
	c.JSON(http.StatusOK, reply.JSON())
}

func (a *cellAPI) dependents(c *gin.Context) {
	deps, err := a.handler.Sheet().Dependents(c.Param("name"))
	if err != nil {
		a.fail(c, err)
		return
	}
	if deps == nil {
		deps = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"dependents": deps})
}

func (a *cellAPI) fail(c *gin.Context, err error) {
	reply := a.handler.finish(ErrorReply(err))
	c.JSON(statusFor(err), reply.JSON())
}

// statusFor maps command and sheet errors onto HTTP status codes
func statusFor(err error) int {
	var appErr *spreadsheet.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case spreadsheet.InvalidArgument:
			if errors.Is(err, spreadsheet.ErrInvalidCell) {
				return http.StatusBadRequest
			}
			return http.StatusUnprocessableEntity
		case spreadsheet.NotFound:
			return http.StatusNotFound
		case spreadsheet.FailedPrecondition:
			return http.StatusConflict
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusBadRequest
}

// HTTPServer serves a router until its context ends
type HTTPServer struct {
	server   *http.Server
	listener net.Listener
}

func ListenHTTP(ctx context.Context, addr string, handler http.Handler) (*HTTPServer, error) {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &HTTPServer{
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		listener: listener,
	}, nil
}

func (s *HTTPServer) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve blocks until ctx is done, then shuts down gracefully. websocket
// sessions are hijacked and are not waited for here.
func (s *HTTPServer) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(s.listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	}
}
