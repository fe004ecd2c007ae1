package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vogtb/rsheet/packages/spreadsheet"
)

const tracerName = "github.com/vogtb/rsheet/packages/server"

// Handler executes commands against a shared sheet. one Handler serves
// every connection of every transport.
type Handler struct {
	sheet   *spreadsheet.Sheet
	mask    bool
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

type HandlerOption func(*Handler)

// WithMarkMode hides error messages in replies
func WithMarkMode(mask bool) HandlerOption {
	return func(h *Handler) {
		h.mask = mask
	}
}

func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

func WithMetrics(metrics *Metrics) HandlerOption {
	return func(h *Handler) {
		h.metrics = metrics
	}
}

func WithTracerProvider(tp trace.TracerProvider) HandlerOption {
	return func(h *Handler) {
		h.tracer = tp.Tracer(tracerName)
	}
}

func NewHandler(sheet *spreadsheet.Sheet, opts ...HandlerOption) *Handler {
	h := &Handler{
		sheet:  sheet,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Sheet() *spreadsheet.Sheet {
	return h.sheet
}

// Handle decodes and executes one command line
func (h *Handler) Handle(ctx context.Context, line string) Reply {
	cmd, err := ParseCommand(line)
	if err != nil {
		h.metrics.observeCommand("invalid", "error", 0)
		return h.finish(ErrorReply(err))
	}
	return h.Execute(ctx, cmd)
}

// Execute runs a decoded command. a set returns only after every dependent
// of the cell has been recomputed.
func (h *Handler) Execute(ctx context.Context, cmd Command) Reply {
	start := time.Now()
	_, span := h.tracer.Start(ctx, "rsheet."+cmd.Kind.String(),
		trace.WithAttributes(attribute.String("rsheet.cell", cmd.Cell)))
	defer span.End()

	var reply Reply
	switch cmd.Kind {
	case CommandGet:
		reply = h.get(cmd.Cell)
	case CommandSet:
		span.SetAttributes(attribute.String("rsheet.expression", cmd.Expression))
		value, err := h.sheet.Set(cmd.Cell, cmd.Expression)
		reply = replyFor(cmd.Cell, value, err)
	default:
		reply = ErrorReply(fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Kind))
	}

	outcome := "ok"
	if reply.IsError() {
		outcome = "error"
		span.RecordError(reply.Err)
		span.SetStatus(codes.Error, reply.Err.Error())
	} else if reply.Value.IsError() {
		span.SetAttributes(attribute.Bool("rsheet.error_value", true))
	}
	h.metrics.observeCommand(cmd.Kind.String(), outcome, time.Since(start))
	return h.finish(reply)
}

func (h *Handler) finish(reply Reply) Reply {
	reply.Masked = h.mask
	return reply
}

// get reads the value and the record of a cell under one lock. a cell that
// was never set has no value and no record.
func (h *Handler) get(cell string) Reply {
	record, err := h.sheet.Lookup(cell)
	if err != nil {
		var appErr *spreadsheet.AppError
		if errors.As(err, &appErr) && appErr.Code == spreadsheet.NotFound {
			return ValueReply(cell, spreadsheet.NoValue())
		}
		return ErrorReply(err)
	}
	reply := ValueReply(cell, record.Value)
	reply.Record = &record
	return reply
}

func replyFor(cell string, value spreadsheet.CellValue, err error) Reply {
	if err != nil {
		return ErrorReply(err)
	}
	return ValueReply(cell, value)
}

// ServeConn runs the read-execute-reply loop until the client goes away or
// ctx is done. blank lines are skipped without a reply.
func (h *Handler) ServeConn(ctx context.Context, conn Connection, logger *slog.Logger) error {
	if logger == nil {
		logger = h.logger
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	for ctx.Err() == nil {
		var reply Reply
		msg, err := conn.ReadMessage()
		switch {
		case errors.Is(err, ErrLineTooLong):
			h.metrics.observeCommand("invalid", "error", 0)
			reply = h.finish(ErrorReply(err))
			logger.Debug("rejected command", slog.Any("error", err))
		case err != nil:
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		case strings.TrimSpace(msg) == "":
			continue
		default:
			reply = h.Handle(ctx, msg)
			logger.Debug("handled command",
				slog.String("command", msg),
				slog.Bool("error", reply.IsError()))
		}

		if err := conn.WriteMessage(reply); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("write: %w", err)
		}
	}
	return nil
}
