package server

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/vogtb/rsheet/packages/spreadsheet"
)

var discardLogger = slog.New(slog.DiscardHandler)

// scriptConn replays a fixed list of messages and records every reply
type scriptConn struct {
	mu       sync.Mutex
	messages []string
	replies  []Reply
	closed   bool
}

func newScriptConn(messages ...string) *scriptConn {
	return &scriptConn{messages: messages}
}

func (c *scriptConn) ReadMessage() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || len(c.messages) == 0 {
		return "", io.EOF
	}
	msg := c.messages[0]
	c.messages = c.messages[1:]
	return msg, nil
}

func (c *scriptConn) WriteMessage(reply Reply) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies = append(c.replies, reply)
	return nil
}

func (c *scriptConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *scriptConn) rendered() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.replies))
	for i, r := range c.replies {
		out[i] = r.String()
	}
	return out
}

func newTestHandler(opts ...HandlerOption) *Handler {
	sheet := spreadsheet.NewSheet(spreadsheet.WithLogger(discardLogger))
	return NewHandler(sheet, append([]HandlerOption{WithHandlerLogger(discardLogger)}, opts...)...)
}

func TestHandlerServeConn(t *testing.T) {
	t.Run("Session", func(t *testing.T) {
		h := newTestHandler()
		conn := newScriptConn(
			"set A1 2",
			"set A2 3",
			"set A3 sum(A1_A2) * 10",
			"get A3",
			"",
			"   ",
			"set A1 5",
			"get A3",
			"get Z99",
			"set B1 1 / 0",
			"set B1 A1 / (A2 - 3)",
			"frobnicate",
		)
		require.NoError(t, h.ServeConn(context.Background(), conn, nil))

		assert.Equal(t, []string{
			"A1 = 2",
			"A2 = 3",
			"A3 = 50",
			"A3 = 50",
			"A1 = 5",
			"A3 = 80",
			"Z99 = None",
			"Error: Division by zero",
			"Error: Division by zero",
			`Error: unknown command: "frobnicate"`,
		}, conn.rendered())
	})

	t.Run("DependentErrorIsAValue", func(t *testing.T) {
		h := newTestHandler()
		conn := newScriptConn(
			"set A1 1",
			"set B1 10 / A1",
			"set A1 0",
			"get B1",
		)
		require.NoError(t, h.ServeConn(context.Background(), conn, nil))
		assert.Equal(t, "B1 = Error: Division by zero", conn.rendered()[3])
	})

	t.Run("MarkMode", func(t *testing.T) {
		h := newTestHandler(WithMarkMode(true))
		conn := newScriptConn(
			"set A1 1",
			"set B1 10 / A1",
			"set A1 0",
			"get B1",
			"set C1 1 / 0",
			"",
			"put C1",
		)
		require.NoError(t, h.ServeConn(context.Background(), conn, nil))
		assert.Equal(t, []string{
			"A1 = 1",
			"B1 = 10",
			"A1 = 0",
			"B1 = Error",
			"Error",
			"Error",
		}, conn.rendered())
	})

	t.Run("CancelledContextCloses", func(t *testing.T) {
		h := newTestHandler()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		conn := newScriptConn("get A1")
		require.NoError(t, h.ServeConn(ctx, conn, nil))
		assert.Empty(t, conn.rendered())
	})
}

func TestHandlerGetRecord(t *testing.T) {
	h := newTestHandler()
	ctx := context.Background()
	h.Handle(ctx, "set A1 2 * 3")

	reply := h.Handle(ctx, "get a1")
	require.NotNil(t, reply.Record)
	assert.Equal(t, reply.Value, reply.Record.Value)
	assert.Equal(t, "2 * 3", reply.Record.Expression)
	assert.False(t, reply.Record.Written.IsZero())

	assert.Nil(t, h.Handle(ctx, "get B1").Record)
	assert.Nil(t, h.Handle(ctx, "set B1 1").Record)
}

func TestHandlerMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	sheet := spreadsheet.NewSheet(
		spreadsheet.WithLogger(discardLogger),
		spreadsheet.WithPropagationObserver(metrics.ObservePropagation))
	metrics.WatchSheet(sheet)
	h := NewHandler(sheet, WithHandlerLogger(discardLogger), WithMetrics(metrics))

	ctx := context.Background()
	for _, line := range []string{
		"set A1 1",
		"set B1 A1 + 1",
		"set C1 10 / (B1 - 1)",
		"set A1 0",
		"get A1",
		"get C1",
		"set D1 1 / 0",
		"nope",
	} {
		h.Handle(ctx, line)
	}

	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.Commands.WithLabelValues("set", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Commands.WithLabelValues("set", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Commands.WithLabelValues("get", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Commands.WithLabelValues("invalid", "error")))

	// the write to A1 recomputes B1 and C1, and C1 divides by zero
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.PropagatedCells))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PropagationErrors))

	count, err := testutil.GatherAndCount(reg, "rsheet_stored_cells")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// B1 and C1 have precedents, the rejected D1 was never stored
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP rsheet_graph_dependent_cells Cells with at least one precedent
# TYPE rsheet_graph_dependent_cells gauge
rsheet_graph_dependent_cells 2
# HELP rsheet_graph_observed_ranges Range tokens referenced by some cell
# TYPE rsheet_graph_observed_ranges gauge
rsheet_graph_observed_ranges 0
`), "rsheet_graph_dependent_cells", "rsheet_graph_observed_ranges"))
}

func TestHandlerTracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})

	h := newTestHandler(WithTracerProvider(tp))
	ctx := context.Background()
	h.Handle(ctx, "set A1 6 * 7")
	h.Handle(ctx, "get A1")
	h.Handle(ctx, "set A2 A2 + 1")

	spans := recorder.Ended()
	require.Len(t, spans, 3)

	assert.Equal(t, "rsheet.set", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("rsheet.cell", "A1"))
	assert.Contains(t, spans[0].Attributes(), attribute.String("rsheet.expression", "6 * 7"))
	assert.Equal(t, codes.Unset, spans[0].Status().Code)

	assert.Equal(t, "rsheet.get", spans[1].Name())

	assert.Equal(t, "rsheet.set", spans[2].Name())
	assert.Equal(t, codes.Error, spans[2].Status().Code)
	assert.Contains(t, spans[2].Status().Description, "circular dependency")
}
