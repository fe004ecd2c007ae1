package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vogtb/rsheet/packages/spreadsheet"
)

const metricsNamespace = "rsheet"

// Metrics holds the Prometheus collectors for one server. a nil *Metrics
// records nothing.
type Metrics struct {
	factory promauto.Factory

	// Commands counts handled commands.
	// labels: command (get, set, invalid), outcome (ok, error)
	Commands *prometheus.CounterVec

	// CommandDuration observes time from decode to reply, propagation included
	CommandDuration *prometheus.HistogramVec

	// Connections counts accepted connections by transport
	Connections *prometheus.CounterVec

	ActiveConnections prometheus.Gauge

	// PropagatedCells counts dependents recomputed by propagation
	PropagatedCells prometheus.Counter

	// PropagationErrors counts dependents that recomputed to an error value
	PropagationErrors prometheus.Counter

	PropagationDuration prometheus.Histogram
}

// NewMetrics registers the server collectors with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		factory: factory,
		Commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "commands_total",
			Help:      "Commands handled, by command and outcome",
		}, []string{"command", "outcome"}),
		CommandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "command_duration_seconds",
			Help:      "Time to handle one command, propagation included",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 10),
		}, []string{"command"}),
		Connections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_total",
			Help:      "Connections accepted, by transport",
		}, []string{"transport"}),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_connections",
			Help:      "Connections currently being served",
		}),
		PropagatedCells: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "propagation",
			Name:      "cells_total",
			Help:      "Dependent cells recomputed by propagation",
		}),
		PropagationErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "propagation",
			Name:      "errors_total",
			Help:      "Dependent cells whose recomputation produced an error value",
		}),
		PropagationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "propagation",
			Name:      "duration_seconds",
			Help:      "Wall time of propagation runs that recomputed at least one cell",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 10),
		}),
	}
}

// WatchSheet exports the store and dependency graph sizes of s
func (m *Metrics) WatchSheet(s *spreadsheet.Sheet) {
	if m == nil {
		return
	}
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "stored_cells",
		Help:      "Cells that have been set",
	}, func() float64 {
		return float64(s.Len())
	})

	gauges := []struct {
		name, help string
		read       func(spreadsheet.SheetStats) int
	}{
		{"expressions", "Distinct interned expressions", func(st spreadsheet.SheetStats) int { return st.Expressions }},
		{"dependent_cells", "Cells with at least one precedent", func(st spreadsheet.SheetStats) int { return st.DependentCells }},
		{"tokens", "Tokens referenced by some cell", func(st spreadsheet.SheetStats) int { return st.Tokens }},
		{"observed_ranges", "Range tokens referenced by some cell", func(st spreadsheet.SheetStats) int { return st.ObservedRanges }},
	}
	for _, g := range gauges {
		m.factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "graph",
			Name:      g.name,
			Help:      g.help,
		}, func() float64 {
			return float64(g.read(s.Stats()))
		})
	}
}

// ObservePropagation is a spreadsheet.PropagationObserver
func (m *Metrics) ObservePropagation(_ string, stats spreadsheet.PropagationStats) {
	if m == nil || stats.Recomputed+stats.Skipped == 0 {
		return
	}
	m.PropagatedCells.Add(float64(stats.Recomputed))
	m.PropagationErrors.Add(float64(stats.Errored))
	m.PropagationDuration.Observe(stats.Duration.Seconds())
}

func (m *Metrics) observeCommand(command, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(command, outcome).Inc()
	m.CommandDuration.WithLabelValues(command).Observe(elapsed.Seconds())
}

func (m *Metrics) connectionOpened(transport string) {
	if m == nil {
		return
	}
	m.Connections.WithLabelValues(transport).Inc()
	m.ActiveConnections.Inc()
}

func (m *Metrics) connectionClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}
