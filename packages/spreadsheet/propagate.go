package spreadsheet

import (
	"log/slog"
	"time"
)

// PropagationStats summarizes one propagation run
type PropagationStats struct {
	Recomputed int           // dependents re-evaluated and written
	Errored    int           // of those, how many evaluated to an error value
	Skipped    int           // dependents with no stored expression
	Duration   time.Duration // wall time of the whole run
}

// cascade is the pending work of one propagation run. a cell is queued at
// most once at a time; it may be queued again after it has been recomputed.
type cascade struct {
	pending []string
	queued  map[string]struct{}
}

func newCascade(order []string) *cascade {
	c := &cascade{
		pending: order,
		queued:  make(map[string]struct{}, len(order)),
	}
	for _, name := range order {
		c.queued[name] = struct{}{}
	}
	return c
}

func (c *cascade) next() (string, bool) {
	if len(c.pending) == 0 {
		return "", false
	}
	name := c.pending[0]
	c.pending = c.pending[1:]
	delete(c.queued, name)
	return name, true
}

// enqueue adds the cells not already pending and reports whether any were
// added
func (c *cascade) enqueue(names []string) bool {
	added := false
	for _, name := range names {
		if _, ok := c.queued[name]; ok {
			continue
		}
		c.queued[name] = struct{}{}
		c.pending = append(c.pending, name)
		added = true
	}
	return added
}

// propagate re-evaluates the dependents of a write, starting from order.
// the lock is taken per cell, so other connections interleave between
// steps. after each step the recomputed cell's dependents are read from the
// current graph, which picks up edges other writers added mid-run. a
// failing dependent is written as an error value and propagation goes on.
func (s *Sheet) propagate(order []string) PropagationStats {
	var stats PropagationStats
	if len(order) == 0 {
		return stats
	}

	start := time.Now()
	work := newCascade(order)
	for name, ok := work.next(); ok; name, ok = work.next() {
		switch s.recompute(name, work) {
		case recomputeOK:
			stats.Recomputed++
		case recomputeErrored:
			stats.Recomputed++
			stats.Errored++
		case recomputeSkipped:
			stats.Skipped++
		}
	}
	stats.Duration = time.Since(start)
	return stats
}

type recomputeResult int

const (
	recomputeOK recomputeResult = iota
	recomputeErrored
	recomputeSkipped
)

// recompute evaluates one dependent under the lock and queues any of its
// current dependents that are not already pending
func (s *Sheet) recompute(name string, work *cascade) recomputeResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	expr, ok := s.storage.expressions.At(name)
	if !ok {
		s.logger.Warn("skipping dependent without expression", slog.String("cell", name))
		return recomputeSkipped
	}

	result := recomputeOK
	ctx := s.storage.cells.Resolve(expr.Variables())
	value, err := expr.EvaluateWith(ctx, s.functions)
	if err != nil {
		value = ErrorValue(asCellError(err))
		result = recomputeErrored
	}
	s.storage.cells.Set(name, expr.Source(), value, s.clock.Now())

	graph := s.storage.dependencyGraph
	if work.enqueue(graph.DependentsOfCell(name)) {
		work.pending = graph.orderCells(work.pending)
	}
	return result
}
