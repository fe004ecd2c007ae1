package spreadsheet

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// AppErrorCode represents gRPC-style error codes for application-level errors.
// note that we are skipping error codes that don't make sense for our use-case,
// like unauthenticated, or permission denied.
type AppErrorCode int

const (
	// OK indicates the operation completed successfully.
	OK AppErrorCode = 0

	// Unknown error.
	Unknown AppErrorCode = 2

	// InvalidArgument indicates client specified an invalid argument, such
	// as a malformed cell name or an expression that fails to evaluate.
	InvalidArgument AppErrorCode = 3

	// NotFound means the requested cell has never been set.
	NotFound AppErrorCode = 5

	// FailedPrecondition indicates operation was rejected because the
	// system is not in a state required for the operation's execution,
	// e.g. the write would introduce a circular dependency.
	FailedPrecondition AppErrorCode = 9

	// Internal errors. Means some invariants expected by underlying
	// system has been broken.
	Internal AppErrorCode = 13
)

func (c AppErrorCode) String() string {
	switch c {
	case OK:
		return "ok"
	case InvalidArgument:
		return "invalid_argument"
	case NotFound:
		return "not_found"
	case FailedPrecondition:
		return "failed_precondition"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// ErrCycle is wrapped by errors for writes that would close a dependency
// cycle
var ErrCycle = errors.New("circular dependency")

// AppError represents errors at the application level (not cell
// expression errors stored as values)
type AppError struct {
	Code    AppErrorCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewApplicationError creates a new application error
func NewApplicationError(code AppErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func wrapApplicationError(code AppErrorCode, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: err.Error(),
		Err:     err,
	}
}

// PropagationObserver is notified after every propagation run
type PropagationObserver func(root string, stats PropagationStats)

// Option configures a Sheet
type Option func(*Sheet)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sheet) {
		s.logger = logger
	}
}

func WithFunctions(functions *BuiltInFunctions) Option {
	return func(s *Sheet) {
		s.functions = functions
	}
}

func WithClock(clock Clock) Option {
	return func(s *Sheet) {
		s.clock = clock
	}
}

func WithPropagationObserver(observer PropagationObserver) Option {
	return func(s *Sheet) {
		s.observers = append(s.observers, observer)
	}
}

// Sheet is the shared cell store. one mutex guards the cells, the
// expression table and the dependency graph together; it is held for a
// whole root Set and once per dependent during propagation.
type Sheet struct {
	mu        sync.Mutex
	storage   *Storage
	functions *BuiltInFunctions
	clock     Clock
	logger    *slog.Logger
	observers []PropagationObserver
}

// NewSheet creates an empty sheet
func NewSheet(opts ...Option) *Sheet {
	s := &Sheet{
		storage:   NewStorage(),
		functions: NewDefaultBuiltInFunctions(),
		clock:     &WallClock{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the current value of a cell, or no value if it was never set
func (s *Sheet) Get(name string) (CellValue, error) {
	canonical, err := CanonicalName(name)
	if err != nil {
		return CellValue{}, wrapApplicationError(InvalidArgument, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	value, _ := s.storage.cells.Get(canonical)
	return value, nil
}

// Lookup returns the full record of a cell that has been set
func (s *Sheet) Lookup(name string) (Cell, error) {
	canonical, err := CanonicalName(name)
	if err != nil {
		return Cell{}, wrapApplicationError(InvalidArgument, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cell, ok := s.storage.cells.Lookup(canonical)
	if !ok {
		return Cell{}, NewApplicationError(NotFound, fmt.Sprintf("cell %s has not been set", canonical))
	}
	return cell, nil
}

// Set evaluates source against the current sheet, stores the result on
// name and recomputes every cell that transitively depends on it before
// returning. a write that fails to evaluate or would close a cycle changes
// nothing.
func (s *Sheet) Set(name, source string) (CellValue, error) {
	canonical, err := CanonicalName(name)
	if err != nil {
		return CellValue{}, wrapApplicationError(InvalidArgument, err)
	}

	value, order, err := s.setRoot(canonical, source)
	if err != nil {
		return CellValue{}, err
	}

	stats := s.propagate(order)
	if len(order) > 0 {
		s.logger.Debug("propagated write",
			slog.String("cell", canonical),
			slog.Int("recomputed", stats.Recomputed),
			slog.Int("errored", stats.Errored),
			slog.Int("skipped", stats.Skipped),
			slog.Duration("duration", stats.Duration))
	}
	for _, observer := range s.observers {
		observer(canonical, stats)
	}
	return value, nil
}

// setRoot performs the locked part of Set. it returns the root's value and
// the dependents to recompute, in calculation order.
func (s *Sheet) setRoot(canonical, source string) (CellValue, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expr := s.storage.expressions.Parse(source)
	variables := expr.Variables()

	if path, found := s.storage.dependencyGraph.FindCycle(canonical, variables); found {
		err := fmt.Errorf("%w: %s", ErrCycle, FormatCycle(path))
		return CellValue{}, nil, wrapApplicationError(FailedPrecondition, err)
	}

	ctx := s.storage.cells.Resolve(variables)
	value, err := expr.EvaluateWith(ctx, s.functions)
	if err != nil {
		return CellValue{}, nil, wrapApplicationError(InvalidArgument, err)
	}

	s.storage.cells.Set(canonical, source, value, s.clock.Now())
	s.storage.expressions.Intern(canonical, expr)
	s.storage.dependencyGraph.Rebind(canonical, variables)

	return value, s.storage.dependencyGraph.GetCalculationOrder(canonical), nil
}

// Len returns the number of cells that have been set
func (s *Sheet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storage.cells.Len()
}

// SheetStats describes the size of a sheet at one instant
type SheetStats struct {
	Cells          int `json:"cells"`           // cells that have been set
	Expressions    int `json:"expressions"`     // distinct interned expressions
	DependentCells int `json:"dependent_cells"` // cells with at least one precedent
	Tokens         int `json:"tokens"`          // tokens referenced by some cell
	ObservedRanges int `json:"observed_ranges"` // range tokens referenced by some cell
}

// Stats reports the store and graph sizes under one lock
func (s *Sheet) Stats() SheetStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	graph := s.storage.dependencyGraph
	return SheetStats{
		Cells:          s.storage.cells.Len(),
		Expressions:    s.storage.expressions.Count(),
		DependentCells: graph.NodeCount(),
		Tokens:         graph.TokenCount(),
		ObservedRanges: graph.RangeObserverCount(),
	}
}

// Names returns the names of all cells that have been set, sorted
func (s *Sheet) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storage.cells.Names()
}

// Dependents returns the cells that would be recomputed by a write to name,
// in calculation order
func (s *Sheet) Dependents(name string) ([]string, error) {
	canonical, err := CanonicalName(name)
	if err != nil {
		return nil, wrapApplicationError(InvalidArgument, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storage.dependencyGraph.GetCalculationOrder(canonical), nil
}

// Batch applies a sequence of writes, stopping at the first failure
type Batch struct {
	sheet  *Sheet
	writes [][2]string
	err    error
}

// NewBatch creates a batch against sheet
func NewBatch(sheet *Sheet) *Batch {
	return &Batch{sheet: sheet}
}

// Set queues a write
func (b *Batch) Set(name, source string) *Batch {
	b.writes = append(b.writes, [2]string{name, source})
	return b
}

// Run applies the queued writes in order. writes before a failure stay
// applied.
func (b *Batch) Run() error {
	for _, w := range b.writes {
		if _, err := b.sheet.Set(w[0], w[1]); err != nil {
			b.err = fmt.Errorf("set %s: %w", w[0], err)
			return b.err
		}
	}
	b.writes = nil
	return nil
}

// Error returns the error from the last Run
func (b *Batch) Error() error {
	return b.err
}
