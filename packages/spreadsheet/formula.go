package spreadsheet

import "strings"

// ExprKey is the normalized source text used to deduplicate expressions.
// two cells set to the same text (ignoring surrounding whitespace) share
// one parsed expression.
type ExprKey string

// ExpressionTable stores parsed expressions centrally and tracks which
// cells use each of them, so propagation never re-parses a source
type ExpressionTable struct {
	// core expression storage

	keyIndex  map[ExprKey]uint32   // normalized source -> expression ID
	exprCache map[uint32]*CellExpr // expression ID -> parsed expression
	refCounts map[uint32]int       // expression ID -> reference count

	// cell tracking

	cellsUsingExpr map[uint32]map[string]struct{} // expression ID -> cells using it
	exprAtCell     map[string]uint32              // cell -> expression ID (reverse index)

	nextID uint32
}

// NewExpressionTable creates a new expression table
func NewExpressionTable() *ExpressionTable {
	return &ExpressionTable{
		keyIndex:       make(map[ExprKey]uint32),
		exprCache:      make(map[uint32]*CellExpr),
		refCounts:      make(map[uint32]int),
		cellsUsingExpr: make(map[uint32]map[string]struct{}),
		exprAtCell:     make(map[string]uint32),
		nextID:         1, // start at 1, reserve 0 for no expression
	}
}

func normalizeSource(source string) ExprKey {
	return ExprKey(strings.TrimSpace(source))
}

// Parse returns the interned expression for source, or a fresh parse that
// is not tracked until Intern is called with it
func (et *ExpressionTable) Parse(source string) *CellExpr {
	if id, exists := et.keyIndex[normalizeSource(source)]; exists {
		return et.exprCache[id]
	}
	return NewCellExpr(source)
}

// Intern makes expr the expression of cell, releasing whatever the cell
// held before. returns the expression ID.
func (et *ExpressionTable) Intern(cell string, expr *CellExpr) uint32 {
	key := normalizeSource(expr.Source())

	id, exists := et.keyIndex[key]
	if exists && et.exprAtCell[cell] == id {
		return id
	}
	et.Release(cell)

	if !exists {
		id = et.nextID
		et.keyIndex[key] = id
		et.exprCache[id] = expr
		et.nextID++
	}
	et.refCounts[id]++
	et.trackCellUsage(id, cell)

	return id
}

// trackCellUsage adds a cell to the set of cells using an expression
func (et *ExpressionTable) trackCellUsage(id uint32, cell string) {
	if et.cellsUsingExpr[id] == nil {
		et.cellsUsingExpr[id] = make(map[string]struct{})
	}
	et.cellsUsingExpr[id][cell] = struct{}{}
	et.exprAtCell[cell] = id
}

// Release drops the cell's reference to its expression. returns true if
// the expression was removed due to zero references.
func (et *ExpressionTable) Release(cell string) bool {
	id, exists := et.exprAtCell[cell]
	if !exists {
		return false
	}
	delete(et.exprAtCell, cell)

	if cells, ok := et.cellsUsingExpr[id]; ok {
		delete(cells, cell)
		if len(cells) == 0 {
			delete(et.cellsUsingExpr, id)
		}
	}

	et.refCounts[id]--
	if et.refCounts[id] > 0 {
		return false
	}
	et.removeExpr(id)
	return true
}

// removeExpr removes an expression completely from all tracking maps
func (et *ExpressionTable) removeExpr(id uint32) {
	if expr, ok := et.exprCache[id]; ok {
		delete(et.keyIndex, normalizeSource(expr.Source()))
	}
	delete(et.exprCache, id)
	delete(et.refCounts, id)
	delete(et.cellsUsingExpr, id)
}

// At returns the expression currently bound to a cell
func (et *ExpressionTable) At(cell string) (*CellExpr, bool) {
	id, exists := et.exprAtCell[cell]
	if !exists {
		return nil, false
	}
	return et.exprCache[id], true
}

// cellsUsing returns the cells bound to the expression with this source
func (et *ExpressionTable) cellsUsing(source string) []string {
	id, exists := et.keyIndex[normalizeSource(source)]
	if !exists {
		return nil
	}
	cells := make([]string, 0, len(et.cellsUsingExpr[id]))
	for cell := range et.cellsUsingExpr[id] {
		cells = append(cells, cell)
	}
	return cells
}

// referenceCount returns the number of cells using an expression ID
func (et *ExpressionTable) referenceCount(id uint32) int {
	return et.refCounts[id]
}

// Count returns the number of distinct expressions
func (et *ExpressionTable) Count() int {
	return len(et.exprCache)
}
