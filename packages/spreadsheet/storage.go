package spreadsheet

import (
	"maps"
	"slices"
	"time"
)

// Storage holds the tables that make up one consistent sheet state. the
// tables are never locked individually; Sheet guards all of them together.
type Storage struct {
	cells           *CellStore
	expressions     *ExpressionTable
	dependencyGraph *DependencyGraph
}

func NewStorage() *Storage {
	return &Storage{
		cells:           NewCellStore(),
		expressions:     NewExpressionTable(),
		dependencyGraph: NewDependencyGraph(),
	}
}

// CellStore maps canonical cell names to their current record
type CellStore struct {
	cells map[string]*Cell
}

func NewCellStore() *CellStore {
	return &CellStore{cells: make(map[string]*Cell)}
}

// Get returns the stored value; found is false for cells never set
func (cs *CellStore) Get(name string) (CellValue, bool) {
	cell, ok := cs.cells[name]
	if !ok {
		return NoValue(), false
	}
	return cell.Value, true
}

// Set inserts or overwrites a cell's value, expression and write time
func (cs *CellStore) Set(name, expression string, value CellValue, written time.Time) {
	cell, ok := cs.cells[name]
	if !ok {
		cell = &Cell{Name: name}
		cs.cells[name] = cell
	}
	cell.Value = value
	cell.Expression = expression
	cell.Written = written
}

// Lookup returns a copy of the full record
func (cs *CellStore) Lookup(name string) (Cell, bool) {
	cell, ok := cs.cells[name]
	if !ok {
		return Cell{}, false
	}
	return *cell, true
}

func (cs *CellStore) Len() int {
	return len(cs.cells)
}

// Names returns the stored cell names in sorted order
func (cs *CellStore) Names() []string {
	return slices.Sorted(maps.Keys(cs.cells))
}
