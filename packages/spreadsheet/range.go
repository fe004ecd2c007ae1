package spreadsheet

import (
	"fmt"
	"iter"
	"strings"
)

// RangeAddress represents an inclusive rectangle of cells. start is always
// the top-left corner, whatever order the endpoints were written in.
type RangeAddress struct {
	StartRow    uint32
	StartColumn uint32
	EndRow      uint32
	EndColumn   uint32
}

// ParseRange parses a range token of the form "<cellA>_<cellB>", e.g.
// "A1_B3" or "B3_A1"
func ParseRange(token string) (RangeAddress, error) {
	start, end, ok := strings.Cut(token, "_")
	if !ok || strings.Contains(end, "_") {
		return RangeAddress{}, fmt.Errorf("%w: range %q", ErrInvalidCell, token)
	}
	a, err := ParseCellID(start)
	if err != nil {
		return RangeAddress{}, fmt.Errorf("invalid start cell in range %q: %w", token, err)
	}
	b, err := ParseCellID(end)
	if err != nil {
		return RangeAddress{}, fmt.Errorf("invalid end cell in range %q: %w", token, err)
	}
	return NewRangeAddress(a, b), nil
}

// NewRangeAddress builds the rectangle spanned by two corner cells
func NewRangeAddress(a, b CellID) RangeAddress {
	return RangeAddress{
		StartRow:    min(a.Row, b.Row),
		StartColumn: min(a.Col, b.Col),
		EndRow:      max(a.Row, b.Row),
		EndColumn:   max(a.Col, b.Col),
	}
}

// Start returns the top-left cell
func (r RangeAddress) Start() CellID {
	return CellID{Col: r.StartColumn, Row: r.StartRow}
}

// End returns the bottom-right cell
func (r RangeAddress) End() CellID {
	return CellID{Col: r.EndColumn, Row: r.EndRow}
}

// String renders the canonical token, e.g. "A1_B3"
func (r RangeAddress) String() string {
	return r.Start().String() + "_" + r.End().String()
}

// Contains checks if a cell falls within the rectangle
func (r RangeAddress) Contains(id CellID) bool {
	return id.Row >= r.StartRow && id.Row <= r.EndRow &&
		id.Col >= r.StartColumn && id.Col <= r.EndColumn
}

// IsVector reports whether the range is one row or one column. a single
// cell is both.
func (r RangeAddress) IsVector() bool {
	return r.StartRow == r.EndRow || r.StartColumn == r.EndColumn
}

func (r RangeAddress) Rows() int {
	return int(r.EndRow-r.StartRow) + 1
}

func (r RangeAddress) Columns() int {
	return int(r.EndColumn-r.StartColumn) + 1
}

// Size returns the number of cells covered
func (r RangeAddress) Size() int {
	return r.Rows() * r.Columns()
}

// Cells returns an iterator over all cells in row-major order
func (r RangeAddress) Cells() iter.Seq[CellID] {
	return func(yield func(CellID) bool) {
		for row := r.StartRow; row <= r.EndRow; row++ {
			for col := r.StartColumn; col <= r.EndColumn; col++ {
				if !yield(CellID{Col: col, Row: row}) {
					return
				}
				if col == r.EndColumn {
					break
				}
			}
			if row == r.EndRow {
				break
			}
		}
	}
}

// RowCells returns an iterator over the cells of one row of the range,
// 0 being the first row of the range
func (r RangeAddress) RowCells(offset int) iter.Seq[CellID] {
	row := r.StartRow + uint32(offset)
	return func(yield func(CellID) bool) {
		for col := r.StartColumn; col <= r.EndColumn; col++ {
			if !yield(CellID{Col: col, Row: row}) {
				return
			}
			if col == r.EndColumn {
				break
			}
		}
	}
}
