package spreadsheet

import "iter"

// MaxRangeCells bounds how many cells one range token may expand to
const MaxRangeCells = 1 << 20

// Resolve builds the evaluation context for the given variable names
// against the current store:
//   - a stored cell becomes a scalar; no value is substituted by 0 and a
//     cell holding an error is left out entirely
//   - a range token becomes a vector when it spans one row or one column
//     (a single cell included) and a row-major matrix otherwise; missing
//     cells contribute no value
//   - a range larger than MaxRangeCells resolves to an error
//   - anything else is left out, so evaluation reports it as undefined
//
// callers must hold the sheet lock.
func (cs *CellStore) Resolve(names []string) Context {
	ctx := make(Context, len(names))
	for _, name := range names {
		if value, ok := cs.Get(name); ok {
			switch {
			case value.IsError():
				continue
			case value.IsNone():
				ctx[name] = ScalarArgument(IntValue(0))
			default:
				ctx[name] = ScalarArgument(value)
			}
			continue
		}

		addr, err := ParseRange(name)
		if err != nil {
			continue
		}
		if addr.Size() > MaxRangeCells {
			ctx[name] = ScalarArgument(ErrorValue(NewCellError(ErrorCodeRef, "range too large: "+name)))
			continue
		}
		if addr.IsVector() {
			ctx[name] = VectorArgument(cs.rangeValues(addr.Cells(), addr.Size()))
			continue
		}
		rows := make([][]CellValue, 0, addr.Rows())
		for i := range addr.Rows() {
			rows = append(rows, cs.rangeValues(addr.RowCells(i), addr.Columns()))
		}
		ctx[name] = MatrixArgument(rows)
	}
	return ctx
}

func (cs *CellStore) rangeValues(ids iter.Seq[CellID], size int) []CellValue {
	values := make([]CellValue, 0, size)
	for id := range ids {
		value, _ := cs.Get(id.String())
		values = append(values, value)
	}
	return values
}
