package spreadsheet

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrInvalidCell is returned for names that are not cell references
var ErrInvalidCell = errors.New("invalid cell name")

// maxColumnLetters bounds column names so column numbers fit in uint32
const maxColumnLetters = 6

// CellID is a zero-based (column, row) coordinate
type CellID struct {
	Col uint32
	Row uint32
}

// String renders the display name, e.g. (0,0) is "A1" and (26,9) is "AA10"
func (id CellID) String() string {
	return ColumnName(id.Col) + strconv.FormatUint(uint64(id.Row)+1, 10)
}

// ColumnName converts a zero-based column index to bijective base-26
// letters (A=0, Z=25, AA=26, ...)
func ColumnName(col uint32) string {
	n := uint64(col) + 1
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		n--
		i--
		buf[i] = byte('A' + n%26)
		n /= 26
	}
	return string(buf[i:])
}

// ColumnNumber converts column letters (case-insensitive) to a zero-based
// column index
func ColumnNumber(name string) (uint32, error) {
	if name == "" || len(name) > maxColumnLetters {
		return 0, fmt.Errorf("%w: column %q", ErrInvalidCell, name)
	}
	var col uint64
	for i := 0; i < len(name); i++ {
		ch := name[i]
		switch {
		case ch >= 'A' && ch <= 'Z':
			col = col*26 + uint64(ch-'A') + 1
		case ch >= 'a' && ch <= 'z':
			col = col*26 + uint64(ch-'a') + 1
		default:
			return 0, fmt.Errorf("%w: column %q", ErrInvalidCell, name)
		}
	}
	return uint32(col - 1), nil
}

// ParseCellID parses a cell name like "B3" or "aa10": one or more letters
// followed by a positive row number without leading zeros
func ParseCellID(name string) (CellID, error) {
	letterEnd := 0
	for letterEnd < len(name) && isAlpha(rune(name[letterEnd])) {
		letterEnd++
	}
	if letterEnd == 0 || letterEnd == len(name) {
		return CellID{}, fmt.Errorf("%w: %q", ErrInvalidCell, name)
	}

	col, err := ColumnNumber(name[:letterEnd])
	if err != nil {
		return CellID{}, fmt.Errorf("%w: %q", ErrInvalidCell, name)
	}

	rowStr := name[letterEnd:]
	if rowStr[0] == '0' {
		return CellID{}, fmt.Errorf("%w: row number must be positive: %q", ErrInvalidCell, name)
	}
	for i := 0; i < len(rowStr); i++ {
		if !isDigit(rune(rowStr[i])) {
			return CellID{}, fmt.Errorf("%w: %q", ErrInvalidCell, name)
		}
	}
	rowNum, err := strconv.ParseUint(rowStr, 10, 32)
	if err != nil {
		return CellID{}, fmt.Errorf("%w: row out of range: %q", ErrInvalidCell, name)
	}

	return CellID{Col: col, Row: uint32(rowNum - 1)}, nil
}

// CanonicalName normalizes a cell name to its display form ("b3" -> "B3")
func CanonicalName(name string) (string, error) {
	id, err := ParseCellID(name)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
