package spreadsheet

import (
	"fmt"
	"strconv"
	"time"
)

// Primitive represents an intermediate value during expression evaluation.
// types:
//   - int64: integer values
//   - string: text values
//   - nil: no value
//   - Vector: one-dimensional run of cell values (from a range)
//   - Matrix: row-major grid of cell values (from a range)
type Primitive any

// ErrorCode represents the tag carried by an error value, following
// spreadsheet conventions
type ErrorCode uint8

const (
	ErrorCodeDiv0  ErrorCode = 1 // #DIV/0! - division by zero
	ErrorCodeValue ErrorCode = 2 // #VALUE! - wrong type of argument or operand
	ErrorCodeRef   ErrorCode = 3 // #REF! - invalid or circular cell reference
	ErrorCodeName  ErrorCode = 4 // #NAME? - undefined variable or function
	ErrorCodeNum   ErrorCode = 5 // #NUM! - number out of range
	ErrorCodeNA    ErrorCode = 6 // #N/A - wrong number of arguments
	ErrorCodeOther ErrorCode = 7 // #ERROR! - all other errors
)

// ErrorMapper maps error codes to their display tags
var ErrorMapper = map[ErrorCode]string{
	ErrorCodeDiv0:  "#DIV/0!",
	ErrorCodeValue: "#VALUE!",
	ErrorCodeRef:   "#REF!",
	ErrorCodeName:  "#NAME?",
	ErrorCodeNum:   "#NUM!",
	ErrorCodeNA:    "#N/A",
	ErrorCodeOther: "#ERROR!",
}

// CellError is an evaluation failure. it is both returned as a Go error by
// the evaluator and stored as the value of a dependent cell that failed to
// recompute.
type CellError struct {
	ErrorCode ErrorCode
	Message   string
	err       error
}

func (e *CellError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return ErrorMapper[e.ErrorCode]
}

// Unwrap exposes the sentinel the error was built from, if any
func (e *CellError) Unwrap() error {
	return e.err
}

// Tag returns the display tag for the error code
func (e *CellError) Tag() string {
	if tag, ok := ErrorMapper[e.ErrorCode]; ok {
		return tag
	}
	return ErrorMapper[ErrorCodeOther]
}

func NewCellError(code ErrorCode, message string) *CellError {
	if message == "" {
		message = ErrorMapper[code]
	}
	return &CellError{
		ErrorCode: code,
		Message:   message,
	}
}

// wrapCellError builds a CellError whose Unwrap returns sentinel
func wrapCellError(code ErrorCode, sentinel error, format string, args ...any) *CellError {
	return &CellError{
		ErrorCode: code,
		Message:   fmt.Sprintf(format, args...),
		err:       sentinel,
	}
}

// asCellError converts any evaluation error into a CellError
func asCellError(err error) *CellError {
	if cellErr, ok := err.(*CellError); ok {
		return cellErr
	}
	return &CellError{ErrorCode: ErrorCodeValue, Message: err.Error(), err: err}
}

// CellType represents numeric constants for cell value types
type CellType uint8

const (
	CellValueTypeNone   CellType = 0
	CellValueTypeInt    CellType = 1
	CellValueTypeString CellType = 2
	CellValueTypeError  CellType = 3
)

// String returns the lower-case name of the type, as used in JSON replies
func (t CellType) String() string {
	switch t {
	case CellValueTypeInt:
		return "int"
	case CellValueTypeString:
		return "string"
	case CellValueTypeError:
		return "error"
	default:
		return "none"
	}
}

// CellValue represents a calculated cell value with type information. the
// zero value is "no value".
type CellValue struct {
	Type  CellType
	Int   int64
	Str   string
	Error *CellError
}

// NoValue returns the "no value" value
func NoValue() CellValue {
	return CellValue{}
}

func IntValue(n int64) CellValue {
	return CellValue{Type: CellValueTypeInt, Int: n}
}

func StringValue(s string) CellValue {
	return CellValue{Type: CellValueTypeString, Str: s}
}

func ErrorValue(err *CellError) CellValue {
	return CellValue{Type: CellValueTypeError, Error: err}
}

func (v CellValue) IsNone() bool {
	return v.Type == CellValueTypeNone
}

func (v CellValue) IsError() bool {
	return v.Type == CellValueTypeError
}

// String renders the value the way replies display it
func (v CellValue) String() string {
	switch v.Type {
	case CellValueTypeInt:
		return strconv.FormatInt(v.Int, 10)
	case CellValueTypeString:
		return strconv.Quote(v.Str)
	case CellValueTypeError:
		return "Error: " + v.Error.Error()
	default:
		return "None"
	}
}

// primitive converts a scalar cell value into an evaluation primitive
func (v CellValue) primitive() Primitive {
	switch v.Type {
	case CellValueTypeInt:
		return v.Int
	case CellValueTypeString:
		return v.Str
	case CellValueTypeError:
		return v.Error
	default:
		return nil
	}
}

// valueOf converts a scalar evaluation result back into a cell value
func valueOf(p Primitive) (CellValue, error) {
	switch v := p.(type) {
	case nil:
		return NoValue(), nil
	case int64:
		return IntValue(v), nil
	case string:
		return StringValue(v), nil
	case *CellError:
		return CellValue{}, v
	case Vector, Matrix:
		return CellValue{}, NewCellError(ErrorCodeValue, "expression evaluates to a range, not a value")
	default:
		return CellValue{}, NewCellError(ErrorCodeOther, fmt.Sprintf("unsupported result type %T", p))
	}
}

// Cell represents a stored cell with its definition and metadata
type Cell struct {
	Name       string    // display name, e.g. "B3"
	Value      CellValue // current value
	Expression string    // source text of the most recent set
	Written    time.Time // last write, carries a monotonic reading
}
