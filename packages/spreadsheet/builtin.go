package spreadsheet

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Clock interface provides time functionality for testing
type Clock interface {
	Now() time.Time
}

// WallClock is the default implementation using system time
type WallClock struct{}

func (w *WallClock) Now() time.Time {
	return time.Now()
}

// Sleeper interface lets tests replace real sleeping in sleep_then
type Sleeper interface {
	Sleep(d time.Duration)
}

// WallSleeper sleeps on the real clock
type WallSleeper struct{}

func (w *WallSleeper) Sleep(d time.Duration) {
	time.Sleep(d)
}

// Function is a custom function registered alongside the built-ins
type Function func(args ...any) (Primitive, error)

// BuiltInFunctions contains all cell built-in functions
type BuiltInFunctions struct {
	sleeper Sleeper
	custom  map[string]Function
}

// NewDefaultBuiltInFunctions creates a BuiltInFunctions with default
// implementations
func NewDefaultBuiltInFunctions() *BuiltInFunctions {
	return NewBuiltInFunctions(&WallSleeper{})
}

func NewBuiltInFunctions(sleeper Sleeper) *BuiltInFunctions {
	return &BuiltInFunctions{
		sleeper: sleeper,
		custom:  make(map[string]Function),
	}
}

var defaultFunctions = NewDefaultBuiltInFunctions()

// DefaultFunctions returns the shared function table with no custom
// functions registered
func DefaultFunctions() *BuiltInFunctions {
	return defaultFunctions
}

// Register adds a custom function. names are case-insensitive and a custom
// function shadows a built-in of the same name.
func (bf *BuiltInFunctions) Register(name string, fn Function) {
	bf.custom[strings.ToUpper(name)] = fn
}

// checkForError returns the error if value is a *CellError, nil otherwise
func checkForError(value Primitive) *CellError {
	if err, ok := value.(*CellError); ok {
		return err
	}
	return nil
}

// Call invokes a function by name with the given arguments
func (bf *BuiltInFunctions) Call(name string, args ...any) (Primitive, error) {
	upper := strings.ToUpper(name)
	if fn, ok := bf.custom[upper]; ok {
		return fn(args...)
	}
	switch upper {
	case "SUM":
		return bf.SUM(args...)
	case "PRODUCT":
		return bf.PRODUCT(args...)
	case "MIN":
		return bf.MIN(args...)
	case "MAX":
		return bf.MAX(args...)
	case "AVG", "AVERAGE":
		return bf.AVG(args...)
	case "COUNT":
		return bf.COUNT(args...)
	case "LEN":
		return bf.LEN(args...)
	case "ABS":
		return bf.ABS(args...)
	case "IF":
		return bf.IF(args...)
	case "SLEEP_THEN":
		return bf.SLEEP_THEN(args...)
	default:
		return nil, NewCellError(ErrorCodeName, fmt.Sprintf("Unknown function: %s", name))
	}
}

// eachValue visits every scalar in args, flattening vectors and matrices
// in row-major order. unset cells inside a range are skipped. errors,
// whether passed directly or found inside a range, stop the walk.
func eachValue(args []any, visit func(value Primitive)) error {
	visitCell := func(v CellValue) error {
		switch {
		case v.IsError():
			return v.Error
		case v.IsNone():
			return nil
		}
		visit(v.primitive())
		return nil
	}
	for _, arg := range args {
		if err := checkForError(arg); err != nil {
			return err
		}
		switch a := arg.(type) {
		case Vector:
			for _, v := range a {
				if err := visitCell(v); err != nil {
					return err
				}
			}
		case Matrix:
			for _, row := range a {
				for _, v := range row {
					if err := visitCell(v); err != nil {
						return err
					}
				}
			}
		default:
			visit(arg)
		}
	}
	return nil
}

func (bf *BuiltInFunctions) SUM(args ...any) (Primitive, error) {
	var sum int64
	err := eachValue(args, func(value Primitive) {
		if num, ok := toNumber(value); ok {
			sum += num
		}
	})
	if err != nil {
		return nil, err
	}
	return sum, nil
}

func (bf *BuiltInFunctions) PRODUCT(args ...any) (Primitive, error) {
	product := int64(1)
	err := eachValue(args, func(value Primitive) {
		if num, ok := toNumber(value); ok {
			product *= num
		}
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

func (bf *BuiltInFunctions) MIN(args ...any) (Primitive, error) {
	var result int64
	hasValues := false
	err := eachValue(args, func(value Primitive) {
		if num, ok := toNumber(value); ok {
			if !hasValues || num < result {
				result = num
			}
			hasValues = true
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (bf *BuiltInFunctions) MAX(args ...any) (Primitive, error) {
	var result int64
	hasValues := false
	err := eachValue(args, func(value Primitive) {
		if num, ok := toNumber(value); ok {
			if !hasValues || num > result {
				result = num
			}
			hasValues = true
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AVG is the integer mean, truncated toward zero
func (bf *BuiltInFunctions) AVG(args ...any) (Primitive, error) {
	var sum, count int64
	err := eachValue(args, func(value Primitive) {
		if num, ok := toNumber(value); ok {
			sum += num
			count++
		}
	})
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, NewCellError(ErrorCodeDiv0, "Division by zero")
	}
	return sum / count, nil
}

// COUNT counts integer values only; no value and text are skipped
func (bf *BuiltInFunctions) COUNT(args ...any) (Primitive, error) {
	var count int64
	err := eachValue(args, func(value Primitive) {
		if _, ok := value.(int64); ok {
			count++
		}
	})
	if err != nil {
		return nil, err
	}
	return count, nil
}

func (bf *BuiltInFunctions) LEN(args ...any) (Primitive, error) {
	if len(args) != 1 {
		return nil, NewCellError(ErrorCodeNA, "LEN requires exactly 1 argument")
	}
	if err := checkForError(args[0]); err != nil {
		return nil, err
	}
	if err := checkScalar(args[0]); err != nil {
		return nil, err
	}
	return int64(utf8.RuneCountInString(toString(args[0]))), nil
}

func (bf *BuiltInFunctions) ABS(args ...any) (Primitive, error) {
	if len(args) != 1 {
		return nil, NewCellError(ErrorCodeNA, "ABS requires exactly 1 argument")
	}
	if err := checkForError(args[0]); err != nil {
		return nil, err
	}
	num, ok := toNumber(args[0])
	if !ok {
		return nil, NewCellError(ErrorCodeValue, "ABS requires a numeric argument")
	}
	if num < 0 {
		return -num, nil
	}
	return num, nil
}

func (bf *BuiltInFunctions) IF(args ...any) (Primitive, error) {
	if len(args) < 2 || len(args) > 3 {
		return nil, NewCellError(ErrorCodeNA, "IF requires 2 or 3 arguments")
	}

	// only the condition and the chosen branch may fail the call
	if err := checkForError(args[0]); err != nil {
		return nil, err
	}

	chosen := Primitive(int64(0))
	if isTruthy(args[0]) {
		chosen = args[1]
	} else if len(args) == 3 {
		chosen = args[2]
	}
	if err := checkForError(chosen); err != nil {
		return nil, err
	}
	return chosen, nil
}

// SLEEP_THEN waits the given number of milliseconds and yields its second
// argument, which makes slow evaluations observable from other connections
func (bf *BuiltInFunctions) SLEEP_THEN(args ...any) (Primitive, error) {
	if len(args) != 2 {
		return nil, NewCellError(ErrorCodeNA, "SLEEP_THEN requires exactly 2 arguments")
	}
	for _, arg := range args {
		if err := checkForError(arg); err != nil {
			return nil, err
		}
	}
	ms, ok := args[0].(int64)
	if !ok || ms < 0 {
		return nil, NewCellError(ErrorCodeValue, "SLEEP_THEN requires a non-negative number of milliseconds")
	}
	sleeper := bf.sleeper
	if sleeper == nil {
		sleeper = &WallSleeper{}
	}
	sleeper.Sleep(time.Duration(ms) * time.Millisecond)
	return args[1], nil
}

// toNumber converts value to number, returning ok=false if conversion fails.
// no value counts as 0.
func toNumber(value Primitive) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case nil:
		return 0, true
	default:
		return 0, false
	}
}

// toString converts value to string
func toString(value Primitive) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(value)
	}
}

// isTruthy checks if value is truthy
func isTruthy(value Primitive) bool {
	switch v := value.(type) {
	case int64:
		return v != 0
	case string:
		return v != ""
	case nil:
		return false
	default:
		return true
	}
}
