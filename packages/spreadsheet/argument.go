package spreadsheet

import "errors"

// ErrUndefinedVariable is wrapped by evaluation errors for variables the
// context does not supply
var ErrUndefinedVariable = errors.New("undefined variable")

// Vector is a one-dimensional run of values, the evaluation form of a
// single-row or single-column range
type Vector []CellValue

// Matrix is a row-major grid of values, the evaluation form of a
// two-dimensional range
type Matrix [][]CellValue

// ArgumentKind is the shape of a resolved variable
type ArgumentKind uint8

const (
	ArgumentScalar ArgumentKind = iota
	ArgumentVector
	ArgumentMatrix
)

func (k ArgumentKind) String() string {
	switch k {
	case ArgumentVector:
		return "vector"
	case ArgumentMatrix:
		return "matrix"
	default:
		return "scalar"
	}
}

// CellArgument is one resolved variable
type CellArgument struct {
	Kind   ArgumentKind
	Value  CellValue     // ArgumentScalar
	Vector []CellValue   // ArgumentVector
	Matrix [][]CellValue // ArgumentMatrix
}

func ScalarArgument(v CellValue) CellArgument {
	return CellArgument{Kind: ArgumentScalar, Value: v}
}

func VectorArgument(values []CellValue) CellArgument {
	return CellArgument{Kind: ArgumentVector, Vector: values}
}

func MatrixArgument(rows [][]CellValue) CellArgument {
	return CellArgument{Kind: ArgumentMatrix, Matrix: rows}
}

// Context maps variable names to their resolved arguments
type Context map[string]CellArgument
