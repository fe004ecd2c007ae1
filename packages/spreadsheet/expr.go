package spreadsheet

import "strings"

// CellExpr is a parsed cell expression. construction never fails; a source
// that does not lex or parse keeps its error and reports it on every
// evaluation.
type CellExpr struct {
	source    string
	ast       ASTNode
	variables []string
	err       *CellError
}

func NewCellExpr(source string) *CellExpr {
	e := &CellExpr{source: source}

	tokens, lexErrors := NewLexer(source).Tokenize()
	if len(lexErrors) > 0 {
		e.err = NewCellError(ErrorCodeValue, "invalid expression: "+strings.Join(lexErrors, "; "))
		return e
	}
	e.variables = collectVariables(tokens)

	ast, err := NewParser(tokens).Parse()
	if err != nil {
		e.err = asCellError(err)
		return e
	}
	e.ast = ast
	return e
}

// collectVariables returns the distinct variable tokens in first-occurrence
// order. function names are not variables.
func collectVariables(tokens []Token) []string {
	var names []string
	seen := make(map[string]struct{})
	for _, tok := range tokens {
		switch tok.Type {
		case TokenCell, TokenRange, TokenIdentifier:
			if _, ok := seen[tok.Value]; ok {
				continue
			}
			seen[tok.Value] = struct{}{}
			names = append(names, tok.Value)
		}
	}
	return names
}

// Source returns the expression text as written
func (e *CellExpr) Source() string {
	return e.source
}

// Variables returns the names the expression reads
func (e *CellExpr) Variables() []string {
	return e.variables
}

// Err returns the parse error, if any
func (e *CellExpr) Err() error {
	if e.err == nil {
		return nil
	}
	return e.err
}

// Evaluate evaluates the expression with the default function table
func (e *CellExpr) Evaluate(ctx Context) (CellValue, error) {
	return e.EvaluateWith(ctx, DefaultFunctions())
}

// EvaluateWith evaluates the expression against ctx. a variable missing
// from ctx fails with ErrUndefinedVariable.
func (e *CellExpr) EvaluateWith(ctx Context, functions *BuiltInFunctions) (CellValue, error) {
	if e.err != nil {
		return CellValue{}, e.err
	}
	result, err := e.ast.Eval(&Environment{Variables: ctx, Functions: functions})
	if err != nil {
		return CellValue{}, asCellError(err)
	}
	return valueOf(result)
}
