package spreadsheet

import (
	"fmt"
	"strconv"
	"strings"
)

type NodePosition struct {
	Start int
	End   int
}

// Environment is what an AST is evaluated against: the resolved variables
// and the function table
type Environment struct {
	Variables Context
	Functions *BuiltInFunctions
}

// ASTNode is a parsed expression. Eval never reads the store; every value
// it needs arrives through the environment.
type ASTNode interface {
	Eval(env *Environment) (Primitive, error)
	GetPosition() NodePosition
	ToString() string
}

// Parser parses tokens into an AST
type Parser struct {
	tokens []Token
	pos    int
}

// StringNode represents a string literal
type StringNode struct {
	Value    string
	Position NodePosition
}

func (n *StringNode) Eval(env *Environment) (Primitive, error) {
	return n.Value, nil
}

func (n *StringNode) GetPosition() NodePosition {
	return n.Position
}

func (n *StringNode) ToString() string {
	escaped := strings.ReplaceAll(n.Value, "\"", "\"\"")
	return fmt.Sprintf("\"%s\"", escaped)
}

// NumberNode represents an integer literal
type NumberNode struct {
	Value    int64
	Position NodePosition
}

func (n *NumberNode) Eval(env *Environment) (Primitive, error) {
	return n.Value, nil
}

func (n *NumberNode) GetPosition() NodePosition {
	return n.Position
}

func (n *NumberNode) ToString() string {
	return strconv.FormatInt(n.Value, 10)
}

// VariableNode represents a named reference: a cell, a range token, or any
// other identifier. all of them are looked up in the environment.
type VariableNode struct {
	Name     string
	Kind     TokenType // TokenCell, TokenRange or TokenIdentifier
	Position NodePosition
}

func (n *VariableNode) Eval(env *Environment) (Primitive, error) {
	arg, ok := env.Variables[n.Name]
	if !ok {
		return nil, wrapCellError(ErrorCodeName, ErrUndefinedVariable, "undefined variable: %s", n.Name)
	}
	switch arg.Kind {
	case ArgumentVector:
		return Vector(arg.Vector), nil
	case ArgumentMatrix:
		return Matrix(arg.Matrix), nil
	default:
		if arg.Value.IsError() {
			return nil, arg.Value.Error
		}
		return arg.Value.primitive(), nil
	}
}

func (n *VariableNode) GetPosition() NodePosition {
	return n.Position
}

func (n *VariableNode) ToString() string {
	return n.Name
}

// BinaryOpNode represents a binary operation
type BinaryOpNode struct {
	Op       BinaryOp
	Left     ASTNode
	Right    ASTNode
	Position NodePosition
}

func (n *BinaryOpNode) Eval(env *Environment) (Primitive, error) {
	leftVal, err := n.Left.Eval(env)
	if err != nil {
		return nil, err
	}
	rightVal, err := n.Right.Eval(env)
	if err != nil {
		return nil, err
	}
	if err := checkScalar(leftVal); err != nil {
		return nil, err
	}
	if err := checkScalar(rightVal); err != nil {
		return nil, err
	}

	switch n.Op {
	case BinOpAdd:
		leftStr, leftIsStr := leftVal.(string)
		rightStr, rightIsStr := rightVal.(string)
		if leftIsStr && rightIsStr {
			return leftStr + rightStr, nil
		}
		leftNum, rightNum, err := numericOperands(leftVal, rightVal, "Addition")
		if err != nil {
			return nil, err
		}
		return leftNum + rightNum, nil

	case BinOpSubtract:
		leftNum, rightNum, err := numericOperands(leftVal, rightVal, "Subtraction")
		if err != nil {
			return nil, err
		}
		return leftNum - rightNum, nil

	case BinOpMultiply:
		leftNum, rightNum, err := numericOperands(leftVal, rightVal, "Multiplication")
		if err != nil {
			return nil, err
		}
		return leftNum * rightNum, nil

	case BinOpDivide:
		leftNum, rightNum, err := numericOperands(leftVal, rightVal, "Division")
		if err != nil {
			return nil, err
		}
		if rightNum == 0 {
			return nil, NewCellError(ErrorCodeDiv0, "Division by zero")
		}
		return leftNum / rightNum, nil

	case BinOpModulo:
		leftNum, rightNum, err := numericOperands(leftVal, rightVal, "Modulo")
		if err != nil {
			return nil, err
		}
		if rightNum == 0 {
			return nil, NewCellError(ErrorCodeDiv0, "Modulo by zero")
		}
		return leftNum % rightNum, nil

	case BinOpPower:
		leftNum, rightNum, err := numericOperands(leftVal, rightVal, "Power")
		if err != nil {
			return nil, err
		}
		return intPow(leftNum, rightNum)

	case BinOpEqual, BinOpNotEqual:
		cmp, ok := comparePrimitives(leftVal, rightVal)
		equal := ok && cmp == 0
		return boolToInt(equal == (n.Op == BinOpEqual)), nil

	case BinOpLess, BinOpLessEqual, BinOpGreater, BinOpGreaterEqual:
		cmp, ok := comparePrimitives(leftVal, rightVal)
		if !ok {
			return nil, NewCellError(ErrorCodeValue, "Cannot compare these values")
		}
		switch n.Op {
		case BinOpLess:
			return boolToInt(cmp < 0), nil
		case BinOpLessEqual:
			return boolToInt(cmp <= 0), nil
		case BinOpGreater:
			return boolToInt(cmp > 0), nil
		default:
			return boolToInt(cmp >= 0), nil
		}

	default:
		return nil, NewCellError(ErrorCodeValue, "Unknown operator")
	}
}

func (n *BinaryOpNode) GetPosition() NodePosition {
	return n.Position
}

func (n *BinaryOpNode) ToString() string {
	opStr := ""
	switch n.Op {
	case BinOpAdd:
		opStr = "+"
	case BinOpSubtract:
		opStr = "-"
	case BinOpMultiply:
		opStr = "*"
	case BinOpDivide:
		opStr = "/"
	case BinOpModulo:
		opStr = "%"
	case BinOpPower:
		opStr = "^"
	case BinOpEqual:
		opStr = "=="
	case BinOpNotEqual:
		opStr = "!="
	case BinOpLess:
		opStr = "<"
	case BinOpLessEqual:
		opStr = "<="
	case BinOpGreater:
		opStr = ">"
	case BinOpGreaterEqual:
		opStr = ">="
	}
	return fmt.Sprintf("(%s%s%s)", n.Left.ToString(), opStr, n.Right.ToString())
}

// UnaryOpNode represents a unary operation
type UnaryOpNode struct {
	Op       UnaryOp
	Operand  ASTNode
	Position NodePosition
}

func (n *UnaryOpNode) Eval(env *Environment) (Primitive, error) {
	val, err := n.Operand.Eval(env)
	if err != nil {
		return nil, err
	}
	if err := checkScalar(val); err != nil {
		return nil, err
	}

	num, ok := toNumber(val)
	switch n.Op {
	case UnaryOpPlus:
		if !ok {
			return nil, NewCellError(ErrorCodeValue, "Unary plus requires a numeric value")
		}
		return num, nil

	case UnaryOpMinus:
		if !ok {
			return nil, NewCellError(ErrorCodeValue, "Negation requires a numeric value")
		}
		return -num, nil

	default:
		return nil, NewCellError(ErrorCodeValue, "Unknown unary operator")
	}
}

func (n *UnaryOpNode) GetPosition() NodePosition {
	return n.Position
}

func (n *UnaryOpNode) ToString() string {
	opStr := "+"
	if n.Op == UnaryOpMinus {
		opStr = "-"
	}
	return fmt.Sprintf("%s%s", opStr, n.Operand.ToString())
}

// FunctionCallNode represents a function call
type FunctionCallNode struct {
	Name     string
	Args     []ASTNode
	Position NodePosition
}

func (n *FunctionCallNode) Eval(env *Environment) (Primitive, error) {
	// argument errors are passed to the function as values; functions
	// decide whether to propagate them
	args := make([]any, len(n.Args))
	for i, argNode := range n.Args {
		argVal, err := argNode.Eval(env)
		if err != nil {
			args[i] = asCellError(err)
		} else {
			args[i] = argVal
		}
	}

	functions := env.Functions
	if functions == nil {
		functions = DefaultFunctions()
	}
	result, err := functions.Call(n.Name, args...)
	if err != nil {
		return nil, asCellError(err)
	}
	return result, nil
}

func (n *FunctionCallNode) GetPosition() NodePosition {
	return n.Position
}

func (n *FunctionCallNode) ToString() string {
	args := make([]string, len(n.Args))
	for i, arg := range n.Args {
		args[i] = arg.ToString()
	}
	return fmt.Sprintf("%s(%s)", strings.ToUpper(n.Name), strings.Join(args, ","))
}

// NewParser creates a new parser over a token stream ending in TokenEOF
func NewParser(tokens []Token) *Parser {
	return &Parser{tokens: tokens}
}

// Parse parses the tokens into an AST
func (p *Parser) Parse() (ASTNode, error) {
	if len(p.tokens) == 0 || p.tokens[0].Type == TokenEOF {
		return nil, NewCellError(ErrorCodeValue, "no tokens to parse")
	}

	node, err := p.parseComparison()
	if err != nil {
		return nil, err
	}

	if p.pos < len(p.tokens) && p.tokens[p.pos].Type != TokenEOF {
		return nil, NewCellError(ErrorCodeValue, fmt.Sprintf("unexpected token after expression: %s", p.tokens[p.pos].Value))
	}

	return node, nil
}

// parseComparison handles comparison operators (lowest precedence)
func (p *Parser) parseComparison() (ASTNode, error) {
	left, err := p.parseAddition()
	if err != nil {
		return nil, err
	}

	for p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]
		if tok.Type != TokenBinaryOp {
			break
		}

		var op BinaryOp
		switch tok.Value {
		case "=", "==":
			op = BinOpEqual
		case "<>", "!=":
			op = BinOpNotEqual
		case "<":
			op = BinOpLess
		case "<=":
			op = BinOpLessEqual
		case ">":
			op = BinOpGreater
		case ">=":
			op = BinOpGreaterEqual
		default:
			return left, nil
		}

		p.pos++
		right, err := p.parseAddition()
		if err != nil {
			return nil, err
		}

		left = &BinaryOpNode{
			Op:       op,
			Left:     left,
			Right:    right,
			Position: NodePosition{Start: left.GetPosition().Start, End: right.GetPosition().End},
		}
	}

	return left, nil
}

// parseAddition handles addition and subtraction
func (p *Parser) parseAddition() (ASTNode, error) {
	left, err := p.parseMultiplication()
	if err != nil {
		return nil, err
	}

	for p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]
		if tok.Type != TokenBinaryOp {
			break
		}

		var op BinaryOp
		switch tok.Value {
		case "+":
			op = BinOpAdd
		case "-":
			op = BinOpSubtract
		default:
			return left, nil
		}

		p.pos++
		right, err := p.parseMultiplication()
		if err != nil {
			return nil, err
		}

		left = &BinaryOpNode{
			Op:       op,
			Left:     left,
			Right:    right,
			Position: NodePosition{Start: left.GetPosition().Start, End: right.GetPosition().End},
		}
	}

	return left, nil
}

// parseMultiplication handles multiplication, division, and modulo
func (p *Parser) parseMultiplication() (ASTNode, error) {
	left, err := p.parsePower()
	if err != nil {
		return nil, err
	}

	for p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]
		if tok.Type != TokenBinaryOp {
			break
		}

		var op BinaryOp
		switch tok.Value {
		case "*":
			op = BinOpMultiply
		case "/":
			op = BinOpDivide
		case "%":
			op = BinOpModulo
		default:
			return left, nil
		}

		p.pos++
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}

		left = &BinaryOpNode{
			Op:       op,
			Left:     left,
			Right:    right,
			Position: NodePosition{Start: left.GetPosition().Start, End: right.GetPosition().End},
		}
	}

	return left, nil
}

// parsePower handles exponentiation
func (p *Parser) parsePower() (ASTNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	// right-associative
	if p.pos < len(p.tokens) && p.tokens[p.pos].Type == TokenBinaryOp && p.tokens[p.pos].Value == "^" {
		p.pos++
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}

		return &BinaryOpNode{
			Op:       BinOpPower,
			Left:     left,
			Right:    right,
			Position: NodePosition{Start: left.GetPosition().Start, End: right.GetPosition().End},
		}, nil
	}

	return left, nil
}

// parseUnary handles unary operators
func (p *Parser) parseUnary() (ASTNode, error) {
	if p.pos >= len(p.tokens) {
		return nil, NewCellError(ErrorCodeValue, "unexpected end of expression")
	}

	tok := p.tokens[p.pos]
	if tok.Type != TokenUnaryPrefixOp {
		return p.parsePrimary()
	}

	op := UnaryOpPlus
	if tok.Value == "-" {
		op = UnaryOpMinus
	}

	p.pos++
	operand, err := p.parseUnary() // recurse for chained unary operators
	if err != nil {
		return nil, err
	}

	return &UnaryOpNode{
		Op:       op,
		Operand:  operand,
		Position: NodePosition{Start: tok.Pos, End: operand.GetPosition().End},
	}, nil
}

// parsePrimary handles primary expressions (literals, references,
// functions, parentheses)
func (p *Parser) parsePrimary() (ASTNode, error) {
	if p.pos >= len(p.tokens) {
		return nil, NewCellError(ErrorCodeValue, "unexpected end of expression")
	}

	tok := p.tokens[p.pos]

	switch tok.Type {
	case TokenNumber:
		p.pos++
		val, err := strconv.ParseInt(tok.Value, 10, 64)
		if err != nil {
			return nil, NewCellError(ErrorCodeNum, fmt.Sprintf("invalid number: %s", tok.Value))
		}
		return &NumberNode{
			Value:    val,
			Position: NodePosition{Start: tok.Pos, End: tok.Pos + len(tok.Value)},
		}, nil

	case TokenString:
		p.pos++
		return &StringNode{
			Value:    tok.Value,
			Position: NodePosition{Start: tok.Pos, End: tok.Pos + len(tok.Value) + 2}, // +2 for quotes
		}, nil

	case TokenCell, TokenRange, TokenIdentifier:
		p.pos++
		return &VariableNode{
			Name:     tok.Value,
			Kind:     tok.Type,
			Position: NodePosition{Start: tok.Pos, End: tok.Pos + len(tok.Value)},
		}, nil

	case TokenFunction:
		return p.parseFunctionCall()

	case TokenLeftParen:
		p.pos++
		node, err := p.parseComparison()
		if err != nil {
			return nil, err
		}

		if p.pos >= len(p.tokens) || p.tokens[p.pos].Type != TokenRightParen {
			return nil, NewCellError(ErrorCodeValue, "expected closing parenthesis")
		}
		p.pos++

		return node, nil

	default:
		return nil, NewCellError(ErrorCodeValue, fmt.Sprintf("unexpected token: %s", tok.Value))
	}
}

// parseFunctionCall parses a function call
func (p *Parser) parseFunctionCall() (ASTNode, error) {
	funcTok := p.tokens[p.pos]
	p.pos++

	if p.pos >= len(p.tokens) || p.tokens[p.pos].Type != TokenLeftParen {
		return nil, NewCellError(ErrorCodeValue, "expected '(' after function name")
	}
	p.pos++

	args := []ASTNode{}

	// check for empty argument list
	if p.pos < len(p.tokens) && p.tokens[p.pos].Type == TokenRightParen {
		p.pos++
		return &FunctionCallNode{
			Name:     funcTok.Value,
			Args:     args,
			Position: NodePosition{Start: funcTok.Pos, End: p.tokens[p.pos-1].Pos + 1},
		}, nil
	}

	for {
		arg, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)

		if p.pos >= len(p.tokens) {
			return nil, NewCellError(ErrorCodeValue, "unexpected end in function arguments")
		}
		if p.tokens[p.pos].Type == TokenRightParen {
			p.pos++
			break
		}
		if p.tokens[p.pos].Type != TokenComma {
			return nil, NewCellError(ErrorCodeValue, "expected ',' or ')' in function arguments")
		}
		p.pos++
	}

	return &FunctionCallNode{
		Name:     funcTok.Value,
		Args:     args,
		Position: NodePosition{Start: funcTok.Pos, End: p.tokens[p.pos-1].Pos + 1},
	}, nil
}

// checkScalar rejects ranges where an operator needs a single value
func checkScalar(p Primitive) error {
	switch p.(type) {
	case Vector, Matrix:
		return NewCellError(ErrorCodeValue, "range used where a single value is expected")
	}
	return nil
}

func numericOperands(left, right Primitive, what string) (int64, int64, error) {
	leftNum, leftOk := toNumber(left)
	rightNum, rightOk := toNumber(right)
	if !leftOk || !rightOk {
		return 0, 0, NewCellError(ErrorCodeValue, what+" requires numeric values")
	}
	return leftNum, rightNum, nil
}

// intPow raises base to a non-negative exponent by repeated squaring
func intPow(base, exp int64) (Primitive, error) {
	if exp < 0 {
		return nil, NewCellError(ErrorCodeNum, "negative exponent")
	}
	result := int64(1)
	for exp > 0 {
		if exp&1 == 1 {
			result *= base
		}
		base *= base
		exp >>= 1
	}
	return result, nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// comparePrimitives orders two scalars. ok is false when the values are of
// different kinds and cannot be ordered.
func comparePrimitives(left, right Primitive) (int, bool) {
	if left == nil {
		left = int64(0)
	}
	if right == nil {
		right = int64(0)
	}

	leftNum, leftIsNum := left.(int64)
	rightNum, rightIsNum := right.(int64)
	if leftIsNum && rightIsNum {
		switch {
		case leftNum < rightNum:
			return -1, true
		case leftNum > rightNum:
			return 1, true
		}
		return 0, true
	}

	leftStr, leftIsStr := left.(string)
	rightStr, rightIsStr := right.(string)
	if leftIsStr && rightIsStr {
		return strings.Compare(leftStr, rightStr), true
	}

	return 0, false
}
