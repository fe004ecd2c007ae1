package spreadsheet

// TokenType represents different types of tokens in expressions
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenNumber
	TokenString
	TokenCell
	TokenRange
	TokenFunction
	TokenUnaryPrefixOp
	TokenBinaryOp
	TokenComma
	TokenLeftParen
	TokenRightParen
	TokenIdentifier
	TokenWhitespace
	TokenError
)

// BinaryOp represents binary operators in AST nodes
type BinaryOp int

const (
	BinOpAdd BinaryOp = iota
	BinOpSubtract
	BinOpMultiply
	BinOpDivide
	BinOpModulo
	BinOpPower
	BinOpEqual
	BinOpNotEqual
	BinOpLess
	BinOpLessEqual
	BinOpGreater
	BinOpGreaterEqual
)

// UnaryOp represents unary operators in AST nodes
type UnaryOp int

const (
	UnaryOpPlus UnaryOp = iota
	UnaryOpMinus
)

// character classification constants. slightly easier to read.
const (
	charNull       = 0
	charTab        = '\t'
	charNewline    = '\n'
	charReturn     = '\r'
	charSpace      = ' '
	charQuote      = '"'
	charPercent    = '%'
	charLParen     = '('
	charRParen     = ')'
	charAsterisk   = '*'
	charPlus       = '+'
	charComma      = ','
	charMinus      = '-'
	charSlash      = '/'
	charLess       = '<'
	charEqual      = '='
	charGreater    = '>'
	charCaret      = '^'
	charUnderscore = '_'
	charExclaim    = '!'
)

// TokenState represents the lexer state for validation
type TokenState int

const (
	StateStart TokenState = iota
	StateAfterValue
	StateAfterOperator
	StateAfterLeftParen
	StateAfterRightParen
	StateAfterComma
	StateAfterFunction
)

// operand tokens are valid wherever a value may begin
var operandTokens = map[TokenType]bool{
	TokenUnaryPrefixOp: true,
	TokenNumber:        true,
	TokenString:        true,
	TokenCell:          true,
	TokenRange:         true,
	TokenFunction:      true,
	TokenIdentifier:    true,
	TokenLeftParen:     true,
}

// tokenTransitions maps the current state to valid next token types
var tokenTransitions = map[TokenState]map[TokenType]bool{
	StateStart:         operandTokens,
	StateAfterOperator: operandTokens,
	StateAfterComma:    operandTokens,
	StateAfterValue: { // after number, string, cell, range, identifier
		TokenBinaryOp:   true,
		TokenRightParen: true,
		TokenComma:      true,
		TokenEOF:        true,
	},
	StateAfterLeftParen: {
		TokenUnaryPrefixOp: true,
		TokenNumber:        true,
		TokenString:        true,
		TokenCell:          true,
		TokenRange:         true,
		TokenFunction:      true,
		TokenIdentifier:    true,
		TokenLeftParen:     true, // nested
		TokenRightParen:    true, // empty parens for arg-less calls
	},
	StateAfterRightParen: {
		TokenBinaryOp:   true,
		TokenRightParen: true,
		TokenComma:      true,
		TokenEOF:        true,
	},
	StateAfterFunction: {
		TokenLeftParen: true,
	},
}

// Token represents a lexical token with position information
type Token struct {
	Type  TokenType
	Value string
	Pos   int // rune position in input
}

// Lexer tokenizes cell expressions
type Lexer struct {
	runes      []rune
	pos        int
	state      TokenState
	parenDepth int
	tokens     []Token
}

func NewLexer(input string) *Lexer {
	return &Lexer{
		runes: []rune(input),
		state: StateStart,
	}
}

// Tokenize tokenizes the entire input. on failure it returns the tokens
// scanned so far along with the error message.
func (l *Lexer) Tokenize() ([]Token, []string) {
	for {
		tok := l.nextToken()
		if tok.Type == TokenError {
			return l.tokens, []string{tok.Value}
		}
		if tok.Type == TokenEOF {
			break
		}
		if !l.validateTransition(tok.Type) {
			return l.tokens, []string{"unexpected token: " + tok.Value}
		}
		l.tokens = append(l.tokens, tok)
		l.updateState(tok.Type)
	}

	if len(l.tokens) == 0 {
		return nil, []string{"empty expression"}
	}
	if !l.validateTransition(TokenEOF) {
		return l.tokens, []string{"unexpected end of expression"}
	}
	if l.parenDepth > 0 {
		return l.tokens, []string{"unbalanced parentheses: missing closing parenthesis"}
	}

	l.tokens = append(l.tokens, Token{Type: TokenEOF, Pos: l.pos})
	return l.tokens, nil
}

// validateTransition checks if the token type is valid in current state
func (l *Lexer) validateTransition(tokenType TokenType) bool {
	validTokens, exists := tokenTransitions[l.state]
	if !exists {
		return false
	}
	return validTokens[tokenType]
}

// updateState updates the lexer state based on the token type
func (l *Lexer) updateState(tokenType TokenType) {
	switch tokenType {
	case TokenNumber, TokenString, TokenCell, TokenRange, TokenIdentifier:
		l.state = StateAfterValue
	case TokenUnaryPrefixOp, TokenBinaryOp:
		l.state = StateAfterOperator
	case TokenLeftParen:
		l.state = StateAfterLeftParen
	case TokenRightParen:
		l.state = StateAfterRightParen
	case TokenComma:
		l.state = StateAfterComma
	case TokenFunction:
		l.state = StateAfterFunction
	}
}

// nextToken returns the next token from the input
func (l *Lexer) nextToken() Token {
	l.skipWhitespace()

	if l.pos >= len(l.runes) {
		return Token{Type: TokenEOF, Pos: l.pos}
	}

	startPos := l.pos
	ch := l.current()

	if ch == charQuote {
		return l.scanString()
	}

	if isDigit(ch) {
		return l.scanNumber()
	}

	switch ch {
	case charLParen:
		l.pos++
		l.parenDepth++
		return Token{Type: TokenLeftParen, Value: "(", Pos: startPos}
	case charRParen:
		l.pos++
		l.parenDepth--
		if l.parenDepth < 0 {
			return Token{Type: TokenError, Value: "unbalanced parentheses: too many closing parentheses", Pos: startPos}
		}
		return Token{Type: TokenRightParen, Value: ")", Pos: startPos}
	case charComma:
		l.pos++
		return Token{Type: TokenComma, Value: ",", Pos: startPos}
	case charPlus, charMinus:
		return l.scanUnaryPrefixOrBinaryOp()
	case charAsterisk, charSlash, charPercent, charCaret, charLess, charGreater, charEqual, charExclaim:
		return l.scanBinaryOp()
	}

	if isAlpha(ch) || ch == charUnderscore {
		return l.scanIdentifierOrCell()
	}

	l.pos++
	return Token{Type: TokenError, Value: "unexpected character: " + string(ch), Pos: startPos}
}

// helper methods for character navigation and classification

func (l *Lexer) substring(start, end int) string {
	if start < 0 || end > len(l.runes) || start > end {
		return ""
	}
	return string(l.runes[start:end])
}

func (l *Lexer) current() rune {
	if l.pos >= len(l.runes) {
		return charNull
	}
	return l.runes[l.pos]
}

func (l *Lexer) peek(offset int) rune {
	pos := l.pos + offset
	if pos >= len(l.runes) || pos < 0 {
		return charNull
	}
	return l.runes[pos]
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.runes) {
		switch l.current() {
		case charSpace, charTab, charNewline, charReturn:
			l.pos++
		default:
			return
		}
	}
}

func isDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}

func isAlpha(ch rune) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isAlphaNumeric(ch rune) bool {
	return isAlpha(ch) || isDigit(ch)
}

// scanNumber scans an integer literal
func (l *Lexer) scanNumber() Token {
	startPos := l.pos
	for l.pos < len(l.runes) && isDigit(l.current()) {
		l.pos++
	}
	// 12abc is neither a number nor an identifier
	if isAlpha(l.current()) || l.current() == charUnderscore {
		return Token{Type: TokenError, Value: "malformed number: " + l.substring(startPos, l.pos+1), Pos: startPos}
	}
	return Token{Type: TokenNumber, Value: l.substring(startPos, l.pos), Pos: startPos}
}

// scanString scans a string literal. a doubled quote is an escaped quote
// and \" is accepted as well.
func (l *Lexer) scanString() Token {
	startPos := l.pos
	l.pos++ // consume opening quote

	var result []rune
	for l.pos < len(l.runes) {
		ch := l.current()
		switch {
		case ch == '\\' && l.peek(1) == charQuote:
			result = append(result, charQuote)
			l.pos += 2
		case ch == charQuote && l.peek(1) == charQuote:
			result = append(result, charQuote)
			l.pos += 2
		case ch == charQuote:
			l.pos++
			return Token{Type: TokenString, Value: string(result), Pos: startPos}
		default:
			result = append(result, ch)
			l.pos++
		}
	}

	return Token{Type: TokenError, Value: "unclosed string literal", Pos: startPos}
}

// scanIdentifierOrCell scans identifiers, functions, cells and ranges.
// cells and ranges are normalized to upper case; function names are kept
// as written and matched case-insensitively when called.
func (l *Lexer) scanIdentifierOrCell() Token {
	startPos := l.pos
	for l.pos < len(l.runes) && (isAlphaNumeric(l.current()) || l.current() == charUnderscore) {
		l.pos++
	}
	value := l.substring(startPos, l.pos)

	rest := l.pos
	for rest < len(l.runes) && (l.runes[rest] == charSpace || l.runes[rest] == charTab) {
		rest++
	}
	if rest < len(l.runes) && l.runes[rest] == charLParen {
		return Token{Type: TokenFunction, Value: value, Pos: startPos}
	}

	if isCell(value) {
		return Token{Type: TokenCell, Value: toUpper(value), Pos: startPos}
	}
	if isRange(value) {
		return Token{Type: TokenRange, Value: toUpper(value), Pos: startPos}
	}
	return Token{Type: TokenIdentifier, Value: value, Pos: startPos}
}

// isCell checks if a string is a valid cell reference (e.g., A1, B12)
func isCell(s string) bool {
	_, err := ParseCellID(s)
	return err == nil
}

// isRange checks if a string is a range token (e.g., A1_B12)
func isRange(s string) bool {
	_, err := ParseRange(s)
	return err == nil
}

// toUpper converts ascii letters to uppercase
func toUpper(s string) string {
	result := []byte(s)
	for i, ch := range result {
		if ch >= 'a' && ch <= 'z' {
			result[i] = ch - 32
		}
	}
	return string(result)
}

// scanUnaryPrefixOrBinaryOp scans + and - which can be either unary
// prefix or binary
func (l *Lexer) scanUnaryPrefixOrBinaryOp() Token {
	startPos := l.pos
	ch := l.current()
	l.pos++

	if l.isUnaryContext() {
		return Token{Type: TokenUnaryPrefixOp, Value: string(ch), Pos: startPos}
	}
	return Token{Type: TokenBinaryOp, Value: string(ch), Pos: startPos}
}

// scanBinaryOp scans binary operators
func (l *Lexer) scanBinaryOp() Token {
	startPos := l.pos
	ch := l.current()
	l.pos++

	switch ch {
	case charLess:
		switch l.current() {
		case charEqual:
			l.pos++
			return Token{Type: TokenBinaryOp, Value: "<=", Pos: startPos}
		case charGreater:
			l.pos++
			return Token{Type: TokenBinaryOp, Value: "<>", Pos: startPos}
		}
		return Token{Type: TokenBinaryOp, Value: "<", Pos: startPos}
	case charGreater:
		if l.current() == charEqual {
			l.pos++
			return Token{Type: TokenBinaryOp, Value: ">=", Pos: startPos}
		}
		return Token{Type: TokenBinaryOp, Value: ">", Pos: startPos}
	case charEqual:
		if l.current() == charEqual {
			l.pos++
			return Token{Type: TokenBinaryOp, Value: "==", Pos: startPos}
		}
		return Token{Type: TokenBinaryOp, Value: "=", Pos: startPos}
	case charExclaim:
		if l.current() == charEqual {
			l.pos++
			return Token{Type: TokenBinaryOp, Value: "!=", Pos: startPos}
		}
		return Token{Type: TokenError, Value: "unexpected '!'", Pos: startPos}
	case charAsterisk, charSlash, charPercent, charCaret:
		return Token{Type: TokenBinaryOp, Value: string(ch), Pos: startPos}
	}

	return Token{Type: TokenError, Value: "unknown operator", Pos: startPos}
}

// isUnaryContext checks if the current context allows for unary operators
func (l *Lexer) isUnaryContext() bool {
	switch l.state {
	case StateStart, StateAfterOperator, StateAfterLeftParen, StateAfterComma:
		return true
	default:
		return false
	}
}
