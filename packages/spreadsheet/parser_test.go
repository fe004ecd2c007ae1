package spreadsheet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseFormula(formula string) bool {
	lexer := NewLexer(formula)
	tokens, lexErrors := lexer.Tokenize()

	if len(lexErrors) > 0 {
		return false
	}

	if len(tokens) == 0 {
		return false
	}

	_, err := NewParser(tokens).Parse()
	return err == nil
}

func TestParserBasicFormulas(t *testing.T) {
	validFormulas := []string{
		"1+2",
		"A1",
		"a1",
		"sum(A1_A10)",
		"SUM(B2_A1)",
		"sum(A1_A1)",
		"sum(A1_Z1000)",
		"sum (A1_A3)",
		"sum()",
		"if(A1 > 2, \"big\", \"small\")",
		"A1 + B1 * C1 - D1 / E1 % F1",
		"2 ^ 3 ^ 2",
		"-A1",
		"+-+1",
		"((1))",
		"1 == 1",
		"1 != 2",
		"1 <> 2",
		"1 = 1",
		"1 <= 2",
		"1 >= 2",
		`"Hello 世界"`,
		`"say ""hi"""`,
		`"say \"hi\""`,
		`""`,
		"sleep_then(10, A1)",
		"sum(A1, 2, B1_B3, sum(C1_C2))",
		"undefined_name + 1",
		"  A1  ",
	}

	for _, formula := range validFormulas {
		t.Run(formula, func(t *testing.T) {
			assert.True(t, parseFormula(formula), "expected %q to parse", formula)
		})
	}
}

func TestParserInvalidFormulas(t *testing.T) {
	invalidFormulas := []string{
		"",
		"   ",
		"1 +",
		"(1",
		"1)",
		"sum(1,",
		"sum(1,,2)",
		"1 2",
		"A1 A2",
		"12abc",
		`"unterminated`,
		"1 ! 2",
		"1 & 2",
		"1.5",
		"()",
		"*1",
	}

	for _, formula := range invalidFormulas {
		t.Run(formula, func(t *testing.T) {
			assert.False(t, parseFormula(formula), "expected %q to be rejected", formula)
		})
	}
}

func TestLexerTokens(t *testing.T) {
	t.Run("Classification", func(t *testing.T) {
		tokens, errs := NewLexer(`sum(a1_b2, c3) + x - "s"`).Tokenize()
		require.Empty(t, errs)

		types := make([]TokenType, 0, len(tokens))
		values := make([]string, 0, len(tokens))
		for _, tok := range tokens {
			types = append(types, tok.Type)
			values = append(values, tok.Value)
		}
		assert.Equal(t, []TokenType{
			TokenFunction, TokenLeftParen, TokenRange, TokenComma, TokenCell, TokenRightParen,
			TokenBinaryOp, TokenIdentifier, TokenBinaryOp, TokenString, TokenEOF,
		}, types)
		assert.Equal(t, []string{"sum", "(", "A1_B2", ",", "C3", ")", "+", "x", "-", "s", ""}, values)
	})

	t.Run("UnaryAndBinaryMinus", func(t *testing.T) {
		tokens, errs := NewLexer("-1 - -2").Tokenize()
		require.Empty(t, errs)
		assert.Equal(t, TokenUnaryPrefixOp, tokens[0].Type)
		assert.Equal(t, TokenBinaryOp, tokens[2].Type)
		assert.Equal(t, TokenUnaryPrefixOp, tokens[3].Type)
	})

	t.Run("Errors", func(t *testing.T) {
		_, errs := NewLexer("").Tokenize()
		assert.Equal(t, []string{"empty expression"}, errs)

		_, errs = NewLexer("(1 + 2").Tokenize()
		assert.Equal(t, []string{"unbalanced parentheses: missing closing parenthesis"}, errs)

		_, errs = NewLexer("1 + 2)").Tokenize()
		assert.Equal(t, []string{"unbalanced parentheses: too many closing parentheses"}, errs)

		_, errs = NewLexer("3 *").Tokenize()
		assert.Equal(t, []string{"unexpected end of expression"}, errs)
	})
}

func TestVariables(t *testing.T) {
	tests := []struct {
		source   string
		expected []string
	}{
		{"1 + 2", nil},
		{"A1", []string{"A1"}},
		{"a1 + A1 + b2", []string{"A1", "B2"}},
		{"sum(A1_B3) + C1", []string{"A1_B3", "C1"}},
		{"sum(B3_A1)", []string{"B3_A1"}},
		{"foo + A1", []string{"foo", "A1"}},
		{`"A1"`, nil},
		{"sum(3)", nil},
		{"1 +", nil},
		{"A1 +", nil},
		{"A1 + (", nil},
		{"A1 + )", nil},
		{"12abc + A1", nil},
	}

	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			assert.Equal(t, tt.expected, NewCellExpr(tt.source).Variables())
		})
	}
}

func TestEvaluate(t *testing.T) {
	ctx := Context{
		"A1":    ScalarArgument(IntValue(4)),
		"B1":    ScalarArgument(StringValue("hi")),
		"A1_A3": VectorArgument([]CellValue{IntValue(1), NoValue(), IntValue(3)}),
		"A1_B2": MatrixArgument([][]CellValue{
			{IntValue(1), IntValue(2)},
			{IntValue(3), StringValue("x")},
		}),
		"E1": ScalarArgument(ErrorValue(NewCellError(ErrorCodeDiv0, "Division by zero"))),
	}

	t.Run("Values", func(t *testing.T) {
		tests := []struct {
			source   string
			expected CellValue
		}{
			{"1 + 2 * 3", IntValue(7)},
			{"(1 + 2) * 3", IntValue(9)},
			{"7 / 2", IntValue(3)},
			{"-7 / 2", IntValue(-3)},
			{"7 % 3", IntValue(1)},
			{"2 ^ 10", IntValue(1024)},
			{"2 ^ 3 ^ 2", IntValue(512)},
			{"-2 ^ 2", IntValue(4)},
			{"2 ^ 0", IntValue(1)},
			{"A1 * A1", IntValue(16)},
			{"1 < 2", IntValue(1)},
			{"2 <= 1", IntValue(0)},
			{"A1 == 4", IntValue(1)},
			{"A1 <> 4", IntValue(0)},
			{`B1 == "hi"`, IntValue(1)},
			{`B1 != "hi"`, IntValue(0)},
			{"1 + 2 > 2", IntValue(1)},
			{`B1 + "!"`, StringValue("hi!")},
			{`"a" + "b" + "c"`, StringValue("abc")},
			{"sum(A1_A3)", IntValue(4)},
			{"sum(A1_B2)", IntValue(6)},
			{"sum(A1, 1, A1_A3)", IntValue(9)},
			{"product(A1_A3, 2)", IntValue(6)},
			{"min(A1_A3)", IntValue(1)},
			{"max(A1_A3, A1)", IntValue(4)},
			{"min()", IntValue(0)},
			{"avg(1, 2, 4)", IntValue(2)},
			{"average(A1_A3)", IntValue(2)},
			{"count(A1_B2)", IntValue(3)},
			{"count(A1_A3)", IntValue(2)},
			{"len(B1)", IntValue(2)},
			{`len("世界")`, IntValue(2)},
			{"abs(-5)", IntValue(5)},
			{`if(A1 > 3, "big", "small")`, StringValue("big")},
			{`if(0, E1, "safe")`, StringValue("safe")},
			{"if(1, 10)", IntValue(10)},
			{"sleep_then(0, A1 + 1)", IntValue(5)},
			{`"quoted ""word"""`, StringValue(`quoted "word"`)},
		}

		for _, tt := range tests {
			t.Run(tt.source, func(t *testing.T) {
				got, err := NewCellExpr(tt.source).Evaluate(ctx)
				require.NoError(t, err)
				assert.Equal(t, tt.expected, got)
			})
		}
	})

	t.Run("Errors", func(t *testing.T) {
		tests := []struct {
			source string
			code   ErrorCode
		}{
			{"1 / 0", ErrorCodeDiv0},
			{"1 % 0", ErrorCodeDiv0},
			{"avg()", ErrorCodeDiv0},
			{"2 ^ -1", ErrorCodeNum},
			{"Z9", ErrorCodeName},
			{"foo", ErrorCodeName},
			{"nosuch(1)", ErrorCodeName},
			{`B1 * 2`, ErrorCodeValue},
			{`B1 < 2`, ErrorCodeValue},
			{"A1_A3", ErrorCodeValue},
			{"A1_A3 + 1", ErrorCodeValue},
			{"E1", ErrorCodeDiv0},
			{"E1 + 1", ErrorCodeDiv0},
			{"sum(E1, 1)", ErrorCodeDiv0},
			{"1 +", ErrorCodeValue},
			{"sleep_then(-1, 1)", ErrorCodeValue},
		}

		for _, tt := range tests {
			t.Run(tt.source, func(t *testing.T) {
				_, err := NewCellExpr(tt.source).Evaluate(ctx)
				var cellErr *CellError
				require.ErrorAs(t, err, &cellErr)
				assert.Equal(t, tt.code, cellErr.ErrorCode, "error: %v", err)
			})
		}
	})
}

func TestCustomFunctions(t *testing.T) {
	functions := NewDefaultBuiltInFunctions()
	functions.Register("double", func(args ...any) (Primitive, error) {
		n, ok := toNumber(args[0])
		if !ok {
			return nil, NewCellError(ErrorCodeValue, "double expects a number")
		}
		return n * 2, nil
	})

	got, err := NewCellExpr("DOUBLE(21)").EvaluateWith(nil, functions)
	require.NoError(t, err)
	assert.Equal(t, IntValue(42), got)

	_, err = NewCellExpr("double(21)").Evaluate(nil)
	assert.Error(t, err, "default table must not see registered functions")
}

type recordingSleeper struct {
	slept []int64
}

func (r *recordingSleeper) Sleep(d time.Duration) {
	r.slept = append(r.slept, d.Milliseconds())
}

func TestSleepThen(t *testing.T) {
	sleeper := &recordingSleeper{}
	functions := NewBuiltInFunctions(sleeper)

	got, err := NewCellExpr(`sleep_then(250, "done")`).EvaluateWith(nil, functions)
	require.NoError(t, err)
	assert.Equal(t, StringValue("done"), got)
	assert.Equal(t, []int64{250}, sleeper.slept)
}
