package server

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/vogtb/rsheet/packages/spreadsheet"
)

// errors returned by ParseCommand. invalid cell names wrap
// spreadsheet.ErrInvalidCell.
var (
	ErrEmptyCommand       = errors.New("empty command")
	ErrUnknownCommand     = errors.New("unknown command")
	ErrMissingCell        = errors.New("missing cell name")
	ErrMissingExpression  = errors.New("missing expression")
	ErrUnexpectedArgument = errors.New("unexpected argument")
)

// CommandKind identifies a client command
type CommandKind uint8

const (
	CommandGet CommandKind = iota + 1
	CommandSet
)

func (k CommandKind) String() string {
	switch k {
	case CommandGet:
		return "get"
	case CommandSet:
		return "set"
	default:
		return "unknown"
	}
}

// Command is a decoded client request. Cell is always canonical.
type Command struct {
	Kind       CommandKind
	Cell       string
	Expression string
}

// NewGetCommand builds a get for name
func NewGetCommand(name string) (Command, error) {
	cell, err := spreadsheet.CanonicalName(name)
	if err != nil {
		return Command{}, err
	}
	return Command{Kind: CommandGet, Cell: cell}, nil
}

// NewSetCommand builds a set of name to expression
func NewSetCommand(name, expression string) (Command, error) {
	cell, err := spreadsheet.CanonicalName(name)
	if err != nil {
		return Command{}, err
	}
	if strings.TrimSpace(expression) == "" {
		return Command{}, fmt.Errorf("%w for %s", ErrMissingExpression, cell)
	}
	return Command{Kind: CommandSet, Cell: cell, Expression: expression}, nil
}

// ParseCommand decodes "get <cell>" or "set <cell> <expression>". the
// keyword is case-insensitive and everything after the cell name of a set,
// inner whitespace included, is the expression.
func ParseCommand(line string) (Command, error) {
	keyword, rest := nextField(line)
	if keyword == "" {
		return Command{}, ErrEmptyCommand
	}

	switch strings.ToLower(keyword) {
	case "get":
		name, rest := nextField(rest)
		if name == "" {
			return Command{}, ErrMissingCell
		}
		if extra, _ := nextField(rest); extra != "" {
			return Command{}, fmt.Errorf("%w: %q", ErrUnexpectedArgument, extra)
		}
		return NewGetCommand(name)

	case "set":
		name, rest := nextField(rest)
		if name == "" {
			return Command{}, ErrMissingCell
		}
		return NewSetCommand(name, strings.TrimSpace(rest))

	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, keyword)
	}
}

// nextField splits off the first whitespace-delimited field of s
func nextField(s string) (field, rest string) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	end := strings.IndexFunc(s, unicode.IsSpace)
	if end < 0 {
		return s, ""
	}
	return s[:end], s[end:]
}
