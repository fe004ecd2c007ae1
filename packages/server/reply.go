package server

import (
	"github.com/vogtb/rsheet/packages/spreadsheet"
)

const maskedError = "Error"

// Reply answers exactly one command: either a cell value or an error
type Reply struct {
	Cell  string
	Value spreadsheet.CellValue
	Err   error

	// Record is the stored cell behind a get, nil for unset cells and sets
	Record *spreadsheet.Cell

	// Masked hides error messages, both error replies and error values
	Masked bool
}

func ValueReply(cell string, value spreadsheet.CellValue) Reply {
	return Reply{Cell: cell, Value: value}
}

func ErrorReply(err error) Reply {
	return Reply{Err: err}
}

func (r Reply) IsError() bool {
	return r.Err != nil
}

// Render formats the reply for line-oriented transports:
//
//	A1 = 6
//	A1 = "text"
//	A1 = Error: Division by zero
//	A1 = None
//	Error: unknown command: "put"
func (r Reply) Render(mask bool) string {
	if r.Err != nil {
		if mask {
			return maskedError
		}
		return "Error: " + r.Err.Error()
	}
	if mask && r.Value.IsError() {
		return r.Cell + " = " + maskedError
	}
	return r.Cell + " = " + r.Value.String()
}

func (r Reply) String() string {
	return r.Render(r.Masked)
}

// ReplyJSON is the wire form used by the HTTP and WebSocket transports
type ReplyJSON struct {
	Cell  string `json:"cell,omitempty"`
	Kind  string `json:"kind,omitempty"`
	Value any    `json:"value"`
	Error string `json:"error,omitempty"`

	// Code is the error tag of an error value, e.g. "#DIV/0!"
	Code string `json:"code,omitempty"`
}

func (r Reply) JSON() ReplyJSON {
	if r.Err != nil {
		msg := r.Err.Error()
		if r.Masked {
			msg = maskedError
		}
		return ReplyJSON{Error: msg}
	}

	out := ReplyJSON{Cell: r.Cell, Kind: r.Value.Type.String()}
	switch r.Value.Type {
	case spreadsheet.CellValueTypeInt:
		out.Value = r.Value.Int
	case spreadsheet.CellValueTypeString:
		out.Value = r.Value.Str
	case spreadsheet.CellValueTypeError:
		out.Error = r.Value.Error.Error()
		out.Code = r.Value.Error.Tag()
		if r.Masked {
			out.Error = maskedError
			out.Code = ""
		}
	}
	return out
}
