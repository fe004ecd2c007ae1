package server

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vogtb/rsheet/packages/spreadsheet"
)

func TestReplyRender(t *testing.T) {
	divZero := spreadsheet.ErrorValue(spreadsheet.NewCellError(spreadsheet.ErrorCodeDiv0, "Division by zero"))

	tests := []struct {
		name   string
		reply  Reply
		plain  string
		masked string
	}{
		{"Int", ValueReply("A1", spreadsheet.IntValue(6)), "A1 = 6", "A1 = 6"},
		{"String", ValueReply("B2", spreadsheet.StringValue("hi")), `B2 = "hi"`, `B2 = "hi"`},
		{"None", ValueReply("C3", spreadsheet.NoValue()), "C3 = None", "C3 = None"},
		{"ErrorValue", ValueReply("D4", divZero), "D4 = Error: Division by zero", "D4 = Error"},
		{"ErrorReply", ErrorReply(errors.New("boom")), "Error: boom", "Error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.plain, tt.reply.Render(false))
			assert.Equal(t, tt.masked, tt.reply.Render(true))

			tt.reply.Masked = true
			assert.Equal(t, tt.masked, tt.reply.String())
		})
	}
}

func TestReplyJSON(t *testing.T) {
	encode := func(r Reply) string {
		data, err := json.Marshal(r.JSON())
		require.NoError(t, err)
		return string(data)
	}

	assert.JSONEq(t, `{"cell":"A1","kind":"int","value":6}`,
		encode(ValueReply("A1", spreadsheet.IntValue(6))))
	assert.JSONEq(t, `{"cell":"A1","kind":"string","value":"x"}`,
		encode(ValueReply("A1", spreadsheet.StringValue("x"))))
	assert.JSONEq(t, `{"cell":"A1","kind":"none","value":null}`,
		encode(ValueReply("A1", spreadsheet.NoValue())))
	assert.JSONEq(t, `{"value":null,"error":"boom"}`,
		encode(ErrorReply(errors.New("boom"))))

	errValue := ValueReply("A1", spreadsheet.ErrorValue(spreadsheet.NewCellError(spreadsheet.ErrorCodeName, "")))
	assert.JSONEq(t, `{"cell":"A1","kind":"error","value":null,"error":"#NAME?","code":"#NAME?"}`, encode(errValue))

	errValue.Masked = true
	assert.JSONEq(t, `{"cell":"A1","kind":"error","value":null,"error":"Error"}`, encode(errValue))
}
