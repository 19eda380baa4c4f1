package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnswerValue_Decode(t *testing.T) {
	var req SaveAnswerRequest
	require.NoError(t, json.Unmarshal([]byte(`{"question_id": "q1", "answer": "b"}`), &req))
	assert.Equal(t, TextAnswer("b"), req.Answer)

	require.NoError(t, json.Unmarshal([]byte(`{"question_id": "q1", "answer": {"blocks": [ 1, 2 ]}}`), &req))
	assert.Equal(t, AnswerKindDocument, req.Answer.Kind)
	assert.JSONEq(t, `{"blocks":[1,2]}`, string(req.Answer.Doc))

	require.NoError(t, json.Unmarshal([]byte(`{"question_id": "q1", "answer": null}`), &req))
	assert.True(t, req.Answer.IsZero())
}

func TestAnswerValue_Scalar(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{`"2x"`, "2x", true},
		{`true`, "true", true},
		{`-1.5`, "-1.5", true},
		{`{"a": 1}`, "", false},
		{`[1]`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			v, err := DocumentAnswer(json.RawMessage(tt.raw))
			require.NoError(t, err)
			got, ok := v.Scalar()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
