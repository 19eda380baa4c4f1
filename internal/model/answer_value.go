package model

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// AnswerKind tags the shape of a student's answer payload.
type AnswerKind string

const (
	AnswerKindText     AnswerKind = "text"
	AnswerKindDocument AnswerKind = "document"
)

// AnswerValue is a student's raw answer: either plain text or a structured
// JSON document. It marshals to a JSON string for text and to the document
// itself otherwise.
type AnswerValue struct {
	Kind AnswerKind
	Text string
	Doc  json.RawMessage
}

// TextAnswer wraps a plain text answer.
func TextAnswer(s string) AnswerValue {
	return AnswerValue{Kind: AnswerKindText, Text: s}
}

// DocumentAnswer wraps a structured answer. A JSON string document collapses
// to a text answer.
func DocumentAnswer(raw json.RawMessage) (AnswerValue, error) {
	var v AnswerValue
	if err := v.UnmarshalJSON(raw); err != nil {
		return AnswerValue{}, err
	}
	return v, nil
}

// IsZero reports whether no answer was given.
func (v AnswerValue) IsZero() bool {
	return v.Kind == ""
}

// Scalar returns the comparable text form of the answer. Documents qualify
// only when they hold a JSON boolean or number.
func (v AnswerValue) Scalar() (string, bool) {
	switch v.Kind {
	case AnswerKindText:
		return v.Text, true
	case AnswerKindDocument:
		trimmed := bytes.TrimSpace(v.Doc)
		switch {
		case bytes.Equal(trimmed, []byte("true")), bytes.Equal(trimmed, []byte("false")):
			return string(trimmed), true
		case len(trimmed) > 0 && (trimmed[0] == '-' || (trimmed[0] >= '0' && trimmed[0] <= '9')):
			if _, err := strconv.ParseFloat(string(trimmed), 64); err == nil {
				return string(trimmed), true
			}
		}
	}
	return "", false
}

func (v AnswerValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case AnswerKindText:
		return json.Marshal(v.Text)
	case AnswerKindDocument:
		return v.Doc, nil
	default:
		return []byte("null"), nil
	}
}

func (v *AnswerValue) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*v = AnswerValue{}
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*v = TextAnswer(s)
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return err
	}
	*v = AnswerValue{Kind: AnswerKindDocument, Doc: json.RawMessage(buf.Bytes())}
	return nil
}

// String is used in logs.
func (v AnswerValue) String() string {
	if v.Kind == AnswerKindText {
		return v.Text
	}
	return strings.TrimSpace(string(v.Doc))
}
