package grading

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/stemsi/exstem-proctor/internal/model"
)

var (
	multipleChoiceTypes = map[string]struct{}{
		"mcq":             {},
		"multiple-choice": {},
		"multiple_choice": {},
	}
	trueFalseTypes = map[string]struct{}{
		"true-false": {},
		"true_false": {},
		"boolean":    {},
	}
)

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// IsMultipleChoice reports whether questionType is a multiple-choice type.
func IsMultipleChoice(questionType string) bool {
	_, ok := multipleChoiceTypes[normalize(questionType)]
	return ok
}

// IsTrueFalse reports whether questionType is a true/false type.
func IsTrueFalse(questionType string) bool {
	_, ok := trueFalseTypes[normalize(questionType)]
	return ok
}

// IsObjective reports whether questionType can be graded without a teacher.
// Everything else is subjective.
func IsObjective(questionType string) bool {
	return IsMultipleChoice(questionType) || IsTrueFalse(questionType)
}

// OptionTexts decodes an option list. Entries may be plain values or objects
// carrying a "text" field. Anything that is not a JSON array yields nil.
func OptionTexts(raw json.RawMessage) []string {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var obj struct {
			Text json.RawMessage `json:"text"`
		}
		if bytes.HasPrefix(bytes.TrimSpace(item), []byte("{")) && json.Unmarshal(item, &obj) == nil {
			out = append(out, scalarText(obj.Text))
			continue
		}
		out = append(out, scalarText(item))
	}
	return out
}

func scalarText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}

func letterFor(i int) string {
	return string(rune('a' + i))
}

// choiceKeys expands an answer into every form that names the same option:
// the raw text, the option a letter points at, and the letter of an option
// whose text matches.
func choiceKeys(value string, options []string) map[string]struct{} {
	keys := make(map[string]struct{}, 2)
	raw := normalize(value)
	if raw == "" {
		return keys
	}
	keys[raw] = struct{}{}

	if len(raw) == 1 && raw[0] >= 'a' && raw[0] <= 'z' {
		if idx := int(raw[0] - 'a'); idx < len(options) {
			if text := normalize(options[idx]); text != "" {
				keys[text] = struct{}{}
			}
		}
	}
	for i, opt := range options {
		if i >= 26 {
			break
		}
		if text := normalize(opt); text != "" && text == raw {
			keys[letterFor(i)] = struct{}{}
		}
	}
	return keys
}

// ScoreObjective returns the question's marks when the answer is correct and
// zero otherwise. Subjective questions and non-scalar answers score zero.
func ScoreObjective(q *model.ExamQuestion, answer *model.AnswerValue) int {
	if answer == nil || q.CorrectAnswer == nil {
		return 0
	}
	given, ok := answer.Scalar()
	if !ok {
		return 0
	}

	switch {
	case IsTrueFalse(q.QuestionType):
		if normalize(given) != "" && normalize(given) == normalize(*q.CorrectAnswer) {
			return q.Marks
		}
	case IsMultipleChoice(q.QuestionType):
		options := OptionTexts(q.Options)
		correct := choiceKeys(*q.CorrectAnswer, options)
		for k := range choiceKeys(given, options) {
			if _, hit := correct[k]; hit {
				return q.Marks
			}
		}
	}
	return 0
}
