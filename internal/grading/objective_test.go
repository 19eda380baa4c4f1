package grading

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/stemsi/exstem-proctor/internal/model"
)

func strPtr(s string) *string { return &s }

func question(qType, correct string, options string, marks int) *model.ExamQuestion {
	q := &model.ExamQuestion{
		ID:            uuid.New(),
		QuestionType:  qType,
		CorrectAnswer: strPtr(correct),
		Marks:         marks,
	}
	if options != "" {
		q.Options = json.RawMessage(options)
	}
	return q
}

func text(s string) *model.AnswerValue {
	v := model.TextAnswer(s)
	return &v
}

func doc(raw string) *model.AnswerValue {
	v, err := model.DocumentAnswer(json.RawMessage(raw))
	if err != nil {
		panic(err)
	}
	return &v
}

func TestIsObjective(t *testing.T) {
	for _, qt := range []string{"mcq", "MCQ", " multiple-choice ", "multiple_choice", "true-false", "TRUE_FALSE", "boolean"} {
		assert.True(t, IsObjective(qt), qt)
	}
	for _, qt := range []string{"essay", "short_answer", "", "multiple choice"} {
		assert.False(t, IsObjective(qt), qt)
	}
}

func TestOptionTexts(t *testing.T) {
	assert.Equal(t, []string{"x", "2x", "3"}, OptionTexts(json.RawMessage(`["x", {"text": "2x"}, 3]`)))
	assert.Nil(t, OptionTexts(json.RawMessage(`{"a": 1}`)))
	assert.Nil(t, OptionTexts(nil))
}

func TestScoreObjective_MultipleChoice(t *testing.T) {
	const opts = `["x", "2x", {"text": "3x"}]`

	tests := []struct {
		name    string
		correct string
		answer  *model.AnswerValue
		want    int
	}{
		{name: "text answer, text key", correct: "2x", answer: text("2x"), want: 2},
		{name: "letter answer, text key", correct: "2x", answer: text("B"), want: 2},
		{name: "text answer, letter key", correct: "b", answer: text(" 2X "), want: 2},
		{name: "letter answer, letter key", correct: "B", answer: text("b"), want: 2},
		{name: "object option by letter", correct: "3x", answer: text("c"), want: 2},
		{name: "wrong text", correct: "2x", answer: text("x"), want: 0},
		{name: "wrong letter", correct: "b", answer: text("a"), want: 0},
		{name: "letter out of range", correct: "2x", answer: text("z"), want: 0},
		{name: "blank answer", correct: "2x", answer: text("   "), want: 0},
		{name: "no answer", correct: "2x", answer: nil, want: 0},
		{name: "structured answer", correct: "2x", answer: doc(`{"selected": "2x"}`), want: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q := question("mcq", tc.correct, opts, 2)
			assert.Equal(t, tc.want, ScoreObjective(q, tc.answer))
		})
	}
}

func TestScoreObjective_TrueFalse(t *testing.T) {
	tests := []struct {
		name    string
		correct string
		answer  *model.AnswerValue
		want    int
	}{
		{name: "case insensitive", correct: "True", answer: text("TRUE"), want: 1},
		{name: "json boolean", correct: "false", answer: doc(`false`), want: 1},
		{name: "mismatch", correct: "true", answer: text("false"), want: 0},
		{name: "empty", correct: "true", answer: text(""), want: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q := question("true_false", tc.correct, "", 1)
			assert.Equal(t, tc.want, ScoreObjective(q, tc.answer))
		})
	}
}

func TestScoreObjective_SubjectiveScoresZero(t *testing.T) {
	q := question("essay", "anything", "", 10)
	assert.Equal(t, 0, ScoreObjective(q, text("anything")))
}
