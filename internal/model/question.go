package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// BankQuestion is a question as served by the shared question bank.
type BankQuestion struct {
	ID            string          `json:"id"`
	QuestionText  string          `json:"question_text"`
	QuestionType  string          `json:"question_type"`
	Options       json.RawMessage `json:"options,omitempty"`
	CorrectAnswer *string         `json:"correct_answer,omitempty"`
	Marks         *int            `json:"marks,omitempty"`
}

// ExamQuestion is the immutable per-exam copy of a bank question.
type ExamQuestion struct {
	ID               uuid.UUID       `json:"id"`
	ExamID           uuid.UUID       `json:"exam_id"`
	SourceQuestionID string          `json:"source_question_id"`
	Position         int             `json:"position"`
	QuestionText     string          `json:"question_text"`
	QuestionType     string          `json:"question_type"`
	Options          json.RawMessage `json:"options,omitempty"`
	CorrectAnswer    *string         `json:"correct_answer,omitempty"`
	Marks            int             `json:"marks"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Matches reports whether id names this question by snapshot id or bank id.
func (q *ExamQuestion) Matches(id string) bool {
	return q.ID.String() == id || q.SourceQuestionID == id
}

// SnapshotOf copies a bank question into an exam snapshot row. Unset or
// non-positive marks default to 1.
func SnapshotOf(examID uuid.UUID, position int, src BankQuestion) ExamQuestion {
	marks := 1
	if src.Marks != nil && *src.Marks > 0 {
		marks = *src.Marks
	}
	return ExamQuestion{
		ID:               uuid.New(),
		ExamID:           examID,
		SourceQuestionID: src.ID,
		Position:         position,
		QuestionText:     src.QuestionText,
		QuestionType:     src.QuestionType,
		Options:          src.Options,
		CorrectAnswer:    src.CorrectAnswer,
		Marks:            marks,
	}
}
