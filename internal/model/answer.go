package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamAnswer is one answer row per (attempt, snapshot question).
type ExamAnswer struct {
	ID           uuid.UUID    `json:"id"`
	AttemptID    uuid.UUID    `json:"attempt_id"`
	QuestionID   uuid.UUID    `json:"question_id"`
	Answer       *AnswerValue `json:"answer"`
	AutoScore    *int         `json:"auto_score"`
	ManualScore  *int         `json:"manual_score"`
	FinalScore   *int         `json:"final_score"`
	MaxScore     int          `json:"max_score"`
	IsOverridden bool         `json:"is_overridden"`
	GradedAt     *time.Time   `json:"graded_at,omitempty"`
	LastSavedAt  *time.Time   `json:"last_saved_at,omitempty"`
}

// ReviewQuestion is the per-question payload a grader sees.
type ReviewQuestion struct {
	QuestionID       uuid.UUID    `json:"question_id"`
	SourceQuestionID string       `json:"source_question_id"`
	QuestionText     string       `json:"question_text"`
	QuestionType     string       `json:"question_type"`
	Options          []string     `json:"options"`
	StudentAnswer    *AnswerValue `json:"student_answer"`
	CorrectAnswer    *string      `json:"correct_answer"`
	IsObjective      bool         `json:"is_objective"`
	MaxMarks         int          `json:"max_marks"`
	AutoScore        *int         `json:"auto_score"`
	ManualScore      *int         `json:"manual_score"`
	FinalScore       *int         `json:"final_score"`
	IsOverridden     bool         `json:"is_overridden"`
}

// AttemptReview is the full grading view of one attempt.
type AttemptReview struct {
	ExamID         uuid.UUID        `json:"exam_id"`
	ExamTitle      string           `json:"exam_title"`
	AttemptID      uuid.UUID        `json:"attempt_id"`
	StudentID      string           `json:"student_id"`
	Status         AttemptStatus    `json:"status"`
	Score          int              `json:"score"`
	AutoScoreTotal int              `json:"auto_score_total"`
	MaxScoreTotal  int              `json:"max_score_total"`
	GradingVersion int              `json:"grading_version"`
	ReadOnly       bool             `json:"read_only"`
	SubmittedAt    *time.Time       `json:"submitted_at,omitempty"`
	EvaluatedAt    *time.Time       `json:"evaluated_at,omitempty"`
	Questions      []ReviewQuestion `json:"questions"`
}
