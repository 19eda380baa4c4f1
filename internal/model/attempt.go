package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates exam attempt states.
type AttemptStatus string

const (
	AttemptStatusInProgress         AttemptStatus = "IN_PROGRESS"
	AttemptStatusSubmitted          AttemptStatus = "SUBMITTED"
	AttemptStatusPartiallyEvaluated AttemptStatus = "PARTIALLY_EVALUATED"
	AttemptStatusEvaluated          AttemptStatus = "EVALUATED"
)

// Closed reports whether the attempt has left IN_PROGRESS.
func (s AttemptStatus) Closed() bool {
	return s != AttemptStatusInProgress
}

// SubmitReason records which path closed an attempt.
type SubmitReason string

const (
	SubmitReasonStudent    SubmitReason = "student"
	SubmitReasonAutoSubmit SubmitReason = "auto_submit"
	SubmitReasonExamEnded  SubmitReason = "exam_ended_by_teacher"
)

// ExamAttempt is one student's timed instance of an exam.
type ExamAttempt struct {
	ID             uuid.UUID     `json:"id"`
	ExamID         uuid.UUID     `json:"exam_id"`
	StudentID      string        `json:"student_id"`
	Status         AttemptStatus `json:"status"`
	StartTime      time.Time     `json:"start_time"`
	AutoSubmitTime time.Time     `json:"auto_submit_time"`
	SubmittedAt    *time.Time    `json:"submitted_at,omitempty"`
	SubmitReason   SubmitReason  `json:"submit_reason,omitempty"`
	Score          int           `json:"score"`
	AutoScoreTotal int           `json:"auto_score_total"`
	MaxScoreTotal  int           `json:"max_score_total"`
	EvaluatedAt    *time.Time    `json:"evaluated_at,omitempty"`
	GradingVersion int           `json:"grading_version"`
	ViolationCount int           `json:"violation_count"`
	IsFlagged      bool          `json:"is_flagged"`
	FlagReason     *string       `json:"flag_reason,omitempty"`
	FlaggedAt      *time.Time    `json:"flagged_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// DueAttempt is an in-progress attempt whose deadline has passed. The sweep
// pages through them ordered by (AutoSubmitTime, ID).
type DueAttempt struct {
	ID             uuid.UUID
	AutoSubmitTime time.Time
}

// Remaining returns the whole seconds left before the deadline, never negative.
func (a *ExamAttempt) Remaining(now time.Time) int {
	left := a.AutoSubmitTime.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(left / time.Second)
}

// SaveAnswerRequest is the payload for saving a single answer.
type SaveAnswerRequest struct {
	QuestionID string      `json:"question_id" binding:"required,max=64"`
	Answer     AnswerValue `json:"answer"`
}

// GradePatch sets the score of one question during manual grading.
type GradePatch struct {
	QuestionID    string `json:"question_id" binding:"required"`
	OverrideScore *int   `json:"override_score"`
	ManualScore   *int   `json:"manual_score"`
}

// ApplyGradesRequest is the payload for a manual grading patch.
type ApplyGradesRequest struct {
	ExpectedGradingVersion *int         `json:"expected_grading_version" binding:"required,min=0"`
	QuestionScores         []GradePatch `json:"question_scores" binding:"required,min=1,dive"`
}

// StudentQuestion is a snapshot question as shown to the student taking the
// exam. It never carries the correct answer.
type StudentQuestion struct {
	ID           uuid.UUID `json:"id"`
	Position     int       `json:"position"`
	QuestionText string    `json:"question_text"`
	QuestionType string    `json:"question_type"`
	Options      []string  `json:"options"`
	Marks        int       `json:"marks"`
}

// SavedAnswer is a student's stored answer to one question.
type SavedAnswer struct {
	QuestionID  uuid.UUID    `json:"question_id"`
	Answer      *AnswerValue `json:"answer"`
	LastSavedAt *time.Time   `json:"last_saved_at,omitempty"`
}

// AttemptView is what a student gets back when starting or resuming.
type AttemptView struct {
	Attempt          *ExamAttempt      `json:"attempt"`
	RemainingSeconds int               `json:"remaining_seconds"`
	Questions        []StudentQuestion `json:"questions"`
	Answers          []SavedAnswer     `json:"answers"`
}
