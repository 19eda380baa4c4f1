package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the possible states of an exam.
type ExamStatus string

const (
	ExamStatusScheduled ExamStatus = "SCHEDULED"
	ExamStatusActive    ExamStatus = "ACTIVE"
	ExamStatusEnded     ExamStatus = "ENDED"
)

// Exam represents an exam entity. Status is the stored status; callers that
// need the wall-clock view use EffectiveStatus.
type Exam struct {
	ID              uuid.UUID  `json:"id"`
	Title           string     `json:"title"`
	Description     *string    `json:"description,omitempty"`
	DurationMinutes int        `json:"duration_minutes"`
	QuestionIDs     []string   `json:"question_ids"`
	StartTime       *time.Time `json:"start_time,omitempty"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	Status          ExamStatus `json:"status"`
	ResultsVisible  bool       `json:"results_visible"`
	OwnerID         string     `json:"owner_id"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// HasWindow reports whether both ends of the exam window are set.
func (e *Exam) HasWindow() bool {
	return e.StartTime != nil && e.EndTime != nil
}

// EffectiveStatus derives the status at now from the stored status and the
// window. ENDED is sticky.
func (e *Exam) EffectiveStatus(now time.Time) ExamStatus {
	if e.Status == ExamStatusEnded || !e.HasWindow() {
		return e.Status
	}
	if !now.Before(*e.EndTime) {
		return ExamStatusEnded
	}
	if e.Status == ExamStatusScheduled && !now.Before(*e.StartTime) {
		return ExamStatusActive
	}
	return e.Status
}

// AcceptingAttempts reports whether a new attempt may be started at now.
func (e *Exam) AcceptingAttempts(now time.Time) bool {
	if !e.HasWindow() {
		return false
	}
	if now.Before(*e.StartTime) || !now.Before(*e.EndTime) {
		return false
	}
	return e.EffectiveStatus(now) == ExamStatusActive
}

// AttemptDeadline is min(now + duration, end_time).
func (e *Exam) AttemptDeadline(now time.Time) time.Time {
	deadline := now.Add(time.Duration(e.DurationMinutes) * time.Minute)
	if e.EndTime != nil && e.EndTime.Before(deadline) {
		return *e.EndTime
	}
	return deadline
}

// ValidWindow checks the both-or-neither and end-after-start constraints.
func ValidWindow(start, end *time.Time) bool {
	if (start == nil) != (end == nil) {
		return false
	}
	return start == nil || end.After(*start)
}

// CreateExamRequest is the payload for creating a new exam.
type CreateExamRequest struct {
	Title           string     `json:"title" binding:"required,min=3,max=255"`
	Description     *string    `json:"description" binding:"omitempty,max=4000"`
	DurationMinutes int        `json:"duration_minutes" binding:"required,min=1,max=480"`
	QuestionIDs     []string   `json:"question_ids" binding:"required,min=1,dive,required,max=64"`
	StartTime       *time.Time `json:"start_time" binding:"omitempty"`
	EndTime         *time.Time `json:"end_time" binding:"omitempty"`
	ResultsVisible  bool       `json:"results_visible"`
}

// PublishExamRequest optionally replaces the window before publishing.
type PublishExamRequest struct {
	StartTime *time.Time `json:"start_time" binding:"omitempty"`
	EndTime   *time.Time `json:"end_time" binding:"omitempty"`
}

// AvailableExam is an exam listed to a student, with the status derived at
// request time.
type AvailableExam struct {
	Exam            Exam           `json:"exam"`
	EffectiveStatus ExamStatus     `json:"effective_status"`
	AttemptStatus   *AttemptStatus `json:"attempt_status,omitempty"`
}
