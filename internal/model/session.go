package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates live-connectivity session states.
type SessionStatus string

const (
	SessionStatusCreated SessionStatus = "CREATED"
	SessionStatusLive    SessionStatus = "LIVE"
	SessionStatusEnded   SessionStatus = "ENDED"
)

// Termination reasons recorded on auto-terminated sessions.
const (
	TerminationSevereViolation = "severe_violation"
	TerminationMajorViolation  = "major_violation"
)

// ExamSession tracks a student's live connection to an exam. It is
// lifecycled independently of the attempt it may link to.
type ExamSession struct {
	ID                    uuid.UUID     `json:"id"`
	ExamID                uuid.UUID     `json:"exam_id"`
	StudentID             string        `json:"student_id"`
	AttemptID             *uuid.UUID    `json:"attempt_id,omitempty"`
	Status                SessionStatus `json:"status"`
	StartedAt             *time.Time    `json:"started_at,omitempty"`
	EndedAt               *time.Time    `json:"ended_at,omitempty"`
	LastHeartbeat         *time.Time    `json:"last_heartbeat,omitempty"`
	ReconnectAllowedUntil *time.Time    `json:"reconnect_allowed_until,omitempty"`
	ReconnectAttempts     int           `json:"reconnect_attempts"`
	ResumedAt             *time.Time    `json:"resumed_at,omitempty"`
	AutoTerminated        bool          `json:"auto_terminated"`
	TerminationReason     *string       `json:"termination_reason,omitempty"`
	TerminatedBy          *string       `json:"terminated_by,omitempty"`
	CreatedAt             time.Time     `json:"created_at"`
}

// End closes the session. Calling it on an ended session is a no-op.
func (s *ExamSession) End(now time.Time, by string, reason *string, auto bool) {
	if s.Status == SessionStatusEnded {
		return
	}
	s.Status = SessionStatusEnded
	s.EndedAt = &now
	s.AutoTerminated = auto
	s.TerminatedBy = &by
	if reason != nil {
		s.TerminationReason = reason
	}
}

// Touch records contact from the client and slides the reconnect deadline.
func (s *ExamSession) Touch(now time.Time, window time.Duration) {
	until := now.Add(window)
	s.LastHeartbeat = &now
	s.ReconnectAllowedUntil = &until
	if s.Status == SessionStatusCreated {
		s.Status = SessionStatusLive
	}
}

// CanResume reports whether a reconnect is allowed at now.
func (s *ExamSession) CanResume(now time.Time) bool {
	if s.Status == SessionStatusEnded || s.ReconnectAllowedUntil == nil {
		return false
	}
	return !now.After(*s.ReconnectAllowedUntil)
}
