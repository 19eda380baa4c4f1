package model

import (
	"time"

	"github.com/google/uuid"
)

// Severity grades a proctoring violation.
type Severity string

const (
	SeverityMinor  Severity = "minor"
	SeverityMajor  Severity = "major"
	SeveritySevere Severity = "severe"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityMinor, SeverityMajor, SeveritySevere:
		return true
	}
	return false
}

// ViolationSource identifies who observed a violation.
type ViolationSource string

const (
	SourceClient  ViolationSource = "client"
	SourceAI      ViolationSource = "ai"
	SourceProctor ViolationSource = "proctor"
)

// Violation is an immutable proctoring event. At least one of SessionID and
// AttemptID is set.
type Violation struct {
	ID        uuid.UUID       `json:"id"`
	SessionID *uuid.UUID      `json:"session_id,omitempty"`
	AttemptID *uuid.UUID      `json:"attempt_id,omitempty"`
	StudentID string          `json:"student_id"`
	Type      string          `json:"type"`
	Severity  Severity        `json:"severity"`
	Source    ViolationSource `json:"source"`
	Count     int             `json:"count"`
	Details   *string         `json:"details,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// SeverityCounts holds cumulative violation counts for one session.
type SeverityCounts struct {
	Minor  int `json:"minor"`
	Major  int `json:"major"`
	Severe int `json:"severe"`
}

// Add accumulates count under severity.
func (c *SeverityCounts) Add(s Severity, count int) {
	switch s {
	case SeverityMinor:
		c.Minor += count
	case SeverityMajor:
		c.Major += count
	case SeveritySevere:
		c.Severe += count
	}
}

// ViolationReport is an inbound violation event. Exactly one of SessionID
// and AttemptID must be set.
type ViolationReport struct {
	SessionID *uuid.UUID      `json:"session_id"`
	AttemptID *uuid.UUID      `json:"attempt_id"`
	StudentID string          `json:"student_id" binding:"omitempty,max=64"`
	Type      string          `json:"type" binding:"required,max=64"`
	Severity  Severity        `json:"severity" binding:"required,severity"`
	Source    ViolationSource `json:"source" binding:"omitempty,violation_source"`
	Count     int             `json:"count" binding:"omitempty,min=1,max=1000"`
	Timestamp *time.Time      `json:"timestamp"`
	Reference *string         `json:"reference" binding:"omitempty,max=1024"`
}

// ClientViolationRequest is a violation reported by the student's own client
// against the session in the path.
type ClientViolationRequest struct {
	Type      string     `json:"type" binding:"required,max=64"`
	Severity  Severity   `json:"severity" binding:"required,severity"`
	Count     int        `json:"count" binding:"omitempty,min=1,max=1000"`
	Timestamp *time.Time `json:"timestamp"`
	Reference *string    `json:"reference" binding:"omitempty,max=1024"`
}

// Report converts the request into a report against sessionID.
func (r *ClientViolationRequest) Report(sessionID uuid.UUID) ViolationReport {
	return ViolationReport{
		SessionID: &sessionID,
		Type:      r.Type,
		Severity:  r.Severity,
		Source:    SourceClient,
		Count:     r.Count,
		Timestamp: r.Timestamp,
		Reference: r.Reference,
	}
}

// IngestViolationsRequest is a batch pushed by the AI or proctor pipeline.
type IngestViolationsRequest struct {
	Reports []ViolationReport `json:"reports" binding:"required,min=1,max=500,dive"`
}
