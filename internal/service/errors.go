package service

import (
	"errors"
	"fmt"
)

// Domain errors. Handlers map them to transport responses with errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrNotEditable        = errors.New("attempt is not editable")
	ErrExpired            = errors.New("attempt deadline has passed")
	ErrAlreadySubmitted   = errors.New("attempt already submitted")
	ErrVersionConflict    = errors.New("grading version conflict")
	ErrInvalidScore       = errors.New("invalid score")
	ErrInvalidViolation   = errors.New("invalid violation report")
	ErrInvalidWindow      = errors.New("invalid exam window")
	ErrExamNotActive      = errors.New("exam is not active")
	ErrExamNotSchedulable = errors.New("exam is not scheduled")
	ErrNoQuestions        = errors.New("no selected question exists in the bank")
	ErrNotGradable        = errors.New("attempt is not submitted")
	ErrUnknownQuestion    = errors.New("question is not part of the exam")
	ErrSessionEnded       = errors.New("session has ended")
)

// Refinements of the base errors. errors.Is matches both the refinement
// and its base.
var (
	ErrExamUnavailable  = fmt.Errorf("exam is not accepting attempts: %w", ErrForbidden)
	ErrNotOwner         = fmt.Errorf("caller does not own the exam: %w", ErrForbidden)
	ErrNotEnrolled      = fmt.Errorf("student is not enrolled: %w", ErrForbidden)
	ErrNotAttemptOwner  = fmt.Errorf("attempt belongs to another student: %w", ErrForbidden)
	ErrReconnectExpired = fmt.Errorf("reconnect window has passed: %w", ErrExpired)
)
