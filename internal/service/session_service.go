package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/cache"
	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/monitor"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// IngestActor is the identity the violation ingest worker records under.
var IngestActor = model.Actor{UserID: "violation-ingest", Role: model.RoleProctor}

// ViolationResult is the outcome of recording one violation.
type ViolationResult struct {
	Violation  *model.Violation     `json:"violation"`
	Session    *model.ExamSession   `json:"session,omitempty"`
	Counts     model.SeverityCounts `json:"counts"`
	Terminated bool                 `json:"terminated"`
	Reason     string               `json:"reason,omitempty"`
}

// SessionService owns live proctoring sessions and is the single place
// violation thresholds are evaluated. Attempt flags are derived from its
// decisions.
type SessionService struct {
	store           repository.Store
	rules           *cache.RulesCache
	attempts        *AttemptService
	clock           clock.Clock
	notifier        monitor.Notifier
	reconnectWindow time.Duration
	log             zerolog.Logger
}

// NewSessionService creates a new SessionService.
func NewSessionService(
	store repository.Store,
	rules *cache.RulesCache,
	attempts *AttemptService,
	clk clock.Clock,
	notifier monitor.Notifier,
	reconnectWindow time.Duration,
	log zerolog.Logger,
) *SessionService {
	return &SessionService{
		store:           store,
		rules:           rules,
		attempts:        attempts,
		clock:           clk,
		notifier:        notifier,
		reconnectWindow: reconnectWindow,
		log:             log.With().Str("component", "session_service").Logger(),
	}
}

// ─── Lifecycle ───────────────────────────────────────────────────────

// Start opens a session for the student, or returns the open one. The
// student's in-progress attempt is linked when there is one.
func (s *SessionService) Start(ctx context.Context, examID uuid.UUID, student model.Actor) (*model.ExamSession, error) {
	now := s.clock.Now()
	var (
		sess    *model.ExamSession
		created bool
	)
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		exam, err := q.GetExam(ctx, examID)
		if err != nil {
			return notFound(err)
		}
		if exam.EffectiveStatus(now) != model.ExamStatusActive {
			return ErrExamNotActive
		}
		if err := checkEnrollment(ctx, q, examID, student.UserID); err != nil {
			return err
		}

		sess, err = q.GetOpenSession(ctx, examID, student.UserID)
		switch {
		case err == nil:
			if !sess.CanResume(now) {
				return ErrReconnectExpired
			}
			if err := linkAttempt(ctx, q, sess); err != nil {
				return err
			}
			sess.Touch(now, s.reconnectWindow)
			return q.UpdateSession(ctx, sess)
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}

		sess = &model.ExamSession{
			ExamID:    examID,
			StudentID: student.UserID,
			Status:    model.SessionStatusCreated,
			StartedAt: &now,
		}
		if err := linkAttempt(ctx, q, sess); err != nil {
			return err
		}
		sess.Touch(now, s.reconnectWindow)
		if err := q.CreateSession(ctx, sess); err != nil {
			if !errors.Is(err, repository.ErrDuplicate) {
				return err
			}
			sess, err = q.GetOpenSession(ctx, examID, student.UserID)
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if created {
		s.log.Info().
			Str("session_id", sess.ID.String()).
			Str("exam_id", examID.String()).
			Str("student_id", student.UserID).
			Msg("Session started")
		s.notify(ctx, monitor.EventSessionStarted, sess, nil)
	}
	return sess, nil
}

// Heartbeat records client contact and slides the reconnect window. A
// lapsed window stays lapsed: only contact inside it counts.
func (s *SessionService) Heartbeat(ctx context.Context, sessionID uuid.UUID, student model.Actor) (*model.ExamSession, error) {
	now := s.clock.Now()
	var sess *model.ExamSession
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		var err error
		sess, err = s.lockOwnSession(ctx, q, sessionID, student)
		if err != nil {
			return err
		}
		if sess.Status == model.SessionStatusEnded {
			return ErrSessionEnded
		}
		if !sess.CanResume(now) {
			return ErrReconnectExpired
		}
		if err := linkAttempt(ctx, q, sess); err != nil {
			return err
		}
		sess.Touch(now, s.reconnectWindow)
		return q.UpdateSession(ctx, sess)
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Resume reconnects a dropped client within the reconnect window.
func (s *SessionService) Resume(ctx context.Context, sessionID uuid.UUID, student model.Actor) (*model.ExamSession, error) {
	now := s.clock.Now()
	var sess *model.ExamSession
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		var err error
		sess, err = s.lockOwnSession(ctx, q, sessionID, student)
		if err != nil {
			return err
		}
		if sess.Status == model.SessionStatusEnded {
			return ErrSessionEnded
		}
		if !sess.CanResume(now) {
			return ErrReconnectExpired
		}
		sess.ReconnectAttempts++
		sess.ResumedAt = &now
		sess.Touch(now, s.reconnectWindow)
		return q.UpdateSession(ctx, sess)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("session_id", sessionID.String()).
		Int("reconnect_attempts", sess.ReconnectAttempts).
		Msg("Session resumed")
	return sess, nil
}

// End closes a session. The student, the exam owner or an admin may end it.
// Ending a session never submits the attempt.
func (s *SessionService) End(ctx context.Context, sessionID uuid.UUID, actor model.Actor) (*model.ExamSession, error) {
	now := s.clock.Now()
	var (
		sess  *model.ExamSession
		ended bool
	)
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		var err error
		sess, err = q.LockSession(ctx, sessionID)
		if err != nil {
			return notFound(err)
		}
		if sess.StudentID != actor.UserID {
			exam, err := q.GetExam(ctx, sess.ExamID)
			if err != nil {
				return notFound(err)
			}
			if !actor.Owns(exam.OwnerID) {
				return ErrForbidden
			}
		}
		if sess.Status == model.SessionStatusEnded {
			return nil
		}
		sess.End(now, actor.UserID, nil, false)
		ended = true
		return q.UpdateSession(ctx, sess)
	})
	if err != nil {
		return nil, err
	}

	if ended {
		s.log.Info().
			Str("session_id", sessionID.String()).
			Str("ended_by", actor.UserID).
			Msg("Session ended")
		s.notify(ctx, monitor.EventSessionEnded, sess, nil)
	}
	return sess, nil
}

// ─── Violations ──────────────────────────────────────────────────────

// RecordViolation stores a violation and applies the exam's thresholds to
// the session it belongs to. A breach ends the session and flags the linked
// attempt; the attempt itself stays open. Exams without rules record only.
func (s *SessionService) RecordViolation(ctx context.Context, actor model.Actor, report model.ViolationReport) (*ViolationResult, error) {
	if (report.SessionID == nil) == (report.AttemptID == nil) || !report.Severity.Valid() || report.Type == "" {
		return nil, ErrInvalidViolation
	}
	now := s.clock.Now()

	target, err := s.resolveTarget(ctx, actor, report)
	if err != nil {
		return nil, err
	}

	rules, err := s.rules.Get(ctx, target.examID)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	v := &model.Violation{
		AttemptID: target.attemptID,
		StudentID: target.studentID,
		Type:      report.Type,
		Severity:  report.Severity,
		Source:    sourceFor(actor, report.Source),
		Count:     max(report.Count, 1),
		Details:   report.Reference,
		Timestamp: now,
	}
	if report.Timestamp != nil {
		v.Timestamp = report.Timestamp.UTC()
	}

	res := &ViolationResult{Violation: v}
	err = s.store.InTx(ctx, func(q repository.Queries) error {
		var sess *model.ExamSession
		if target.sessionID != nil {
			var err error
			sess, err = q.LockSession(ctx, *target.sessionID)
			if err != nil {
				return notFound(err)
			}
			v.SessionID = &sess.ID
		}
		if err := q.InsertViolation(ctx, v); err != nil {
			return err
		}

		if sess != nil {
			counts, err := q.CountViolations(ctx, sess.ID)
			if err != nil {
				return err
			}
			res.Counts = counts
			if sess.Status != model.SessionStatusEnded && rules != nil {
				if reason, breach := rules.TerminationReason(counts); breach {
					sess.End(now, "system", &reason, true)
					if err := q.UpdateSession(ctx, sess); err != nil {
						return err
					}
					res.Terminated, res.Reason = true, reason
				}
			}
			res.Session = sess
		}

		if v.AttemptID != nil {
			return s.attempts.noteViolation(ctx, q, *v.AttemptID, v.Count, res.Reason, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ViolationsRecorded.WithLabelValues(string(v.Severity), string(v.Source)).Add(float64(v.Count))
	if rules == nil {
		s.log.Debug().Str("exam_id", target.examID.String()).Msg("No rules configured, violation recorded only")
	}
	s.notifyViolation(ctx, target.examID, v, res)

	if res.Terminated {
		metrics.SessionsTerminated.WithLabelValues(res.Reason).Inc()
		s.log.Warn().
			Str("session_id", res.Session.ID.String()).
			Str("student_id", v.StudentID).
			Str("reason", res.Reason).
			Int("severe", res.Counts.Severe).
			Int("major", res.Counts.Major).
			Msg("Session auto-terminated")
		s.notify(ctx, monitor.EventSessionTerminated, res.Session, map[string]any{"reason": res.Reason})
	}
	return res, nil
}

// ListViolations returns a session's violations to the exam owner.
func (s *SessionService) ListViolations(ctx context.Context, sessionID uuid.UUID, actor model.Actor) ([]model.Violation, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, notFound(err)
	}
	exam, err := s.store.GetExam(ctx, sess.ExamID)
	if err != nil {
		return nil, notFound(err)
	}
	if !actor.Owns(exam.OwnerID) {
		return nil, ErrNotOwner
	}
	return s.store.ListViolations(ctx, sessionID)
}

type violationTarget struct {
	examID    uuid.UUID
	studentID string
	sessionID *uuid.UUID
	attemptID *uuid.UUID
}

// resolveTarget finds the session and attempt a report applies to. An
// attempt-only report is routed to the student's open session for that
// attempt when there is one.
func (s *SessionService) resolveTarget(ctx context.Context, actor model.Actor, report model.ViolationReport) (*violationTarget, error) {
	var t violationTarget
	if report.SessionID != nil {
		sess, err := s.store.GetSession(ctx, *report.SessionID)
		if err != nil {
			return nil, notFound(err)
		}
		t = violationTarget{examID: sess.ExamID, studentID: sess.StudentID, sessionID: &sess.ID, attemptID: sess.AttemptID}
	} else {
		a, err := s.store.GetAttempt(ctx, *report.AttemptID)
		if err != nil {
			return nil, notFound(err)
		}
		t = violationTarget{examID: a.ExamID, studentID: a.StudentID, attemptID: &a.ID}
		sess, err := s.store.GetOpenSessionForAttempt(ctx, a.ID)
		switch {
		case err == nil:
			t.sessionID = &sess.ID
		case !errors.Is(err, repository.ErrNotFound):
			return nil, err
		}
	}

	if report.StudentID != "" && report.StudentID != t.studentID {
		return nil, ErrInvalidViolation
	}

	switch actor.Role {
	case model.RoleStudent:
		if actor.UserID != t.studentID {
			return nil, ErrForbidden
		}
	case model.RoleTeacher:
		exam, err := s.store.GetExam(ctx, t.examID)
		if err != nil {
			return nil, notFound(err)
		}
		if !actor.Owns(exam.OwnerID) {
			return nil, ErrNotOwner
		}
	}
	return &t, nil
}

// sourceFor fixes the source for student reports and fills a default for
// staff reports.
func sourceFor(actor model.Actor, requested model.ViolationSource) model.ViolationSource {
	switch {
	case actor.Role == model.RoleStudent:
		return model.SourceClient
	case requested != "":
		return requested
	case actor == IngestActor:
		return model.SourceAI
	default:
		return model.SourceProctor
	}
}

// ─── Helpers ─────────────────────────────────────────────────────────

func (s *SessionService) lockOwnSession(ctx context.Context, q repository.Queries, sessionID uuid.UUID, student model.Actor) (*model.ExamSession, error) {
	sess, err := q.LockSession(ctx, sessionID)
	if err != nil {
		return nil, notFound(err)
	}
	if sess.StudentID != student.UserID {
		return nil, ErrForbidden
	}
	return sess, nil
}

// linkAttempt attaches the student's in-progress attempt to a session that
// has none yet.
func linkAttempt(ctx context.Context, q repository.Queries, sess *model.ExamSession) error {
	if sess.AttemptID != nil {
		return nil
	}
	a, err := q.GetAttemptByStudent(ctx, sess.ExamID, sess.StudentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	if a.Status == model.AttemptStatusInProgress {
		sess.AttemptID = &a.ID
	}
	return nil
}

func (s *SessionService) notify(ctx context.Context, typ string, sess *model.ExamSession, data map[string]any) {
	id := sess.ID
	s.notifier.Publish(ctx, monitor.Event{
		Type:      typ,
		ExamID:    sess.ExamID,
		StudentID: sess.StudentID,
		AttemptID: sess.AttemptID,
		SessionID: &id,
		Data:      data,
		At:        s.clock.Now(),
	})
}

func (s *SessionService) notifyViolation(ctx context.Context, examID uuid.UUID, v *model.Violation, res *ViolationResult) {
	s.notifier.Publish(ctx, monitor.Event{
		Type:      monitor.EventViolationRecorded,
		ExamID:    examID,
		StudentID: v.StudentID,
		AttemptID: v.AttemptID,
		SessionID: v.SessionID,
		Data: map[string]any{
			"type":     v.Type,
			"severity": v.Severity,
			"source":   v.Source,
			"count":    v.Count,
			"counts":   res.Counts,
		},
		At: s.clock.Now(),
	})
}
