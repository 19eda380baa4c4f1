package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stemsi/exstem-proctor/internal/model"
)

const sessionColumns = `id, exam_id, student_id, attempt_id, status, started_at, ended_at,
	last_heartbeat, reconnect_allowed_until, reconnect_attempts, resumed_at,
	auto_terminated, termination_reason, terminated_by, created_at`

func scanSession(row scanner) (*model.ExamSession, error) {
	s := &model.ExamSession{}
	err := row.Scan(&s.ID, &s.ExamID, &s.StudentID, &s.AttemptID, &s.Status, &s.StartedAt, &s.EndedAt,
		&s.LastHeartbeat, &s.ReconnectAllowedUntil, &s.ReconnectAttempts, &s.ResumedAt,
		&s.AutoTerminated, &s.TerminationReason, &s.TerminatedBy, &s.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return s, nil
}

// GetSession retrieves a session by its UUID.
func (q *queries) GetSession(ctx context.Context, id uuid.UUID) (*model.ExamSession, error) {
	return scanSession(q.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE id = $1`, id))
}

// LockSession retrieves a session and holds its row lock until the
// transaction ends. Threshold evaluation for one session is serialized on it.
func (q *queries) LockSession(ctx context.Context, id uuid.UUID) (*model.ExamSession, error) {
	return scanSession(q.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE id = $1 FOR UPDATE`, id))
}

// GetOpenSession returns the student's newest non-ended session for an exam.
func (q *queries) GetOpenSession(ctx context.Context, examID uuid.UUID, studentID string) (*model.ExamSession, error) {
	return scanSession(q.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions
		 WHERE exam_id = $1 AND student_id = $2 AND status <> $3
		 ORDER BY created_at DESC
		 LIMIT 1`, examID, studentID, model.SessionStatusEnded))
}

// GetOpenSessionForAttempt returns the newest non-ended session linked to an
// attempt.
func (q *queries) GetOpenSessionForAttempt(ctx context.Context, attemptID uuid.UUID) (*model.ExamSession, error) {
	return scanSession(q.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions
		 WHERE attempt_id = $1 AND status <> $2
		 ORDER BY created_at DESC
		 LIMIT 1`, attemptID, model.SessionStatusEnded))
}

// CreateSession inserts a new session. When the student already has an open
// session for the exam nothing is written and ErrDuplicate is returned; the
// transaction stays usable so the caller can re-read the winner.
func (q *queries) CreateSession(ctx context.Context, s *model.ExamSession) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	err := q.db.QueryRow(ctx,
		`INSERT INTO exam_sessions (id, exam_id, student_id, attempt_id, status, started_at,
		                            last_heartbeat, reconnect_allowed_until)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (exam_id, student_id) WHERE status <> 'ENDED' DO NOTHING
		 RETURNING created_at`,
		s.ID, s.ExamID, s.StudentID, s.AttemptID, s.Status, s.StartedAt,
		s.LastHeartbeat, s.ReconnectAllowedUntil,
	).Scan(&s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrDuplicate
	}
	return mapError(err)
}

// UpdateSession persists every mutable session field.
func (q *queries) UpdateSession(ctx context.Context, s *model.ExamSession) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE exam_sessions
		 SET attempt_id = $2, status = $3, started_at = $4, ended_at = $5, last_heartbeat = $6,
		     reconnect_allowed_until = $7, reconnect_attempts = $8, resumed_at = $9,
		     auto_terminated = $10, termination_reason = $11, terminated_by = $12
		 WHERE id = $1`,
		s.ID, s.AttemptID, s.Status, s.StartedAt, s.EndedAt, s.LastHeartbeat,
		s.ReconnectAllowedUntil, s.ReconnectAttempts, s.ResumedAt,
		s.AutoTerminated, s.TerminationReason, s.TerminatedBy)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
