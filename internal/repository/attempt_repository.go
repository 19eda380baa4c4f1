package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stemsi/exstem-proctor/internal/model"
)

const attemptColumns = `id, exam_id, student_id, status, start_time, auto_submit_time,
	submitted_at, submit_reason, score, auto_score_total, max_score_total, evaluated_at,
	grading_version, violation_count, is_flagged, flag_reason, flagged_at, created_at, updated_at`

func scanAttempt(row scanner) (*model.ExamAttempt, error) {
	a := &model.ExamAttempt{}
	var reason *string
	err := row.Scan(&a.ID, &a.ExamID, &a.StudentID, &a.Status, &a.StartTime, &a.AutoSubmitTime,
		&a.SubmittedAt, &reason, &a.Score, &a.AutoScoreTotal, &a.MaxScoreTotal, &a.EvaluatedAt,
		&a.GradingVersion, &a.ViolationCount, &a.IsFlagged, &a.FlagReason, &a.FlaggedAt,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	if reason != nil {
		a.SubmitReason = model.SubmitReason(*reason)
	}
	return a, nil
}

func submitReasonArg(r model.SubmitReason) *string {
	if r == "" {
		return nil
	}
	s := string(r)
	return &s
}

// GetAttempt retrieves an attempt by its UUID.
func (q *queries) GetAttempt(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error) {
	return scanAttempt(q.db.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM exam_attempts WHERE id = $1`, id))
}

// LockAttempt retrieves an attempt and holds its row lock until the
// transaction ends.
func (q *queries) LockAttempt(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error) {
	return scanAttempt(q.db.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM exam_attempts WHERE id = $1 FOR UPDATE`, id))
}

// GetAttemptByStudent retrieves the single attempt a student has for an exam.
func (q *queries) GetAttemptByStudent(ctx context.Context, examID uuid.UUID, studentID string) (*model.ExamAttempt, error) {
	return scanAttempt(q.db.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM exam_attempts WHERE exam_id = $1 AND student_id = $2`,
		examID, studentID))
}

// CreateAttempt inserts a new attempt. ErrDuplicate means a concurrent start
// for the same (exam, student) won; the caller re-reads.
func (q *queries) CreateAttempt(ctx context.Context, a *model.ExamAttempt) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := q.db.QueryRow(ctx,
		`INSERT INTO exam_attempts (id, exam_id, student_id, status, start_time, auto_submit_time)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (exam_id, student_id) DO NOTHING
		 RETURNING created_at, updated_at`,
		a.ID, a.ExamID, a.StudentID, a.Status, a.StartTime, a.AutoSubmitTime,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrDuplicate
	}
	return mapError(err)
}

// UpdateAttempt persists every mutable attempt field.
func (q *queries) UpdateAttempt(ctx context.Context, a *model.ExamAttempt) error {
	err := q.db.QueryRow(ctx,
		`UPDATE exam_attempts
		 SET status = $2, submitted_at = $3, submit_reason = $4, score = $5,
		     auto_score_total = $6, max_score_total = $7, evaluated_at = $8,
		     violation_count = $9, is_flagged = $10, flag_reason = $11, flagged_at = $12,
		     updated_at = NOW()
		 WHERE id = $1
		 RETURNING updated_at`,
		a.ID, a.Status, a.SubmittedAt, submitReasonArg(a.SubmitReason), a.Score,
		a.AutoScoreTotal, a.MaxScoreTotal, a.EvaluatedAt,
		a.ViolationCount, a.IsFlagged, a.FlagReason, a.FlaggedAt,
	).Scan(&a.UpdatedAt)
	return mapError(err)
}

// UpdateAttemptIfVersion persists the grading fields and bumps
// grading_version, but only if the stored version still equals expected.
// Zero affected rows is reported as ErrVersionMismatch.
func (q *queries) UpdateAttemptIfVersion(ctx context.Context, a *model.ExamAttempt, expected int) error {
	err := q.db.QueryRow(ctx,
		`UPDATE exam_attempts
		 SET status = $3, score = $4, auto_score_total = $5, max_score_total = $6,
		     evaluated_at = $7, grading_version = grading_version + 1, updated_at = NOW()
		 WHERE id = $1 AND grading_version = $2
		 RETURNING grading_version, updated_at`,
		a.ID, expected, a.Status, a.Score, a.AutoScoreTotal, a.MaxScoreTotal, a.EvaluatedAt,
	).Scan(&a.GradingVersion, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrVersionMismatch
	}
	return mapError(err)
}

// ListExpiredAttempts returns up to limit in-progress attempts whose
// deadline is at or before now, ordered by (auto_submit_time, id). When after
// is set only attempts past that key are returned.
func (q *queries) ListExpiredAttempts(ctx context.Context, now time.Time, after *model.DueAttempt, limit int) ([]model.DueAttempt, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if after == nil {
		rows, err = q.db.Query(ctx,
			`SELECT id, auto_submit_time FROM exam_attempts
			 WHERE status = $1 AND auto_submit_time <= $2
			 ORDER BY auto_submit_time, id
			 LIMIT $3`, model.AttemptStatusInProgress, now, limit)
	} else {
		rows, err = q.db.Query(ctx,
			`SELECT id, auto_submit_time FROM exam_attempts
			 WHERE status = $1 AND auto_submit_time <= $2
			   AND (auto_submit_time, id) > ($3, $4)
			 ORDER BY auto_submit_time, id
			 LIMIT $5`, model.AttemptStatusInProgress, now, after.AutoSubmitTime, after.ID, limit)
	}
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.DueAttempt, error) {
		var d model.DueAttempt
		err := row.Scan(&d.ID, &d.AutoSubmitTime)
		return d, err
	})
}

// ListAttemptIDsByStatus returns the ids of an exam's attempts in status.
func (q *queries) ListAttemptIDsByStatus(ctx context.Context, examID uuid.UUID, status model.AttemptStatus) ([]uuid.UUID, error) {
	return q.collectIDs(ctx,
		`SELECT id FROM exam_attempts WHERE exam_id = $1 AND status = $2 ORDER BY created_at`,
		examID, status)
}

func (q *queries) collectIDs(ctx context.Context, sql string, args ...any) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}
