package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// InsertViolation appends a violation event.
func (q *queries) InsertViolation(ctx context.Context, v *model.Violation) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	_, err := q.db.Exec(ctx,
		`INSERT INTO violations (id, session_id, attempt_id, student_id, type, severity, source, count, details, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		v.ID, v.SessionID, v.AttemptID, v.StudentID, v.Type, v.Severity, v.Source, v.Count, v.Details, v.Timestamp)
	return mapError(err)
}

// CountViolations sums the counts of a session's violations per severity.
func (q *queries) CountViolations(ctx context.Context, sessionID uuid.UUID) (model.SeverityCounts, error) {
	var counts model.SeverityCounts
	rows, err := q.db.Query(ctx,
		`SELECT severity, COALESCE(SUM(count), 0)
		 FROM violations WHERE session_id = $1
		 GROUP BY severity`, sessionID,
	)
	if err != nil {
		return counts, err
	}
	defer rows.Close()

	for rows.Next() {
		var sev model.Severity
		var n int
		if err := rows.Scan(&sev, &n); err != nil {
			return counts, err
		}
		counts.Add(sev, n)
	}
	return counts, rows.Err()
}

// ListViolations returns a session's violations in occurrence order.
func (q *queries) ListViolations(ctx context.Context, sessionID uuid.UUID) ([]model.Violation, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, session_id, attempt_id, student_id, type, severity, source, count, details, occurred_at
		 FROM violations WHERE session_id = $1
		 ORDER BY occurred_at, id`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Violation
	for rows.Next() {
		var v model.Violation
		if err := rows.Scan(&v.ID, &v.SessionID, &v.AttemptID, &v.StudentID, &v.Type, &v.Severity,
			&v.Source, &v.Count, &v.Details, &v.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
