package repository

import (
	"context"

	"github.com/google/uuid"
)

// CountEnrollments returns how many students are enrolled in an exam.
func (q *queries) CountEnrollments(ctx context.Context, examID uuid.UUID) (int, error) {
	var n int
	err := q.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM exam_enrollments WHERE exam_id = $1`, examID,
	).Scan(&n)
	return n, err
}

// IsEnrolled reports whether a student is enrolled in an exam.
func (q *queries) IsEnrolled(ctx context.Context, examID uuid.UUID, studentID string) (bool, error) {
	var ok bool
	err := q.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM exam_enrollments WHERE exam_id = $1 AND student_id = $2)`,
		examID, studentID,
	).Scan(&ok)
	return ok, err
}

// AddEnrollments enrolls students, skipping ones already enrolled, and
// returns how many rows were new.
func (q *queries) AddEnrollments(ctx context.Context, examID uuid.UUID, studentIDs []string) (int, error) {
	if len(studentIDs) == 0 {
		return 0, nil
	}
	tag, err := q.db.Exec(ctx,
		`INSERT INTO exam_enrollments (exam_id, student_id)
		 SELECT $1, s FROM UNNEST($2::text[]) AS s
		 ON CONFLICT (exam_id, student_id) DO NOTHING`,
		examID, studentIDs)
	if err != nil {
		return 0, mapError(err)
	}
	return int(tag.RowsAffected()), nil
}
