package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// scanner is satisfied by pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

const examColumns = `id, title, description, duration_minutes, question_ids,
	start_time, end_time, status, results_visible, owner_id, created_at, updated_at`

func scanExam(row scanner) (*model.Exam, error) {
	e := &model.Exam{}
	err := row.Scan(&e.ID, &e.Title, &e.Description, &e.DurationMinutes, &e.QuestionIDs,
		&e.StartTime, &e.EndTime, &e.Status, &e.ResultsVisible, &e.OwnerID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return e, nil
}

// GetExam retrieves an exam by its UUID.
func (q *queries) GetExam(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	return scanExam(q.db.QueryRow(ctx,
		`SELECT `+examColumns+` FROM exams WHERE id = $1`, id))
}

// LockExam retrieves an exam and holds its row lock until the transaction ends.
func (q *queries) LockExam(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	return scanExam(q.db.QueryRow(ctx,
		`SELECT `+examColumns+` FROM exams WHERE id = $1 FOR UPDATE`, id))
}

// CreateExam inserts a new exam.
func (q *queries) CreateExam(ctx context.Context, e *model.Exam) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	err := q.db.QueryRow(ctx,
		`INSERT INTO exams (id, title, description, duration_minutes, question_ids,
		                    start_time, end_time, status, results_visible, owner_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING created_at, updated_at`,
		e.ID, e.Title, e.Description, e.DurationMinutes, e.QuestionIDs,
		e.StartTime, e.EndTime, e.Status, e.ResultsVisible, e.OwnerID,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	return mapError(err)
}

// UpdateExam persists the mutable exam fields.
func (q *queries) UpdateExam(ctx context.Context, e *model.Exam) error {
	err := q.db.QueryRow(ctx,
		`UPDATE exams
		 SET start_time = $2, end_time = $3, status = $4, results_visible = $5, updated_at = NOW()
		 WHERE id = $1
		 RETURNING updated_at`,
		e.ID, e.StartTime, e.EndTime, e.Status, e.ResultsVisible,
	).Scan(&e.UpdatedAt)
	return mapError(err)
}

// ListExamsWithWindow returns every non-ended exam that has a window, ordered
// by start time. Effective status is derived by the caller.
func (q *queries) ListExamsWithWindow(ctx context.Context) ([]model.Exam, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+examColumns+` FROM exams
		 WHERE start_time IS NOT NULL AND end_time IS NOT NULL AND status <> $1
		 ORDER BY start_time`, model.ExamStatusEnded)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		exams = append(exams, *e)
	}
	return exams, rows.Err()
}
