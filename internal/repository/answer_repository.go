package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-proctor/internal/model"
)

func encodeAnswer(v *model.AnswerValue) ([]byte, error) {
	if v == nil || v.IsZero() {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode answer: %w", err)
	}
	return b, nil
}

func decodeAnswer(raw []byte) (*model.AnswerValue, error) {
	if raw == nil {
		return nil, nil
	}
	var v model.AnswerValue
	if err := v.UnmarshalJSON(raw); err != nil {
		return nil, fmt.Errorf("decode answer: %w", err)
	}
	if v.IsZero() {
		return nil, nil
	}
	return &v, nil
}

// ListAnswers returns every answer row of an attempt.
func (q *queries) ListAnswers(ctx context.Context, attemptID uuid.UUID) ([]model.ExamAnswer, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, attempt_id, question_id, answer, auto_score, manual_score, final_score,
		        max_score, is_overridden, graded_at, last_saved_at
		 FROM exam_answers WHERE attempt_id = $1`, attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []model.ExamAnswer
	for rows.Next() {
		var a model.ExamAnswer
		var raw []byte
		if err := rows.Scan(&a.ID, &a.AttemptID, &a.QuestionID, &raw, &a.AutoScore, &a.ManualScore,
			&a.FinalScore, &a.MaxScore, &a.IsOverridden, &a.GradedAt, &a.LastSavedAt); err != nil {
			return nil, err
		}
		if a.Answer, err = decodeAnswer(raw); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// UpsertAnswer stores a student's answer, creating the row on first save.
// Grading columns are left untouched on update.
func (q *queries) UpsertAnswer(ctx context.Context, a *model.ExamAnswer) error {
	raw, err := encodeAnswer(a.Answer)
	if err != nil {
		return err
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err = q.db.QueryRow(ctx,
		`INSERT INTO exam_answers (id, attempt_id, question_id, answer, max_score, last_saved_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (attempt_id, question_id) DO UPDATE
		 SET answer = EXCLUDED.answer, max_score = EXCLUDED.max_score, last_saved_at = EXCLUDED.last_saved_at
		 RETURNING id`,
		a.ID, a.AttemptID, a.QuestionID, raw, a.MaxScore, a.LastSavedAt,
	).Scan(&a.ID)
	return mapError(err)
}

// InsertBlankAnswers creates empty rows for questions the student never
// answered. Existing rows are kept as they are.
func (q *queries) InsertBlankAnswers(ctx context.Context, answers []model.ExamAnswer) error {
	if len(answers) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(answers))
	attemptIDs := make([]uuid.UUID, len(answers))
	questionIDs := make([]uuid.UUID, len(answers))
	maxScores := make([]int, len(answers))
	for i, a := range answers {
		ids[i] = a.ID
		if ids[i] == uuid.Nil {
			ids[i] = uuid.New()
		}
		attemptIDs[i] = a.AttemptID
		questionIDs[i] = a.QuestionID
		maxScores[i] = a.MaxScore
	}
	_, err := q.db.Exec(ctx,
		`INSERT INTO exam_answers (id, attempt_id, question_id, max_score)
		 SELECT u.id, u.attempt_id, u.question_id, u.max_score
		 FROM UNNEST($1::uuid[], $2::uuid[], $3::uuid[], $4::int[]) AS u(id, attempt_id, question_id, max_score)
		 ON CONFLICT (attempt_id, question_id) DO NOTHING`,
		ids, attemptIDs, questionIDs, maxScores)
	return mapError(err)
}

// UpdateAnswerScores writes the grading columns of many answers in one
// round trip.
func (q *queries) UpdateAnswerScores(ctx context.Context, answers []model.ExamAnswer) error {
	if len(answers) == 0 {
		return nil
	}
	attemptIDs := make([]uuid.UUID, len(answers))
	questionIDs := make([]uuid.UUID, len(answers))
	autos := make([]*int, len(answers))
	manuals := make([]*int, len(answers))
	finals := make([]*int, len(answers))
	maxScores := make([]int, len(answers))
	overridden := make([]bool, len(answers))
	gradedAt := make([]*time.Time, len(answers))
	for i, a := range answers {
		attemptIDs[i] = a.AttemptID
		questionIDs[i] = a.QuestionID
		autos[i] = a.AutoScore
		manuals[i] = a.ManualScore
		finals[i] = a.FinalScore
		maxScores[i] = a.MaxScore
		overridden[i] = a.IsOverridden
		gradedAt[i] = a.GradedAt
	}
	_, err := q.db.Exec(ctx,
		`UPDATE exam_answers AS ea
		 SET auto_score = u.auto_score,
		     manual_score = u.manual_score,
		     final_score = u.final_score,
		     max_score = u.max_score,
		     is_overridden = u.is_overridden,
		     graded_at = u.graded_at
		 FROM UNNEST($1::uuid[], $2::uuid[], $3::int[], $4::int[], $5::int[], $6::int[], $7::bool[], $8::timestamptz[])
		      AS u(attempt_id, question_id, auto_score, manual_score, final_score, max_score, is_overridden, graded_at)
		 WHERE ea.attempt_id = u.attempt_id AND ea.question_id = u.question_id`,
		attemptIDs, questionIDs, autos, manuals, finals, maxScores, overridden, gradedAt)
	return mapError(err)
}
