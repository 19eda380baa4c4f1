package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// ListExamQuestions returns an exam's snapshot ordered by position.
func (q *queries) ListExamQuestions(ctx context.Context, examID uuid.UUID) ([]model.ExamQuestion, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, exam_id, source_question_id, position, question_text, question_type,
		        options, correct_answer, marks, created_at
		 FROM exam_questions WHERE exam_id = $1
		 ORDER BY position`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.ExamQuestion
	for rows.Next() {
		var eq model.ExamQuestion
		var options []byte
		if err := rows.Scan(&eq.ID, &eq.ExamID, &eq.SourceQuestionID, &eq.Position, &eq.QuestionText,
			&eq.QuestionType, &options, &eq.CorrectAnswer, &eq.Marks, &eq.CreatedAt); err != nil {
			return nil, err
		}
		eq.Options = json.RawMessage(options)
		questions = append(questions, eq)
	}
	return questions, rows.Err()
}

// InsertExamQuestions bulk-inserts snapshot rows. Rows for a source question
// the exam already has are skipped, so concurrent snapshotting converges on
// whichever writer got there first.
func (q *queries) InsertExamQuestions(ctx context.Context, qs []model.ExamQuestion) error {
	if len(qs) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(qs))
	examIDs := make([]uuid.UUID, len(qs))
	sources := make([]string, len(qs))
	positions := make([]int, len(qs))
	texts := make([]string, len(qs))
	types := make([]string, len(qs))
	options := make([]*string, len(qs))
	corrects := make([]*string, len(qs))
	marks := make([]int, len(qs))
	for i, eq := range qs {
		ids[i] = eq.ID
		examIDs[i] = eq.ExamID
		sources[i] = eq.SourceQuestionID
		positions[i] = eq.Position
		texts[i] = eq.QuestionText
		types[i] = eq.QuestionType
		if len(eq.Options) > 0 {
			s := string(eq.Options)
			options[i] = &s
		}
		corrects[i] = eq.CorrectAnswer
		marks[i] = eq.Marks
	}

	_, err := q.db.Exec(ctx,
		`INSERT INTO exam_questions (id, exam_id, source_question_id, position, question_text,
		                             question_type, options, correct_answer, marks)
		 SELECT u.id, u.exam_id, u.source_id, u.position, u.question_text,
		        u.question_type, u.options::jsonb, u.correct_answer, u.marks
		 FROM UNNEST($1::uuid[], $2::uuid[], $3::text[], $4::int[], $5::text[],
		             $6::text[], $7::text[], $8::text[], $9::int[])
		      AS u(id, exam_id, source_id, position, question_text, question_type, options, correct_answer, marks)
		 ON CONFLICT (exam_id, source_question_id) DO NOTHING`,
		ids, examIDs, sources, positions, texts, types, options, corrects, marks)
	return mapError(err)
}

// BankRepository reads the shared question bank.
type BankRepository struct {
	pool *pgxpool.Pool
}

// NewBankRepository creates a new BankRepository.
func NewBankRepository(pool *pgxpool.Pool) *BankRepository {
	return &BankRepository{pool: pool}
}

// LookupQuestions returns the bank questions with the given ids. Unknown ids
// are silently absent from the result.
func (r *BankRepository) LookupQuestions(ctx context.Context, ids []string) ([]model.BankQuestion, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, question_text, question_type, options, correct_answer, marks
		 FROM questions WHERE id = ANY($1::text[])`, ids,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.BankQuestion
	for rows.Next() {
		var bq model.BankQuestion
		var options []byte
		if err := rows.Scan(&bq.ID, &bq.QuestionText, &bq.QuestionType, &options, &bq.CorrectAnswer, &bq.Marks); err != nil {
			return nil, err
		}
		bq.Options = json.RawMessage(options)
		questions = append(questions, bq)
	}
	return questions, rows.Err()
}

// UpsertQuestions writes bank questions, replacing rows with the same id.
// The bank is owned by another system; this exists for seeding.
func (r *BankRepository) UpsertQuestions(ctx context.Context, qs []model.BankQuestion) error {
	batch := &pgx.Batch{}
	for _, bq := range qs {
		var options []byte
		if len(bq.Options) > 0 {
			options = bq.Options
		}
		batch.Queue(
			`INSERT INTO questions (id, question_text, question_type, options, correct_answer, marks)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (id) DO UPDATE SET
			   question_text = EXCLUDED.question_text,
			   question_type = EXCLUDED.question_type,
			   options = EXCLUDED.options,
			   correct_answer = EXCLUDED.correct_answer,
			   marks = EXCLUDED.marks`,
			bq.ID, bq.QuestionText, bq.QuestionType, options, bq.CorrectAnswer, bq.Marks,
		)
	}
	return r.pool.SendBatch(ctx, batch).Close()
}
