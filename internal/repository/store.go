package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// Store-level errors. Callers never see raw driver errors for these cases.
var (
	ErrNotFound        = errors.New("record not found")
	ErrDuplicate       = errors.New("duplicate record")
	ErrVersionMismatch = errors.New("grading version mismatch")
)

// Queries is every read and write the services need. Implementations run
// either directly against the store or inside a transaction.
type Queries interface {
	GetExam(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	LockExam(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	CreateExam(ctx context.Context, e *model.Exam) error
	UpdateExam(ctx context.Context, e *model.Exam) error
	ListExamsWithWindow(ctx context.Context) ([]model.Exam, error)

	ListExamQuestions(ctx context.Context, examID uuid.UUID) ([]model.ExamQuestion, error)
	InsertExamQuestions(ctx context.Context, qs []model.ExamQuestion) error

	CountEnrollments(ctx context.Context, examID uuid.UUID) (int, error)
	IsEnrolled(ctx context.Context, examID uuid.UUID, studentID string) (bool, error)
	AddEnrollments(ctx context.Context, examID uuid.UUID, studentIDs []string) (int, error)

	GetAttempt(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error)
	LockAttempt(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error)
	GetAttemptByStudent(ctx context.Context, examID uuid.UUID, studentID string) (*model.ExamAttempt, error)
	CreateAttempt(ctx context.Context, a *model.ExamAttempt) error
	UpdateAttempt(ctx context.Context, a *model.ExamAttempt) error
	UpdateAttemptIfVersion(ctx context.Context, a *model.ExamAttempt, expected int) error
	ListExpiredAttempts(ctx context.Context, now time.Time, after *model.DueAttempt, limit int) ([]model.DueAttempt, error)
	ListAttemptIDsByStatus(ctx context.Context, examID uuid.UUID, status model.AttemptStatus) ([]uuid.UUID, error)

	ListAnswers(ctx context.Context, attemptID uuid.UUID) ([]model.ExamAnswer, error)
	UpsertAnswer(ctx context.Context, a *model.ExamAnswer) error
	InsertBlankAnswers(ctx context.Context, answers []model.ExamAnswer) error
	UpdateAnswerScores(ctx context.Context, answers []model.ExamAnswer) error

	GetSession(ctx context.Context, id uuid.UUID) (*model.ExamSession, error)
	LockSession(ctx context.Context, id uuid.UUID) (*model.ExamSession, error)
	GetOpenSession(ctx context.Context, examID uuid.UUID, studentID string) (*model.ExamSession, error)
	GetOpenSessionForAttempt(ctx context.Context, attemptID uuid.UUID) (*model.ExamSession, error)
	CreateSession(ctx context.Context, s *model.ExamSession) error
	UpdateSession(ctx context.Context, s *model.ExamSession) error

	GetRules(ctx context.Context, examID uuid.UUID) (*model.ExamRules, error)
	UpsertRules(ctx context.Context, r *model.ExamRules) error

	InsertViolation(ctx context.Context, v *model.Violation) error
	CountViolations(ctx context.Context, sessionID uuid.UUID) (model.SeverityCounts, error)
	ListViolations(ctx context.Context, sessionID uuid.UUID) ([]model.Violation, error)
}

// Store is Queries plus transactions. fn's Queries must not escape fn; if fn
// returns an error every write it made is discarded.
type Store interface {
	Queries
	InTx(ctx context.Context, fn func(q Queries) error) error
}

// QuestionBank resolves question ids against the shared bank.
type QuestionBank interface {
	LookupQuestions(ctx context.Context, ids []string) ([]model.BankQuestion, error)
}

// mapError converts driver errors into store-level errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}
