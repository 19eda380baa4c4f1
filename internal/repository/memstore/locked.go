package memstore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// Non-transactional calls take the store mutex for a single query.

func (s *Store) GetExam(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetExam(ctx, id)
}

func (s *Store) LockExam(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.LockExam(ctx, id)
}

func (s *Store) CreateExam(ctx context.Context, e *model.Exam) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.CreateExam(ctx, e)
}

func (s *Store) UpdateExam(ctx context.Context, e *model.Exam) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.UpdateExam(ctx, e)
}

func (s *Store) ListExamsWithWindow(ctx context.Context) ([]model.Exam, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListExamsWithWindow(ctx)
}

func (s *Store) ListExamQuestions(ctx context.Context, examID uuid.UUID) ([]model.ExamQuestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListExamQuestions(ctx, examID)
}

func (s *Store) InsertExamQuestions(ctx context.Context, qs []model.ExamQuestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.InsertExamQuestions(ctx, qs)
}

func (s *Store) CountEnrollments(ctx context.Context, examID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.CountEnrollments(ctx, examID)
}

func (s *Store) IsEnrolled(ctx context.Context, examID uuid.UUID, studentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.IsEnrolled(ctx, examID, studentID)
}

func (s *Store) AddEnrollments(ctx context.Context, examID uuid.UUID, studentIDs []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.AddEnrollments(ctx, examID, studentIDs)
}

func (s *Store) GetAttempt(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetAttempt(ctx, id)
}

func (s *Store) LockAttempt(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.LockAttempt(ctx, id)
}

func (s *Store) GetAttemptByStudent(ctx context.Context, examID uuid.UUID, studentID string) (*model.ExamAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetAttemptByStudent(ctx, examID, studentID)
}

func (s *Store) CreateAttempt(ctx context.Context, a *model.ExamAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.CreateAttempt(ctx, a)
}

func (s *Store) UpdateAttempt(ctx context.Context, a *model.ExamAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.UpdateAttempt(ctx, a)
}

func (s *Store) UpdateAttemptIfVersion(ctx context.Context, a *model.ExamAttempt, expected int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.UpdateAttemptIfVersion(ctx, a, expected)
}

func (s *Store) ListExpiredAttempts(ctx context.Context, now time.Time, after *model.DueAttempt, limit int) ([]model.DueAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListExpiredAttempts(ctx, now, after, limit)
}

func (s *Store) ListAttemptIDsByStatus(ctx context.Context, examID uuid.UUID, status model.AttemptStatus) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListAttemptIDsByStatus(ctx, examID, status)
}

func (s *Store) ListAnswers(ctx context.Context, attemptID uuid.UUID) ([]model.ExamAnswer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListAnswers(ctx, attemptID)
}

func (s *Store) UpsertAnswer(ctx context.Context, a *model.ExamAnswer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.UpsertAnswer(ctx, a)
}

func (s *Store) InsertBlankAnswers(ctx context.Context, answers []model.ExamAnswer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.InsertBlankAnswers(ctx, answers)
}

func (s *Store) UpdateAnswerScores(ctx context.Context, answers []model.ExamAnswer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.UpdateAnswerScores(ctx, answers)
}

func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*model.ExamSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetSession(ctx, id)
}

func (s *Store) LockSession(ctx context.Context, id uuid.UUID) (*model.ExamSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.LockSession(ctx, id)
}

func (s *Store) GetOpenSession(ctx context.Context, examID uuid.UUID, studentID string) (*model.ExamSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetOpenSession(ctx, examID, studentID)
}

func (s *Store) GetOpenSessionForAttempt(ctx context.Context, attemptID uuid.UUID) (*model.ExamSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetOpenSessionForAttempt(ctx, attemptID)
}

func (s *Store) CreateSession(ctx context.Context, sess *model.ExamSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.CreateSession(ctx, sess)
}

func (s *Store) UpdateSession(ctx context.Context, sess *model.ExamSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.UpdateSession(ctx, sess)
}

func (s *Store) GetRules(ctx context.Context, examID uuid.UUID) (*model.ExamRules, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.GetRules(ctx, examID)
}

func (s *Store) UpsertRules(ctx context.Context, r *model.ExamRules) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.UpsertRules(ctx, r)
}

func (s *Store) InsertViolation(ctx context.Context, v *model.Violation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.InsertViolation(ctx, v)
}

func (s *Store) CountViolations(ctx context.Context, sessionID uuid.UUID) (model.SeverityCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.CountViolations(ctx, sessionID)
}

func (s *Store) ListViolations(ctx context.Context, sessionID uuid.UUID) ([]model.Violation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.ListViolations(ctx, sessionID)
}
