package memstore

import (
	"bytes"
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// ─── Exams ──────────────────────────────────────────────────────────

func (st *state) GetExam(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	e, ok := st.exams[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &e, nil
}

func (st *state) LockExam(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	return st.GetExam(ctx, id)
}

func (st *state) CreateExam(_ context.Context, e *model.Exam) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if _, ok := st.exams[e.ID]; ok {
		return repository.ErrDuplicate
	}
	now := st.clk.Now()
	e.CreatedAt, e.UpdatedAt = now, now
	e.QuestionIDs = slices.Clone(e.QuestionIDs)
	st.exams[e.ID] = *e
	return nil
}

func (st *state) UpdateExam(_ context.Context, e *model.Exam) error {
	cur, ok := st.exams[e.ID]
	if !ok {
		return repository.ErrNotFound
	}
	cur.StartTime, cur.EndTime = e.StartTime, e.EndTime
	cur.Status = e.Status
	cur.ResultsVisible = e.ResultsVisible
	cur.UpdatedAt = st.clk.Now()
	e.UpdatedAt = cur.UpdatedAt
	st.exams[e.ID] = cur
	return nil
}

func (st *state) ListExamsWithWindow(_ context.Context) ([]model.Exam, error) {
	var out []model.Exam
	for _, e := range st.exams {
		if e.HasWindow() && e.Status != model.ExamStatusEnded {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b model.Exam) int { return a.StartTime.Compare(*b.StartTime) })
	return out, nil
}

// ─── Snapshot ───────────────────────────────────────────────────────

func (st *state) ListExamQuestions(_ context.Context, examID uuid.UUID) ([]model.ExamQuestion, error) {
	out := slices.Clone(st.questions[examID])
	slices.SortFunc(out, func(a, b model.ExamQuestion) int { return cmp.Compare(a.Position, b.Position) })
	return out, nil
}

func (st *state) InsertExamQuestions(_ context.Context, qs []model.ExamQuestion) error {
	now := st.clk.Now()
	for _, q := range qs {
		existing := st.questions[q.ExamID]
		if slices.ContainsFunc(existing, func(e model.ExamQuestion) bool {
			return e.SourceQuestionID == q.SourceQuestionID
		}) {
			continue
		}
		if q.ID == uuid.Nil {
			q.ID = uuid.New()
		}
		q.CreatedAt = now
		st.questions[q.ExamID] = append(slices.Clone(existing), q)
	}
	return nil
}

// ─── Enrollments ────────────────────────────────────────────────────

func (st *state) CountEnrollments(_ context.Context, examID uuid.UUID) (int, error) {
	n := 0
	for k := range st.enrollments {
		if k.examID == examID {
			n++
		}
	}
	return n, nil
}

func (st *state) IsEnrolled(_ context.Context, examID uuid.UUID, studentID string) (bool, error) {
	_, ok := st.enrollments[enrollKey{examID, studentID}]
	return ok, nil
}

func (st *state) AddEnrollments(_ context.Context, examID uuid.UUID, studentIDs []string) (int, error) {
	added := 0
	for _, sid := range studentIDs {
		k := enrollKey{examID, sid}
		if _, ok := st.enrollments[k]; ok {
			continue
		}
		st.enrollments[k] = model.Enrollment{ExamID: examID, StudentID: sid, CreatedAt: st.clk.Now()}
		added++
	}
	return added, nil
}

// ─── Attempts ───────────────────────────────────────────────────────

func (st *state) GetAttempt(_ context.Context, id uuid.UUID) (*model.ExamAttempt, error) {
	a, ok := st.attempts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (st *state) LockAttempt(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error) {
	return st.GetAttempt(ctx, id)
}

func (st *state) GetAttemptByStudent(_ context.Context, examID uuid.UUID, studentID string) (*model.ExamAttempt, error) {
	for _, a := range st.attempts {
		if a.ExamID == examID && a.StudentID == studentID {
			return &a, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (st *state) CreateAttempt(ctx context.Context, a *model.ExamAttempt) error {
	if _, err := st.GetAttemptByStudent(ctx, a.ExamID, a.StudentID); err == nil {
		return repository.ErrDuplicate
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := st.clk.Now()
	a.CreatedAt, a.UpdatedAt = now, now
	st.attempts[a.ID] = *a
	return nil
}

func (st *state) UpdateAttempt(_ context.Context, a *model.ExamAttempt) error {
	cur, ok := st.attempts[a.ID]
	if !ok {
		return repository.ErrNotFound
	}
	// grading_version only moves through UpdateAttemptIfVersion.
	a.GradingVersion = cur.GradingVersion
	a.UpdatedAt = st.clk.Now()
	st.attempts[a.ID] = *a
	return nil
}

func (st *state) UpdateAttemptIfVersion(_ context.Context, a *model.ExamAttempt, expected int) error {
	cur, ok := st.attempts[a.ID]
	if !ok || cur.GradingVersion != expected {
		return repository.ErrVersionMismatch
	}
	cur.Status = a.Status
	cur.Score = a.Score
	cur.AutoScoreTotal = a.AutoScoreTotal
	cur.MaxScoreTotal = a.MaxScoreTotal
	cur.EvaluatedAt = a.EvaluatedAt
	cur.GradingVersion++
	cur.UpdatedAt = st.clk.Now()
	st.attempts[a.ID] = cur
	a.GradingVersion, a.UpdatedAt = cur.GradingVersion, cur.UpdatedAt
	return nil
}

func (st *state) ListExpiredAttempts(_ context.Context, now time.Time, after *model.DueAttempt, limit int) ([]model.DueAttempt, error) {
	var due []model.DueAttempt
	for _, a := range st.attempts {
		if a.Status != model.AttemptStatusInProgress || a.AutoSubmitTime.After(now) {
			continue
		}
		d := model.DueAttempt{ID: a.ID, AutoSubmitTime: a.AutoSubmitTime}
		if after != nil && compareDue(d, *after) <= 0 {
			continue
		}
		due = append(due, d)
	}
	slices.SortFunc(due, compareDue)
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// compareDue orders like Postgres: deadline first, then uuid bytes.
func compareDue(a, b model.DueAttempt) int {
	if c := a.AutoSubmitTime.Compare(b.AutoSubmitTime); c != 0 {
		return c
	}
	return bytes.Compare(a.ID[:], b.ID[:])
}

func (st *state) ListAttemptIDsByStatus(_ context.Context, examID uuid.UUID, status model.AttemptStatus) ([]uuid.UUID, error) {
	var matched []model.ExamAttempt
	for _, a := range st.attempts {
		if a.ExamID == examID && a.Status == status {
			matched = append(matched, a)
		}
	}
	slices.SortFunc(matched, func(a, b model.ExamAttempt) int { return a.CreatedAt.Compare(b.CreatedAt) })
	ids := make([]uuid.UUID, len(matched))
	for i, a := range matched {
		ids[i] = a.ID
	}
	return ids, nil
}

// ─── Answers ────────────────────────────────────────────────────────

func (st *state) ListAnswers(_ context.Context, attemptID uuid.UUID) ([]model.ExamAnswer, error) {
	var out []model.ExamAnswer
	for k, a := range st.answers {
		if k.attemptID == attemptID {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b model.ExamAnswer) int { return cmp.Compare(a.QuestionID.String(), b.QuestionID.String()) })
	return out, nil
}

func (st *state) UpsertAnswer(_ context.Context, a *model.ExamAnswer) error {
	k := answerKey{a.AttemptID, a.QuestionID}
	cur, ok := st.answers[k]
	if !ok {
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		cur = model.ExamAnswer{ID: a.ID, AttemptID: a.AttemptID, QuestionID: a.QuestionID}
	}
	cur.Answer = a.Answer
	cur.MaxScore = a.MaxScore
	cur.LastSavedAt = a.LastSavedAt
	a.ID = cur.ID
	st.answers[k] = cur
	return nil
}

func (st *state) InsertBlankAnswers(_ context.Context, answers []model.ExamAnswer) error {
	for _, a := range answers {
		k := answerKey{a.AttemptID, a.QuestionID}
		if _, ok := st.answers[k]; ok {
			continue
		}
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		st.answers[k] = model.ExamAnswer{ID: a.ID, AttemptID: a.AttemptID, QuestionID: a.QuestionID, MaxScore: a.MaxScore}
	}
	return nil
}

func (st *state) UpdateAnswerScores(_ context.Context, answers []model.ExamAnswer) error {
	for _, a := range answers {
		k := answerKey{a.AttemptID, a.QuestionID}
		cur, ok := st.answers[k]
		if !ok {
			continue
		}
		cur.AutoScore = a.AutoScore
		cur.ManualScore = a.ManualScore
		cur.FinalScore = a.FinalScore
		cur.MaxScore = a.MaxScore
		cur.IsOverridden = a.IsOverridden
		cur.GradedAt = a.GradedAt
		st.answers[k] = cur
	}
	return nil
}

// ─── Sessions ───────────────────────────────────────────────────────

func (st *state) GetSession(_ context.Context, id uuid.UUID) (*model.ExamSession, error) {
	s, ok := st.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}

func (st *state) LockSession(ctx context.Context, id uuid.UUID) (*model.ExamSession, error) {
	return st.GetSession(ctx, id)
}

func (st *state) newestOpen(match func(model.ExamSession) bool) (*model.ExamSession, error) {
	var best *model.ExamSession
	for _, s := range st.sessions {
		if s.Status == model.SessionStatusEnded || !match(s) {
			continue
		}
		if best == nil || s.CreatedAt.After(best.CreatedAt) {
			best = &s
		}
	}
	if best == nil {
		return nil, repository.ErrNotFound
	}
	return best, nil
}

func (st *state) GetOpenSession(_ context.Context, examID uuid.UUID, studentID string) (*model.ExamSession, error) {
	return st.newestOpen(func(s model.ExamSession) bool {
		return s.ExamID == examID && s.StudentID == studentID
	})
}

func (st *state) GetOpenSessionForAttempt(_ context.Context, attemptID uuid.UUID) (*model.ExamSession, error) {
	return st.newestOpen(func(s model.ExamSession) bool {
		return s.AttemptID != nil && *s.AttemptID == attemptID
	})
}

func (st *state) CreateSession(ctx context.Context, s *model.ExamSession) error {
	if _, err := st.GetOpenSession(ctx, s.ExamID, s.StudentID); err == nil {
		return repository.ErrDuplicate
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.CreatedAt = st.clk.Now()
	st.sessions[s.ID] = *s
	return nil
}

func (st *state) UpdateSession(_ context.Context, s *model.ExamSession) error {
	if _, ok := st.sessions[s.ID]; !ok {
		return repository.ErrNotFound
	}
	st.sessions[s.ID] = *s
	return nil
}

// ─── Rules ──────────────────────────────────────────────────────────

func (st *state) GetRules(_ context.Context, examID uuid.UUID) (*model.ExamRules, error) {
	r, ok := st.rules[examID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &r, nil
}

func (st *state) UpsertRules(_ context.Context, r *model.ExamRules) error {
	r.UpdatedAt = st.clk.Now()
	st.rules[r.ExamID] = *r
	return nil
}

// ─── Violations ─────────────────────────────────────────────────────

func (st *state) InsertViolation(_ context.Context, v *model.Violation) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	st.violations = append(st.violations, *v)
	return nil
}

func (st *state) CountViolations(_ context.Context, sessionID uuid.UUID) (model.SeverityCounts, error) {
	var c model.SeverityCounts
	for _, v := range st.violations {
		if v.SessionID != nil && *v.SessionID == sessionID {
			c.Add(v.Severity, v.Count)
		}
	}
	return c, nil
}

func (st *state) ListViolations(_ context.Context, sessionID uuid.UUID) ([]model.Violation, error) {
	var out []model.Violation
	for _, v := range st.violations {
		if v.SessionID != nil && *v.SessionID == sessionID {
			out = append(out, v)
		}
	}
	slices.SortStableFunc(out, func(a, b model.Violation) int { return a.Timestamp.Compare(b.Timestamp) })
	return out, nil
}
