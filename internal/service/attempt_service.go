package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stemsi/exstem-proctor/internal/grading"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/monitor"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// AttemptService is the attempt state machine: start, autosave, submit,
// force-end, review and manual grading. Every status or deadline check runs
// in the same transaction as the mutation it guards, with the attempt row
// locked.
type AttemptService struct {
	store    repository.Store
	bank     repository.QuestionBank
	clock    clock.Clock
	notifier monitor.Notifier
	log      zerolog.Logger
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	store repository.Store,
	bank repository.QuestionBank,
	clk clock.Clock,
	notifier monitor.Notifier,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		store:    store,
		bank:     bank,
		clock:    clk,
		notifier: notifier,
		log:      log.With().Str("component", "attempt_service").Logger(),
	}
}

// ─── Start / Resume ─────────────────────────────────────────────────

// Start opens the student's attempt on an exam, or returns the one already
// in progress.
func (s *AttemptService) Start(ctx context.Context, examID uuid.UUID, student model.Actor) (*model.AttemptView, error) {
	now := s.clock.Now()
	var (
		view    *model.AttemptView
		created bool
	)

	err := s.store.InTx(ctx, func(q repository.Queries) error {
		exam, err := q.GetExam(ctx, examID)
		if err != nil {
			return notFound(err)
		}
		if !exam.AcceptingAttempts(now) {
			return ErrExamUnavailable
		}
		if err := checkEnrollment(ctx, q, exam.ID, student.UserID); err != nil {
			return err
		}

		attempt, err := q.GetAttemptByStudent(ctx, exam.ID, student.UserID)
		switch {
		case err == nil:
			if attempt.Status.Closed() {
				return ErrAlreadySubmitted
			}
		case errors.Is(err, repository.ErrNotFound):
			if _, err := s.ensureSnapshot(ctx, q, exam); err != nil {
				return err
			}
			attempt = &model.ExamAttempt{
				ExamID:         exam.ID,
				StudentID:      student.UserID,
				Status:         model.AttemptStatusInProgress,
				StartTime:      now,
				AutoSubmitTime: exam.AttemptDeadline(now),
			}
			err = q.CreateAttempt(ctx, attempt)
			if errors.Is(err, repository.ErrDuplicate) {
				// A concurrent start won the insert; adopt its row.
				attempt, err = q.GetAttemptByStudent(ctx, exam.ID, student.UserID)
				if err != nil {
					return err
				}
				if attempt.Status.Closed() {
					return ErrAlreadySubmitted
				}
			} else if err != nil {
				return fmt.Errorf("create attempt: %w", err)
			} else {
				created = true
			}
		default:
			return err
		}

		view, err = buildView(ctx, q, attempt, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	if created {
		metrics.AttemptsStarted.Inc()
		s.log.Info().
			Str("exam_id", examID.String()).
			Str("attempt_id", view.Attempt.ID.String()).
			Str("student_id", student.UserID).
			Time("auto_submit_time", view.Attempt.AutoSubmitTime).
			Msg("Attempt started")
		s.notify(ctx, monitor.EventAttemptStarted, view.Attempt, nil)
	}
	return view, nil
}

// Resume returns the student's in-progress attempt with its saved answers
// and the seconds left.
func (s *AttemptService) Resume(ctx context.Context, examID uuid.UUID, student model.Actor) (*model.AttemptView, error) {
	now := s.clock.Now()
	attempt, err := s.store.GetAttemptByStudent(ctx, examID, student.UserID)
	if err != nil {
		return nil, notFound(err)
	}
	if attempt.Status.Closed() {
		return nil, ErrAlreadySubmitted
	}
	if !now.Before(attempt.AutoSubmitTime) {
		return nil, ErrExpired
	}
	return buildView(ctx, s.store, attempt, now)
}

// ensureSnapshot freezes the exam's selected bank questions into
// exam_questions the first time it is called for an exam. Unresolvable ids
// are skipped. Concurrent callers converge on the same rows.
func (s *AttemptService) ensureSnapshot(ctx context.Context, q repository.Queries, exam *model.Exam) ([]model.ExamQuestion, error) {
	existing, err := q.ListExamQuestions(ctx, exam.ID)
	if err != nil {
		return nil, fmt.Errorf("list snapshot: %w", err)
	}
	if len(existing) > 0 {
		return existing, nil
	}

	bank, err := s.bank.LookupQuestions(ctx, exam.QuestionIDs)
	if err != nil {
		return nil, fmt.Errorf("lookup bank questions: %w", err)
	}
	byID := make(map[string]model.BankQuestion, len(bank))
	for _, bq := range bank {
		byID[bq.ID] = bq
	}

	rows := make([]model.ExamQuestion, 0, len(exam.QuestionIDs))
	seen := make(map[string]bool, len(exam.QuestionIDs))
	for _, id := range exam.QuestionIDs {
		bq, ok := byID[id]
		if !ok {
			s.log.Warn().Str("exam_id", exam.ID.String()).Str("question_id", id).Msg("Selected question missing from bank, skipping")
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		rows = append(rows, model.SnapshotOf(exam.ID, len(rows), bq))
	}

	if err := q.InsertExamQuestions(ctx, rows); err != nil {
		return nil, fmt.Errorf("insert snapshot: %w", err)
	}
	return q.ListExamQuestions(ctx, exam.ID)
}

// ─── Autosave / Submit ──────────────────────────────────────────────

// SaveAnswer stores one answer on an in-progress attempt. The last write
// wins.
func (s *AttemptService) SaveAnswer(ctx context.Context, attemptID uuid.UUID, student model.Actor, req model.SaveAnswerRequest) (*model.SavedAnswer, error) {
	now := s.clock.Now()
	var saved *model.SavedAnswer

	err := s.store.InTx(ctx, func(q repository.Queries) error {
		attempt, err := s.lockOwnAttempt(ctx, q, attemptID, student)
		if err != nil {
			return err
		}
		if attempt.Status.Closed() {
			return ErrNotEditable
		}
		if !now.Before(attempt.AutoSubmitTime) {
			return ErrExpired
		}

		questions, err := q.ListExamQuestions(ctx, attempt.ExamID)
		if err != nil {
			return err
		}
		var question *model.ExamQuestion
		for i := range questions {
			if questions[i].Matches(req.QuestionID) {
				question = &questions[i]
				break
			}
		}
		if question == nil {
			return ErrUnknownQuestion
		}

		row := &model.ExamAnswer{
			AttemptID:   attempt.ID,
			QuestionID:  question.ID,
			MaxScore:    question.Marks,
			LastSavedAt: &now,
		}
		if !req.Answer.IsZero() {
			v := req.Answer
			row.Answer = &v
		}
		if err := q.UpsertAnswer(ctx, row); err != nil {
			return fmt.Errorf("save answer: %w", err)
		}
		saved = &model.SavedAnswer{QuestionID: question.ID, Answer: row.Answer, LastSavedAt: row.LastSavedAt}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// Submit is the student's own submission. It is refused once the deadline
// has passed; the sweep owns those attempts. Submitting a closed attempt
// returns it unchanged.
func (s *AttemptService) Submit(ctx context.Context, attemptID uuid.UUID, student model.Actor) (*model.ExamAttempt, error) {
	now := s.clock.Now()
	var (
		attempt   *model.ExamAttempt
		submitted bool
	)

	err := s.store.InTx(ctx, func(q repository.Queries) error {
		var err error
		attempt, err = s.lockOwnAttempt(ctx, q, attemptID, student)
		if err != nil {
			return err
		}
		if attempt.Status.Closed() {
			return nil
		}
		if !now.Before(attempt.AutoSubmitTime) {
			return ErrExpired
		}
		submitted = true
		return s.submitLocked(ctx, q, attempt, model.SubmitReasonStudent, now)
	})
	if err != nil {
		return nil, err
	}
	if submitted {
		s.afterSubmit(ctx, attempt)
	}
	return attempt, nil
}

// AutoSubmit closes an attempt whose deadline has passed. It reports false
// when the attempt was already closed or is not yet due.
func (s *AttemptService) AutoSubmit(ctx context.Context, attemptID uuid.UUID) (bool, error) {
	now := s.clock.Now()
	var attempt *model.ExamAttempt

	err := s.store.InTx(ctx, func(q repository.Queries) error {
		a, err := q.LockAttempt(ctx, attemptID)
		if err != nil {
			return notFound(err)
		}
		if a.Status.Closed() || now.Before(a.AutoSubmitTime) {
			return nil
		}
		attempt = a
		return s.submitLocked(ctx, q, a, model.SubmitReasonAutoSubmit, now)
	})
	if err != nil || attempt == nil {
		return false, err
	}
	s.afterSubmit(ctx, attempt)
	return true, nil
}

// ExpiredAttempts lists up to limit in-progress attempts past their deadline,
// starting after the given key.
func (s *AttemptService) ExpiredAttempts(ctx context.Context, after *model.DueAttempt, limit int) ([]model.DueAttempt, error) {
	return s.store.ListExpiredAttempts(ctx, s.clock.Now(), after, limit)
}

// ForceEndExam ends an active exam early and submits every attempt still in
// progress. It returns how many attempts it submitted.
func (s *AttemptService) ForceEndExam(ctx context.Context, examID uuid.UUID, actor model.Actor) (int, error) {
	now := s.clock.Now()
	var closed []*model.ExamAttempt

	err := s.store.InTx(ctx, func(q repository.Queries) error {
		exam, err := q.LockExam(ctx, examID)
		if err != nil {
			return notFound(err)
		}
		if !actor.Owns(exam.OwnerID) {
			return ErrNotOwner
		}
		if exam.EffectiveStatus(now) != model.ExamStatusActive {
			return ErrExamNotActive
		}
		exam.Status = model.ExamStatusEnded
		if err := q.UpdateExam(ctx, exam); err != nil {
			return fmt.Errorf("end exam: %w", err)
		}

		ids, err := q.ListAttemptIDsByStatus(ctx, examID, model.AttemptStatusInProgress)
		if err != nil {
			return err
		}
		for _, id := range ids {
			a, err := q.LockAttempt(ctx, id)
			if err != nil {
				return err
			}
			if a.Status.Closed() {
				continue
			}
			if err := s.submitLocked(ctx, q, a, model.SubmitReasonExamEnded, now); err != nil {
				return fmt.Errorf("submit attempt %s: %w", id, err)
			}
			closed = append(closed, a)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.log.Info().
		Str("exam_id", examID.String()).
		Str("actor", actor.UserID).
		Int("submitted", len(closed)).
		Msg("Exam force-ended")
	s.notifier.Publish(ctx, monitor.Event{
		Type:   monitor.EventExamEnded,
		ExamID: examID,
		Data:   map[string]any{"submitted": len(closed)},
		At:     now,
	})
	for _, a := range closed {
		s.afterSubmit(ctx, a)
	}
	return len(closed), nil
}

// submitLocked is the single submission funnel. The caller holds the
// attempt row lock and has decided the attempt may be submitted.
func (s *AttemptService) submitLocked(ctx context.Context, q repository.Queries, a *model.ExamAttempt, reason model.SubmitReason, now time.Time) error {
	a.Status = model.AttemptStatusSubmitted
	a.SubmittedAt = &now
	a.SubmitReason = reason

	items, err := hydrate(ctx, q, a)
	if err != nil {
		return err
	}
	grading.AutoGrade(items, now)
	grading.Recompute(items).ApplyTo(a, now)

	if err := q.UpdateAnswerScores(ctx, answersOf(items)); err != nil {
		return fmt.Errorf("store scores: %w", err)
	}
	if err := q.UpdateAttempt(ctx, a); err != nil {
		return fmt.Errorf("store attempt: %w", err)
	}
	return nil
}

func (s *AttemptService) afterSubmit(ctx context.Context, a *model.ExamAttempt) {
	metrics.AttemptsSubmitted.WithLabelValues(string(a.SubmitReason)).Inc()
	if a.MaxScoreTotal > 0 {
		metrics.AttemptScore.Observe(float64(a.Score) / float64(a.MaxScoreTotal))
	}
	s.log.Info().
		Str("exam_id", a.ExamID.String()).
		Str("attempt_id", a.ID.String()).
		Str("reason", string(a.SubmitReason)).
		Str("status", string(a.Status)).
		Int("score", a.Score).
		Msg("Attempt submitted")
	s.notify(ctx, monitor.EventAttemptSubmitted, a, map[string]any{
		"reason": a.SubmitReason,
		"status": a.Status,
	})
}

// ─── Review / Grading ───────────────────────────────────────────────

// Review returns the grading view of an attempt, creating blank answer rows
// for unanswered questions so every question can be graded.
func (s *AttemptService) Review(ctx context.Context, examID, attemptID uuid.UUID, actor model.Actor) (*model.AttemptReview, error) {
	var review *model.AttemptReview

	err := s.store.InTx(ctx, func(q repository.Queries) error {
		exam, attempt, err := ownedAttempt(ctx, q, examID, attemptID, actor)
		if err != nil {
			return err
		}
		items, err := hydrate(ctx, q, attempt)
		if err != nil {
			return err
		}
		review = buildReview(exam, attempt, items)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return review, nil
}

// ApplyGrades applies a teacher's manual scores. The whole patch is rejected
// if any entry is invalid, or if someone else graded the attempt since the
// caller read expected_grading_version.
func (s *AttemptService) ApplyGrades(ctx context.Context, examID, attemptID uuid.UUID, actor model.Actor, req model.ApplyGradesRequest) (*model.ExamAttempt, error) {
	if req.ExpectedGradingVersion == nil {
		return nil, fmt.Errorf("%w: expected_grading_version is required", ErrInvalidScore)
	}
	now := s.clock.Now()
	expected := *req.ExpectedGradingVersion
	var attempt *model.ExamAttempt

	err := s.store.InTx(ctx, func(q repository.Queries) error {
		var err error
		_, attempt, err = ownedAttempt(ctx, q, examID, attemptID, actor)
		if err != nil {
			return err
		}
		if !attempt.Status.Closed() {
			return ErrNotGradable
		}
		if attempt.GradingVersion != expected {
			return ErrVersionConflict
		}

		items, err := hydrate(ctx, q, attempt)
		if err != nil {
			return err
		}
		if err := grading.ApplyPatches(items, req.QuestionScores, now); err != nil {
			if errors.Is(err, grading.ErrUnknownQuestion) {
				return fmt.Errorf("%w: %v", ErrUnknownQuestion, err)
			}
			return fmt.Errorf("%w: %v", ErrInvalidScore, err)
		}
		grading.Recompute(items).ApplyTo(attempt, now)

		if err := q.UpdateAnswerScores(ctx, answersOf(items)); err != nil {
			return fmt.Errorf("store scores: %w", err)
		}
		if err := q.UpdateAttemptIfVersion(ctx, attempt, expected); err != nil {
			if errors.Is(err, repository.ErrVersionMismatch) {
				return ErrVersionConflict
			}
			return fmt.Errorf("store attempt: %w", err)
		}
		return nil
	})
	if errors.Is(err, ErrVersionConflict) {
		metrics.GradingConflicts.Inc()
		s.log.Warn().
			Str("attempt_id", attemptID.String()).
			Int("expected_version", expected).
			Str("actor", actor.UserID).
			Msg("Grading version conflict")
	}
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("exam_id", examID.String()).
		Str("attempt_id", attemptID.String()).
		Int("grading_version", attempt.GradingVersion).
		Int("score", attempt.Score).
		Msg("Grades applied")
	s.notify(ctx, monitor.EventAttemptGraded, attempt, map[string]any{
		"score":           attempt.Score,
		"grading_version": attempt.GradingVersion,
	})
	return attempt, nil
}

// ─── Violations ─────────────────────────────────────────────────────

// noteViolation bumps the attempt's violation counter and flags it when the
// linked session was auto-terminated. The flag is informational; the session
// is the authority on termination.
func (s *AttemptService) noteViolation(ctx context.Context, q repository.Queries, attemptID uuid.UUID, count int, terminated string, now time.Time) error {
	a, err := q.LockAttempt(ctx, attemptID)
	if err != nil {
		return notFound(err)
	}
	a.ViolationCount += count
	if terminated != "" && !a.IsFlagged {
		a.IsFlagged = true
		a.FlagReason = &terminated
		a.FlaggedAt = &now
	}
	return q.UpdateAttempt(ctx, a)
}

// ─── Helpers ────────────────────────────────────────────────────────

func (s *AttemptService) lockOwnAttempt(ctx context.Context, q repository.Queries, attemptID uuid.UUID, student model.Actor) (*model.ExamAttempt, error) {
	a, err := q.LockAttempt(ctx, attemptID)
	if err != nil {
		return nil, notFound(err)
	}
	if a.StudentID != student.UserID {
		return nil, ErrNotAttemptOwner
	}
	return a, nil
}

func (s *AttemptService) notify(ctx context.Context, typ string, a *model.ExamAttempt, data map[string]any) {
	id := a.ID
	s.notifier.Publish(ctx, monitor.Event{
		Type:      typ,
		ExamID:    a.ExamID,
		StudentID: a.StudentID,
		AttemptID: &id,
		Data:      data,
		At:        s.clock.Now(),
	})
}

// ownedAttempt loads an exam the actor owns and one of its attempts.
func ownedAttempt(ctx context.Context, q repository.Queries, examID, attemptID uuid.UUID, actor model.Actor) (*model.Exam, *model.ExamAttempt, error) {
	exam, err := q.GetExam(ctx, examID)
	if err != nil {
		return nil, nil, notFound(err)
	}
	if !actor.Owns(exam.OwnerID) {
		return nil, nil, ErrNotOwner
	}
	attempt, err := q.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, nil, notFound(err)
	}
	if attempt.ExamID != exam.ID {
		return nil, nil, ErrNotFound
	}
	return exam, attempt, nil
}

// checkEnrollment passes when the exam has no enrollments at all, or the
// student is one of them.
func checkEnrollment(ctx context.Context, q repository.Queries, examID uuid.UUID, studentID string) error {
	n, err := q.CountEnrollments(ctx, examID)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	ok, err := q.IsEnrolled(ctx, examID, studentID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotEnrolled
	}
	return nil
}

// hydrate pairs every snapshot question with an answer row, creating blank
// rows for questions the student never answered. Items follow snapshot
// order.
func hydrate(ctx context.Context, q repository.Queries, a *model.ExamAttempt) ([]grading.Item, error) {
	questions, err := q.ListExamQuestions(ctx, a.ExamID)
	if err != nil {
		return nil, fmt.Errorf("list snapshot: %w", err)
	}
	answers, err := q.ListAnswers(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	byQuestion := make(map[uuid.UUID]*model.ExamAnswer, len(answers))
	for i := range answers {
		byQuestion[answers[i].QuestionID] = &answers[i]
	}

	items := make([]grading.Item, 0, len(questions))
	var blanks []model.ExamAnswer
	for i := range questions {
		qu := &questions[i]
		ans, ok := byQuestion[qu.ID]
		if !ok {
			ans = &model.ExamAnswer{ID: uuid.New(), AttemptID: a.ID, QuestionID: qu.ID, MaxScore: qu.Marks}
			blanks = append(blanks, *ans)
		}
		ans.MaxScore = qu.Marks
		items = append(items, grading.Item{Question: qu, Answer: ans})
	}
	if err := q.InsertBlankAnswers(ctx, blanks); err != nil {
		return nil, fmt.Errorf("insert blank answers: %w", err)
	}
	return items, nil
}

func answersOf(items []grading.Item) []model.ExamAnswer {
	out := make([]model.ExamAnswer, len(items))
	for i, it := range items {
		out[i] = *it.Answer
	}
	return out
}

func buildView(ctx context.Context, q repository.Queries, a *model.ExamAttempt, now time.Time) (*model.AttemptView, error) {
	questions, err := q.ListExamQuestions(ctx, a.ExamID)
	if err != nil {
		return nil, err
	}
	answers, err := q.ListAnswers(ctx, a.ID)
	if err != nil {
		return nil, err
	}

	view := &model.AttemptView{
		Attempt:          a,
		RemainingSeconds: a.Remaining(now),
		Questions:        make([]model.StudentQuestion, len(questions)),
		Answers:          make([]model.SavedAnswer, 0, len(answers)),
	}
	for i, qu := range questions {
		view.Questions[i] = model.StudentQuestion{
			ID:           qu.ID,
			Position:     qu.Position,
			QuestionText: qu.QuestionText,
			QuestionType: qu.QuestionType,
			Options:      grading.OptionTexts(qu.Options),
			Marks:        qu.Marks,
		}
	}
	for _, ans := range answers {
		if ans.Answer == nil {
			continue
		}
		view.Answers = append(view.Answers, model.SavedAnswer{
			QuestionID:  ans.QuestionID,
			Answer:      ans.Answer,
			LastSavedAt: ans.LastSavedAt,
		})
	}
	return view, nil
}

func buildReview(exam *model.Exam, a *model.ExamAttempt, items []grading.Item) *model.AttemptReview {
	r := &model.AttemptReview{
		ExamID:         exam.ID,
		ExamTitle:      exam.Title,
		AttemptID:      a.ID,
		StudentID:      a.StudentID,
		Status:         a.Status,
		Score:          a.Score,
		AutoScoreTotal: a.AutoScoreTotal,
		MaxScoreTotal:  a.MaxScoreTotal,
		GradingVersion: a.GradingVersion,
		ReadOnly:       a.Status == model.AttemptStatusEvaluated,
		SubmittedAt:    a.SubmittedAt,
		EvaluatedAt:    a.EvaluatedAt,
		Questions:      make([]model.ReviewQuestion, len(items)),
	}
	for i, it := range items {
		qu, ans := it.Question, it.Answer
		objective := grading.IsObjective(qu.QuestionType)
		rq := model.ReviewQuestion{
			QuestionID:       qu.ID,
			SourceQuestionID: qu.SourceQuestionID,
			QuestionText:     qu.QuestionText,
			QuestionType:     qu.QuestionType,
			Options:          grading.OptionTexts(qu.Options),
			StudentAnswer:    ans.Answer,
			IsObjective:      objective,
			MaxMarks:         qu.Marks,
			AutoScore:        ans.AutoScore,
			ManualScore:      ans.ManualScore,
			FinalScore:       ans.FinalScore,
			IsOverridden:     ans.IsOverridden,
		}
		if objective {
			rq.CorrectAnswer = qu.CorrectAnswer
		}
		r.Questions[i] = rq
	}
	return r
}

// notFound maps a store miss to the domain error and passes anything else
// through.
func notFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
