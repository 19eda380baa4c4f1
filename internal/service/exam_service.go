package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/cache"
	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// ExamService handles exam administration: creation, publishing, rules and
// enrollment, plus the student's list of available exams.
type ExamService struct {
	store    repository.Store
	bank     repository.QuestionBank
	rules    *cache.RulesCache
	defaults model.ExamRules
	clock    clock.Clock
	log      zerolog.Logger
}

// NewExamService creates a new ExamService. defaults fills any rule a
// teacher leaves unset the first time rules are configured.
func NewExamService(
	store repository.Store,
	bank repository.QuestionBank,
	rules *cache.RulesCache,
	defaults model.ExamRules,
	clk clock.Clock,
	log zerolog.Logger,
) *ExamService {
	return &ExamService{
		store:    store,
		bank:     bank,
		rules:    rules,
		defaults: defaults,
		clock:    clk,
		log:      log.With().Str("component", "exam_service").Logger(),
	}
}

// Create inserts a new SCHEDULED exam owned by the caller.
func (s *ExamService) Create(ctx context.Context, actor model.Actor, req model.CreateExamRequest) (*model.Exam, error) {
	if !model.ValidWindow(req.StartTime, req.EndTime) {
		return nil, ErrInvalidWindow
	}
	exam := &model.Exam{
		Title:           req.Title,
		Description:     req.Description,
		DurationMinutes: req.DurationMinutes,
		QuestionIDs:     req.QuestionIDs,
		StartTime:       utcPtr(req.StartTime),
		EndTime:         utcPtr(req.EndTime),
		Status:          model.ExamStatusScheduled,
		ResultsVisible:  req.ResultsVisible,
		OwnerID:         actor.UserID,
	}
	if err := s.store.CreateExam(ctx, exam); err != nil {
		return nil, fmt.Errorf("create exam: %w", err)
	}

	s.log.Info().
		Str("exam_id", exam.ID.String()).
		Str("owner_id", exam.OwnerID).
		Int("questions", len(exam.QuestionIDs)).
		Msg("Exam created")
	return exam, nil
}

// Publish moves a SCHEDULED exam to ACTIVE. The request may replace the
// window; the resulting window must be complete and valid.
func (s *ExamService) Publish(ctx context.Context, actor model.Actor, examID uuid.UUID, req model.PublishExamRequest) (*model.Exam, error) {
	var exam *model.Exam
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		var err error
		exam, err = q.LockExam(ctx, examID)
		if err != nil {
			return notFound(err)
		}
		if !actor.Owns(exam.OwnerID) {
			return ErrNotOwner
		}
		if exam.Status != model.ExamStatusScheduled {
			return ErrExamNotSchedulable
		}
		if req.StartTime != nil || req.EndTime != nil {
			if !model.ValidWindow(req.StartTime, req.EndTime) {
				return ErrInvalidWindow
			}
			exam.StartTime, exam.EndTime = utcPtr(req.StartTime), utcPtr(req.EndTime)
		}
		if !exam.HasWindow() || !model.ValidWindow(exam.StartTime, exam.EndTime) {
			return ErrInvalidWindow
		}

		found, err := s.bank.LookupQuestions(ctx, exam.QuestionIDs)
		if err != nil {
			return fmt.Errorf("lookup bank questions: %w", err)
		}
		if len(found) == 0 {
			return ErrNoQuestions
		}

		exam.Status = model.ExamStatusActive
		return q.UpdateExam(ctx, exam)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("exam_id", exam.ID.String()).
		Time("start_time", *exam.StartTime).
		Time("end_time", *exam.EndTime).
		Msg("Exam published")
	return exam, nil
}

// ConfigureRules creates or updates the exam's proctoring rules.
func (s *ExamService) ConfigureRules(ctx context.Context, actor model.Actor, examID uuid.UUID, req model.ConfigureRulesRequest) (*model.ExamRules, error) {
	var rules model.ExamRules
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		exam, err := q.GetExam(ctx, examID)
		if err != nil {
			return notFound(err)
		}
		if !actor.Owns(exam.OwnerID) {
			return ErrNotOwner
		}

		base := s.defaults
		current, err := q.GetRules(ctx, examID)
		switch {
		case err == nil:
			base = *current
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}
		base.ExamID = examID

		rules = req.Apply(base)
		return q.UpsertRules(ctx, &rules)
	})
	if err != nil {
		return nil, err
	}

	s.rules.Invalidate(ctx, examID)
	s.log.Info().
		Str("exam_id", examID.String()).
		Int("severe", rules.ViolationThresholdSevere).
		Int("major", rules.ViolationThresholdMajor).
		Int("minor", rules.ViolationThresholdMinor).
		Msg("Exam rules configured")
	return &rules, nil
}

// Enroll admits students to the exam and returns how many were new.
func (s *ExamService) Enroll(ctx context.Context, actor model.Actor, examID uuid.UUID, studentIDs []string) (int, error) {
	if _, err := s.OwnedExam(ctx, examID, actor); err != nil {
		return 0, err
	}
	added, err := s.store.AddEnrollments(ctx, examID, studentIDs)
	if err != nil {
		return 0, fmt.Errorf("add enrollments: %w", err)
	}
	s.log.Info().Str("exam_id", examID.String()).Int("added", added).Msg("Students enrolled")
	return added, nil
}

// OwnedExam returns the exam if the actor owns it.
func (s *ExamService) OwnedExam(ctx context.Context, examID uuid.UUID, actor model.Actor) (*model.Exam, error) {
	exam, err := s.store.GetExam(ctx, examID)
	if err != nil {
		return nil, notFound(err)
	}
	if !actor.Owns(exam.OwnerID) {
		return nil, ErrNotOwner
	}
	return exam, nil
}

// ListAvailable returns the exams a student may still take: window not yet
// over, SCHEDULED or ACTIVE, enrolled or open, and no closed attempt.
func (s *ExamService) ListAvailable(ctx context.Context, student model.Actor) ([]model.AvailableExam, error) {
	now := s.clock.Now()
	exams, err := s.store.ListExamsWithWindow(ctx)
	if err != nil {
		return nil, fmt.Errorf("list exams: %w", err)
	}

	out := make([]model.AvailableExam, 0, len(exams))
	for i := range exams {
		exam := &exams[i]
		status := exam.EffectiveStatus(now)
		if status == model.ExamStatusEnded {
			continue
		}
		if err := checkEnrollment(ctx, s.store, exam.ID, student.UserID); err != nil {
			if errors.Is(err, ErrNotEnrolled) {
				continue
			}
			return nil, err
		}

		item := model.AvailableExam{Exam: *exam, EffectiveStatus: status}
		attempt, err := s.store.GetAttemptByStudent(ctx, exam.ID, student.UserID)
		switch {
		case err == nil:
			if attempt.Status.Closed() {
				continue
			}
			item.AttemptStatus = &attempt.Status
		case !errors.Is(err, repository.ErrNotFound):
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}
