package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/monitor"
	"github.com/stemsi/exstem-proctor/internal/repository/memstore"
	"github.com/stemsi/exstem-proctor/internal/service"
)

var t0 = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

type mockCloser struct{ mock.Mock }

func (m *mockCloser) ExpiredAttempts(ctx context.Context, after *model.DueAttempt, limit int) ([]model.DueAttempt, error) {
	args := m.Called(ctx, after, limit)
	page, _ := args.Get(0).([]model.DueAttempt)
	return page, args.Error(1)
}

func due(ids ...uuid.UUID) []model.DueAttempt {
	page := make([]model.DueAttempt, len(ids))
	for i, id := range ids {
		page[i] = model.DueAttempt{ID: id, AutoSubmitTime: t0.Add(time.Duration(i) * time.Second)}
	}
	return page
}

func (m *mockCloser) AutoSubmit(ctx context.Context, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

type mockLocker struct{ mock.Mock }

func (m *mockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	args := m.Called(ctx, key, ttl)
	release, _ := args.Get(0).(func())
	return release, args.Bool(1), args.Error(2)
}

func newSweep(closer AttemptCloser, locker Locker, batch int) *DeadlineSweep {
	return NewDeadlineSweep(closer, locker, clock.NewFake(t0), SweepOptions{
		Interval: 30 * time.Second, LockTTL: 25 * time.Second, BatchSize: batch,
	}, zerolog.Nop())
}

func TestRunOnce_SkipsWhenLockHeld(t *testing.T) {
	closer := &mockCloser{}
	locker := &mockLocker{}
	locker.On("TryLock", mock.Anything, "worker:deadline_sweep:lock", 25*time.Second).Return(nil, false, nil)

	n, err := newSweep(closer, locker, 10).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	closer.AssertNotCalled(t, "ExpiredAttempts", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunOnce_PagesUntilDrained(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	released := false

	first := due(a, b)
	closer := &mockCloser{}
	closer.On("ExpiredAttempts", mock.Anything, (*model.DueAttempt)(nil), 2).Return(first, nil).Once()
	closer.On("ExpiredAttempts", mock.Anything, &first[1], 2).Return(due(c), nil).Once()
	closer.On("AutoSubmit", mock.Anything, a).Return(true, nil)
	closer.On("AutoSubmit", mock.Anything, b).Return(false, errors.New("deadlock detected"))
	closer.On("AutoSubmit", mock.Anything, c).Return(true, nil)

	locker := &mockLocker{}
	locker.On("TryLock", mock.Anything, mock.Anything, mock.Anything).Return(func() { released = true }, true, nil)

	n, err := newSweep(closer, locker, 2).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, released)
	closer.AssertExpectations(t)
}

func TestRunOnce_StepsOverFailingPage(t *testing.T) {
	stuck1, stuck2, good := uuid.New(), uuid.New(), uuid.New()
	first := due(stuck1, stuck2)

	closer := &mockCloser{}
	closer.On("ExpiredAttempts", mock.Anything, (*model.DueAttempt)(nil), 2).Return(first, nil).Once()
	closer.On("ExpiredAttempts", mock.Anything, &first[1], 2).Return(due(good), nil).Once()
	closer.On("AutoSubmit", mock.Anything, stuck1).Return(false, errors.New("connection reset"))
	closer.On("AutoSubmit", mock.Anything, stuck2).Return(false, errors.New("connection reset"))
	closer.On("AutoSubmit", mock.Anything, good).Return(true, nil)

	locker := &mockLocker{}
	locker.On("TryLock", mock.Anything, mock.Anything, mock.Anything).Return(func() {}, true, nil)

	n, err := newSweep(closer, locker, 2).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	closer.AssertExpectations(t)
}

func TestRunOnce_ListError(t *testing.T) {
	closer := &mockCloser{}
	closer.On("ExpiredAttempts", mock.Anything, (*model.DueAttempt)(nil), 10).Return(nil, errors.New("pool closed"))
	locker := &mockLocker{}
	locker.On("TryLock", mock.Anything, mock.Anything, mock.Anything).Return(func() {}, true, nil)

	_, err := newSweep(closer, locker, 10).RunOnce(context.Background())
	assert.EqualError(t, err, "pool closed")
}

// The sweep against the real attempt state machine: only attempts past
// their deadline close, each exactly once.
func TestRunOnce_AutoSubmitsDueAttempts(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(t0)
	store := memstore.New(clk)
	bank := memstore.NewBank(model.BankQuestion{ID: "q1", QuestionText: "1+1", QuestionType: "true_false", CorrectAnswer: ptr("true")})
	events := &monitor.Recorder{}
	attempts := service.NewAttemptService(store, bank, clk, events, zerolog.Nop())

	start, end := t0, t0.Add(3*time.Hour)
	exam := &model.Exam{
		Title: "Quiz", DurationMinutes: 30, QuestionIDs: []string{"q1"},
		StartTime: &start, EndTime: &end, Status: model.ExamStatusActive, OwnerID: "t-1",
	}
	require.NoError(t, store.CreateExam(ctx, exam))

	early, err := attempts.Start(ctx, exam.ID, model.Actor{UserID: "s-1", Role: model.RoleStudent})
	require.NoError(t, err)
	clk.Advance(20 * time.Minute)
	late, err := attempts.Start(ctx, exam.ID, model.Actor{UserID: "s-2", Role: model.RoleStudent})
	require.NoError(t, err)

	sweep := NewDeadlineSweep(attempts, NewRedisLocker(nil, zerolog.Nop()), clk, SweepOptions{Interval: time.Second, BatchSize: 10}, zerolog.Nop())

	clk.Advance(15 * time.Minute)
	n, err := sweep.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = sweep.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := store.GetAttempt(ctx, early.Attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubmitReasonAutoSubmit, got.SubmitReason)
	assert.Equal(t, model.AttemptStatusEvaluated, got.Status)

	got, err = store.GetAttempt(ctx, late.Attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusInProgress, got.Status)
}

// failingCloser refuses to close a fixed set of attempts.
type failingCloser struct {
	*service.AttemptService
	fail map[uuid.UUID]bool
}

func (f *failingCloser) AutoSubmit(ctx context.Context, id uuid.UUID) (bool, error) {
	if f.fail[id] {
		return false, errors.New("row is broken")
	}
	return f.AttemptService.AutoSubmit(ctx, id)
}

func TestRunOnce_FailingAttemptsDoNotStarveLaterOnes(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(t0)
	store := memstore.New(clk)
	bank := memstore.NewBank(model.BankQuestion{ID: "q1", QuestionText: "1+1", QuestionType: "true_false", CorrectAnswer: ptr("true")})
	attempts := service.NewAttemptService(store, bank, clk, &monitor.Recorder{}, zerolog.Nop())

	start, end := t0, t0.Add(3*time.Hour)
	exam := &model.Exam{
		Title: "Quiz", DurationMinutes: 30, QuestionIDs: []string{"q1"},
		StartTime: &start, EndTime: &end, Status: model.ExamStatusActive, OwnerID: "t-1",
	}
	require.NoError(t, store.CreateExam(ctx, exam))

	// The two broken attempts have the earliest deadlines and fill a page.
	closer := &failingCloser{AttemptService: attempts, fail: map[uuid.UUID]bool{}}
	for _, student := range []string{"s-1", "s-2"} {
		view, err := attempts.Start(ctx, exam.ID, model.Actor{UserID: student, Role: model.RoleStudent})
		require.NoError(t, err)
		closer.fail[view.Attempt.ID] = true
	}
	clk.Advance(time.Minute)
	good, err := attempts.Start(ctx, exam.ID, model.Actor{UserID: "s-3", Role: model.RoleStudent})
	require.NoError(t, err)

	sweep := NewDeadlineSweep(closer, NewRedisLocker(nil, zerolog.Nop()), clk, SweepOptions{Interval: time.Second, BatchSize: 2}, zerolog.Nop())
	clk.Advance(45 * time.Minute)
	n, err := sweep.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.GetAttempt(ctx, good.Attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusEvaluated, got.Status)

	left, err := attempts.ExpiredAttempts(ctx, nil, 10)
	require.NoError(t, err)
	assert.Len(t, left, 2)
}

func ptr[T any](v T) *T { return &v }
