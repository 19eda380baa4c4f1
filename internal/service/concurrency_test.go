package service

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/monitor"
)

const racers = 20

func TestStart_ConcurrentStartsShareOneAttempt(t *testing.T) {
	f := newFixture(t)
	exam := f.activeExam(t)

	ids := make([]uuid.UUID, racers)
	errs := make([]error, racers)
	var wg sync.WaitGroup
	for i := range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			view, err := f.attempts.Start(f.ctx, exam.ID, alice)
			errs[i] = err
			if err == nil {
				ids[i] = view.Attempt.ID
			}
		}()
	}
	wg.Wait()

	for i := range racers {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Equal(t, 1, f.countEvents(monitor.EventAttemptStarted))

	questions, err := f.store.ListExamQuestions(f.ctx, exam.ID)
	require.NoError(t, err)
	assert.Len(t, questions, 2)
}

func TestSessionStart_ConcurrentStartsShareOneSession(t *testing.T) {
	f := newFixture(t)
	exam := f.activeExam(t)

	ids := make([]uuid.UUID, racers)
	errs := make([]error, racers)
	var wg sync.WaitGroup
	for i := range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, err := f.sessions.Start(f.ctx, exam.ID, alice)
			errs[i] = err
			if err == nil {
				ids[i] = sess.ID
			}
		}()
	}
	wg.Wait()

	for i := range racers {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Equal(t, 1, f.countEvents(monitor.EventSessionStarted))
}

// A save racing a submit either lands before the submission and is graded,
// or is refused. It is never stored after grading.
func TestSaveAnswer_RacingSubmit(t *testing.T) {
	f := newFixture(t)
	exam := f.activeExam(t, "q-mcq")

	for i := range racers {
		student := model.Actor{UserID: fmt.Sprintf("s-%02d", i), Role: model.RoleStudent}
		view, err := f.attempts.Start(f.ctx, exam.ID, student)
		require.NoError(t, err)

		var (
			wg        sync.WaitGroup
			saveErr   error
			submitErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, saveErr = f.attempts.SaveAnswer(f.ctx, view.Attempt.ID, student, model.SaveAnswerRequest{QuestionID: "q-mcq", Answer: model.TextAnswer("2x")})
		}()
		go func() {
			defer wg.Done()
			_, submitErr = f.attempts.Submit(f.ctx, view.Attempt.ID, student)
		}()
		wg.Wait()
		require.NoError(t, submitErr)

		attempt, err := f.store.GetAttempt(f.ctx, view.Attempt.ID)
		require.NoError(t, err)
		assert.Equal(t, model.AttemptStatusEvaluated, attempt.Status)

		answers, err := f.store.ListAnswers(f.ctx, attempt.ID)
		require.NoError(t, err)
		require.Len(t, answers, 1)
		if saveErr == nil {
			assert.Equal(t, 2, attempt.Score, "round %d", i)
			require.NotNil(t, answers[0].Answer)
			assert.Equal(t, 2, *answers[0].FinalScore)
		} else {
			assert.ErrorIs(t, saveErr, ErrNotEditable, "round %d", i)
			assert.Equal(t, 0, attempt.Score, "round %d", i)
			assert.Nil(t, answers[0].Answer)
		}
	}
}
