package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/cache"
	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/monitor"
	"github.com/stemsi/exstem-proctor/internal/repository/memstore"
)

var t0 = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)

var (
	teacher      = model.Actor{UserID: "t-ana", Role: model.RoleTeacher}
	otherTeacher = model.Actor{UserID: "t-budi", Role: model.RoleTeacher}
	admin        = model.Actor{UserID: "root", Role: model.RoleAdmin}
	proctor      = model.Actor{UserID: "p-citra", Role: model.RoleProctor}
	alice        = model.Actor{UserID: "s-alice", Role: model.RoleStudent}
	bob          = model.Actor{UserID: "s-bob", Role: model.RoleStudent}
)

func ptr[T any](v T) *T { return &v }

func bankQuestions() []model.BankQuestion {
	return []model.BankQuestion{
		{
			ID:            "q-mcq",
			QuestionText:  "d/dx x^2 = ?",
			QuestionType:  "mcq",
			Options:       json.RawMessage(`["x", "2x", "3x"]`),
			CorrectAnswer: ptr("2x"),
			Marks:         ptr(2),
		},
		{
			ID:           "q-essay",
			QuestionText: "Explain what a limit is.",
			QuestionType: "essay",
			Marks:        ptr(10),
		},
	}
}

type fixture struct {
	ctx      context.Context
	clk      *clock.Fake
	store    *memstore.Store
	bank     *memstore.Bank
	events   *monitor.Recorder
	attempts *AttemptService
	exams    *ExamService
	sessions *SessionService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zerolog.Nop()
	policy := config.DefaultPolicy()

	f := &fixture{
		ctx:    context.Background(),
		clk:    clock.NewFake(t0),
		bank:   memstore.NewBank(bankQuestions()...),
		events: &monitor.Recorder{},
	}
	f.store = memstore.New(f.clk)
	rules := cache.NewRulesCache(nil, time.Minute, f.store.GetRules, log)

	f.attempts = NewAttemptService(f.store, f.bank, f.clk, f.events, log)
	f.exams = NewExamService(f.store, f.bank, rules, policy.DefaultRules(), f.clk, log)
	f.sessions = NewSessionService(f.store, rules, f.attempts, f.clk, f.events, policy.ReconnectWindow(), log)
	return f
}

// activeExam creates and publishes a 60 minute exam whose two hour window
// opens at t0.
func (f *fixture) activeExam(t *testing.T, questionIDs ...string) *model.Exam {
	t.Helper()
	if len(questionIDs) == 0 {
		questionIDs = []string{"q-mcq", "q-essay"}
	}
	start, end := t0, t0.Add(2*time.Hour)
	exam, err := f.exams.Create(f.ctx, teacher, model.CreateExamRequest{
		Title:           "Calculus midterm",
		DurationMinutes: 60,
		QuestionIDs:     questionIDs,
		StartTime:       &start,
		EndTime:         &end,
	})
	require.NoError(t, err)

	exam, err = f.exams.Publish(f.ctx, teacher, exam.ID, model.PublishExamRequest{})
	require.NoError(t, err)
	return exam
}

func (f *fixture) countEvents(typ string) int {
	n := 0
	for _, got := range f.events.Types() {
		if got == typ {
			n++
		}
	}
	return n
}
