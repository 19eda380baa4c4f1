// Package memstore is an in-process implementation of repository.Store. It
// backs unit tests and the STORE_DRIVER=memory mode of the server.
package memstore

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

type enrollKey struct {
	examID    uuid.UUID
	studentID string
}

type answerKey struct {
	attemptID  uuid.UUID
	questionID uuid.UUID
}

// state is the whole data set. Its methods assume the caller holds the
// store mutex.
type state struct {
	clk         clock.Clock
	exams       map[uuid.UUID]model.Exam
	questions   map[uuid.UUID][]model.ExamQuestion
	enrollments map[enrollKey]model.Enrollment
	attempts    map[uuid.UUID]model.ExamAttempt
	answers     map[answerKey]model.ExamAnswer
	sessions    map[uuid.UUID]model.ExamSession
	rules       map[uuid.UUID]model.ExamRules
	violations  []model.Violation
}

func (st *state) clone() *state {
	return &state{
		clk:         st.clk,
		exams:       maps.Clone(st.exams),
		questions:   maps.Clone(st.questions),
		enrollments: maps.Clone(st.enrollments),
		attempts:    maps.Clone(st.attempts),
		answers:     maps.Clone(st.answers),
		sessions:    maps.Clone(st.sessions),
		rules:       maps.Clone(st.rules),
		violations:  slices.Clip(st.violations),
	}
}

// Store is a mutex-guarded in-memory repository.Store. Transactions are
// fully serialized and run against a copy that replaces the live state only
// when fn succeeds.
type Store struct {
	mu sync.Mutex
	st *state
}

var _ repository.Store = (*Store)(nil)

// New creates an empty Store that stamps rows with clk.
func New(clk clock.Clock) *Store {
	return &Store{st: &state{
		clk:         clk,
		exams:       make(map[uuid.UUID]model.Exam),
		questions:   make(map[uuid.UUID][]model.ExamQuestion),
		enrollments: make(map[enrollKey]model.Enrollment),
		attempts:    make(map[uuid.UUID]model.ExamAttempt),
		answers:     make(map[answerKey]model.ExamAnswer),
		sessions:    make(map[uuid.UUID]model.ExamSession),
		rules:       make(map[uuid.UUID]model.ExamRules),
	}}
}

// InTx runs fn against a private copy of the state.
func (s *Store) InTx(ctx context.Context, fn func(q repository.Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.st.clone()
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = tx
	return nil
}

// Bank is an in-memory repository.QuestionBank.
type Bank struct {
	mu        sync.RWMutex
	questions map[string]model.BankQuestion
}

// NewBank creates a Bank holding qs.
func NewBank(qs ...model.BankQuestion) *Bank {
	b := &Bank{questions: make(map[string]model.BankQuestion, len(qs))}
	b.Put(qs...)
	return b
}

// Put adds or replaces bank questions.
func (b *Bank) Put(qs ...model.BankQuestion) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, q := range qs {
		b.questions[q.ID] = q
	}
}

func (b *Bank) LookupQuestions(_ context.Context, ids []string) ([]model.BankQuestion, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]model.BankQuestion, 0, len(ids))
	for _, id := range ids {
		if q, ok := b.questions[id]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}
