package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// MonitorSnapshot is the state a teacher sees on attaching to the live
// monitor, before events start to flow.
type MonitorSnapshot struct {
	Exam            *model.Exam                 `json:"exam"`
	EffectiveStatus model.ExamStatus            `json:"effective_status"`
	Attempts        map[model.AttemptStatus]int `json:"attempts"`
}

// MonitorService builds live monitor snapshots.
type MonitorService struct {
	store repository.Store
	clock clock.Clock
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(store repository.Store, clk clock.Clock) *MonitorService {
	return &MonitorService{store: store, clock: clk}
}

var monitoredStatuses = []model.AttemptStatus{
	model.AttemptStatusInProgress,
	model.AttemptStatusSubmitted,
	model.AttemptStatusPartiallyEvaluated,
	model.AttemptStatusEvaluated,
}

// Snapshot counts the exam's attempts per status. Only the exam owner or an
// admin may read it. The counts are fetched concurrently.
func (s *MonitorService) Snapshot(ctx context.Context, examID uuid.UUID, actor model.Actor) (*MonitorSnapshot, error) {
	exam, err := s.store.GetExam(ctx, examID)
	if err != nil {
		return nil, notFound(err)
	}
	if !actor.Owns(exam.OwnerID) {
		return nil, ErrNotOwner
	}

	counts := make([]int, len(monitoredStatuses))
	errs := make([]error, len(monitoredStatuses))
	var wg sync.WaitGroup
	for i, status := range monitoredStatuses {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids, err := s.store.ListAttemptIDsByStatus(ctx, examID, status)
			counts[i], errs[i] = len(ids), err
		}()
	}
	wg.Wait()

	snap := &MonitorSnapshot{
		Exam:            exam,
		EffectiveStatus: exam.EffectiveStatus(s.clock.Now()),
		Attempts:        make(map[model.AttemptStatus]int, len(monitoredStatuses)),
	}
	for i, status := range monitoredStatuses {
		if errs[i] != nil {
			return nil, fmt.Errorf("count %s attempts: %w", status, errs[i])
		}
		snap.Attempts[status] = counts[i]
	}
	return snap, nil
}
