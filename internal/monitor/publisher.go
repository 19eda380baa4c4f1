// Package monitor fans lifecycle events out to teachers watching an exam.
package monitor

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/config"
)

// Event types published on an exam's monitor channel.
const (
	EventAttemptStarted    = "attempt_started"
	EventAttemptSubmitted  = "attempt_submitted"
	EventAttemptGraded     = "attempt_graded"
	EventExamEnded         = "exam_ended"
	EventSessionStarted    = "session_started"
	EventSessionEnded      = "session_ended"
	EventSessionTerminated = "session_terminated"
	EventViolationRecorded = "violation_recorded"
)

// Event is one monitor message.
type Event struct {
	Type      string         `json:"type"`
	ExamID    uuid.UUID      `json:"exam_id"`
	StudentID string         `json:"student_id,omitempty"`
	AttemptID *uuid.UUID     `json:"attempt_id,omitempty"`
	SessionID *uuid.UUID     `json:"session_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	At        time.Time      `json:"at"`
}

// Notifier receives lifecycle events. Publishing is best-effort and never
// fails the operation that produced the event.
type Notifier interface {
	Publish(ctx context.Context, ev Event)
}

// Publisher publishes events on Redis Pub/Sub. A nil client drops events.
type Publisher struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewPublisher creates a new Publisher.
func NewPublisher(rdb *redis.Client, log zerolog.Logger) *Publisher {
	return &Publisher{rdb: rdb, log: log.With().Str("component", "monitor_publisher").Logger()}
}

func (p *Publisher) Publish(ctx context.Context, ev Event) {
	if p.rdb == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		p.log.Error().Err(err).Str("type", ev.Type).Msg("Failed to marshal monitor event")
		return
	}

	pipe := p.rdb.Pipeline()
	pipe.Publish(ctx, config.CacheKey.ExamMonitorChannel(ev.ExamID.String()), payload)
	if ev.SessionID != nil {
		pipe.Publish(ctx, config.CacheKey.SessionStreamChannel(ev.SessionID.String()), payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		p.log.Warn().Err(err).Str("type", ev.Type).Str("exam_id", ev.ExamID.String()).Msg("Failed to publish monitor event")
	}
}

// Subscribe opens a subscription to an exam's monitor channel. It returns
// nil when Redis is not configured.
func (p *Publisher) Subscribe(ctx context.Context, examID uuid.UUID) *redis.PubSub {
	if p.rdb == nil {
		return nil
	}
	return p.rdb.Subscribe(ctx, config.CacheKey.ExamMonitorChannel(examID.String()))
}

// SubscribeSession opens a subscription to one session's event stream.
func (p *Publisher) SubscribeSession(ctx context.Context, sessionID uuid.UUID) *redis.PubSub {
	if p.rdb == nil {
		return nil
	}
	return p.rdb.Subscribe(ctx, config.CacheKey.SessionStreamChannel(sessionID.String()))
}

// Recorder is an in-memory Notifier for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// Types lists the recorded event types in order.
func (r *Recorder) Types() []string {
	events := r.Events()
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}
