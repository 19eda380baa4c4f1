package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/queue"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const (
	IngestBatchTimeout  = 2 * time.Second
	IngestErrorBackoff  = 3 * time.Second
	IngestShutdownGrace = 5 * time.Second
)

// ReportSource is the queue the worker drains.
type ReportSource interface {
	Pop(ctx context.Context, timeout time.Duration) (*model.ViolationReport, error)
	Push(ctx context.Context, reports ...model.ViolationReport) error
}

// ViolationRecorder records one violation and applies thresholds.
type ViolationRecorder interface {
	RecordViolation(ctx context.Context, actor model.Actor, report model.ViolationReport) (*service.ViolationResult, error)
}

// IngestOptions tunes the ingest worker.
type IngestOptions struct {
	BatchSize      int
	PollTimeout    time.Duration
	RequeueBackoff time.Duration
}

// ViolationIngestWorker drains queued AI and proctor reports into the
// session engine. Reports are applied one at a time in queue order, since
// each may move a session across a threshold.
type ViolationIngestWorker struct {
	source   ReportSource
	recorder ViolationRecorder
	opts     IngestOptions
	log      zerolog.Logger
}

// NewViolationIngestWorker creates a new ViolationIngestWorker.
func NewViolationIngestWorker(source ReportSource, recorder ViolationRecorder, opts IngestOptions, log zerolog.Logger) *ViolationIngestWorker {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.PollTimeout < time.Second {
		opts.PollTimeout = time.Second // Redis BLPOP granularity
	}
	return &ViolationIngestWorker{
		source:   source,
		recorder: recorder,
		opts:     opts,
		log:      log.With().Str("component", "violation_ingest_worker").Logger(),
	}
}

func (w *ViolationIngestWorker) Start(ctx context.Context) {
	w.log.Info().Int("batch_size", w.opts.BatchSize).Msg("Violation ingest worker started")

	buffer := make([]model.ViolationReport, 0, w.opts.BatchSize)
	lastFlush := time.Now()

	for {
		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		if len(buffer) > 0 && (len(buffer) >= w.opts.BatchSize || time.Since(lastFlush) >= IngestBatchTimeout) {
			w.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		report, err := w.source.Pop(ctx, w.opts.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			if errors.Is(err, queue.ErrMalformed) {
				metrics.ViolationsIngested.WithLabelValues("malformed").Inc()
				w.log.Error().Err(err).Msg("Discarding malformed report")
				continue
			}
			w.log.Error().Err(err).Dur("backoff", IngestErrorBackoff).Msg("Queue read failed")
			sleep(ctx, IngestErrorBackoff)
			continue
		}
		if report == nil {
			continue
		}
		buffer = append(buffer, *report)
	}
}

// flushSafe records each report. Reports the engine rejects are dropped;
// reports that failed for any other reason go back on the queue.
func (w *ViolationIngestWorker) flushSafe(ctx context.Context, batch []model.ViolationReport) {
	var requeue []model.ViolationReport
	recorded := 0

	for _, r := range batch {
		_, err := w.recorder.RecordViolation(ctx, service.IngestActor, r)
		switch {
		case err == nil:
			recorded++
			metrics.ViolationsIngested.WithLabelValues("recorded").Inc()
		case permanent(err):
			metrics.ViolationsIngested.WithLabelValues("dropped").Inc()
			w.log.Warn().Err(err).Str("type", r.Type).Msg("Dropping rejected report")
		default:
			w.log.Error().Err(err).Str("type", r.Type).Msg("Recording failed, requeueing")
			requeue = append(requeue, r)
		}
	}

	if len(requeue) > 0 {
		w.requeue(ctx, requeue)
	}
	w.log.Debug().Int("recorded", recorded).Int("requeued", len(requeue)).Msg("Batch flushed")
}

func (w *ViolationIngestWorker) requeue(ctx context.Context, items []model.ViolationReport) {
	if err := w.source.Push(ctx, items...); err != nil {
		metrics.ViolationsIngested.WithLabelValues("lost").Add(float64(len(items)))
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: failed to requeue reports, data lost")
		return
	}
	metrics.ViolationsIngested.WithLabelValues("requeued").Add(float64(len(items)))
	w.log.Info().Int("count", len(items)).Msg("Requeued failed reports")
	// Back off so a down database is not hammered with the same batch.
	sleep(ctx, w.opts.RequeueBackoff)
}

func (w *ViolationIngestWorker) shutdown(buffer []model.ViolationReport) {
	w.log.Info().Int("pending", len(buffer)).Msg("Worker stopping, flushing remaining buffer")
	if len(buffer) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), IngestShutdownGrace)
	defer cancel()
	w.flushSafe(ctx, buffer)
}

// permanent reports whether retrying the report can never succeed.
func permanent(err error) bool {
	return errors.Is(err, service.ErrInvalidViolation) ||
		errors.Is(err, service.ErrNotFound) ||
		errors.Is(err, service.ErrForbidden)
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
