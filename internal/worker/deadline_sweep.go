package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// AttemptCloser is the part of the attempt service the sweep drives.
type AttemptCloser interface {
	ExpiredAttempts(ctx context.Context, after *model.DueAttempt, limit int) ([]model.DueAttempt, error)
	AutoSubmit(ctx context.Context, attemptID uuid.UUID) (bool, error)
}

// Locker elects one replica per sweep tick.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// SweepOptions tunes the deadline sweep.
type SweepOptions struct {
	Interval  time.Duration
	LockTTL   time.Duration
	BatchSize int
}

// DeadlineSweep auto-submits attempts whose deadline has passed. Each tick
// is safe to run concurrently with student submits and with other replicas:
// AutoSubmit re-checks the attempt under its row lock.
type DeadlineSweep struct {
	attempts AttemptCloser
	locker   Locker
	clock    clock.Clock
	opts     SweepOptions
	log      zerolog.Logger
}

// NewDeadlineSweep creates a new DeadlineSweep.
func NewDeadlineSweep(attempts AttemptCloser, locker Locker, clk clock.Clock, opts SweepOptions, log zerolog.Logger) *DeadlineSweep {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 200
	}
	return &DeadlineSweep{
		attempts: attempts,
		locker:   locker,
		clock:    clk,
		opts:     opts,
		log:      log.With().Str("component", "deadline_sweep").Logger(),
	}
}

// Start runs a tick immediately and then on every interval until ctx is
// cancelled.
func (w *DeadlineSweep) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.opts.Interval).Msg("Deadline sweep started")
	w.tick(ctx)

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Deadline sweep stopped")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *DeadlineSweep) tick(ctx context.Context) {
	if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
		w.log.Error().Err(err).Msg("Deadline sweep failed")
	}
}

// RunOnce submits every attempt that is due at the current time and
// returns how many it closed. A tick that loses the lock does nothing.
func (w *DeadlineSweep) RunOnce(ctx context.Context) (int, error) {
	started := w.clock.Now()

	release, ok, err := w.locker.TryLock(ctx, config.CacheKey.SweepLockKey(), w.opts.LockTTL)
	if err != nil {
		metrics.SweepRuns.WithLabelValues("error").Inc()
		return 0, err
	}
	if !ok {
		metrics.SweepRuns.WithLabelValues("skipped").Inc()
		w.log.Debug().Msg("Sweep lock held elsewhere, skipping tick")
		return 0, nil
	}
	defer release()

	// Pages are keyed on (deadline, id), so attempts that fail to close are
	// stepped over and retried on the next tick instead of blocking the rest.
	var (
		closed int
		after  *model.DueAttempt
	)
	for {
		page, err := w.attempts.ExpiredAttempts(ctx, after, w.opts.BatchSize)
		if err != nil {
			metrics.SweepRuns.WithLabelValues("error").Inc()
			return closed, err
		}

		for _, due := range page {
			if ctx.Err() != nil {
				return closed, ctx.Err()
			}
			done, err := w.attempts.AutoSubmit(ctx, due.ID)
			if err != nil {
				w.log.Error().Err(err).Str("attempt_id", due.ID.String()).Msg("Auto-submit failed")
				continue
			}
			if done {
				closed++
			}
		}
		if len(page) < w.opts.BatchSize {
			break
		}
		after = &page[len(page)-1]
	}

	metrics.SweepRuns.WithLabelValues("ok").Inc()
	metrics.SweepDuration.Observe(w.clock.Now().Sub(started).Seconds())
	if closed > 0 {
		w.log.Info().Int("closed", closed).Msg("Auto-submitted expired attempts")
	}
	return closed, nil
}

// ─── Locking ─────────────────────────────────────────────────────────

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker takes a SET NX lease per key. A nil client always grants the
// lock, which suits a single replica.
type RedisLocker struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewRedisLocker creates a new RedisLocker.
func NewRedisLocker(rdb *redis.Client, log zerolog.Logger) *RedisLocker {
	return &RedisLocker{rdb: rdb, log: log.With().Str("component", "redis_locker").Logger()}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	if l.rdb == nil {
		return func() {}, true, nil
	}
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := unlockScript.Run(ctx, l.rdb, []string{key}, token).Err(); err != nil {
			l.log.Warn().Err(err).Str("key", key).Msg("Lock release failed, lease will expire")
		}
	}
	return release, true, nil
}
