// Package queue carries inbound violation reports from the HTTP edge to the
// ingest worker over a Redis list.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ErrMalformed is returned by Pop for an entry that cannot be decoded. The
// entry has already been removed from the queue.
var ErrMalformed = errors.New("malformed queue entry")

// ViolationQueue is a FIFO of violation reports.
type ViolationQueue struct {
	rdb *redis.Client
	key string
}

// NewViolationQueue creates a queue on the configured ingest list.
func NewViolationQueue(rdb *redis.Client) *ViolationQueue {
	return &ViolationQueue{rdb: rdb, key: config.WorkerKey.ViolationIngestQueue}
}

// Push appends reports to the tail of the queue.
func (q *ViolationQueue) Push(ctx context.Context, reports ...model.ViolationReport) error {
	if len(reports) == 0 {
		return nil
	}
	pipe := q.rdb.Pipeline()
	for _, r := range reports {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal report: %w", err)
		}
		pipe.RPush(ctx, q.key, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push reports: %w", err)
	}
	return nil
}

// Pop blocks up to timeout for the head of the queue. It returns (nil, nil)
// when the queue stayed empty. Redis requires timeout >= 1s.
func (q *ViolationQueue) Pop(ctx context.Context, timeout time.Duration) (*model.ViolationReport, error) {
	result, err := q.rdb.BLPop(ctx, timeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}

	var r model.ViolationReport
	if err := json.Unmarshal([]byte(result[1]), &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &r, nil
}

// Len reports the current backlog.
func (q *ViolationQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.key).Result()
}
