// Package cache holds the Redis read-through caches.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// noRules marks an exam known to have no rules row.
const noRules = "none"

// genTTL bounds how long an exam's invalidation counter outlives its last bump.
// A reader holding an expired generation simply skips its write-back.
const genTTL = 24 * time.Hour

// writeBackScript stores a loaded value only if no invalidation happened
// since the load began. A missing counter reads as "0"; a zero TTL keeps the
// entry until the next invalidation.
var writeBackScript = redis.NewScript(`
local gen = redis.call("GET", KEYS[2]) or "0"
if gen ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
else
	redis.call("SET", KEYS[1], ARGV[2])
end
return 1
`)

// RulesLoader fetches rules from the store. It returns repository.ErrNotFound
// when the exam has none.
type RulesLoader func(ctx context.Context, examID uuid.UUID) (*model.ExamRules, error)

// RulesCache is a read-through cache of ExamRules. Redis failures degrade to
// loading from the store. A nil client disables caching.
type RulesCache struct {
	rdb  *redis.Client
	ttl  time.Duration
	load RulesLoader
	log  zerolog.Logger
}

// NewRulesCache creates a new RulesCache.
func NewRulesCache(rdb *redis.Client, ttl time.Duration, load RulesLoader, log zerolog.Logger) *RulesCache {
	return &RulesCache{
		rdb:  rdb,
		ttl:  ttl,
		load: load,
		log:  log.With().Str("component", "rules_cache").Logger(),
	}
}

// Get returns the exam's rules, or (nil, nil) when none are configured.
func (c *RulesCache) Get(ctx context.Context, examID uuid.UUID) (*model.ExamRules, error) {
	key := config.CacheKey.ExamRulesKey(examID.String())
	genKey := config.CacheKey.ExamRulesGenKey(examID.String())

	gen := ""
	if c.rdb != nil {
		data, err := c.rdb.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			if string(data) == noRules {
				return nil, nil
			}
			var r model.ExamRules
			if err := json.Unmarshal(data, &r); err == nil {
				return &r, nil
			}
			c.log.Warn().Str("exam_id", examID.String()).Msg("Corrupt cached rules, reloading")
		case !errors.Is(err, redis.Nil):
			c.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Rules cache read failed")
		}

		// The generation must be read before loading: an Invalidate that
		// lands after this point bumps it and turns the write-back into a no-op.
		gen, err = c.rdb.Get(ctx, genKey).Result()
		switch {
		case errors.Is(err, redis.Nil):
			gen = "0"
		case err != nil:
			gen = ""
		}
	}

	rules, err := c.load(ctx, examID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	if gen != "" {
		payload := []byte(noRules)
		if rules != nil {
			payload, _ = json.Marshal(rules)
		}
		err := writeBackScript.Run(ctx, c.rdb, []string{key, genKey}, gen, payload, c.ttl.Milliseconds()).Err()
		if err != nil {
			c.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Rules cache write failed")
		}
	}
	return rules, nil
}

// Invalidate drops the cached entry so the next Get reloads. It also bumps
// the exam's generation, so a Get that loaded before the change cannot
// write its stale copy back.
func (c *RulesCache) Invalidate(ctx context.Context, examID uuid.UUID) {
	if c.rdb == nil {
		return
	}
	genKey := config.CacheKey.ExamRulesGenKey(examID.String())
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, genTTL)
		pipe.Del(ctx, config.CacheKey.ExamRulesKey(examID.String()))
		return nil
	})
	if err != nil {
		c.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Rules cache invalidation failed")
	}
}
