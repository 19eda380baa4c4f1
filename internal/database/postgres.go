package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/repository/memstore"
)

// NewPostgresPool creates and validates a PostgreSQL connection pool.
func NewPostgresPool(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxDBConns
	poolCfg.HealthCheckPeriod = 30 * time.Second
	// Timestamps are compared against the application clock, which is UTC.
	poolCfg.ConnConfig.RuntimeParams["timezone"] = "UTC"

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info().
		Int32("max_conns", cfg.MaxDBConns).
		Msg("PostgreSQL connected")

	return pool, nil
}

// Stores bundles the data-access dependencies the services need.
type Stores struct {
	Store repository.Store
	Bank  repository.QuestionBank
	// Pool is nil for the memory driver.
	Pool *pgxpool.Pool
}

// Close releases the pool, if any.
func (s *Stores) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// OpenStores builds the store selected by STORE_DRIVER. The memory driver
// starts with an empty question bank; it is meant for local runs and demos.
func OpenStores(ctx context.Context, cfg *config.Config, clk clock.Clock, log zerolog.Logger) (*Stores, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		log.Warn().Msg("Using in-memory store, data is lost on restart")
		return &Stores{Store: memstore.New(clk), Bank: memstore.NewBank()}, nil
	default:
		pool, err := NewPostgresPool(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return &Stores{
			Store: repository.NewPostgresStore(pool),
			Bank:  repository.NewBankRepository(pool),
			Pool:  pool,
		}, nil
	}
}
