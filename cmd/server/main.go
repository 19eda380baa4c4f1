package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/cache"
	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/monitor"
	"github.com/stemsi/exstem-proctor/internal/queue"
	"github.com/stemsi/exstem-proctor/internal/router"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	"github.com/stemsi/exstem-proctor/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.Setup("error", "json")
		bootLog.Fatal().Err(err).Msg("Invalid configuration")
	}

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("store", cfg.StoreDriver).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem Proctor")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.System{}

	// ─── Connect to Stores ─────────────────────────────────────────────
	stores, err := database.OpenStores(ctx, cfg, clk, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer stores.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	if rdb != nil {
		defer rdb.Close()
	}

	policy := cfg.Policy

	// ─── Initialize Services ──────────────────────────────────────────
	publisher := monitor.NewPublisher(rdb, log)
	rulesCache := cache.NewRulesCache(rdb, policy.RulesCacheTTL(), stores.Store.GetRules, log)

	authService := service.NewAuthService(cfg)
	attemptService := service.NewAttemptService(stores.Store, stores.Bank, clk, publisher, log)
	examService := service.NewExamService(stores.Store, stores.Bank, rulesCache, policy.DefaultRules(), clk, log)
	sessionService := service.NewSessionService(stores.Store, rulesCache, attemptService, clk, publisher, policy.ReconnectWindow(), log)
	monitorService := service.NewMonitorService(stores.Store, clk)

	// Interface values stay nil when the backing client is absent.
	var (
		pusher  handler.ReportPusher
		backlog handler.BacklogReader
		dbPing  handler.Pinger
		vq      *queue.ViolationQueue
	)
	if rdb != nil {
		vq = queue.NewViolationQueue(rdb)
		pusher, backlog = vq, vq
	}
	if stores.Pool != nil {
		dbPing = stores.Pool
	}

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		StudentPortal: handler.NewStudentPortalHandler(examService, attemptService, log),
		Session:       handler.NewSessionHandler(sessionService, log),
		Exam:          handler.NewExamHandler(examService, attemptService, log),
		Ingest:        handler.NewIngestHandler(pusher, sessionService, log),
		WS:            handler.NewWSHandler(sessionService, attemptService, publisher, log, cfg.AllowedOrigins),
		Monitor:       handler.NewMonitorHandler(monitorService, publisher, log),
		System:        handler.NewSystemHandler(dbPing, rdb, backlog, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	sweep := worker.NewDeadlineSweep(attemptService, worker.NewRedisLocker(rdb, log), clk, worker.SweepOptions{
		Interval:  policy.SweepInterval(),
		LockTTL:   policy.SweepLockTTL(),
		BatchSize: policy.Sweep.BatchSize,
	}, log)
	workers.Add(1)
	go func() {
		defer workers.Done()
		sweep.Start(workerCtx)
	}()

	if vq != nil {
		ingest := worker.NewViolationIngestWorker(vq, sessionService, worker.IngestOptions{
			BatchSize:   policy.Ingest.BatchSize,
			PollTimeout: policy.IngestPollTimeout(),
		}, log)
		workers.Add(1)
		go func() {
			defer workers.Done()
			ingest.Start(workerCtx)
		}()
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(ctx, authService, handlers, cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers; the ingest worker flushes its buffer.
	workerCancel()
	drained := make(chan struct{})
	go func() {
		workers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(worker.IngestShutdownGrace + time.Second):
		log.Warn().Msg("Workers did not stop in time")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
