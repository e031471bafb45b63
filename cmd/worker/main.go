// Package main is the entry point for the ledgercore background worker.
// It runs the daily expiry and variance jobs and relays escalations.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"ledgercore/internal/app"
	"ledgercore/internal/config"
	"ledgercore/internal/domain/audit"
	"ledgercore/internal/infrastructure/storage/postgres"
	"ledgercore/internal/jobs"
	"ledgercore/pkg/logger"
)

const (
	jobExpiry          = "batch-expiry"
	jobVarianceSummary = "variance-summary"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.Development(),
		Process:     "worker",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(logger.WithLogger(context.Background(), log))
	defer cancel()

	log.Infow("starting ledgercore worker", "store", cfg.Store)

	a, err := app.New(ctx, cfg, true)
	if err != nil {
		log.Fatalw("failed to initialize application", "error", err)
	}
	defer a.Close()

	if a.Memory != nil {
		log.Warn("memory store selected: the worker only sees its own data")
	}

	worker, err := NewWorker(a, log)
	if err != nil {
		log.Fatalw("failed to register jobs", "error", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	cancel()

	wg.Wait()
	log.Info("worker stopped")
}

// Worker drives the scheduler and the outbox relay.
type Worker struct {
	app       *app.App
	scheduler *jobs.Scheduler
	handler   audit.MessageHandler
	log       *logger.Logger
}

// NewWorker registers the daily jobs.
func NewWorker(a *app.App, log *logger.Logger) (*Worker, error) {
	s := jobs.NewScheduler(a.Clock, a.Config.Location, jobs.WithTick(a.Config.SchedulerTick))

	err := s.Add(jobExpiry, a.Config.ExpiryJobAt, func(ctx context.Context) error {
		_, err := a.Expiry.MarkExpiredBatches(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	// The summary covers the previous day.
	err = s.Add(jobVarianceSummary, a.Config.VarianceJobAt, func(ctx context.Context) error {
		_, err := a.Variance.RunDailySummary(ctx, time.Time{})
		return err
	})
	if err != nil {
		return nil, err
	}

	return &Worker{
		app:       a,
		scheduler: s,
		handler:   audit.LogHandler{},
		log:       log.WithComponent("worker"),
	}, nil
}

// Run blocks until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	for _, st := range w.scheduler.Statuses() {
		w.log.Infow("job registered", "job", st.Name, "at", st.At, "next_run", st.NextRun)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.scheduler.Start(ctx)
	}()

	outboxTicker := time.NewTicker(w.app.Config.OutboxInterval)
	defer outboxTicker.Stop()

	cleanupTicker := time.NewTicker(time.Hour)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-outboxTicker.C:
			w.relayOutbox(ctx)
		case <-cleanupTicker.C:
			w.cleanupIdempotency(ctx)
			if w.app.Pool != nil {
				postgres.LogPoolStats(ctx, w.app.Pool.Unwrap())
			}
		}
	}
}

func (w *Worker) relayOutbox(ctx context.Context) {
	n, err := w.app.RelayOutbox(ctx, w.handler)
	if err != nil {
		w.log.Errorw("outbox relay failed", "error", err)
		return
	}
	if n > 0 {
		w.log.Debugw("relayed escalations", "count", n)
	}
}

func (w *Worker) cleanupIdempotency(ctx context.Context) {
	n, err := w.app.Idempotency.CleanupExpired(ctx)
	if err != nil {
		w.log.Errorw("idempotency cleanup failed", "error", err)
		return
	}
	if n > 0 {
		w.log.Infow("cleaned up idempotency keys", "count", n)
	}
}
