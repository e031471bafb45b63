// Package app wires the ledger services onto the configured store.
package app

import (
	"context"
	"fmt"

	"ledgercore/internal/config"
	"ledgercore/internal/core/clock"
	"ledgercore/internal/core/idempotency"
	"ledgercore/internal/core/tx"
	"ledgercore/internal/domain/audit"
	"ledgercore/internal/domain/batch"
	"ledgercore/internal/domain/expiry"
	"ledgercore/internal/domain/sale"
	"ledgercore/internal/domain/sequence"
	"ledgercore/internal/domain/variance"
	"ledgercore/internal/infrastructure/storage/memory"
	"ledgercore/internal/infrastructure/storage/postgres"
	"ledgercore/internal/infrastructure/storage/postgres/register_repo"
	"ledgercore/internal/infrastructure/storage/postgres/report_repo"
	"ledgercore/internal/infrastructure/storage/postgres/sequence_repo"
	"ledgercore/pkg/logger"
)

// OutboxBatchSize is the number of escalations relayed per poll.
const OutboxBatchSize = 100

// App holds the wired services of one process.
type App struct {
	Config *config.Config
	Clock  clock.Clock
	TxM    tx.Manager

	Sequences *sequence.Service
	Batches   *batch.Service
	Sales     *sale.Service
	Expiry    *expiry.Service
	Variance  *variance.Detector

	Idempotency idempotency.Store

	// Exactly one of Pool and Memory is set.
	Pool   *postgres.Pool
	Memory *memory.Store

	relay *postgres.OutboxRelay
}

// batchStore is served by both the memory and the postgres batch repos.
type batchStore interface {
	batch.Repository
	expiry.Repository
}

type repositories struct {
	periods  sequence.Repository
	batches  batchStore
	reports  variance.Repository
	recorder audit.Recorder
	outbox   audit.Escalator
}

// New connects to the store named by cfg and builds the services. For
// postgres the schema is migrated when migrate is set.
func New(ctx context.Context, cfg *config.Config, migrate bool) (*App, error) {
	a := &App{Config: cfg, Clock: clock.NewReal(cfg.Location)}

	var repos repositories
	switch cfg.Store {
	case config.StoreMemory:
		store := memory.New(memory.WithLockWait(cfg.Database.LockTimeout))
		a.Memory = store
		a.TxM = store
		a.Idempotency = memory.NewIdempotencyStore(cfg.IdempotencyTTL)
		repos = repositories{
			periods:  store.Periods(),
			batches:  store.Batches(),
			reports:  store.Reports(),
			recorder: store.AuditLog(),
			outbox:   store.Outbox(),
		}

	case config.StorePostgres:
		poolCfg := postgres.DefaultPoolConfig(cfg.Database.URL)
		poolCfg.MaxConns = cfg.Database.MaxConns
		poolCfg.MinConns = cfg.Database.MinConns
		poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime

		pool, err := postgres.NewPool(ctx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("connect: %w", err)
		}
		a.Pool = pool

		opts := postgres.DefaultTxOptions()
		opts.LockTimeout = cfg.Database.LockTimeout
		opts.StatementTimeout = cfg.Database.StatementTimeout
		txm := postgres.NewTxManager(pool, opts)
		a.TxM = txm

		if migrate {
			if err := postgres.Migrate(ctx, txm); err != nil {
				pool.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}

		auditSvc, err := postgres.NewAuditService(txm)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("audit service: %w", err)
		}
		a.relay = postgres.NewOutboxRelay(txm, OutboxBatchSize)
		a.Idempotency = postgres.NewIdempotencyStore(txm, cfg.IdempotencyTTL)
		repos = repositories{
			periods:  sequence_repo.NewPeriodRepo(txm),
			batches:  register_repo.NewBatchRepo(txm),
			reports:  report_repo.NewReportRepo(txm),
			recorder: auditSvc,
			outbox:   postgres.NewOutboxPublisher(txm),
		}

	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}

	if err := a.wire(repos); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(r repositories) error {
	det, err := variance.NewDetector(r.reports, a.TxM, a.Clock, a.Config.Variance)
	if err != nil {
		return fmt.Errorf("variance detector: %w", err)
	}
	a.Variance = det.WithEscalator(r.outbox)

	a.Sequences = sequence.NewService(r.periods, a.TxM, a.Clock, a.Config.Numbering).WithAudit(r.recorder)
	a.Batches = batch.NewService(r.batches, a.TxM, a.Clock).WithAudit(r.recorder).WithObserver(a.Variance)
	a.Sales = sale.NewService(a.Sequences, a.Batches, a.TxM, a.Clock, sale.DefaultSeries)
	a.Expiry = expiry.NewService(r.batches, a.TxM, a.Clock, r.recorder).WithThresholds(a.Config.NearExpiryThresholds)
	return nil
}

// StoreName is "postgres" or "memory".
func (a *App) StoreName() string {
	return a.Config.Store
}

// Ping checks the database. The memory store is always reachable.
func (a *App) Ping(ctx context.Context) error {
	if a.Pool == nil {
		return nil
	}
	return a.Pool.Ping(ctx)
}

// PoolStats reports connection pool usage, or nil for the memory store.
func (a *App) PoolStats() any {
	if a.Pool == nil {
		return nil
	}
	return postgres.GetPoolStats(a.Pool.Unwrap())
}

// RelayOutbox delivers pending escalations to h and returns how many were
// delivered. On postgres, messages that exhausted their retries move to the
// dead letter table.
func (a *App) RelayOutbox(ctx context.Context, h audit.MessageHandler) (int, error) {
	if a.Memory != nil {
		return a.Memory.Outbox().Drain(ctx, h)
	}

	n, err := a.relay.ProcessBatch(ctx, h)
	if err != nil {
		return n, err
	}
	moved, err := a.relay.MoveToDLQ(ctx)
	if err != nil {
		return n, fmt.Errorf("move to dlq: %w", err)
	}
	if moved > 0 {
		logger.Warn(ctx, "escalations moved to dead letter queue", "count", moved)
	}
	return n, nil
}

// Close releases the database pool.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
}
