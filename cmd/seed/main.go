// Package main provides a CLI tool that migrates the schema and provisions
// fiscal periods, optionally with demo stock.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"ledgercore/internal/app"
	"ledgercore/internal/config"
	"ledgercore/internal/core/apperror"
	"ledgercore/internal/core/appctx"
	"ledgercore/internal/core/clock"
	"ledgercore/internal/core/types"
	"ledgercore/internal/domain/batch"
	"ledgercore/internal/domain/sale"
	"ledgercore/pkg/logger"
)

func main() {
	series := flag.String("series", sale.DefaultSeries, "comma separated document series to provision")
	start := flag.String("period-start", "", "period start date YYYY-MM-DD (default: January 1 of the current year)")
	base := flag.Int64("base", 0, "last number already issued in the period")
	demo := flag.Bool("demo", false, "receive a few demo batches")
	flag.Parse()

	log, err := logger.New(logger.Config{
		Level:       "info",
		Development: true,
		Process:     "seed",
	})
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalw("failed to load configuration", "error", err)
	}
	if cfg.Store != config.StorePostgres {
		log.Fatal("seeding requires STORE=postgres")
	}

	ctx := appctx.WithActor(logger.WithLogger(context.Background(), log), "seed")

	a, err := app.New(ctx, cfg, true)
	if err != nil {
		log.Fatalw("failed to initialize application", "error", err)
	}
	defer a.Close()
	log.Info("schema migrated")

	periodStart := time.Date(a.Clock.Now().Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	if *start != "" {
		if periodStart, err = time.Parse(time.DateOnly, *start); err != nil {
			log.Fatalw("invalid -period-start", "value", *start, "error", err)
		}
	}

	for _, s := range strings.Split(*series, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if err := provision(ctx, a, s, periodStart, *base); err != nil {
			log.Fatalw("failed to provision period", "series", s, "error", err)
		}
	}

	if *demo {
		if err := seedDemoStock(ctx, a, log); err != nil {
			log.Fatalw("failed to seed demo stock", "error", err)
		}
	}

	log.Info("seeding completed successfully")
}

func provision(ctx context.Context, a *app.App, series string, start time.Time, base int64) error {
	_, err := a.Sequences.ProvisionPeriod(ctx, series, start, base)
	if apperror.IsCode(err, apperror.CodeDuplicate) {
		logger.Info(ctx, "period already provisioned", "series", series, "period_start", start.Format(time.DateOnly))
		return nil
	}
	return err
}

func seedDemoStock(ctx context.Context, a *app.App, log *logger.Logger) error {
	today := clock.Today(a.Clock)
	lots := []batch.ReceiveInput{
		{ProductID: "AMOX-500", BatchNumber: "AMX-001", Quantity: 120, UnitCost: types.MustMoney("0.85")},
		{ProductID: "AMOX-500", BatchNumber: "AMX-002", Quantity: 200, UnitCost: types.MustMoney("0.80")},
		{ProductID: "PARA-500", BatchNumber: "PAR-001", Quantity: 500, UnitCost: types.MustMoney("0.12")},
		{ProductID: "IBU-200", BatchNumber: "IBU-001", Quantity: 80, UnitCost: types.MustMoney("0.30")},
	}
	expiries := []time.Time{
		today.AddDate(0, 0, 20),
		today.AddDate(0, 6, 0),
		today.AddDate(1, 0, 0),
		today.AddDate(0, 0, 75),
	}

	for i := range lots {
		lots[i].ExpiryDate = &expiries[i]
		lots[i].Reference = "demo seed"
		b, err := a.Batches.Receive(ctx, lots[i])
		if err != nil {
			return fmt.Errorf("receive %s: %w", lots[i].BatchNumber, err)
		}
		log.Infow("received demo batch", "batch_id", b.ID, "product_id", b.ProductID, "quantity", b.QuantityReceived)
	}
	return nil
}
