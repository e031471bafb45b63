// Package main is the entry point for the ledgercore API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ledgercore/internal/app"
	"ledgercore/internal/config"
	v1 "ledgercore/internal/infrastructure/http/v1"
	"ledgercore/pkg/logger"
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
		Process:     "server",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx := logger.WithLogger(context.Background(), log)
	log.Infow("starting ledgercore server", "store", cfg.Store, "timezone", cfg.Location.String())

	a, err := app.New(ctx, cfg, true)
	if err != nil {
		log.Fatalw("failed to initialize application", "error", err)
	}
	defer a.Close()

	if a.Memory != nil {
		log.Warn("memory store selected: data is lost on restart and not shared with the worker")
	}

	routerCfg := v1.RouterConfig{
		Logger:      log,
		Clock:       a.Clock,
		Sequences:   a.Sequences,
		Batches:     a.Batches,
		Sales:       a.Sales,
		Expiry:      a.Expiry,
		Variance:    a.Variance,
		Idempotency: a.Idempotency,
		Store:       a.StoreName(),
	}
	if a.Pool != nil {
		routerCfg.Pinger = a
		routerCfg.PoolStats = a.PoolStats
	}
	router := v1.NewRouter(routerCfg)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}
