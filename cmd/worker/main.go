// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ferroline/factory-ops/internal/config"
	"github.com/ferroline/factory-ops/internal/logging"
	"github.com/ferroline/factory-ops/internal/persistence/postgres"
	"github.com/ferroline/factory-ops/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	logger := logging.NewLogger(cfg.Env)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	w := worker.New(worker.Deps{
		Pool:          pool,
		Logger:        logger,
		WebhookSecret: cfg.WebhookSecret,
	})

	logger.Info("worker started", "interval", cfg.WorkerInterval)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("worker stopping")
			return
		case <-ticker.C:
			if err := w.ProcessOnce(ctx); err != nil {
				logger.Error("worker scan failed", "error", err)
			}
		}
	}
}
