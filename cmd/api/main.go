// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ferroline/factory-ops/internal/config"
	"github.com/ferroline/factory-ops/internal/logging"
	"github.com/ferroline/factory-ops/internal/persistence/postgres"
	"github.com/ferroline/factory-ops/internal/repository"
	httptransport "github.com/ferroline/factory-ops/internal/transport/http"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
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

	if cfg.AutoMigrate {
		if err := postgres.EnsureSchema(ctx, pool, logger); err != nil {
			log.Fatalf("schema bootstrap failed: %v", err)
		}
	}

	partnerRepo := repository.NewPartnerRepository(pool, logger)
	itemRepo := repository.NewItemRepository(pool, logger)
	stockRepo := repository.NewStockRepository(pool, logger)
	templateRepo := repository.NewTemplateRepository(pool, logger)
	lotRepo := repository.NewLotRunRepository(pool, logger)
	ncRepo := repository.NewNonConformanceRepository(pool, logger)
	packagingRepo := repository.NewPackagingRepository(pool, logger)
	eventRepo := repository.NewEventRepository(pool, logger)
	apiKeyRepo := repository.NewAPIKeyRepository(pool, logger)

	handler := httptransport.NewRouter(httptransport.Deps{
		Partners:       partnerRepo,
		Items:          itemRepo,
		Stock:          stockRepo,
		Templates:      templateRepo,
		LotRuns:        lotRepo,
		NonConform:     ncRepo,
		Packaging:      packagingRepo,
		Events:         eventRepo,
		APIKeyAdmin:    apiKeyRepo,
		APIKeyResolver: apiKeyRepo,
		Health:         postgres.NewSchemaHealthChecker(pool),
		Logger:         logger,
		AdminToken:     cfg.AdminToken,
		Version:        Version,
		Commit:         Commit,
		BuildDate:      BuildDate,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("api listening",
			"addr", cfg.HTTPAddr,
			"version", Version,
			"commit", Commit,
			"build_date", BuildDate,
		)

		if err := srv.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		5*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
}
