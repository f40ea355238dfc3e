package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/finboard/business-stats-ledger/internal/business"
	"github.com/finboard/business-stats-ledger/internal/config"
	"github.com/finboard/business-stats-ledger/internal/docstore"
	"github.com/finboard/business-stats-ledger/internal/docstore/memory"
	"github.com/finboard/business-stats-ledger/internal/docstore/postgres"
	"github.com/finboard/business-stats-ledger/internal/events/kafka"
	"github.com/finboard/business-stats-ledger/internal/httpapi"
	"github.com/finboard/business-stats-ledger/internal/reconcile"
	"github.com/finboard/business-stats-ledger/internal/rescale"
	"github.com/finboard/business-stats-ledger/internal/savings"
	"github.com/finboard/business-stats-ledger/internal/settings"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := config.NewLogger(cfg)

	var store docstore.Store
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			logger.Error("open postgres", slog.Any("error", err))
			os.Exit(1)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			logger.Error("ping postgres", slog.Any("error", err))
			os.Exit(1)
		}
		pg := postgres.NewStore(db)
		if err := pg.Migrate(ctx); err != nil {
			logger.Error("migrate documents table", slog.Any("error", err))
			os.Exit(1)
		}
		store = pg
	default:
		store = memory.NewStore()
	}

	var engineOpts []reconcile.Option
	if len(cfg.KafkaBrokers) > 0 {
		publisher := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("close kafka publisher", slog.Any("error", err))
			}
		}()
		engineOpts = append(engineOpts, reconcile.WithPublisher(publisher, cfg.KafkaTopic))
	}

	engine := reconcile.NewEngine(store, logger, engineOpts...)
	businesses := business.NewService(store, logger, business.WithPageLimit(cfg.EntryPageLimit))
	converter := rescale.NewConverter(store, logger,
		rescale.WithBatchSize(cfg.RescaleBatchSize),
		rescale.WithParallelism(cfg.RescaleParallelism))
	savingsSvc := savings.NewService(store, logger)
	settingsSvc := settings.NewService(store)

	handler := httpapi.NewHandler(logger, businesses, engine, converter, savingsSvc, settingsSvc)

	srv := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", slog.Any("error", err))
		}
	}()

	logger.Info("starting server",
		slog.String("addr", cfg.AppAddr),
		slog.String("store", cfg.StoreDriver))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
