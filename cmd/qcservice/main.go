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

	httpadapter "github.com/couchcryptid/nightlight-qc/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/nightlight-qc/internal/adapter/kafka"
	"github.com/couchcryptid/nightlight-qc/internal/adapter/postgres"
	"github.com/couchcryptid/nightlight-qc/internal/app"
	"github.com/couchcryptid/nightlight-qc/internal/config"
	"github.com/couchcryptid/nightlight-qc/internal/observability"
	"github.com/couchcryptid/nightlight-qc/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	transformer, err := app.Transformer(cfg, logger)
	if err != nil {
		logger.Error("failed to build transformer", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)
	loaders := pipeline.Fanout{writer}

	// Report store (feature-flagged via POSTGRES_DSN).
	var db *sql.DB
	if cfg.PostgresDSN != "" {
		db, err = postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		store := postgres.NewStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			logger.Error("failed to prepare report table", "error", err)
			os.Exit(1)
		}
		loaders = append(loaders, store)
		logger.Info("postgres report store enabled")
	} else {
		logger.Info("postgres report store disabled")
	}

	p := pipeline.New(reader, transformer, loaders, logger, metrics, cfg.BatchSize, pipeline.WithWorkers(cfg.Workers))

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, transformer, logger, httpadapter.WithSceneRoot(cfg.AssessSceneRoot))

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start QC pipeline.
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}
	if db != nil {
		if err := db.Close(); err != nil {
			logger.Error("postgres close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
