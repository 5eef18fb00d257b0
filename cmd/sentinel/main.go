// SentinelStream - transaction risk decisions with rules, anomaly scoring and alerts.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/sentinelstream/internal/alert"
	"github.com/opensource-finance/sentinelstream/internal/anomaly"
	"github.com/opensource-finance/sentinelstream/internal/api"
	"github.com/opensource-finance/sentinelstream/internal/bus"
	"github.com/opensource-finance/sentinelstream/internal/cache"
	"github.com/opensource-finance/sentinelstream/internal/config"
	"github.com/opensource-finance/sentinelstream/internal/decision"
	"github.com/opensource-finance/sentinelstream/internal/domain"
	"github.com/opensource-finance/sentinelstream/internal/engine"
	"github.com/opensource-finance/sentinelstream/internal/logging"
	"github.com/opensource-finance/sentinelstream/internal/repository"
	"github.com/opensource-finance/sentinelstream/internal/rules"
	"github.com/opensource-finance/sentinelstream/internal/telemetry"
	"github.com/opensource-finance/sentinelstream/internal/users"
	"github.com/opensource-finance/sentinelstream/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(logging.New(cfg.Logging.Level, cfg.Logging.Format))

	slog.Info("starting sentinelstream",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"alert_sink", cfg.Alert.Sink,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Tracing, Version)
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(tctx); err != nil {
			slog.Error("failed to flush traces", "error", err)
		}
	}()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type, "two_phase", cfg.Cache.EnableTwoPhase)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	ruleEngine, err := rules.NewDefaultEngine()
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "policies_count", ruleEngine.PoliciesCount())

	// Without a model the service still starts; evaluations answer 503 and /ready reports it.
	var model anomaly.Model
	if forest, err := anomaly.LoadForestFile(cfg.Model.Path); err != nil {
		slog.Error("failed to load anomaly model", "path", cfg.Model.Path, "error", err)
	} else {
		model = forest
		slog.Info("anomaly model loaded", "path", cfg.Model.Path, "version", forest.Version())
	}
	scorer := anomaly.NewScorer(model)

	sink, err := alert.NewSink(cfg.Alert.Sink, cfg.Alert, busImpl)
	if err != nil {
		slog.Error("failed to initialize alert sink", "error", err)
		os.Exit(1)
	}
	dispatcher := alert.NewDispatcher(cfg.Alert, sink)

	processor := decision.NewProcessor()
	processor.AlertThreshold = cfg.Alert.Threshold
	eng := engine.New(ruleEngine, scorer, processor, dispatcher)

	directory := users.NewDirectory(repo, cacheImpl, cfg.Cache.UserTTL)

	handler := api.NewHandler(eng, directory, repo, cacheImpl, Version)

	var ingestWorker *worker.Worker
	if cfg.Worker.BulkIngest {
		ingestWorker = worker.NewWorker(busImpl, repo, eng, directory)
		if err := ingestWorker.Start(); err != nil {
			slog.Error("failed to start ingest worker", "error", err)
			os.Exit(1)
		}
		handler.EnableBulkIngest(busImpl)
	}

	srv := api.NewServer(cfg.Server, handler, cfg.Metrics.Enabled)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("sentinelstream is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version, scorer.ModelVersion())

	<-ctx.Done()
	slog.Info("shutting down...")

	if ingestWorker != nil {
		if err := ingestWorker.Stop(); err != nil {
			slog.Error("failed to stop ingest worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Requests are drained, so no new alerts arrive; deliver what is queued.
	if err := dispatcher.Close(shutdownCtx); err != nil {
		slog.Error("alert queue not fully drained", "pending", dispatcher.Pending(), "error", err)
	}

	slog.Info("sentinelstream shutdown complete")
}

func printBanner(cfg *domain.Config, version, modelVersion string) {
	if modelVersion == "" {
		modelVersion = "not loaded"
	}
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║              SENTINELSTREAM               ║")
	fmt.Println("  ║   Transaction Risk Decision Engine        ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Model:    %s\n", modelVersion)
	fmt.Printf("  Alerts:   %s\n", cfg.Alert.Sink)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /transaction         - Evaluate a transaction")
	if cfg.Worker.BulkIngest {
		fmt.Println("    POST /transactions/bulk   - Queue transactions for async evaluation")
	}
	fmt.Println("    GET  /transactions/{id}   - Get transaction by ID")
	fmt.Println("    GET  /health              - Health check")
	fmt.Println("    GET  /ready               - Readiness check")
	if cfg.Metrics.Enabled {
		fmt.Println("    GET  /metrics             - Prometheus metrics")
	}
	fmt.Println()
}
