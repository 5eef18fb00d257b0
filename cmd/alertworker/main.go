// SentinelStream alert worker - consumes durable alert tasks from Redis.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/sentinelstream/internal/alert"
	"github.com/opensource-finance/sentinelstream/internal/cache"
	"github.com/opensource-finance/sentinelstream/internal/config"
	"github.com/opensource-finance/sentinelstream/internal/domain"
	"github.com/opensource-finance/sentinelstream/internal/logging"
	"github.com/opensource-finance/sentinelstream/internal/metrics"
)

// Version information (set via ldflags)
var Version = "dev"

func main() {
	metricsAddr := flag.String("metrics-addr", ":9091", "Address for the Prometheus endpoint")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logging.New(cfg.Logging.Level, cfg.Logging.Format))

	deliverTo := cfg.Alert.AsynqDeliverTo
	if deliverTo == domain.AlertSinkAsynq {
		slog.Error("alert worker cannot deliver back to the asynq queue")
		os.Exit(1)
	}
	sink, err := alert.NewSink(deliverTo, cfg.Alert, nil)
	if err != nil {
		slog.Error("failed to initialize alert sink", "error", err)
		os.Exit(1)
	}

	// Delivered transaction ids are remembered here so redelivered tasks are skipped.
	seen, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer seen.Close()

	srv := alert.NewServer(cfg.Alert)
	mux := alert.NewServeMux(alert.NewHandler(sink, seen))

	slog.Info("starting alert worker",
		"version", Version,
		"redis", cfg.Alert.AsynqRedisAddr,
		"queue", cfg.Alert.AsynqQueue,
		"concurrency", cfg.Alert.AsynqConcurrency,
		"deliver_to", sink.Name(),
	)
	if err := srv.Start(mux); err != nil {
		slog.Error("failed to start alert worker", "error", err)
		os.Exit(1)
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsSrv = &http.Server{
			Addr:              *metricsAddr,
			Handler:           metrics.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server failed", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	slog.Info("shutting down alert worker")
	srv.Shutdown()

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	slog.Info("alert worker stopped")
}
