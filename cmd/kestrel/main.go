// Kestrel - Fraud risk scoring for ISO 20022 payment messages.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/inference"
	"github.com/opensource-finance/kestrel/internal/normalize"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}
	if err := domain.ApplyEnv(cfg); err != nil {
		slog.Error("invalid environment configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"model", cfg.Model.Type,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Feature extractor, shared policy with the batch pipeline
	extractor, err := features.NewExtractor(cfg.Features)
	if err != nil {
		slog.Error("failed to initialize feature extractor", "error", err)
		os.Exit(1)
	}

	params, source, err := loadNormalizer(ctx, cfg.Normalizer.Path, repo)
	if err != nil {
		slog.Error("failed to load normalizer", "error", err)
		os.Exit(1)
	}
	slog.Info("normalizer loaded",
		"source", source,
		"version", params.Version,
		"count", params.Count,
	)

	// In-process responder for the bus model
	if cfg.Model.Type == "bus" && cfg.Model.Path != "" {
		if err := serveBusModel(ctx, busImpl, cfg.Model.Path, cfg.Tenants); err != nil {
			slog.Error("failed to start bus model responder", "error", err)
			os.Exit(1)
		}
	}

	model, err := inference.New(cfg.Model, busImpl)
	if err != nil {
		slog.Error("failed to initialize model client", "error", err)
		os.Exit(1)
	}
	slog.Info("model client initialized", "type", model.Type())

	scorer, err := pipeline.NewScorer(extractor, params, model)
	if err != nil {
		slog.Error("failed to initialize scorer", "error", err)
		os.Exit(1)
	}

	// Async worker backs POST /score/async
	asyncWorker := worker.NewWorker(busImpl, repo, scorer)
	if err := asyncWorker.Start(worker.Config{TenantIDs: cfg.Tenants}); err != nil {
		slog.Error("failed to start async worker", "error", err)
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, api.Dependencies{
		Scorer:         scorer,
		Repo:           repo,
		Cache:          cacheImpl,
		Bus:            busImpl,
		Worker:         asyncWorker,
		NormalizerPath: cfg.Normalizer.Path,
		ScoreTTL:       cfg.Cache.ScoreTTL,
		Version:        Version,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	if err := asyncWorker.Stop(); err != nil {
		slog.Error("failed to stop async worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// loadNormalizer reads the fitted parameters from path, falling back to the
// latest version stored in the repository when the file does not exist.
func loadNormalizer(ctx context.Context, path string, repo domain.Repository) (*domain.NormalizationParams, string, error) {
	if path != "" {
		params, err := normalize.LoadFile(path)
		if err == nil {
			return params, path, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, "", err
		}
		slog.Warn("normalizer artifact not found, trying repository", "path", path)
	}

	params, err := repo.LatestNormalizer(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, "", fmt.Errorf("no normalizer artifact available; run prepare first")
	}
	if err != nil {
		return nil, "", err
	}
	return params, "repository", nil
}

// serveBusModel answers model requests on the bus with a logistic model.
func serveBusModel(ctx context.Context, eventBus domain.EventBus, path string, tenants []string) error {
	model, err := inference.LoadLogisticModel(path)
	if err != nil {
		return err
	}
	for _, tenantID := range tenants {
		if _, err := inference.Serve(ctx, eventBus, tenantID, model); err != nil {
			return err
		}
	}
	slog.Info("bus model responder started", "path", path, "tenant_count", len(tenants))
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  KESTREL - payment message risk scoring")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /score               - Score a payment message (JSON or XML)")
	fmt.Println("    POST /score/async         - Queue a message for scoring")
	fmt.Println("    GET  /scores/{id}         - Get score by ID")
	fmt.Println("    GET  /messages/{id}       - Get message and its scores")
	fmt.Println("    GET  /normalizer          - Active normalization parameters")
	fmt.Println("    POST /normalizer/reload   - Hot-reload normalization parameters")
	fmt.Println("    GET  /health              - Health check")
	fmt.Println("    GET  /metrics             - Prometheus metrics")
	fmt.Println()
}
