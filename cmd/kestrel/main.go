// Kestrel - Real-time transaction fraud scoring.
// Copyright (c) 2025 fraudwatch
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fraudwatch/kestrel/internal/api"
	"github.com/fraudwatch/kestrel/internal/bus"
	"github.com/fraudwatch/kestrel/internal/cache"
	"github.com/fraudwatch/kestrel/internal/domain"
	"github.com/fraudwatch/kestrel/internal/ensemble"
	"github.com/fraudwatch/kestrel/internal/features"
	"github.com/fraudwatch/kestrel/internal/model"
	"github.com/fraudwatch/kestrel/internal/policy"
	"github.com/fraudwatch/kestrel/internal/registry"
	"github.com/fraudwatch/kestrel/internal/repository"
	"github.com/fraudwatch/kestrel/internal/stats"
	"github.com/fraudwatch/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// recorderCapacity bounds the rolling window behind GET /stats.
const recorderCapacity = 1024

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

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	applyEnvOverrides(cfg)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
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

	// Initialize Feature Engine
	engine := features.NewEngine(cfg.Features)
	slog.Info("feature engine initialized", "shards", cfg.Features.Shards)

	// Initialize Model Registry
	modelRegistry := registry.New(ctx, repo)

	// Initialize Ensemble Orchestrator with the three scorers
	scorers := []domain.Scorer{
		model.NewIsolationForest(),
		model.NewGradientBoost(),
		model.NewAutoencoder(),
	}
	orchestrator := ensemble.New(scorers, cfg.Ensemble, modelRegistry)

	// Train models up front so the first request does not pay the
	// warm-up cost.
	trainStart := time.Now()
	if err := orchestrator.TrainAll(ctx); err != nil {
		slog.Error("failed to train models", "error", err)
		os.Exit(1)
	}
	slog.Info("ensemble initialized",
		"models", len(scorers),
		"threshold", cfg.Ensemble.FraudThreshold,
		"train_ms", time.Since(trainStart).Milliseconds(),
	)

	// Initialize Policy Engine
	policies, err := policy.NewEngine()
	if err != nil {
		slog.Error("failed to initialize policy engine", "error", err)
		os.Exit(1)
	}

	if err := loadPolicies(ctx, repo, policies); err != nil {
		slog.Error("failed to load policies", "error", err)
		os.Exit(1)
	}
	slog.Info("policy engine initialized", "policies_count", policies.PolicyCount())

	// Rolling stats recorder behind GET /stats
	recorder := stats.NewRecorder(recorderCapacity)

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, cacheImpl, engine, orchestrator, policies, recorder)

		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "topic", domain.TopicTransactionSubmitted)
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, engine, orchestrator, policies, modelRegistry, recorder, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
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

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// applyEnvOverrides layers KESTREL_* settings over the tier defaults.
func applyEnvOverrides(cfg *domain.Config) {
	if v := os.Getenv("KESTREL_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("KESTREL_FRAUD_THRESHOLD"); v != "" {
		if t, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Ensemble.FraudThreshold = t
		}
	}
	weightEnv := map[string]string{
		domain.ModelIsolationForest: "KESTREL_WEIGHT_ISOLATION_FOREST",
		domain.ModelXGBoost:         "KESTREL_WEIGHT_XGBOOST",
		domain.ModelAutoencoder:     "KESTREL_WEIGHT_AUTOENCODER",
	}
	for name, key := range weightEnv {
		if v := os.Getenv(key); v != "" {
			if weight, err := strconv.ParseFloat(v, 64); err == nil {
				cfg.Ensemble.Weights[name] = weight
			}
		}
	}
	if v := os.Getenv("KESTREL_SCORER_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Ensemble.ScorerTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("KESTREL_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("KESTREL_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("KESTREL_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
}

// loadPolicies seeds the engine with the builtin overlay policies and
// layers any database-configured policies on top. A database read
// failure degrades to builtins only.
func loadPolicies(ctx context.Context, repo domain.Repository, engine *policy.Engine) error {
	if err := engine.LoadPolicies(policy.BuiltinPolicies()); err != nil {
		return err
	}

	dbPolicies, err := repo.ListPolicies(ctx)
	if err != nil {
		slog.Warn("failed to list policies from database", "error", err)
		return nil
	}

	if len(dbPolicies) > 0 {
		slog.Info("loading policies from database", "count", len(dbPolicies))
		return engine.LoadPolicies(dbPolicies)
	}

	slog.Info("no policies in database - configure via POST /policies API")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               KESTREL                     ║")
	fmt.Println("  ║      Real-Time Fraud Scoring Engine       ║")
	fmt.Println("  ║      Every transaction, in the loop.      ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /score              - Score a transaction")
	fmt.Println("    GET  /decisions/{id}     - Get decision by ID")
	fmt.Println("    GET  /users/{id}/profile - Get user behavioral profile")
	fmt.Println("    GET  /models             - List registered models")
	fmt.Println("    POST /models/retrain     - Retrain all models")
	fmt.Println("    GET  /policies           - List loaded policies")
	fmt.Println("    POST /policies           - Create a new policy")
	fmt.Println("    POST /policies/reload    - Hot-reload policies from database")
	fmt.Println("    GET  /stats              - Recent scoring statistics")
	fmt.Println("    GET  /health             - Health check")
	fmt.Println()
}
