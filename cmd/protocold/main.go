// protocold is the API server: it ingests protocol PDFs, owns the job state
// machine, spawns pipeline workers, and serves job progress to clients.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/api"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/cache"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/config"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/database"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/document"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/eligibility"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/events"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/interpret"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/llm"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/metrics"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/services"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/soa"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/supervisor"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/terminology"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	slog.Info("Starting protocold", "version", version.Full(),
		"http_port", httpPort, "config_dir", *configDir)

	ctx := context.Background()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	db, err := database.NewClient(ctx, dbCfg)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	protocols := services.NewProtocolService(db.Pool)
	jobs := services.NewJobService(db.Pool, db.DSN())
	eventsSvc := services.NewEventService(db.Pool)
	tables := services.NewTableResultService(db.Pool)
	groups := services.NewMergeGroupResultService(db.Pool)
	sections := services.NewSectionResultService(db.Pool)
	audit := services.NewAuditService(db.Pool)
	publisher := events.NewPublisher(db.Pool)

	// Jobs whose worker died while the server was down would otherwise hang
	// in a working status forever.
	if _, err := jobs.SweepOrphans(ctx, cfg.Supervisor.OrphanThreshold); err != nil {
		slog.Error("Startup orphan sweep failed", "error", err)
	}

	store := cache.NewTiered(cfg.Cache, db.Pool)
	docs, err := document.NewStore(getEnv("DOCUMENT_STORE_DIR", "./data/documents"))
	if err != nil {
		slog.Error("Failed to open document store", "error", err)
		os.Exit(1)
	}

	client, err := llm.NewGeminiClient(ctx, cfg.LLM)
	if err != nil {
		slog.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}
	remote := document.NewRemoteManager(client, docs, protocols.UpdateRemoteHandle)

	resolver := terminology.NewResolver(client, cfg.Interpretation.BatchSize)
	interpreter := interpret.NewPipeline(cfg.Interpretation, client, resolver, publisher)
	soaPipeline := soa.NewPipeline(client, remote, jobs, tables, groups, publisher, interpreter)
	eligPipeline := eligibility.NewPipeline(client, remote, jobs, sections, publisher,
		cfg.Interpretation.BatchSize)

	sup := supervisor.New(cfg.Supervisor)

	// Prompt templates reload on change without a restart.
	watcher, err := config.NewPromptWatcher(cfg.ModuleRegistry)
	if err != nil {
		slog.Warn("Prompt hot-reload unavailable", "error", err)
	} else {
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	m := metrics.New()
	server := api.NewServer(api.Options{
		Pool:        db.Pool,
		Protocols:   protocols,
		Jobs:        jobs,
		Events:      eventsSvc,
		Groups:      groups,
		Sections:    sections,
		Audit:       audit,
		SOA:         soaPipeline,
		Eligibility: eligPipeline,
		Cache:       store,
		Supervisor:  sup,
		Metrics:     m,
		ConfigDir:   *configDir,
	})

	httpServer := &http.Server{
		Addr:              ":" + httpPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Periodic orphan sweep for workers lost while the server keeps running.
	go func() {
		ticker := time.NewTicker(cfg.Supervisor.OrphanThreshold)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := jobs.SweepOrphans(ctx, cfg.Supervisor.OrphanThreshold); err != nil {
					slog.Error("Orphan sweep failed", "error", err)
				}
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		slog.Error("HTTP server error", "error", err)
	case sig := <-quit:
		slog.Info("Shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}
	sup.Shutdown(shutdownCtx)
	slog.Info("Shutdown complete")
}
