// protocol-worker executes one pipeline phase for one job, then exits. The
// API server spawns it per phase; a crash here never takes the server down.
// Exit code 0 means the phase completed (including parking the job in an
// awaiting_* state); non-zero means the job could not proceed.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/cache"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/config"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/database"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/document"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/eligibility"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/events"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/extractor"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/interpret"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/llm"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/metrics"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/orchestrator"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/services"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/soa"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/terminology"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	jobID := flag.String("job-id", "", "Job to execute")
	protocolID := flag.String("protocol-id", "", "Protocol the job belongs to")
	phase := flag.String("phase", "", "Pipeline phase to run")
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./config"),
		"Path to configuration directory")
	flag.Parse()

	if *jobID == "" || *protocolID == "" || *phase == "" {
		slog.Error("Flags --job-id, --protocol-id, and --phase are required")
		os.Exit(2)
	}

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}
	slog.Info("Worker starting", "job_id", *jobID, "phase", *phase, "pid", os.Getpid())

	// SIGTERM from the supervisor cancels the phase; the pipelines
	// checkpoint through the services layer, so the next worker resumes.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *jobID, *protocolID, *phase, *configDir); err != nil {
		slog.Error("Worker phase failed", "job_id", *jobID, "phase", *phase, "error", err)
		os.Exit(1)
	}
	slog.Info("Worker finished", "job_id", *jobID, "phase", *phase)
}

func run(ctx context.Context, jobID, protocolID, phase, configDir string) error {
	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		return err
	}
	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	db, err := database.NewClient(ctx, dbCfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	protocols := services.NewProtocolService(db.Pool)
	jobs := services.NewJobService(db.Pool, db.DSN())
	results := services.NewModuleResultService(db.Pool)
	tables := services.NewTableResultService(db.Pool)
	groups := services.NewMergeGroupResultService(db.Pool)
	sections := services.NewSectionResultService(db.Pool)
	publisher := events.NewPublisher(db.Pool)

	if err := jobs.ClaimWorker(ctx, jobID, os.Getpid()); err != nil {
		return err
	}
	go heartbeat(ctx, jobs, jobID, cfg.Supervisor.HeartbeatInterval)

	job, err := jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	protocol, err := protocols.Get(ctx, protocolID)
	if err != nil {
		return err
	}

	docs, err := document.NewStore(getEnv("DOCUMENT_STORE_DIR", "./data/documents"))
	if err != nil {
		return err
	}
	if err := ensureLocalDocument(ctx, docs, protocols, protocol.ID); err != nil {
		return err
	}

	client, err := llm.NewGeminiClient(ctx, cfg.LLM)
	if err != nil {
		return err
	}
	m := workerMetrics()
	client.Observe = m.ObserveLLMRequest
	remote := document.NewRemoteManager(client, docs, protocols.UpdateRemoteHandle)

	switch job.Kind {
	case models.JobKindModuleExtraction:
		store := cache.NewTiered(cfg.Cache, db.Pool)
		store.Observer = m
		ex := extractor.New(client, cfg.Quality, cfg.ModuleRegistry.ComponentSchemas())
		orch := orchestrator.New(cfg, ex, store, remote, docs, jobs, results,
			publisher, client.ModelID())
		orch.Scores = m
		return orch.Run(ctx, job, protocol)

	case models.JobKindSOA:
		resolver := terminology.NewResolver(client, cfg.Interpretation.BatchSize)
		interpreter := interpret.NewPipeline(cfg.Interpretation, client, resolver, publisher)
		if cfg.Pipeline.IntermediateStages {
			interpreter.IntermediateDir = filepath.Join(cfg.Pipeline.OutputDir, job.ID)
		}
		pipeline := soa.NewPipeline(client, remote, jobs, tables, groups, publisher, interpreter)
		switch phase {
		case "detection":
			return pipeline.RunDetection(ctx, job, protocol)
		case "extraction":
			return pipeline.RunExtraction(ctx, job, protocol)
		case "interpretation":
			return pipeline.RunInterpretation(ctx, job, protocol)
		}

	case models.JobKindEligibility:
		pipeline := eligibility.NewPipeline(client, remote, jobs, sections, publisher,
			cfg.Interpretation.BatchSize)
		switch phase {
		case "detection":
			return pipeline.RunDetection(ctx, job, protocol)
		case "extraction":
			return pipeline.RunExtraction(ctx, job, protocol)
		}
	}
	return unknownPhase(job, phase)
}

// workerMetrics builds the worker's collector set and, when
// WORKER_METRICS_ADDR is set, serves it for scraping. Worker processes are
// short-lived, so the listener is optional and exists mainly for long
// extraction phases.
func workerMetrics() *metrics.Metrics {
	m := metrics.New()
	if addr := os.Getenv("WORKER_METRICS_ADDR"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		go func() {
			if err := http.ListenAndServe(addr, mux); err != nil {
				slog.Warn("Worker metrics listener stopped", "addr", addr, "error", err)
			}
		}()
	}
	return m
}

func unknownPhase(job *models.Job, phase string) error {
	return &phaseError{kind: string(job.Kind), phase: phase}
}

type phaseError struct {
	kind  string
	phase string
}

func (e *phaseError) Error() string {
	return "no phase " + e.phase + " for job kind " + e.kind
}

// heartbeat refreshes the worker liveness stamp until the phase ends.
func heartbeat(ctx context.Context, jobs *services.JobService, jobID string, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := jobs.Heartbeat(ctx, jobID); err != nil {
				slog.Warn("Heartbeat failed", "job_id", jobID, "error", err)
			}
		}
	}
}

// ensureLocalDocument materializes the protocol PDF from the database into
// the on-disk store when this host has not seen it yet.
func ensureLocalDocument(ctx context.Context, docs *document.Store,
	protocols *services.ProtocolService, protocolID string) error {
	if _, err := docs.Read(protocolID); err == nil {
		return nil
	}
	data, err := protocols.Content(ctx, protocolID)
	if err != nil {
		return err
	}
	return docs.Save(protocolID, data)
}
