// Package orchestrator runs the module-extraction pipeline: each enabled
// module in declared order through the two-phase extractor, with per-module
// checkpoints so an interrupted job resumes where it stopped.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/cache"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/combiner"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/config"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/document"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/events"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/extractor"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/services"
)

// ScoreObserver receives the overall quality score of every module that
// completes extraction.
type ScoreObserver interface {
	ObserveModuleScore(score float64)
}

// Orchestrator drives one module-extraction job end to end.
type Orchestrator struct {
	cfg       *config.Config
	extractor *extractor.Extractor
	store     cache.Cache
	remote    *document.RemoteManager
	docs      *document.Store
	jobs      *services.JobService
	results   *services.ModuleResultService
	publisher *events.Publisher
	modelID   string

	// Scores, when set, is fed the quality score of each completed module.
	Scores ScoreObserver
}

func New(cfg *config.Config, ex *extractor.Extractor, store cache.Cache,
	remote *document.RemoteManager, docs *document.Store,
	jobs *services.JobService, results *services.ModuleResultService,
	publisher *events.Publisher, modelID string) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		extractor: ex,
		store:     store,
		remote:    remote,
		docs:      docs,
		jobs:      jobs,
		results:   results,
		publisher: publisher,
		modelID:   modelID,
	}
}

// Run executes the job. A single module failing does not abort the run; the
// job ends completed_with_errors and the failure is recorded on its
// checkpoint row. Run itself returns an error only when the pipeline cannot
// proceed at all (no remote file, every module failed, artifact write
// failure). An empty enabled-module set is not an error; the job completes
// with a document carrying no module slots.
func (o *Orchestrator) Run(ctx context.Context, job *models.Job, protocol *models.Protocol) error {
	if err := o.jobs.Transition(ctx, job.ID, models.StatusRunning, services.WithPhase("extracting_modules")); err != nil {
		return err
	}
	o.publishJobStatus(ctx, job, protocol, models.StatusRunning, "")

	modules := o.cfg.ModuleRegistry.Modules()
	if len(modules) == 0 {
		// Nothing enabled means nothing to extract; the job still completes,
		// with a document carrying no module slots.
		slog.Info("No modules enabled, completing with empty document", "job_id", job.ID)
		return o.finish(ctx, job, protocol, nil, nil, nil, &document.Info{})
	}

	fileURI, err := o.remote.EnsureRemote(ctx, protocol)
	if err != nil {
		return o.fail(ctx, job, protocol, fmt.Errorf("source document unavailable: %w", err))
	}

	completed, err := o.results.CompletedModuleIDs(ctx, job.ID)
	if err != nil {
		return o.fail(ctx, job, protocol, err)
	}
	if len(completed) > 0 {
		slog.Info("Resuming job, skipping completed modules",
			"job_id", job.ID, "completed", len(completed))
	}

	var failed []string
	for i, spec := range modules {
		if ctx.Err() != nil {
			return o.fail(ctx, job, protocol, ctx.Err())
		}
		if completed[spec.ID] {
			continue
		}

		percent := i * 100 / len(modules)
		_ = o.jobs.SetProgress(ctx, job.ID, models.Progress{
			Phase:   "extracting_modules",
			Percent: percent,
		}, spec.ID)
		_ = o.publisher.PublishJobProgress(ctx, events.JobProgressPayload{
			JobID:    job.ID,
			Phase:    "extracting_modules",
			Percent:  percent,
			SubStage: spec.ID,
		})
		_ = o.publisher.PublishModuleStatus(ctx, events.ModuleStatusPayload{
			Type:     events.EventTypeModuleStarted,
			JobID:    job.ID,
			ModuleID: spec.ID,
			Status:   "started",
		})

		if err := o.runModule(ctx, job, spec, fileURI, protocol); err != nil {
			failed = append(failed, spec.ID)
			slog.Error("Module extraction failed", "job_id", job.ID,
				"module", spec.ID, "error", err)
		}
	}

	results, err := o.results.ListByJob(ctx, job.ID)
	if err != nil {
		return o.fail(ctx, job, protocol, err)
	}
	if len(failed) == len(modules) && len(completed) == 0 {
		return o.fail(ctx, job, protocol,
			fmt.Errorf("every module failed: %s", strings.Join(failed, ", ")))
	}

	info, err := o.inspectSource(protocol)
	if err != nil {
		return o.fail(ctx, job, protocol, err)
	}
	return o.finish(ctx, job, protocol, modules, results, failed, info)
}

// finish combines the results, writes artifacts, and settles the job's
// terminal status.
func (o *Orchestrator) finish(ctx context.Context, job *models.Job, protocol *models.Protocol,
	modules []config.ModuleSpec, results []*models.ModuleResult, failed []string,
	info *document.Info) error {

	unified, err := combiner.Combine(combiner.Input{
		Protocol:     protocol,
		Info:         info,
		Modules:      modules,
		Results:      results,
		ModelID:      o.modelID,
		AgentCatalog: o.cfg.Pipeline.AgentCatalog,
	})
	if err != nil {
		return o.fail(ctx, job, protocol, fmt.Errorf("failed to combine results: %w", err))
	}

	outDir, err := writeArtifacts(o.cfg.Pipeline.OutputDir, protocol, modules, results, unified)
	if err != nil {
		return o.fail(ctx, job, protocol, fmt.Errorf("failed to write artifacts: %w", err))
	}

	unifiedJSON, err := json.Marshal(unified)
	if err != nil {
		return o.fail(ctx, job, protocol, fmt.Errorf("failed to encode unified document: %w", err))
	}

	status := models.StatusCompleted
	opts := []services.TransitionOption{
		services.WithResult(unifiedJSON),
		services.WithOutputDir(outDir),
	}
	if len(failed) > 0 {
		status = models.StatusCompletedWithErrors
		opts = append(opts, services.WithError(
			fmt.Sprintf("modules failed: %s", strings.Join(failed, ", "))))
	}
	if err := o.jobs.Transition(ctx, job.ID, status, opts...); err != nil {
		return err
	}
	o.publishJobStatus(ctx, job, protocol, status, "")
	slog.Info("Module extraction finished", "job_id", job.ID,
		"status", status, "failed_modules", len(failed), "output_dir", outDir)
	return nil
}

// runModule extracts one module and persists its checkpoint. Extraction
// errors are recorded on the checkpoint and returned; they never abort the
// job.
func (o *Orchestrator) runModule(ctx context.Context, job *models.Job,
	spec config.ModuleSpec, fileURI string, protocol *models.Protocol) error {

	prompts, err := o.cfg.ModuleRegistry.Prompts(spec.ID)
	if err != nil {
		return o.recordFailure(ctx, job.ID, spec.ID, err)
	}

	out, err := o.extractor.ExtractWithCache(ctx, o.store, extractor.Input{
		Module:     spec,
		Prompts:    prompts,
		FileURI:    fileURI,
		SourceHash: protocol.ContentHash,
		ProtocolID: protocol.ID,
	})
	if err != nil {
		return o.recordFailure(ctx, job.ID, spec.ID, err)
	}

	data, err := json.Marshal(out.Data)
	if err != nil {
		return o.recordFailure(ctx, job.ID, spec.ID, err)
	}
	result := &models.ModuleResult{
		JobID:              job.ID,
		ModuleID:           spec.ID,
		Status:             models.ModuleCompleted,
		Data:               data,
		ProvenanceCoverage: out.ProvenanceCoverage,
		Quality:            out.Quality,
		Pass1Seconds:       out.Pass1Seconds,
		Pass2Seconds:       out.Pass2Seconds,
		Pass2Skipped:       out.Pass2Skipped,
		RetryCount:         out.Pass1Retries + out.Pass2Retries,
		FromCache:          out.FromCache,
	}
	if err := o.results.Upsert(ctx, result); err != nil {
		return o.recordFailure(ctx, job.ID, spec.ID, err)
	}
	if o.Scores != nil {
		o.Scores.ObserveModuleScore(out.Quality.Overall())
	}

	_ = o.publisher.PublishModuleStatus(ctx, events.ModuleStatusPayload{
		Type:         events.EventTypeModuleCompleted,
		JobID:        job.ID,
		ModuleID:     spec.ID,
		Status:       "completed",
		QualityScore: out.Quality.Overall(),
		FromCache:    out.FromCache,
	})
	return nil
}

// recordFailure checkpoints a failed module and emits the failure event.
func (o *Orchestrator) recordFailure(ctx context.Context, jobID, moduleID string, cause error) error {
	if err := o.results.Upsert(ctx, &models.ModuleResult{
		JobID:        jobID,
		ModuleID:     moduleID,
		Status:       models.ModuleFailed,
		Data:         json.RawMessage(`{}`),
		ErrorDetails: cause.Error(),
	}); err != nil {
		slog.Error("Failed to checkpoint module failure",
			"job_id", jobID, "module", moduleID, "error", err)
	}
	_ = o.publisher.PublishModuleStatus(ctx, events.ModuleStatusPayload{
		Type:     events.EventTypeModuleFailed,
		JobID:    jobID,
		ModuleID: moduleID,
		Status:   "failed",
		Error:    cause.Error(),
	})
	return cause
}

// inspectSource re-reads the stored PDF so the combiner can verify snippets
// against page text.
func (o *Orchestrator) inspectSource(protocol *models.Protocol) (*document.Info, error) {
	raw, err := o.docs.Read(protocol.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read stored document: %w", err)
	}
	info, err := document.Inspect(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect stored document: %w", err)
	}
	return info, nil
}

// fail records a fatal pipeline error as the job's terminal state.
func (o *Orchestrator) fail(ctx context.Context, job *models.Job, protocol *models.Protocol, cause error) error {
	if terr := o.jobs.Transition(ctx, job.ID, models.StatusFailed,
		services.WithError(cause.Error())); terr != nil {
		slog.Error("Failed to record job failure", "job_id", job.ID, "error", terr)
	}
	o.publishJobStatus(ctx, job, protocol, models.StatusFailed, cause.Error())
	return cause
}

func (o *Orchestrator) publishJobStatus(ctx context.Context, job *models.Job,
	protocol *models.Protocol, status models.JobStatus, errMsg string) {
	_ = o.publisher.PublishJobStatus(ctx, events.JobStatusPayload{
		JobID:      job.ID,
		ProtocolID: protocol.ID,
		Kind:       string(job.Kind),
		Status:     string(status),
		Error:      errMsg,
	})
}

// artifactTimestamp names output directories; UTC so reruns sort correctly
// across hosts.
func artifactTimestamp(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}
