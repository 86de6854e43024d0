// Package interpret turns a merged schedule-of-activities document into a
// fully structured schedule through twelve sequential stages. Every stage is
// restartable from the previous stage's serialized output; the only state
// between stages is the document itself.
package interpret

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/config"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/events"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/llm"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/terminology"
)

// StageResult records one stage's outcome for the stored stage-by-stage
// trail.
type StageResult struct {
	Stage   int            `json:"stage"`
	Name    string         `json:"name"`
	Status  string         `json:"status"` // completed | failed
	Summary map[string]any `json:"summary,omitempty"`
	Error   string         `json:"error,omitempty"`
	Seconds float64        `json:"seconds"`
}

// stage is one pipeline step. Run mutates doc in place and returns a
// summary for the stage trail.
type stage struct {
	number int
	name   string
	run    func(ctx context.Context, doc map[string]any) (map[string]any, error)
}

// Pipeline is the 12-stage interpreter. It satisfies the soa.Interpreter
// contract.
type Pipeline struct {
	cfg       *config.InterpretationConfig
	client    llm.Client
	resolver  *terminology.Resolver
	publisher *events.Publisher

	// IntermediateDir, when set, receives one JSON per stage under
	// intermediate_stages/ for debugging and restart.
	IntermediateDir string
}

func NewPipeline(cfg *config.InterpretationConfig, client llm.Client,
	resolver *terminology.Resolver, publisher *events.Publisher) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		client:    client,
		resolver:  resolver,
		publisher: publisher,
	}
}

func (p *Pipeline) stages() []stage {
	return []stage{
		{1, "domain_categorization", p.runDomains},
		{2, "component_expansion", p.runComponents},
		{3, "hierarchy_building", p.runHierarchy},
		{4, "alternative_resolution", p.runAlternatives},
		{5, "specimen_enrichment", p.runSpecimens},
		{6, "conditional_expansion", p.runConditionals},
		{7, "timing_distribution", p.runTiming},
		{8, "cycle_expansion", p.runCycles},
		{9, "protocol_mining", p.runMining},
		{10, "review_assembly", p.runReviewAssembly},
		{11, "schedule_generation", p.runSchedule},
		{12, "compliance_check", p.runCompliance},
	}
}

// Run executes all stages in order. A stage error halts the pipeline; the
// partial stage trail is still returned so the caller can persist it.
func (p *Pipeline) Run(ctx context.Context, jobID string, doc map[string]any) (map[string]any, json.RawMessage, error) {
	var trail []StageResult

	for _, s := range p.stages() {
		if ctx.Err() != nil {
			return doc, encodeTrail(trail), ctx.Err()
		}
		p.publishStage(ctx, jobID, s, "started", "")

		start := time.Now()
		summary, err := s.run(ctx, doc)
		result := StageResult{
			Stage:   s.number,
			Name:    s.name,
			Summary: summary,
			Seconds: time.Since(start).Seconds(),
		}
		if err != nil {
			result.Status = "failed"
			result.Error = err.Error()
			trail = append(trail, result)
			p.publishStage(ctx, jobID, s, "failed", err.Error())
			return doc, encodeTrail(trail), fmt.Errorf("stage %d (%s): %w", s.number, s.name, err)
		}
		result.Status = "completed"
		trail = append(trail, result)
		p.publishStage(ctx, jobID, s, "completed", "")
		p.writeIntermediate(jobID, s, doc)
		slog.Info("Interpretation stage finished", "job_id", jobID,
			"stage", s.number, "name", s.name, "seconds", result.Seconds)
	}
	return doc, encodeTrail(trail), nil
}

func (p *Pipeline) publishStage(ctx context.Context, jobID string, s stage, status, detail string) {
	if p.publisher == nil {
		return
	}
	_ = p.publisher.PublishStageStatus(ctx, events.StageStatusPayload{
		JobID:       jobID,
		StageNumber: s.number,
		StageName:   s.name,
		Status:      status,
		Detail:      detail,
	})
}

func (p *Pipeline) writeIntermediate(jobID string, s stage, doc map[string]any) {
	if p.IntermediateDir == "" {
		return
	}
	dir := filepath.Join(p.IntermediateDir, "intermediate_stages")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("Failed to create intermediate stage directory", "error", err)
		return
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return
	}
	name := fmt.Sprintf("stage_%02d_%s.json", s.number, s.name)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		slog.Warn("Failed to write intermediate stage file", "stage", s.number, "error", err)
	}
}

func encodeTrail(trail []StageResult) json.RawMessage {
	raw, err := json.Marshal(trail)
	if err != nil {
		return json.RawMessage(`[]`)
	}
	return raw
}
