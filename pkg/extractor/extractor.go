// Package extractor implements the two-phase module extraction: a values
// pass, a provenance pass that is skipped when pass-1 citations already
// clear the threshold, and a quality-directed retry loop with surgical
// repair of failing fields.
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/config"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/llm"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/provenance"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/quality"
)

// identityFields must survive both passes. Pass 2 sometimes omits them; they
// are restored from pass-1 output before merging.
var identityFields = []string{"id", "instanceType", "name"}

// Input is everything one module extraction needs.
type Input struct {
	Module  config.ModuleSpec
	Prompts config.PromptSet

	// FileURI is the remote handle of the source PDF on the provider.
	FileURI string

	// SourceHash is the SHA-256 of the PDF bytes, for cache keys.
	SourceHash string

	// ProtocolID tags cache entries for targeted invalidation.
	ProtocolID string
}

// Output is the deliverable of one module extraction: the document with its
// _metadata envelope, plus the numbers the orchestrator persists.
type Output struct {
	Data               map[string]any
	Quality            models.QualityScore
	ProvenanceCoverage float64
	Pass1Seconds       float64
	Pass2Seconds       float64
	Pass2Skipped       bool
	Pass1Retries       int
	Pass2Retries       int
	FromCache          bool
}

// Extractor runs module extractions. One instance serves all modules; the
// per-module schema checker is built per call from the prompt set.
type Extractor struct {
	client  llm.Client
	quality *config.QualityConfig

	// components are the shared $ref schemas for checker construction.
	components map[string]string

	// retrySleep separates retry attempts; tests shorten it.
	retrySleep time.Duration
}

func New(client llm.Client, qualityCfg *config.QualityConfig, components map[string]string) *Extractor {
	return &Extractor{
		client:     client,
		quality:    qualityCfg,
		components: components,
		retrySleep: 2 * time.Second,
	}
}

// Extract runs the full two-phase extraction for one module.
func (e *Extractor) Extract(ctx context.Context, in Input) (*Output, error) {
	checker := quality.NewChecker(in.Prompts.Schema, e.components, e.quality.Thresholds)
	var schemaDoc map[string]any
	_ = json.Unmarshal([]byte(in.Prompts.Schema), &schemaDoc)

	out := &Output{}
	logger := slog.With("module", in.Module.ID)

	// Pass 1: values.
	pass1Start := time.Now()
	pass1Doc, pass1Retries, err := e.runPass(ctx, checker, schemaDoc, passSpec{
		prompt:  substitute(in.Prompts.Pass1, in.Module, ""),
		fileURI: in.FileURI,
		pass:    quality.PassValues,
		logger:  logger.With("pass", 1),
	})
	out.Pass1Seconds = time.Since(pass1Start).Seconds()
	out.Pass1Retries = pass1Retries
	if err != nil {
		return nil, fmt.Errorf("pass 1 failed for %s: %w", in.Module.ID, err)
	}
	enforceIdentity(pass1Doc, in.Module)

	// Pass 2 decision: skip when pass-1 citations already suffice.
	combined := pass1Doc
	cov := provenance.Measure(pass1Doc)
	if cov.Fraction() >= e.quality.Thresholds.Provenance {
		out.Pass2Skipped = true
		logger.Info("Skipping provenance pass",
			"coverage", cov.Fraction(), "threshold", e.quality.Thresholds.Provenance)
	} else {
		pass1JSON, err := json.Marshal(pass1Doc)
		if err != nil {
			return nil, fmt.Errorf("failed to encode pass-1 output: %w", err)
		}
		pass2Start := time.Now()
		pass2Doc, pass2Retries, err := e.runPass(ctx, checker, schemaDoc, passSpec{
			prompt:   substitute(in.Prompts.Pass2, in.Module, string(pass1JSON)),
			fileURI:  in.FileURI,
			pass:     quality.PassCombined,
			baseline: pass1Doc,
			logger:   logger.With("pass", 2),
		})
		out.Pass2Seconds = time.Since(pass2Start).Seconds()
		out.Pass2Retries = pass2Retries
		if err != nil {
			return nil, fmt.Errorf("pass 2 failed for %s: %w", in.Module.ID, err)
		}
		combined = pass2Doc
	}

	// The skip path post-processes too; the processor is idempotent, so the
	// envelope stays uniform either way.
	quality.PostProcess(combined, schemaDoc)
	score := checker.Evaluate(combined, quality.PassCombined)
	out.Data = combined
	out.Quality = score
	out.ProvenanceCoverage = provenance.Measure(combined).Fraction()

	attachMetadata(out, in.Module)
	return out, nil
}

// passSpec parameterizes one pass of the retry loop.
type passSpec struct {
	prompt  string
	fileURI string
	pass    quality.Pass

	// baseline is the pass-1 document during pass 2. Identity fields the
	// model drops are restored from it before evaluation.
	baseline map[string]any

	logger *slog.Logger
}

// attemptState is the explicit state the retry loop threads between
// attempts. Failures are values here, never panics.
type attemptState struct {
	lastResult  map[string]any
	lastQuality models.QualityScore
	lastErr     error
	attempt     int
}

// runPass executes one pass with the quality-directed retry loop. It returns
// the best result seen, the number of retries spent, and an error only when
// every attempt failed to produce any parseable result.
func (e *Extractor) runPass(ctx context.Context, checker *quality.Checker, schemaDoc map[string]any, spec passSpec) (map[string]any, int, error) {
	state := attemptState{}
	maxAttempts := 1 + e.quality.MaxRetries

	var best map[string]any
	var bestScore models.QualityScore
	bestOverall := -1.0

	for state.attempt = 0; state.attempt < maxAttempts; state.attempt++ {
		if state.attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, state.attempt, ctx.Err()
			case <-time.After(e.retrySleep):
			}
		}

		doc, err := e.attemptOnce(ctx, checker, schemaDoc, spec, &state)
		if err != nil {
			spec.logger.Warn("Extraction attempt failed", "attempt", state.attempt+1, "error", err)
			state.lastErr = err
			state.lastResult = nil // no baseline: next attempt is a full retry
			continue
		}

		score := checker.Evaluate(doc, spec.pass)
		state.lastResult = doc
		state.lastQuality = score
		state.lastErr = nil

		if overall := score.Overall(); overall > bestOverall {
			best, bestScore, bestOverall = doc, score, overall
		}
		if checker.Thresholds().Meets(score, spec.pass == quality.PassValues) {
			return doc, state.attempt, nil
		}
		spec.logger.Info("Quality below thresholds",
			"attempt", state.attempt+1,
			"failing", checker.Thresholds().FailingDimensions(score, spec.pass == quality.PassValues))
	}

	if best == nil {
		return nil, state.attempt, fmt.Errorf("all %d attempts failed: %w", maxAttempts, state.lastErr)
	}
	// Out of retries: record the best attempt with its score.
	spec.logger.Warn("Returning best-effort result below thresholds", "overall", bestScore.Overall())
	return best, e.quality.MaxRetries, nil
}

// attemptOnce performs one LLM round trip: full prompt on the first attempt,
// surgical repair when the previous attempt parsed and the gates allow it,
// full retry with feedback otherwise. A surgical attempt that cannot improve
// the baseline falls back to a full retry within the same attempt.
func (e *Extractor) attemptOnce(ctx context.Context, checker *quality.Checker, schemaDoc map[string]any, spec passSpec, state *attemptState) (map[string]any, error) {
	if state.attempt == 0 || state.lastResult == nil {
		prompt := spec.prompt
		if state.lastResult == nil && state.attempt > 0 && state.lastErr != nil {
			prompt += "\n\nThe previous response could not be parsed as JSON. Respond with a single valid JSON object."
		}
		return e.generateDoc(ctx, spec, prompt, schemaDoc)
	}

	feedback := quality.GenerateFeedback(state.lastQuality, checker.Thresholds(), spec.pass)
	if e.surgicalEligible(state.lastQuality, checker.Thresholds(), spec.pass) {
		doc, ok := e.trySurgical(ctx, checker, schemaDoc, spec, state)
		if ok {
			return doc, nil
		}
		spec.logger.Info("Surgical retry ineffective, falling back to full retry")
	}
	return e.generateDoc(ctx, spec, spec.prompt+"\n\n"+feedback, schemaDoc)
}

func (e *Extractor) generateDoc(ctx context.Context, spec passSpec, prompt string, schemaDoc map[string]any) (map[string]any, error) {
	text, err := e.client.Generate(ctx, llm.Request{
		Prompt:       prompt,
		FileURI:      spec.fileURI,
		FileMIMEType: "application/pdf",
		JSONResponse: true,
	})
	if err != nil {
		return nil, err
	}
	doc, err := llm.ParseObject(text)
	if err != nil {
		return nil, err
	}
	if spec.baseline != nil {
		preserveIdentity(spec.baseline, doc)
	}
	return quality.PostProcess(doc, schemaDoc), nil
}

// surgicalEligible applies the repair gates: the failing dimensions must not
// be too far gone, and the structure must be mostly schema-conformant.
func (e *Extractor) surgicalEligible(score models.QualityScore, thresholds models.Thresholds, pass quality.Pass) bool {
	failing := thresholds.FailingDimensions(score, pass == quality.PassValues)
	if len(failing) == 0 {
		return false
	}
	dims := score.DimensionScores()
	sum := 0.0
	for _, dim := range failing {
		sum += dims[dim]
	}
	avg := sum / float64(len(failing))
	return avg >= e.quality.SurgicalMinAvgScore && score.Adherence >= e.quality.SurgicalMinAdherence
}
