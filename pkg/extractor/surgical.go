package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"dario.cat/mergo"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/llm"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/quality"
)

// trySurgical asks the model for just the failing top-level fields and
// deep-merges them into the preserved baseline. Returns ok=false when the
// response does not parse, names no requested field, or leaves the baseline
// unchanged; the caller then falls back to a full retry.
func (e *Extractor) trySurgical(ctx context.Context, checker *quality.Checker, schemaDoc map[string]any, spec passSpec, state *attemptState) (map[string]any, bool) {
	failed := quality.FailedTopLevelFields(state.lastQuality, checker.Thresholds(), spec.pass)
	if len(failed) == 0 {
		return nil, false
	}

	prompt := surgicalPrompt(spec.prompt, state.lastQuality, checker, spec.pass, failed)
	text, err := e.client.Generate(ctx, llm.Request{
		Prompt:       prompt,
		FileURI:      spec.fileURI,
		FileMIMEType: "application/pdf",
		JSONResponse: true,
	})
	if err != nil {
		spec.logger.Warn("Surgical retry call failed", "error", err)
		return nil, false
	}
	patch, err := llm.ParseObject(text)
	if err != nil {
		return nil, false
	}

	// Only requested fields may change; everything else stays byte-identical.
	allowed := map[string]bool{}
	for _, f := range failed {
		allowed[f] = true
	}
	for key := range patch {
		if !allowed[key] {
			delete(patch, key)
		}
	}
	if len(patch) == 0 {
		return nil, false
	}

	merged, err := deepMerge(state.lastResult, patch)
	if err != nil {
		spec.logger.Warn("Surgical merge failed", "error", err)
		return nil, false
	}
	if equalJSON(merged, state.lastResult) {
		return nil, false
	}
	return quality.PostProcess(merged, schemaDoc), true
}

func surgicalPrompt(basePrompt string, score models.QualityScore, checker *quality.Checker, pass quality.Pass, failed []string) string {
	var sb strings.Builder
	sb.WriteString(basePrompt)
	sb.WriteString("\n\nOnly the following top-level fields need repair: ")
	sb.WriteString(strings.Join(failed, ", "))
	sb.WriteString(".\n")
	sb.WriteString(quality.GenerateFeedback(score, checker.Thresholds(), pass))
	sb.WriteString("\nRespond with a JSON object containing ONLY the listed fields, fully corrected.")
	return sb.String()
}

// deepMerge returns a fresh copy of base with patch merged over it. Arrays
// replace wholesale; objects merge recursively.
func deepMerge(base, patch map[string]any) (map[string]any, error) {
	merged := cloneMap(base)
	if err := mergo.Merge(&merged, patch, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("deep merge failed: %w", err)
	}
	return merged, nil
}

func cloneMap(m map[string]any) map[string]any {
	raw, err := json.Marshal(m)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}

func equalJSON(a, b map[string]any) bool {
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ra) == string(rb)
}
