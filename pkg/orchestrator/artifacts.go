package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/config"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
)

// writeArtifacts lays the run's output on disk:
//
//	<outputRoot>/<protocolID>_<timestamp>/
//	    unified_protocol.json
//	    quality_report.json
//	    modules/<moduleID>.json
//
// The directory name embeds the run time so reruns never overwrite.
func writeArtifacts(outputRoot string, protocol *models.Protocol,
	modules []config.ModuleSpec, results []*models.ModuleResult,
	unified map[string]any) (string, error) {

	outDir := filepath.Join(outputRoot,
		fmt.Sprintf("%s_%s", protocol.ID, artifactTimestamp(time.Now())))
	if err := os.MkdirAll(filepath.Join(outDir, "modules"), 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := writeJSON(filepath.Join(outDir, "unified_protocol.json"), unified); err != nil {
		return "", err
	}

	byModule := make(map[string]*models.ModuleResult, len(results))
	for _, r := range results {
		byModule[r.ModuleID] = r
	}
	for _, spec := range modules {
		r, ok := byModule[spec.ID]
		if !ok || r.Status != models.ModuleCompleted {
			continue
		}
		var payload map[string]any
		if err := json.Unmarshal(r.Data, &payload); err != nil {
			return "", fmt.Errorf("module %s payload does not decode: %w", spec.ID, err)
		}
		if err := writeJSON(filepath.Join(outDir, "modules", spec.ID+".json"), payload); err != nil {
			return "", err
		}
	}

	report := buildQualityReport(protocol, modules, results)
	if err := writeJSON(filepath.Join(outDir, "quality_report.json"), report); err != nil {
		return "", err
	}
	return outDir, nil
}

// buildQualityReport summarizes every module's scores, confidence band, and
// recorded issues in one reviewer-facing document.
func buildQualityReport(protocol *models.Protocol, modules []config.ModuleSpec,
	results []*models.ModuleResult) map[string]any {

	byModule := make(map[string]*models.ModuleResult, len(results))
	for _, r := range results {
		byModule[r.ModuleID] = r
	}

	perModule := make([]map[string]any, 0, len(modules))
	var scoreSum float64
	scored := 0
	needsReview := 0
	for _, spec := range modules {
		r, ok := byModule[spec.ID]
		if !ok {
			continue
		}
		entry := map[string]any{
			"moduleId": spec.ID,
			"title":    spec.Title,
			"status":   string(r.Status),
		}
		if r.Status == models.ModuleCompleted {
			overall := r.Quality.Overall()
			decision := models.Decide(overall)
			entry["overallScore"] = overall
			entry["dimensions"] = r.Quality.DimensionScores()
			entry["provenanceCoverage"] = r.ProvenanceCoverage
			entry["decision"] = string(decision)
			entry["pass2Skipped"] = r.Pass2Skipped
			entry["retryCount"] = r.RetryCount
			entry["fromCache"] = r.FromCache
			if len(r.Quality.Issues) > 0 {
				entry["issues"] = r.Quality.Issues
			}
			scoreSum += overall
			scored++
			if decision != models.DecisionAuto {
				needsReview++
			}
		} else {
			entry["error"] = r.ErrorDetails
		}
		perModule = append(perModule, entry)
	}

	avg := 0.0
	if scored > 0 {
		avg = scoreSum / float64(scored)
	}
	return map[string]any{
		"protocolId":          protocol.ID,
		"filename":            protocol.Filename,
		"generatedAt":         time.Now().UTC().Format(time.RFC3339),
		"averageQualityScore": avg,
		"modulesScored":       scored,
		"modulesNeedReview":   needsReview,
		"modules":             perModule,
	}
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
