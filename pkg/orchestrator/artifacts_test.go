package orchestrator

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/config"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
)

func TestWriteArtifacts_LayoutAndContent(t *testing.T) {
	root := t.TempDir()
	protocol := &models.Protocol{ID: "prot-9", Filename: "study.pdf"}
	modules := []config.ModuleSpec{
		{ID: "title-page", Slot: "titlePage", Title: "Title Page"},
		{ID: "study-design", Slot: "studyDesign", Title: "Study Design"},
	}
	results := []*models.ModuleResult{
		{
			ModuleID: "title-page",
			Status:   models.ModuleCompleted,
			Data:     json.RawMessage(`{"officialTitle":"T"}`),
			Quality: models.QualityScore{
				Accuracy: 0.98, Completeness: 0.95, Adherence: 1.0,
				Provenance: 0.96, Terminology: 0.92,
			},
		},
		{
			ModuleID:     "study-design",
			Status:       models.ModuleFailed,
			ErrorDetails: "model unavailable",
		},
	}
	unified := map[string]any{"titlePage": map[string]any{"officialTitle": "T"}}

	outDir, err := writeArtifacts(root, protocol, modules, results, unified)
	require.NoError(t, err)
	assert.Contains(t, filepath.Base(outDir), "prot-9_")

	raw, err := os.ReadFile(filepath.Join(outDir, "unified_protocol.json"))
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Contains(t, got, "titlePage")

	raw, err = os.ReadFile(filepath.Join(outDir, "modules", "title-page.json"))
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, "T", payload["officialTitle"])

	_, err = os.Stat(filepath.Join(outDir, "modules", "study-design.json"))
	assert.True(t, os.IsNotExist(err))

	raw, err = os.ReadFile(filepath.Join(outDir, "quality_report.json"))
	require.NoError(t, err)
	var report map[string]any
	require.NoError(t, json.Unmarshal(raw, &report))
	assert.Equal(t, "prot-9", report["protocolId"])
	assert.EqualValues(t, 1, report["modulesScored"])
}

func TestBuildQualityReport_DecisionBandsAndFailures(t *testing.T) {
	protocol := &models.Protocol{ID: "p", Filename: "f.pdf"}
	modules := []config.ModuleSpec{
		{ID: "high", Title: "High"},
		{ID: "mid", Title: "Mid"},
		{ID: "broken", Title: "Broken"},
	}
	uniform := func(v float64) models.QualityScore {
		return models.QualityScore{
			Accuracy: v, Completeness: v, Adherence: v, Provenance: v, Terminology: v,
		}
	}
	results := []*models.ModuleResult{
		{ModuleID: "high", Status: models.ModuleCompleted, Data: json.RawMessage(`{}`), Quality: uniform(0.95)},
		{ModuleID: "mid", Status: models.ModuleCompleted, Data: json.RawMessage(`{}`), Quality: uniform(0.80)},
		{ModuleID: "broken", Status: models.ModuleFailed, ErrorDetails: "boom"},
	}

	report := buildQualityReport(protocol, modules, results)
	assert.Equal(t, 2, report["modulesScored"])
	assert.Equal(t, 1, report["modulesNeedReview"])
	assert.InDelta(t, 0.875, report["averageQualityScore"].(float64), 1e-9)

	entries := report["modules"].([]map[string]any)
	require.Len(t, entries, 3)
	assert.Equal(t, "auto", entries[0]["decision"])
	assert.Equal(t, "review", entries[1]["decision"])
	assert.Equal(t, "boom", entries[2]["error"])
}
