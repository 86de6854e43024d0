package combiner

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/config"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/document"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
)

func testModules() []config.ModuleSpec {
	return []config.ModuleSpec{
		{ID: "title-page", Slot: "titlePage", Title: "Title Page", InstanceType: "StudyTitle"},
		{ID: "study-design", Slot: "studyDesign", Title: "Study Design", InstanceType: "StudyDesign"},
	}
}

func completedResult(t *testing.T, moduleID string, payload map[string]any, overall float64) *models.ModuleResult {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &models.ModuleResult{
		ModuleID: moduleID,
		Status:   models.ModuleCompleted,
		Data:     raw,
		Quality: models.QualityScore{
			Accuracy: overall, Completeness: overall, Adherence: overall,
			Provenance: overall, Terminology: overall,
		},
		ProvenanceCoverage: 0.97,
	}
}

func TestCombine_PlacesSlotsAndMetadata(t *testing.T) {
	protocol := &models.Protocol{
		ID: "prot-1", Filename: "study.pdf", ContentHash: "abc123",
		SizeBytes: 1024, PageCount: 2,
	}
	info := &document.Info{PageCount: 2, PageText: []string{
		"Protocol ABC-123 a phase 3 study", "Study design details",
	}}
	results := []*models.ModuleResult{
		completedResult(t, "title-page", map[string]any{
			"officialTitle": "Protocol ABC-123",
			"_metadata":     map[string]any{"moduleId": "title-page"},
		}, 0.96),
		{ModuleID: "study-design", Status: models.ModuleFailed, ErrorDetails: "model unavailable"},
	}

	unified, err := Combine(Input{
		Protocol: protocol, Info: info,
		Modules: testModules(), Results: results, ModelID: "gemini-2.5-pro",
	})
	require.NoError(t, err)

	title, ok := unified["titlePage"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Protocol ABC-123", title["officialTitle"])
	assert.NotContains(t, title, "_metadata")
	assert.NotContains(t, unified, "studyDesign")

	src := unified["sourceDocument"].(map[string]any)
	assert.Equal(t, "study.pdf", src["filename"])
	assert.Equal(t, "abc123", src["sha256"])

	meta := unified["extractionMetadata"].(map[string]any)
	moduleMeta := meta["modules"].(map[string]any)
	assert.Equal(t, true, moduleMeta["title-page"].(map[string]any)["success"])
	failedMeta := moduleMeta["study-design"].(map[string]any)
	assert.Equal(t, false, failedMeta["success"])
	assert.Equal(t, "model unavailable", failedMeta["error"])
	assert.InDelta(t, 0.96, meta["averageQualityScore"].(float64), 1e-9)
}

func TestCombine_ProvenanceSummaryIndexesPages(t *testing.T) {
	protocol := &models.Protocol{ID: "prot-2", Filename: "s.pdf", PageCount: 3}
	info := &document.Info{PageCount: 3, PageText: []string{
		"page one text", "randomized double-blind placebo-controlled", "page three",
	}}
	results := []*models.ModuleResult{
		completedResult(t, "study-design", map[string]any{
			"model": map[string]any{
				"provenance": map[string]any{
					"pageNumber":  2,
					"sectionName": "3.1",
					"textSnippet": "randomized double-blind placebo-controlled",
				},
			},
		}, 0.95),
	}

	unified, err := Combine(Input{
		Protocol: protocol, Info: info,
		Modules: testModules(), Results: results, ModelID: "m",
	})
	require.NoError(t, err)

	summary := unified["provenanceSummary"].(map[string]any)
	assert.Equal(t, 1, summary["totalPagesReferenced"])
	index := summary["pageSections"].(map[string][]string)
	assert.Equal(t, []string{"studyDesign"}, index["2"])
}

func TestCombine_AgentCatalogFiltersEdgesToPresentSlots(t *testing.T) {
	protocol := &models.Protocol{ID: "prot-3", Filename: "s.pdf"}
	info := &document.Info{PageCount: 1, PageText: []string{"text"}}
	results := []*models.ModuleResult{
		completedResult(t, "title-page", map[string]any{"officialTitle": "T"}, 0.95),
		completedResult(t, "study-design", map[string]any{"name": "D"}, 0.95),
	}

	unified, err := Combine(Input{
		Protocol: protocol, Info: info,
		Modules: testModules(), Results: results, ModelID: "m",
		AgentCatalog: true,
	})
	require.NoError(t, err)

	catalog := unified["agentCatalog"].(map[string]any)
	edges := catalog["edges"].([]moduleEdge)
	require.Len(t, edges, 1)
	assert.Equal(t, "studyDesign", edges[0].From)
	assert.Equal(t, "titlePage", edges[0].To)
	assert.Len(t, catalog["modules"], 2)
}
