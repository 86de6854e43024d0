package interpret

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/config"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/llm"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/terminology"
)

type fakeLLM struct {
	responses []string
	prompts   []string
}

func (f *fakeLLM) Generate(ctx context.Context, req llm.Request) (string, error) {
	f.prompts = append(f.prompts, req.Prompt)
	if len(f.responses) == 0 {
		return `{}`, nil
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return resp, nil
}

func (f *fakeLLM) ModelID() string { return "fake" }

func newTestPipeline(t *testing.T, client *fakeLLM) *Pipeline {
	t.Helper()
	cfg := &config.InterpretationConfig{
		TermCacheDir:       t.TempDir(),
		BatchSize:          25,
		MaxCyclesExpansion: 4,
	}
	return NewPipeline(cfg, client, terminology.NewResolver(client, 25), nil)
}

func TestRunDomains_CuratedTierSkipsLLM(t *testing.T) {
	client := &fakeLLM{}
	p := newTestPipeline(t, client)

	doc := map[string]any{
		"activities": []any{
			map[string]any{"id": "A1", "name": "12-lead ECG"},
			map[string]any{"id": "A2", "name": "Hematology panel"},
		},
	}
	summary, err := p.runDomains(context.Background(), doc)
	require.NoError(t, err)
	assert.Empty(t, client.prompts, "curated terms must not reach the LLM")
	assert.Equal(t, 0, summary["llmTerms"])

	acts := objects(doc, "activities")
	assert.Equal(t, "EG", str(acts[0], "cdashDomain"))
	assert.Equal(t, "LB", str(acts[1], "cdashDomain"))
	bc, ok := acts[0]["biomedicalConcept"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ECG Test Findings", bc["decode"])
}

func TestRunDomains_NovelTermsBatchedAndCached(t *testing.T) {
	client := &fakeLLM{responses: []string{
		`{"mappings": [{"term": "retinal imaging", "category": "PROCEDURE",
		  "cdashDomain": "PR", "confidence": 0.85, "rationale": "ophthalmic procedure"}]}`,
	}}
	p := newTestPipeline(t, client)

	doc := map[string]any{
		"activities": []any{
			map[string]any{"id": "A1", "name": "Retinal imaging"},
		},
	}
	_, err := p.runDomains(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, client.prompts, 1)

	acts := objects(doc, "activities")
	assert.Equal(t, "PR", str(acts[0], "cdashDomain"))
	assert.True(t, isMarkedReview(acts[0]), "0.85 confidence lands in the review band")

	// Second run hits the term cache, no further LLM traffic.
	doc2 := map[string]any{
		"activities": []any{
			map[string]any{"id": "B1", "name": "retinal imaging"},
		},
	}
	_, err = p.runDomains(context.Background(), doc2)
	require.NoError(t, err)
	assert.Len(t, client.prompts, 1)
}

func TestRunComponents_ProposesAndClassifies(t *testing.T) {
	client := &fakeLLM{responses: []string{
		`{"results": [
			{"activityId": "A1", "component": "sodium", "classification": "valid", "confidence": 0.95},
			{"activityId": "A1", "component": "potassium", "classification": "invalid", "confidence": 0.9},
			{"activityId": "A1", "component": "glucose", "classification": "review", "confidence": 0.6}
		]}`,
	}}
	p := newTestPipeline(t, client)

	doc := map[string]any{
		"activities": []any{
			map[string]any{"id": "A1", "name": "Chemistry (sodium, potassium, glucose)"},
			map[string]any{"id": "A2", "name": "Vital signs"},
		},
	}
	summary, err := p.runComponents(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, 3, summary["candidates"])

	acts := objects(doc, "activities")
	comps := objects(acts[0], "components")
	require.Len(t, comps, 2) // invalid one dropped
	assert.Nil(t, acts[1]["components"])
}

func TestRunHierarchy_PrefixRefinement(t *testing.T) {
	p := newTestPipeline(t, &fakeLLM{})
	doc := map[string]any{
		"activities": []any{
			map[string]any{"id": "A1", "name": "Hematology", "cdashDomain": "LB"},
			map[string]any{"id": "A2", "name": "Hematology with differential", "cdashDomain": "LB"},
			map[string]any{"id": "A3", "name": "ECG", "cdashDomain": "EG"},
		},
	}
	summary, err := p.runHierarchy(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, 1, summary["edges"])

	edges, _ := doc["activityHierarchy"].([]any)
	edge := edges[0].(map[string]any)
	assert.Equal(t, "A1", edge["parentId"])
	assert.Equal(t, "A2", edge["childId"])
}

func TestRunAlternatives_SplitsChoicePoints(t *testing.T) {
	p := newTestPipeline(t, &fakeLLM{})
	doc := map[string]any{
		"activities": []any{
			map[string]any{"id": "A1", "name": "CT or MRI"},
			map[string]any{"id": "A2", "name": "Chemistry, hematology"},
		},
	}
	summary, err := p.runAlternatives(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, 1, summary["alternativeSets"])

	alts, _ := doc["alternatives"].([]any)
	require.Len(t, alts, 1)
	alt := alts[0].(map[string]any)
	assert.Equal(t, "A1-ALT", alt["id"])
	assert.Len(t, alt["options"], 2)

	conditions, _ := doc["conditions"].([]any)
	require.Len(t, conditions, 1)
}

func TestRunConditionals_FootnotesBecomeConditions(t *testing.T) {
	p := newTestPipeline(t, &fakeLLM{})
	doc := map[string]any{
		"footnotes": []any{
			map[string]any{"marker": "a", "text": "Only if clinically indicated."},
			map[string]any{"marker": "b", "text": "Performed in triplicate."},
		},
		"activities": []any{
			map[string]any{"id": "A1", "name": "ECG", "footnoteMarkers": []any{"a", "b"},
				"_hasFootnoteCondition": true},
		},
		"instances": []any{
			map[string]any{"id": "I1", "visitId": "V1", "activityId": "A1",
				"footnoteMarkers": []any{"a"}},
		},
	}
	summary, err := p.runConditionals(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, 1, summary["conditionalFootnotes"])
	assert.Equal(t, 2, summary["assignments"])

	acts := objects(doc, "activities")
	assert.NotContains(t, acts[0], "_hasFootnoteCondition")
}

func TestRunTiming_ExpandsCompoundTimings(t *testing.T) {
	p := newTestPipeline(t, &fakeLLM{})
	doc := map[string]any{
		"instances": []any{
			map[string]any{"id": "I1", "visitId": "V1", "activityId": "A1",
				"timing": "BI/EOI", "footnoteMarkers": []any{"a"}},
			map[string]any{"id": "I2", "visitId": "V1", "activityId": "A1",
				"timing": "pre-dose"},
		},
	}
	summary, err := p.runTiming(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, 1, summary["expandedInstances"])
	assert.Equal(t, 3, summary["totalInstances"])

	insts := objects(doc, "instances")
	assert.Equal(t, "I1-bi", str(insts[0], "id"))
	assert.Equal(t, "I1-eoi", str(insts[1], "id"))
	assert.Equal(t, []string{"a"}, strList(insts[0], "footnoteMarkers"))
	side, _ := insts[0]["_timingExpansion"].(map[string]any)
	assert.Equal(t, "I1", side["originalId"])
	assert.Equal(t, "I2", str(insts[2], "id"))
}

func TestRunCycles_BoundedExpansion(t *testing.T) {
	p := newTestPipeline(t, &fakeLLM{})
	doc := map[string]any{
		"visits": []any{
			map[string]any{"id": "C1D1", "name": "Cycle Day 1",
				"recurrence": map[string]any{"type": "PER_CYCLE", "maxCycles": float64(6)}},
			map[string]any{"id": "EOT", "name": "End of Treatment",
				"recurrence": map[string]any{"type": "AT_EVENT"}},
		},
		"instances": []any{
			map[string]any{"id": "I1", "visitId": "C1D1", "activityId": "A1"},
		},
	}
	summary, err := p.runCycles(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, 1, summary["expandedVisits"])
	assert.Equal(t, 1, summary["flaggedAtEvent"])

	visits := objects(doc, "visits")
	// MaxCyclesExpansion = 4 caps the declared 6 cycles; plus the AT_EVENT visit.
	assert.Len(t, visits, 5)

	insts := objects(doc, "instances")
	require.Len(t, insts, 4)
	assert.Equal(t, "I1-cycle-1", str(insts[0], "id"))
	assert.Equal(t, "C1D1-cycle-1", str(insts[0], "visitId"))
}

func TestRunSchedule_AppliesDecisions(t *testing.T) {
	p := newTestPipeline(t, &fakeLLM{})
	doc := map[string]any{
		"visits": []any{
			map[string]any{"id": "V1", "name": "Screening", "timing": "Day -28"},
		},
		"activities": []any{
			map[string]any{"id": "A1", "name": "ECG", "_review": true, "_reviewReason": "x"},
			map[string]any{"id": "A2", "name": "Bad extraction"},
		},
		"instances": []any{
			map[string]any{"id": "I1", "visitId": "V1", "activityId": "A1"},
		},
		"confirmedDecisions": []any{
			map[string]any{"targetId": "A1", "action": "accept"},
			map[string]any{"targetId": "A2", "action": "reject"},
		},
	}
	summary, err := p.runSchedule(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, 1, summary["decisionsAccepted"])
	assert.Equal(t, 1, summary["decisionsRejected"])

	acts := objects(doc, "activities")
	require.Len(t, acts, 1)
	assert.False(t, isMarkedReview(acts[0]))

	schedule, _ := doc["schedule"].(map[string]any)
	require.NotNil(t, schedule)
	assert.Len(t, schedule["encounters"], 1)
	assert.Len(t, schedule["scheduledActivityInstances"], 1)
}

func TestRunCompliance_HaltsOnBrokenReferences(t *testing.T) {
	p := newTestPipeline(t, &fakeLLM{})
	doc := map[string]any{
		"visits": []any{
			map[string]any{"id": "V1", "name": "Screening"},
		},
		"activities": []any{
			map[string]any{"id": "A1", "name": "ECG"},
		},
		"instances": []any{
			map[string]any{"id": "I1", "visitId": "V1", "activityId": "A1"},
			map[string]any{"id": "I2", "visitId": "V9", "activityId": "A1"},
		},
	}
	_, err := p.runCompliance(context.Background(), doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown encounter")
}

func TestRun_StageTrailAndHalt(t *testing.T) {
	// Empty responses make every LLM stage a no-op success, so the full
	// pipeline completes on a document with no specimen or component work.
	client := &fakeLLM{}
	p := newTestPipeline(t, client)

	doc := map[string]any{
		"groupId": "MG-1",
		"visits": []any{
			map[string]any{"id": "V1", "name": "Screening", "timing": "Day -28"},
		},
		"activities": []any{
			map[string]any{"id": "A1", "name": "12-lead ECG"},
		},
		"instances": []any{
			map[string]any{"id": "I1", "visitId": "V1", "activityId": "A1"},
		},
		"footnotes": []any{},
	}
	final, trail, err := p.Run(context.Background(), "job-1", doc)
	require.NoError(t, err)
	assert.NotNil(t, final["schedule"])
	assert.Contains(t, string(trail), `"stage":12`)
	assert.Contains(t, string(trail), `"status":"completed"`)
}
