package terminology

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/llm"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
)

func TestLists_EmbeddedCodelistsLoad(t *testing.T) {
	lists, err := Lists()
	require.NoError(t, err)
	require.Contains(t, lists, "Trial Phase")

	phase := lists["Trial Phase"]
	entry := phase.ByCode("c15602")
	require.NotNil(t, entry)
	assert.Equal(t, "Phase III Trial", entry.Decode)

	// Synonyms resolve through decode lookup after normalization.
	assert.Equal(t, entry, phase.ByDecode("  phase 3 "))
	assert.Equal(t, entry, phase.ByDecode("PHASE III TRIAL"))
	assert.Nil(t, phase.ByDecode("phase 9"))
}

func TestInferCodelist(t *testing.T) {
	assert.Equal(t, "Trial Phase", InferCodelist("studyDesign.studyPhase"))
	assert.Equal(t, "Arm Type", InferCodelist("arms[2].type"))
	assert.Equal(t, "Objective Level", InferCodelist("objectives[0].level"))
	assert.Equal(t, "Endpoint Level", InferCodelist("objectives[0].endpoints[1].level"))
	assert.Equal(t, "", InferCodelist("title"))
}

func TestFindCodePairs(t *testing.T) {
	doc := map[string]any{
		"studyPhase": map[string]any{"code": "C15602", "decode": "Phase III Trial"},
		"arms": []any{
			map[string]any{
				"name": "Arm A",
				"type": map[string]any{"code": "C174266", "decode": "Investigational Arm"},
			},
		},
		"title": "no code here",
	}

	pairs := FindCodePairs(doc)
	require.Len(t, pairs, 2)
	byPath := map[string]CodePair{}
	for _, p := range pairs {
		byPath[p.Path] = p
	}
	assert.Equal(t, "Trial Phase", byPath["studyPhase"].Codelist)
	assert.Equal(t, "Arm Type", byPath["arms[0].type"].Codelist)
}

func TestValidate_ScoresAndIssues(t *testing.T) {
	doc := map[string]any{
		"studyPhase": map[string]any{"code": "C15602", "decode": "Phase 3"}, // synonym, resolves
		"arms": []any{
			map[string]any{"type": map[string]any{"code": "BOGUS", "decode": "Placebo"}},
			map[string]any{"type": map[string]any{"code": "C174266", "decode": "Placebo Control Arm"}}, // decode mismatch
		},
	}

	res := Validate(doc)
	assert.Equal(t, 3, res.Checked)
	assert.Equal(t, 1, res.Resolved)
	require.Len(t, res.Issues, 2)
	assert.InDelta(t, 1.0/3.0, res.Score(), 1e-9)

	kinds := map[string]models.QualityIssue{}
	for _, issue := range res.Issues {
		kinds[issue.Kind] = issue
	}
	// Unknown code, but the decode identifies the right entry.
	assert.Equal(t, "C174268", kinds["unknown_code"].Suggestion)
	assert.Equal(t, "Investigational Arm", kinds["decode_mismatch"].Suggestion)
}

func TestValidate_EmptyDocPerfectScore(t *testing.T) {
	res := Validate(map[string]any{"title": "nothing coded"})
	assert.Equal(t, 0, res.Checked)
	assert.InDelta(t, 1.0, res.Score(), 1e-9)
}

type fakeLLM struct {
	response string
	calls    int
	prompts  []string
}

func (f *fakeLLM) Generate(_ context.Context, req llm.Request) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, req.Prompt)
	return f.response, nil
}

func (f *fakeLLM) ModelID() string { return "fake-model" }

func TestResolver_StaticTierAvoidsLLM(t *testing.T) {
	fake := &fakeLLM{}
	r := NewResolver(fake, 10)

	out, err := r.Resolve(context.Background(), "Sex", []string{"Female", "M"})
	require.NoError(t, err)
	assert.Equal(t, 0, fake.calls)

	assert.Equal(t, "C16576", out["Female"].Code)
	assert.Equal(t, models.MappingCached, out["Female"].Source)
	assert.Equal(t, "C20197", out["M"].Code)
	assert.InDelta(t, 1.0, out["M"].Confidence, 1e-9)
}

func TestResolver_BatchesNovelTermsThroughLLM(t *testing.T) {
	fake := &fakeLLM{response: `{"mappings": [
		{"term": "tumour biopsy", "code": "C12801", "confidence": 0.88},
		{"term": "mystery fluid", "code": "", "confidence": 0.2}
	]}`}
	r := NewResolver(fake, 10)

	out, err := r.Resolve(context.Background(), "Specimen Type",
		[]string{"Blood", "tumour biopsy", "mystery fluid"})
	require.NoError(t, err)
	// One batched call covers both novel terms.
	require.Equal(t, 1, fake.calls)
	assert.Contains(t, fake.prompts[0], "tumour biopsy")
	assert.Contains(t, fake.prompts[0], "mystery fluid")
	assert.NotContains(t, fake.prompts[0], "- Blood\n- ") // known term not re-asked

	assert.Equal(t, models.MappingCached, out["Blood"].Source)
	assert.Equal(t, "C12801", out["tumour biopsy"].Code)
	assert.Equal(t, models.MappingLLM, out["tumour biopsy"].Source)
	assert.Equal(t, models.MappingDefault, out["mystery fluid"].Source)
	assert.Zero(t, out["mystery fluid"].Confidence)
}
