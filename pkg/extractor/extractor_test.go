package extractor

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/cache"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/config"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/llm"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
)

// scriptedLLM returns canned responses in order and records every prompt.
type scriptedLLM struct {
	responses []string
	prompts   []string
}

func (s *scriptedLLM) Generate(_ context.Context, req llm.Request) (string, error) {
	s.prompts = append(s.prompts, req.Prompt)
	if len(s.responses) == 0 {
		return "", context.DeadlineExceeded
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func (s *scriptedLLM) ModelID() string { return "scripted-model" }

const testSchema = `{
	"type": "object",
	"required": ["id", "title"],
	"properties": {
		"id": {"type": "string"},
		"title": {"type": "string"},
		"phase": {"type": "string"}
	}
}`

func testModule() config.ModuleSpec {
	return config.ModuleSpec{
		ID:           "study_design",
		Title:        "Study Design",
		Slot:         "studyDesign",
		InstanceType: "StudyDesign",
	}
}

func testInput() Input {
	return Input{
		Module: testModule(),
		Prompts: config.PromptSet{
			Pass1:  "Extract {{MODULE_TITLE}} as {{INSTANCE_TYPE}}.",
			Pass2:  "Add provenance. Previous output: {{PASS1_OUTPUT}}",
			Schema: testSchema,
		},
		FileURI:    "files/abc",
		SourceHash: "deadbeef",
		ProtocolID: "prot-1",
	}
}

func newTestExtractor(client llm.Client) *Extractor {
	e := New(client, &config.QualityConfig{
		Thresholds:           models.DefaultThresholds(),
		MaxRetries:           2,
		SurgicalMinAvgScore:  0.70,
		SurgicalMinAdherence: 0.50,
	}, nil)
	e.retrySleep = 0
	return e
}

const rootProvenance = `"provenance": {"pageNumber": 4, "sectionNumber": "1.0", "textSnippet": "an adequately long snippet of protocol text"}`

func TestExtract_CleanPass1SkipsPass2(t *testing.T) {
	fake := &scriptedLLM{responses: []string{
		`{"id": "SD-1", "instanceType": "StudyDesign", "title": "A Study", "phase": "Phase 3", ` + rootProvenance + `}`,
	}}
	e := newTestExtractor(fake)

	out, err := e.Extract(context.Background(), testInput())
	require.NoError(t, err)

	require.Len(t, fake.prompts, 1)
	assert.Contains(t, fake.prompts[0], "Extract Study Design as StudyDesign.")
	assert.True(t, out.Pass2Skipped)
	assert.Zero(t, out.Pass2Seconds)
	assert.False(t, out.FromCache)

	meta := out.Data["_metadata"].(map[string]any)
	assert.Equal(t, "study_design", meta["moduleId"])
	assert.Equal(t, true, meta["pass2Skipped"])
	assert.InDelta(t, 1.0, out.ProvenanceCoverage, 1e-9)
}

func TestExtract_Pass2RunsWhenProvenanceLow(t *testing.T) {
	fake := &scriptedLLM{responses: []string{
		`{"id": "SD-1", "instanceType": "StudyDesign", "title": "A Study", "phase": "Phase 3"}`,
		`{"title": "A Study", "phase": "Phase 3", ` + rootProvenance + `}`,
	}}
	e := newTestExtractor(fake)

	out, err := e.Extract(context.Background(), testInput())
	require.NoError(t, err)
	require.Len(t, fake.prompts, 2)

	// Pass-1 output is substituted into the pass-2 prompt.
	assert.Contains(t, fake.prompts[1], `"title":"A Study"`)
	assert.False(t, out.Pass2Skipped)

	// Identity fields dropped by pass 2 are restored from pass 1.
	assert.Equal(t, "SD-1", out.Data["id"])
	assert.Equal(t, "StudyDesign", out.Data["instanceType"])
}

func TestExtract_SurgicalRetryRepairsOnlyFailingField(t *testing.T) {
	fake := &scriptedLLM{responses: []string{
		`{"id": "SD-1", "instanceType": "StudyDesign", "title": "TBD", "phase": "Phase 3"}`,
		`{"title": "A Real Study Title", "unrequested": "dropped"}`,
		`{"id": "SD-1", "title": "A Real Study Title", "phase": "Phase 3", ` + rootProvenance + `}`,
	}}
	e := newTestExtractor(fake)

	out, err := e.Extract(context.Background(), testInput())
	require.NoError(t, err)
	require.Len(t, fake.prompts, 3)

	// The surgical prompt names exactly the failing top-level field.
	assert.Contains(t, fake.prompts[1], "Only the following top-level fields need repair: title.")
	assert.Equal(t, 1, out.Pass1Retries)
	// The envelope reports the total retry count under a total-named key.
	meta := out.Data["_metadata"].(map[string]any)
	assert.Equal(t, 1, meta["pass1Retries"])
	assert.Equal(t, 0, meta["pass2Retries"])

	assert.Equal(t, "A Real Study Title", out.Data["title"])
	assert.Equal(t, "Phase 3", out.Data["phase"])
	// Fields outside the requested set never enter the merge.
	assert.NotContains(t, out.Data, "unrequested")
}

func TestExtract_ParseFailureFallsBackToFullRetry(t *testing.T) {
	fake := &scriptedLLM{responses: []string{
		"this is not JSON at all",
		`{"id": "SD-1", "instanceType": "StudyDesign", "title": "A Study", "phase": "Phase 3", ` + rootProvenance + `}`,
	}}
	e := newTestExtractor(fake)

	out, err := e.Extract(context.Background(), testInput())
	require.NoError(t, err)
	require.Len(t, fake.prompts, 2)
	// After a null baseline the retry is full, never surgical.
	assert.Contains(t, fake.prompts[1], "could not be parsed")
	assert.Equal(t, "A Study", out.Data["title"])
}

func TestExtract_ExhaustedRetriesReturnBestEffort(t *testing.T) {
	low := `{"id": "SD-1", "instanceType": "StudyDesign", "title": "TBD"}`
	fake := &scriptedLLM{responses: []string{low, low, low, low, low, low}}
	e := newTestExtractor(fake)

	out, err := e.Extract(context.Background(), testInput())
	require.NoError(t, err)
	assert.Equal(t, "TBD", out.Data["title"])
	assert.Less(t, out.Quality.Overall(), 1.0)
}

func TestExtractWithCache_HitAvoidsLLM(t *testing.T) {
	store := cache.NewTiered(&config.CacheConfig{Directory: t.TempDir()}, nil)
	in := testInput()

	fake := &scriptedLLM{responses: []string{
		`{"id": "SD-1", "instanceType": "StudyDesign", "title": "A Study", "phase": "Phase 3", ` + rootProvenance + `}`,
	}}
	e := newTestExtractor(fake)

	first, err := e.ExtractWithCache(context.Background(), store, in)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	require.Len(t, fake.prompts, 1)

	second, err := e.ExtractWithCache(context.Background(), store, in)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	// No further LLM calls.
	require.Len(t, fake.prompts, 1)

	// The cached envelope differs only in its fromCache flag.
	assert.Equal(t, true, second.Data["_metadata"].(map[string]any)["fromCache"])
	delete(first.Data, "_metadata")
	delete(second.Data, "_metadata")
	wantData, _ := json.Marshal(first.Data)
	gotData, _ := json.Marshal(second.Data)
	assert.JSONEq(t, string(wantData), string(gotData))
	assert.InDelta(t, first.Quality.Overall(), second.Quality.Overall(), 1e-9)
}

func TestExtractWithCache_PromptChangeMisses(t *testing.T) {
	store := cache.NewTiered(&config.CacheConfig{Directory: t.TempDir()}, nil)
	resp := `{"id": "SD-1", "instanceType": "StudyDesign", "title": "A Study", ` + rootProvenance + `}`

	in := testInput()
	fake := &scriptedLLM{responses: []string{resp, resp}}
	e := newTestExtractor(fake)

	_, err := e.ExtractWithCache(context.Background(), store, in)
	require.NoError(t, err)
	require.Len(t, fake.prompts, 1)

	// Editing the prompt changes the key; the old entry cannot be returned.
	in.Prompts.Pass1 = "A fully rewritten prompt."
	out, err := e.ExtractWithCache(context.Background(), store, in)
	require.NoError(t, err)
	assert.False(t, out.FromCache)
	require.Len(t, fake.prompts, 2)
}
