package eligibility

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/llm"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
)

type fakeLLM struct {
	responses []string
	calls     int
}

func (f *fakeLLM) Generate(ctx context.Context, req llm.Request) (string, error) {
	resp := f.responses[f.calls%len(f.responses)]
	f.calls++
	return resp, nil
}

func (f *fakeLLM) ModelID() string { return "fake" }

func sectionWith(t *testing.T, sectionID string, kind models.SectionKind, texts []string) *models.SectionResult {
	t.Helper()
	criteria := make([]any, 0, len(texts))
	for i, text := range texts {
		criteria = append(criteria, map[string]any{
			"id":     sectionID + "-" + string(rune('1'+i)),
			"number": string(rune('1' + i)),
			"text":   text,
		})
	}
	raw, err := json.Marshal(map[string]any{"criteria": criteria})
	require.NoError(t, err)
	return &models.SectionResult{
		SectionID: sectionID, Kind: kind,
		Status: models.ModuleCompleted, Payload: raw,
		CriterionCount: len(texts),
	}
}

func TestDetectSections_AssignsSequentialIDs(t *testing.T) {
	client := &fakeLLM{responses: []string{`{"sections": [
		{"kind": "INCLUSION", "title": "Inclusion Criteria", "pageStart": 34, "pageEnd": 36},
		{"kind": "exclusion criteria", "pageStart": 37, "pageEnd": 39},
		{"kind": "eligibility", "pageStart": 40, "pageEnd": 40},
		{"kind": "INCLUSION", "pageStart": 9, "pageEnd": 2}
	]}`}}

	detected, err := DetectSections(context.Background(), client, "files/abc")
	require.NoError(t, err)
	require.Len(t, detected, 3)
	assert.Equal(t, "ELG-1", detected[0].SectionID)
	assert.Equal(t, models.SectionInclusion, detected[0].Kind)
	assert.Equal(t, models.SectionExclusion, detected[1].Kind)
	assert.Equal(t, models.SectionInclusion, detected[2].Kind)
}

func TestExtractSection_AssignsIDsAndRejectsEmpty(t *testing.T) {
	client := &fakeLLM{responses: []string{`{"criteria": [
		{"number": "1", "text": "Age 18 to 75 years."},
		{"number": "2", "text": "Signed informed consent."}
	]}`}}

	payload, count, err := ExtractSection(context.Background(), client, "files/abc",
		DetectedSection{SectionID: "ELG-1", Kind: models.SectionInclusion, PageStart: 34, PageEnd: 36})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(payload, &doc))
	criteria := doc["criteria"].([]any)
	assert.Equal(t, "ELG-1-1", criteria[0].(map[string]any)["id"])
	assert.Equal(t, "ELG-1-2", criteria[1].(map[string]any)["id"])

	empty := &fakeLLM{responses: []string{`{"criteria": []}`}}
	_, _, err = ExtractSection(context.Background(), empty, "files/abc",
		DetectedSection{SectionID: "ELG-2", Kind: models.SectionExclusion, PageStart: 37, PageEnd: 39})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no criteria")
}

func TestInterpret_StructuresAndFlagsReview(t *testing.T) {
	client := &fakeLLM{responses: []string{`{"criteria": [
		{"id": "ELG-1-1", "category": "DEMOGRAPHICS",
		 "parameters": {"minAge": 18, "maxAge": 75}, "confidence": 0.97},
		{"id": "ELG-2-1", "category": "nonsense category", "confidence": 0.75}
	]}`}}

	sections := []*models.SectionResult{
		sectionWith(t, "ELG-1", models.SectionInclusion, []string{"Age 18 to 75 years."}),
		sectionWith(t, "ELG-2", models.SectionExclusion, []string{"Prior gene therapy."}),
	}
	doc, err := Interpret(context.Background(), client, 25, sections)
	require.NoError(t, err)
	assert.Equal(t, 1, doc["inclusionCount"])
	assert.Equal(t, 1, doc["exclusionCount"])
	assert.Equal(t, 1, doc["reviewCount"])

	criteria := doc["criteria"].([]any)
	require.Len(t, criteria, 2)

	first := criteria[0].(map[string]any)
	assert.Equal(t, "DEMOGRAPHICS", first["structuralCategory"])
	assert.Equal(t, "INCLUSION", first["kind"])
	code := first["criterionCategory"].(map[string]any)
	assert.Equal(t, "C25532", code["code"])
	assert.Nil(t, first["_review"])

	second := criteria[1].(map[string]any)
	assert.Equal(t, "OTHER", second["structuralCategory"])
	assert.Equal(t, true, second["_review"])
}

func TestInterpret_SkipsFailedSections(t *testing.T) {
	client := &fakeLLM{responses: []string{`{"criteria": [
		{"id": "ELG-1-1", "category": "CONSENT", "confidence": 0.95}
	]}`}}

	failed := &models.SectionResult{
		SectionID: "ELG-2", Kind: models.SectionExclusion,
		Status: models.ModuleFailed, ErrorDetails: "removed during section confirmation",
	}
	sections := []*models.SectionResult{
		sectionWith(t, "ELG-1", models.SectionInclusion, []string{"Signed informed consent."}),
		failed,
	}
	doc, err := Interpret(context.Background(), client, 25, sections)
	require.NoError(t, err)
	assert.Len(t, doc["criteria"], 1)
	assert.Equal(t, 0, doc["exclusionCount"])
}

func TestValidate_ErrorsAndWarnings(t *testing.T) {
	doc := map[string]any{
		"criteria": []any{
			map[string]any{"id": "ELG-1-1", "kind": "INCLUSION", "text": "Age 18 to 75.",
				"parameters": map[string]any{"minAge": float64(80), "maxAge": float64(75)}},
			map[string]any{"id": "ELG-1-1", "kind": "INCLUSION", "text": "Duplicate id."},
			map[string]any{"id": "ELG-1-3", "kind": "INCLUSION", "text": "  "},
		},
	}
	report := Validate(doc)
	require.Len(t, report.Errors, 2)
	assert.Contains(t, report.Errors[0], "duplicate criterion id")
	assert.Contains(t, report.Errors[1], "empty text")
	require.Len(t, report.Warnings, 2)
	assert.Contains(t, report.Warnings[0], "inverted age bounds")
	assert.Contains(t, report.Warnings[1], "no exclusion criteria")
}

func TestValidate_EmptySetIsError(t *testing.T) {
	report := Validate(map[string]any{"criteria": []any{}})
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "empty")
}
