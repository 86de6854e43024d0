package soa

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

func tableWith(t *testing.T, tableID string, category models.TableCategory,
	pageStart, pageEnd int, visits, activities []string) *models.TableResult {
	t.Helper()
	payload := map[string]any{
		"visits":     []any{},
		"activities": []any{},
		"instances":  []any{},
		"footnotes":  []any{},
	}
	for _, v := range visits {
		payload["visits"] = append(payload["visits"].([]any),
			map[string]any{"id": v, "name": v})
	}
	for _, a := range activities {
		payload["activities"] = append(payload["activities"].([]any),
			map[string]any{"id": tableID + "-A" + a, "name": a})
		for _, v := range visits {
			payload["instances"] = append(payload["instances"].([]any),
				map[string]any{"id": tableID + "-I" + v + a, "visitId": v,
					"activityId": tableID + "-A" + a})
		}
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &models.TableResult{
		TableID: tableID, Category: category,
		PageStart: pageStart, PageEnd: pageEnd,
		Status: models.ModuleCompleted, Payload: raw,
	}
}

func TestDetectTables_AssignsSequentialIDs(t *testing.T) {
	client := &fakeLLM{responses: []string{`{"tables": [
		{"category": "MAIN_SOA", "title": "SoA", "pageStart": 10, "pageEnd": 14},
		{"category": "pk_soa", "pageStart": 15, "pageEnd": 16},
		{"category": "something else", "pageStart": 20, "pageEnd": 21},
		{"category": "MAIN_SOA", "pageStart": 5, "pageEnd": 3}
	]}`}}

	detected, err := DetectTables(context.Background(), client, "files/abc")
	require.NoError(t, err)
	require.Len(t, detected, 3)
	assert.Equal(t, "SOA-1", detected[0].TableID)
	assert.Equal(t, models.TableMainSOA, detected[0].Category)
	assert.Equal(t, models.TablePKSOA, detected[1].Category)
	assert.Equal(t, models.TableMainSOA, detected[2].Category)
}

func TestExtractTable_CountsAndRejectsEmpty(t *testing.T) {
	client := &fakeLLM{responses: []string{`{
		"visits": [{"id": "V1", "name": "Screening"}],
		"activities": [{"id": "A1", "name": "ECG"}],
		"instances": [{"id": "I1", "visitId": "V1", "activityId": "A1"}],
		"footnotes": [{"marker": "a", "text": "triplicate"}]
	}`}}

	payload, counts, err := ExtractTable(context.Background(), client, "files/abc",
		DetectedTable{TableID: "SOA-1", Category: models.TableMainSOA, PageStart: 10, PageEnd: 12})
	require.NoError(t, err)
	assert.Equal(t, TableCounts{Visits: 1, Activities: 1, Instances: 1, Footnotes: 1}, counts)
	assert.NotEmpty(t, payload)

	empty := &fakeLLM{responses: []string{`{"visits": [], "activities": [], "instances": []}`}}
	_, _, err = ExtractTable(context.Background(), empty, "files/abc",
		DetectedTable{TableID: "SOA-2", Category: models.TableMainSOA, PageStart: 1, PageEnd: 1})
	assert.ErrorContains(t, err, "no instances")
}

func TestAnalyzeMerges_ContinuationAcrossPages(t *testing.T) {
	tables := []*models.TableResult{
		tableWith(t, "SOA-1", models.TableMainSOA, 10, 12,
			[]string{"V1", "V2"}, []string{"ECG", "Vitals"}),
		tableWith(t, "SOA-2", models.TableMainSOA, 13, 14,
			[]string{"V1", "V2"}, []string{"Labs"}),
	}

	plan, err := AnalyzeMerges("job-1", tables)
	require.NoError(t, err)
	require.Len(t, plan.Groups, 1)
	g := plan.Groups[0]
	assert.ElementsMatch(t, []string{"SOA-1", "SOA-2"}, g.TableIDs)
	assert.Equal(t, models.MergeContinuation, g.MergeType)
	assert.Equal(t, 2, g.DecisionLevel)
	assert.InDelta(t, 0.95, g.Confidence, 1e-9)
}

func TestAnalyzeMerges_SatelliteSupplement(t *testing.T) {
	tables := []*models.TableResult{
		tableWith(t, "SOA-1", models.TableMainSOA, 10, 12,
			[]string{"V1", "V2", "V3"}, []string{"ECG"}),
		tableWith(t, "SOA-2", models.TablePKSOA, 30, 31,
			[]string{"V2", "PK1"}, []string{"PK sampling"}),
	}

	plan, err := AnalyzeMerges("job-1", tables)
	require.NoError(t, err)
	require.Len(t, plan.Groups, 1)
	g := plan.Groups[0]
	assert.Equal(t, models.MergeSupplement, g.MergeType)
	assert.Equal(t, 7, g.DecisionLevel)
}

func TestAnalyzeMerges_UnrelatedTablesStaySeparate(t *testing.T) {
	tables := []*models.TableResult{
		tableWith(t, "SOA-1", models.TableMainSOA, 10, 12,
			[]string{"V1", "V2"}, []string{"ECG"}),
		tableWith(t, "SOA-2", models.TablePKSOA, 40, 41,
			[]string{"PK1", "PK2"}, []string{"PK sampling"}),
		// Failed tables never join a group.
		{TableID: "SOA-3", Category: models.TableMainSOA, Status: models.ModuleFailed},
	}

	plan, err := AnalyzeMerges("job-1", tables)
	require.NoError(t, err)
	require.Len(t, plan.Groups, 2)
	for _, g := range plan.Groups {
		assert.Len(t, g.TableIDs, 1)
		assert.Equal(t, models.MergeNone, g.MergeType)
		assert.Equal(t, 1, g.DecisionLevel)
	}
}

func TestMergeGroupDocument_DeduplicatesByID(t *testing.T) {
	tables := []*models.TableResult{
		tableWith(t, "SOA-1", models.TableMainSOA, 10, 12,
			[]string{"V1", "V2"}, []string{"ECG"}),
		tableWith(t, "SOA-2", models.TableMainSOA, 13, 14,
			[]string{"V2", "V3"}, []string{"Labs"}),
	}
	group := models.MergeGroup{
		GroupID:  "MG-1",
		TableIDs: []string{"SOA-2", "SOA-1"},
		Category: models.TableMainSOA,
	}

	doc, err := MergeGroupDocument(group, tables)
	require.NoError(t, err)
	visits := doc["visits"].([]any)
	assert.Len(t, visits, 3) // V1, V2, V3 with V2 deduplicated
	assert.Equal(t, "MG-1", doc["groupId"])

	_, err = MergeGroupDocument(models.MergeGroup{
		GroupID: "MG-2", TableIDs: []string{"SOA-9"},
	}, tables)
	assert.ErrorContains(t, err, "unknown table")
}
