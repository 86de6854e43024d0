package soa

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/llm"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
)

const extractPromptTemplate = `You are extracting one schedule-of-activities table from a clinical trial protocol PDF.

Table: %s (%s), physical pages %d-%d.

Extract the complete table into this JSON shape:
{
  "visits": [{"id": "V1", "name": "Screening", "timing": "Day -28 to -1", "window": "±3 days"}],
  "activities": [{"id": "ACT-1", "name": "Physical examination", "footnoteMarkers": ["a"]}],
  "instances": [{"id": "INST-1", "visitId": "V1", "activityId": "ACT-1", "footnoteMarkers": []}],
  "footnotes": [{"marker": "a", "text": "Complete physical examination at screening only."}]
}

Rules:
- One instance per marked cell (visit, activity) in the table.
- Keep every footnote marker exactly as printed, attached to both the
  activity row and each marked cell where it appears.
- Include continuation pages of the table.
- Respond with JSON only.`

// TableCounts summarizes an extracted table payload.
type TableCounts struct {
	Visits     int
	Activities int
	Instances  int
	Footnotes  int
}

// ExtractTable pulls one detected table out of the document.
func ExtractTable(ctx context.Context, client llm.Client, fileURI string, table DetectedTable) (json.RawMessage, TableCounts, error) {
	prompt := fmt.Sprintf(extractPromptTemplate,
		table.TableID, table.Category, table.PageStart, table.PageEnd)

	text, err := client.Generate(ctx, llm.Request{
		Prompt:       prompt,
		FileURI:      fileURI,
		FileMIMEType: "application/pdf",
		JSONResponse: true,
	})
	if err != nil {
		return nil, TableCounts{}, fmt.Errorf("table %s extraction failed: %w", table.TableID, err)
	}

	payload, err := llm.ParseObject(text)
	if err != nil {
		return nil, TableCounts{}, fmt.Errorf("table %s response does not parse: %w", table.TableID, err)
	}

	counts := CountPayload(payload)
	if counts.Instances == 0 {
		return nil, TableCounts{}, fmt.Errorf("table %s extracted no instances", table.TableID)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, TableCounts{}, fmt.Errorf("table %s payload does not encode: %w", table.TableID, err)
	}
	return raw, counts, nil
}

// CountPayload derives the stored counters from an extracted table payload.
func CountPayload(payload map[string]any) TableCounts {
	length := func(key string) int {
		arr, _ := payload[key].([]any)
		return len(arr)
	}
	return TableCounts{
		Visits:     length("visits"),
		Activities: length("activities"),
		Instances:  length("instances"),
		Footnotes:  length("footnotes"),
	}
}

// tablePayload decodes a stored TableResult payload. Detection-only rows
// have no payload yet.
func tablePayload(r *models.TableResult) (map[string]any, error) {
	if len(r.Payload) == 0 {
		return nil, fmt.Errorf("table %s has no payload", r.TableID)
	}
	var doc map[string]any
	if err := json.Unmarshal(r.Payload, &doc); err != nil {
		return nil, fmt.Errorf("table %s payload does not decode: %w", r.TableID, err)
	}
	return doc, nil
}
