// Package soa implements the schedule-of-activities pipeline: table
// detection across the source PDF, per-table extraction, the 8-level merge
// analyzer, and dispatch of confirmed merge groups into interpretation.
package soa

import (
	"context"
	"fmt"
	"strings"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/llm"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
)

// DetectedTable is one schedule table located in the document, before any
// extraction. Table ids are assigned SOA-1, SOA-2, ... in detection order.
type DetectedTable struct {
	TableID   string               `json:"tableId"`
	Category  models.TableCategory `json:"category"`
	Title     string               `json:"title,omitempty"`
	PageStart int                  `json:"pageStart"`
	PageEnd   int                  `json:"pageEnd"`
}

const detectPrompt = `You are analyzing a clinical trial protocol PDF.

Locate every schedule-of-activities table in the document. These are the
tabular sections listing study activities (procedures, assessments, samples)
against visits or timepoints. Include continuation pages of the same table.

Classify each table as one of:
- MAIN_SOA: the primary schedule covering the overall study flow
- PK_SOA: pharmacokinetic sampling schedules
- SAFETY_SOA: safety-only assessment schedules
- PD_SOA: pharmacodynamic sampling schedules

Respond with JSON only:
{"tables": [{"category": "MAIN_SOA", "title": "Schedule of Activities", "pageStart": 12, "pageEnd": 15}]}`

// DetectTables finds every schedule table in the remote document.
func DetectTables(ctx context.Context, client llm.Client, fileURI string) ([]DetectedTable, error) {
	text, err := client.Generate(ctx, llm.Request{
		Prompt:       detectPrompt,
		FileURI:      fileURI,
		FileMIMEType: "application/pdf",
		JSONResponse: true,
	})
	if err != nil {
		return nil, fmt.Errorf("table detection call failed: %w", err)
	}

	var parsed struct {
		Tables []struct {
			Category  string `json:"category"`
			Title     string `json:"title"`
			PageStart int    `json:"pageStart"`
			PageEnd   int    `json:"pageEnd"`
		} `json:"tables"`
	}
	if err := llm.ParseInto(text, &parsed); err != nil {
		return nil, fmt.Errorf("table detection response does not parse: %w", err)
	}

	out := make([]DetectedTable, 0, len(parsed.Tables))
	for i, t := range parsed.Tables {
		if t.PageStart < 1 || t.PageEnd < t.PageStart {
			continue
		}
		out = append(out, DetectedTable{
			TableID:   fmt.Sprintf("SOA-%d", i+1),
			Category:  normalizeCategory(t.Category),
			Title:     t.Title,
			PageStart: t.PageStart,
			PageEnd:   t.PageEnd,
		})
	}
	return out, nil
}

// normalizeCategory maps free-form model output onto the known categories.
// Anything unrecognized is treated as part of the main schedule.
func normalizeCategory(s string) models.TableCategory {
	switch models.TableCategory(strings.ToUpper(strings.TrimSpace(s))) {
	case models.TablePKSOA:
		return models.TablePKSOA
	case models.TableSafetySOA:
		return models.TableSafetySOA
	case models.TablePDSOA:
		return models.TablePDSOA
	default:
		return models.TableMainSOA
	}
}
