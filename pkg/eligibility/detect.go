// Package eligibility implements the eligibility-criteria pipeline: section
// detection across the source PDF, per-section criterion extraction,
// criterion structuring, and validation of the assembled criteria set.
package eligibility

import (
	"context"
	"fmt"
	"strings"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/llm"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
)

// DetectedSection is one eligibility section located in the document, before
// extraction. Section ids are assigned ELG-1, ELG-2, ... in detection order.
type DetectedSection struct {
	SectionID string             `json:"sectionId"`
	Kind      models.SectionKind `json:"kind"`
	Title     string             `json:"title,omitempty"`
	PageStart int                `json:"pageStart"`
	PageEnd   int                `json:"pageEnd"`
}

const detectPrompt = `You are analyzing a clinical trial protocol PDF.

Locate every eligibility section in the document: the numbered lists of
inclusion and exclusion criteria that decide whether a subject may enroll.
Include continuation pages of the same section. Ignore criteria restated in
synopses or appendices when a full section exists in the body.

Classify each section as one of:
- INCLUSION: inclusion criteria
- EXCLUSION: exclusion criteria

Respond with JSON only:
{"sections": [{"kind": "INCLUSION", "title": "Inclusion Criteria", "pageStart": 34, "pageEnd": 36}]}`

// DetectSections finds every eligibility section in the remote document.
func DetectSections(ctx context.Context, client llm.Client, fileURI string) ([]DetectedSection, error) {
	text, err := client.Generate(ctx, llm.Request{
		Prompt:       detectPrompt,
		FileURI:      fileURI,
		FileMIMEType: "application/pdf",
		JSONResponse: true,
	})
	if err != nil {
		return nil, fmt.Errorf("section detection call failed: %w", err)
	}

	var parsed struct {
		Sections []struct {
			Kind      string `json:"kind"`
			Title     string `json:"title"`
			PageStart int    `json:"pageStart"`
			PageEnd   int    `json:"pageEnd"`
		} `json:"sections"`
	}
	if err := llm.ParseInto(text, &parsed); err != nil {
		return nil, fmt.Errorf("section detection response does not parse: %w", err)
	}

	out := make([]DetectedSection, 0, len(parsed.Sections))
	for i, s := range parsed.Sections {
		if s.PageStart < 1 || s.PageEnd < s.PageStart {
			continue
		}
		out = append(out, DetectedSection{
			SectionID: fmt.Sprintf("ELG-%d", i+1),
			Kind:      normalizeKind(s.Kind),
			Title:     s.Title,
			PageStart: s.PageStart,
			PageEnd:   s.PageEnd,
		})
	}
	return out, nil
}

// normalizeKind maps free-form model output onto the known section kinds.
// Anything naming exclusion is exclusion; everything else is inclusion.
func normalizeKind(s string) models.SectionKind {
	if strings.Contains(strings.ToUpper(strings.TrimSpace(s)), "EXCLU") {
		return models.SectionExclusion
	}
	return models.SectionInclusion
}
