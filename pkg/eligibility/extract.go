package eligibility

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/llm"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
)

const extractPromptTemplate = `You are extracting one eligibility section from a clinical trial protocol PDF.

Section: %s (%s), physical pages %d-%d.

Extract every criterion verbatim into this JSON shape:
{
  "criteria": [
    {"number": "1", "text": "Male or female, 18 to 75 years of age at screening.",
     "subCriteria": []}
  ]
}

Rules:
- Keep the printed numbering exactly; lettered or roman sub-items go into
  subCriteria as {"number": "a", "text": "..."}.
- Do not paraphrase, merge, or split criteria.
- Include continuation pages of the section.
- Respond with JSON only.`

// ExtractSection pulls one detected section's criteria out of the document.
// Criterion ids are assigned <sectionId>-<ordinal> in printed order.
func ExtractSection(ctx context.Context, client llm.Client, fileURI string, section DetectedSection) (json.RawMessage, int, error) {
	prompt := fmt.Sprintf(extractPromptTemplate,
		section.SectionID, section.Kind, section.PageStart, section.PageEnd)

	text, err := client.Generate(ctx, llm.Request{
		Prompt:       prompt,
		FileURI:      fileURI,
		FileMIMEType: "application/pdf",
		JSONResponse: true,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("section %s extraction failed: %w", section.SectionID, err)
	}

	payload, err := llm.ParseObject(text)
	if err != nil {
		return nil, 0, fmt.Errorf("section %s response does not parse: %w", section.SectionID, err)
	}

	criteria, _ := payload["criteria"].([]any)
	if len(criteria) == 0 {
		return nil, 0, fmt.Errorf("section %s extracted no criteria", section.SectionID)
	}
	for i, item := range criteria {
		if obj, ok := item.(map[string]any); ok {
			obj["id"] = fmt.Sprintf("%s-%d", section.SectionID, i+1)
		}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("section %s payload does not encode: %w", section.SectionID, err)
	}
	return raw, len(criteria), nil
}

// sectionPayload decodes a stored SectionResult payload. Detection-only rows
// have no payload yet.
func sectionPayload(r *models.SectionResult) (map[string]any, error) {
	if len(r.Payload) == 0 {
		return nil, fmt.Errorf("section %s has no payload", r.SectionID)
	}
	var doc map[string]any
	if err := json.Unmarshal(r.Payload, &doc); err != nil {
		return nil, fmt.Errorf("section %s payload does not decode: %w", r.SectionID, err)
	}
	return doc, nil
}
