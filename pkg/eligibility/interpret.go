package eligibility

import (
	"context"
	"fmt"
	"strings"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/llm"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/terminology"
)

// criterionCategories are the structural classes a criterion can parse into.
var criterionCategories = map[string]bool{
	"DEMOGRAPHICS":      true,
	"MEDICAL_CONDITION": true,
	"LAB_VALUE":         true,
	"MEDICATION":        true,
	"PROCEDURE":         true,
	"CONSENT":           true,
	"CONTRACEPTION":     true,
	"OTHER":             true,
}

const categoryCodelist = "Eligibility Criterion Category"

// structuredCriterion is the per-criterion shape returned by the batched
// structuring call.
type structuredCriterion struct {
	ID         string         `json:"id"`
	Category   string         `json:"category"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Confidence float64        `json:"confidence"`
}

// Interpret turns extracted sections into one structured criteria document.
// Every criterion keeps its verbatim text; the batched LLM call adds a
// structural category and machine-readable parameters (age bounds, lab
// thresholds, washout windows) where the text supports them.
func Interpret(ctx context.Context, client llm.Client, batchSize int, sections []*models.SectionResult) (map[string]any, error) {
	type flatCriterion struct {
		id   string
		kind models.SectionKind
		obj  map[string]any
	}
	var flat []flatCriterion
	for _, section := range sections {
		if section.Status != models.ModuleCompleted {
			continue
		}
		payload, err := sectionPayload(section)
		if err != nil {
			return nil, err
		}
		criteria, _ := payload["criteria"].([]any)
		for _, item := range criteria {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			id, _ := obj["id"].(string)
			flat = append(flat, flatCriterion{id: id, kind: section.Kind, obj: obj})
		}
	}
	if len(flat) == 0 {
		return nil, fmt.Errorf("no extracted criteria to interpret")
	}

	prompts := make([]map[string]any, len(flat))
	for i, c := range flat {
		prompts[i] = c.obj
	}
	structured, err := structureBatched(ctx, client, batchSize, prompts)
	if err != nil {
		return nil, err
	}

	categoryCode := categoryCodes()
	inclusion, exclusion, review := 0, 0, 0
	out := make([]any, 0, len(flat))
	for _, c := range flat {
		obj := c.obj
		obj["instanceType"] = "EligibilityCriterion"
		obj["kind"] = string(c.kind)
		if code, ok := categoryCode[c.kind]; ok {
			obj["criterionCategory"] = code
		}
		switch c.kind {
		case models.SectionInclusion:
			inclusion++
		case models.SectionExclusion:
			exclusion++
		}

		s, ok := structured[c.id]
		if !ok {
			obj["structuralCategory"] = "OTHER"
			obj["_review"] = true
			obj["_reviewReason"] = "criterion not structured"
			review++
			out = append(out, obj)
			continue
		}
		obj["structuralCategory"] = s.Category
		if len(s.Parameters) > 0 {
			obj["parameters"] = s.Parameters
		}
		obj["_confidence"] = s.Confidence
		switch models.Decide(s.Confidence) {
		case models.DecisionReview, models.DecisionReject:
			// Rejected structuring keeps the verbatim text and is flagged
			// rather than dropped: a criterion never disappears.
			obj["_review"] = true
			obj["_reviewReason"] = fmt.Sprintf("criterion structuring (confidence %.2f)", s.Confidence)
			review++
		}
		out = append(out, obj)
	}

	return map[string]any{
		"instanceType":   "EligibilityCriteria",
		"criteria":       out,
		"inclusionCount": inclusion,
		"exclusionCount": exclusion,
		"reviewCount":    review,
	}, nil
}

// categoryCodes binds section kinds to the embedded codelist entries.
func categoryCodes() map[models.SectionKind]map[string]any {
	lists, err := terminology.Lists()
	if err != nil {
		return nil
	}
	list, ok := lists[categoryCodelist]
	if !ok {
		return nil
	}
	out := map[models.SectionKind]map[string]any{}
	if e := list.ByDecode("Inclusion Criteria"); e != nil {
		out[models.SectionInclusion] = map[string]any{"code": e.Code, "decode": e.Decode}
	}
	if e := list.ByDecode("Exclusion Criteria"); e != nil {
		out[models.SectionExclusion] = map[string]any{"code": e.Code, "decode": e.Decode}
	}
	return out
}

// structureBatched classifies and parameterizes every criterion in bounded
// batches. Single-criterion calls are deliberately impossible here.
func structureBatched(ctx context.Context, client llm.Client, batchSize int, criteria []map[string]any) (map[string]structuredCriterion, error) {
	if batchSize <= 0 {
		batchSize = 25
	}

	out := make(map[string]structuredCriterion, len(criteria))
	for start := 0; start < len(criteria); start += batchSize {
		end := min(start+batchSize, len(criteria))
		batch := criteria[start:end]

		var sb strings.Builder
		sb.WriteString(`Structure each clinical trial eligibility criterion.

Categories: DEMOGRAPHICS, MEDICAL_CONDITION, LAB_VALUE, MEDICATION, PROCEDURE, CONSENT, CONTRACEPTION, OTHER.

For parameters, extract only what the text states, e.g.
- DEMOGRAPHICS: {"minAge": 18, "maxAge": 75, "sex": "ANY"}
- LAB_VALUE: {"analyte": "ALT", "operator": "<=", "value": 2.5, "unit": "x ULN"}
- MEDICATION: {"substance": "strong CYP3A4 inhibitors", "washoutDays": 14}

Criteria:
`)
		for _, c := range batch {
			id, _ := c["id"].(string)
			text, _ := c["text"].(string)
			fmt.Fprintf(&sb, "- %s: %s\n", id, text)
		}
		sb.WriteString(`
Respond with JSON only:
{"criteria": [{"id": "...", "category": "...", "parameters": {}, "confidence": 0.0}]}`)

		text, err := client.Generate(ctx, llm.Request{Prompt: sb.String(), JSONResponse: true})
		if err != nil {
			return nil, fmt.Errorf("criterion structuring call failed: %w", err)
		}
		var parsed struct {
			Criteria []structuredCriterion `json:"criteria"`
		}
		if err := llm.ParseInto(text, &parsed); err != nil {
			return nil, fmt.Errorf("criterion structuring response does not parse: %w", err)
		}
		for _, s := range parsed.Criteria {
			s.Category = strings.ToUpper(strings.TrimSpace(s.Category))
			if !criterionCategories[s.Category] {
				s.Category = "OTHER"
			}
			out[s.ID] = s
		}
	}
	return out, nil
}
