package interpret

import (
	"context"
	"fmt"
	"strings"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/llm"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
)

// runMining is stage 9: cross-reference the schedule's own prose (timing
// annotations, footnotes) to fill gaps the table cells left open: visit
// windows and encounter settings. One batched call covers all visits.
func (p *Pipeline) runMining(ctx context.Context, doc map[string]any) (map[string]any, error) {
	visits := objects(doc, "visits")
	if len(visits) == 0 {
		return map[string]any{"visits": 0}, nil
	}

	var sb strings.Builder
	sb.WriteString(`These are the visits of a clinical trial schedule, with their timing
annotations and the schedule's footnotes. For each visit, infer:
- "window": the allowed visit window (e.g. "+/-3 days"), if derivable
- "setting": one of Clinic, Home, Hospital, Telehealth, if derivable

Visits:
`)
	for _, v := range visits {
		fmt.Fprintf(&sb, "- %s: %s (timing: %s, window: %s)\n",
			str(v, "id"), str(v, "name"), str(v, "timing"), str(v, "window"))
	}
	sb.WriteString("\nFootnotes:\n")
	for _, fn := range objects(doc, "footnotes") {
		fmt.Fprintf(&sb, "- %s: %s\n", str(fn, "marker"), str(fn, "text"))
	}
	sb.WriteString(`
Respond with JSON only:
{"visits": [{"id": "...", "window": "...", "setting": "...", "confidence": 0.0}]}
Omit visits with nothing to add.`)

	text, err := p.client.Generate(ctx, llm.Request{Prompt: sb.String(), JSONResponse: true})
	if err != nil {
		return nil, fmt.Errorf("protocol mining call failed: %w", err)
	}
	var parsed struct {
		Visits []struct {
			ID         string  `json:"id"`
			Window     string  `json:"window"`
			Setting    string  `json:"setting"`
			Confidence float64 `json:"confidence"`
		} `json:"visits"`
	}
	if err := llm.ParseInto(text, &parsed); err != nil {
		return nil, fmt.Errorf("protocol mining response does not parse: %w", err)
	}

	byID := make(map[string]map[string]any, len(visits))
	for _, v := range visits {
		byID[str(v, "id")] = v
	}

	enriched := 0
	for _, mined := range parsed.Visits {
		v, ok := byID[mined.ID]
		if !ok {
			continue
		}
		decision := models.Decide(mined.Confidence)
		if decision == models.DecisionReject {
			continue
		}
		changed := false
		if mined.Window != "" && str(v, "window") == "" {
			v["window"] = mined.Window
			changed = true
		}
		if mined.Setting != "" && str(v, "setting") == "" {
			v["setting"] = mined.Setting
			changed = true
		}
		if !changed {
			continue
		}
		enriched++
		if decision == models.DecisionReview {
			markReview(v, fmt.Sprintf("mined visit metadata (confidence %.2f)", mined.Confidence))
		}
	}
	setObjects(doc, "visits", visits)

	return map[string]any{"visits": len(visits), "enriched": enriched}, nil
}
