package interpret

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/llm"
)

// parenthetical captures "Chemistry (sodium, potassium, glucose)" style
// component enumerations.
var parenthetical = regexp.MustCompile(`^(.*?)\s*\(([^)]{3,})\)\s*$`)

// componentCandidate is one proposed decomposition awaiting validation.
type componentCandidate struct {
	ActivityID string `json:"activityId"`
	Parent     string `json:"parent"`
	Component  string `json:"component"`
}

// runComponents is stage 2: decompose composite activities into their
// sub-components. Candidates are proposed deterministically from the
// activity names, then validated in one batched LLM call that returns a
// 3-way classification per candidate.
func (p *Pipeline) runComponents(ctx context.Context, doc map[string]any) (map[string]any, error) {
	activities := objects(doc, "activities")

	var candidates []componentCandidate
	for _, act := range activities {
		name := str(act, "name")
		for _, comp := range proposeComponents(name) {
			candidates = append(candidates, componentCandidate{
				ActivityID: str(act, "id"),
				Parent:     name,
				Component:  comp,
			})
		}
	}
	if len(candidates) == 0 {
		return map[string]any{"candidates": 0}, nil
	}

	verdicts, err := p.validateComponents(ctx, candidates)
	if err != nil {
		return nil, fmt.Errorf("component validation failed: %w", err)
	}

	byActivity := make(map[string]map[string]any, len(activities))
	for _, act := range activities {
		byActivity[str(act, "id")] = act
	}

	counts := map[string]int{}
	for i, cand := range candidates {
		verdict, ok := verdicts[candidateKey(cand)]
		if !ok {
			verdict = componentVerdict{Classification: "review"}
		}
		counts[verdict.Classification]++
		if verdict.Classification == "invalid" {
			continue
		}

		act, ok := byActivity[cand.ActivityID]
		if !ok {
			continue
		}
		comp := map[string]any{
			"id":   fmt.Sprintf("%s-C%d", cand.ActivityID, i+1),
			"name": cand.Component,
		}
		if verdict.Classification == "review" {
			markReview(comp, fmt.Sprintf("component of %q (confidence %.2f)",
				cand.Parent, verdict.Confidence))
		}
		existing, _ := act["components"].([]any)
		act["components"] = append(existing, comp)
	}
	setObjects(doc, "activities", activities)

	return map[string]any{
		"candidates": len(candidates),
		"verdicts":   counts,
	}, nil
}

// proposeComponents extracts candidate sub-components from a composite
// activity name. Only enumerations with at least two items qualify.
func proposeComponents(name string) []string {
	m := parenthetical.FindStringSubmatch(name)
	if m == nil {
		return nil
	}
	parts := strings.Split(m[2], ",")
	if len(parts) < 2 {
		return nil
	}
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(part), "and "))
		if part != "" {
			out = append(out, part)
		}
	}
	if len(out) < 2 {
		return nil
	}
	return out
}

type componentVerdict struct {
	Classification string  `json:"classification"` // valid | invalid | review
	Confidence     float64 `json:"confidence"`
}

func candidateKey(c componentCandidate) string {
	return c.ActivityID + "\x00" + normalizeTerm(c.Component)
}

// validateComponents classifies every candidate in batches.
func (p *Pipeline) validateComponents(ctx context.Context, candidates []componentCandidate) (map[string]componentVerdict, error) {
	batchSize := p.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 25
	}

	out := make(map[string]componentVerdict, len(candidates))
	for start := 0; start < len(candidates); start += batchSize {
		end := min(start+batchSize, len(candidates))
		batch := candidates[start:end]

		var sb strings.Builder
		sb.WriteString(`Each line proposes that a clinical activity decomposes into a sub-component.
Classify each proposal as "valid" (a real measurable component of the parent),
"invalid" (not a component, e.g. a timing note or condition), or "review"
(plausible but uncertain).

Proposals:
`)
		for _, c := range batch {
			fmt.Fprintf(&sb, "- activity %s: %q is a component of %q\n",
				c.ActivityID, c.Component, c.Parent)
		}
		sb.WriteString(`
Respond with JSON only:
{"results": [{"activityId": "...", "component": "...", "classification": "valid", "confidence": 0.0}]}`)

		text, err := p.client.Generate(ctx, llm.Request{Prompt: sb.String(), JSONResponse: true})
		if err != nil {
			return nil, err
		}
		var parsed struct {
			Results []struct {
				ActivityID     string  `json:"activityId"`
				Component      string  `json:"component"`
				Classification string  `json:"classification"`
				Confidence     float64 `json:"confidence"`
			} `json:"results"`
		}
		if err := llm.ParseInto(text, &parsed); err != nil {
			return nil, err
		}
		for _, r := range parsed.Results {
			cls := strings.ToLower(r.Classification)
			if cls != "valid" && cls != "invalid" {
				cls = "review"
			}
			key := r.ActivityID + "\x00" + normalizeTerm(r.Component)
			out[key] = componentVerdict{Classification: cls, Confidence: r.Confidence}
		}
	}
	return out, nil
}
