package interpret

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// orSplit matches "X or Y" choice points in activity names, tolerating an
// Oxford comma ("CT, MRI, or PET").
var orSplit = regexp.MustCompile(`\s+or\s+`)

// runAlternatives is stage 4: turn "X or Y" activities into explicit
// alternative sets with a linking condition stating that exactly one option
// is performed.
func (p *Pipeline) runAlternatives(ctx context.Context, doc map[string]any) (map[string]any, error) {
	activities := objects(doc, "activities")

	var alternatives []any
	conditions, _ := doc["conditions"].([]any)

	for _, act := range activities {
		name := str(act, "name")
		options := splitAlternatives(name)
		if len(options) < 2 {
			continue
		}

		actID := str(act, "id")
		altID := actID + "-ALT"
		condID := actID + "-COND"

		opts := make([]any, 0, len(options))
		for i, opt := range options {
			opts = append(opts, map[string]any{
				"id":   fmt.Sprintf("%s-%d", altID, i+1),
				"name": opt,
			})
		}
		alternatives = append(alternatives, map[string]any{
			"id":          altID,
			"activityId":  actID,
			"options":     opts,
			"conditionId": condID,
		})
		conditions = append(conditions, map[string]any{
			"id":           condID,
			"instanceType": "Condition",
			"text":         fmt.Sprintf("Exactly one of: %s", strings.Join(options, "; ")),
			"appliesTo":    []any{altID},
		})
		act["alternativeSetId"] = altID
	}
	setObjects(doc, "activities", activities)
	doc["alternatives"] = alternatives
	doc["conditions"] = conditions

	return map[string]any{"alternativeSets": len(alternatives)}, nil
}

// splitAlternatives returns the options of an "X or Y" name, or nil when
// the name is not a choice point. Names where "or" sits inside a
// parenthetical qualifier are left alone.
func splitAlternatives(name string) []string {
	if strings.Contains(name, "(") || !strings.Contains(name, " or ") {
		return nil
	}
	// Normalize "A, B, or C" to "A or B or C" before splitting.
	flattened := strings.ReplaceAll(name, ", or ", " or ")
	flattened = strings.ReplaceAll(flattened, ", ", " or ")
	parts := orSplit.Split(flattened, -1)
	if len(parts) < 2 {
		return nil
	}
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	if len(out) < 2 {
		return nil
	}
	return out
}
