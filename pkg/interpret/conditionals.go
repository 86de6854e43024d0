package interpret

import (
	"context"
	"fmt"
	"strings"
)

// conditionalCues mark a footnote as describing a condition rather than a
// plain clarification.
var conditionalCues = []string{
	"if ", "only ", "unless ", "when ", "where ",
	"as clinically indicated", "at the discretion",
	"women of childbearing", "females only", "males only",
	"repeat ", "may be ", "optional",
}

// runConditionals is stage 6: turn conditional footnotes into Condition
// objects and ConditionAssignment links on every instance or activity that
// carries the footnote marker. Scratch `_hasFootnoteCondition` flags left by
// earlier processing are consumed and removed here.
func (p *Pipeline) runConditionals(ctx context.Context, doc map[string]any) (map[string]any, error) {
	footnotes := objects(doc, "footnotes")
	activities := objects(doc, "activities")
	instances := objects(doc, "instances")
	conditions, _ := doc["conditions"].([]any)

	conditionByMarker := map[string]string{}
	for i, fn := range footnotes {
		marker := str(fn, "marker")
		text := str(fn, "text")
		if marker == "" || !isConditional(text) {
			continue
		}
		condID := fmt.Sprintf("FN-COND-%d", i+1)
		conditionByMarker[marker] = condID
		conditions = append(conditions, map[string]any{
			"id":             condID,
			"instanceType":   "Condition",
			"text":           text,
			"footnoteMarker": marker,
		})
	}

	var assignments []any
	assign := func(obj map[string]any, kind string) {
		delete(obj, "_hasFootnoteCondition")
		for _, marker := range strList(obj, "footnoteMarkers") {
			condID, ok := conditionByMarker[marker]
			if !ok {
				continue
			}
			assignments = append(assignments, map[string]any{
				"id":           fmt.Sprintf("CA-%d", len(assignments)+1),
				"instanceType": "ConditionAssignment",
				"conditionId":  condID,
				"targetId":     str(obj, "id"),
				"targetKind":   kind,
			})
		}
	}
	for _, act := range activities {
		assign(act, "activity")
	}
	for _, inst := range instances {
		assign(inst, "instance")
	}

	setObjects(doc, "activities", activities)
	setObjects(doc, "instances", instances)
	doc["conditions"] = conditions
	doc["conditionAssignments"] = assignments

	return map[string]any{
		"conditionalFootnotes": len(conditionByMarker),
		"assignments":          len(assignments),
	}, nil
}

func isConditional(text string) bool {
	lower := " " + strings.ToLower(text)
	for _, cue := range conditionalCues {
		if strings.Contains(lower, " "+cue) {
			return true
		}
	}
	return false
}
