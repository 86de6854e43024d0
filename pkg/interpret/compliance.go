package interpret

import (
	"context"
	"fmt"
	"strings"
)

// codeObjectKeys are required on every code object in the final document.
var codeObjectKeys = []string{"id", "code", "decode", "codeSystem", "codeSystemVersion", "instanceType"}

// runCompliance is stage 12: the gate before a schedule is accepted.
// Referential-integrity violations are errors and halt the pipeline;
// stylistic findings are warnings recorded on the document.
func (p *Pipeline) runCompliance(ctx context.Context, doc map[string]any) (map[string]any, error) {
	var errs []string
	var warnings []string

	visits := objects(doc, "visits")
	activities := objects(doc, "activities")
	instances := objects(doc, "instances")

	visitIDs := map[string]bool{}
	for _, v := range visits {
		visitIDs[str(v, "id")] = true
	}
	activityIDs := map[string]bool{}
	for _, act := range activities {
		activityIDs[str(act, "id")] = true
		for _, comp := range objects(act, "components") {
			activityIDs[str(comp, "id")] = true
		}
	}

	for _, inst := range instances {
		instID := str(inst, "id")
		if v := str(inst, "visitId"); !visitIDs[v] {
			errs = append(errs, fmt.Sprintf("instance %s references unknown encounter %q", instID, v))
		}
		if a := str(inst, "activityId"); !activityIDs[a] {
			errs = append(errs, fmt.Sprintf("instance %s references unknown activity %q", instID, a))
		}
		if _, expanded := inst["_timingExpansion"]; expanded {
			if side, _ := inst["_timingExpansion"].(map[string]any); str(side, "originalId") == "" {
				errs = append(errs, fmt.Sprintf("instance %s lost its timing-expansion provenance", instID))
			}
		}
		if _, expanded := inst["_cycleExpansion"]; expanded {
			if side, _ := inst["_cycleExpansion"].(map[string]any); str(side, "originalId") == "" {
				errs = append(errs, fmt.Sprintf("instance %s lost its cycle-expansion provenance", instID))
			}
		}
	}

	for _, ca := range objects(doc, "conditionAssignments") {
		condID := str(ca, "conditionId")
		if !conditionExists(doc, condID) {
			errs = append(errs, fmt.Sprintf("assignment %s references unknown condition %q",
				str(ca, "id"), condID))
		}
	}

	checkCodeObjects(doc, "", &warnings)

	if len(warnings) > 0 {
		doc["_complianceWarnings"] = toAnySlice(warnings)
	}
	summary := map[string]any{
		"errors":   len(errs),
		"warnings": len(warnings),
	}
	if len(errs) > 0 {
		return summary, fmt.Errorf("compliance check failed with %d errors: %s",
			len(errs), strings.Join(truncateList(errs, 5), "; "))
	}
	return summary, nil
}

func conditionExists(doc map[string]any, id string) bool {
	for _, cond := range objects(doc, "conditions") {
		if str(cond, "id") == id {
			return true
		}
	}
	return false
}

// checkCodeObjects walks the document for objects that look like codes
// (have both "code" and "decode") and warns on missing required keys.
func checkCodeObjects(v any, path string, warnings *[]string) {
	switch node := v.(type) {
	case map[string]any:
		if _, hasCode := node["code"]; hasCode {
			if _, hasDecode := node["decode"]; hasDecode {
				for _, key := range codeObjectKeys {
					if _, ok := node[key]; !ok {
						*warnings = append(*warnings,
							fmt.Sprintf("code object at %s missing %q", path, key))
					}
				}
			}
		}
		for k, child := range node {
			checkCodeObjects(child, path+"/"+k, warnings)
		}
	case []any:
		for i, item := range node {
			checkCodeObjects(item, fmt.Sprintf("%s[%d]", path, i), warnings)
		}
	}
}

func toAnySlice(items []string) []any {
	out := make([]any, len(items))
	for i, s := range items {
		out[i] = s
	}
	return out
}

func truncateList(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return append(items[:n:n], fmt.Sprintf("and %d more", len(items)-n))
}
