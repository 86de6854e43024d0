package eligibility

import (
	"fmt"
	"strings"
)

// ValidationReport is the outcome of the final eligibility phase. Errors
// fail the job; warnings travel with the result document.
type ValidationReport struct {
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Validate checks the assembled criteria document. Structural breakage
// (duplicate or missing ids, empty verbatim text, an empty criteria set) is
// an error; suspicious but usable content (one-sided criteria sets,
// parameter ranges that cannot hold) is a warning.
func Validate(doc map[string]any) ValidationReport {
	var report ValidationReport

	criteria, _ := doc["criteria"].([]any)
	if len(criteria) == 0 {
		report.Errors = append(report.Errors, "criteria set is empty")
		return report
	}

	seen := map[string]bool{}
	kinds := map[string]int{}
	for i, item := range criteria {
		obj, ok := item.(map[string]any)
		if !ok {
			report.Errors = append(report.Errors, fmt.Sprintf("criterion %d is not an object", i))
			continue
		}
		id, _ := obj["id"].(string)
		if id == "" {
			report.Errors = append(report.Errors, fmt.Sprintf("criterion %d has no id", i))
		} else if seen[id] {
			report.Errors = append(report.Errors, fmt.Sprintf("duplicate criterion id %q", id))
		}
		seen[id] = true

		if text, _ := obj["text"].(string); strings.TrimSpace(text) == "" {
			report.Errors = append(report.Errors, fmt.Sprintf("criterion %s has empty text", id))
		}
		if kind, _ := obj["kind"].(string); kind != "" {
			kinds[kind]++
		}
		checkParameters(obj, id, &report)
	}

	if kinds["INCLUSION"] == 0 {
		report.Warnings = append(report.Warnings, "no inclusion criteria present")
	}
	if kinds["EXCLUSION"] == 0 {
		report.Warnings = append(report.Warnings, "no exclusion criteria present")
	}
	return report
}

// checkParameters warns on parameter combinations the text cannot have
// meant, without second-guessing the structuring itself.
func checkParameters(obj map[string]any, id string, report *ValidationReport) {
	params, ok := obj["parameters"].(map[string]any)
	if !ok {
		return
	}
	minAge, hasMin := asFloat(params["minAge"])
	maxAge, hasMax := asFloat(params["maxAge"])
	if hasMin && hasMax && minAge > maxAge {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("criterion %s has inverted age bounds (%g > %g)", id, minAge, maxAge))
	}
	if hasMin && minAge < 0 {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("criterion %s has a negative minimum age", id))
	}
	if washout, ok := asFloat(params["washoutDays"]); ok && washout < 0 {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("criterion %s has a negative washout window", id))
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}
