package quality

import (
	"fmt"
	"strings"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
)

const (
	maxFeedbackIssues = 20
	maxFeedbackChars  = 2400
)

// GenerateFeedback renders the failing dimensions of a score into a bounded
// digest suitable for appending to a retry prompt. Dimensions that passed are
// omitted entirely.
func GenerateFeedback(score models.QualityScore, thresholds models.Thresholds, pass Pass) string {
	failing := thresholds.FailingDimensions(score, pass == PassValues)
	if len(failing) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("The previous extraction did not meet quality requirements. Fix the following:\n")

	dimScores := score.DimensionScores()
	written := 0
	for _, dim := range failing {
		fmt.Fprintf(&sb, "\n%s (scored %.2f):\n", dim, dimScores[dim])
		for _, issue := range score.Issues[dim] {
			if written >= maxFeedbackIssues || sb.Len() >= maxFeedbackChars {
				sb.WriteString("- (further issues omitted)\n")
				return sb.String()
			}
			fmt.Fprintf(&sb, "- %s: %s", issue.Path, issue.Kind)
			if issue.Value != "" {
				fmt.Fprintf(&sb, " (%q)", truncvalue(issue.Value))
			}
			if issue.Suggestion != "" {
				fmt.Fprintf(&sb, "; %s", issue.Suggestion)
			}
			sb.WriteString("\n")
			written++
		}
	}
	return sb.String()
}

// FailedTopLevelFields returns the top-level field names implicated by the
// failing dimensions' issues, for surgical retry prompts.
func FailedTopLevelFields(score models.QualityScore, thresholds models.Thresholds, pass Pass) []string {
	failing := thresholds.FailingDimensions(score, pass == PassValues)
	seen := map[string]bool{}
	var fields []string
	for _, dim := range failing {
		for _, issue := range score.Issues[dim] {
			field := topLevelField(issue.Path)
			if field == "" || seen[field] {
				continue
			}
			seen[field] = true
			fields = append(fields, field)
		}
	}
	return fields
}

func topLevelField(path string) string {
	path = strings.TrimPrefix(path, "/")
	if path == "" || path == "$" {
		return ""
	}
	end := len(path)
	for i, r := range path {
		if r == '.' || r == '[' || r == '/' {
			end = i
			break
		}
	}
	return path[:end]
}

func truncvalue(s string) string { return truncvalueN(s, 80) }

func truncvalueN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
