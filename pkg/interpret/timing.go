package interpret

import (
	"context"
	"regexp"
	"strings"
)

// timingSeparators split a compound timing annotation into atomic timings.
// "BI/EOI" and "pre-dose, 2h, 4h post-dose" both expand.
var timingSeparators = regexp.MustCompile(`\s*[/,]\s*`)

// timingSlug reduces a timing label to an id-safe suffix.
var timingSlug = regexp.MustCompile(`[^a-z0-9]+`)

// runTiming is stage 7: expand every instance whose timing is compound into
// one instance per atomic timing. Footnote markers survive on every copy;
// expanded ids are `<originalId>-<timing>`.
func (p *Pipeline) runTiming(ctx context.Context, doc map[string]any) (map[string]any, error) {
	instances := objects(doc, "instances")

	var out []map[string]any
	expanded := 0
	for _, inst := range instances {
		timings := splitTimings(str(inst, "timing"))
		if len(timings) < 2 {
			out = append(out, inst)
			continue
		}

		origID := str(inst, "id")
		for _, timing := range timings {
			dup := cloneObject(inst)
			dup["id"] = origID + "-" + slugTiming(timing)
			dup["timing"] = timing
			dup["_timingExpansion"] = map[string]any{
				"originalId":     origID,
				"originalTiming": str(inst, "timing"),
			}
			out = append(out, dup)
		}
		expanded++
	}
	setObjects(doc, "instances", out)

	return map[string]any{
		"expandedInstances": expanded,
		"totalInstances":    len(out),
	}, nil
}

// splitTimings returns the atomic timings of a compound annotation, or nil
// when the timing is already atomic. Window notations like "Day -28 to -1"
// and "±3 days" are atomic even though they contain separators elsewhere.
func splitTimings(timing string) []string {
	if timing == "" || !strings.ContainsAny(timing, "/,") {
		return nil
	}
	parts := timingSeparators.Split(timing, -1)
	var out []string
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

func slugTiming(timing string) string {
	slug := timingSlug.ReplaceAllString(strings.ToLower(timing), "-")
	return strings.Trim(slug, "-")
}
