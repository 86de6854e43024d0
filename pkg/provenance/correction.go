package provenance

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/document"
)

// CorrectionReport summarizes one page-correction sweep.
type CorrectionReport struct {
	Checked   int `json:"checked"`
	Corrected int `json:"corrected"`
	NotFound  int `json:"not_found"`

	// PageOffset is the detected printed-vs-physical page offset
	// (physical = printed + offset). Zero when undetected.
	PageOffset int `json:"page_offset"`
}

// CorrectPages rewrites the pageNumber of every explicit provenance record in
// the document to the physical page where its snippet is actually found.
// Models frequently cite printed page numbers, which drift from physical
// offsets by front-matter length. Records whose snippet cannot be located are
// left untouched.
func CorrectPages(doc map[string]any, info *document.Info) CorrectionReport {
	report := CorrectionReport{PageOffset: DetectPageOffset(info)}
	correctIn(doc, info, &report)
	return report
}

func correctIn(v any, info *document.Info, report *CorrectionReport) {
	switch node := v.(type) {
	case map[string]any:
		if isProvenanceObject(node) {
			correctRecord(node, info, report)
			return
		}
		for _, child := range node {
			correctIn(child, info, report)
		}
	case []any:
		for _, item := range node {
			correctIn(item, info, report)
		}
	}
}

func isProvenanceObject(m map[string]any) bool {
	_, hasSnippet := m["textSnippet"].(string)
	return hasSnippet
}

func correctRecord(rec map[string]any, info *document.Info, report *CorrectionReport) {
	snippet, _ := rec["textSnippet"].(string)
	if strings.TrimSpace(snippet) == "" {
		return
	}
	report.Checked++

	page := info.FindPage(snippet)
	if page == 0 {
		// Long snippets often straddle a page break; retry with a prefix.
		if len(snippet) > 80 {
			page = info.FindPage(snippet[:80])
		}
	}
	if page == 0 {
		report.NotFound++
		return
	}
	if current, ok := numericPage(rec["pageNumber"]); !ok || current != page {
		rec["pageNumber"] = page
		report.Corrected++
	}
}

func numericPage(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case string:
		p, err := strconv.Atoi(strings.TrimSpace(n))
		return p, err == nil
	}
	return 0, false
}

// pagePattern matches a bare page number line as printed in headers/footers,
// optionally in "Page N" or "N of M" form.
var pagePattern = regexp.MustCompile(`(?mi)^\s*(?:page\s+)?(\d{1,4})(?:\s+of\s+\d{1,4})?\s*$`)

// DetectPageOffset derives the global printed-vs-physical offset by reading
// printed page numbers out of page text and voting on (physical - printed).
// Returns 0 when no consistent offset wins.
func DetectPageOffset(info *document.Info) int {
	votes := make(map[int]int)
	for physical := 1; physical <= info.PageCount; physical++ {
		matches := pagePattern.FindAllStringSubmatch(info.Text(physical), -1)
		for _, m := range matches {
			printed, err := strconv.Atoi(m[1])
			if err != nil || printed < 1 || printed > info.PageCount+100 {
				continue
			}
			votes[physical-printed]++
		}
	}

	best, bestCount := 0, 0
	for offset, count := range votes {
		if count > bestCount || (count == bestCount && offset == 0) {
			best, bestCount = offset, count
		}
	}
	// Require a real majority signal, not one stray header.
	if bestCount < 3 {
		return 0
	}
	return best
}
