package provenance

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/document"
)

func explicitRecord() map[string]any {
	return map[string]any{
		"pageNumber":    float64(12),
		"sectionNumber": "3.1",
		"textSnippet":   "This is a study of sufficient snippet length.",
	}
}

func derivedRecord() map[string]any {
	return map[string]any{
		"reasoning":  "Derived from the synopsis table by combining the phase label with the design summary text.",
		"confidence": "high",
	}
}

func TestMeasure_SiblingProvenanceCoversScalar(t *testing.T) {
	doc := map[string]any{
		"phase":           "Phase 3",
		"phaseProvenance": explicitRecord(),
		"title":           "Uncited title",
	}

	cov := Measure(doc)
	assert.Equal(t, 2, cov.Eligible)
	assert.Equal(t, 1, cov.Covered)
	assert.Equal(t, []string{"title"}, cov.Uncovered)
	assert.InDelta(t, 0.5, cov.Fraction(), 1e-9)
}

func TestMeasure_NestedProvenanceCoversWholeObject(t *testing.T) {
	doc := map[string]any{
		"design": map[string]any{
			"provenance": derivedRecord(),
			"model":      "parallel",
			"blinding":   "double",
		},
	}

	cov := Measure(doc)
	assert.Equal(t, 2, cov.Eligible)
	assert.Equal(t, 2, cov.Covered)
	assert.Empty(t, cov.Uncovered)
}

func TestMeasure_AncestorInheritance(t *testing.T) {
	doc := map[string]any{
		"provenance": explicitRecord(),
		"arms": []any{
			map[string]any{"name": "Arm A", "type": "treatment"},
			map[string]any{"name": "Arm B", "type": "placebo"},
		},
	}

	cov := Measure(doc)
	assert.Equal(t, 4, cov.Eligible)
	assert.Equal(t, 4, cov.Covered)
}

func TestMeasure_InvalidRecordDoesNotCover(t *testing.T) {
	doc := map[string]any{
		"phase": "Phase 3",
		"phaseProvenance": map[string]any{
			"pageNumber":    float64(0), // below minimum
			"sectionNumber": "3.1",
			"textSnippet":   "long enough snippet for the check",
		},
	}

	cov := Measure(doc)
	assert.Equal(t, 1, cov.Eligible)
	assert.Equal(t, 0, cov.Covered)
}

func TestMeasure_ExemptFieldsSkipped(t *testing.T) {
	doc := map[string]any{
		"id":           "SD-1",
		"instanceType": "StudyDesign",
		"_metadata":    "x",
	}

	cov := Measure(doc)
	assert.Equal(t, 0, cov.Eligible)
	assert.InDelta(t, 1.0, cov.Fraction(), 1e-9)
}

func TestCorrectPages_RewritesToPhysicalPage(t *testing.T) {
	info := &document.Info{
		PageCount: 3,
		PageText: []string{
			"Front matter",
			"The study enrolls approximately 450 participants worldwide.",
			"Closing",
		},
	}
	doc := map[string]any{
		"enrollment": float64(450),
		"enrollmentProvenance": map[string]any{
			"pageNumber":    float64(7), // printed page, wrong physically
			"sectionNumber": "4.2",
			"textSnippet":   "enrolls approximately   450 participants",
		},
	}

	report := CorrectPages(doc, info)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.Corrected)
	assert.Equal(t, 0, report.NotFound)

	rec := doc["enrollmentProvenance"].(map[string]any)
	assert.Equal(t, 2, rec["pageNumber"])
}

func TestCorrectPages_SnippetNotFoundLeavesRecord(t *testing.T) {
	info := &document.Info{PageCount: 1, PageText: []string{"unrelated text"}}
	doc := map[string]any{
		"xProvenance": map[string]any{
			"pageNumber":  float64(3),
			"textSnippet": "phrase that appears nowhere in the document",
		},
	}

	report := CorrectPages(doc, info)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 0, report.Corrected)
	assert.Equal(t, 1, report.NotFound)
	assert.Equal(t, float64(3), doc["xProvenance"].(map[string]any)["pageNumber"])
}

func TestDetectPageOffset_MajorityVote(t *testing.T) {
	// Physical pages 3..8 carry printed numbers 1..6 in footers: offset 2.
	pages := []string{"cover", "toc"}
	for printed := 1; printed <= 6; printed++ {
		pages = append(pages, fmt.Sprintf("body text\nPage %d of 6\n", printed))
	}
	info := &document.Info{PageCount: len(pages), PageText: pages}

	assert.Equal(t, 2, DetectPageOffset(info))
}

func TestDetectPageOffset_NoSignal(t *testing.T) {
	info := &document.Info{PageCount: 2, PageText: []string{"a", "b"}}
	assert.Equal(t, 0, DetectPageOffset(info))
}
