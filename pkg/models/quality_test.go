package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQualityScore_Overall(t *testing.T) {
	q := QualityScore{Accuracy: 1, Completeness: 1, Adherence: 1, Provenance: 1, Terminology: 1}
	assert.InDelta(t, 1.0, q.Overall(), 1e-9)

	q = QualityScore{Accuracy: 1.0, Completeness: 0.5, Adherence: 0.0, Provenance: 1.0, Terminology: 0.0}
	// 0.25 + 0.10 + 0 + 0.20 + 0
	assert.InDelta(t, 0.55, q.Overall(), 1e-9)
}

func TestThresholds_FailingDimensions(t *testing.T) {
	th := DefaultThresholds()
	q := QualityScore{Accuracy: 0.96, Completeness: 0.80, Adherence: 1.0, Provenance: 0.50, Terminology: 0.95}

	failing := th.FailingDimensions(q, false)
	assert.ElementsMatch(t, []string{DimCompleteness, DimProvenance}, failing)

	// Pass-1 evaluation ignores provenance and terminology.
	failing = th.FailingDimensions(q, true)
	assert.ElementsMatch(t, []string{DimCompleteness}, failing)
}

func TestThresholds_AdherenceMustBePerfect(t *testing.T) {
	th := DefaultThresholds()
	q := QualityScore{Accuracy: 1, Completeness: 1, Adherence: 0.999, Provenance: 1, Terminology: 1}
	assert.False(t, th.Meets(q, false))
}

func TestDecide_ConfidenceBands(t *testing.T) {
	assert.Equal(t, DecisionAuto, Decide(0.90))
	assert.Equal(t, DecisionReview, Decide(0.8999999))
	assert.Equal(t, DecisionReview, Decide(0.70))
	assert.Equal(t, DecisionReject, Decide(0.6999999))
	assert.Equal(t, DecisionAuto, Decide(1.0))
	assert.Equal(t, DecisionReject, Decide(0))
}

func TestProvenanceRecord_Valid(t *testing.T) {
	explicit := ProvenanceRecord{PageNumber: 12, SectionNumber: "3.1", TextSnippet: "Subjects will receive 10 mg daily."}
	assert.True(t, explicit.Valid())
	assert.Equal(t, ProvenanceExplicit, explicit.Kind())

	derived := ProvenanceRecord{
		Reasoning:  "Derived from the dosing table in section 3.1 combined with the titration rules in section 3.2.",
		Confidence: "medium",
	}
	assert.True(t, derived.Valid())
	assert.Equal(t, ProvenanceDerived, derived.Kind())

	// Explicit mode requires all three fields together.
	assert.False(t, ProvenanceRecord{PageNumber: 12, TextSnippet: "Subjects will receive 10 mg."}.Valid())
	// Snippet too short.
	assert.False(t, ProvenanceRecord{PageNumber: 12, SectionNumber: "3.1", TextSnippet: "short"}.Valid())
	// Reasoning too short.
	assert.False(t, ProvenanceRecord{Reasoning: "too short", Confidence: "high"}.Valid())
	// Bad confidence enum.
	long := ProvenanceRecord{Reasoning: string(make([]byte, ReasoningMin)), Confidence: "certain"}
	assert.False(t, long.Valid())
}
