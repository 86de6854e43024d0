package models

// MappingSource records where a domain mapping came from.
type MappingSource string

const (
	MappingCached  MappingSource = "cached"
	MappingLLM     MappingSource = "llm"
	MappingDefault MappingSource = "default"
)

// DomainMapping binds an activity to a 2-letter domain code (interpretation
// pipeline stage 1). Confidence drives the auto/review/reject bands.
type DomainMapping struct {
	ActivityID   string        `json:"activityId"`
	ActivityName string        `json:"activityName"`
	Category     string        `json:"category"`
	DomainCode   string        `json:"cdashDomain"`
	ConceptCode  string        `json:"conceptCode,omitempty"`
	ConceptName  string        `json:"conceptDecode,omitempty"`
	Confidence   float64       `json:"confidence"`
	Rationale    string        `json:"rationale,omitempty"`
	Source       MappingSource `json:"source"`
}

// ReviewDecision is the auto/review/reject partition of [0,1) used for every
// LLM decision in the interpretation pipeline.
type ReviewDecision string

const (
	DecisionAuto   ReviewDecision = "auto"
	DecisionReview ReviewDecision = "review"
	DecisionReject ReviewDecision = "reject"
)

// Confidence band boundaries.
const (
	AutoApplyConfidence = 0.90
	ReviewConfidence    = 0.70
)

// Decide maps a confidence value to its band. Exactly 0.90 auto-applies;
// exactly 0.70 goes to review.
func Decide(confidence float64) ReviewDecision {
	switch {
	case confidence >= AutoApplyConfidence:
		return DecisionAuto
	case confidence >= ReviewConfidence:
		return DecisionReview
	default:
		return DecisionReject
	}
}
