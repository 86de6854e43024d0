package models

import (
	"encoding/json"
	"time"
)

// SectionKind classifies a detected eligibility section.
type SectionKind string

const (
	SectionInclusion SectionKind = "INCLUSION"
	SectionExclusion SectionKind = "EXCLUSION"
)

// SectionResult is the extraction outcome for one detected eligibility
// section. Unique on (job_id, section_id); section ids are assigned ELG-1,
// ELG-2, ... in detection order.
type SectionResult struct {
	ID        string          `json:"id"`
	JobID     string          `json:"jobId"`
	SectionID string          `json:"sectionId"`
	Kind      SectionKind     `json:"kind"`
	Title     string          `json:"title"`
	PageStart int             `json:"pageStart"`
	PageEnd   int             `json:"pageEnd"`
	Status    ModuleStatus    `json:"status"`
	Payload   json.RawMessage `json:"-"`

	CriterionCount int `json:"criterionCount"`

	ErrorDetails string    `json:"errorDetails,omitempty"`
	CreatedAt    time.Time `json:"-"`
	UpdatedAt    time.Time `json:"-"`
}
