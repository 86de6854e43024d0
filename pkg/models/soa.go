package models

import (
	"encoding/json"
	"time"
)

// TableCategory classifies a detected schedule-of-activities table.
type TableCategory string

const (
	TableMainSOA   TableCategory = "MAIN_SOA"
	TablePKSOA     TableCategory = "PK_SOA"
	TableSafetySOA TableCategory = "SAFETY_SOA"
	TablePDSOA     TableCategory = "PD_SOA"
)

// TableResult is the extraction outcome for one detected SOA table.
// Unique on (job_id, table_id); table ids are assigned SOA-1, SOA-2, ... in
// detection order.
type TableResult struct {
	ID        string          `json:"id"`
	JobID     string          `json:"jobId"`
	TableID   string          `json:"tableId"`
	Category  TableCategory   `json:"category"`
	PageStart int             `json:"pageStart"`
	PageEnd   int             `json:"pageEnd"`
	Status    ModuleStatus    `json:"status"`
	Payload   json.RawMessage `json:"-"`

	VisitCount    int `json:"visitCount"`
	ActivityCount int `json:"activityCount"`
	InstanceCount int `json:"instanceCount"`
	FootnoteCount int `json:"footnoteCount"`

	ErrorDetails string    `json:"errorDetails,omitempty"`
	CreatedAt    time.Time `json:"-"`
	UpdatedAt    time.Time `json:"-"`
}

// MergeType describes how the tables of a group combine.
type MergeType string

const (
	MergeNone         MergeType = "no_merge"
	MergeContinuation MergeType = "continuation"
	MergeUnion        MergeType = "union"
	MergeSupplement   MergeType = "supplement"
)

// MergeGroup is one unit of the merge plan: a set of detected tables the
// analyzer decided belong together, with the decision level (1-8) that
// produced the grouping.
type MergeGroup struct {
	GroupID       string        `json:"groupId"`
	TableIDs      []string      `json:"tableIds"`
	Category      TableCategory `json:"category"`
	MergeType     MergeType     `json:"mergeType"`
	DecisionLevel int           `json:"decisionLevel"`
	Confidence    float64       `json:"confidence"`
	Reasoning     string        `json:"reasoning"`
}

// MergePlan is the ordered output of the 8-level merge analyzer. The plan is
// presented to a human for confirmation before interpretation runs.
type MergePlan struct {
	JobID     string       `json:"jobId"`
	Groups    []MergeGroup `json:"groups"`
	CreatedAt time.Time    `json:"createdAt"`
}

// MergeGroupResult is the interpretation output for one confirmed merge
// group, carrying the per-stage results of the 12-stage pipeline.
type MergeGroupResult struct {
	ID           string
	JobID        string
	GroupID      string
	Status       ModuleStatus
	Document     json.RawMessage
	StageResults json.RawMessage
	ErrorDetails string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
