package models

import (
	"encoding/json"
	"time"
)

// ModuleStatus is the per-module outcome within a module-extraction job.
type ModuleStatus string

const (
	ModulePending   ModuleStatus = "pending"
	ModuleCompleted ModuleStatus = "completed"
	ModuleFailed    ModuleStatus = "failed"
)

// ModuleResult is the checkpoint row for one module within one job.
// Unique on (job_id, module_id); a resumed run skips completed rows.
type ModuleResult struct {
	ID                 string
	JobID              string
	ModuleID           string
	Status             ModuleStatus
	Data               json.RawMessage
	ProvenanceCoverage float64
	Quality            QualityScore
	Pass1Seconds       float64
	Pass2Seconds       float64
	Pass2Skipped       bool
	RetryCount         int
	FromCache          bool
	ErrorDetails       string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
