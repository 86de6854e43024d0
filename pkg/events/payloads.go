package events

import "github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"

// JobStatusPayload announces a job state-machine transition.
type JobStatusPayload struct {
	Type       string `json:"type"` // always EventTypeJobStatus
	JobID      string `json:"job_id"`
	ProtocolID string `json:"protocol_id"`
	Kind       string `json:"kind"`
	Status     string `json:"status"`
	Phase      string `json:"phase,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ModuleStatusPayload announces one module's start, completion, or failure
// within a module-extraction job.
type ModuleStatusPayload struct {
	Type         string  `json:"type"`
	JobID        string  `json:"job_id"`
	ModuleID     string  `json:"module_id"`
	Status       string  `json:"status"`
	QualityScore float64 `json:"quality_score,omitempty"`
	FromCache    bool    `json:"from_cache,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// StageStatusPayload reports interpretation-pipeline stage transitions.
type StageStatusPayload struct {
	Type        string `json:"type"`
	JobID       string `json:"job_id"`
	StageNumber int    `json:"stage_number"`
	StageName   string `json:"stage_name"`
	Status      string `json:"status"` // started | completed | failed
	Detail      string `json:"detail,omitempty"`
}

// TablesDetectedPayload announces SOA table detection results awaiting
// confirmation.
type TablesDetectedPayload struct {
	Type   string               `json:"type"`
	JobID  string               `json:"job_id"`
	Tables []models.TableResult `json:"tables"`
}

// SectionsDetectedPayload announces eligibility section detection results
// awaiting confirmation.
type SectionsDetectedPayload struct {
	Type     string                 `json:"type"`
	JobID    string                 `json:"job_id"`
	Sections []models.SectionResult `json:"sections"`
}

// MergePlanReadyPayload announces a merge plan awaiting confirmation.
type MergePlanReadyPayload struct {
	Type  string           `json:"type"`
	JobID string           `json:"job_id"`
	Plan  models.MergePlan `json:"plan"`
}

// ReviewRequiredPayload flags items the interpretation pipeline marked for
// human review.
type ReviewRequiredPayload struct {
	Type  string `json:"type"`
	JobID string `json:"job_id"`
	Count int    `json:"count"`
	Stage string `json:"stage"`
}

// JobProgressPayload is the transient fine-grained progress tick.
type JobProgressPayload struct {
	Type     string `json:"type"`
	JobID    string `json:"job_id"`
	Phase    string `json:"phase"`
	Percent  int    `json:"percent"`
	SubStage string `json:"sub_stage,omitempty"`
}
