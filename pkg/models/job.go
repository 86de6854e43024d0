package models

import (
	"encoding/json"
	"time"
)

// JobKind identifies which pipeline a job executes.
type JobKind string

// Job kinds.
const (
	JobKindModuleExtraction JobKind = "module_extraction"
	JobKindSOA              JobKind = "soa"
	JobKindEligibility      JobKind = "eligibility"
)

// JobStatus is a pipeline state. Each kind uses a subset of these values;
// the transition tables below are the sole source of truth for which
// sequences are legal.
type JobStatus string

// Shared statuses.
const (
	StatusPending             JobStatus = "pending"
	StatusCompleted           JobStatus = "completed"
	StatusCompletedWithErrors JobStatus = "completed_with_errors"
	StatusFailed              JobStatus = "failed"
)

// Module-extraction statuses.
const (
	StatusRunning JobStatus = "running"
)

// SOA pipeline statuses.
const (
	StatusDetectingPages            JobStatus = "detecting_pages"
	StatusAwaitingPageConfirmation  JobStatus = "awaiting_page_confirmation"
	StatusExtracting                JobStatus = "extracting"
	StatusSaving                    JobStatus = "saving"
	StatusAnalyzingMerges           JobStatus = "analyzing_merges"
	StatusAwaitingMergeConfirmation JobStatus = "awaiting_merge_confirmation"
	StatusInterpreting              JobStatus = "interpreting"
)

// Eligibility pipeline statuses.
const (
	StatusDetectingSections           JobStatus = "detecting_sections"
	StatusAwaitingSectionConfirmation JobStatus = "awaiting_section_confirmation"
	StatusValidating                  JobStatus = "validating"
)

// IsTerminal reports whether a status is terminal. Terminal jobs are
// immutable except for audit appends.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCompletedWithErrors, StatusFailed:
		return true
	}
	return false
}

// IsAwaiting reports whether a status is a human-in-the-loop pause state.
// Awaiting states are only left by an explicit external confirmation command.
func (s JobStatus) IsAwaiting() bool {
	switch s {
	case StatusAwaitingPageConfirmation, StatusAwaitingMergeConfirmation, StatusAwaitingSectionConfirmation:
		return true
	}
	return false
}

// transitions maps each kind to its allowed (from → to) edges.
// StatusFailed is reachable from every non-terminal state and is therefore
// handled in CanTransition rather than listed per state.
var transitions = map[JobKind]map[JobStatus][]JobStatus{
	JobKindModuleExtraction: {
		StatusPending: {StatusRunning},
		StatusRunning: {StatusCompleted, StatusCompletedWithErrors},
	},
	JobKindSOA: {
		StatusPending:                   {StatusDetectingPages},
		StatusDetectingPages:            {StatusAwaitingPageConfirmation},
		StatusAwaitingPageConfirmation:  {StatusExtracting},
		StatusExtracting:                {StatusSaving},
		StatusSaving:                    {StatusAnalyzingMerges},
		StatusAnalyzingMerges:           {StatusAwaitingMergeConfirmation},
		StatusAwaitingMergeConfirmation: {StatusInterpreting},
		StatusInterpreting:              {StatusCompleted},
	},
	JobKindEligibility: {
		StatusPending:                     {StatusDetectingSections},
		StatusDetectingSections:           {StatusAwaitingSectionConfirmation},
		StatusAwaitingSectionConfirmation: {StatusExtracting},
		StatusExtracting:                  {StatusInterpreting},
		StatusInterpreting:                {StatusValidating},
		StatusValidating:                  {StatusCompleted},
	},
}

// CanTransition reports whether kind permits the from → to edge.
func CanTransition(kind JobKind, from, to JobStatus) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	for _, next := range transitions[kind][from] {
		if next == to {
			return true
		}
	}
	return false
}

// InitialPhase returns the first working status for a kind, entered when a
// worker picks the job up.
func InitialPhase(kind JobKind) JobStatus {
	switch kind {
	case JobKindSOA:
		return StatusDetectingPages
	case JobKindEligibility:
		return StatusDetectingSections
	default:
		return StatusRunning
	}
}

// Progress records fine-grained pipeline position for UI display.
type Progress struct {
	Phase    string `json:"phase"`
	Percent  int    `json:"percent"`
	SubStage string `json:"sub_stage,omitempty"`
}

// Job is one execution of one pipeline over one protocol. At most one job
// per (protocol, kind) may be non-terminal at a time.
type Job struct {
	ID            string
	ProtocolID    string
	Kind          JobKind
	Status        JobStatus
	CurrentPhase  string
	CurrentModule string
	Progress      Progress
	StartedAt     *time.Time
	CompletedAt   *time.Time
	ErrorMessage  string

	// Worker ownership, for orphan detection.
	WorkerPID       int
	LastHeartbeatAt *time.Time

	// Kind-specific result slots (JSONB columns, replaced atomically).
	Result    json.RawMessage
	MergePlan json.RawMessage
	OutputDir string

	CreatedAt time.Time
	UpdatedAt time.Time
}
