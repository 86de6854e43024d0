// Package events delivers job progress to clients through the events table
// and PostgreSQL NOTIFY/LISTEN. Persistent events are inserted and notified
// in one transaction so the catch-up cursor (the row id) never skips;
// transient progress ticks are NOTIFY-only.
package events

// Persistent event types (stored in DB + NOTIFY).
const (
	EventTypeJobStatus       = "job.status"
	EventTypeModuleStarted   = "module.started"
	EventTypeModuleCompleted = "module.completed"
	EventTypeModuleFailed    = "module.failed"
	EventTypeStageStatus     = "stage.status"
	EventTypeTablesDetected  = "tables.detected"
	EventTypeSectionsFound   = "sections.detected"
	EventTypeMergePlanReady  = "merge_plan.ready"
	EventTypeReviewRequired  = "review.required"
)

// Transient event types (NOTIFY only).
const (
	EventTypeJobProgress = "job.progress"
)

// GlobalJobsChannel carries job-level status for list views.
const GlobalJobsChannel = "jobs"

// JobChannel returns the channel for one job's events. Format: "job:{id}".
func JobChannel(jobID string) string {
	return "job:" + jobID
}
