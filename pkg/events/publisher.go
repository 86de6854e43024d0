package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Publisher writes events for WebSocket-free polling clients: persistent
// events land in the events table and fire pg_notify in the same
// transaction, so a NOTIFY is never observed for an uncommitted row.
type Publisher struct {
	pool *pgxpool.Pool
}

func NewPublisher(pool *pgxpool.Pool) *Publisher {
	return &Publisher{pool: pool}
}

// PublishJobStatus persists the transition on the job channel and broadcasts
// a transient copy on the global jobs channel. Both are attempted; the first
// error wins.
func (p *Publisher) PublishJobStatus(ctx context.Context, payload JobStatusPayload) error {
	payload.Type = EventTypeJobStatus
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal job status payload: %w", err)
	}

	var firstErr error
	if err := p.persistAndNotify(ctx, payload.JobID, JobChannel(payload.JobID), payload.Type, "", raw); err != nil {
		slog.Warn("Failed to publish job status", "job_id", payload.JobID, "error", err)
		firstErr = err
	}
	if err := p.notifyOnly(ctx, GlobalJobsChannel, raw); err != nil {
		slog.Warn("Failed to broadcast job status", "job_id", payload.JobID, "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PublishModuleStatus persists a module start/completion/failure event.
func (p *Publisher) PublishModuleStatus(ctx context.Context, payload ModuleStatusPayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal module status payload: %w", err)
	}
	return p.persistAndNotify(ctx, payload.JobID, JobChannel(payload.JobID), payload.Type, payload.ModuleID, raw)
}

// PublishStageStatus persists an interpretation stage transition.
func (p *Publisher) PublishStageStatus(ctx context.Context, payload StageStatusPayload) error {
	payload.Type = EventTypeStageStatus
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal stage status payload: %w", err)
	}
	return p.persistAndNotify(ctx, payload.JobID, JobChannel(payload.JobID), payload.Type, "", raw)
}

// PublishTablesDetected persists the detection result awaiting confirmation.
func (p *Publisher) PublishTablesDetected(ctx context.Context, payload TablesDetectedPayload) error {
	payload.Type = EventTypeTablesDetected
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal tables detected payload: %w", err)
	}
	return p.persistAndNotify(ctx, payload.JobID, JobChannel(payload.JobID), payload.Type, "", raw)
}

// PublishSectionsDetected persists the eligibility section detection result
// awaiting confirmation.
func (p *Publisher) PublishSectionsDetected(ctx context.Context, payload SectionsDetectedPayload) error {
	payload.Type = EventTypeSectionsFound
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal sections detected payload: %w", err)
	}
	return p.persistAndNotify(ctx, payload.JobID, JobChannel(payload.JobID), payload.Type, "", raw)
}

// PublishMergePlanReady persists the merge plan awaiting confirmation.
func (p *Publisher) PublishMergePlanReady(ctx context.Context, payload MergePlanReadyPayload) error {
	payload.Type = EventTypeMergePlanReady
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal merge plan payload: %w", err)
	}
	return p.persistAndNotify(ctx, payload.JobID, JobChannel(payload.JobID), payload.Type, "", raw)
}

// PublishReviewRequired persists a human-review flag event.
func (p *Publisher) PublishReviewRequired(ctx context.Context, payload ReviewRequiredPayload) error {
	payload.Type = EventTypeReviewRequired
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal review payload: %w", err)
	}
	return p.persistAndNotify(ctx, payload.JobID, JobChannel(payload.JobID), payload.Type, "", raw)
}

// PublishJobProgress broadcasts a transient progress tick, never persisted.
func (p *Publisher) PublishJobProgress(ctx context.Context, payload JobProgressPayload) error {
	payload.Type = EventTypeJobProgress
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal progress payload: %w", err)
	}
	return p.notifyOnly(ctx, JobChannel(payload.JobID), raw)
}

// persistAndNotify inserts the event row and fires pg_notify in the same
// transaction. pg_notify is transactional: the notification is delivered at
// COMMIT, after the row is visible.
func (p *Publisher) persistAndNotify(ctx context.Context, jobID, channel, eventType, moduleID string, payload []byte) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin event transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var eventID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO events (job_id, channel, event_type, module_id, payload) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		jobID, channel, eventType, moduleID, payload,
	).Scan(&eventID)
	if err != nil {
		return fmt.Errorf("failed to persist event: %w", err)
	}

	notifyPayload, err := injectEventIDAndTruncate(payload, eventID)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload); err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit event transaction: %w", err)
	}
	return nil
}

func (p *Publisher) notifyOnly(ctx context.Context, channel string, payload []byte) error {
	notifyPayload, err := truncateIfNeeded(string(payload))
	if err != nil {
		return err
	}
	if _, err := p.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload); err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}
	return nil
}

// injectEventIDAndTruncate adds the events-table row id to the NOTIFY copy
// so clients can use it as a catch-up cursor, then enforces the NOTIFY size
// limit.
func injectEventIDAndTruncate(payload []byte, eventID int64) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return "", fmt.Errorf("failed to decode payload for event id injection: %w", err)
	}
	m["db_event_id"] = eventID

	enriched, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal enriched NOTIFY payload: %w", err)
	}
	return truncateIfNeeded(string(enriched))
}

// notifyLimit stays below PostgreSQL's 8000-byte NOTIFY payload cap.
const notifyLimit = 7900

// truncateIfNeeded replaces an oversized payload with a minimal envelope
// holding only the routing fields; clients fetch the full row by id.
func truncateIfNeeded(payload string) (string, error) {
	if len(payload) <= notifyLimit {
		return payload, nil
	}

	var routing struct {
		Type      string `json:"type"`
		JobID     string `json:"job_id"`
		DBEventID *int64 `json:"db_event_id,omitempty"`
	}
	if err := json.Unmarshal([]byte(payload), &routing); err != nil {
		return "", fmt.Errorf("failed to extract routing fields for truncation: %w", err)
	}

	truncated := map[string]any{
		"type":      routing.Type,
		"job_id":    routing.JobID,
		"truncated": true,
	}
	if routing.DBEventID != nil {
		truncated["db_event_id"] = *routing.DBEventID
	}
	out, err := json.Marshal(truncated)
	if err != nil {
		return "", fmt.Errorf("failed to marshal truncated payload: %w", err)
	}
	return string(out), nil
}
