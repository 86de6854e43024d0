package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// StoredEvent is one row of the events table, served to polling clients.
// The BIGSERIAL id is the catch-up cursor: ids are assigned in commit order
// per job, so "everything after id N" is a complete, gap-free resume.
type StoredEvent struct {
	ID        int64           `json:"id"`
	JobID     string          `json:"job_id"`
	Channel   string          `json:"channel"`
	EventType string          `json:"event_type"`
	ModuleID  string          `json:"module_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// EventService reads persisted events for catch-up queries.
type EventService struct {
	pool *pgxpool.Pool
}

func NewEventService(pool *pgxpool.Pool) *EventService {
	return &EventService{pool: pool}
}

// ListAfter returns up to limit events for the job with id greater than
// after, oldest first.
func (s *EventService) ListAfter(ctx context.Context, jobID string, after int64, limit int) ([]*StoredEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, channel, event_type, module_id, payload, created_at
		FROM events WHERE job_id = $1 AND id > $2
		ORDER BY id LIMIT $3`, jobID, after, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var out []*StoredEvent
	for rows.Next() {
		var e StoredEvent
		if err := rows.Scan(&e.ID, &e.JobID, &e.Channel, &e.EventType, &e.ModuleID,
			&e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
