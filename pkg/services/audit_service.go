package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditRecord is an append-only trace of an externally visible action.
// Records reference protocols and jobs weakly and survive their deletion.
type AuditRecord struct {
	ID         int64           `json:"id"`
	ProtocolID string          `json:"protocol_id,omitempty"`
	JobID      string          `json:"job_id,omitempty"`
	Action     string          `json:"action"`
	Detail     json.RawMessage `json:"detail,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// AuditService appends and reads audit records.
type AuditService struct {
	pool *pgxpool.Pool
}

func NewAuditService(pool *pgxpool.Pool) *AuditService {
	return &AuditService{pool: pool}
}

// Record appends an audit row. Audit failures are logged, never propagated:
// auditing must not change the outcome of the audited action.
func (s *AuditService) Record(ctx context.Context, protocolID, jobID, action string, detail any) {
	raw, err := json.Marshal(detail)
	if err != nil {
		raw = []byte(`{}`)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_records (protocol_id, job_id, action, detail)
		VALUES ($1, $2, $3, $4)`, protocolID, jobID, action, raw)
	if err != nil {
		slog.Warn("Failed to write audit record", "action", action, "error", err)
	}
}

// ListByJob returns a job's audit trail, oldest first.
func (s *AuditService) ListByJob(ctx context.Context, jobID string) ([]*AuditRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, protocol_id, job_id, action, detail, created_at
		FROM audit_records WHERE job_id = $1 ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer rows.Close()

	var out []*AuditRecord
	for rows.Next() {
		var r AuditRecord
		if err := rows.Scan(&r.ID, &r.ProtocolID, &r.JobID, &r.Action, &r.Detail, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
