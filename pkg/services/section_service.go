package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
)

// SectionResultService persists per-section eligibility checkpoints.
type SectionResultService struct {
	pool *pgxpool.Pool
}

func NewSectionResultService(pool *pgxpool.Pool) *SectionResultService {
	return &SectionResultService{pool: pool}
}

func (s *SectionResultService) Upsert(ctx context.Context, r *models.SectionResult) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO eligibility_section_results (id, job_id, section_id, kind, title,
			page_start, page_end, status, payload, criterion_count, error_details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (job_id, section_id) DO UPDATE SET
			kind = EXCLUDED.kind, title = EXCLUDED.title,
			page_start = EXCLUDED.page_start, page_end = EXCLUDED.page_end,
			status = EXCLUDED.status, payload = EXCLUDED.payload,
			criterion_count = EXCLUDED.criterion_count, error_details = EXCLUDED.error_details,
			updated_at = now()`,
		r.ID, r.JobID, r.SectionID, r.Kind, r.Title, r.PageStart, r.PageEnd,
		r.Status, []byte(r.Payload), r.CriterionCount, r.ErrorDetails)
	if err != nil {
		return fmt.Errorf("failed to upsert section result: %w", err)
	}
	return nil
}

func (s *SectionResultService) ListByJob(ctx context.Context, jobID string) ([]*models.SectionResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, section_id, kind, title, page_start, page_end, status,
		       payload, criterion_count, error_details, created_at, updated_at
		FROM eligibility_section_results WHERE job_id = $1 ORDER BY section_id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list section results: %w", err)
	}
	defer rows.Close()

	var out []*models.SectionResult
	for rows.Next() {
		var r models.SectionResult
		if err := rows.Scan(&r.ID, &r.JobID, &r.SectionID, &r.Kind, &r.Title,
			&r.PageStart, &r.PageEnd, &r.Status, &r.Payload, &r.CriterionCount,
			&r.ErrorDetails, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan section result: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
