package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
)

// ModuleResultService persists per-module checkpoints. Rows are unique on
// (job_id, module_id); a resumed job skips modules that already completed.
type ModuleResultService struct {
	pool *pgxpool.Pool
}

func NewModuleResultService(pool *pgxpool.Pool) *ModuleResultService {
	return &ModuleResultService{pool: pool}
}

// Upsert writes a module checkpoint, replacing any previous attempt.
func (s *ModuleResultService) Upsert(ctx context.Context, r *models.ModuleResult) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	quality, err := json.Marshal(r.Quality)
	if err != nil {
		return fmt.Errorf("failed to encode quality: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO module_results (id, job_id, module_id, status, data, provenance_coverage,
			quality, pass1_seconds, pass2_seconds, pass2_skipped, retry_count, from_cache, error_details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (job_id, module_id) DO UPDATE SET
			status = EXCLUDED.status, data = EXCLUDED.data,
			provenance_coverage = EXCLUDED.provenance_coverage, quality = EXCLUDED.quality,
			pass1_seconds = EXCLUDED.pass1_seconds, pass2_seconds = EXCLUDED.pass2_seconds,
			pass2_skipped = EXCLUDED.pass2_skipped, retry_count = EXCLUDED.retry_count,
			from_cache = EXCLUDED.from_cache, error_details = EXCLUDED.error_details,
			updated_at = now()`,
		r.ID, r.JobID, r.ModuleID, r.Status, []byte(r.Data), r.ProvenanceCoverage,
		quality, r.Pass1Seconds, r.Pass2Seconds, r.Pass2Skipped, r.RetryCount,
		r.FromCache, r.ErrorDetails)
	if err != nil {
		return fmt.Errorf("failed to upsert module result: %w", err)
	}
	return nil
}

// ListByJob returns a job's module results in module order of insertion.
func (s *ModuleResultService) ListByJob(ctx context.Context, jobID string) ([]*models.ModuleResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, module_id, status, data, provenance_coverage, quality,
		       pass1_seconds, pass2_seconds, pass2_skipped, retry_count, from_cache,
		       error_details, created_at, updated_at
		FROM module_results WHERE job_id = $1 ORDER BY created_at`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list module results: %w", err)
	}
	defer rows.Close()

	var out []*models.ModuleResult
	for rows.Next() {
		var r models.ModuleResult
		var quality []byte
		if err := rows.Scan(&r.ID, &r.JobID, &r.ModuleID, &r.Status, &r.Data,
			&r.ProvenanceCoverage, &quality, &r.Pass1Seconds, &r.Pass2Seconds,
			&r.Pass2Skipped, &r.RetryCount, &r.FromCache, &r.ErrorDetails,
			&r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan module result: %w", err)
		}
		if len(quality) > 0 {
			_ = json.Unmarshal(quality, &r.Quality)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// CompletedModuleIDs returns the modules a job already finished, for resume.
func (s *ModuleResultService) CompletedModuleIDs(ctx context.Context, jobID string) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT module_id FROM module_results WHERE job_id = $1 AND status = $2`,
		jobID, models.ModuleCompleted)
	if err != nil {
		return nil, fmt.Errorf("failed to query completed modules: %w", err)
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// TableResultService persists per-table SOA checkpoints.
type TableResultService struct {
	pool *pgxpool.Pool
}

func NewTableResultService(pool *pgxpool.Pool) *TableResultService {
	return &TableResultService{pool: pool}
}

func (s *TableResultService) Upsert(ctx context.Context, r *models.TableResult) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO soa_table_results (id, job_id, table_id, category, page_start, page_end,
			status, payload, visit_count, activity_count, instance_count, footnote_count, error_details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (job_id, table_id) DO UPDATE SET
			category = EXCLUDED.category, page_start = EXCLUDED.page_start,
			page_end = EXCLUDED.page_end, status = EXCLUDED.status,
			payload = EXCLUDED.payload, visit_count = EXCLUDED.visit_count,
			activity_count = EXCLUDED.activity_count, instance_count = EXCLUDED.instance_count,
			footnote_count = EXCLUDED.footnote_count, error_details = EXCLUDED.error_details,
			updated_at = now()`,
		r.ID, r.JobID, r.TableID, r.Category, r.PageStart, r.PageEnd, r.Status,
		[]byte(r.Payload), r.VisitCount, r.ActivityCount, r.InstanceCount,
		r.FootnoteCount, r.ErrorDetails)
	if err != nil {
		return fmt.Errorf("failed to upsert table result: %w", err)
	}
	return nil
}

func (s *TableResultService) ListByJob(ctx context.Context, jobID string) ([]*models.TableResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, table_id, category, page_start, page_end, status, payload,
		       visit_count, activity_count, instance_count, footnote_count,
		       error_details, created_at, updated_at
		FROM soa_table_results WHERE job_id = $1 ORDER BY table_id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list table results: %w", err)
	}
	defer rows.Close()

	var out []*models.TableResult
	for rows.Next() {
		var r models.TableResult
		if err := rows.Scan(&r.ID, &r.JobID, &r.TableID, &r.Category, &r.PageStart,
			&r.PageEnd, &r.Status, &r.Payload, &r.VisitCount, &r.ActivityCount,
			&r.InstanceCount, &r.FootnoteCount, &r.ErrorDetails,
			&r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan table result: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// MergeGroupResultService persists interpretation output per merge group.
type MergeGroupResultService struct {
	pool *pgxpool.Pool
}

func NewMergeGroupResultService(pool *pgxpool.Pool) *MergeGroupResultService {
	return &MergeGroupResultService{pool: pool}
}

func (s *MergeGroupResultService) Upsert(ctx context.Context, r *models.MergeGroupResult) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO merge_group_results (id, job_id, group_id, status, document, stage_results, error_details)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (job_id, group_id) DO UPDATE SET
			status = EXCLUDED.status, document = EXCLUDED.document,
			stage_results = EXCLUDED.stage_results, error_details = EXCLUDED.error_details,
			updated_at = now()`,
		r.ID, r.JobID, r.GroupID, r.Status, []byte(r.Document), []byte(r.StageResults), r.ErrorDetails)
	if err != nil {
		return fmt.Errorf("failed to upsert merge group result: %w", err)
	}
	return nil
}

func (s *MergeGroupResultService) ListByJob(ctx context.Context, jobID string) ([]*models.MergeGroupResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, group_id, status, document, stage_results, error_details, created_at, updated_at
		FROM merge_group_results WHERE job_id = $1 ORDER BY group_id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list merge group results: %w", err)
	}
	defer rows.Close()

	var out []*models.MergeGroupResult
	for rows.Next() {
		var r models.MergeGroupResult
		if err := rows.Scan(&r.ID, &r.JobID, &r.GroupID, &r.Status, &r.Document,
			&r.StageResults, &r.ErrorDetails, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan merge group result: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// Get returns one group's result.
func (s *MergeGroupResultService) Get(ctx context.Context, jobID, groupID string) (*models.MergeGroupResult, error) {
	var r models.MergeGroupResult
	err := s.pool.QueryRow(ctx, `
		SELECT id, job_id, group_id, status, document, stage_results, error_details, created_at, updated_at
		FROM merge_group_results WHERE job_id = $1 AND group_id = $2`, jobID, groupID,
	).Scan(&r.ID, &r.JobID, &r.GroupID, &r.Status, &r.Document, &r.StageResults,
		&r.ErrorDetails, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get merge group result: %w", err)
	}
	return &r, nil
}
