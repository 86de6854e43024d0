package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
)

// JobService owns the job state machine rows. Status transitions are guarded
// by the transition tables in models and executed on a fresh short-lived
// connection, so a transition is never lost to a poisoned pooled connection
// mid-pipeline.
type JobService struct {
	pool *pgxpool.Pool
	dsn  string
}

func NewJobService(pool *pgxpool.Pool, dsn string) *JobService {
	return &JobService{pool: pool, dsn: dsn}
}

// Create inserts a pending job. The partial unique index on
// (protocol_id, kind) rejects a second active job with ErrJobAlreadyActive.
func (s *JobService) Create(ctx context.Context, protocolID string, kind models.JobKind) (*models.Job, error) {
	job := &models.Job{
		ID:         uuid.NewString(),
		ProtocolID: protocolID,
		Kind:       kind,
		Status:     models.StatusPending,
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO jobs (job_id, protocol_id, kind, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		job.ID, protocolID, kind, job.Status,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("%w: protocol %s kind %s", ErrJobAlreadyActive, protocolID, kind)
		}
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return job, nil
}

// Get returns one job.
func (s *JobService) Get(ctx context.Context, id string) (*models.Job, error) {
	return scanJob(s.pool.QueryRow(ctx, jobColumns+` WHERE job_id = $1`, id))
}

// ListByProtocol returns a protocol's jobs, newest first.
func (s *JobService) ListByProtocol(ctx context.Context, protocolID string) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx, jobColumns+` WHERE protocol_id = $1 ORDER BY created_at DESC`, protocolID)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// Transition moves a job to the next status, enforcing the kind's state
// machine under a row lock. It opens a dedicated connection: transitions are
// the writes that must survive a sick pool. Terminal transitions use a
// background-derived context so cancellation cannot orphan the final write.
func (s *JobService) Transition(ctx context.Context, jobID string, to models.JobStatus, opts ...TransitionOption) error {
	if to.IsTerminal() {
		// Detach from the caller: a cancelled pipeline must still record
		// its terminal state.
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
	}

	conn, err := pgx.Connect(ctx, s.dsn)
	if err != nil {
		return fmt.Errorf("failed to open transition connection: %w", err)
	}
	defer func() { _ = conn.Close(ctx) }()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var kind models.JobKind
	var from models.JobStatus
	err = tx.QueryRow(ctx, `SELECT kind, status FROM jobs WHERE job_id = $1 FOR UPDATE`, jobID).Scan(&kind, &from)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	if err != nil {
		return fmt.Errorf("failed to lock job: %w", err)
	}

	if !models.CanTransition(kind, from, to) {
		return fmt.Errorf("%w: %s: %s -> %s", ErrIllegalTransition, kind, from, to)
	}

	set := &transitionSet{}
	for _, opt := range opts {
		opt(set)
	}

	query := `UPDATE jobs SET status = $2, updated_at = now()`
	args := []any{jobID, to}
	if from == models.StatusPending {
		query += `, started_at = now()`
	}
	if to.IsTerminal() {
		query += `, completed_at = now(), worker_pid = 0`
	}
	n := 3
	add := func(col string, v any) {
		query += fmt.Sprintf(", %s = $%d", col, n)
		args = append(args, v)
		n++
	}
	if set.errorMessage != nil {
		add("error_message", truncateError(*set.errorMessage))
	}
	if set.result != nil {
		add("result", set.result)
	}
	if set.mergePlan != nil {
		add("merge_plan", set.mergePlan)
	}
	if set.outputDir != nil {
		add("output_dir", *set.outputDir)
	}
	if set.phase != nil {
		add("current_phase", *set.phase)
	}
	query += ` WHERE job_id = $1`

	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to transition job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}

	slog.Info("Job transitioned", "job_id", jobID, "from", from, "to", to)
	return nil
}

// TransitionOption attaches extra column writes to a transition.
type TransitionOption func(*transitionSet)

type transitionSet struct {
	errorMessage *string
	result       json.RawMessage
	mergePlan    json.RawMessage
	outputDir    *string
	phase        *string
}

// WithError records a user-readable failure message (bounded).
func WithError(msg string) TransitionOption {
	return func(t *transitionSet) { t.errorMessage = &msg }
}

// WithResult replaces the job's result document.
func WithResult(result json.RawMessage) TransitionOption {
	return func(t *transitionSet) { t.result = result }
}

// WithMergePlan replaces the job's merge plan.
func WithMergePlan(plan json.RawMessage) TransitionOption {
	return func(t *transitionSet) { t.mergePlan = plan }
}

// WithOutputDir records where the job wrote its artifacts.
func WithOutputDir(dir string) TransitionOption {
	return func(t *transitionSet) { t.outputDir = &dir }
}

// WithPhase records the coarse phase label alongside the status.
func WithPhase(phase string) TransitionOption {
	return func(t *transitionSet) { t.phase = &phase }
}

// maxErrorLen bounds stored failure messages to keep them user-readable.
const maxErrorLen = 1000

func truncateError(msg string) string {
	if len(msg) <= maxErrorLen {
		return msg
	}
	return msg[:maxErrorLen]
}

// SetProgress updates the fine-grained progress record and current module.
func (s *JobService) SetProgress(ctx context.Context, jobID string, progress models.Progress, currentModule string) error {
	raw, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("failed to encode progress: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE jobs SET progress = $2, current_module = $3, updated_at = now()
		WHERE job_id = $1`, jobID, raw, currentModule)
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	return nil
}

// ClaimWorker records the worker process that owns the job and stamps the
// first heartbeat.
func (s *JobService) ClaimWorker(ctx context.Context, jobID string, pid int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET worker_pid = $2, last_heartbeat_at = now(), updated_at = now()
		WHERE job_id = $1`, jobID, pid)
	if err != nil {
		return fmt.Errorf("failed to claim job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	return nil
}

// Heartbeat refreshes the worker liveness stamp.
func (s *JobService) Heartbeat(ctx context.Context, jobID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE jobs SET last_heartbeat_at = now() WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("heartbeat failed: %w", err)
	}
	return nil
}

// SweepOrphans fails every non-terminal job whose heartbeat is older than
// the threshold. Run at server startup and periodically; a crashed worker
// cannot mark its own job failed.
func (s *JobService) SweepOrphans(ctx context.Context, threshold time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'failed',
		    error_message = 'worker process lost (orphan sweep)',
		    completed_at = now(), worker_pid = 0, updated_at = now()
		WHERE status NOT IN ('completed', 'completed_with_errors', 'failed', 'pending')
		  AND (last_heartbeat_at IS NULL OR last_heartbeat_at < now() - $1::interval)`,
		fmt.Sprintf("%f seconds", threshold.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("orphan sweep failed: %w", err)
	}
	n := int(tag.RowsAffected())
	if n > 0 {
		slog.Warn("Orphan sweep failed stale jobs", "count", n, "threshold", threshold)
	}
	return n, nil
}

const jobColumns = `
	SELECT job_id, protocol_id, kind, status, current_phase, current_module,
	       progress, started_at, completed_at, error_message, worker_pid,
	       last_heartbeat_at, result, merge_plan, output_dir, created_at, updated_at
	FROM jobs`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	var progress []byte
	err := row.Scan(&j.ID, &j.ProtocolID, &j.Kind, &j.Status, &j.CurrentPhase,
		&j.CurrentModule, &progress, &j.StartedAt, &j.CompletedAt, &j.ErrorMessage,
		&j.WorkerPID, &j.LastHeartbeatAt, &j.Result, &j.MergePlan, &j.OutputDir,
		&j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	if len(progress) > 0 {
		_ = json.Unmarshal(progress, &j.Progress)
	}
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*models.Job, error) {
	var out []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
