// Package supervisor spawns and tracks pipeline worker processes. Each job
// runs in its own process so a crashing extraction cannot take the API server
// down; the orphan sweep in services covers workers that die without
// reporting.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/config"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
)

var (
	ErrWorkerRunning  = errors.New("worker already running for job")
	ErrWorkerNotFound = errors.New("no running worker for job")
)

// Handle tracks one spawned worker process.
type Handle struct {
	JobID      string
	ProtocolID string
	Phase      string
	PID        int
	StartedAt  time.Time

	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

// Done closes when the process exits.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the process exit error, valid after Done closes.
func (h *Handle) Err() error { return h.err }

// Supervisor owns the registry of live workers.
type Supervisor struct {
	cfg *config.SupervisorConfig

	mu      sync.Mutex
	workers map[string]*Handle
}

func New(cfg *config.SupervisorConfig) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		workers: map[string]*Handle{},
	}
}

// workerBinary resolves the worker executable. When unconfigured, the worker
// is expected to sit next to the current binary.
func (s *Supervisor) workerBinary() (string, error) {
	if s.cfg.WorkerBinary != "" {
		return s.cfg.WorkerBinary, nil
	}
	self, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to locate current executable: %w", err)
	}
	return filepath.Join(filepath.Dir(self), "protocol-worker"), nil
}

// Spawn starts a worker for the job. Phase selects which pipeline segment
// the worker runs; confirmation-gated pipelines spawn a fresh worker per
// segment.
func (s *Supervisor) Spawn(job *models.Job, phase, configDir string) (*Handle, error) {
	bin, err := s.workerBinary()
	if err != nil {
		return nil, err
	}

	// The lock spans the duplicate check and Start, so concurrent Spawns for
	// one job serialize here and exactly one wins.
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workers[job.ID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkerRunning, job.ID)
	}

	cmd := exec.Command(bin,
		"--job-id", job.ID,
		"--protocol-id", job.ProtocolID,
		"--phase", phase,
		"--config-dir", configDir,
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	// Own process group, so signals to the server do not cascade into
	// running extractions.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}

	h := &Handle{
		JobID:      job.ID,
		ProtocolID: job.ProtocolID,
		Phase:      phase,
		PID:        cmd.Process.Pid,
		StartedAt:  time.Now(),
		cmd:        cmd,
		done:       make(chan struct{}),
	}
	s.workers[job.ID] = h

	go s.reap(h)
	slog.Info("Worker spawned", "job_id", job.ID, "phase", phase, "pid", h.PID)
	return h, nil
}

func (s *Supervisor) reap(h *Handle) {
	h.err = h.cmd.Wait()
	close(h.done)

	s.mu.Lock()
	if s.workers[h.JobID] == h {
		delete(s.workers, h.JobID)
	}
	s.mu.Unlock()

	if h.err != nil {
		slog.Warn("Worker exited with error", "job_id", h.JobID, "pid", h.PID, "error", h.err)
	} else {
		slog.Info("Worker exited", "job_id", h.JobID, "pid", h.PID)
	}
}

// Worker returns the live handle for a job, if any.
func (s *Supervisor) Worker(jobID string) (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.workers[jobID]
	return h, ok
}

// Running returns the handles of all live workers.
func (s *Supervisor) Running() []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Handle, 0, len(s.workers))
	for _, h := range s.workers {
		out = append(out, h)
	}
	return out
}

// Cancel stops a job's worker: SIGTERM, a grace period for checkpointing,
// then SIGKILL to the whole process group.
func (s *Supervisor) Cancel(ctx context.Context, jobID string) error {
	h, ok := s.Worker(jobID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkerNotFound, jobID)
	}

	if err := syscall.Kill(-h.PID, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal worker: %w", err)
	}

	grace := s.cfg.CancelGracePeriod
	if grace <= 0 {
		grace = 10 * time.Second
	}
	select {
	case <-h.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(grace):
	}

	slog.Warn("Worker ignored SIGTERM, killing", "job_id", jobID, "pid", h.PID)
	if err := syscall.Kill(-h.PID, syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill worker: %w", err)
	}
	<-h.Done()
	return nil
}

// Shutdown cancels every live worker, used during server shutdown.
func (s *Supervisor) Shutdown(ctx context.Context) {
	for _, h := range s.Running() {
		if err := s.Cancel(ctx, h.JobID); err != nil && !errors.Is(err, ErrWorkerNotFound) {
			slog.Error("Failed to stop worker during shutdown", "job_id", h.JobID, "error", err)
		}
	}
}
