package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/config"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
)

func fakeWorker(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "protocol-worker")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	return path
}

func testJob() *models.Job {
	return &models.Job{ID: "job-1", ProtocolID: "prot-1", Kind: models.JobKindModuleExtraction}
}

func TestSpawn_ReapsOnExit(t *testing.T) {
	s := New(&config.SupervisorConfig{
		WorkerBinary: fakeWorker(t, "exit 0"),
	})

	h, err := s.Spawn(testJob(), "extraction", "/tmp/config")
	require.NoError(t, err)
	assert.Greater(t, h.PID, 0)

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("worker never exited")
	}
	assert.NoError(t, h.Err())

	_, ok := s.Worker("job-1")
	assert.False(t, ok)
}

func TestSpawn_RejectsDuplicate(t *testing.T) {
	s := New(&config.SupervisorConfig{
		WorkerBinary: fakeWorker(t, "sleep 30"),
	})

	h, err := s.Spawn(testJob(), "extraction", "/tmp/config")
	require.NoError(t, err)
	defer func() { _ = s.Cancel(context.Background(), "job-1") }()

	_, err = s.Spawn(testJob(), "extraction", "/tmp/config")
	assert.ErrorIs(t, err, ErrWorkerRunning)
	assert.NotNil(t, h)
}

func TestSpawn_ConcurrentSameJobStartsOneWorker(t *testing.T) {
	s := New(&config.SupervisorConfig{
		WorkerBinary: fakeWorker(t, "sleep 30"),
	})
	defer func() { _ = s.Cancel(context.Background(), "job-1") }()

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Spawn(testJob(), "extraction", "/tmp/config")
		}(i)
	}
	wg.Wait()

	started := 0
	for _, err := range errs {
		if err == nil {
			started++
		} else {
			assert.ErrorIs(t, err, ErrWorkerRunning)
		}
	}
	assert.Equal(t, 1, started)
	assert.Len(t, s.Running(), 1)
}

func TestCancel_TerminatesWorker(t *testing.T) {
	s := New(&config.SupervisorConfig{
		WorkerBinary:      fakeWorker(t, "sleep 30"),
		CancelGracePeriod: 2 * time.Second,
	})

	h, err := s.Spawn(testJob(), "extraction", "/tmp/config")
	require.NoError(t, err)

	require.NoError(t, s.Cancel(context.Background(), "job-1"))
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("worker still running after cancel")
	}

	_, ok := s.Worker("job-1")
	assert.False(t, ok)
}

func TestCancel_EscalatesToKill(t *testing.T) {
	s := New(&config.SupervisorConfig{
		WorkerBinary:      fakeWorker(t, "trap '' TERM\nsleep 30"),
		CancelGracePeriod: 200 * time.Millisecond,
	})

	_, err := s.Spawn(testJob(), "extraction", "/tmp/config")
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, s.Cancel(context.Background(), "job-1"))
	assert.Less(t, time.Since(start), 5*time.Second)

	_, ok := s.Worker("job-1")
	assert.False(t, ok)
}

func TestCancel_UnknownJob(t *testing.T) {
	s := New(&config.SupervisorConfig{})
	err := s.Cancel(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrWorkerNotFound)
}
