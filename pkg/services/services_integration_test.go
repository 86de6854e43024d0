package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/database"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/document"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/events"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
	testdb "github.com/avinash-kulkarni05/digital-protocol-demo-sub002/test/database"
)

// seedProtocol inserts a protocol row directly, bypassing PDF inspection.
// Job and event rows need the FK satisfied; the bytes themselves are not
// parsed by anything under test here.
func seedProtocol(t *testing.T, db *database.Client) string {
	t.Helper()
	id := uuid.NewString()
	content := []byte("%PDF-1.7 " + id)
	_, err := db.Pool.Exec(context.Background(), `
		INSERT INTO protocols (protocol_id, filename, content, content_hash, size_bytes, page_count)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, "study.pdf", content, document.Hash(content), len(content), 3)
	require.NoError(t, err)
	return id
}

func TestJobService_LifecycleAndGuards(t *testing.T) {
	db := testdb.NewTestClient(t)
	ctx := context.Background()
	protocolID := seedProtocol(t, db)
	jobs := NewJobService(db.Pool, db.DSN())

	job, err := jobs.Create(ctx, protocolID, models.JobKindSOA)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, job.Status)

	// A second active job of the same kind is rejected; a different kind
	// on the same protocol is fine.
	_, err = jobs.Create(ctx, protocolID, models.JobKindSOA)
	assert.ErrorIs(t, err, ErrJobAlreadyActive)
	_, err = jobs.Create(ctx, protocolID, models.JobKindEligibility)
	require.NoError(t, err)

	// The state machine rejects edges the kind does not define.
	err = jobs.Transition(ctx, job.ID, models.StatusCompleted)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	err = jobs.Transition(ctx, job.ID, models.StatusDetectingPages, WithPhase("page_detection"))
	require.NoError(t, err)

	got, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDetectingPages, got.Status)
	assert.Equal(t, "page_detection", got.CurrentPhase)
	require.NotNil(t, got.StartedAt)

	require.NoError(t, jobs.ClaimWorker(ctx, job.ID, 4242))
	require.NoError(t, jobs.Heartbeat(ctx, job.ID))
	got, err = jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 4242, got.WorkerPID)
	require.NotNil(t, got.LastHeartbeatAt)

	// failed is reachable from any non-terminal state and clears ownership.
	err = jobs.Transition(ctx, job.ID, models.StatusFailed, WithError("LLM quota exhausted"))
	require.NoError(t, err)
	got, err = jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "LLM quota exhausted", got.ErrorMessage)
	assert.Equal(t, 0, got.WorkerPID)
	require.NotNil(t, got.CompletedAt)

	// Terminal jobs are frozen, and the active-job slot is free again.
	err = jobs.Transition(ctx, job.ID, models.StatusDetectingPages)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	_, err = jobs.Create(ctx, protocolID, models.JobKindSOA)
	require.NoError(t, err)
}

func TestJobService_TransitionResultAndMergePlan(t *testing.T) {
	db := testdb.NewTestClient(t)
	ctx := context.Background()
	protocolID := seedProtocol(t, db)
	jobs := NewJobService(db.Pool, db.DSN())

	job, err := jobs.Create(ctx, protocolID, models.JobKindModuleExtraction)
	require.NoError(t, err)
	require.NoError(t, jobs.Transition(ctx, job.ID, models.StatusRunning))

	result := json.RawMessage(`{"instanceType":"StudyVersion"}`)
	err = jobs.Transition(ctx, job.ID, models.StatusCompleted,
		WithResult(result), WithOutputDir("/tmp/out/j1"))
	require.NoError(t, err)

	got, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.JSONEq(t, string(result), string(got.Result))
	assert.Equal(t, "/tmp/out/j1", got.OutputDir)
}

func TestJobService_SweepOrphans(t *testing.T) {
	db := testdb.NewTestClient(t)
	ctx := context.Background()
	protocolID := seedProtocol(t, db)
	jobs := NewJobService(db.Pool, db.DSN())

	stale, err := jobs.Create(ctx, protocolID, models.JobKindSOA)
	require.NoError(t, err)
	require.NoError(t, jobs.Transition(ctx, stale.ID, models.StatusDetectingPages))
	require.NoError(t, jobs.ClaimWorker(ctx, stale.ID, 999))

	// Pending jobs have no worker yet and must never be swept.
	pending, err := jobs.Create(ctx, protocolID, models.JobKindEligibility)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	n, err := jobs.SweepOrphans(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := jobs.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "orphan sweep")

	got, err = jobs.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
}

func TestEventService_ListAfterCursor(t *testing.T) {
	db := testdb.NewTestClient(t)
	ctx := context.Background()
	protocolID := seedProtocol(t, db)
	jobs := NewJobService(db.Pool, db.DSN())
	eventsSvc := NewEventService(db.Pool)
	publisher := events.NewPublisher(db.Pool)

	job, err := jobs.Create(ctx, protocolID, models.JobKindModuleExtraction)
	require.NoError(t, err)

	for _, moduleID := range []string{"identity", "narrative", "population"} {
		err := publisher.PublishModuleStatus(ctx, events.ModuleStatusPayload{
			Type:     events.EventTypeModuleCompleted,
			JobID:    job.ID,
			ModuleID: moduleID,
			Status:   "completed",
		})
		require.NoError(t, err)
	}

	all, err := eventsSvc.ListAfter(ctx, job.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "identity", all[0].ModuleID)
	assert.Equal(t, events.EventTypeModuleCompleted, all[0].EventType)
	assert.Less(t, all[0].ID, all[1].ID)
	assert.Less(t, all[1].ID, all[2].ID)

	// The row id is the resume cursor.
	tail, err := eventsSvc.ListAfter(ctx, job.ID, all[1].ID, 10)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, "population", tail[0].ModuleID)
}

func TestSectionResultService_UpsertRoundTrip(t *testing.T) {
	db := testdb.NewTestClient(t)
	ctx := context.Background()
	protocolID := seedProtocol(t, db)
	jobs := NewJobService(db.Pool, db.DSN())
	sections := NewSectionResultService(db.Pool)

	job, err := jobs.Create(ctx, protocolID, models.JobKindEligibility)
	require.NoError(t, err)

	first := &models.SectionResult{
		JobID: job.ID, SectionID: "ELG-1", Kind: models.SectionInclusion,
		Title: "Inclusion Criteria", PageStart: 12, PageEnd: 14,
		Status: models.ModulePending, Payload: json.RawMessage(`{}`),
	}
	require.NoError(t, sections.Upsert(ctx, first))
	require.NoError(t, sections.Upsert(ctx, &models.SectionResult{
		JobID: job.ID, SectionID: "ELG-2", Kind: models.SectionExclusion,
		Title: "Exclusion Criteria", PageStart: 15, PageEnd: 16,
		Status: models.ModulePending, Payload: json.RawMessage(`{}`),
	}))

	// Re-upserting the same section replaces its state but keeps the row.
	require.NoError(t, sections.Upsert(ctx, &models.SectionResult{
		JobID: job.ID, SectionID: "ELG-1", Kind: models.SectionInclusion,
		Title: "Inclusion Criteria", PageStart: 12, PageEnd: 14,
		Status:         models.ModuleCompleted,
		Payload:        json.RawMessage(`{"criteria":[{"id":"ELG-1-1","text":"Age >= 18"}]}`),
		CriterionCount: 1,
	}))

	got, err := sections.ListByJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first.ID, got[0].ID)
	assert.Equal(t, models.ModuleCompleted, got[0].Status)
	assert.Equal(t, 1, got[0].CriterionCount)
	assert.Equal(t, models.SectionExclusion, got[1].Kind)
}

func TestProtocolService_RemoteHandleAndContent(t *testing.T) {
	db := testdb.NewTestClient(t)
	ctx := context.Background()
	protocolID := seedProtocol(t, db)
	protocols := NewProtocolService(db.Pool)

	got, err := protocols.Get(ctx, protocolID)
	require.NoError(t, err)
	assert.Equal(t, "study.pdf", got.Filename)
	assert.Equal(t, 3, got.PageCount)
	assert.Empty(t, got.RemoteURI)

	content, err := protocols.Content(ctx, protocolID)
	require.NoError(t, err)
	assert.True(t, len(content) > 0)

	expires := time.Now().Add(40 * time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, protocols.UpdateRemoteHandle(ctx, protocolID, "files/abc123", expires))

	got, err = protocols.Get(ctx, protocolID)
	require.NoError(t, err)
	assert.Equal(t, "files/abc123", got.RemoteURI)
	require.NotNil(t, got.RemoteExpiresAt)
	assert.WithinDuration(t, expires, *got.RemoteExpiresAt, time.Second)

	err = protocols.UpdateRemoteHandle(ctx, "missing", "files/x", expires)
	assert.ErrorIs(t, err, ErrNotFound)
}
