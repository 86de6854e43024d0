package orchestrator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/config"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/database"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/document"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/events"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/services"
	testdb "github.com/avinash-kulkarni05/digital-protocol-demo-sub002/test/database"
)

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

func TestRun_NoEnabledModulesCompletesWithEmptyDocument(t *testing.T) {
	db := testdb.NewTestClient(t)
	ctx := context.Background()

	protocolID := seedProtocol(t, db)
	protocols := services.NewProtocolService(db.Pool)
	jobs := services.NewJobService(db.Pool, db.DSN())
	results := services.NewModuleResultService(db.Pool)
	publisher := events.NewPublisher(db.Pool)

	registry, err := config.NewModuleRegistry(t.TempDir(), nil)
	require.NoError(t, err)
	cfg := &config.Config{
		ModuleRegistry: registry,
		Pipeline:       &config.PipelineConfig{OutputDir: t.TempDir()},
	}

	job, err := jobs.Create(ctx, protocolID, models.JobKindModuleExtraction)
	require.NoError(t, err)
	protocol, err := protocols.Get(ctx, protocolID)
	require.NoError(t, err)

	// The extractor, cache, remote manager, and document store are never
	// touched when nothing is enabled.
	orch := New(cfg, nil, nil, nil, nil, jobs, results, publisher, "test-model")
	require.NoError(t, orch.Run(ctx, job, protocol))

	got, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Empty(t, got.ErrorMessage)
	assert.NotEmpty(t, got.OutputDir)

	var unified map[string]any
	require.NoError(t, json.Unmarshal(got.Result, &unified))
	// Only the bookkeeping blocks are present, no module slots.
	require.Len(t, unified, 3)
	assert.Contains(t, unified, "sourceDocument")
	assert.Contains(t, unified, "extractionMetadata")
	assert.Contains(t, unified, "provenanceSummary")

	meta := unified["extractionMetadata"].(map[string]any)
	assert.Empty(t, meta["modules"])
	assert.EqualValues(t, 0, meta["averageQualityScore"])
}
