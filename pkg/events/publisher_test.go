package events

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobChannel(t *testing.T) {
	assert.Equal(t, "job:abc-123", JobChannel("abc-123"))
}

func TestTruncateIfNeeded_SmallPayloadUntouched(t *testing.T) {
	payload := `{"type":"job.status","job_id":"j1","status":"extracting"}`
	out, err := truncateIfNeeded(payload)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestTruncateIfNeeded_OversizedPayloadKeepsRouting(t *testing.T) {
	big := map[string]any{
		"type":        "merge_plan.ready",
		"job_id":      "j1",
		"db_event_id": int64(42),
		"plan":        strings.Repeat("x", 9000),
	}
	raw, err := json.Marshal(big)
	require.NoError(t, err)

	out, err := truncateIfNeeded(string(raw))
	require.NoError(t, err)
	assert.Less(t, len(out), notifyLimit)

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	assert.Equal(t, "merge_plan.ready", m["type"])
	assert.Equal(t, "j1", m["job_id"])
	assert.Equal(t, true, m["truncated"])
	assert.Equal(t, float64(42), m["db_event_id"])
	assert.NotContains(t, m, "plan")
}

func TestInjectEventIDAndTruncate(t *testing.T) {
	out, err := injectEventIDAndTruncate([]byte(`{"type":"module.completed","job_id":"j1"}`), 7)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	assert.Equal(t, float64(7), m["db_event_id"])
	assert.Equal(t, "module.completed", m["type"])
}
