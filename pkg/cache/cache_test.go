package cache

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/models"
)

func testKey() Key {
	return Key{
		SourceHash: "ab12",
		ModuleID:   "study_design",
		ModelID:    "gemini-2.5-pro",
		PromptHash: PromptHash("p1", "p2", `{"type":"object"}`),
	}
}

func TestPromptHash_SensitiveToEveryInput(t *testing.T) {
	base := PromptHash("p1", "p2", "s")
	assert.NotEqual(t, base, PromptHash("p1x", "p2", "s"))
	assert.NotEqual(t, base, PromptHash("p1", "p2x", "s"))
	assert.NotEqual(t, base, PromptHash("p1", "p2", "sx"))
	assert.Equal(t, base, PromptHash("p1", "p2", "s"))

	// Length prefixing: moving a boundary must change the hash.
	assert.NotEqual(t, PromptHash("ab", "c", ""), PromptHash("a", "bc", ""))
}

func TestKeyID_DistinctPerComponent(t *testing.T) {
	base := testKey()
	ids := map[string]bool{base.ID(): true}

	for _, k := range []Key{
		{SourceHash: "other", ModuleID: base.ModuleID, ModelID: base.ModelID, PromptHash: base.PromptHash},
		{SourceHash: base.SourceHash, ModuleID: "other", ModelID: base.ModelID, PromptHash: base.PromptHash},
		{SourceHash: base.SourceHash, ModuleID: base.ModuleID, ModelID: "other", PromptHash: base.PromptHash},
		{SourceHash: base.SourceHash, ModuleID: base.ModuleID, ModelID: base.ModelID, PromptHash: "other"},
	} {
		id := k.ID()
		assert.False(t, ids[id], "key id collision for %+v", k)
		ids[id] = true
	}
}

func TestFSTier_RoundTripAndMiss(t *testing.T) {
	fs, err := newFSTier(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	key := testKey()

	_, err = fs.Get(ctx, key)
	assert.ErrorIs(t, err, ErrMiss)

	entry := &Entry{
		Data:       json.RawMessage(`{"studyDesign":{"id":"SD-1"}}`),
		Quality:    models.QualityScore{Accuracy: 0.97, Completeness: 0.95, Adherence: 1, Provenance: 0.96, Terminology: 0.92},
		ProtocolID: "prot-1",
	}
	require.NoError(t, fs.Set(ctx, key, entry))

	got, err := fs.Get(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, string(entry.Data), string(got.Data))
	assert.Equal(t, entry.Quality, got.Quality)
	assert.Equal(t, "prot-1", got.ProtocolID)
}

func TestFSTier_SetOverwrites(t *testing.T) {
	fs, err := newFSTier(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	key := testKey()

	require.NoError(t, fs.Set(ctx, key, &Entry{Data: json.RawMessage(`{"v":1}`)}))
	require.NoError(t, fs.Set(ctx, key, &Entry{Data: json.RawMessage(`{"v":2}`)}))

	got, err := fs.Get(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(got.Data))

	st, err := fs.stats()
	require.NoError(t, err)
	assert.Equal(t, 1, st.Entries)
}

func TestFSTier_InvalidateProtocol(t *testing.T) {
	fs, err := newFSTier(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	k1 := testKey()
	k2 := testKey()
	k2.ModuleID = "eligibility_criteria"
	k3 := testKey()
	k3.ModuleID = "title_page"

	require.NoError(t, fs.Set(ctx, k1, &Entry{Data: json.RawMessage(`{}`), ProtocolID: "prot-1"}))
	require.NoError(t, fs.Set(ctx, k2, &Entry{Data: json.RawMessage(`{}`), ProtocolID: "prot-1"}))
	require.NoError(t, fs.Set(ctx, k3, &Entry{Data: json.RawMessage(`{}`), ProtocolID: "prot-2"}))

	removed, err := fs.InvalidateProtocol(ctx, "prot-1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = fs.Get(ctx, k1)
	assert.ErrorIs(t, err, ErrMiss)
	_, err = fs.Get(ctx, k3)
	assert.NoError(t, err)
}

func TestFSTier_InvalidateModule(t *testing.T) {
	fs, err := newFSTier(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	k1 := testKey()
	k2 := testKey()
	k2.ModuleID = "eligibility_criteria"
	k3 := testKey()
	k3.SourceHash = "cd34" // same module, different source document

	require.NoError(t, fs.Set(ctx, k1, &Entry{Data: json.RawMessage(`{}`), ProtocolID: "prot-1"}))
	require.NoError(t, fs.Set(ctx, k2, &Entry{Data: json.RawMessage(`{}`), ProtocolID: "prot-1"}))
	require.NoError(t, fs.Set(ctx, k3, &Entry{Data: json.RawMessage(`{}`), ProtocolID: "prot-2"}))

	removed, err := fs.InvalidateModule(ctx, "study_design")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = fs.Get(ctx, k1)
	assert.ErrorIs(t, err, ErrMiss)
	_, err = fs.Get(ctx, k3)
	assert.ErrorIs(t, err, ErrMiss)
	_, err = fs.Get(ctx, k2)
	assert.NoError(t, err)
}

func TestTiered_FSOnlyDegradesGracefully(t *testing.T) {
	tiered := &Tiered{}
	fs, err := newFSTier(t.TempDir())
	require.NoError(t, err)
	tiered.fs = fs
	ctx := context.Background()
	key := testKey()

	_, err = tiered.Get(ctx, key)
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, tiered.Set(ctx, key, &Entry{Data: json.RawMessage(`{"ok":true}`)}))
	got, err := tiered.Get(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(got.Data))

	stats, err := tiered.Stats(ctx)
	require.NoError(t, err)
	assert.False(t, stats.Database.Enabled)
	assert.True(t, stats.Filesystem.Enabled)
	assert.Equal(t, 1, stats.Filesystem.Entries)
	assert.Equal(t, int64(1), stats.Filesystem.HitCount)
}
