package cache

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testdb "github.com/avinash-kulkarni05/digital-protocol-demo-sub002/test/database"
)

func TestDBTier_RoundTripAndInvalidateModule(t *testing.T) {
	db := testdb.NewTestClient(t)
	ctx := context.Background()
	tier := newDBTier(db.Pool)

	k1 := testKey()
	k2 := testKey()
	k2.ModuleID = "eligibility_criteria"

	_, err := tier.Get(ctx, k1)
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, tier.Set(ctx, k1, &Entry{Data: json.RawMessage(`{"v":1}`)}))
	require.NoError(t, tier.Set(ctx, k2, &Entry{Data: json.RawMessage(`{"v":2}`)}))

	got, err := tier.Get(ctx, k1)
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(got.Data))

	// The read above counted as a hit.
	st, err := tier.stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Entries)
	assert.EqualValues(t, 1, st.HitCount)

	removed, err := tier.InvalidateModule(ctx, "study_design")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = tier.Get(ctx, k1)
	assert.ErrorIs(t, err, ErrMiss)
	_, err = tier.Get(ctx, k2)
	assert.NoError(t, err)
}
