package coordination_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanaya/osu-elastic-indexer/coordination"
)

func TestMemoryGetSet(t *testing.T) {
	m := coordination.NewMemory()
	ctx := context.Background()

	_, ok, err := m.Get(ctx, coordination.CurrentSchemaKey)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, coordination.CurrentSchemaKey, "20260101"))
	val, ok, err := m.Get(ctx, coordination.CurrentSchemaKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "20260101", val)
}

func TestMemorySetMembership(t *testing.T) {
	m := coordination.NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Add(ctx, coordination.ActiveSchemasKey, "scores_osu_a"))
	require.NoError(t, m.Add(ctx, coordination.ActiveSchemasKey, "scores_osu_b"))

	members, err := m.Members(ctx, coordination.ActiveSchemasKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"scores_osu_a", "scores_osu_b"}, members)

	require.NoError(t, m.Remove(ctx, coordination.ActiveSchemasKey, "scores_osu_a"))
	members, err = m.Members(ctx, coordination.ActiveSchemasKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"scores_osu_b"}, members)
}
