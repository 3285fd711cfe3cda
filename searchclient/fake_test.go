package searchclient_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanaya/osu-elastic-indexer/metadata"
	"github.com/nanaya/osu-elastic-indexer/record"
	"github.com/nanaya/osu-elastic-indexer/searchclient"
)

func TestFakeFindOrCreateIndexCreatesWhenNoneMatch(t *testing.T) {
	f := searchclient.NewFake()
	ctx := context.Background()

	index, m, aliased, err := f.FindOrCreateIndex(ctx, "scores_osu", "s1")
	require.NoError(t, err)
	assert.False(t, aliased)
	assert.Equal(t, metadata.StateBuilding, m.State)
	assert.Equal(t, "s1", m.Schema)

	again, _, _, err := f.FindOrCreateIndex(ctx, "scores_osu", "s1")
	require.NoError(t, err)
	assert.Equal(t, index, again, "a second call at the same schema should return the existing index")
}

func TestFakeFindOrCreateIndexPrefersAliasedMatch(t *testing.T) {
	f := searchclient.NewFake()
	ctx := context.Background()

	older, _, _, err := f.FindOrCreateIndex(ctx, "scores_osu", "s1")
	require.NoError(t, err)
	require.NoError(t, f.Save(ctx, string(older), metadata.Metadata{Schema: "s1", State: metadata.StateAliased}))
	require.NoError(t, f.UpdateAlias(ctx, "scores_osu", older, false))
	require.NoError(t, f.Save(ctx, "scores_osu_00000000000000", metadata.Metadata{Schema: "s1", State: metadata.StateBuilding}))

	found, _, aliased, err := f.FindOrCreateIndex(ctx, "scores_osu", "s1")
	require.NoError(t, err)
	assert.True(t, aliased)
	assert.Equal(t, older, found)
}

func TestFakeUpdateAliasClosesPriorTargets(t *testing.T) {
	f := searchclient.NewFake()
	ctx := context.Background()

	a := searchclient.IndexName("scores_osu_a")
	b := searchclient.IndexName("scores_osu_b")
	require.NoError(t, f.UpdateAlias(ctx, "scores_osu", a, false))
	require.NoError(t, f.UpdateAlias(ctx, "scores_osu", b, true))

	assert.True(t, f.IsClosed(a))
	assert.False(t, f.IsClosed(b))

	pointing, err := f.IndicesPointingTo(ctx, "scores_osu")
	require.NoError(t, err)
	assert.Equal(t, []searchclient.IndexName{b}, pointing)
}

func TestFakeBulkIndexRejectThenClose(t *testing.T) {
	f := searchclient.NewFake()
	ctx := context.Background()
	index := searchclient.IndexName("scores_osu_a")

	f.RejectNext = 1
	result, err := f.BulkIndex(ctx, index, nil, nil)
	require.NoError(t, err)
	assert.False(t, result.HasRejectRetry(), "empty batch has no items to reject")

	f.CloseIndexOnBulk = index
	result, err = f.BulkIndex(ctx, index, []record.Record{recordStub{id: "1"}}, nil)
	require.NoError(t, err)
	assert.True(t, result.HasIndexClosed())
}

type recordStub struct{ id string }

func (r recordStub) Cursor() int64      { return 0 }
func (r recordStub) ShouldIndex() bool  { return true }
func (r recordStub) DocumentID() string { return r.id }
