package dispatch_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanaya/osu-elastic-indexer/dispatch"
	"github.com/nanaya/osu-elastic-indexer/errsink"
	"github.com/nanaya/osu-elastic-indexer/record"
	"github.com/nanaya/osu-elastic-indexer/searchclient"
)

type stubRecord struct {
	cursor int64
}

func (s stubRecord) Cursor() int64      { return s.cursor }
func (s stubRecord) ShouldIndex() bool  { return true }
func (s stubRecord) DocumentID() string { return strconv.FormatInt(s.cursor, 10) }

func chunkOf(cursors ...int64) record.Chunk {
	c := record.Chunk{Mode: "osu"}
	for _, cur := range cursors {
		c.Adds = append(c.Adds, stubRecord{cursor: cur})
	}
	return c
}

func TestDispatcherPersistsMonotonicLastID(t *testing.T) {
	fake := searchclient.NewFake()
	index, _, _, err := fake.FindOrCreateIndex(context.Background(), "scores_osu", "s1")
	require.NoError(t, err)

	d := dispatch.New(fake, fake, index, "scores_osu", 2, 4, nil)

	in := make(chan record.Chunk, 4)
	in <- chunkOf(1, 2)
	in <- chunkOf(3, 4)
	close(in)

	err = d.Run(context.Background(), in, func() {})
	require.NoError(t, err)

	m, err := fake.Load(context.Background(), string(index))
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, int64(4), m.LastID)
	assert.Len(t, fake.Docs(index), 4)
}

func TestDispatcherRetriesOnRejectThenSucceeds(t *testing.T) {
	fake := searchclient.NewFake()
	index, _, _, err := fake.FindOrCreateIndex(context.Background(), "scores_osu", "s1")
	require.NoError(t, err)
	fake.RejectNext = 2

	d := dispatch.New(fake, fake, index, "scores_osu", 1, 4, nil)

	in := make(chan record.Chunk, 1)
	in <- chunkOf(1, 2)
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = d.Run(ctx, in, func() {})
	require.NoError(t, err)
	assert.Len(t, fake.Docs(index), 2)
}

func TestDispatcherAbandonsRunOnIndexClosed(t *testing.T) {
	fake := searchclient.NewFake()
	index, _, _, err := fake.FindOrCreateIndex(context.Background(), "scores_osu", "s1")
	require.NoError(t, err)
	fake.CloseIndexOnBulk = index

	d := dispatch.New(fake, fake, index, "scores_osu", 1, 4, nil)

	in := make(chan record.Chunk, 1)
	in <- chunkOf(1)
	close(in)

	stopped := false
	err = d.Run(context.Background(), in, func() { stopped = true })
	require.Error(t, err)
	assert.True(t, stopped)
}

func TestDispatcherDrainsRetryBeforeExitingOnConcurrentWorkers(t *testing.T) {
	fake := searchclient.NewFake()
	index, _, _, err := fake.FindOrCreateIndex(context.Background(), "scores_osu", "s1")
	require.NoError(t, err)
	fake.RejectNext = 3

	d := dispatch.New(fake, fake, index, "scores_osu", 4, 8, nil)

	in := make(chan record.Chunk, 8)
	for i := int64(1); i <= 8; i += 2 {
		in <- chunkOf(i, i+1)
	}
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = d.Run(ctx, in, func() {})
	require.NoError(t, err)
	assert.Len(t, fake.Docs(index), 8)
}

func TestDispatcherReportsFatalItemsToSink(t *testing.T) {
	fake := searchclient.NewFake()
	index, _, _, err := fake.FindOrCreateIndex(context.Background(), "scores_osu", "s1")
	require.NoError(t, err)
	fake.FatalNext = 1

	sink, err := errsink.New("")
	require.NoError(t, err)
	defer sink.Close()

	reported := make(chan map[string]interface{}, 2)
	sink.OnReport = func(err error, fields map[string]interface{}) { reported <- fields }

	d := dispatch.New(fake, fake, index, "scores_osu", 1, 4, sink)

	in := make(chan record.Chunk, 1)
	in <- chunkOf(1, 2)
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = d.Run(ctx, in, func() {})
	require.NoError(t, err, "fatal per-item errors do not block progress")
	assert.Empty(t, fake.Docs(index), "fatally-errored items are not indexed")

	m, err := fake.Load(context.Background(), string(index))
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, int64(2), m.LastID, "last_id still advances past a fatal-item chunk")

	for i := 0; i < 2; i++ {
		select {
		case fields := <-reported:
			assert.Equal(t, string(index), fields["index"])
			assert.Equal(t, "mapper_parsing_exception", fields["error_type"])
		case <-time.After(time.Second):
			t.Fatal("fatal item was never reported to the sink")
		}
	}
}
