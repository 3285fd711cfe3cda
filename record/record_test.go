package record_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nanaya/osu-elastic-indexer/record"
)

type stubRecord struct {
	cursor int64
	index  bool
	id     string
}

func (s stubRecord) Cursor() int64      { return s.cursor }
func (s stubRecord) ShouldIndex() bool  { return s.index }
func (s stubRecord) DocumentID() string { return s.id }

func TestChunkEmpty(t *testing.T) {
	assert.True(t, record.Chunk{}.Empty())
	assert.False(t, record.Chunk{Adds: []record.Record{stubRecord{cursor: 1, id: "1"}}}.Empty())
}

func TestChunkLastAcrossAddsAndDeletes(t *testing.T) {
	chunk := record.Chunk{
		Adds:    []record.Record{stubRecord{cursor: 3, id: "3"}, stubRecord{cursor: 5, id: "5"}},
		Deletes: []record.Record{stubRecord{cursor: 4, id: "4"}},
	}
	last, ok := chunk.Last()
	assert.True(t, ok)
	assert.Equal(t, int64(5), last)
}

func TestChunkLastEmpty(t *testing.T) {
	_, ok := record.Chunk{}.Last()
	assert.False(t, ok)
}

func TestChunkIDsAddsThenDeletes(t *testing.T) {
	chunk := record.Chunk{
		Adds:    []record.Record{stubRecord{id: "a"}},
		Deletes: []record.Record{stubRecord{id: "b"}},
	}
	assert.Equal(t, []string{"a", "b"}, chunk.IDs())
}

func TestDescriptorRegistryKnowsRulesets(t *testing.T) {
	for _, mode := range []string{"osu", "taiko", "fruits", "mania"} {
		d, ok := record.Lookup(mode)
		assert.True(t, ok, "mode %s should be registered", mode)
		assert.Equal(t, mode, d.Mode)
	}
	assert.Equal(t, []string{"fruits", "mania", "osu", "taiko"}, record.Modes())
}

func TestDescriptorRegisterDuplicatePanics(t *testing.T) {
	assert.Panics(t, func() {
		record.Register(record.Descriptor{Mode: "osu"})
	})
}

func TestDescriptorQueries(t *testing.T) {
	d, ok := record.Lookup("osu")
	assert.True(t, ok)
	assert.Contains(t, d.RebuildQuery(), "score_id > ? AND score_id <= ?")
	assert.Contains(t, d.MaxQuery(), "MAX(score_id)")
}
