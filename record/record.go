// Package record defines the data shapes the indexing pipeline moves:
// the opaque Record contract, bounded Chunks of records, and the
// Descriptor table that replaces per-ruleset Go types with a single
// parametric shape plus per-ruleset query/decode behavior.
package record

// Record is the minimal contract the pipeline needs from a row: a
// monotonic scan key, and a predicate distinguishing upserts from deletes.
// Concrete payloads (e.g. Score) satisfy this alongside whatever other
// fields the search document needs.
type Record interface {
	// Cursor returns the monotonically non-decreasing scan key, typically
	// the row's primary key.
	Cursor() int64

	// ShouldIndex reports whether this record should be upserted (true)
	// or deleted from the index (false).
	ShouldIndex() bool

	// DocumentID is the search-cluster document id this record owns.
	DocumentID() string
}

// Chunk is an ordered, non-empty, bounded-size sequence of records of a
// single descriptor, split into an add-set and a delete-set. Chunks are
// the unit of back-pressure on the reader->dispatcher channel and of
// bulk dispatch to the search cluster.
type Chunk struct {
	// Mode identifies which Descriptor produced this chunk.
	Mode string

	Adds    []Record
	Deletes []Record
}

// Empty reports whether the chunk carries no work at all.
func (c Chunk) Empty() bool {
	return len(c.Adds) == 0 && len(c.Deletes) == 0
}

// Last returns the highest cursor value observed across both the add-set
// and delete-set of the chunk, and whether the chunk had any records at
// all. Because both the rebuild scan and the live-queue read emit
// cursor-ordered batches, this is always the final record processed.
func (c Chunk) Last() (cursor int64, ok bool) {
	for _, r := range c.Adds {
		if !ok || r.Cursor() > cursor {
			cursor, ok = r.Cursor(), true
		}
	}
	for _, r := range c.Deletes {
		if !ok || r.Cursor() > cursor {
			cursor, ok = r.Cursor(), true
		}
	}
	return cursor, ok
}

// IDs returns the document ids of every record in the chunk, adds then
// deletes, used by live mode to ack work-queue entries once a chunk is
// durably reflected in Metadata.
func (c Chunk) IDs() []string {
	ids := make([]string, 0, len(c.Adds)+len(c.Deletes))
	for _, r := range c.Adds {
		ids = append(ids, r.DocumentID())
	}
	for _, r := range c.Deletes {
		ids = append(ids, r.DocumentID())
	}
	return ids
}
