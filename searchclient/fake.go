package searchclient

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nanaya/osu-elastic-indexer/metadata"
	"github.com/nanaya/osu-elastic-indexer/record"
)

// Fake is an in-memory Client, grounded on the teacher's
// drivers/memsearch package: a map-backed stand-in for the search
// cluster used by package tests that would otherwise need a live
// Elasticsearch instance.
type Fake struct {
	mu sync.Mutex

	docs    map[IndexName]map[string]record.Record
	meta    map[IndexName]metadata.Metadata
	closed  map[IndexName]bool
	aliases map[string]IndexName

	// RejectNext, when > 0, makes the next N BulkIndex calls return a
	// reject-retry item for every add/delete, decrementing once per call.
	RejectNext int

	// CloseIndexOnBulk, when set, makes every subsequent BulkIndex call
	// against that index return an index-closed item.
	CloseIndexOnBulk IndexName

	// FatalNext, when > 0, makes the next N BulkIndex calls return a
	// non-retryable fatal item for every add/delete instead of indexing
	// them, decrementing once per call.
	FatalNext int

	// Now overrides time.Now for deterministic tests; nil uses time.Now.
	Now func() time.Time
}

// NewFake returns an empty Fake.
func NewFake() *Fake {
	return &Fake{
		docs:    make(map[IndexName]map[string]record.Record),
		meta:    make(map[IndexName]metadata.Metadata),
		closed:  make(map[IndexName]bool),
		aliases: make(map[string]IndexName),
	}
}

func (f *Fake) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now().UTC()
}

// FindOrCreateIndex implements Client.
func (f *Fake) FindOrCreateIndex(ctx context.Context, alias, schemaTag string) (IndexName, metadata.Metadata, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var matching []IndexName
	for idx, m := range f.meta {
		if m.Schema != schemaTag || !strings.HasPrefix(string(idx), alias+"_") {
			continue
		}
		matching = append(matching, idx)
	}

	if target, ok := f.aliases[alias]; ok {
		for _, idx := range matching {
			if idx == target {
				return idx, f.meta[idx], true, nil
			}
		}
	}

	if len(matching) > 0 {
		sort.Slice(matching, func(i, j int) bool {
			mi, mj := f.meta[matching[i]], f.meta[matching[j]]
			if !mi.UpdatedAt.Equal(mj.UpdatedAt) {
				return mi.UpdatedAt.After(mj.UpdatedAt)
			}
			return matching[i] < matching[j]
		})
		return matching[0], f.meta[matching[0]], false, nil
	}

	suffix := f.now().Format("20060102150405")
	index := IndexName(fmt.Sprintf("%s_%s", alias, suffix))
	m := metadata.Metadata{Schema: schemaTag, State: metadata.StateBuilding, UpdatedAt: f.now()}
	f.meta[index] = m
	f.docs[index] = make(map[string]record.Record)
	return index, m, false, nil
}

// Load implements metadata.Store.
func (f *Fake) Load(ctx context.Context, index string) (*metadata.Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.meta[IndexName(index)]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

// Save implements metadata.Store.
func (f *Fake) Save(ctx context.Context, index string, m metadata.Metadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m.UpdatedAt = f.now()
	f.meta[IndexName(index)] = m
	return nil
}

// BulkIndex implements Client.
func (f *Fake) BulkIndex(ctx context.Context, index IndexName, adds, deletes []record.Record) (BulkResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed[index] || f.CloseIndexOnBulk == index {
		var result BulkResult
		for _, r := range append(append([]record.Record{}, adds...), deletes...) {
			result.Items = append(result.Items, BulkItemResult{
				DocumentID: r.DocumentID(), Status: BulkItemIndexClosed, ErrorType: "index_closed_exception",
			})
		}
		return result, nil
	}

	if f.RejectNext > 0 {
		f.RejectNext--
		var result BulkResult
		for _, r := range append(append([]record.Record{}, adds...), deletes...) {
			result.Items = append(result.Items, BulkItemResult{
				DocumentID: r.DocumentID(), Status: BulkItemRejectRetry, HTTPStatus: 429, ErrorType: "es_rejected_execution_exception",
			})
		}
		return result, nil
	}

	if f.FatalNext > 0 {
		f.FatalNext--
		var result BulkResult
		for _, r := range append(append([]record.Record{}, adds...), deletes...) {
			result.Items = append(result.Items, BulkItemResult{
				DocumentID: r.DocumentID(), Status: BulkItemFatal, ErrorType: "mapper_parsing_exception",
			})
		}
		return result, nil
	}

	bucket, ok := f.docs[index]
	if !ok {
		bucket = make(map[string]record.Record)
		f.docs[index] = bucket
	}

	var result BulkResult
	for _, r := range adds {
		bucket[r.DocumentID()] = r
		result.Items = append(result.Items, BulkItemResult{DocumentID: r.DocumentID(), Status: BulkItemOK})
	}
	for _, r := range deletes {
		delete(bucket, r.DocumentID())
		result.Items = append(result.Items, BulkItemResult{DocumentID: r.DocumentID(), Status: BulkItemOK})
	}
	return result, nil
}

// UpdateAlias implements Client.
func (f *Fake) UpdateAlias(ctx context.Context, alias string, newIndex IndexName, closePrior bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	prior := f.aliases[alias]
	f.aliases[alias] = newIndex
	if closePrior && prior != "" && prior != newIndex {
		f.closed[prior] = true
	}
	return nil
}

// IndicesPointingTo implements Client.
func (f *Fake) IndicesPointingTo(ctx context.Context, alias string) ([]IndexName, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if idx, ok := f.aliases[alias]; ok {
		return []IndexName{idx}, nil
	}
	return nil, nil
}

// IndicesByPrefix implements Client.
func (f *Fake) IndicesByPrefix(ctx context.Context, prefix string) ([]IndexName, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []IndexName
	for idx := range f.meta {
		if strings.HasPrefix(string(idx), prefix+"_") {
			out = append(out, idx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// CloseIndex implements Client.
func (f *Fake) CloseIndex(ctx context.Context, index IndexName) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed[index] = true
	return nil
}

// IsClosed reports whether index has been closed, for test assertions.
func (f *Fake) IsClosed(index IndexName) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed[index]
}

// Docs returns a snapshot of the document ids currently indexed in
// index, for test assertions.
func (f *Fake) Docs(index IndexName) map[string]record.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]record.Record, len(f.docs[index]))
	for k, v := range f.docs[index] {
		out[k] = v
	}
	return out
}
