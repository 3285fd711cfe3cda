// Package searchclient is a typed wrapper over the search cluster,
// grounded on the teacher's drivers/elasticsearch package but rebuilt
// against the actively maintained github.com/olivere/elastic/v7 client
// and widened to the operations the indexing pipeline needs: find-or-
// create, bulk index/delete, alias get/set, close, and prefix/schema
// enumeration.
package searchclient

import (
	"context"

	"github.com/nanaya/osu-elastic-indexer/metadata"
	"github.com/nanaya/osu-elastic-indexer/record"
)

// IndexName is a physical index identifier, formed as "{alias}_{suffix}"
// per §3 of the spec. It is immutable once created.
type IndexName string

// BulkItemStatus classifies the outcome of one item inside a bulk
// response, per §4.4 and §4.6.
type BulkItemStatus int

const (
	// BulkItemOK means the item succeeded.
	BulkItemOK BulkItemStatus = iota
	// BulkItemRejectRetry means status 429 or
	// es_rejected_execution_exception: back off and retry the chunk.
	BulkItemRejectRetry
	// BulkItemIndexClosed means index_closed_exception: abandon the run.
	BulkItemIndexClosed
	// BulkItemFatal means any other non-retryable error.
	BulkItemFatal
)

// BulkItemResult is the per-item outcome of a BulkIndex call.
type BulkItemResult struct {
	DocumentID string
	Status     BulkItemStatus
	HTTPStatus int
	ErrorType  string
	ErrorMsg   string
}

// BulkResult is the overall outcome of one bulk request, classified per
// §4.4: reject-retry items call for a whole-chunk requeue, an
// index-closed item calls for reader shutdown, and fatal items are
// reported but do not block progress.
type BulkResult struct {
	Items []BulkItemResult
}

// HasRejectRetry reports whether any item needs the chunk requeued.
func (r BulkResult) HasRejectRetry() bool {
	for _, it := range r.Items {
		if it.Status == BulkItemRejectRetry {
			return true
		}
	}
	return false
}

// HasIndexClosed reports whether any item signals the index was closed.
func (r BulkResult) HasIndexClosed() bool {
	for _, it := range r.Items {
		if it.Status == BulkItemIndexClosed {
			return true
		}
	}
	return false
}

// FatalItems returns the items that failed with a non-retryable error
// other than index-closed, for forwarding to the ErrorSink.
func (r BulkResult) FatalItems() []BulkItemResult {
	var out []BulkItemResult
	for _, it := range r.Items {
		if it.Status == BulkItemFatal {
			out = append(out, it)
		}
	}
	return out
}

// Client is the contract the indexing pipeline uses to talk to the
// search cluster. metadata.Store is implemented on top of the same
// client (mapping metadata lives inside the index it describes), so
// Client embeds it.
type Client interface {
	metadata.Store

	// FindOrCreateIndex implements §4.4 case 1-3: find an index matching
	// "{alias}_*" at the configured schema tag, or create one from the
	// on-disk mapping file if none exists.
	FindOrCreateIndex(ctx context.Context, alias, schemaTag string) (IndexName, metadata.Metadata, bool, error)

	// BulkIndex issues a single bulk request upserting adds and deleting
	// deletes against index, classifying every item per BulkItemStatus.
	BulkIndex(ctx context.Context, index IndexName, adds, deletes []record.Record) (BulkResult, error)

	// UpdateAlias atomically removes alias from all current targets and
	// adds it to newIndex in one request (§4.4, invariant 2). If close is
	// true, every prior target other than newIndex is closed afterward;
	// a close failure is logged but not returned as an error.
	UpdateAlias(ctx context.Context, alias string, newIndex IndexName, close bool) error

	// IndicesPointingTo returns the physical indices alias currently
	// resolves to (zero, one, or transiently more than one mid-switch).
	IndicesPointingTo(ctx context.Context, alias string) ([]IndexName, error)

	// IndicesByPrefix enumerates indices named "{prefix}_*".
	IndicesByPrefix(ctx context.Context, prefix string) ([]IndexName, error)

	// CloseIndex closes a physical index; it becomes unreadable and
	// unwritable.
	CloseIndex(ctx context.Context, index IndexName) error
}
