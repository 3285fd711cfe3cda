// Package dispatch implements the BulkDispatcher: a bounded worker pool
// that drains chunks from a reader, ships them to the search cluster in
// bulk requests with adaptive throttling and retry, and serializes
// Metadata progress updates through a single writer goroutine, per §4.6
// of the spec.
package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nanaya/osu-elastic-indexer/errsink"
	"github.com/nanaya/osu-elastic-indexer/metadata"
	"github.com/nanaya/osu-elastic-indexer/record"
	"github.com/nanaya/osu-elastic-indexer/searchclient"
	"github.com/nanaya/osu-elastic-indexer/x"
)

var log = x.Log("dispatch")

// maxDelaySteps caps the adaptive throttle at 30 steps of 100ms (3s),
// per the spec's recommendation in §5 and §9.
const maxDelaySteps = 30

// completion is one worker's report of a successfully dispatched chunk,
// consumed by the single Metadata-writer goroutine so that last_id
// updates are serialized across all dispatch workers.
type completion struct {
	lastID int64
	ackIDs []string
}

// Dispatcher is the BulkDispatcher of §4.6.
type Dispatcher struct {
	client   searchclient.Client
	store    metadata.Store
	index    searchclient.IndexName
	alias    string
	workers  int
	retryCap int
	sink     *errsink.Sink

	delay    int32 // atomic, scaled by 100ms per unit
	inflight int32 // atomic count of chunks pulled from `in` not yet resolved
	inClosed int32 // atomic bool: has `in` been observed closed

	// OnBatchCompleted, if set, is invoked by the Metadata writer after
	// each successful persist, carrying the new last_id and the
	// document ids it covered. The indexer hangs live-mode work-queue
	// acking off this hook, so entries are acked only after their chunk
	// is committed.
	OnBatchCompleted func(lastID int64, ackIDs []string)
}

// New returns a Dispatcher writing to index via client, persisting
// progress through store, with up to workers concurrent bulk senders
// and a retry channel capacity of retryCap (normally queue_capacity).
// Fatal per-item bulk errors are reported to sink, which may be nil in
// tests that don't care about that path.
func New(client searchclient.Client, store metadata.Store, index searchclient.IndexName, alias string, workers, retryCap int, sink *errsink.Sink) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if retryCap <= 0 {
		retryCap = 1
	}
	return &Dispatcher{client: client, store: store, index: index, alias: alias, workers: workers, retryCap: retryCap, sink: sink}
}

// stopper is the one-way cancellation handle a worker calls when a bulk
// response reports index-closed: it tells the reader to stop producing,
// with no back-reference to the Indexer (per §9's cyclic-dependency
// note).
type stopper func()

// Run drains in from the reader and persists progress through a single
// serialized Metadata writer, per §4.6. stop is called at most once, the
// first time any worker observes an index-closed bulk item; the caller
// is responsible for actually closing the reader's output channel when
// it fires (source.Reader.Run already closes it on ctx cancellation, so
// the typical wiring is stop = cancel).
func (d *Dispatcher) Run(ctx context.Context, in <-chan record.Chunk, stop stopper) error {
	retry := make(chan record.Chunk, d.retryCap)
	completions := make(chan completion, d.workers)

	var stopOnce sync.Once
	signalStop := func() {
		stopOnce.Do(stop)
	}

	var wg sync.WaitGroup
	var firstErr error
	var errMu sync.Mutex
	recordErr := func(err error) {
		if err == nil {
			return
		}
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
	}

	writerDone := make(chan struct{})
	go d.runMetadataWriter(ctx, completions, writerDone)

	var retryCloseOnce sync.Once
	closeRetry := func() { retryCloseOnce.Do(func() { close(retry) }) }

	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recordErr(d.worker(ctx, in, retry, completions, signalStop, closeRetry))
		}()
	}

	wg.Wait()
	close(completions)
	<-writerDone

	errMu.Lock()
	defer errMu.Unlock()
	return firstErr
}

// worker is one of the up-to-max_parallel_dispatch concurrent senders.
//
// Shutdown needs care: once the reader closes `in`, a worker must not
// exit while chunks it or a sibling requeued onto `retry` are still
// unresolved, and a naive select race between a (forever-ready) closed
// `in` and a momentarily-empty `retry` would otherwise drop them. So
// each worker tracks inflight chunks pulled from `in` with d.inflight,
// drops the `in` case from its select once it observes the close, and
// the worker whose completion brings inflight to zero after `in` closed
// is the one that closes `retry` -- which is race-free because exactly
// one atomic decrement can land on zero.
func (d *Dispatcher) worker(ctx context.Context, in <-chan record.Chunk, retry chan record.Chunk, completions chan<- completion, stop stopper, closeRetry func()) error {
	inOpen := true
	for {
		chunk, fromIn, ok, err := d.nextChunk(ctx, in, retry, inOpen)
		if err != nil {
			return err
		}
		if !ok {
			if inOpen {
				inOpen = false
				atomic.StoreInt32(&d.inClosed, 1)
				if atomic.LoadInt32(&d.inflight) == 0 {
					closeRetry()
				}
				continue
			}
			return nil
		}
		if fromIn {
			atomic.AddInt32(&d.inflight, 1)
		}
		if chunk.Empty() {
			d.resolve(closeRetry)
			continue
		}

		d.throttledWait(ctx)

		result, err := d.client.BulkIndex(ctx, d.index, chunk.Adds, chunk.Deletes)
		if err != nil {
			// Transport-level failure is treated like a reject-retry:
			// back off and requeue the whole chunk rather than drop it.
			d.increaseDelay()
			if !d.requeue(ctx, retry, chunk) {
				return ctx.Err()
			}
			continue
		}

		switch {
		case result.HasIndexClosed():
			log.WithField("index", d.index).Warn("index closed mid-dispatch, abandoning run")
			stop()
			return x.ErrIndexClosed

		case result.HasRejectRetry():
			d.increaseDelay()
			if !d.requeue(ctx, retry, chunk) {
				return ctx.Err()
			}
			continue

		default:
			for _, item := range result.FatalItems() {
				log.WithField("index", d.index).WithField("doc_id", item.DocumentID).
					WithField("error_type", item.ErrorType).Error("fatal sink error for bulk item")
				if d.sink != nil {
					err := x.Wrapf(x.ErrFatalSink, "index %s: document %s: %s", d.index, item.DocumentID, item.ErrorType)
					d.sink.Report(err, map[string]interface{}{
						"index": string(d.index), "doc_id": item.DocumentID, "error_type": item.ErrorType,
					})
				}
			}
			d.decreaseDelay()
			d.resolve(closeRetry)
			last, hasLast := chunk.Last()
			if hasLast {
				select {
				case completions <- completion{lastID: last, ackIDs: chunk.IDs()}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

// resolve marks one inflight chunk as permanently done (not requeued).
// If that was the last inflight chunk and `in` has already closed, it
// closes retry -- see the worker doc comment above.
func (d *Dispatcher) resolve(closeRetry func()) {
	if atomic.AddInt32(&d.inflight, -1) == 0 && atomic.LoadInt32(&d.inClosed) == 1 {
		closeRetry()
	}
}

// nextChunk implements the priority select of step 1: the retry channel
// is preferred over fresh input so retries preempt forward progress.
// Once inOpen is false the caller has already observed `in` closed, so
// `in` is dropped from the select entirely to avoid spinning on an
// always-ready closed channel.
func (d *Dispatcher) nextChunk(ctx context.Context, in <-chan record.Chunk, retry chan record.Chunk, inOpen bool) (chunk record.Chunk, fromIn, ok bool, err error) {
	select {
	case c, retryOK := <-retry:
		if retryOK {
			return c, false, true, nil
		}
	default:
	}

	if !inOpen {
		select {
		case c, retryOK := <-retry:
			return c, false, retryOK, nil
		case <-ctx.Done():
			return record.Chunk{}, false, false, ctx.Err()
		}
	}

	select {
	case c, retryOK := <-retry:
		return c, false, retryOK, nil
	case c, inOK := <-in:
		return c, inOK, inOK, nil
	case <-ctx.Done():
		return record.Chunk{}, false, false, ctx.Err()
	}
}

func (d *Dispatcher) requeue(ctx context.Context, retry chan record.Chunk, chunk record.Chunk) bool {
	select {
	case retry <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// throttledWait implements step 2: sleep delay x 100ms before dispatch.
func (d *Dispatcher) throttledWait(ctx context.Context) {
	delay := atomic.LoadInt32(&d.delay)
	if delay <= 0 {
		return
	}
	t := time.NewTimer(time.Duration(delay) * 100 * time.Millisecond)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (d *Dispatcher) increaseDelay() {
	for {
		cur := atomic.LoadInt32(&d.delay)
		if cur >= maxDelaySteps {
			return
		}
		if atomic.CompareAndSwapInt32(&d.delay, cur, cur+1) {
			return
		}
	}
}

func (d *Dispatcher) decreaseDelay() {
	for {
		cur := atomic.LoadInt32(&d.delay)
		if cur <= 0 {
			return
		}
		if atomic.CompareAndSwapInt32(&d.delay, cur, cur-1) {
			return
		}
	}
}

// runMetadataWriter is the single serialized writer of §4.6: it is the
// only goroutine that mutates and persists Metadata, so last_id's
// monotonic-maximum invariant holds regardless of how dispatch workers
// interleave.
func (d *Dispatcher) runMetadataWriter(ctx context.Context, completions <-chan completion, done chan<- struct{}) {
	defer close(done)

	for c := range completions {
		m, err := d.store.Load(ctx, string(d.index))
		if err != nil {
			x.LogErr(log, err).Error("failed to load metadata before update")
			continue
		}
		if m == nil {
			m = &metadata.Metadata{}
		}
		m.AdvanceLastID(c.lastID)
		if err := d.store.Save(ctx, string(d.index), *m); err != nil {
			x.LogErr(log, err).Error("failed to persist metadata")
			continue
		}
		if d.OnBatchCompleted != nil {
			d.OnBatchCompleted(m.LastID, c.ackIDs)
		}
	}
}
