// Package source produces ordered Chunks of records for the indexing
// pipeline, either from a cursor-scanned database table (rebuild mode)
// or from the work queue (live mode), per §4.5 of the spec.
package source

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/nanaya/osu-elastic-indexer/record"
	"github.com/nanaya/osu-elastic-indexer/workqueue"
	"github.com/nanaya/osu-elastic-indexer/x"
)

var log = x.Log("source")

// defaultReadDelay is the live-mode poll interval used when Settings
// leaves read_delay_ms unset.
const defaultReadDelay = 2 * time.Second

// transientBackoff is how long the rebuild scan sleeps after a driver
// error before retrying the same batch.
const transientBackoff = time.Second

// Reader produces chunks into a bounded channel and closes it on
// completion (clean end-of-scan in rebuild mode, or ctx cancellation in
// either mode).
type Reader interface {
	// Run feeds chunks into out until the scan is exhausted (rebuild) or
	// ctx is cancelled (live), then closes out.
	Run(ctx context.Context, out chan<- record.Chunk) error
}

// Acker is implemented by readers whose source must not be marked
// consumed until the dispatcher has durably committed the chunk it came
// from. The dispatcher invokes Ack (via Dispatcher.OnBatchCompleted)
// only after Metadata.last_id for that chunk has been persisted, so a
// crash between bulk dispatch and this call redelivers the chunk rather
// than losing it, per invariant 4 of §8.
type Acker interface {
	Ack(ctx context.Context, ids []string) error
}

// Rebuild scans the source table for descriptor starting after `last`,
// up to a max read once at startup, emitting chunks whose add-set holds
// the rows passing ShouldIndex and whose delete-set holds the rest. See
// NewRebuild.
type Rebuild struct {
	db         *sql.DB
	descriptor record.Descriptor
	batchSize  int
	last       int64
}

// NewRebuild returns a Reader that cursor-scans descriptor's table
// starting after last (exclusive), in batches of batchSize.
func NewRebuild(db *sql.DB, descriptor record.Descriptor, batchSize int, last int64) *Rebuild {
	return &Rebuild{db: db, descriptor: descriptor, batchSize: batchSize, last: last}
}

// Run implements Reader for rebuild mode, per §4.5.
func (r *Rebuild) Run(ctx context.Context, out chan<- record.Chunk) error {
	defer close(out)

	max, err := r.readMax(ctx)
	if err != nil {
		return err
	}
	log.WithField("mode", r.descriptor.Mode).WithField("max", max).WithField("from", r.last).
		Info("starting rebuild scan")

	query := r.descriptor.RebuildQuery()
	for {
		if r.last >= max {
			return nil
		}

		rows, err := r.db.QueryContext(ctx, query, r.last, max, r.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			x.LogErr(log, err).Warn("transient error scanning source, retrying")
			if !sleepOrDone(ctx, transientBackoff) {
				return ctx.Err()
			}
			continue
		}

		chunk, lastSeen, n, err := r.decodeRows(rows)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}

		select {
		case out <- chunk:
		case <-ctx.Done():
			return ctx.Err()
		}
		r.last = lastSeen
	}
}

func (r *Rebuild) readMax(ctx context.Context) (int64, error) {
	var max int64
	err := r.db.QueryRowContext(ctx, r.descriptor.MaxQuery()).Scan(&max)
	if err != nil {
		return 0, x.Wrapf(err, "reading max cursor for mode %s", r.descriptor.Mode)
	}
	return max, nil
}

func (r *Rebuild) decodeRows(rows *sql.Rows) (record.Chunk, int64, int, error) {
	defer rows.Close()

	chunk := record.Chunk{Mode: r.descriptor.Mode}
	var last int64
	n := 0
	for rows.Next() {
		rec, err := r.descriptor.Decode(rows)
		if err != nil {
			return record.Chunk{}, 0, 0, x.Wrap(err, "decoding row")
		}
		if rec.ShouldIndex() {
			chunk.Adds = append(chunk.Adds, rec)
		} else {
			chunk.Deletes = append(chunk.Deletes, rec)
		}
		last = rec.Cursor()
		n++
	}
	if err := rows.Err(); err != nil {
		return record.Chunk{}, 0, 0, x.Wrap(err, "iterating rows")
	}
	return chunk, last, n, nil
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Live polls the work queue for descriptor's mode, resolving each
// queued id to its current row and emitting mixed add/delete chunks.
// See NewLive.
type Live struct {
	db         *sql.DB
	queue      *workqueue.Queue
	descriptor record.Descriptor
	batchSize  int
	delay      time.Duration
}

// NewLive returns a Reader that polls the work queue for descriptor's
// mode. delay of 0 uses defaultReadDelay.
func NewLive(db *sql.DB, queue *workqueue.Queue, descriptor record.Descriptor, batchSize int, delay time.Duration) *Live {
	if delay <= 0 {
		delay = defaultReadDelay
	}
	return &Live{db: db, queue: queue, descriptor: descriptor, batchSize: batchSize, delay: delay}
}

// Run implements Reader for live mode, per §4.5. Queue entries are NOT
// acked here: acking a chunk before the dispatcher has durably committed
// it (bulk succeeded and Metadata.last_id persisted) would let a crash
// between enqueue and commit lose the record for good, since the
// work-queue row would already read as completed on restart. Acking
// instead happens through Ack, called by the dispatcher's
// OnBatchCompleted hook once the chunk is actually committed.
func (l *Live) Run(ctx context.Context, out chan<- record.Chunk) error {
	defer close(out)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		entries, err := l.queue.Pending(ctx, l.descriptor.Mode, l.batchSize)
		if err != nil {
			x.LogErr(log, err).Warn("transient error polling work queue, retrying")
			if !sleepOrDone(ctx, transientBackoff) {
				return ctx.Err()
			}
			continue
		}

		if len(entries) == 0 {
			if !sleepOrDone(ctx, l.delay) {
				return ctx.Err()
			}
			continue
		}

		chunk, err := l.resolve(ctx, entries)
		if err != nil {
			return err
		}

		select {
		case out <- chunk:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *Live) resolve(ctx context.Context, entries []workqueue.Entry) (record.Chunk, error) {
	chunk := record.Chunk{Mode: l.descriptor.Mode}

	for _, e := range entries {
		rec, found, err := l.descriptor.DecodeByID(ctx, l.db, e.ScoreID)
		if err != nil {
			return record.Chunk{}, x.Wrapf(err, "resolving queued score_id %d", e.ScoreID)
		}

		if !found || !rec.ShouldIndex() {
			chunk.Deletes = append(chunk.Deletes, deletedRecord{mode: l.descriptor.Mode, id: e.ScoreID})
			continue
		}
		chunk.Adds = append(chunk.Adds, rec)
	}
	return chunk, nil
}

// Ack implements Acker: ids are the DocumentID strings of a chunk this
// reader produced, identical to the work queue's score_id in decimal.
func (l *Live) Ack(ctx context.Context, ids []string) error {
	scoreIDs := make([]int64, 0, len(ids))
	for _, id := range ids {
		v, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return x.Wrapf(err, "parsing acked document id %q", id)
		}
		scoreIDs = append(scoreIDs, v)
	}
	return l.queue.Ack(ctx, l.descriptor.Mode, scoreIDs)
}

// deletedRecord represents a work-queue entry whose row is gone or no
// longer satisfies ShouldIndex: a pure delete with no other payload.
type deletedRecord struct {
	mode string
	id   int64
}

func (d deletedRecord) Cursor() int64      { return d.id }
func (d deletedRecord) ShouldIndex() bool  { return false }
func (d deletedRecord) DocumentID() string { return strconv.FormatInt(d.id, 10) }
