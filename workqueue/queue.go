// Package workqueue accesses the relational work-queue table that drives
// live-mode incremental indexing: a row per (score_id, mode) awaiting
// projection, polled and acked by the source reader.
package workqueue

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nanaya/osu-elastic-indexer/x"
)

var log = x.Log("workqueue")

// Status values for the work-queue table's status column.
const (
	StatusPending   = 1
	StatusCompleted = 2
)

// Entry is one row of the work queue.
type Entry struct {
	ScoreID int64
	Mode    string
}

// Queue wraps a *sql.DB with prepared statements against the work-queue
// table, the way the teacher's store.Sql prepares its CRUD statements
// once in Init rather than per call.
type Queue struct {
	db    *sql.DB
	table string

	pending         *sql.Stmt
	ack             *sql.Stmt
	highestAcked    *sql.Stmt
	rewindStatement *sql.Stmt
}

// New prepares the statements Queue needs against table (default
// "score_index_queue" when empty).
func New(db *sql.DB, table string) (*Queue, error) {
	if table == "" {
		table = "score_index_queue"
	}
	q := &Queue{db: db, table: table}

	var err error
	q.pending, err = db.Prepare(fmt.Sprintf(
		`SELECT score_id FROM %s WHERE status = ? AND mode = ? ORDER BY score_id ASC LIMIT ?`, table))
	if err != nil {
		return nil, x.Wrap(err, "preparing pending query")
	}
	q.ack, err = db.Prepare(fmt.Sprintf(
		`UPDATE %s SET status = ? WHERE score_id = ? AND mode = ?`, table))
	if err != nil {
		return nil, x.Wrap(err, "preparing ack statement")
	}
	q.highestAcked, err = db.Prepare(fmt.Sprintf(
		`SELECT COALESCE(MAX(score_id), 0) FROM %s WHERE status = ? AND mode = ?`, table))
	if err != nil {
		return nil, x.Wrap(err, "preparing highest-acked query")
	}
	q.rewindStatement, err = db.Prepare(fmt.Sprintf(
		`UPDATE %s SET status = ? WHERE score_id > ? AND mode = ?`, table))
	if err != nil {
		return nil, x.Wrap(err, "preparing rewind statement")
	}
	return q, nil
}

// Pending implements §4.10: rows with status=1 AND mode={mode}, ordered
// by score_id ascending, capped at limit.
func (q *Queue) Pending(ctx context.Context, mode string, limit int) ([]Entry, error) {
	rows, err := q.pending.QueryContext(ctx, StatusPending, mode, limit)
	if err != nil {
		return nil, x.Wrapf(err, "querying pending entries for mode %s", mode)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, x.Wrap(err, "scanning pending entry")
		}
		out = append(out, Entry{ScoreID: id, Mode: mode})
	}
	if err := rows.Err(); err != nil {
		return nil, x.Wrap(err, "iterating pending entries")
	}
	return out, nil
}

// Ack marks ids as completed for mode.
func (q *Queue) Ack(ctx context.Context, mode string, ids []int64) error {
	for _, id := range ids {
		if _, err := q.ack.ExecContext(ctx, StatusCompleted, id, mode); err != nil {
			return x.Wrapf(err, "acking score_id %d for mode %s", id, mode)
		}
	}
	log.WithField("count", len(ids)).WithField("mode", mode).Debug("acked work-queue entries")
	return nil
}

// HighestCompleted returns the highest score_id currently marked
// completed for mode, used to compute Metadata.ResetQueueTo.
func (q *Queue) HighestCompleted(ctx context.Context, mode string) (int64, error) {
	var id int64
	if err := q.highestAcked.QueryRowContext(ctx, StatusCompleted, mode).Scan(&id); err != nil {
		return 0, x.Wrapf(err, "querying highest completed for mode %s", mode)
	}
	return id, nil
}

// Rewind resets rows with score_id > to back to pending for mode, so
// that an alias commit's replay window covers the gap between the
// rebuild snapshot and cut-over.
func (q *Queue) Rewind(ctx context.Context, mode string, to int64) error {
	if _, err := q.rewindStatement.ExecContext(ctx, StatusPending, to, mode); err != nil {
		return x.Wrapf(err, "rewinding queue for mode %s to %d", mode, to)
	}
	return nil
}

// Close releases the prepared statements.
func (q *Queue) Close() error {
	for _, stmt := range []*sql.Stmt{q.pending, q.ack, q.highestAcked, q.rewindStatement} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
	return nil
}
