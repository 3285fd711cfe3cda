// Package scheduler is the top-level loop: it starts one Indexer per
// configured ruleset and propagates cancellation across the whole tree,
// per the Scheduler row of the spec's component table and §5's
// golang.org/x/sync/errgroup-based concurrency model.
package scheduler

import (
	"context"
	"database/sql"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nanaya/osu-elastic-indexer/coordination"
	"github.com/nanaya/osu-elastic-indexer/errsink"
	"github.com/nanaya/osu-elastic-indexer/indexer"
	"github.com/nanaya/osu-elastic-indexer/record"
	"github.com/nanaya/osu-elastic-indexer/searchclient"
	"github.com/nanaya/osu-elastic-indexer/settings"
	"github.com/nanaya/osu-elastic-indexer/workqueue"
	"github.com/nanaya/osu-elastic-indexer/x"
)

var log = x.Log("scheduler")

// restartBackoff is how long the Scheduler waits before reinitializing
// an Indexer that exited with ErrIndexClosed.
const restartBackoff = 5 * time.Second

// Scheduler owns the shared dependencies every Indexer needs and the
// set of modes to run one Indexer per.
type Scheduler struct {
	Settings settings.Settings
	DB       *sql.DB
	Client   searchclient.Client
	Coord    coordination.Store
	Sink     *errsink.Sink
	Modes    []string
}

// Run starts one Indexer per mode in Scheduler.Modes (default: every
// registered record.Descriptor) and waits for all of them, cancelling
// every sibling as soon as one returns a non-nil, non-ErrIndexClosed
// error -- errgroup's standard first-error-wins semantics.
func (s *Scheduler) Run(ctx context.Context) error {
	modes := s.Modes
	if len(modes) == 0 {
		modes = record.Modes()
	}

	group, gctx := errgroup.WithContext(ctx)
	for _, mode := range modes {
		descriptor, ok := record.Lookup(mode)
		if !ok {
			log.WithField("mode", mode).Warn("no descriptor registered for mode, skipping")
			continue
		}
		queue, err := workqueue.New(s.DB, "")
		if err != nil {
			return x.Wrapf(err, "preparing work queue for mode %s", mode)
		}
		group.Go(func() error { return s.runIndexer(gctx, descriptor, queue) })
	}
	return group.Wait()
}

// runIndexer drives one mode's Indexer, restarting it after a logged,
// non-fatal ErrIndexClosed per §7's contract that the run "exits
// non-fatally so the Scheduler may restart it after reinitialization".
func (s *Scheduler) runIndexer(ctx context.Context, descriptor record.Descriptor, queue *workqueue.Queue) error {
	defer queue.Close()

	for {
		ix := indexer.New(s.Settings, descriptor, s.DB, s.Client, s.Coord, queue, s.Sink)
		err := ix.Run(ctx)
		if err == nil {
			return nil
		}
		if x.Cause(err) != x.ErrIndexClosed {
			return err
		}

		log.WithField("mode", descriptor.Mode).Warn("index closed mid-run, reinitializing after backoff")
		s.Sink.Report(err, map[string]interface{}{"mode": descriptor.Mode})

		t := time.NewTimer(restartBackoff)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
}
