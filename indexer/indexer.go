package indexer

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nanaya/osu-elastic-indexer/coordination"
	"github.com/nanaya/osu-elastic-indexer/dispatch"
	"github.com/nanaya/osu-elastic-indexer/errsink"
	"github.com/nanaya/osu-elastic-indexer/metadata"
	"github.com/nanaya/osu-elastic-indexer/record"
	"github.com/nanaya/osu-elastic-indexer/searchclient"
	"github.com/nanaya/osu-elastic-indexer/settings"
	"github.com/nanaya/osu-elastic-indexer/source"
	"github.com/nanaya/osu-elastic-indexer/workqueue"
	"github.com/nanaya/osu-elastic-indexer/x"
)

var log = x.Log("indexer")

// watchInterval is the schema-watcher poll period of §4.8.
const watchInterval = 5 * time.Second

// Indexer is the per-alias top-level orchestrator of §4.7: it owns one
// physical IndexName for the run, wires a source.Reader into a
// dispatch.Dispatcher, and runs the schema watcher that drives the
// cross-process switchover protocol of §4.8.
type Indexer struct {
	settings   settings.Settings
	descriptor record.Descriptor
	db         *sql.DB
	client     searchclient.Client
	coord      coordination.Store
	queue      *workqueue.Queue
	sink       *errsink.Sink

	alias string
	index searchclient.IndexName
	runID string
}

// New returns an Indexer for descriptor's ruleset. alias is derived from
// settings.Alias(descriptor.Mode).
func New(s settings.Settings, descriptor record.Descriptor, db *sql.DB, client searchclient.Client, coord coordination.Store, queue *workqueue.Queue, sink *errsink.Sink) *Indexer {
	return &Indexer{
		settings:   s,
		descriptor: descriptor,
		db:         db,
		client:     client,
		coord:      coord,
		queue:      queue,
		sink:       sink,
		alias:      s.Alias(descriptor.Mode),
		runID:      uuid.New().String(),
	}
}

// Run gates readiness, initializes this run's index, and drives the
// reader/dispatcher/watcher trio to completion, per §4.7. The run's
// starting log line and the schema watcher's error reports carry runID;
// the other log lines of the run, including those of the reader and
// dispatcher packages, do not.
func (ix *Indexer) Run(ctx context.Context) error {
	log.WithField("run_id", ix.runID).WithField("alias", ix.alias).Info("starting run")
	ready, err := ix.checkReadiness(ctx)
	if err != nil {
		return err
	}
	if !ready {
		log.WithField("alias", ix.alias).Info("not ready: no metadata for this alias at the current schema")
		return nil
	}

	meta, err := ix.initialize(ctx)
	if err != nil {
		return err
	}

	if err := ix.coord.Add(ctx, coordination.ActiveSchemasKey, string(ix.index)); err != nil {
		return x.Wrap(err, "registering active schema")
	}
	defer func() {
		if err := ix.coord.Remove(ctx, coordination.ActiveSchemasKey, string(ix.index)); err != nil {
			x.LogErr(log, err).Warn("failed to deregister active schema on exit")
		}
	}()

	if current, ok, err := ix.coord.Get(ctx, coordination.CurrentSchemaKey); err != nil {
		return x.Wrap(err, "reading current schema")
	} else if !ok || current == "" {
		if err := ix.coord.Set(ctx, coordination.CurrentSchemaKey, ix.settings.SchemaTag); err != nil {
			return x.Wrap(err, "bootstrapping current schema")
		}
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	group, gctx := errgroup.WithContext(runCtx)

	chunks := make(chan record.Chunk, ix.settings.QueueCapacity)

	reader := ix.newReader(meta)
	disp := dispatch.New(ix.client, ix.client, ix.index, ix.alias, ix.settings.MaxParallelDispatch, ix.settings.QueueCapacity, ix.sink)
	stop := func() { cancelRun() }
	indexClosed := make(chan struct{})
	stopOnClosed := func() { close(indexClosed); cancelRun() }

	if acker, ok := reader.(source.Acker); ok {
		disp.OnBatchCompleted = func(lastID int64, ackIDs []string) {
			if err := acker.Ack(gctx, ackIDs); err != nil {
				x.LogErr(log, err).Warn("failed to ack work-queue entries after commit")
			}
		}
	}

	watchCtx, stopWatch := context.WithCancel(gctx)
	group.Go(func() error { return reader.Run(gctx, chunks) })
	group.Go(func() error { defer stopWatch(); return disp.Run(gctx, chunks, stopOnClosed) })
	group.Go(func() error { return ix.watchSchema(watchCtx, stop) })

	err = group.Wait()
	select {
	case <-indexClosed:
		return x.ErrIndexClosed
	default:
	}
	if err != nil && err != context.Canceled {
		return err
	}
	if runCtx.Err() != nil {
		return nil
	}
	return ix.complete(ctx)
}

// checkReadiness implements the readiness gate of §4.7: in non-rebuild
// mode, an alias with no persisted Metadata at the current schema has
// never been built and this Indexer has nothing to serve.
func (ix *Indexer) checkReadiness(ctx context.Context) (bool, error) {
	if ix.settings.IsRebuild {
		return true, nil
	}
	indices, err := ix.client.IndicesPointingTo(ctx, ix.alias)
	if err != nil {
		return false, x.Wrap(err, "checking alias readiness")
	}
	if len(indices) == 0 {
		return false, nil
	}
	meta, err := ix.client.Load(ctx, string(indices[0]))
	if err != nil {
		return false, x.Wrap(err, "loading metadata for readiness check")
	}
	return meta != nil && meta.Schema == ix.settings.SchemaTag, nil
}

// initialize implements the Initialize steps of §4.7.
func (ix *Indexer) initialize(ctx context.Context) (metadata.Metadata, error) {
	index, meta, aliased, err := ix.client.FindOrCreateIndex(ctx, ix.alias, ix.settings.SchemaTag)
	if err != nil {
		return metadata.Metadata{}, x.Wrap(err, "finding or creating index")
	}
	ix.index = index

	if ix.settings.ResumeFrom != nil {
		meta.LastID = *ix.settings.ResumeFrom
	}

	if ix.settings.IsRebuild && meta.ResetQueueTo == nil {
		highest, err := ix.queue.HighestCompleted(ctx, ix.descriptor.Mode)
		if err != nil {
			return metadata.Metadata{}, x.Wrap(err, "reading highest completed queue position")
		}
		meta.ResetQueueTo = &highest
	}

	if !ix.settings.IsRebuild {
		if meta.Schema != ix.settings.SchemaTag {
			return metadata.Metadata{}, x.Wrapf(x.ErrVersionMismatch, "index %s carries schema %q, want %q", index, meta.Schema, ix.settings.SchemaTag)
		}
		if !aliased {
			if err := ix.client.UpdateAlias(ctx, ix.alias, index, false); err != nil {
				return metadata.Metadata{}, x.Wrap(err, "committing alias for single live indexer")
			}
		}
		if meta.ResetQueueTo != nil {
			if err := ix.queue.Rewind(ctx, ix.descriptor.Mode, *meta.ResetQueueTo); err != nil {
				return metadata.Metadata{}, x.Wrap(err, "rewinding work queue")
			}
			meta.ResetQueueTo = nil
		}
	}

	if err := ix.client.Save(ctx, string(index), meta); err != nil {
		return metadata.Metadata{}, x.Wrap(err, "persisting initialized metadata")
	}
	return meta, nil
}

func (ix *Indexer) newReader(meta metadata.Metadata) source.Reader {
	if ix.settings.IsRebuild {
		return source.NewRebuild(ix.db, ix.descriptor, ix.settings.BatchSize, meta.LastID)
	}
	return source.NewLive(ix.db, ix.queue, ix.descriptor, ix.settings.BatchSize, ix.settings.ReadDelay)
}

// complete implements the rebuild-only Completion step of §4.7.
func (ix *Indexer) complete(ctx context.Context) error {
	if !ix.settings.IsRebuild {
		return nil
	}

	meta, err := ix.client.Load(ctx, string(ix.index))
	if err != nil {
		return x.Wrap(err, "loading metadata before completion")
	}
	if meta == nil {
		meta = &metadata.Metadata{Schema: ix.settings.SchemaTag}
	}

	if ix.settings.IsPrepMode {
		if err := meta.Advance(metadata.StateReady); err != nil {
			return x.Wrap(err, "advancing to ready")
		}
		if err := ix.client.Save(ctx, string(ix.index), *meta); err != nil {
			return x.Wrap(err, "persisting ready state")
		}
		if ix.settings.SwitchOnComplete {
			if err := ix.coord.Set(ctx, coordination.CurrentSchemaKey, ix.settings.SchemaTag); err != nil {
				return x.Wrap(err, "switching current schema on complete")
			}
		}
		return nil
	}

	if err := ix.client.UpdateAlias(ctx, ix.alias, ix.index, true); err != nil {
		return x.Wrap(err, "committing alias")
	}
	if err := meta.Advance(metadata.StateAliased); err != nil {
		return x.Wrap(err, "advancing to aliased")
	}
	return ix.client.Save(ctx, string(ix.index), *meta)
}

// watchSchema implements §4.8: every watchInterval, compare
// current_schema against the remembered previous value and this
// Indexer's own schema_tag, acting on the three outcomes the protocol
// defines.
func (ix *Indexer) watchSchema(ctx context.Context, stop func()) error {
	previous, seen := "", false
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			current, ok, err := ix.coord.Get(ctx, coordination.CurrentSchemaKey)
			if err != nil {
				x.LogErr(log, err).Warn("schema watcher: transient read failure")
				continue
			}
			if !ok {
				continue
			}
			if !seen {
				previous, seen = current, true
				continue
			}
			if current == previous {
				continue
			}
			if current == ix.settings.SchemaTag {
				if err := ix.client.UpdateAlias(ctx, ix.alias, ix.index, true); err != nil {
					ix.sink.Report(err, map[string]interface{}{"run_id": ix.runID, "alias": ix.alias, "index": ix.index})
					continue
				}
				previous = current
				continue
			}
			if err := ix.coord.Remove(ctx, coordination.ActiveSchemasKey, string(ix.index)); err != nil {
				x.LogErr(log, err).Warn("schema watcher: failed to deregister on stand-down")
			}
			log.WithField("alias", ix.alias).WithField("schema", ix.settings.SchemaTag).
				Info("standing down: current_schema moved to another schema")
			stop()
			return nil
		}
	}
}
