package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/nanaya/osu-elastic-indexer/coordination"
	"github.com/nanaya/osu-elastic-indexer/errsink"
	"github.com/nanaya/osu-elastic-indexer/record"
	"github.com/nanaya/osu-elastic-indexer/schemas"
	"github.com/nanaya/osu-elastic-indexer/scheduler"
	"github.com/nanaya/osu-elastic-indexer/searchclient"
	"github.com/nanaya/osu-elastic-indexer/settings"
	"github.com/nanaya/osu-elastic-indexer/workqueue"
	"github.com/nanaya/osu-elastic-indexer/x"
)

var log = x.Log("main")

func main() {
	app := &cli.App{
		Name:  "osu-elastic-indexer",
		Usage: "rebuild and incrementally maintain score indices in the search cluster",
		Flags: settings.Flags(),
		Commands: []*cli.Command{
			runCommand(),
			pumpCommand(),
			schemaCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		x.LogErr(log, err).Fatal("exiting")
	}
}

// rootContext returns a context cancelled on SIGINT/SIGTERM, the way a
// long-running indexer process is expected to shut down: stop accepting
// new work, drain in-flight requests, flush state, then exit.
func rootContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func buildDeps(c *cli.Context) (settings.Settings, *sql.DB, searchclient.Client, coordination.Store, *errsink.Sink, error) {
	s, err := settings.FromContext(c)
	if err != nil {
		return settings.Settings{}, nil, nil, nil, nil, x.Wrap(err, "resolving settings")
	}

	db, err := sql.Open("mysql", s.SourceConnectionString)
	if err != nil {
		return settings.Settings{}, nil, nil, nil, nil, x.Wrap(err, "opening source database")
	}

	mapping, err := schemas.Scores()
	if err != nil {
		return settings.Settings{}, nil, nil, nil, nil, x.Wrap(err, "loading index mapping")
	}
	client, err := searchclient.NewElastic(c.Context, s.SearchClusterURL, mapping)
	if err != nil {
		return settings.Settings{}, nil, nil, nil, nil, x.Wrap(err, "connecting to search cluster")
	}

	coord, err := coordination.NewRedis(c.Context, s.CoordinationStoreURL)
	if err != nil {
		return settings.Settings{}, nil, nil, nil, nil, x.Wrap(err, "connecting to coordination store")
	}

	sink, err := errsink.New(os.Getenv("SENTRY_DSN"))
	if err != nil {
		return settings.Settings{}, nil, nil, nil, nil, x.Wrap(err, "initializing error sink")
	}

	return s, db, client, coord, sink, nil
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "start the indexer loop for every registered ruleset",
		Action: func(c *cli.Context) error {
			s, db, client, coord, sink, err := buildDeps(c)
			if err != nil {
				return err
			}
			defer db.Close()
			defer sink.Close()

			ctx, cancel := rootContext()
			defer cancel()

			sched := &scheduler.Scheduler{Settings: s, DB: db, Client: client, Coord: coord, Sink: sink}
			return sched.Run(ctx)
		},
	}
}

func pumpCommand() *cli.Command {
	return &cli.Command{
		Name:  "pump",
		Usage: "reset work-queue entries back to pending",
		Subcommands: []*cli.Command{
			{
				Name:  "all",
				Usage: "reset every registered ruleset's work-queue entries above --from to pending (the source tables are not read)",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "from", Usage: "reset entries whose score_id is above this value"},
					&cli.BoolFlag{Name: "switch", Usage: "set current_schema once the pump completes"},
				},
				Action: func(c *cli.Context) error {
					s, db, _, coord, sink, err := buildDeps(c)
					if err != nil {
						return err
					}
					defer db.Close()
					defer sink.Close()

					ctx, cancel := rootContext()
					defer cancel()

					for _, mode := range record.Modes() {
						if err := pumpMode(ctx, db, mode, c.Int64("from")); err != nil {
							return x.Wrapf(err, "pumping mode %s", mode)
						}
					}
					if c.Bool("switch") {
						if err := coord.Set(ctx, coordination.CurrentSchemaKey, s.SchemaTag); err != nil {
							return x.Wrap(err, "switching current schema after pump")
						}
					}
					return nil
				},
			},
		},
	}
}

// pumpMode sets every work-queue row of mode with score_id above from
// back to pending, reusing the same Rewind statement the switchover
// protocol uses to replay a gap. It does not read the source table, so
// rows that have no work-queue entry are not enqueued.
func pumpMode(ctx context.Context, db *sql.DB, mode string, from int64) error {
	descriptor, ok := record.Lookup(mode)
	if !ok {
		return errors.Errorf("no descriptor registered for mode %s", mode)
	}
	queue, err := workqueue.New(db, "")
	if err != nil {
		return err
	}
	defer queue.Close()

	log.WithField("mode", descriptor.Mode).WithField("from", from).Info("pumping work queue")
	return queue.Rewind(ctx, mode, from)
}

func schemaCommand() *cli.Command {
	return &cli.Command{
		Name:  "schema",
		Usage: "inspect or mutate the coordination store's current_schema key",
		Subcommands: []*cli.Command{
			{
				Name: "get",
				Action: func(c *cli.Context) error {
					_, db, _, coord, sink, err := buildDeps(c)
					if err != nil {
						return err
					}
					defer db.Close()
					defer sink.Close()
					val, ok, err := coord.Get(c.Context, coordination.CurrentSchemaKey)
					if err != nil {
						return err
					}
					if !ok {
						fmt.Println("(unset)")
						return nil
					}
					fmt.Println(val)
					return nil
				},
			},
			{
				Name:      "set",
				ArgsUsage: "<schema_tag>",
				Action: func(c *cli.Context) error {
					_, db, _, coord, sink, err := buildDeps(c)
					if err != nil {
						return err
					}
					defer db.Close()
					defer sink.Close()
					tag := c.Args().First()
					if tag == "" {
						return errors.New("schema set requires a schema_tag argument")
					}
					return coord.Set(c.Context, coordination.CurrentSchemaKey, tag)
				},
			},
			{
				Name: "clear",
				Action: func(c *cli.Context) error {
					_, db, _, coord, sink, err := buildDeps(c)
					if err != nil {
						return err
					}
					defer db.Close()
					defer sink.Close()
					return coord.Set(c.Context, coordination.CurrentSchemaKey, "")
				},
			},
		},
	}
}
