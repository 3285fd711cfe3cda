package record

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
)

// Descriptor replaces per-ruleset Go types (the source system's
// HighScore/HighScoreTaiko/HighScoreMania inheritance tree) with an
// explicit value describing how to scan and decode one ruleset's rows.
// The pipeline is parametric over a Descriptor, never over a language
// type: adding a new ruleset means registering one more Descriptor, not
// writing a new indexer code path.
type Descriptor struct {
	// Mode is the ruleset discriminator, e.g. "osu", "taiko", "fruits",
	// "mania". It doubles as the work-queue mode filter and the alias
	// suffix-free identity used in logs.
	Mode string

	// CursorColumn is the column the rebuild scan orders and filters on.
	CursorColumn string

	// SelectClause is the column list (or expression list) fetched by the
	// rebuild scan and by the live-mode record lookup.
	SelectClause string

	// Table is the source table queried by both modes.
	Table string

	// MaxExpression computes the upper bound the rebuild scan stops at,
	// e.g. "MAX(score_id)".
	MaxExpression string

	// ExtraWhere is ANDed onto the rebuild scan's WHERE clause, e.g. to
	// exclude soft-deleted rows. Empty means no extra predicate.
	ExtraWhere string

	// Decode turns one scanned row into a Record. rows.Scan destinations
	// must match SelectClause's column order exactly.
	Decode func(rows *sql.Rows) (Record, error)

	// DecodeByID fetches and decodes a single record by its cursor value,
	// used by live mode to resolve queue entries to current row state.
	DecodeByID func(ctx context.Context, db *sql.DB, id int64) (Record, bool, error)
}

// RebuildQuery returns the parametrized SQL the rebuild scan issues for
// one batch: rows with CursorColumn in (last, max], ordered ascending,
// capped at batchSize.
func (d Descriptor) RebuildQuery() string {
	where := fmt.Sprintf("%s > ? AND %s <= ?", d.CursorColumn, d.CursorColumn)
	if d.ExtraWhere != "" {
		where += " AND " + d.ExtraWhere
	}
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s ASC LIMIT ?",
		d.SelectClause, d.Table, where, d.CursorColumn)
}

// MaxQuery returns the single-row query used to read the scan's upper
// bound once at the start of a rebuild.
func (d Descriptor) MaxQuery() string {
	return fmt.Sprintf("SELECT %s FROM %s", d.MaxExpression, d.Table)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Descriptor)
)

// Register adds a Descriptor to the process-wide table, keyed by its
// Mode. Concrete rulesets call this from an init() function, mirroring
// the teacher's store.Register/search.Register driver idiom. Registering
// the same mode twice is a programmer error and panics.
func Register(d Descriptor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if d.Mode == "" {
		panic("record: descriptor registered with empty Mode")
	}
	if _, dup := registry[d.Mode]; dup {
		panic(fmt.Sprintf("record: descriptor for mode %q registered twice", d.Mode))
	}
	registry[d.Mode] = d
}

// Lookup returns the Descriptor registered for mode, if any.
func Lookup(mode string) (Descriptor, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	d, ok := registry[mode]
	return d, ok
}

// Modes returns every registered mode, sorted, for CLI/Scheduler fan-out.
func Modes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	modes := make([]string, 0, len(registry))
	for m := range registry {
		modes = append(modes, m)
	}
	sort.Strings(modes)
	return modes
}
