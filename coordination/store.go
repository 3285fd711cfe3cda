// Package coordination is a thin contract over the shared key-value
// coordination store holding the current schema tag and the set of
// schemas with an active indexer, used to drive the switchover protocol
// in §4.8 of the spec across independent indexer processes.
package coordination

import "context"

const (
	// CurrentSchemaKey holds the schema tag the alias should be pointing
	// at once its rebuild is Ready.
	CurrentSchemaKey = "current_schema"

	// ActiveSchemasKey is the set of index names currently accepting
	// writes from some Indexer.
	ActiveSchemasKey = "active_schemas"
)

// Store is the contract the Indexer's schema watcher and switchover
// protocol depend on. Concrete backends (Redis in production, an
// in-memory map in tests) implement it.
type Store interface {
	// Get returns the string value at key, and whether it was set.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set assigns value to key.
	Set(ctx context.Context, key, value string) error

	// Add inserts member into the set at key.
	Add(ctx context.Context, key, member string) error

	// Remove deletes member from the set at key.
	Remove(ctx context.Context, key, member string) error

	// Members returns every member of the set at key.
	Members(ctx context.Context, key string) ([]string, error)
}
