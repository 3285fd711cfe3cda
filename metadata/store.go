package metadata

import "context"

// Store reads and writes Metadata persisted inside a physical index's
// mapping metadata. Absent fields default on Load; missing schema is a
// fatal error to the caller when running in live (non-rebuild) mode --
// that check lives in the indexer package, which knows is_rebuild.
type Store interface {
	// Load reads the mapping metadata of index. It returns (nil, nil) if
	// the index exists but carries no metadata yet (a brand new index
	// this call is racing the creator for).
	Load(ctx context.Context, index string) (*Metadata, error)

	// Save writes m into index's mapping metadata, merging into the
	// existing mapping so field mappings are never clobbered. Calling
	// Save twice with an identical m leaves the same stored value apart
	// from UpdatedAt, which every Save stamps afresh.
	Save(ctx context.Context, index string, m Metadata) error
}
