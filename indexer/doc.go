// Package indexer runs the per-alias orchestrator: it owns one physical
// IndexName for the lifetime of a run, wires a source.Reader into a
// dispatch.Dispatcher, and drives the schema watcher and switchover
// protocol against the coordination store, per §4.7-4.8 of the spec.
package indexer
