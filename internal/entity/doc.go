// Package entity implements the generic entity store: a registry of live,
// cached, optimistically mutated record lists, one per resource key.
//
// ARCHITECTURE:
//
// Registry:
// Acquire(key) returns the one Store for key, creating it on first use
// and starting its initial list. Every consumer of a key shares that Store.
//
// Mutation Pipeline:
// Create, Update and Remove change the cached list at once and publish a
// new snapshot, then call the adapter. On success the canonical record
// replaces the optimistic one; on failure the change is rolled back and
// the error is returned and recorded in the snapshot. Mutations on one
// record id run strictly in call order on a per-id lane. A provisional id
// and the canonical id it reconciles to share a lane.
//
// Refresh:
// Refresh replaces the cached list wholesale with a fresh listing. It
// never cascades to other resources; callers refresh dependents
// themselves.
//
// Broker:
// Every state change publishes one immutable Snapshot stamped with the
// store's next generation. Subscribers receive snapshots in generation
// order through one-slot mailboxes, skipping stale ones when slow.
//
// Writes are fire-and-forget: a caller that stops waiting detaches from
// its Mutation, but the adapter call is never cancelled.
package entity
