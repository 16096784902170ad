// Package testutil provides deterministic test doubles for the entity store:
// an in-memory adapter with failure injection and call gating, and a
// sequential id generator for reproducible provisional ids.
package testutil
