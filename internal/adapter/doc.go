// Package adapter implements the persistence side of the entity store.
//
// Every backend satisfies Adapter: List, Create, Update and Remove keyed by
// resource name and record id. Three implementations are provided:
//
//   - Remote: HTTP client for the /api/v1/{resource} wire contract
//   - Local: embedded SQLite database holding one ordered snapshot per resource
//   - Fallback: remote-first selection that drops to Local when the remote
//     is provably unreachable
//
// # Errors
//
// Adapters return *Error values classified by Kind. Only KindConnectivity
// triggers fallback; a validation rejection from the remote is final and is
// never replayed against the local store.
//
// # Local database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - single connection: SQLite allows one writer at a time
package adapter
