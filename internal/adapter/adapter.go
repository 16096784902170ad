package adapter

import (
	"context"

	"github.com/roach88/entitystore/internal/record"
)

// Adapter is the uniform persistence interface used by the entity store.
//
// Contracts:
//   - List returns records in stable order.
//   - Create assigns an id when partial has none and returns the canonical record.
//   - Update shallow-merges patch into the stored record; KindNotFound if absent.
//   - Remove deletes by id; removing an absent id succeeds.
type Adapter interface {
	List(ctx context.Context, resource string) ([]record.Record, error)
	Create(ctx context.Context, resource string, partial record.Fields) (record.Record, error)
	Update(ctx context.Context, resource string, id record.ID, patch record.Fields) (record.Record, error)
	Remove(ctx context.Context, resource string, id record.ID) error
}

// Durable is an Adapter that can also absorb records confirmed elsewhere.
// Fallback mirrors remote results into a Durable so offline reads show the
// last known remote state.
type Durable interface {
	Adapter

	// Replace swaps the whole stored snapshot of resource for records.
	Replace(ctx context.Context, resource string, records []record.Record) error

	// Put upserts a single record, keeping its position if it exists.
	Put(ctx context.Context, resource string, rec record.Record) error
}

// Validator checks a record against the schema bound to its resource.
// Implemented by schema.Set.
type Validator interface {
	Validate(resource string, rec record.Record) error
}
