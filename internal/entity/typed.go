package entity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/entitystore/internal/record"
)

// Typed binds a concrete Go type to a store at the call site.
//
// T is converted through JSON, so its field tags define the record shape.
// The "id" key maps to the record id.
type Typed[T any] struct {
	store *Store
}

// Bind returns a typed view of s.
func Bind[T any](s *Store) *Typed[T] {
	return &Typed[T]{store: s}
}

// Store returns the underlying store.
func (t *Typed[T]) Store() *Store {
	return t.store
}

// Records decodes the current snapshot.
func (t *Typed[T]) Records() ([]T, error) {
	snap := t.store.Snapshot()
	out := make([]T, 0, len(snap.Records))
	for _, rec := range snap.Records {
		v, err := decodeAs[T](rec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Create stores v and returns the canonical value.
func (t *Typed[T]) Create(ctx context.Context, v T) (T, error) {
	var zero T
	fields, err := toFields(v)
	if err != nil {
		return zero, err
	}
	rec, err := t.store.Create(ctx, fields)
	if err != nil {
		return zero, err
	}
	return decodeAs[T](rec)
}

// Update merges patch into id. patch is any value that encodes to a JSON
// object, typically a struct with omitempty fields or a map.
func (t *Typed[T]) Update(ctx context.Context, id record.ID, patch any) (T, error) {
	var zero T
	fields, err := toFields(patch)
	if err != nil {
		return zero, err
	}
	rec, err := t.store.Update(ctx, id, fields)
	if err != nil {
		return zero, err
	}
	return decodeAs[T](rec)
}

// Remove deletes id.
func (t *Typed[T]) Remove(ctx context.Context, id record.ID) error {
	return t.store.Remove(ctx, id)
}

func toFields(v any) (record.Fields, error) {
	switch f := v.(type) {
	case record.Fields:
		return f, nil
	case map[string]any:
		return record.Fields(f), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	m, err := record.DecodeObject(data)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return record.Fields(m), nil
}

func decodeAs[T any](rec record.Record) (T, error) {
	var v T
	data, err := rec.MarshalJSON()
	if err != nil {
		return v, fmt.Errorf("decode record %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode record %s: %w", rec.ID, err)
	}
	return v, nil
}
