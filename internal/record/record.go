package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
)

// IDField is the reserved key carrying a record's id in its JSON form.
const IDField = "id"

// Fields holds a record's resource-specific payload.
// Values are plain JSON values: nil, bool, string, json.Number, []any, map[string]any.
type Fields map[string]any

// Clone returns a shallow copy of f.
func (f Fields) Clone() Fields {
	if f == nil {
		return Fields{}
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Record is a uniquely identified, resource-specific data object.
//
// Records are treated as immutable once published in a snapshot:
// Merge and Map always allocate, never write through.
type Record struct {
	ID     ID
	Fields Fields
}

// New builds a record, dropping any "id" entry from fields.
func New(id ID, fields Fields) Record {
	out := make(Fields, len(fields))
	for k, v := range fields {
		if k == IDField {
			continue
		}
		out[k] = v
	}
	return Record{ID: id, Fields: out}
}

// Split separates the id from a decoded JSON object.
// A missing or null id yields the zero ID.
func Split(m map[string]any) (ID, Fields, error) {
	var id ID
	if raw, ok := m[IDField]; ok && raw != nil {
		parsed, err := ParseID(raw)
		if err != nil {
			return ID{}, nil, err
		}
		id = parsed
	}
	fields := make(Fields, len(m))
	for k, v := range m {
		if k == IDField {
			continue
		}
		fields[k] = v
	}
	return id, fields, nil
}

// FromMap builds a record from a decoded JSON object. The id is required.
func FromMap(m map[string]any) (Record, error) {
	id, fields, err := Split(m)
	if err != nil {
		return Record{}, err
	}
	if id.IsZero() {
		return Record{}, fmt.Errorf("record has no id")
	}
	return Record{ID: id, Fields: fields}, nil
}

// Map returns the record as a JSON object including its id.
func (r Record) Map() map[string]any {
	m := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		m[k] = v
	}
	if !r.ID.IsZero() {
		m[IDField] = r.ID.Value()
	}
	return m
}

// Get returns a field value.
func (r Record) Get(key string) (any, bool) {
	if key == IDField {
		return r.ID.Value(), !r.ID.IsZero()
	}
	v, ok := r.Fields[key]
	return v, ok
}

// MarshalJSON encodes the record as canonical JSON.
func (r Record) MarshalJSON() ([]byte, error) {
	return MarshalCanonical(r.Map())
}

// UnmarshalJSON decodes a JSON object with an id.
func (r *Record) UnmarshalJSON(data []byte) error {
	m, err := DecodeObject(data)
	if err != nil {
		return err
	}
	rec, err := FromMap(m)
	if err != nil {
		return err
	}
	*r = rec
	return nil
}

// Merge shallow-merges patch over r and returns the result.
// Keys present in patch replace the record's values (including explicit nulls);
// the "id" key is ignored because an update never renames a record.
func Merge(r Record, patch Fields) Record {
	out := make(Fields, len(r.Fields)+len(patch))
	for k, v := range r.Fields {
		out[k] = v
	}
	for k, v := range patch {
		if k == IDField {
			continue
		}
		out[k] = v
	}
	return Record{ID: r.ID, Fields: out}
}

// DecodeObject decodes a JSON object, keeping numbers as json.Number.
func DecodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("decode object: expected JSON object, got %s", jsonKind(v))
	}
	return m, nil
}

// DecodeList decodes a JSON array of records.
func DecodeList(data []byte) ([]Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	out := make([]Record, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("decode list: [%d]: expected JSON object, got %s", i, jsonKind(item))
		}
		rec, err := FromMap(m)
		if err != nil {
			return nil, fmt.Errorf("decode list: [%d]: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Normalize converts arbitrary Go values into plain JSON values by
// round-tripping them through encoding/json.
func Normalize(v any) (Fields, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	m, err := DecodeObject(data)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	return Fields(m), nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case json.Number:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

var resourcePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// CheckResource validates a resource key. Keys become URL path segments
// and storage keys, so only [A-Za-z0-9_-] is allowed.
func CheckResource(key string) error {
	if !resourcePattern.MatchString(key) {
		return fmt.Errorf("invalid resource key %q: must match %s", key, resourcePattern.String())
	}
	return nil
}
