// Package record defines the shape-free record model shared by every resource.
//
// A Record is a unique, comparable ID plus an opaque map of JSON values. The
// store never interprets Fields; concrete schemas are bound by callers (see
// entity.Bind) or validated by adapters (see internal/schema).
//
// Numbers decoded from JSON are kept as json.Number so integer ids and large
// values survive round trips through SQLite and HTTP without float64 loss.
//
// Canonical JSON (MarshalCanonical) sorts keys by UTF-16 code units and NFC
// normalizes strings. It is used for durable storage and for Digest, which
// gives snapshots a cheap identity for comparison and golden traces.
package record
