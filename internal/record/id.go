package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// ID identifies a record within its resource. It holds either a string or an
// integer id and is comparable, so it can key maps directly.
//
// The zero ID means "no id assigned".
type ID struct {
	text    string
	numeric bool
}

// StringID returns a string id.
func StringID(s string) ID {
	return ID{text: s}
}

// IntID returns an integer id.
func IntID(n int64) ID {
	return ID{text: strconv.FormatInt(n, 10), numeric: true}
}

// ParseID converts a decoded JSON value into an ID.
// Accepts strings, json.Number and Go integer types. Integral floats are
// accepted for callers that decoded without UseNumber.
func ParseID(v any) (ID, error) {
	switch val := v.(type) {
	case ID:
		return val, nil
	case string:
		if val == "" {
			return ID{}, fmt.Errorf("id must not be empty")
		}
		return StringID(val), nil
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return ID{}, fmt.Errorf("numeric id must be an integer, got %s", val.String())
		}
		return IntID(n), nil
	case int:
		return IntID(int64(val)), nil
	case int32:
		return IntID(int64(val)), nil
	case int64:
		return IntID(val), nil
	case float64:
		if val != math.Trunc(val) || math.IsInf(val, 0) || math.Abs(val) > 1<<53 {
			return ID{}, fmt.Errorf("numeric id must be an integer, got %v", val)
		}
		return IntID(int64(val)), nil
	case nil:
		return ID{}, fmt.Errorf("id must not be null")
	default:
		return ID{}, fmt.Errorf("unsupported id type %T", v)
	}
}

// ParsePathID interprets an id taken from a URL path or command line.
// Canonical decimal integers become integer ids; anything else is a string id.
// A string id whose text is a canonical integer, such as StringID("42"),
// therefore cannot be addressed by path; see PathSafe.
func ParsePathID(s string) ID {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && strconv.FormatInt(n, 10) == s {
		return IntID(n)
	}
	return StringID(s)
}

// PathSafe reports whether id survives a round trip through its path form.
// It is false only for string ids that read as canonical integers.
func (id ID) PathSafe() bool {
	return ParsePathID(id.text) == id
}

// IsZero reports whether no id is assigned.
func (id ID) IsZero() bool {
	return id.text == ""
}

// IsNumeric reports whether the id is an integer id.
func (id ID) IsNumeric() bool {
	return id.numeric
}

// Int returns the integer value of a numeric id.
func (id ID) Int() (int64, bool) {
	if !id.numeric {
		return 0, false
	}
	n, err := strconv.ParseInt(id.text, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// String returns the textual form used in URL paths and storage keys.
func (id ID) String() string {
	return id.text
}

// Value returns the id as a plain JSON value (int64 or string).
func (id ID) Value() any {
	if n, ok := id.Int(); ok {
		return n
	}
	return id.text
}

// MarshalJSON encodes integer ids as JSON numbers and string ids as strings.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.IsZero() {
		return []byte("null"), nil
	}
	if id.numeric {
		return []byte(id.text), nil
	}
	return json.Marshal(id.text)
}

// UnmarshalJSON decodes a JSON number or string id.
func (id *ID) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	if v == nil {
		*id = ID{}
		return nil
	}
	parsed, err := ParseID(v)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
