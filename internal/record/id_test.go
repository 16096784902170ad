package record

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseID(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    ID
		wantErr bool
	}{
		{"string", "abc", StringID("abc"), false},
		{"json number", json.Number("42"), IntID(42), false},
		{"int", 7, IntID(7), false},
		{"int64", int64(9), IntID(9), false},
		{"integral float", float64(3), IntID(3), false},
		{"fractional float", 1.5, ID{}, true},
		{"fractional json number", json.Number("1.5"), ID{}, true},
		{"empty string", "", ID{}, true},
		{"null", nil, ID{}, true},
		{"bool", true, ID{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseID(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePathID(t *testing.T) {
	assert.Equal(t, IntID(42), ParsePathID("42"))
	assert.Equal(t, IntID(-3), ParsePathID("-3"))
	assert.Equal(t, StringID("042"), ParsePathID("042"), "non-canonical integers stay strings")
	assert.Equal(t, StringID("abc"), ParsePathID("abc"))
}

func TestIDPathSafe(t *testing.T) {
	assert.True(t, IntID(42).PathSafe())
	assert.True(t, StringID("abc").PathSafe())
	assert.True(t, StringID("042").PathSafe())
	assert.False(t, StringID("42").PathSafe(), "reads back as IntID(42)")
}

func TestIDComparable(t *testing.T) {
	m := map[ID]string{
		IntID(1):      "int",
		StringID("1"): "string",
	}
	assert.Len(t, m, 2, "integer and string ids with equal text are distinct")
	assert.Equal(t, "int", m[IntID(1)])
	assert.Equal(t, "string", m[StringID("1")])
}

func TestIDJSON(t *testing.T) {
	data, err := json.Marshal(IntID(42))
	require.NoError(t, err)
	assert.Equal(t, "42", string(data))

	data, err = json.Marshal(StringID("a-1"))
	require.NoError(t, err)
	assert.Equal(t, `"a-1"`, string(data))

	var id ID
	require.NoError(t, json.Unmarshal([]byte("17"), &id))
	assert.Equal(t, IntID(17), id)

	require.NoError(t, json.Unmarshal([]byte(`"x"`), &id))
	assert.Equal(t, StringID("x"), id)

	require.NoError(t, json.Unmarshal([]byte("null"), &id))
	assert.True(t, id.IsZero())
}

func TestIDValue(t *testing.T) {
	assert.Equal(t, int64(5), IntID(5).Value())
	assert.Equal(t, "five", StringID("five").Value())

	n, ok := IntID(5).Int()
	assert.True(t, ok)
	assert.Equal(t, int64(5), n)

	_, ok = StringID("5").Int()
	assert.False(t, ok)
}
