package record

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_SortedKeys(t *testing.T) {
	data, err := MarshalCanonical(map[string]any{"b": 1, "a": 2, "c": map[string]any{"z": true, "y": nil}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1,"c":{"y":null,"z":true}}`, string(data))
}

func TestMarshalCanonical_NoHTMLEscape(t *testing.T) {
	data, err := MarshalCanonical("<a & b>")
	require.NoError(t, err)
	assert.Equal(t, `"<a & b>"`, string(data))
}

func TestMarshalCanonical_NFC(t *testing.T) {
	// "e" + combining acute accent normalizes to U+00E9.
	data, err := MarshalCanonical("e\u0301")
	require.NoError(t, err)
	assert.Equal(t, "\"\u00e9\"", string(data))
}

func TestMarshalCanonical_LineSeparators(t *testing.T) {
	data, err := MarshalCanonical("a\u2028b")
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\"", string(data))

	data, err = MarshalCanonical(`a\u2028b`)
	require.NoError(t, err)
	assert.Equal(t, `"a\\u2028b"`, string(data), "escaped backslash text stays escaped")
}

func TestMarshalCanonical_Numbers(t *testing.T) {
	data, err := MarshalCanonical([]any{json.Number("1.50"), int64(3), 2.5})
	require.NoError(t, err)
	assert.Equal(t, `[1.50,3,2.5]`, string(data))

	_, err = MarshalCanonical(json.Number("abc"))
	assert.Error(t, err)

	_, err = MarshalCanonical(math.Inf(1))
	assert.Error(t, err)
}

func TestMarshalCanonical_Records(t *testing.T) {
	recs := []Record{
		New(IntID(2), Fields{"t": "x"}),
		New(StringID("a"), nil),
	}
	data, err := MarshalCanonical(recs)
	require.NoError(t, err)
	assert.Equal(t, `[{"id":2,"t":"x"},{"id":"a"}]`, string(data))
}

func TestMarshalCanonical_Unsupported(t *testing.T) {
	_, err := MarshalCanonical(struct{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported type")
}

func TestCompareKeysUTF16(t *testing.T) {
	// U+FF61 sorts after U+1F600 in UTF-16 (surrogates 0xD83D...) but
	// before it in UTF-8 byte order.
	assert.Equal(t, 1, compareKeysUTF16("\uFF61", "\U0001F600"))
	assert.Equal(t, -1, compareKeysUTF16("a", "ab"))
	assert.Equal(t, 0, compareKeysUTF16("x", "x"))
}
