package encoding

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalJSONSortsKeys(t *testing.T) {
	out, err := CanonicalJSON([]byte(` { "lastName": "Doe", "firstName": "John", "nested": {"b": 1, "a": 2} } `))
	require.NoError(t, err)
	require.Equal(t, `{"firstName":"John","lastName":"Doe","nested":{"a":2,"b":1}}`, string(out))
}

func TestCanonicalJSONPreservesLargeIntegers(t *testing.T) {
	out, err := CanonicalJSON([]byte(`{"id":9223372036854775807}`))
	require.NoError(t, err)
	require.Equal(t, `{"id":9223372036854775807}`, string(out))
}

func TestCanonicalJSONRejectsInvalid(t *testing.T) {
	_, err := CanonicalJSON([]byte(`{"id":`))
	require.Error(t, err)

	_, err = CanonicalJSON(nil)
	require.Error(t, err)
}

func TestMarshalIsStableForMaps(t *testing.T) {
	first, err := Marshal(map[string]int{"z": 1, "a": 2, "m": 3})
	require.NoError(t, err)
	second, err := Marshal(map[string]int{"m": 3, "z": 1, "a": 2})
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, `{"a":2,"m":3,"z":1}`, string(first))
}
