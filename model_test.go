package instore

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mscno/instore/pkg/crypto"
)

func TestHashAdminIsCanonical(t *testing.T) {
	// Key order in the input map cannot matter; encoding/json sorts keys,
	// including in nested objects.
	h1, err := HashAdmin(map[string]any{"b": 1, "a": map[string]any{"y": 2, "x": 3}})
	require.NoError(t, err)
	h2, err := HashAdmin(map[string]any{"a": map[string]any{"x": 3, "y": 2}, "b": 1})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	h3, err := HashAdmin(map[string]any{"b": 1, "a": map[string]any{"y": 2, "x": 4}})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestSealOmitsOptionalSections(t *testing.T) {
	kr, err := crypto.NewKeyring(newTestKey(t))
	require.NoError(t, err)

	ct, err := seal(kr, Bundle{
		User:  map[string]any{"u": "1"},
		Admin: map[string]any{"a": "2"},
	})
	require.NoError(t, err)

	sealed, err := open(kr, ct)
	require.NoError(t, err)
	assert.Nil(t, sealed.Callback)
	assert.Nil(t, sealed.State)

	// The serialized form leaves absent sections out entirely.
	plaintext, err := kr.Decrypt(ct)
	require.NoError(t, err)
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(plaintext, &raw))
	assert.NotContains(t, raw, "callback")
	assert.NotContains(t, raw, "state")
}

func TestNormalizeLabels(t *testing.T) {
	got, err := normalizeLabels(Labels{
		"int":    7,
		"int32":  int32(7),
		"uint":   uint(7),
		"float":  float32(1.5),
		"numInt": json.Number("7"),
		"numFlt": json.Number("1.5"),
		"str":    "s",
		"bool":   false,
		"nil":    nil,
	})
	require.NoError(t, err)
	assert.Equal(t, Labels{
		"int":    int64(7),
		"int32":  int64(7),
		"uint":   int64(7),
		"float":  float64(1.5),
		"numInt": int64(7),
		"numFlt": float64(1.5),
		"str":    "s",
		"bool":   false,
		"nil":    nil,
	}, got)

	_, err = normalizeLabels(Labels{"bad": map[string]any{}})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = normalizeLabels(Labels{"": "empty key"})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// Non-finite floats do not serialize and cannot be looked up again.
	for _, v := range []any{math.NaN(), math.Inf(1), math.Inf(-1), float32(math.Inf(1))} {
		_, err = normalizeLabels(Labels{"ratio": v})
		assert.ErrorIs(t, err, ErrInvalidArgument)
	}
}

