package instore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackendReturnsCopies(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	require.NoError(t, backend.CreateNamespace(ctx, "ns"))
	require.NoError(t, backend.InsertRecord(ctx, "ns", "p1", StoredRecord{
		Ciphertext: []byte("ct"),
		Guid:       "slack",
		Labels:     Labels{"team": "eng"},
	}))

	got, err := backend.GetRecords(ctx, "ns", []string{"p1"})
	require.NoError(t, err)
	got["p1"].Labels["team"] = "mutated"
	got["p1"].Ciphertext[0] = 'X'

	again, err := backend.GetRecords(ctx, "ns", []string{"p1"})
	require.NoError(t, err)
	assert.Equal(t, Labels{"team": "eng"}, again["p1"].Labels)
	assert.Equal(t, []byte("ct"), again["p1"].Ciphertext)

	matches, err := backend.FindPrimaryKeys(ctx, "ns", "slack", nil)
	require.NoError(t, err)
	delete(matches, "p1")
	matches, err = backend.FindPrimaryKeys(ctx, "ns", "slack", nil)
	require.NoError(t, err)
	assert.Contains(t, matches, "p1")
}

func TestMemoryBackendOmitsMissingRecords(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	require.NoError(t, backend.CreateNamespace(ctx, "ns"))
	require.NoError(t, backend.InsertRecord(ctx, "ns", "p1", StoredRecord{
		Ciphertext: []byte("ct"),
		Guid:       "slack",
	}))

	// Absent keys are simply left out, they are not an error: a stale
	// index hit reads as a miss.
	got, err := backend.GetRecords(ctx, "ns", []string{"p1", "ghost"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Contains(t, got, "p1")
}

func TestMemoryBackendUnknownNamespace(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()

	_, err := backend.FindPrimaryKeys(ctx, "ghost", "", nil)
	assert.ErrorIs(t, err, ErrNotFound)
	err = backend.DeleteNamespace(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	err = backend.InsertRecord(ctx, "ghost", "p1", StoredRecord{Guid: "g"})
	assert.ErrorIs(t, err, ErrNotFound)
}
