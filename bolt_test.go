package instore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/mscno/instore/pkg/crypto"
)

func TestBoltBackendSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "instore.db")
	key := newTestKey(t)
	kr, err := crypto.NewKeyring(key)
	require.NoError(t, err)

	db, err := bbolt.Open(path, 0o600, nil)
	require.NoError(t, err)
	store := New(NewBoltBackend(db), kr)

	_, err = store.PutByPrimaryKey(ctx, "acme", "p1", Item{
		Value:  testBundle(map[string]any{"v": "1"}, map[string]any{"s": "x"}),
		Guid:   "slack",
		Labels: Labels{"team": "eng", "seats": 12},
	})
	require.NoError(t, err)
	discKey, err := store.AssignDiscoveryKey(ctx, "acme", DiscoveryKey{
		PrimaryKey: "p1",
		Guid:       "slack",
		Type:       KeyTypeWebhook,
		Key:        "hook",
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = bbolt.Open(path, 0o600, nil)
	require.NoError(t, err)
	defer db.Close()
	store = New(NewBoltBackend(db), kr)

	got, err := store.GetByLabels(ctx, "acme", "slack", Labels{"team": "eng"})
	require.NoError(t, err)
	assert.Equal(t, "p1", got.PrimaryKey)
	assert.Equal(t, map[string]any{"v": "1"}, got.Value.User)
	// Integer labels keep their type across the JSON round trip.
	assert.Equal(t, Labels{"team": "eng", "seats": int64(12)}, got.Labels)

	resolved, err := store.InstanceDiscovery(ctx, FormatDiscoveryKey("slack", KeyTypeWebhook, discKey))
	require.NoError(t, err)
	assert.Equal(t, Discovery{PrimaryKey: "p1", Namespace: "acme"}, resolved)
}

func TestEncodeLabelValueIsTypeTagged(t *testing.T) {
	encodings := map[string][]byte{
		"nil":    encodeLabelValue(nil),
		"true":   encodeLabelValue(true),
		"str2":   encodeLabelValue("2"),
		"int2":   encodeLabelValue(int64(2)),
		"float2": encodeLabelValue(float64(2)),
	}
	seen := make(map[string]string)
	for name, encoded := range encodings {
		if prev, ok := seen[string(encoded)]; ok {
			t.Fatalf("%s and %s share encoding %q", name, prev, encoded)
		}
		seen[string(encoded)] = name
	}
}

func TestBoltIndexBucketsPruned(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "instore.db")
	db, err := bbolt.Open(path, 0o600, nil)
	require.NoError(t, err)
	defer db.Close()
	backend := NewBoltBackend(db)

	require.NoError(t, backend.CreateNamespace(ctx, "ns"))
	require.NoError(t, backend.InsertRecord(ctx, "ns", "p1", StoredRecord{
		Ciphertext: []byte("ct"),
		Guid:       "slack",
		Labels:     Labels{"team": "eng"},
	}))
	require.NoError(t, backend.DeleteRecord(ctx, "ns", "p1"))

	err = db.View(func(tx *bbolt.Tx) error {
		ns, err := namespaceBucket(tx, "ns")
		require.NoError(t, err)
		assert.Nil(t, ns.Bucket(guidsBucket).Bucket([]byte("slack")))
		assert.Nil(t, ns.Bucket(labelsBucket).Bucket([]byte("team")))
		return nil
	})
	require.NoError(t, err)
}
