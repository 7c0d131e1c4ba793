package instore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"go.etcd.io/bbolt"
)

// BoltBackend implements Backend over a bbolt database. Layout:
//
//	namespaces/<name>/records/<pk>       -> record JSON
//	namespaces/<name>/labels/<key>/<val> -> bucket of pk keys
//	namespaces/<name>/guids/<guid>       -> bucket of pk keys
//	discovery/<full key>                 -> discovery entry JSON
//
// The nested label and guid buckets mirror the in-memory inverted index and
// are maintained in the same transaction as the record they describe, so
// each call is atomic. Label values are encoded with a one-byte type tag so
// the string "2", the integer 2 and the float 2.0 stay distinct.
type BoltBackend struct {
	db *bbolt.DB
}

// NewBoltBackend wraps an open bbolt database.
func NewBoltBackend(db *bbolt.DB) *BoltBackend {
	return &BoltBackend{db: db}
}

var _ Backend = (*BoltBackend)(nil)

var (
	namespacesBucket = []byte("namespaces")
	discoveryBucket  = []byte("discovery")
	recordsBucket    = []byte("records")
	labelsBucket     = []byte("labels")
	guidsBucket      = []byte("guids")
)

// boltRecord is the persisted JSON form of a record. Labels round-trip
// through json.Number so the int/float distinction survives.
type boltRecord struct {
	Ciphertext []byte          `json:"ciphertext"`
	Guid       string          `json:"guid"`
	Labels     json.RawMessage `json:"labels"`
}

func marshalRecord(rec StoredRecord) ([]byte, error) {
	labels, err := json.Marshal(rec.Labels)
	if err != nil {
		return nil, fmt.Errorf("serializing labels: %w", err)
	}
	return json.Marshal(boltRecord{Ciphertext: rec.Ciphertext, Guid: rec.Guid, Labels: labels})
}

func unmarshalRecord(data []byte) (StoredRecord, error) {
	var br boltRecord
	if err := json.Unmarshal(data, &br); err != nil {
		return StoredRecord{}, fmt.Errorf("%w: stored record is not valid JSON: %v", ErrBadData, err)
	}
	dec := json.NewDecoder(bytes.NewReader(br.Labels))
	dec.UseNumber()
	var raw Labels
	if err := dec.Decode(&raw); err != nil {
		return StoredRecord{}, fmt.Errorf("%w: stored labels are not valid JSON: %v", ErrBadData, err)
	}
	labels, err := normalizeLabels(raw)
	if err != nil {
		return StoredRecord{}, fmt.Errorf("%w: stored labels have unsupported values: %v", ErrBadData, err)
	}
	return StoredRecord{Ciphertext: br.Ciphertext, Guid: br.Guid, Labels: labels}, nil
}

// encodeLabelValue renders a normalized label value as an index bucket
// name: one type-tag byte, then the value.
func encodeLabelValue(value any) []byte {
	switch v := value.(type) {
	case nil:
		return []byte("n")
	case bool:
		return []byte("b" + strconv.FormatBool(v))
	case string:
		return append([]byte("s"), v...)
	case int64:
		return []byte("i" + strconv.FormatInt(v, 10))
	case float64:
		return []byte("f" + strconv.FormatFloat(v, 'g', -1, 64))
	default:
		// Labels are normalized before they reach the backend.
		panic(fmt.Sprintf("unnormalized label value %T", value))
	}
}

func (b *BoltBackend) CreateNamespace(_ context.Context, namespace string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists(namespacesBucket)
		if err != nil {
			return err
		}
		if root.Bucket([]byte(namespace)) != nil {
			return fmt.Errorf("namespace %q already exists: %w", namespace, ErrConflict)
		}
		ns, err := root.CreateBucket([]byte(namespace))
		if err != nil {
			return err
		}
		for _, name := range [][]byte{recordsBucket, labelsBucket, guidsBucket} {
			if _, err := ns.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BoltBackend) DeleteNamespace(_ context.Context, namespace string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(namespacesBucket)
		if root == nil || root.Bucket([]byte(namespace)) == nil {
			return fmt.Errorf("namespace %q: %w", namespace, ErrNotFound)
		}
		if err := root.DeleteBucket([]byte(namespace)); err != nil {
			return err
		}
		// Cascade over discovery keys pointing into the namespace.
		disc := tx.Bucket(discoveryBucket)
		if disc == nil {
			return nil
		}
		var stale [][]byte
		err := disc.ForEach(func(k, v []byte) error {
			var entry DiscoveryEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("%w: stored discovery entry is not valid JSON: %v", ErrBadData, err)
			}
			if entry.Namespace == namespace {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := disc.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BoltBackend) CheckNamespace(_ context.Context, namespace string) (bool, error) {
	var exists bool
	err := b.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(namespacesBucket)
		exists = root != nil && root.Bucket([]byte(namespace)) != nil
		return nil
	})
	return exists, err
}

func (b *BoltBackend) ListNamespaces(_ context.Context) ([]string, error) {
	var names []string
	err := b.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(namespacesBucket)
		if root == nil {
			return nil
		}
		return root.ForEachBucket(func(k []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}

func (b *BoltBackend) FindPrimaryKeys(_ context.Context, namespace string, guid string, labels Labels) (map[string]struct{}, error) {
	matches := make(pkSet)
	err := b.db.View(func(tx *bbolt.Tx) error {
		ns, err := namespaceBucket(tx, namespace)
		if err != nil {
			return err
		}
		if guid == "" && len(labels) == 0 {
			return ns.Bucket(recordsBucket).ForEach(func(k, _ []byte) error {
				matches[string(k)] = struct{}{}
				return nil
			})
		}

		var current pkSet
		if guid != "" {
			bucket := ns.Bucket(guidsBucket).Bucket([]byte(guid))
			if bucket == nil {
				return nil
			}
			current = bucketKeySet(bucket)
		}
		for key, value := range labels {
			byKey := ns.Bucket(labelsBucket).Bucket([]byte(key))
			if byKey == nil {
				return nil
			}
			bucket := byKey.Bucket(encodeLabelValue(value))
			if bucket == nil {
				return nil
			}
			set := bucketKeySet(bucket)
			if current == nil {
				current = set
			} else {
				current = current.intersect(set)
			}
		}
		matches = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	if matches == nil {
		matches = make(pkSet)
	}
	return matches, nil
}

func (b *BoltBackend) GetRecords(_ context.Context, namespace string, primaryKeys []string) (map[string]StoredRecord, error) {
	result := make(map[string]StoredRecord, len(primaryKeys))
	err := b.db.View(func(tx *bbolt.Tx) error {
		ns, err := namespaceBucket(tx, namespace)
		if err != nil {
			return err
		}
		records := ns.Bucket(recordsBucket)
		for _, pk := range primaryKeys {
			data := records.Get([]byte(pk))
			if data == nil {
				continue
			}
			rec, err := unmarshalRecord(data)
			if err != nil {
				return err
			}
			result[pk] = rec
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (b *BoltBackend) CheckPrimaryKey(_ context.Context, namespace string, primaryKey string) (bool, error) {
	var exists bool
	err := b.db.View(func(tx *bbolt.Tx) error {
		ns, err := namespaceBucket(tx, namespace)
		if err != nil {
			return err
		}
		exists = ns.Bucket(recordsBucket).Get([]byte(primaryKey)) != nil
		return nil
	})
	return exists, err
}

func (b *BoltBackend) InsertRecord(_ context.Context, namespace string, primaryKey string, rec StoredRecord) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		ns, err := namespaceBucket(tx, namespace)
		if err != nil {
			return err
		}
		records := ns.Bucket(recordsBucket)
		if records.Get([]byte(primaryKey)) != nil {
			return fmt.Errorf("primary key %q already exists: %w", primaryKey, ErrConflict)
		}
		data, err := marshalRecord(rec)
		if err != nil {
			return err
		}
		if err := records.Put([]byte(primaryKey), data); err != nil {
			return err
		}
		return indexRecord(ns, primaryKey, rec)
	})
}

func (b *BoltBackend) UpdateRecord(_ context.Context, namespace string, primaryKey string, rec StoredRecord) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		ns, err := namespaceBucket(tx, namespace)
		if err != nil {
			return err
		}
		records := ns.Bucket(recordsBucket)
		data := records.Get([]byte(primaryKey))
		if data == nil {
			return fmt.Errorf("primary key %q: %w", primaryKey, ErrNotFound)
		}
		current, err := unmarshalRecord(data)
		if err != nil {
			return err
		}
		if current.Guid != rec.Guid {
			return fmt.Errorf("%w: guid cannot be updated (have %q, got %q)", ErrBadData, current.Guid, rec.Guid)
		}
		if err := deindexRecord(ns, primaryKey, current); err != nil {
			return err
		}
		next, err := marshalRecord(rec)
		if err != nil {
			return err
		}
		if err := records.Put([]byte(primaryKey), next); err != nil {
			return err
		}
		return indexRecord(ns, primaryKey, rec)
	})
}

func (b *BoltBackend) DeleteRecord(_ context.Context, namespace string, primaryKey string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		ns, err := namespaceBucket(tx, namespace)
		if err != nil {
			return err
		}
		records := ns.Bucket(recordsBucket)
		data := records.Get([]byte(primaryKey))
		if data == nil {
			return fmt.Errorf("primary key %q: %w", primaryKey, ErrNotFound)
		}
		rec, err := unmarshalRecord(data)
		if err != nil {
			return err
		}
		if err := records.Delete([]byte(primaryKey)); err != nil {
			return err
		}
		return deindexRecord(ns, primaryKey, rec)
	})
}

func (b *BoltBackend) PutDiscovery(_ context.Context, key string, entry DiscoveryEntry) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(discoveryBucket)
		if err != nil {
			return err
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(key), data)
	})
}

func (b *BoltBackend) GetDiscovery(_ context.Context, key string) (DiscoveryEntry, bool, error) {
	var (
		entry DiscoveryEntry
		found bool
	)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(discoveryBucket)
		if bucket == nil {
			return nil
		}
		data := bucket.Get([]byte(key))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &entry); err != nil {
			return fmt.Errorf("%w: stored discovery entry is not valid JSON: %v", ErrBadData, err)
		}
		found = true
		return nil
	})
	return entry, found, err
}

func (b *BoltBackend) DeleteDiscovery(_ context.Context, key string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(discoveryBucket)
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(key))
	})
}

func namespaceBucket(tx *bbolt.Tx, namespace string) (*bbolt.Bucket, error) {
	root := tx.Bucket(namespacesBucket)
	if root == nil {
		return nil, fmt.Errorf("namespace %q: %w", namespace, ErrNotFound)
	}
	ns := root.Bucket([]byte(namespace))
	if ns == nil {
		return nil, fmt.Errorf("namespace %q: %w", namespace, ErrNotFound)
	}
	return ns, nil
}

func bucketKeySet(bucket *bbolt.Bucket) pkSet {
	set := make(pkSet)
	_ = bucket.ForEach(func(k, _ []byte) error {
		set[string(k)] = struct{}{}
		return nil
	})
	return set
}

// indexRecord inserts the pk into its guid bucket and one bucket per label
// pair, creating buckets as needed.
func indexRecord(ns *bbolt.Bucket, primaryKey string, rec StoredRecord) error {
	guidBucket, err := ns.Bucket(guidsBucket).CreateBucketIfNotExists([]byte(rec.Guid))
	if err != nil {
		return err
	}
	if err := guidBucket.Put([]byte(primaryKey), nil); err != nil {
		return err
	}
	for key, value := range rec.Labels {
		byKey, err := ns.Bucket(labelsBucket).CreateBucketIfNotExists([]byte(key))
		if err != nil {
			return err
		}
		valueBucket, err := byKey.CreateBucketIfNotExists(encodeLabelValue(value))
		if err != nil {
			return err
		}
		if err := valueBucket.Put([]byte(primaryKey), nil); err != nil {
			return err
		}
	}
	return nil
}

// deindexRecord removes the pk from its guid and label buckets, pruning
// buckets that become empty.
func deindexRecord(ns *bbolt.Bucket, primaryKey string, rec StoredRecord) error {
	guids := ns.Bucket(guidsBucket)
	if bucket := guids.Bucket([]byte(rec.Guid)); bucket != nil {
		if err := bucket.Delete([]byte(primaryKey)); err != nil {
			return err
		}
		if bucketEmpty(bucket) {
			if err := guids.DeleteBucket([]byte(rec.Guid)); err != nil {
				return err
			}
		}
	}
	labels := ns.Bucket(labelsBucket)
	for key, value := range rec.Labels {
		byKey := labels.Bucket([]byte(key))
		if byKey == nil {
			continue
		}
		encoded := encodeLabelValue(value)
		bucket := byKey.Bucket(encoded)
		if bucket == nil {
			continue
		}
		if err := bucket.Delete([]byte(primaryKey)); err != nil {
			return err
		}
		if bucketEmpty(bucket) {
			if err := byKey.DeleteBucket(encoded); err != nil {
				return err
			}
		}
		if bucketEmpty(byKey) {
			if err := labels.DeleteBucket([]byte(key)); err != nil {
				return err
			}
		}
	}
	return nil
}

func bucketEmpty(bucket *bbolt.Bucket) bool {
	k, _ := bucket.Cursor().First()
	return k == nil
}
