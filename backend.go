package instore

import "context"

// DiscoveryEntry is the stored form of a discovery key. Namespace is the
// resolved namespace name so DeleteNamespace can cascade over discovery
// keys by exact match.
type DiscoveryEntry struct {
	PrimaryKey string `json:"primary_key"`
	Namespace  string `json:"namespace"`
	OneTime    bool   `json:"one_time"`
}

// Backend is the low-level persistence contract the Store composes. The
// in-memory implementation is the reference and acceptance oracle: any
// durable backend must reproduce its observable behavior for every
// operation and error.
//
// Namespaces arrive pre-resolved (actual names, never ""). Backends do not
// enforce compound-operation atomicity across calls; the Store serializes
// writes per namespace. Each individual call must still appear atomic, in
// particular the index updates within a mutation.
type Backend interface {
	// CreateNamespace creates a namespace. ErrConflict if it exists.
	CreateNamespace(ctx context.Context, namespace string) error
	// DeleteNamespace removes a namespace with all its records and
	// indices, plus every discovery key pointing into it. ErrNotFound if
	// it does not exist.
	DeleteNamespace(ctx context.Context, namespace string) error
	// CheckNamespace reports whether a namespace exists.
	CheckNamespace(ctx context.Context, namespace string) (bool, error)
	// ListNamespaces returns every namespace name, in no particular order.
	ListNamespaces(ctx context.Context) ([]string, error)

	// FindPrimaryKeys resolves the index: with no guid ("") and no labels
	// it returns every primary key in the namespace, otherwise the AND
	// intersection of the guid bucket and each label bucket. The result is
	// a defensive copy.
	FindPrimaryKeys(ctx context.Context, namespace string, guid string, labels Labels) (map[string]struct{}, error)
	// GetRecords fetches the stored records for the given primary keys.
	// Keys with no stored record are omitted from the result, so a caller
	// holding a match set a concurrent delete has since invalidated sees a
	// plain miss rather than an error.
	GetRecords(ctx context.Context, namespace string, primaryKeys []string) (map[string]StoredRecord, error)
	// CheckPrimaryKey reports whether a primary key exists in a namespace.
	CheckPrimaryKey(ctx context.Context, namespace string, primaryKey string) (bool, error)
	// InsertRecord stores a record under a new primary key and indexes it.
	// ErrConflict if the key already exists.
	InsertRecord(ctx context.Context, namespace string, primaryKey string, rec StoredRecord) error
	// UpdateRecord replaces an existing record, deindexing its old state
	// and indexing the new. ErrNotFound if the key does not exist,
	// ErrBadData on an attempt to change the record's guid.
	UpdateRecord(ctx context.Context, namespace string, primaryKey string, rec StoredRecord) error
	// DeleteRecord removes a record and its index entries. ErrNotFound if
	// the key does not exist.
	DeleteRecord(ctx context.Context, namespace string, primaryKey string) error

	// PutDiscovery stores a discovery entry under its full key,
	// overwriting any previous entry.
	PutDiscovery(ctx context.Context, key string, entry DiscoveryEntry) error
	// GetDiscovery looks up a discovery entry. The boolean reports
	// presence; an absent key is not an error at this layer.
	GetDiscovery(ctx context.Context, key string) (DiscoveryEntry, bool, error)
	// DeleteDiscovery removes a discovery entry if present.
	DeleteDiscovery(ctx context.Context, key string) error
}
