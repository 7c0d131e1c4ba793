// Package instore is a namespaced, encrypted, label-searchable store for
// per-tenant integration instance records. Records are identified by an
// opaque primary key, tagged with a guid (integration type) and searchable
// scalar labels, and persisted as a single authenticated-encrypted blob in
// which the privileged admin object has been replaced by an integrity hash.
// Discovery keys resolve opaque public tokens back to records for stateless
// callback and webhook flows.
package instore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/mscno/instore/pkg/crypto"
)

// DefaultNamespace is the reserved namespace name. Callers address it by
// passing an empty namespace; supplying the literal name is an error.
const DefaultNamespace = "default"

// Store is the public contract: CRUD, label search, namespace lifecycle and
// discovery keys, composed from a Backend and an encryption keyring. All
// dependencies are constructor-injected; there is no package-level state.
type Store struct {
	backend Backend
	keyring *crypto.Keyring
	logger  *slog.Logger

	defaultNamespace string

	// Writes are serialized per namespace so compound sequences such as
	// "find existing match, then insert or update" cannot interleave.
	locksMu sync.Mutex
	nsLocks map[string]*sync.Mutex

	// The discovery keyspace is flat, so one-time check-and-delete is
	// guarded by a single lock.
	discoveryMu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New builds a Store over the given backend and keyring.
func New(backend Backend, keyring *crypto.Keyring, opts ...Option) *Store {
	s := &Store{
		backend:          backend,
		keyring:          keyring,
		logger:           slog.Default(),
		defaultNamespace: DefaultNamespace,
		nsLocks:          make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lockNamespace returns the write lock for a resolved namespace, creating
// it on first use. Locks are never removed; namespaces are few.
func (s *Store) lockNamespace(namespace string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	mu, ok := s.nsLocks[namespace]
	if !ok {
		mu = &sync.Mutex{}
		s.nsLocks[namespace] = mu
	}
	return mu
}

// resolveNamespace maps the caller-form namespace to the actual name: ""
// means the default namespace, and naming the default explicitly is
// rejected so there is exactly one spelling for it.
func (s *Store) resolveNamespace(namespace string) (string, error) {
	if namespace == "" {
		return s.defaultNamespace, nil
	}
	if namespace == s.defaultNamespace {
		return "", fmt.Errorf("%w: namespace %q is reserved, pass an empty namespace instead", ErrInvalidArgument, s.defaultNamespace)
	}
	return namespace, nil
}

// requireNamespace resolves a namespace and fails with ErrNotFound when it
// does not exist.
func (s *Store) requireNamespace(ctx context.Context, namespace string) (string, error) {
	ns, err := s.resolveNamespace(namespace)
	if err != nil {
		return "", err
	}
	exists, err := s.backend.CheckNamespace(ctx, ns)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("namespace %q: %w", ns, ErrNotFound)
	}
	return ns, nil
}

// CreateNamespace creates a namespace. ErrConflict when it already exists.
func (s *Store) CreateNamespace(ctx context.Context, namespace string) error {
	ns, err := s.resolveNamespace(namespace)
	if err != nil {
		return err
	}
	if err := s.backend.CreateNamespace(ctx, ns); err != nil {
		return err
	}
	s.logger.Debug("namespace created", "namespace", ns)
	return nil
}

// DeleteNamespace removes a namespace together with all its records,
// indices and discovery keys. ErrNotFound when it does not exist.
func (s *Store) DeleteNamespace(ctx context.Context, namespace string) error {
	ns, err := s.resolveNamespace(namespace)
	if err != nil {
		return err
	}
	mu := s.lockNamespace(ns)
	mu.Lock()
	defer mu.Unlock()
	if err := s.backend.DeleteNamespace(ctx, ns); err != nil {
		return err
	}
	s.logger.Debug("namespace deleted", "namespace", ns)
	return nil
}

// CheckNamespace reports whether a namespace exists.
func (s *Store) CheckNamespace(ctx context.Context, namespace string) (bool, error) {
	ns, err := s.resolveNamespace(namespace)
	if err != nil {
		return false, err
	}
	return s.backend.CheckNamespace(ctx, ns)
}

// ResolveNamespace returns the actual namespace name, or ErrNotFound when
// it does not exist. Mostly useful to turn "" into the default name.
func (s *Store) ResolveNamespace(ctx context.Context, namespace string) (string, error) {
	return s.requireNamespace(ctx, namespace)
}

// EnsureNamespace creates the namespace if it is absent and returns its
// actual name. Idempotent.
func (s *Store) EnsureNamespace(ctx context.Context, namespace string) (string, error) {
	ns, err := s.resolveNamespace(namespace)
	if err != nil {
		return "", err
	}
	exists, err := s.backend.CheckNamespace(ctx, ns)
	if err != nil {
		return "", err
	}
	if exists {
		return ns, nil
	}
	if err := s.backend.CreateNamespace(ctx, ns); err != nil {
		// A concurrent writer may have created it between the check and
		// the create; that is still the ensured state.
		if errors.Is(err, ErrConflict) {
			return ns, nil
		}
		return "", err
	}
	s.logger.Debug("namespace created", "namespace", ns)
	return ns, nil
}

// ListNamespaces returns every namespace name. Callers fanning an operation
// out over the result should note that such fan-outs are not atomic: a
// failure partway through leaves earlier namespaces already mutated.
func (s *Store) ListNamespaces(ctx context.Context) ([]string, error) {
	names, err := s.backend.ListNamespaces(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// prepare validates an item and seals its bundle for storage.
func (s *Store) prepare(item Item) (StoredRecord, error) {
	if item.Guid == "" {
		return StoredRecord{}, fmt.Errorf("%w: guid is required", ErrInvalidArgument)
	}
	labels, err := normalizeLabels(item.Labels)
	if err != nil {
		return StoredRecord{}, err
	}
	ciphertext, err := seal(s.keyring, item.Value)
	if err != nil {
		return StoredRecord{}, err
	}
	return StoredRecord{Ciphertext: ciphertext, Guid: item.Guid, Labels: labels}, nil
}

// PutByPrimaryKey stores an item under an explicit primary key, creating
// the namespace if needed. An existing record is updated in place
// (deindexed, re-encrypted, reindexed); otherwise the item is inserted.
// Returns the primary key.
func (s *Store) PutByPrimaryKey(ctx context.Context, namespace string, primaryKey string, item Item) (string, error) {
	return s.putByPrimaryKey(ctx, namespace, primaryKey, item, false)
}

// UpdateByPrimaryKey is PutByPrimaryKey restricted to existing records:
// ErrNotFound when the primary key is absent.
func (s *Store) UpdateByPrimaryKey(ctx context.Context, namespace string, primaryKey string, item Item) (string, error) {
	return s.putByPrimaryKey(ctx, namespace, primaryKey, item, true)
}

func (s *Store) putByPrimaryKey(ctx context.Context, namespace string, primaryKey string, item Item, mustExist bool) (string, error) {
	if primaryKey == "" {
		return "", fmt.Errorf("%w: primary key is required", ErrInvalidArgument)
	}
	rec, err := s.prepare(item)
	if err != nil {
		return "", err
	}
	ns, err := s.EnsureNamespace(ctx, namespace)
	if err != nil {
		return "", err
	}

	mu := s.lockNamespace(ns)
	mu.Lock()
	defer mu.Unlock()

	exists, err := s.backend.CheckPrimaryKey(ctx, ns, primaryKey)
	if err != nil {
		return "", err
	}
	if exists {
		if err := s.backend.UpdateRecord(ctx, ns, primaryKey, rec); err != nil {
			return "", err
		}
		s.logger.Debug("record updated", "namespace", ns, "primary_key", primaryKey, "guid", item.Guid)
		return primaryKey, nil
	}
	if mustExist {
		return "", fmt.Errorf("primary key %q: %w", primaryKey, ErrNotFound)
	}
	if err := s.backend.InsertRecord(ctx, ns, primaryKey, rec); err != nil {
		return "", err
	}
	s.logger.Debug("record inserted", "namespace", ns, "primary_key", primaryKey, "guid", item.Guid)
	return primaryKey, nil
}

// PutByLabels stores an item keyed by its (guid, labels) identity: no
// existing match inserts under a freshly generated primary key, exactly one
// match updates that record, and multiple matches is ErrConflict since it
// means a prior invariant violation. Returns the primary key.
func (s *Store) PutByLabels(ctx context.Context, namespace string, item Item) (string, error) {
	rec, err := s.prepare(item)
	if err != nil {
		return "", err
	}
	ns, err := s.EnsureNamespace(ctx, namespace)
	if err != nil {
		return "", err
	}

	mu := s.lockNamespace(ns)
	mu.Lock()
	defer mu.Unlock()

	matches, err := s.backend.FindPrimaryKeys(ctx, ns, item.Guid, rec.Labels)
	if err != nil {
		return "", err
	}
	existing, err := singleOrNoMatch(matches)
	if err != nil {
		return "", err
	}
	if existing != "" {
		if err := s.backend.UpdateRecord(ctx, ns, existing, rec); err != nil {
			return "", err
		}
		s.logger.Debug("record updated", "namespace", ns, "primary_key", existing, "guid", item.Guid)
		return existing, nil
	}
	primaryKey := uuid.NewString()
	if err := s.backend.InsertRecord(ctx, ns, primaryKey, rec); err != nil {
		return "", err
	}
	s.logger.Debug("record inserted", "namespace", ns, "primary_key", primaryKey, "guid", item.Guid)
	return primaryKey, nil
}

// GetByPrimaryKey fetches and decrypts one record. ErrNotFound when the
// primary key is absent.
func (s *Store) GetByPrimaryKey(ctx context.Context, namespace string, primaryKey string) (Result, error) {
	ns, err := s.requireNamespace(ctx, namespace)
	if err != nil {
		return Result{}, err
	}
	records, err := s.backend.GetRecords(ctx, ns, []string{primaryKey})
	if err != nil {
		return Result{}, err
	}
	rec, ok := records[primaryKey]
	if !ok {
		return Result{}, fmt.Errorf("primary key %q: %w", primaryKey, ErrNotFound)
	}
	return s.toResult(primaryKey, rec)
}

// GetByLabels resolves (guid, labels) to exactly one record. ErrNotFound
// on zero matches, ErrConflict on more than one.
func (s *Store) GetByLabels(ctx context.Context, namespace string, guid string, labels Labels) (Result, error) {
	ns, err := s.requireNamespace(ctx, namespace)
	if err != nil {
		return Result{}, err
	}
	normalized, err := normalizeLabels(labels)
	if err != nil {
		return Result{}, err
	}
	matches, err := s.backend.FindPrimaryKeys(ctx, ns, guid, normalized)
	if err != nil {
		return Result{}, err
	}
	primaryKey, err := singleMatch(matches)
	if err != nil {
		return Result{}, err
	}
	records, err := s.backend.GetRecords(ctx, ns, []string{primaryKey})
	if err != nil {
		return Result{}, err
	}
	rec, ok := records[primaryKey]
	if !ok {
		// Deleted between the index lookup and the fetch.
		return Result{}, fmt.Errorf("primary key %q: %w", primaryKey, ErrNotFound)
	}
	return s.toResult(primaryKey, rec)
}

// Search returns every decrypted record matching the guid ("" for any) and
// the partial label set, ANDed. Zero or many matches are both fine, which
// is what distinguishes Search from the single-match accessors. Results are
// ordered by primary key.
func (s *Store) Search(ctx context.Context, namespace string, guid string, partialLabels Labels) ([]Result, error) {
	ns, err := s.requireNamespace(ctx, namespace)
	if err != nil {
		return nil, err
	}
	normalized, err := normalizeLabels(partialLabels)
	if err != nil {
		return nil, err
	}
	matches, err := s.backend.FindPrimaryKeys(ctx, ns, guid, normalized)
	if err != nil {
		return nil, err
	}
	primaryKeys := make([]string, 0, len(matches))
	for pk := range matches {
		primaryKeys = append(primaryKeys, pk)
	}
	sort.Strings(primaryKeys)

	records, err := s.backend.GetRecords(ctx, ns, primaryKeys)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(primaryKeys))
	for _, pk := range primaryKeys {
		rec, ok := records[pk]
		if !ok {
			// Deleted between the index lookup and the fetch.
			continue
		}
		result, err := s.toResult(pk, rec)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

// DeleteByPrimaryKey removes a record and its index entries. Deleting an
// absent primary key is a silent no-op.
func (s *Store) DeleteByPrimaryKey(ctx context.Context, namespace string, primaryKey string) error {
	ns, err := s.requireNamespace(ctx, namespace)
	if err != nil {
		return err
	}

	mu := s.lockNamespace(ns)
	mu.Lock()
	defer mu.Unlock()

	exists, err := s.backend.CheckPrimaryKey(ctx, ns, primaryKey)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	if err := s.backend.DeleteRecord(ctx, ns, primaryKey); err != nil {
		return err
	}
	s.logger.Debug("record deleted", "namespace", ns, "primary_key", primaryKey)
	return nil
}

func (s *Store) toResult(primaryKey string, rec StoredRecord) (Result, error) {
	value, err := open(s.keyring, rec.Ciphertext)
	if err != nil {
		return Result{}, fmt.Errorf("record %q: %w", primaryKey, err)
	}
	return Result{
		PrimaryKey: primaryKey,
		Value:      value,
		Guid:       rec.Guid,
		Labels:     copyLabels(rec.Labels),
	}, nil
}

// singleMatch requires exactly one primary key in the match set.
func singleMatch(matches map[string]struct{}) (string, error) {
	pk, err := singleOrNoMatch(matches)
	if err != nil {
		return "", err
	}
	if pk == "" {
		return "", fmt.Errorf("no record matches the provided labels: %w", ErrNotFound)
	}
	return pk, nil
}

// singleOrNoMatch allows zero or one match; more than one means a prior
// uniqueness violation and is reported, never silently resolved.
func singleOrNoMatch(matches map[string]struct{}) (string, error) {
	if len(matches) > 1 {
		return "", fmt.Errorf("multiple records match the provided labels: %w", ErrConflict)
	}
	for pk := range matches {
		return pk, nil
	}
	return "", nil
}
