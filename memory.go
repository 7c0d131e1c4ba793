package instore

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBackend implements Backend over process memory. It is the reference
// implementation and the acceptance oracle for any durable backend. Every
// operation is synchronous; a single RWMutex makes each call atomic and
// allows concurrent reads. All reads hand out defensive copies.
type MemoryBackend struct {
	mu        sync.RWMutex
	records   map[string]map[string]StoredRecord // namespace -> primary key -> record
	indices   map[string]*namespaceIndex   // namespace -> label/guid index
	discovery map[string]DiscoveryEntry    // full key -> entry
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		records:   make(map[string]map[string]StoredRecord),
		indices:   make(map[string]*namespaceIndex),
		discovery: make(map[string]DiscoveryEntry),
	}
}

var _ Backend = (*MemoryBackend)(nil)

func (m *MemoryBackend) CreateNamespace(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[namespace]; exists {
		return fmt.Errorf("namespace %q already exists: %w", namespace, ErrConflict)
	}
	m.records[namespace] = make(map[string]StoredRecord)
	m.indices[namespace] = newNamespaceIndex()
	return nil
}

func (m *MemoryBackend) DeleteNamespace(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[namespace]; !exists {
		return fmt.Errorf("namespace %q: %w", namespace, ErrNotFound)
	}
	delete(m.records, namespace)
	delete(m.indices, namespace)
	for key, entry := range m.discovery {
		if entry.Namespace == namespace {
			delete(m.discovery, key)
		}
	}
	return nil
}

func (m *MemoryBackend) CheckNamespace(_ context.Context, namespace string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.records[namespace]
	return exists, nil
}

func (m *MemoryBackend) ListNamespaces(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.records))
	for namespace := range m.records {
		names = append(names, namespace)
	}
	return names, nil
}

func (m *MemoryBackend) FindPrimaryKeys(_ context.Context, namespace string, guid string, labels Labels) (map[string]struct{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byPK, index, err := m.namespaceLocked(namespace)
	if err != nil {
		return nil, err
	}
	matches := index.find(guid, labels)
	if matches == nil {
		// No constraints: every primary key in the namespace.
		matches = make(pkSet, len(byPK))
		for pk := range byPK {
			matches[pk] = struct{}{}
		}
	}
	return matches, nil
}

func (m *MemoryBackend) GetRecords(_ context.Context, namespace string, primaryKeys []string) (map[string]StoredRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byPK, _, err := m.namespaceLocked(namespace)
	if err != nil {
		return nil, err
	}
	result := make(map[string]StoredRecord, len(primaryKeys))
	for _, pk := range primaryKeys {
		rec, ok := byPK[pk]
		if !ok {
			continue
		}
		result[pk] = copyRecord(rec)
	}
	return result, nil
}

func (m *MemoryBackend) CheckPrimaryKey(_ context.Context, namespace string, primaryKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byPK, _, err := m.namespaceLocked(namespace)
	if err != nil {
		return false, err
	}
	_, exists := byPK[primaryKey]
	return exists, nil
}

func (m *MemoryBackend) InsertRecord(_ context.Context, namespace string, primaryKey string, rec StoredRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byPK, index, err := m.namespaceLocked(namespace)
	if err != nil {
		return err
	}
	if _, exists := byPK[primaryKey]; exists {
		return fmt.Errorf("primary key %q already exists: %w", primaryKey, ErrConflict)
	}
	byPK[primaryKey] = copyRecord(rec)
	index.index(primaryKey, rec.Guid, rec.Labels)
	return nil
}

func (m *MemoryBackend) UpdateRecord(_ context.Context, namespace string, primaryKey string, rec StoredRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byPK, index, err := m.namespaceLocked(namespace)
	if err != nil {
		return err
	}
	current, exists := byPK[primaryKey]
	if !exists {
		return fmt.Errorf("primary key %q: %w", primaryKey, ErrNotFound)
	}
	if current.Guid != rec.Guid {
		return fmt.Errorf("%w: guid cannot be updated (have %q, got %q)", ErrBadData, current.Guid, rec.Guid)
	}
	// Deindex the old state, then index the new. Never mutate in place.
	index.deindex(primaryKey, current.Guid, current.Labels)
	byPK[primaryKey] = copyRecord(rec)
	index.index(primaryKey, rec.Guid, rec.Labels)
	return nil
}

func (m *MemoryBackend) DeleteRecord(_ context.Context, namespace string, primaryKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byPK, index, err := m.namespaceLocked(namespace)
	if err != nil {
		return err
	}
	rec, exists := byPK[primaryKey]
	if !exists {
		return fmt.Errorf("primary key %q: %w", primaryKey, ErrNotFound)
	}
	delete(byPK, primaryKey)
	index.deindex(primaryKey, rec.Guid, rec.Labels)
	return nil
}

func (m *MemoryBackend) PutDiscovery(_ context.Context, key string, entry DiscoveryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discovery[key] = entry
	return nil
}

func (m *MemoryBackend) GetDiscovery(_ context.Context, key string) (DiscoveryEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.discovery[key]
	return entry, ok, nil
}

func (m *MemoryBackend) DeleteDiscovery(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.discovery, key)
	return nil
}

// namespaceLocked resolves the record map and index of a namespace. The
// caller must hold the mutex. A missing namespace is ErrNotFound; a
// namespace with records but no index is ErrBadData.
func (m *MemoryBackend) namespaceLocked(namespace string) (map[string]StoredRecord, *namespaceIndex, error) {
	byPK, ok := m.records[namespace]
	if !ok {
		return nil, nil, fmt.Errorf("namespace %q: %w", namespace, ErrNotFound)
	}
	index, ok := m.indices[namespace]
	if !ok {
		return nil, nil, fmt.Errorf("%w: namespace %q has records but no index", ErrBadData, namespace)
	}
	return byPK, index, nil
}

func copyRecord(rec StoredRecord) StoredRecord {
	ciphertext := make([]byte, len(rec.Ciphertext))
	copy(ciphertext, rec.Ciphertext)
	return StoredRecord{
		Ciphertext: ciphertext,
		Guid:       rec.Guid,
		Labels:     copyLabels(rec.Labels),
	}
}
