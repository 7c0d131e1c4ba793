package instore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// KeyType says which public flow a discovery key correlates.
type KeyType string

const (
	KeyTypeCallback KeyType = "callback"
	KeyTypeWebhook  KeyType = "webhook"
)

func (t KeyType) valid() bool {
	return t == KeyTypeCallback || t == KeyTypeWebhook
}

// DiscoveryKey describes a discovery key to assign to a record. Key is
// optional; a random one is generated when empty. One-time keys are
// consumed on their first successful resolution, persistent keys resolve
// repeatably.
type DiscoveryKey struct {
	PrimaryKey string
	Guid       string
	Type       KeyType
	Key        string
	OneTime    bool
}

// Discovery is what a discovery key resolves to. Namespace is in caller
// form ("" for the default namespace) so it can be passed straight back
// into record operations.
type Discovery struct {
	PrimaryKey string
	Namespace  string
}

// FormatDiscoveryKey builds the full, namespaced form a discovery key is
// stored and resolved under.
func FormatDiscoveryKey(guid string, keyType KeyType, key string) string {
	return fmt.Sprintf("%s:%s:%s", guid, keyType, key)
}

// AssignDiscoveryKey stores a discovery key pointing at an existing record
// and returns the bare key (the caller reconstructs the full form with
// FormatDiscoveryKey, typically inside a webhook route). ErrNotFound when
// the record does not exist.
func (s *Store) AssignDiscoveryKey(ctx context.Context, namespace string, dk DiscoveryKey) (string, error) {
	if dk.Guid == "" {
		return "", fmt.Errorf("%w: guid is required", ErrInvalidArgument)
	}
	if !dk.Type.valid() {
		return "", fmt.Errorf("%w: unknown discovery key type %q", ErrInvalidArgument, dk.Type)
	}
	ns, err := s.requireNamespace(ctx, namespace)
	if err != nil {
		return "", err
	}
	exists, err := s.backend.CheckPrimaryKey(ctx, ns, dk.PrimaryKey)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("primary key %q: %w", dk.PrimaryKey, ErrNotFound)
	}

	key := dk.Key
	if key == "" {
		key = uuid.NewString()
	}
	fullKey := FormatDiscoveryKey(dk.Guid, dk.Type, key)
	// The resolved name is stored so DeleteNamespace can cascade by exact
	// match; resolution converts it back to caller form.
	entry := DiscoveryEntry{
		PrimaryKey: dk.PrimaryKey,
		Namespace:  ns,
		OneTime:    dk.OneTime,
	}
	if err := s.backend.PutDiscovery(ctx, fullKey, entry); err != nil {
		return "", err
	}
	s.logger.Debug("discovery key assigned",
		"namespace", ns, "primary_key", dk.PrimaryKey, "type", dk.Type, "one_time", dk.OneTime)
	return key, nil
}

// InstanceDiscovery resolves a full discovery key to the record it points
// at. ErrNotFound for unknown keys. A one-time key is deleted atomically
// with the successful lookup, so a second resolution fails.
func (s *Store) InstanceDiscovery(ctx context.Context, fullKey string) (Discovery, error) {
	s.discoveryMu.Lock()
	defer s.discoveryMu.Unlock()

	entry, ok, err := s.backend.GetDiscovery(ctx, fullKey)
	if err != nil {
		return Discovery{}, err
	}
	if !ok {
		return Discovery{}, fmt.Errorf("discovery key: %w", ErrNotFound)
	}
	if entry.OneTime {
		if err := s.backend.DeleteDiscovery(ctx, fullKey); err != nil {
			return Discovery{}, err
		}
		s.logger.Debug("one-time discovery key consumed", "primary_key", entry.PrimaryKey)
	}
	namespace := entry.Namespace
	if namespace == s.defaultNamespace {
		namespace = ""
	}
	return Discovery{PrimaryKey: entry.PrimaryKey, Namespace: namespace}, nil
}
