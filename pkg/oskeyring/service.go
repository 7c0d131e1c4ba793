// Package oskeyring abstracts the operating system keyring used by the CLI
// to hold store encryption keys outside of files and environment variables.
package oskeyring

import (
	"errors"
	"fmt"

	keyringlib "github.com/zalando/go-keyring"
)

// ErrNotFound is returned by Get when the requested secret is not found.
var ErrNotFound = errors.New("secret not found in keyring")

// Service is the interface to the OS keyring. It exists so commands can be
// tested without touching the real keyring.
type Service interface {
	// Get retrieves a secret for a given service and user. Returns
	// ErrNotFound when the secret does not exist.
	Get(service, user string) (string, error)
	// Set stores a secret for a given service and user.
	Set(service, user, password string) error
	// Delete removes a secret. Deleting an absent secret is not an error.
	Delete(service, user string) error
}

// DefaultService backs Service with zalando/go-keyring.
type DefaultService struct{}

func NewDefaultService() *DefaultService {
	return &DefaultService{}
}

func (s *DefaultService) Get(service, user string) (string, error) {
	secret, err := keyringlib.Get(service, user)
	if err != nil {
		if errors.Is(err, keyringlib.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get secret from OS keyring: %w", err)
	}
	return secret, nil
}

func (s *DefaultService) Set(service, user, password string) error {
	return keyringlib.Set(service, user, password)
}

func (s *DefaultService) Delete(service, user string) error {
	return keyringlib.Delete(service, user)
}

var _ Service = (*DefaultService)(nil)

// MemoryService is an in-memory Service for tests.
type MemoryService struct {
	secrets map[string]string
}

func NewMemoryService() *MemoryService {
	return &MemoryService{secrets: make(map[string]string)}
}

func (s *MemoryService) Get(service, user string) (string, error) {
	secret, ok := s.secrets[service+"/"+user]
	if !ok {
		return "", ErrNotFound
	}
	return secret, nil
}

func (s *MemoryService) Set(service, user, password string) error {
	s.secrets[service+"/"+user] = password
	return nil
}

func (s *MemoryService) Delete(service, user string) error {
	delete(s.secrets, service+"/"+user)
	return nil
}

var _ Service = (*MemoryService)(nil)
