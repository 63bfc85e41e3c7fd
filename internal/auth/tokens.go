// Package auth holds the client's authentication state: where the bearer
// token lives and whether the user is currently considered authenticated.
package auth

import (
	"errors"
	"sync"

	"github.com/caravel-sh/caravel/internal/secrets"
)

// TokenStore is the authority for "is a token currently available".
// Implementations must be safe for concurrent use.
type TokenStore interface {
	// SetToken stores the bearer token, replacing any existing one.
	SetToken(token string) error

	// Token returns the stored bearer token, or "" when none is available.
	Token() string

	// HasToken reports whether a token is currently available.
	HasToken() bool

	// ClearToken removes the stored token. Clearing an empty store is not
	// an error.
	ClearToken() error
}

// MemoryStore keeps the token in process memory only. This is the default
// store and the analogue of the browser's per-tab session storage.
type MemoryStore struct {
	mu    sync.RWMutex
	token string
}

// NewMemoryStore creates an empty in-memory token store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) SetToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

func (s *MemoryStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *MemoryStore) HasToken() bool {
	return s.Token() != ""
}

func (s *MemoryStore) ClearToken() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	return nil
}

// SecretsStore persists the token through the platform secret store so it
// survives process restarts.
type SecretsStore struct {
	store secrets.SecretStore
}

// NewSecretsStore creates a token store backed by the given secret store.
func NewSecretsStore(store secrets.SecretStore) *SecretsStore {
	return &SecretsStore{store: store}
}

func (s *SecretsStore) SetToken(token string) error {
	return s.store.Set(secrets.ServiceName, secrets.AccountAccessToken, token)
}

func (s *SecretsStore) Token() string {
	token, err := s.store.Get(secrets.ServiceName, secrets.AccountAccessToken)
	if err != nil {
		return ""
	}
	return token
}

func (s *SecretsStore) HasToken() bool {
	return s.Token() != ""
}

func (s *SecretsStore) ClearToken() error {
	err := s.store.Delete(secrets.ServiceName, secrets.AccountAccessToken)
	if errors.Is(err, secrets.ErrNotFound) {
		return nil
	}
	return err
}

// NewStore returns the best available token store for the platform: the
// system keychain when supported, otherwise in-process memory.
func NewStore() TokenStore {
	if secrets.IsSupported() {
		return NewSecretsStore(secrets.Default())
	}
	return NewMemoryStore()
}
