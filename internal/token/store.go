package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned by Get when no value is stored under the key.
var ErrNotFound = errors.New("token store: key not found")

// Store is a key-value lookup for serialized credentials. Get runs on every
// proxied request, so implementations must be safe for concurrent use and
// must re-read the backing storage rather than cache across calls. Set
// exists for the external token-setup flow and for tests; the proxy itself
// never writes.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Close() error
}

// NewStore builds the store selected by backend: "file", "sqlite" or
// "memory". The memory backend ignores path.
func NewStore(backend, path string) (Store, error) {
	switch backend {
	case "file":
		return NewFileStore(path), nil
	case "sqlite":
		return OpenSQLiteStore(path)
	case "memory":
		return NewMemStore(), nil
	default:
		return nil, fmt.Errorf("unknown token store backend %q", backend)
	}
}

// MemStore is an in-memory Store for development and tests.
type MemStore struct {
	mu sync.RWMutex
	m  map[string]string
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{m: make(map[string]string)}
}

// Get returns the value stored under key.
func (s *MemStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Set stores value under key.
func (s *MemStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
	return nil
}

// Close is a no-op.
func (s *MemStore) Close() error { return nil }
