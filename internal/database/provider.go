package database

import (
	"context"
	"errors"
	"sync"
)

var (
	backendMu             sync.RWMutex
	postgresIdentityStore func() IdentityStore
)

// RegisterPostgresBackend registers the PostgreSQL identity store constructor.
// This is called by the postgres package to avoid import cycles.
func RegisterPostgresBackend(identityStore func() IdentityStore) {
	backendMu.Lock()
	defer backendMu.Unlock()
	postgresIdentityStore = identityStore
}

// IsInitialized returns whether the PostgreSQL backend has been initialized.
func IsInitialized() bool {
	backendMu.RLock()
	defer backendMu.RUnlock()
	return postgresIdentityStore != nil
}

// GetIdentityStore returns the identity store for the named backend: "postgres"
// for the registered PostgreSQL store, anything else for a file store at path.
func GetIdentityStore(_ context.Context, backend, path string, dim int) (IdentityStore, error) {
	if backend != "postgres" {
		return NewFileStore(path, dim), nil
	}

	backendMu.RLock()
	defer backendMu.RUnlock()
	if postgresIdentityStore == nil {
		return nil, errors.New("PostgreSQL backend not initialized: DATABASE_URL is required")
	}
	return postgresIdentityStore(), nil
}
