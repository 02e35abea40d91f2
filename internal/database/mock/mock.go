// Package mock provides mock implementations of storage interfaces for testing.
package mock

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/database"
)

// MockIdentityStore is an in-memory database.IdentityStore
type MockIdentityStore struct {
	mu          sync.RWMutex
	identities  []database.Identity
	diagnostics []database.Diagnostic
	persisted   bool
	saves       int

	// Error injection
	SaveError error
	LoadError error
}

// NewMockIdentityStore creates an empty store. Load reports ErrStoreNotFound
// until something is saved or seeded.
func NewMockIdentityStore() *MockIdentityStore {
	return &MockIdentityStore{}
}

// Seed replaces the stored identities and load diagnostics.
func (m *MockIdentityStore) Seed(identities []database.Identity, diagnostics ...database.Diagnostic) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities = cloneIdentities(identities)
	m.diagnostics = diagnostics
	m.persisted = true
}

// Save stores a copy of identities
func (m *MockIdentityStore) Save(ctx context.Context, identities []database.Identity) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities = cloneIdentities(identities)
	m.diagnostics = nil
	m.persisted = true
	m.saves++
	return nil
}

// Load returns the stored identities
func (m *MockIdentityStore) Load(ctx context.Context) ([]database.Identity, []database.Diagnostic, error) {
	if m.LoadError != nil {
		return nil, nil, m.LoadError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.persisted {
		return nil, nil, database.ErrStoreNotFound
	}
	return cloneIdentities(m.identities), slices.Clone(m.diagnostics), nil
}

// Identities returns what was last saved
func (m *MockIdentityStore) Identities() []database.Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneIdentities(m.identities)
}

// Saves returns the number of successful Save calls
func (m *MockIdentityStore) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

func cloneIdentities(in []database.Identity) []database.Identity {
	out := make([]database.Identity, len(in))
	for i, id := range in {
		id.Embedding = slices.Clone(id.Embedding)
		out[i] = id
	}
	return out
}

// MockSink is an in-memory attendance.Sink and attendance.Lister
type MockSink struct {
	mu     sync.RWMutex
	events []attendance.Event

	// Error injection
	RecordError error
	ListError   error
}

// NewMockSink creates an empty sink
func NewMockSink() *MockSink {
	return &MockSink{}
}

// Record stores an event
func (m *MockSink) Record(ctx context.Context, event attendance.Event) error {
	if m.RecordError != nil {
		return m.RecordError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// List returns events at or after since, newest first
func (m *MockSink) List(ctx context.Context, since time.Time, limit int) ([]attendance.Event, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []attendance.Event
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].Timestamp.Before(since) {
			continue
		}
		result = append(result, m.events[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

// Events returns all recorded events in order
func (m *MockSink) Events() []attendance.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.events)
}
