// Package attendance turns recognized identities into de-duplicated presence
// events and writes them to an attendance log.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCooldown is the minimum time between two events for the same identity.
const DefaultCooldown = 10 * time.Second

// Event is one attendance record.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Label     int64     `json:"label"`
	Name      string    `json:"name"`
}

// NewEvent creates an event with a fresh ID.
func NewEvent(label int64, name string, at time.Time) Event {
	return Event{
		ID:        uuid.New(),
		Timestamp: at,
		Label:     label,
		Name:      name,
	}
}

// Sink stores attendance events.
type Sink interface {
	Record(ctx context.Context, event Event) error
}

// Lister is implemented by sinks that can read back recent events.
type Lister interface {
	List(ctx context.Context, since time.Time, limit int) ([]Event, error)
}

// Debouncer decides whether an identity seen now should produce a new event.
type Debouncer struct {
	mu       sync.Mutex
	cooldown time.Duration
	last     map[int64]time.Time
}

// NewDebouncer creates a debouncer. A negative cooldown is treated as zero.
func NewDebouncer(cooldown time.Duration) *Debouncer {
	return &Debouncer{
		cooldown: max(cooldown, 0),
		last:     make(map[int64]time.Time),
	}
}

// Cooldown returns the configured cooldown.
func (d *Debouncer) Cooldown() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cooldown
}

// SetCooldown changes the cooldown for subsequent decisions.
func (d *Debouncer) SetCooldown(cooldown time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cooldown = max(cooldown, 0)
}

// ShouldLog reports whether label should be logged at now. On true the label's
// last emission time is set to now; on false nothing changes. Labels <= 0 are
// never logged.
func (d *Debouncer) ShouldLog(label int64, now time.Time) bool {
	if label <= 0 {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if last, seen := d.last[label]; seen && now.Sub(last) < d.cooldown {
		return false
	}
	d.last[label] = now
	return true
}

// LastSeen returns the last emission time for label.
func (d *Debouncer) LastSeen(label int64) (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.last[label]
	return t, ok
}

// Forget drops the state for label, e.g. after the identity was deleted.
func (d *Debouncer) Forget(label int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.last, label)
}

// Reset clears all state.
func (d *Debouncer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last = make(map[int64]time.Time)
}

// ErrSinkUnavailable is returned by a sink that could not be opened.
var ErrSinkUnavailable = errors.New("attendance sink unavailable")

type unavailableSink struct {
	cause error
}

// NewUnavailableSink returns a Sink that fails every Record with cause, so a
// server can keep recognizing while its attendance log is broken.
func NewUnavailableSink(cause error) Sink {
	return unavailableSink{cause: cause}
}

func (s unavailableSink) Record(_ context.Context, event Event) error {
	return fmt.Errorf("%w: event %s for label %d: %w", ErrSinkUnavailable, event.ID, event.Label, s.cause)
}
