package recognition

import (
	"fmt"
	"log"
	"slices"
	"sync"
)

// Default cache settings.
const (
	DefaultSkipInterval = 3
	DefaultTTL          = 3
)

// Cache decides when to re-run the expensive pipeline and holds the results of
// the last full pass until their TTL runs out.
//
// An entry stored with TTL k survives exactly k calls to Age and is dropped on
// the next one.
type Cache struct {
	mu       sync.Mutex
	interval int
	ttl      int
	counter  int
	entries  []CachedDetection
}

// NewCache creates a cache. Both interval and ttl must be at least 1.
func NewCache(interval, ttl int) (*Cache, error) {
	if err := checkSettings(interval, ttl); err != nil {
		return nil, err
	}
	c := &Cache{interval: interval, ttl: ttl}
	c.warnIfFlickering()
	return c, nil
}

func checkSettings(interval, ttl int) error {
	if interval < 1 {
		return fmt.Errorf("%w: skip interval must be at least 1, got %d", ErrInvalidConfig, interval)
	}
	if ttl < 1 {
		return fmt.Errorf("%w: ttl must be at least 1, got %d", ErrInvalidConfig, ttl)
	}
	return nil
}

// TTLWarning returns a non-empty message when results expire before the next full pass.
func TTLWarning(interval, ttl int) string {
	if ttl < interval {
		return fmt.Sprintf("cache TTL %d is shorter than skip interval %d; overlays will flicker between passes", ttl, interval)
	}
	return ""
}

func (c *Cache) warnIfFlickering() {
	if msg := TTLWarning(c.interval, c.ttl); msg != "" {
		log.Printf("Warning: %s", msg)
	}
}

// Age decrements every entry's TTL, dropping those whose TTL had already reached zero.
func (c *Cache) Age() {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.entries[:0]
	for _, e := range c.entries {
		if e.TTL <= 0 {
			continue
		}
		e.TTL--
		kept = append(kept, e)
	}
	clear(c.entries[len(kept):])
	c.entries = kept
}

// NeedsRefresh advances the frame counter and reports whether this frame needs
// a full pass: either the counter reached the skip interval or the cache is empty.
// The counter restarts whenever a refresh is due.
func (c *Cache) NeedsRefresh() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.counter++
	if c.counter >= c.interval || len(c.entries) == 0 {
		c.counter = 0
		return true
	}
	return false
}

// Replace swaps in the results of a full pass. Entries get the current TTL.
func (c *Cache) Replace(entries []CachedDetection) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make([]CachedDetection, len(entries))
	for i, e := range entries {
		e.TTL = c.ttl
		c.entries[i] = e
	}
}

// Entries returns a copy of the cached detections.
func (c *Cache) Entries() []CachedDetection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.entries)
}

// Len returns the number of cached detections.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Settings returns the skip interval and TTL.
func (c *Cache) Settings() (interval, ttl int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval, c.ttl
}

// SetInterval changes the skip interval. The frame counter restarts.
func (c *Cache) SetInterval(interval int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := checkSettings(interval, c.ttl); err != nil {
		return err
	}
	c.interval = interval
	c.counter = 0
	c.warnIfFlickering()
	return nil
}

// SetTTL changes the TTL given to entries stored from now on.
func (c *Cache) SetTTL(ttl int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := checkSettings(c.interval, ttl); err != nil {
		return err
	}
	c.ttl = ttl
	c.warnIfFlickering()
	return nil
}

// Reset drops all entries and restarts the frame counter.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
	c.counter = 0
}
