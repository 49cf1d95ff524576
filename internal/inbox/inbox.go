// Package inbox remembers which provider messages have been fully handled so a
// webhook redelivery is acknowledged without replaying its effects.
package inbox

import (
	"context"
	"sync"
	"time"
)

// Deduper records handled message IDs for a bounded time.
type Deduper interface {
	Seen(ctx context.Context, messageID string) (bool, error)
	Mark(ctx context.Context, messageID string) error
}

// MemoryDeduper is a process-local Deduper.
type MemoryDeduper struct {
	mu      sync.Mutex
	handled map[string]time.Time // message ID -> expiry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryDeduper creates a MemoryDeduper remembering IDs for ttl.
func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{
		handled: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Seen implements Deduper.
func (d *MemoryDeduper) Seen(ctx context.Context, messageID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	exp, ok := d.handled[messageID]
	if !ok {
		return false, nil
	}
	if d.now().After(exp) {
		delete(d.handled, messageID)
		return false, nil
	}
	return true, nil
}

// Mark implements Deduper. Expired entries are swept on the way.
func (d *MemoryDeduper) Mark(ctx context.Context, messageID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for id, exp := range d.handled {
		if now.After(exp) {
			delete(d.handled, id)
		}
	}
	d.handled[messageID] = now.Add(d.ttl)
	return nil
}
