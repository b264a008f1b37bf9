package guestlist

import (
	"context"
	"sync"
)

// MemoryDirectory is an in-memory Directory for testing and local
// development.
type MemoryDirectory struct {
	mu     sync.RWMutex
	guests map[string][]Guest // keyed by event ID
}

// NewMemoryDirectory creates an empty in-memory guest directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		guests: make(map[string][]Guest),
	}
}

// AddGuests attaches guests to an event.
func (d *MemoryDirectory) AddGuests(eventID string, guests ...Guest) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.guests[eventID] = append(d.guests[eventID], guests...)
}

// ListGuests implements Directory.
func (d *MemoryDirectory) ListGuests(ctx context.Context, eventID string) ([]Guest, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Guest, len(d.guests[eventID]))
	copy(out, d.guests[eventID])
	return out, nil
}
