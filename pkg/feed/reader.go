package feed

import (
	"context"
	"sort"
	"sync"
)

// Page is one slice of the feed plus whether older rows remain.
type Page struct {
	Messages []Message
	HasMore  bool
}

// Reader loads feed pages from durable storage. A nil cursor requests the
// newest page; a non-nil cursor requests rows strictly older than that
// position.
type Reader interface {
	Page(ctx context.Context, eventID string, before *Cursor, limit int) (Page, error)
}

// MemoryReader is an in-memory Reader for tests and local development.
type MemoryReader struct {
	mu       sync.Mutex
	messages []Message
}

// NewMemoryReader creates an empty in-memory reader.
func NewMemoryReader() *MemoryReader {
	return &MemoryReader{}
}

// Add stores messages for later reads.
func (r *MemoryReader) Add(messages ...Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, messages...)
}

// Remove drops a message by id.
func (r *MemoryReader) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.messages[:0]
	for _, m := range r.messages {
		if m.ID != id {
			kept = append(kept, m)
		}
	}
	r.messages = kept
}

// Page implements Reader.
func (r *MemoryReader) Page(ctx context.Context, eventID string, cursor *Cursor, limit int) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}

	r.mu.Lock()
	matched := make([]Message, 0, len(r.messages))
	for _, m := range r.messages {
		if m.EventID != eventID {
			continue
		}
		if cursor != nil && !olderThan(m, *cursor) {
			continue
		}
		matched = append(matched, m)
	}
	r.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool { return before(matched[i], matched[j]) })

	page := Page{HasMore: len(matched) > limit}
	if page.HasMore {
		matched = matched[:limit]
	}
	page.Messages = matched
	return page, nil
}

var _ Reader = (*MemoryReader)(nil)
