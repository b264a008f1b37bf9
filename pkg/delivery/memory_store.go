package delivery

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type recordKey struct {
	messageID string
	guestID   string
}

// MemoryStore implements Store in memory for testing and local development.
type MemoryStore struct {
	mu        sync.RWMutex
	scheduled map[string]*ScheduledMessage
	messages  map[string]*Message
	records   map[recordKey]*DeliveryRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		scheduled: make(map[string]*ScheduledMessage),
		messages:  make(map[string]*Message),
		records:   make(map[recordKey]*DeliveryRecord),
	}
}

// AddScheduled seeds a scheduled message.
func (s *MemoryStore) AddScheduled(sm ScheduledMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sm.Status == "" {
		sm.Status = StatusScheduled
	}
	cp := sm
	s.scheduled[sm.ID] = &cp
}

// GetScheduled returns a copy of a scheduled message.
func (s *MemoryStore) GetScheduled(id string) (ScheduledMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sm, ok := s.scheduled[id]
	if !ok {
		return ScheduledMessage{}, false
	}
	return *sm, true
}

// Messages returns a copy of every durable message, oldest first.
func (s *MemoryStore) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// DueScheduled implements Store.
func (s *MemoryStore) DueScheduled(ctx context.Context, now time.Time, limit int) ([]ScheduledMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	due := make([]ScheduledMessage, 0)
	for _, sm := range s.scheduled {
		if sm.Status == StatusScheduled && !sm.SendAt.After(now) {
			due = append(due, *sm)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].SendAt.Before(due[j].SendAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// ClaimScheduled implements Store.
func (s *MemoryStore) ClaimScheduled(ctx context.Context, id string) (*ScheduledMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sm, ok := s.scheduled[id]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	if sm.Status != StatusScheduled {
		return nil, fmt.Errorf("%w: status is %s", ErrAlreadyClaimed, sm.Status)
	}

	sm.Status = StatusSending
	sm.Version++
	sm.UpdatedAt = time.Now()

	claimed := *sm
	return &claimed, nil
}

// CancelScheduled implements Store.
func (s *MemoryStore) CancelScheduled(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sm, ok := s.scheduled[id]
	if !ok {
		return ErrScheduleNotFound
	}
	if !CanTransition(sm.Status, StatusCancelled) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sm.Status, StatusCancelled)
	}

	sm.Status = StatusCancelled
	sm.Version++
	sm.UpdatedAt = time.Now()
	return nil
}

// CreateMessage implements Store.
func (s *MemoryStore) CreateMessage(ctx context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.messages[msg.ID]; exists {
		return fmt.Errorf("%w: %s", ErrMessageExists, msg.ID)
	}
	cp := msg
	s.messages[msg.ID] = &cp
	return nil
}

// UpsertDeliveryRecord implements Store. The same (message, guest) key
// overwrites in place; CreatedAt of the first write is preserved.
func (s *MemoryStore) UpsertDeliveryRecord(ctx context.Context, rec DeliveryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{messageID: rec.MessageID, guestID: rec.GuestID}
	now := time.Now()

	if existing, ok := s.records[key]; ok {
		rec.CreatedAt = existing.CreatedAt
		rec.UpdatedAt = now
		*existing = rec
		return nil
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	cp := rec
	s.records[key] = &cp
	return nil
}

// DeliveryRecords implements Store.
func (s *MemoryStore) DeliveryRecords(ctx context.Context, messageID string) ([]DeliveryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]DeliveryRecord, 0)
	for key, rec := range s.records {
		if key.messageID == messageID {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GuestID < out[j].GuestID })
	return out, nil
}

// FinalizeScheduled implements Store.
func (s *MemoryStore) FinalizeScheduled(ctx context.Context, id string, status ScheduleStatus, success, failed int, errDetail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sm, ok := s.scheduled[id]
	if !ok {
		return ErrScheduleNotFound
	}
	if !CanTransition(sm.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sm.Status, status)
	}

	sm.Status = status
	sm.SuccessCount = success
	sm.FailureCount = failed
	sm.ErrorDetail = errDetail
	sm.Version++
	sm.UpdatedAt = time.Now()
	return nil
}
