package channels

import (
	"context"
	"fmt"
	"sync"
)

// MemorySender is an in-memory Sender for testing and local development.
// Outcomes are scripted per address: unscripted addresses succeed.
type MemorySender struct {
	name string

	mu       sync.Mutex
	failures map[string]error
	sent     []Outbound
	refSeq   int
}

// NewMemorySender creates a scriptable sender reporting the given channel
// name.
func NewMemorySender(name string) *MemorySender {
	return &MemorySender{
		name:     name,
		failures: make(map[string]error),
	}
}

// FailAddress scripts a failure for every send to the given address.
func (s *MemorySender) FailAddress(address string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[address] = err
}

// Sent returns a copy of every outbound the sender has accepted.
func (s *MemorySender) Sent() []Outbound {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Outbound, len(s.sent))
	copy(out, s.sent)
	return out
}

// Name implements Sender.
func (s *MemorySender) Name() string { return s.name }

// SendBatch implements Sender.
func (s *MemorySender) SendBatch(ctx context.Context, batch []Outbound) []Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]Result, len(batch))
	for i, out := range batch {
		results[i] = Result{GuestID: out.GuestID, Address: out.Address}

		if out.Address == "" {
			results[i].Err = ErrEmptyAddress
			continue
		}
		if err, scripted := s.failures[out.Address]; scripted {
			results[i].Err = err
			continue
		}

		s.sent = append(s.sent, out)
		s.refSeq++
		results[i].Success = true
		results[i].ProviderRef = fmt.Sprintf("%s-ref-%d", s.name, s.refSeq)
	}
	return results
}
