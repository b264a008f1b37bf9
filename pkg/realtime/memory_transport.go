package realtime

import (
	"context"
	"sync"
)

// MemoryTransport is an in-process Transport for tests and local
// development. Join outcomes are scriptable per topic and delivered events
// are fanned out to every open channel whose config matches.
type MemoryTransport struct {
	mu       sync.Mutex
	channels map[int]*memoryChannel
	seq      int

	failures map[string]int   // topic -> remaining joins to fail
	timeouts map[string]int   // topic -> remaining joins to hang
	failErr  map[string]error // topic -> error returned by failed joins

	opens  map[string]int // topic -> join attempts observed
	tokens []string
}

// NewMemoryTransport creates an empty in-process transport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		channels: make(map[int]*memoryChannel),
		failures: make(map[string]int),
		timeouts: make(map[string]int),
		failErr:  make(map[string]error),
		opens:    make(map[string]int),
	}
}

type memoryChannel struct {
	t      *MemoryTransport
	id     int
	cfg    ChannelConfig
	h      ChannelHandlers
	closed bool
}

func (c *memoryChannel) Close() error {
	c.t.mu.Lock()
	defer c.t.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	delete(c.t.channels, c.id)
	return nil
}

// Open implements Transport.
func (t *MemoryTransport) Open(ctx context.Context, cfg ChannelConfig, h ChannelHandlers) (Channel, error) {
	t.mu.Lock()
	t.opens[cfg.Topic]++

	if n := t.timeouts[cfg.Topic]; n > 0 {
		t.timeouts[cfg.Topic] = n - 1
		t.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if n := t.failures[cfg.Topic]; n > 0 {
		t.failures[cfg.Topic] = n - 1
		err := t.failErr[cfg.Topic]
		t.mu.Unlock()
		if err == nil {
			err = ErrChannelClosed
		}
		return nil, err
	}

	t.seq++
	ch := &memoryChannel{t: t, id: t.seq, cfg: cfg, h: h}
	t.channels[t.seq] = ch
	t.mu.Unlock()
	return ch, nil
}

// SetAuth implements Transport; tokens are retained for inspection.
func (t *MemoryTransport) SetAuth(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens = append(t.tokens, token)
}

// FailJoins makes the next n joins on topic fail with err (ErrChannelClosed
// when err is nil).
func (t *MemoryTransport) FailJoins(topic string, n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[topic] = n
	t.failErr[topic] = err
}

// TimeoutJoins makes the next n joins on topic block until the caller's
// context expires.
func (t *MemoryTransport) TimeoutJoins(topic string, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeouts[topic] = n
}

// Emit fans an event out to every open channel whose config matches.
func (t *MemoryTransport) Emit(ev Event) {
	t.mu.Lock()
	handlers := make([]func(Event), 0, len(t.channels))
	for _, ch := range t.channels {
		if ch.cfg.Matches(ev) && ch.h.OnEvent != nil {
			handlers = append(handlers, ch.h.OnEvent)
		}
	}
	t.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Drop simulates a mid-stream failure: the error handler of every open
// channel on topic is invoked. The handles stay open — like a real
// transport, tearing the dead stream down is the subscriber's job.
func (t *MemoryTransport) Drop(topic string, err error) {
	if err == nil {
		err = ErrChannelClosed
	}
	t.mu.Lock()
	dropped := make([]*memoryChannel, 0, len(t.channels))
	for _, ch := range t.channels {
		if ch.cfg.Topic == topic {
			dropped = append(dropped, ch)
		}
	}
	t.mu.Unlock()

	for _, ch := range dropped {
		if ch.h.OnError != nil {
			ch.h.OnError(err)
		}
	}
}

// OpenCount returns how many join attempts topic has seen.
func (t *MemoryTransport) OpenCount(topic string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opens[topic]
}

// OpenChannels returns the number of currently open channels.
func (t *MemoryTransport) OpenChannels() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.channels)
}

// AuthTokens returns every credential set on the transport, in order.
func (t *MemoryTransport) AuthTokens() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.tokens))
	copy(out, t.tokens)
	return out
}

var _ Transport = (*MemoryTransport)(nil)
