package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisTransport carries change events over Redis pub/sub. Each channel
// subscribes to its topic and decodes messages as Event JSON; events that
// fail the channel's filter are dropped before the handler sees them.
type RedisTransport struct {
	client redis.UniversalClient

	mu    sync.Mutex
	token string
}

// NewRedisTransport wraps an established Redis client. The caller owns the
// client's lifecycle.
func NewRedisTransport(client redis.UniversalClient) (*RedisTransport, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	return &RedisTransport{client: client}, nil
}

type redisChannel struct {
	sub    *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
}

func (c *redisChannel) Close() error {
	c.cancel()
	err := c.sub.Close()
	<-c.done
	return err
}

// Open implements Transport. The join completes once Redis confirms the
// subscription; the context bounds that handshake.
func (t *RedisTransport) Open(ctx context.Context, cfg ChannelConfig, h ChannelHandlers) (Channel, error) {
	if h.OnEvent == nil {
		return nil, ErrHandlerNil
	}

	sub := t.client.Subscribe(ctx, cfg.Topic)

	// Receive blocks until the subscription is confirmed or ctx expires,
	// which gives Open its join-timeout semantics.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	ch := &redisChannel{sub: sub, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(ch.done)
		msgs := sub.Channel()
		for {
			select {
			case <-streamCtx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					if streamCtx.Err() == nil && h.OnError != nil {
						h.OnError(ErrChannelClosed)
					}
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				if cfg.Matches(ev) {
					h.OnEvent(ev)
				}
			}
		}
	}()

	return ch, nil
}

// SetAuth implements Transport. Redis connections authenticate at dial
// time, so the token is retained for observability only; a credential
// rotation takes effect through the client's connection pool.
func (t *RedisTransport) SetAuth(token string) {
	t.mu.Lock()
	t.token = token
	t.mu.Unlock()
}

// Publish encodes and publishes an event on topic. Producers (the delivery
// pipeline, backend triggers) use this to feed subscribers.
func (t *RedisTransport) Publish(ctx context.Context, topic string, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return t.client.Publish(ctx, topic, payload).Err()
}

var _ Transport = (*RedisTransport)(nil)
