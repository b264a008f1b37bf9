package realtime_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vowsuite/vowsuite/pkg/realtime"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type statusRecorder struct {
	mu       sync.Mutex
	statuses []realtime.Status
}

func (r *statusRecorder) record(s realtime.Status) {
	r.mu.Lock()
	r.statuses = append(r.statuses, s)
	r.mu.Unlock()
}

func (r *statusRecorder) last() realtime.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return ""
	}
	return r.statuses[len(r.statuses)-1]
}

func (r *statusRecorder) has(want realtime.Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.statuses {
		if s == want {
			return true
		}
	}
	return false
}

type managerEnv struct {
	transport *realtime.MemoryTransport
	sched     *realtime.ManualScheduler
	clock     *fakeClock
	mgr       *realtime.Manager
}

func newManagerEnv(t *testing.T, cfg realtime.Config, opts ...realtime.ManagerOption) *managerEnv {
	t.Helper()

	env := &managerEnv{
		transport: realtime.NewMemoryTransport(),
		sched:     realtime.NewManualScheduler(),
		clock:     newFakeClock(),
	}
	all := append([]realtime.ManagerOption{
		realtime.WithScheduler(env.sched),
		realtime.WithClock(env.clock.Now),
	}, opts...)

	mgr, err := realtime.NewManager(env.transport, cfg, all...)
	require.NoError(t, err)
	env.mgr = mgr
	t.Cleanup(func() { _ = mgr.Close() })
	return env
}

func (e *managerEnv) waitActive(t *testing.T, rec *statusRecorder) {
	t.Helper()
	require.Eventually(t, func() bool {
		return rec.last() == realtime.StatusActive
	}, time.Second, 2*time.Millisecond)
}

func (e *managerEnv) waitPending(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return e.sched.Pending() >= n
	}, time.Second, 2*time.Millisecond)
}

func TestNewManager(t *testing.T) {
	t.Parallel()

	t.Run("nil transport", func(t *testing.T) {
		t.Parallel()

		_, err := realtime.NewManager(nil, realtime.DefaultConfig())
		require.ErrorIs(t, err, realtime.ErrTransportNil)
	})

	t.Run("nil data handler", func(t *testing.T) {
		t.Parallel()

		env := newManagerEnv(t, realtime.DefaultConfig())
		_, err := env.mgr.Subscribe("s1", realtime.SubscriptionConfig{})
		require.ErrorIs(t, err, realtime.ErrHandlerNil)
	})
}

func TestManager_SubscribeAndReceive(t *testing.T) {
	t.Parallel()

	env := newManagerEnv(t, realtime.DefaultConfig())

	var (
		mu     sync.Mutex
		events []realtime.Event
	)
	rec := &statusRecorder{}
	_, err := env.mgr.Subscribe("feed", realtime.SubscriptionConfig{
		Channel: realtime.ChannelConfig{
			Topic: "events:ev1",
			Table: "messages",
			Type:  realtime.EventAll,
		},
		OnData: func(ev realtime.Event) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		},
		OnStatusChange: rec.record,
	})
	require.NoError(t, err)
	env.waitActive(t, rec)

	env.transport.Emit(realtime.Event{Type: realtime.EventInsert, Table: "messages"})
	env.transport.Emit(realtime.Event{Type: realtime.EventInsert, Table: "deliveries"}) // filtered out

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, "messages", events[0].Table)
	assert.True(t, rec.has(realtime.StatusConnecting))
}

func TestManager_SubscribeIdempotent(t *testing.T) {
	t.Parallel()

	env := newManagerEnv(t, realtime.DefaultConfig())

	rec := &statusRecorder{}
	cfg := realtime.SubscriptionConfig{
		Channel:        realtime.ChannelConfig{Topic: "events:ev1"},
		OnData:         func(realtime.Event) {},
		OnStatusChange: rec.record,
	}
	teardown1, err := env.mgr.Subscribe("feed", cfg)
	require.NoError(t, err)
	env.waitActive(t, rec)

	teardown2, err := env.mgr.Subscribe("feed", cfg)
	require.NoError(t, err)

	// Second subscribe reuses the live channel instead of opening another.
	assert.Equal(t, 1, env.transport.OpenCount("events:ev1"))
	assert.Equal(t, 1, env.transport.OpenChannels())

	// Either teardown closes the one underlying subscription.
	teardown2()
	assert.Equal(t, 0, env.transport.OpenChannels())
	teardown1() // second call no-ops
	assert.Equal(t, 0, env.transport.OpenChannels())
}

func TestManager_BackoffSequence(t *testing.T) {
	t.Parallel()

	env := newManagerEnv(t, realtime.DefaultConfig())
	env.transport.FailJoins("events:ev1", 4, errors.New("join refused"))

	var (
		mu       sync.Mutex
		terminal []error
	)
	rec := &statusRecorder{}
	_, err := env.mgr.Subscribe("feed", realtime.SubscriptionConfig{
		Channel:        realtime.ChannelConfig{Topic: "events:ev1"},
		OnData:         func(realtime.Event) {},
		OnError: func(err error) {
			mu.Lock()
			terminal = append(terminal, err)
			mu.Unlock()
		},
		OnStatusChange: rec.record,
	})
	require.NoError(t, err)

	// First failure schedules the base delay; each further consecutive
	// failure grows it by the multiplier.
	env.waitPending(t, 1)
	for _, want := range []time.Duration{
		2 * time.Second,
		3 * time.Second,
		4500 * time.Millisecond,
	} {
		delay, ok := env.sched.NextDelay()
		require.True(t, ok)
		assert.Equal(t, want, delay)
		env.sched.Advance(delay)
	}

	// Fourth failure exhausts the ceiling: no further retry, one terminal
	// error surfaced.
	_, ok := env.sched.NextDelay()
	assert.False(t, ok)
	assert.Equal(t, realtime.StatusFailed, rec.last())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, terminal, 1)
	assert.ErrorIs(t, terminal[0], realtime.ErrRetryExhausted)
	assert.Equal(t, 4, env.transport.OpenCount("events:ev1"))
}

func TestManager_BackoffCapped(t *testing.T) {
	t.Parallel()

	cfg := realtime.DefaultConfig()
	cfg.BackoffCap = 3 * time.Second
	env := newManagerEnv(t, cfg)
	env.transport.FailJoins("events:ev1", 3, errors.New("join refused"))

	_, err := env.mgr.Subscribe("feed", realtime.SubscriptionConfig{
		Channel: realtime.ChannelConfig{Topic: "events:ev1"},
		OnData:  func(realtime.Event) {},
	})
	require.NoError(t, err)

	env.waitPending(t, 1)
	for _, want := range []time.Duration{
		2 * time.Second,
		3 * time.Second, // capped
		3 * time.Second, // still capped
	} {
		delay, ok := env.sched.NextDelay()
		require.True(t, ok)
		assert.Equal(t, want, delay)
		env.sched.Advance(delay)
	}
}

func TestManager_ErrorContainment(t *testing.T) {
	t.Parallel()

	env := newManagerEnv(t, realtime.DefaultConfig())
	env.transport.FailJoins("events:bad", 10, errors.New("join refused"))

	var (
		mu       sync.Mutex
		received int
	)
	healthyRec := &statusRecorder{}
	_, err := env.mgr.Subscribe("healthy", realtime.SubscriptionConfig{
		Channel: realtime.ChannelConfig{Topic: "events:good"},
		OnData: func(realtime.Event) {
			mu.Lock()
			received++
			mu.Unlock()
		},
		OnStatusChange: healthyRec.record,
	})
	require.NoError(t, err)
	env.waitActive(t, healthyRec)

	badRec := &statusRecorder{}
	_, err = env.mgr.Subscribe("broken", realtime.SubscriptionConfig{
		Channel:        realtime.ChannelConfig{Topic: "events:bad"},
		OnData:         func(realtime.Event) {},
		OnStatusChange: badRec.record,
	})
	require.NoError(t, err)

	// Drive the broken subscription to terminal failure.
	env.waitPending(t, 1)
	env.sched.FireAll()
	env.sched.FireAll()
	env.sched.FireAll()
	require.Equal(t, realtime.StatusFailed, badRec.last())

	// The healthy sibling never noticed.
	assert.Equal(t, realtime.StatusActive, healthyRec.last())
	env.transport.Emit(realtime.Event{Type: realtime.EventInsert, Table: "messages"})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, received)
}

func TestManager_NoRetryAfterUnsubscribe(t *testing.T) {
	t.Parallel()

	env := newManagerEnv(t, realtime.DefaultConfig())
	env.transport.FailJoins("events:ev1", 1, errors.New("join refused"))

	rec := &statusRecorder{}
	teardown, err := env.mgr.Subscribe("feed", realtime.SubscriptionConfig{
		Channel:        realtime.ChannelConfig{Topic: "events:ev1"},
		OnData:         func(realtime.Event) {},
		OnStatusChange: rec.record,
	})
	require.NoError(t, err)

	env.waitPending(t, 1)
	teardown()

	// The pending retry was cancelled with the subscription.
	assert.Equal(t, 0, env.sched.Pending())
	env.sched.Advance(time.Minute)
	assert.Equal(t, 1, env.transport.OpenCount("events:ev1"))
	assert.Equal(t, realtime.StatusClosed, rec.last())
}

func TestManager_MidStreamDropReconnects(t *testing.T) {
	t.Parallel()

	env := newManagerEnv(t, realtime.DefaultConfig())

	rec := &statusRecorder{}
	_, err := env.mgr.Subscribe("feed", realtime.SubscriptionConfig{
		Channel:        realtime.ChannelConfig{Topic: "events:ev1"},
		OnData:         func(realtime.Event) {},
		OnStatusChange: rec.record,
	})
	require.NoError(t, err)
	env.waitActive(t, rec)

	env.transport.Drop("events:ev1", errors.New("connection reset"))
	require.Equal(t, realtime.StatusReconnecting, rec.last())

	// The dead handle is the manager's to release; the transport only
	// reported the error.
	require.Eventually(t, func() bool {
		return env.transport.OpenChannels() == 0
	}, time.Second, 2*time.Millisecond)

	delay, ok := env.sched.NextDelay()
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, delay)

	env.sched.Advance(delay)
	assert.Equal(t, realtime.StatusActive, rec.last())
	assert.Equal(t, 2, env.transport.OpenCount("events:ev1"))
	assert.Equal(t, 1, env.transport.OpenChannels())
}

func TestManager_CircuitBreaker(t *testing.T) {
	t.Parallel()

	env := newManagerEnv(t, realtime.DefaultConfig())
	env.transport.FailJoins("events:a", 4, errors.New("join refused"))
	env.transport.FailJoins("events:b", 4, errors.New("join refused"))

	for _, id := range []string{"a", "b"} {
		_, err := env.mgr.Subscribe(id, realtime.SubscriptionConfig{
			Channel: realtime.ChannelConfig{Topic: "events:" + id},
			OnData:  func(realtime.Event) {},
		})
		require.NoError(t, err)
	}

	// Exhaust both: 8 errors total, past the threshold of 5.
	env.waitPending(t, 2)
	env.sched.FireAll()
	env.sched.FireAll()
	env.sched.FireAll()
	require.Equal(t, 0, env.sched.Pending())

	// The breaker is open: coordinated reconnects are suppressed.
	err := env.mgr.ReconnectAll(context.Background())
	require.ErrorIs(t, err, realtime.ErrCooldownActive)
	assert.Equal(t, 4, env.transport.OpenCount("events:a"))

	// After the cooldown the sweep goes through and the (now healthy)
	// topics rejoin.
	env.clock.Advance(31 * time.Second)
	require.NoError(t, env.mgr.ReconnectAll(context.Background()))
	require.Eventually(t, func() bool {
		return env.transport.OpenChannels() == 2
	}, time.Second, 2*time.Millisecond)
}

func TestManager_CircuitBreakerReArms(t *testing.T) {
	t.Parallel()

	env := newManagerEnv(t, realtime.DefaultConfig())
	env.transport.FailJoins("events:a", 20, errors.New("join refused"))
	env.transport.FailJoins("events:b", 20, errors.New("join refused"))

	for _, id := range []string{"a", "b"} {
		_, err := env.mgr.Subscribe(id, realtime.SubscriptionConfig{
			Channel: realtime.ChannelConfig{Topic: "events:" + id},
			OnData:  func(realtime.Event) {},
		})
		require.NoError(t, err)
	}

	env.waitPending(t, 2)
	env.sched.FireAll()
	env.sched.FireAll()
	env.sched.FireAll()
	require.ErrorIs(t, env.mgr.ReconnectAll(context.Background()), realtime.ErrCooldownActive)

	// The window expires while the outage is still on: the sweep goes
	// through, its rejoins fail, and those failures must open a fresh
	// cooldown rather than leave the breaker disarmed for good.
	env.clock.Advance(31 * time.Second)
	require.NoError(t, env.mgr.ReconnectAll(context.Background()))
	env.waitPending(t, 2) // both rejoins failed and scheduled retries
	require.ErrorIs(t, env.mgr.ReconnectAll(context.Background()), realtime.ErrCooldownActive)

	// The fresh window expires like the first.
	env.clock.Advance(31 * time.Second)
	require.NoError(t, env.mgr.ReconnectAll(context.Background()))
}

func TestManager_ColdReconnect(t *testing.T) {
	t.Parallel()

	var (
		refreshMu    sync.Mutex
		refreshCount int
	)
	cfg := realtime.DefaultConfig()
	cfg.TimeoutThreshold = 2
	cfg.JoinTimeoutForeground = 15 * time.Millisecond

	env := newManagerEnv(t, cfg, realtime.WithTokenRefresher(
		func(context.Context) (string, error) {
			refreshMu.Lock()
			refreshCount++
			refreshMu.Unlock()
			return "fresh-token", nil
		},
	))
	env.transport.TimeoutJoins("events:ev1", 3)

	rec := &statusRecorder{}
	_, err := env.mgr.Subscribe("feed", realtime.SubscriptionConfig{
		Channel:        realtime.ChannelConfig{Topic: "events:ev1"},
		OnData:         func(realtime.Event) {},
		OnStatusChange: rec.record,
	})
	require.NoError(t, err)

	// Two timeouts stay under the threshold and retry normally.
	env.waitPending(t, 1)
	env.sched.FireAll()
	env.waitPending(t, 1)
	env.sched.FireAll()

	// The third consecutive timeout crosses it: one credential refresh,
	// then a staggered rejoin.
	require.Eventually(t, func() bool {
		refreshMu.Lock()
		defer refreshMu.Unlock()
		return refreshCount == 1
	}, time.Second, 2*time.Millisecond)
	assert.Equal(t, []string{"fresh-token"}, env.transport.AuthTokens())

	env.waitPending(t, 1)
	env.sched.FireAll()
	env.waitActive(t, rec)
	assert.Equal(t, 1, env.transport.OpenChannels())

	refreshMu.Lock()
	defer refreshMu.Unlock()
	assert.Equal(t, 1, refreshCount)
}

func TestManager_HealthScore(t *testing.T) {
	t.Parallel()

	t.Run("empty manager is healthy", func(t *testing.T) {
		t.Parallel()

		env := newManagerEnv(t, realtime.DefaultConfig())
		assert.Equal(t, 100, env.mgr.HealthScore())
	})

	t.Run("stable subscription scores high", func(t *testing.T) {
		t.Parallel()

		env := newManagerEnv(t, realtime.DefaultConfig())
		rec := &statusRecorder{}
		_, err := env.mgr.Subscribe("feed", realtime.SubscriptionConfig{
			Channel:        realtime.ChannelConfig{Topic: "events:ev1"},
			OnData:         func(realtime.Event) {},
			OnStatusChange: rec.record,
		})
		require.NoError(t, err)
		env.waitActive(t, rec)

		// Active and complete, but not yet stable.
		assert.Equal(t, 75, env.mgr.HealthScore())

		env.clock.Advance(2 * time.Minute)
		assert.Equal(t, 80, env.mgr.HealthScore())
	})

	t.Run("failed subscriptions score low", func(t *testing.T) {
		t.Parallel()

		env := newManagerEnv(t, realtime.DefaultConfig())
		env.transport.FailJoins("events:ev1", 10, errors.New("join refused"))
		_, err := env.mgr.Subscribe("feed", realtime.SubscriptionConfig{
			Channel: realtime.ChannelConfig{Topic: "events:ev1"},
			OnData:  func(realtime.Event) {},
		})
		require.NoError(t, err)

		env.waitPending(t, 1)
		env.sched.FireAll()
		env.sched.FireAll()
		env.sched.FireAll()

		h := env.mgr.Health()
		assert.Equal(t, 0, h.Score)
		assert.Equal(t, 0, h.ActiveSubscriptions)
		assert.Equal(t, 1, h.TotalSubscriptions)
		assert.Equal(t, 4, h.GlobalErrors)
	})
}

func TestManager_CheckHealthTriggersReconnect(t *testing.T) {
	t.Parallel()

	env := newManagerEnv(t, realtime.DefaultConfig())
	env.transport.FailJoins("events:ev1", 4, errors.New("join refused"))

	_, err := env.mgr.Subscribe("feed", realtime.SubscriptionConfig{
		Channel: realtime.ChannelConfig{Topic: "events:ev1"},
		OnData:  func(realtime.Event) {},
	})
	require.NoError(t, err)

	env.waitPending(t, 1)
	env.sched.FireAll()
	env.sched.FireAll()
	env.sched.FireAll()
	require.Equal(t, 4, env.transport.OpenCount("events:ev1"))

	// Past any cooldown, a low score forces a coordinated reconnect that
	// recovers the failed subscription.
	env.clock.Advance(time.Minute)
	score := env.mgr.CheckHealth(context.Background())
	assert.Less(t, score, 40)
	require.Eventually(t, func() bool {
		return env.transport.OpenChannels() == 1
	}, time.Second, 2*time.Millisecond)
}

func TestManager_DebouncedSignals(t *testing.T) {
	t.Parallel()

	env := newManagerEnv(t, realtime.DefaultConfig())

	// A burst of lifecycle signals coalesces into one pending check.
	env.mgr.NotifyVisibility(true)
	env.mgr.NotifyVisibility(true)
	env.mgr.NotifyOnline(true)
	env.mgr.NotifyOnline(true)
	assert.Equal(t, 1, env.sched.Pending())

	env.sched.Advance(500 * time.Millisecond)
	assert.Equal(t, 0, env.sched.Pending())
}

func TestManager_Close(t *testing.T) {
	t.Parallel()

	env := newManagerEnv(t, realtime.DefaultConfig())

	rec := &statusRecorder{}
	_, err := env.mgr.Subscribe("feed", realtime.SubscriptionConfig{
		Channel:        realtime.ChannelConfig{Topic: "events:ev1"},
		OnData:         func(realtime.Event) {},
		OnStatusChange: rec.record,
	})
	require.NoError(t, err)
	env.waitActive(t, rec)

	require.NoError(t, env.mgr.Close())
	assert.Equal(t, 0, env.transport.OpenChannels())
	assert.Equal(t, realtime.StatusClosed, rec.last())

	_, err = env.mgr.Subscribe("late", realtime.SubscriptionConfig{
		Channel: realtime.ChannelConfig{Topic: "events:ev2"},
		OnData:  func(realtime.Event) {},
	})
	require.ErrorIs(t, err, realtime.ErrManagerClosed)
	assert.ErrorIs(t, env.mgr.ReconnectAll(context.Background()), realtime.ErrManagerClosed)
	require.NoError(t, env.mgr.Close()) // idempotent
}
