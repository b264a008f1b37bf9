package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vowsuite/vowsuite/pkg/logger"
)

// Status is the lifecycle state of one logical subscription.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusActive       Status = "active"
	StatusReconnecting Status = "reconnecting"
	StatusFailed       Status = "failed"
	StatusClosed       Status = "closed"
)

// SubscriptionConfig describes one logical subscription: the channel to
// join and the caller's callbacks. OnData is required. OnError receives
// terminal errors only (retry ceiling reached); transient failures are
// retried silently. OnStatusChange observes every state transition.
type SubscriptionConfig struct {
	Channel        ChannelConfig
	OnData         func(Event)
	OnError        func(error)
	OnStatusChange func(Status)
}

// Teardown cancels a subscription. Calling it more than once is safe.
type Teardown func()

// TokenRefresher obtains a fresh transport credential during cold recovery.
type TokenRefresher func(ctx context.Context) (string, error)

type errorRecord struct {
	err error
	at  time.Time
}

type subscription struct {
	id       string
	cfg      SubscriptionConfig
	teardown Teardown

	// epoch invalidates in-flight joins and pending retries when the
	// subscription is torn down or rebuilt.
	epoch int

	channel           Channel
	status            Status
	retryCount        int
	consecutiveErrors int
	lastBackoff       time.Duration
	lastSuccess       time.Time
	retryTimer        Timer
}

// Manager multiplexes many logical change-event subscriptions over one
// shared transport, giving each its own retry/backoff state while tracking
// global connection health: a circuit breaker suppresses reconnect storms
// and sustained timeouts trigger a full cold recovery with a credential
// refresh.
//
// All state is mutex-guarded; callbacks are always invoked outside the
// lock.
type Manager struct {
	transport Transport
	cfg       Config
	sched     Scheduler
	now       func() time.Time
	logger    *slog.Logger
	refresher TokenRefresher

	mu             sync.Mutex
	subs           map[string]*subscription
	globalErrors   int
	globalTimeouts int
	cooldownUntil  time.Time
	lastCold       time.Time
	foreground     bool
	joinSamples    []time.Duration
	lastErrors     map[string]errorRecord
	debounceTimer  Timer
	closed         bool

	// authMu collapses concurrent credential refreshes into one update.
	authMu sync.Mutex
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger for the Manager.
func WithManagerLogger(log *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = log
	}
}

// WithScheduler substitutes the timer scheduler; tests use ManualScheduler
// to drive retries deterministically.
func WithScheduler(s Scheduler) ManagerOption {
	return func(m *Manager) {
		if s != nil {
			m.sched = s
		}
	}
}

// WithClock substitutes the time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithTokenRefresher installs the credential refresher used by cold
// reconnects.
func WithTokenRefresher(r TokenRefresher) ManagerOption {
	return func(m *Manager) {
		m.refresher = r
	}
}

// NewManager creates a subscription manager over the given transport. The
// manager is lifecycle-scoped: create it on session start, Close it on
// session end, and hand it to consumers explicitly.
func NewManager(transport Transport, cfg Config, opts ...ManagerOption) (*Manager, error) {
	if transport == nil {
		return nil, ErrTransportNil
	}

	m := &Manager{
		transport:  transport,
		cfg:        cfg.normalize(),
		sched:      NewScheduler(),
		now:        time.Now,
		logger:     slog.Default(),
		subs:       make(map[string]*subscription),
		lastErrors: make(map[string]errorRecord),
		foreground: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Subscribe registers a logical subscription and starts joining its
// channel. Subscribing an id that is already live returns the existing
// teardown; a failed or closed id is rebuilt from scratch.
func (m *Manager) Subscribe(id string, cfg SubscriptionConfig) (Teardown, error) {
	if cfg.OnData == nil {
		return nil, ErrHandlerNil
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}

	if existing, ok := m.subs[id]; ok {
		if existing.status != StatusFailed && existing.status != StatusClosed {
			teardown := existing.teardown
			m.mu.Unlock()
			return teardown, nil
		}
		// Rebuild: invalidate anything still in flight for the old
		// incarnation.
		existing.epoch++
	}

	sub := &subscription{
		id:     id,
		cfg:    cfg,
		status: StatusConnecting,
		epoch:  m.nextEpoch(id),
	}
	sub.teardown = func() { m.Unsubscribe(id) }
	m.subs[id] = sub
	epoch := sub.epoch
	m.mu.Unlock()

	notifyStatus(cfg.OnStatusChange, StatusConnecting)
	go m.connect(id, epoch)

	return sub.teardown, nil
}

func (m *Manager) nextEpoch(id string) int {
	if existing, ok := m.subs[id]; ok {
		return existing.epoch + 1
	}
	return 1
}

// Unsubscribe tears a subscription down: any pending retry timer is
// cancelled and the transport channel is closed. Unknown ids no-op.
func (m *Manager) Unsubscribe(id string) {
	m.mu.Lock()
	sub, ok := m.subs[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.subs, id)
	delete(m.lastErrors, id)

	sub.epoch++
	sub.status = StatusClosed
	if sub.retryTimer != nil {
		sub.retryTimer.Stop()
		sub.retryTimer = nil
	}
	ch := sub.channel
	sub.channel = nil
	cfg := sub.cfg
	m.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}
	notifyStatus(cfg.OnStatusChange, StatusClosed)
}

// connect performs one join attempt for the subscription incarnation
// identified by epoch. Stale attempts (unsubscribed or rebuilt ids) drop
// their result on the floor.
func (m *Manager) connect(id string, epoch int) {
	m.mu.Lock()
	sub, ok := m.subs[id]
	if !ok || sub.epoch != epoch || m.closed {
		m.mu.Unlock()
		return
	}
	sub.retryTimer = nil
	timeout := m.cfg.JoinTimeoutBackground
	if m.foreground {
		timeout = m.cfg.JoinTimeoutForeground
	}
	cfg := sub.cfg
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := m.now()
	ch, err := m.transport.Open(ctx, cfg.Channel, ChannelHandlers{
		OnEvent: cfg.OnData,
		OnError: func(err error) { m.handleError(id, epoch, err) },
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = errors.Join(ErrJoinTimeout, err)
		}
		m.handleError(id, epoch, err)
		return
	}

	m.mu.Lock()
	sub, ok = m.subs[id]
	if !ok || sub.epoch != epoch || m.closed {
		m.mu.Unlock()
		_ = ch.Close()
		return
	}
	sub.channel = ch
	sub.status = StatusActive
	sub.retryCount = 0
	sub.consecutiveErrors = 0
	sub.lastBackoff = 0
	sub.lastSuccess = m.now()
	m.globalErrors = 0
	m.globalTimeouts = 0
	m.recordJoinSampleLocked(m.now().Sub(start))
	m.mu.Unlock()

	m.logger.LogAttrs(ctx, slog.LevelDebug, "subscription joined",
		logger.SubscriptionID(id),
	)
	notifyStatus(cfg.OnStatusChange, StatusActive)
}

// handleError processes a join failure or mid-stream drop for one
// subscription incarnation, scheduling a backoff retry below the ceiling
// and surfacing a terminal error at it. Global counters feed the circuit
// breaker and the cold-reconnect trigger.
func (m *Manager) handleError(id string, epoch int, err error) {
	isTimeout := errors.Is(err, ErrJoinTimeout) || errors.Is(err, context.DeadlineExceeded)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	sub, ok := m.subs[id]
	if !ok || sub.epoch != epoch {
		// Unsubscribed or rebuilt: never retry a dead incarnation.
		m.mu.Unlock()
		return
	}

	now := m.now()
	sub.consecutiveErrors++
	ch := sub.channel
	sub.channel = nil
	m.globalErrors++
	m.lastErrors[id] = errorRecord{err: err, at: now}

	// Past the threshold the breaker stays armed: a failure after the
	// window expires opens a fresh one, while an active window is never
	// extended by further errors arriving during it.
	if m.globalErrors > m.cfg.ErrorThreshold && !now.Before(m.cooldownUntil) {
		m.cooldownUntil = now.Add(m.cfg.ErrorCooldown)
	}

	coldDue := false
	if isTimeout {
		m.globalTimeouts++
		if m.globalTimeouts > m.cfg.TimeoutThreshold && now.Sub(m.lastCold) >= m.cfg.ColdCooldown {
			coldDue = true
			m.lastCold = now
		}
	}

	scheduledRetry := false
	var delay time.Duration
	if !coldDue {
		if sub.retryCount < m.cfg.RetryCeiling {
			delay = m.backoffDelay(sub.consecutiveErrors)
			sub.lastBackoff = delay
			sub.retryCount++
			sub.status = StatusReconnecting
			e := sub.epoch
			sub.retryTimer = m.sched.AfterFunc(delay, func() { m.connect(id, e) })
			scheduledRetry = true
		} else {
			sub.status = StatusFailed
		}
	}
	cfg := sub.cfg
	m.mu.Unlock()

	if ch != nil {
		// A transport may report the drop from its own stream goroutine,
		// and Close may wait for that goroutine to exit.
		go func() { _ = ch.Close() }()
	}

	switch {
	case coldDue:
		m.logger.LogAttrs(context.Background(), slog.LevelWarn, "sustained timeouts, starting cold reconnect",
			logger.SubscriptionID(id),
			logger.Error(err),
		)
		go m.ColdReconnect(context.Background())
	case scheduledRetry:
		// Transient blips log quietly to keep normal network noise out
		// of the error stream.
		m.logger.LogAttrs(context.Background(), slog.LevelDebug, "subscription error, retry scheduled",
			logger.SubscriptionID(id),
			slog.Duration("delay", delay),
			logger.Error(err),
		)
		notifyStatus(cfg.OnStatusChange, StatusReconnecting)
	default:
		m.logger.LogAttrs(context.Background(), slog.LevelError, "subscription failed, retries exhausted",
			logger.SubscriptionID(id),
			logger.Error(err),
		)
		notifyStatus(cfg.OnStatusChange, StatusFailed)
		if cfg.OnError != nil {
			cfg.OnError(errors.Join(ErrRetryExhausted, err))
		}
	}
}

// backoffDelay computes the delay before retry n (1-based): base grows by
// the multiplier per consecutive failure, capped.
func (m *Manager) backoffDelay(n int) time.Duration {
	d := float64(m.cfg.BackoffBase)
	for i := 1; i < n; i++ {
		d *= m.cfg.BackoffMultiplier
		if d >= float64(m.cfg.BackoffCap) {
			return m.cfg.BackoffCap
		}
	}
	if d > float64(m.cfg.BackoffCap) {
		return m.cfg.BackoffCap
	}
	return time.Duration(d)
}

// ReconnectAll tears down and rejoins every subscription in one coordinated
// sweep, unless the circuit breaker cooldown is active.
func (m *Manager) ReconnectAll(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if m.now().Before(m.cooldownUntil) {
		m.mu.Unlock()
		m.logger.LogAttrs(ctx, slog.LevelDebug, "global reconnect suppressed by cooldown")
		return ErrCooldownActive
	}

	channels, rejoins := m.detachAllLocked()
	m.mu.Unlock()

	for _, ch := range channels {
		_ = ch.Close()
	}
	for _, r := range rejoins {
		notifyStatus(r.cfg.OnStatusChange, StatusReconnecting)
		go m.connect(r.id, r.epoch)
	}

	m.logger.LogAttrs(ctx, slog.LevelInfo, "reconnecting all subscriptions",
		slog.Int("count", len(rejoins)),
	)
	return nil
}

// ColdReconnect is the heavyweight recovery path for sustained timeouts:
// refresh the transport credential, tear down every subscription, and
// recreate them with a small stagger so the rejoin wave does not saturate
// the transport.
func (m *Manager) ColdReconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	m.mu.Unlock()

	// Concurrent refreshes collapse into one credential update.
	m.authMu.Lock()
	if m.refresher != nil {
		token, err := m.refresher(ctx)
		if err != nil {
			m.logger.LogAttrs(ctx, slog.LevelError, "credential refresh failed during cold reconnect",
				logger.Error(err),
			)
		} else {
			m.transport.SetAuth(token)
		}
	}
	m.authMu.Unlock()

	m.mu.Lock()
	m.globalErrors = 0
	m.globalTimeouts = 0
	m.cooldownUntil = time.Time{}
	channels, rejoins := m.detachAllLocked()
	stagger := m.cfg.ReconnectStagger
	m.mu.Unlock()

	for _, ch := range channels {
		_ = ch.Close()
	}
	for i, r := range rejoins {
		notifyStatus(r.cfg.OnStatusChange, StatusReconnecting)
		r := r
		m.sched.AfterFunc(time.Duration(i)*stagger, func() { m.connect(r.id, r.epoch) })
	}

	m.logger.LogAttrs(ctx, slog.LevelInfo, "cold reconnect complete",
		slog.Int("count", len(rejoins)),
	)
	return nil
}

type rejoin struct {
	id    string
	epoch int
	cfg   SubscriptionConfig
}

// detachAllLocked resets every subscription to a fresh reconnecting
// incarnation and returns the channels to close and the rejoin work.
func (m *Manager) detachAllLocked() ([]Channel, []rejoin) {
	channels := make([]Channel, 0, len(m.subs))
	rejoins := make([]rejoin, 0, len(m.subs))

	for id, sub := range m.subs {
		if sub.retryTimer != nil {
			sub.retryTimer.Stop()
			sub.retryTimer = nil
		}
		if sub.channel != nil {
			channels = append(channels, sub.channel)
			sub.channel = nil
		}
		sub.epoch++
		sub.status = StatusReconnecting
		sub.retryCount = 0
		sub.consecutiveErrors = 0
		rejoins = append(rejoins, rejoin{id: id, epoch: sub.epoch, cfg: sub.cfg})
	}
	return channels, rejoins
}

// RefreshAuth updates the transport credential in place. Concurrent calls
// collapse into sequential updates under the auth mutex.
func (m *Manager) RefreshAuth(token string) {
	m.authMu.Lock()
	defer m.authMu.Unlock()
	m.transport.SetAuth(token)
}

// SetForeground records whether the host application is visible; the join
// timeout adapts so a suspended host does not rack up false timeouts.
func (m *Manager) SetForeground(visible bool) {
	m.mu.Lock()
	m.foreground = visible
	m.mu.Unlock()
}

// NotifyVisibility handles a page-visibility transition: a debounced health
// check runs and, if unhealthy, at most one coordinated reconnect — never a
// reconnect per event.
func (m *Manager) NotifyVisibility(visible bool) {
	m.SetForeground(visible)
	if visible {
		m.debouncedHealthCheck()
	}
}

// NotifyOnline handles an online/offline transition the same way.
func (m *Manager) NotifyOnline(online bool) {
	if online {
		m.debouncedHealthCheck()
	}
}

func (m *Manager) debouncedHealthCheck() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.debounceTimer != nil {
		m.debounceTimer.Stop()
	}
	m.debounceTimer = m.sched.AfterFunc(m.cfg.SignalDebounce, func() {
		m.mu.Lock()
		m.debounceTimer = nil
		m.mu.Unlock()
		m.CheckHealth(context.Background())
	})
	m.mu.Unlock()
}

// Run blocks, running the periodic health check until the context is
// cancelled.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.CheckHealth(ctx)
		}
	}
}

// Close tears down every subscription and rejects further use.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.debounceTimer != nil {
		m.debounceTimer.Stop()
		m.debounceTimer = nil
	}

	channels := make([]Channel, 0, len(m.subs))
	configs := make([]SubscriptionConfig, 0, len(m.subs))
	for _, sub := range m.subs {
		if sub.retryTimer != nil {
			sub.retryTimer.Stop()
			sub.retryTimer = nil
		}
		if sub.channel != nil {
			channels = append(channels, sub.channel)
			sub.channel = nil
		}
		sub.epoch++
		sub.status = StatusClosed
		configs = append(configs, sub.cfg)
	}
	m.subs = make(map[string]*subscription)
	m.mu.Unlock()

	for _, ch := range channels {
		_ = ch.Close()
	}
	for _, cfg := range configs {
		notifyStatus(cfg.OnStatusChange, StatusClosed)
	}
	return nil
}

func (m *Manager) recordJoinSampleLocked(d time.Duration) {
	m.joinSamples = append(m.joinSamples, d)
	if len(m.joinSamples) > m.cfg.SampleCap {
		m.joinSamples = m.joinSamples[len(m.joinSamples)-m.cfg.SampleCap:]
	}
}

func notifyStatus(f func(Status), s Status) {
	if f != nil {
		f(s)
	}
}
