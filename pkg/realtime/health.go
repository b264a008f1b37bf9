package realtime

import (
	"context"
	"log/slog"
	"time"
)

// Health is a point-in-time snapshot of connection health.
type Health struct {
	// Score is 0-100; higher is healthier.
	Score int
	// ActiveSubscriptions counts subscriptions with a live channel.
	ActiveSubscriptions int
	// TotalSubscriptions counts all registered subscriptions.
	TotalSubscriptions int
	// GlobalErrors counts errors since the last successful join.
	GlobalErrors int
	// GlobalTimeouts counts consecutive timeout failures.
	GlobalTimeouts int
	// CooldownActive reports whether the circuit breaker is open.
	CooldownActive bool
	// MeanJoin is the mean of recent successful join durations.
	MeanJoin time.Duration
}

// Health returns the current health snapshot without side effects.
func (m *Manager) Health() Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthLocked()
}

// HealthScore returns the current 0-100 score.
func (m *Manager) HealthScore() int {
	return m.Health().Score
}

func (m *Manager) healthLocked() Health {
	h := Health{
		TotalSubscriptions: len(m.subs),
		GlobalErrors:       m.globalErrors,
		GlobalTimeouts:     m.globalTimeouts,
		CooldownActive:     m.now().Before(m.cooldownUntil),
		MeanJoin:           meanDuration(m.joinSamples),
	}

	now := m.now()
	stable, retries := 0, 0
	for _, sub := range m.subs {
		if sub.status == StatusActive && sub.channel != nil {
			h.ActiveSubscriptions++
			if now.Sub(sub.lastSuccess) >= m.cfg.StabilityWindow {
				stable++
			}
		}
		retries += sub.retryCount
	}

	// No subscriptions means nothing can be unhealthy.
	if h.TotalSubscriptions == 0 {
		h.Score = 100
		return h
	}

	score := 0
	if h.ActiveSubscriptions > 0 {
		score = 60
	}
	if h.ActiveSubscriptions == h.TotalSubscriptions {
		score += 15
	}
	score -= 5 * m.globalErrors
	score -= 2 * retries
	bonus := 5 * stable
	if bonus > 25 {
		bonus = 25
	}
	score += bonus

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	h.Score = score
	return h
}

// CheckHealth evicts stale error records, computes the score, and triggers a
// coordinated reconnect when the score sits below the low-water mark. It
// returns the score.
func (m *Manager) CheckHealth(ctx context.Context) int {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0
	}

	now := m.now()
	for id, rec := range m.lastErrors {
		if now.Sub(rec.at) >= m.cfg.ErrorTTL {
			delete(m.lastErrors, id)
		}
	}

	h := m.healthLocked()
	trigger := h.Score < m.cfg.HealthLowWater && h.TotalSubscriptions > 0
	m.mu.Unlock()

	if trigger {
		m.logger.LogAttrs(ctx, slog.LevelWarn, "connection health below threshold",
			slog.Int("score", h.Score),
			slog.Int("active", h.ActiveSubscriptions),
			slog.Int("total", h.TotalSubscriptions),
		)
		_ = m.ReconnectAll(ctx)
	}
	return h.Score
}

func meanDuration(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	var sum time.Duration
	for _, s := range samples {
		sum += s
	}
	return sum / time.Duration(len(samples))
}
