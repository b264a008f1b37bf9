package realtime

import "time"

// Config holds the subscription manager tunables.
type Config struct {
	// Per-subscription retry policy.
	BackoffBase       time.Duration `env:"RT_BACKOFF_BASE" envDefault:"2s"`     // BackoffBase seeds the retry delay.
	BackoffCap        time.Duration `env:"RT_BACKOFF_CAP" envDefault:"30s"`     // BackoffCap bounds the retry delay.
	BackoffMultiplier float64       `env:"RT_BACKOFF_MULTIPLIER" envDefault:"1.5"`
	RetryCeiling      int           `env:"RT_RETRY_CEILING" envDefault:"3"` // RetryCeiling stops auto-retry per subscription.

	// Global circuit breaker.
	ErrorThreshold int           `env:"RT_ERROR_THRESHOLD" envDefault:"5"`   // ErrorThreshold trips the reconnect-all cooldown.
	ErrorCooldown  time.Duration `env:"RT_ERROR_COOLDOWN" envDefault:"30s"`  // ErrorCooldown suppresses global reconnects.

	// Cold reconnect (sustained timeouts).
	TimeoutThreshold int           `env:"RT_TIMEOUT_THRESHOLD" envDefault:"8"` // TimeoutThreshold triggers a cold reconnect.
	ColdCooldown     time.Duration `env:"RT_COLD_COOLDOWN" envDefault:"60s"`   // ColdCooldown spaces cold reconnects apart.
	ReconnectStagger time.Duration `env:"RT_RECONNECT_STAGGER" envDefault:"250ms"` // ReconnectStagger spaces channel rejoins during recovery.

	// Adaptive join timeout.
	JoinTimeoutForeground time.Duration `env:"RT_JOIN_TIMEOUT_FG" envDefault:"6s"`  // JoinTimeoutForeground applies while the host is visible.
	JoinTimeoutBackground time.Duration `env:"RT_JOIN_TIMEOUT_BG" envDefault:"20s"` // JoinTimeoutBackground tolerates suspended hosts.

	// Health monitoring.
	HealthInterval  time.Duration `env:"RT_HEALTH_INTERVAL" envDefault:"30s"` // HealthInterval spaces periodic health checks.
	HealthLowWater  int           `env:"RT_HEALTH_LOW_WATER" envDefault:"40"` // HealthLowWater triggers a coordinated reconnect.
	StabilityWindow time.Duration `env:"RT_STABILITY_WINDOW" envDefault:"1m"` // StabilityWindow qualifies a subscription as stable.
	SignalDebounce  time.Duration `env:"RT_SIGNAL_DEBOUNCE" envDefault:"500ms"` // SignalDebounce coalesces visibility/online signals.
	ErrorTTL        time.Duration `env:"RT_ERROR_TTL" envDefault:"5m"`        // ErrorTTL bounds retained error references.
	SampleCap       int           `env:"RT_SAMPLE_CAP" envDefault:"50"`       // SampleCap bounds retained join-duration samples.
}

// DefaultConfig returns the production defaults without consulting the
// environment.
func DefaultConfig() Config {
	return Config{
		BackoffBase:           2 * time.Second,
		BackoffCap:            30 * time.Second,
		BackoffMultiplier:     1.5,
		RetryCeiling:          3,
		ErrorThreshold:        5,
		ErrorCooldown:         30 * time.Second,
		TimeoutThreshold:      8,
		ColdCooldown:          60 * time.Second,
		ReconnectStagger:      250 * time.Millisecond,
		JoinTimeoutForeground: 6 * time.Second,
		JoinTimeoutBackground: 20 * time.Second,
		HealthInterval:        30 * time.Second,
		HealthLowWater:        40,
		StabilityWindow:       time.Minute,
		SignalDebounce:        500 * time.Millisecond,
		ErrorTTL:              5 * time.Minute,
		SampleCap:             50,
	}
}

// normalize fills zero values with defaults so a partially populated Config
// stays usable.
func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.BackoffBase <= 0 {
		c.BackoffBase = def.BackoffBase
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = def.BackoffCap
	}
	if c.BackoffMultiplier <= 1 {
		c.BackoffMultiplier = def.BackoffMultiplier
	}
	if c.RetryCeiling <= 0 {
		c.RetryCeiling = def.RetryCeiling
	}
	if c.ErrorThreshold <= 0 {
		c.ErrorThreshold = def.ErrorThreshold
	}
	if c.ErrorCooldown <= 0 {
		c.ErrorCooldown = def.ErrorCooldown
	}
	if c.TimeoutThreshold <= 0 {
		c.TimeoutThreshold = def.TimeoutThreshold
	}
	if c.ColdCooldown <= 0 {
		c.ColdCooldown = def.ColdCooldown
	}
	if c.ReconnectStagger <= 0 {
		c.ReconnectStagger = def.ReconnectStagger
	}
	if c.JoinTimeoutForeground <= 0 {
		c.JoinTimeoutForeground = def.JoinTimeoutForeground
	}
	if c.JoinTimeoutBackground <= 0 {
		c.JoinTimeoutBackground = def.JoinTimeoutBackground
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = def.HealthInterval
	}
	if c.HealthLowWater <= 0 {
		c.HealthLowWater = def.HealthLowWater
	}
	if c.StabilityWindow <= 0 {
		c.StabilityWindow = def.StabilityWindow
	}
	if c.SignalDebounce <= 0 {
		c.SignalDebounce = def.SignalDebounce
	}
	if c.ErrorTTL <= 0 {
		c.ErrorTTL = def.ErrorTTL
	}
	if c.SampleCap <= 0 {
		c.SampleCap = def.SampleCap
	}
	return c
}
