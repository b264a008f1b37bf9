package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	// ErrNilPointer is returned when a nil config pointer is provided.
	ErrNilPointer = errors.New("config: nil pointer provided")

	defaultEnvLoaded sync.Once
)

// Load populates the provided configuration struct from environment
// variables using `env` struct tags. The default .env file is loaded once
// per process; a missing .env file is not an error.
//
// Example:
//
//	type RealtimeConfig struct {
//		BackoffBase time.Duration `env:"RT_BACKOFF_BASE" envDefault:"2s"`
//		BackoffCap  time.Duration `env:"RT_BACKOFF_CAP" envDefault:"30s"`
//	}
//
//	var cfg RealtimeConfig
//	if err := config.Load(&cfg); err != nil { ... }
func Load[T any](v *T) error {
	defaultEnvLoaded.Do(func() {
		// The .env file is optional.
		_ = godotenv.Load()
	})
	if v == nil {
		return ErrNilPointer
	}
	if err := env.Parse(v); err != nil {
		return fmt.Errorf("config: failed to parse environment: %w", err)
	}
	return nil
}

// MustLoad is like Load but panics on error. Intended for process startup
// where a misconfigured environment should prevent the service from running.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(err)
	}
}
