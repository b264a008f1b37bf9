package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vowsuite/vowsuite/pkg/logger"
)

// RunnerConfig holds the polling loop tunables.
type RunnerConfig struct {
	PollInterval time.Duration `env:"DELIVERY_POLL_INTERVAL" envDefault:"15s"` // PollInterval is the time between due-message sweeps.
	BatchLimit   int           `env:"DELIVERY_BATCH_LIMIT" envDefault:"50"`    // BatchLimit caps messages claimed per sweep.
}

// Runner drives the pipeline on a fixed interval. Messages are processed
// sequentially per process; exclusive claims (not locks) make it safe to run
// runners in many worker processes at once.
type Runner struct {
	pipeline *Pipeline
	cfg      RunnerConfig
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunnerLogger sets the logger for the Runner.
func WithRunnerLogger(log *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = log
	}
}

// NewRunner creates a runner for the given pipeline.
func NewRunner(pipeline *Pipeline, cfg RunnerConfig, opts ...RunnerOption) (*Runner, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("pipeline cannot be nil")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 50
	}

	r := &Runner{
		pipeline: pipeline,
		cfg:      cfg,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Start blocks, sweeping for due messages until the context is cancelled.
// The first sweep happens immediately.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return fmt.Errorf("runner already started")
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	r.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "delivery runner shutting down")
			return ctx.Err()
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// Stop cancels a running Start loop.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

func (r *Runner) sweep(ctx context.Context) {
	processed, err := r.pipeline.ProcessDue(ctx, time.Now(), r.cfg.BatchLimit)
	if err != nil && ctx.Err() == nil {
		r.logger.LogAttrs(ctx, slog.LevelError, "delivery sweep failed",
			logger.Error(err),
		)
		return
	}
	if processed > 0 {
		r.logger.LogAttrs(ctx, slog.LevelDebug, "delivery sweep complete",
			slog.Int("processed", processed),
		)
	}
}
