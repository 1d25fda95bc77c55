package provider

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/chatgraph/chatgraph/internal/domain"
	"github.com/chatgraph/chatgraph/internal/tools"
)

// RetryConfig bounds the adapter-local retry budget for transient failures.
type RetryConfig struct {
	// MaxAttempts is the total number of calls, including the first.
	MaxAttempts int
	// BaseDelay is the delay before the first retry; it doubles per retry.
	BaseDelay time.Duration
	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration
	// Timeout bounds each individual attempt. Zero means no per-attempt bound.
	Timeout time.Duration
}

// DefaultRetryConfig mirrors the historical adapter budget: three attempts,
// exponential wait starting at 2s, capped at 10s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    10 * time.Second,
		Timeout:     60 * time.Second,
	}
}

// Retrying wraps a Provider with bounded retries on transient errors.
// Fatal provider errors (auth, invalid request) propagate immediately.
type Retrying struct {
	inner  Provider
	cfg    RetryConfig
	logger *slog.Logger
	// sleep is swapped in tests to avoid real delays.
	sleep func(context.Context, time.Duration) error
}

// WithRetry wraps p with the given retry budget.
func WithRetry(p Provider, cfg RetryConfig, logger *slog.Logger) *Retrying {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{inner: p, cfg: cfg, logger: logger, sleep: sleepCtx}
}

func (r *Retrying) Name() string { return r.inner.Name() }

func (r *Retrying) Complete(ctx context.Context, msgs []domain.Message, defs []tools.Definition, params domain.ProviderParams) (*Completion, error) {
	var lastErr error

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		completion, err := r.completeOnce(ctx, msgs, defs, params)
		if err == nil {
			return completion, nil
		}
		lastErr = err

		if !domain.IsTransient(err) {
			return nil, err
		}
		if attempt == r.cfg.MaxAttempts || ctx.Err() != nil {
			break
		}

		delay := r.backoff(attempt)
		r.logger.Warn("provider call failed, retrying",
			slog.String("provider", r.inner.Name()),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))

		if err := r.sleep(ctx, delay); err != nil {
			return nil, lastErr
		}
	}

	return nil, lastErr
}

func (r *Retrying) completeOnce(ctx context.Context, msgs []domain.Message, defs []tools.Definition, params domain.ProviderParams) (*Completion, error) {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}
	return r.inner.Complete(ctx, msgs, defs, params)
}

// backoff returns the delay before the next attempt: exponential doubling
// from BaseDelay with up to 25% jitter, capped at MaxDelay.
func (r *Retrying) backoff(attempt int) time.Duration {
	delay := r.cfg.BaseDelay << (attempt - 1)
	if r.cfg.MaxDelay > 0 && delay > r.cfg.MaxDelay {
		delay = r.cfg.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ Provider = (*Retrying)(nil)
