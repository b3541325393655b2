// Package resilient runs store operations with bounded retries for transient
// connectivity failures and a fallback value for everything else.
package resilient

import (
	"context"
	"log/slog"
	"time"

	"github.com/npezzotti/classbot/internal/database"
	"github.com/npezzotti/classbot/internal/stats"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

type Runner struct {
	policy   Policy
	logger   *slog.Logger
	stats    stats.StatsProvider
	sleep    func(ctx context.Context, d time.Duration) error
	classify func(error) bool
}

type Option func(*Runner)

// WithSleep replaces the function used to wait between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Runner) {
		r.sleep = sleep
	}
}

// WithClassifier replaces database.IsTransient as the test for retryable errors.
func WithClassifier(classify func(error) bool) Option {
	return func(r *Runner) {
		r.classify = classify
	}
}

func WithStats(sp stats.StatsProvider) Option {
	return func(r *Runner) {
		r.stats = sp
	}
}

func NewRunner(policy Policy, logger *slog.Logger, opts ...Option) *Runner {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.BaseDelay < 0 {
		policy.BaseDelay = 0
	}

	r := &Runner{
		policy:   policy,
		logger:   logger,
		stats:    stats.Discard{},
		sleep:    sleepContext,
		classify: database.IsTransient,
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

func (r *Runner) Policy() Policy {
	return r.policy
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Call runs op until it succeeds, fails with a non-transient error or has
// been attempted MaxAttempts times, sleeping BaseDelay between attempts.
// Errors never reach the caller: any failure yields fallback.
//
// op receives a context that is not cancelled with ctx, so a statement that
// has started runs to completion during shutdown. Cancellation of ctx only
// stops further attempts.
func Call[T any](ctx context.Context, r *Runner, name string, fallback T, op func(context.Context) (T, error)) T {
	opCtx := context.WithoutCancel(ctx)

	for attempt := 1; ; attempt++ {
		result, err := op(opCtx)
		if err == nil {
			return result
		}

		if !r.classify(err) {
			r.logger.Error("store operation failed",
				"op", name,
				"attempt", attempt,
				"error", err,
			)
			r.stats.Incr(stats.StoreFallbacks)
			return fallback
		}

		if attempt >= r.policy.MaxAttempts {
			r.logger.Error("store unavailable, giving up",
				"op", name,
				"attempt", attempt,
				"error", err,
			)
			r.stats.Incr(stats.StoreFallbacks)
			return fallback
		}

		r.logger.Warn("store unavailable, retrying",
			"op", name,
			"attempt", attempt,
			"max_attempts", r.policy.MaxAttempts,
			"delay", r.policy.BaseDelay,
			"error", err,
		)
		r.stats.Incr(stats.StoreRetries)

		if err := r.sleep(ctx, r.policy.BaseDelay); err != nil {
			r.logger.Warn("retry abandoned",
				"op", name,
				"attempt", attempt,
				"error", err,
			)
			r.stats.Incr(stats.StoreFallbacks)
			return fallback
		}
	}
}
