// Package retry wraps fallible operations with bounded exponential-backoff retry.
//
// The backoff wait is a cancellable timer select, so a retrying run only ever
// suspends its own goroutine. A policy may carry a classifier that marks some
// failures as permanent; those short-circuit immediately instead of burning
// the remaining attempts.
package retry

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = time.Second
)

// Policy describes how an operation is retried: attempt budget, backoff base,
// and which failures are worth another attempt.
type Policy struct {
	maxAttempts int
	baseDelay   time.Duration
	retryable   func(error) bool
	logger      *slog.Logger
}

// Option configures optional policy behavior.
type Option func(*Policy)

// WithClassifier restricts retries to errors the classifier reports as
// retryable. Permanent failures return immediately with the original error.
func WithClassifier(retryable func(error) bool) Option {
	return func(p *Policy) {
		if retryable != nil {
			p.retryable = retryable
		}
	}
}

// New creates a retry policy. maxAttempts below 1 is clamped to 1, a negative
// baseDelay to the default. The default classifier retries every failure.
func New(maxAttempts int, baseDelay time.Duration, logger *slog.Logger, opts ...Option) Policy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	if baseDelay < 0 {
		baseDelay = defaultBaseDelay
	}

	p := Policy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		retryable:   func(error) bool { return true },
		logger:      logger.With(slog.String("component", "retry")),
	}

	for _, opt := range opts {
		opt(&p)
	}

	return p
}

// Default returns a policy with the standard attempt budget and backoff base.
func Default(logger *slog.Logger, opts ...Option) Policy {
	return New(defaultMaxAttempts, defaultBaseDelay, logger, opts...)
}

// MaxAttempts returns the attempt budget.
func (p Policy) MaxAttempts() int {
	return p.maxAttempts
}

// Delay returns the backoff before the retry that follows failed attempt k:
// baseDelay * 2^(k-1). No jitter.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	return p.baseDelay * time.Duration(1<<(attempt-1))
}

// Do runs fn under the policy and returns its result, or the last-seen error
// unchanged once the attempt budget is exhausted. Cancellation of ctx during a
// backoff wait aborts the remaining attempts and returns ctx.Err().
func Do[T any](ctx context.Context, p Policy, operation string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	var lastErr error

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				p.logger.Info("operation recovered on retry",
					slog.String("operation", operation),
					slog.Int("attempt", attempt),
				)
			}

			return result, nil
		}

		lastErr = err

		if !p.retryable(err) {
			p.logger.Warn("operation failed permanently, not retrying",
				slog.String("operation", operation),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)

			return zero, lastErr
		}

		// The run itself may have been cancelled while fn was failing.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}

		if attempt == p.maxAttempts {
			break
		}

		delay := p.Delay(attempt)

		p.logger.Warn("operation failed, backing off",
			slog.String("operation", operation),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", p.maxAttempts),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()

			return zero, ctx.Err()
		}
	}

	p.logger.Error("operation failed after exhausting attempts",
		slog.String("operation", operation),
		slog.Int("attempts", p.maxAttempts),
		slog.String("error", lastErr.Error()),
	)

	return zero, lastErr
}
