package resilience

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	apperr "github.com/GriffinCanCode/talking-portrait/internal/errors"
	"github.com/GriffinCanCode/talking-portrait/internal/trace"
)

const (
	DefaultMaxRetries   = 3
	DefaultBaseDelay    = 500 * time.Millisecond
	DefaultMaxDelay     = 10 * time.Second
	DefaultJitterFactor = 0.2

	// Analysis calls run while the user waits on an upload
	AnalysisMaxRetries = 2
	AnalysisBaseDelay  = 750 * time.Millisecond
	AnalysisMaxDelay   = 5 * time.Second
)

// RetryConfig controls exponential backoff. MaxDelay also caps a retry delay
// requested by the server.
type RetryConfig struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
	IsRetryable  func(error) bool
}

// AnalysisRetryConfig returns settings for the portrait analysis calls.
func AnalysisRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   AnalysisMaxRetries,
		BaseDelay:    AnalysisBaseDelay,
		MaxDelay:     AnalysisMaxDelay,
		JitterFactor: DefaultJitterFactor,
	}
}

// IsRetryable is the default classification. AppErrors go by code and gRPC
// statuses by status code. Cancellation and an open breaker are final, and
// unclassified errors get another attempt.
func IsRetryable(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, ErrOpen):
		return false
	}
	var appErr *apperr.AppError
	if errors.As(err, &appErr) {
		return apperr.IsRetryable(err)
	}
	s, ok := status.FromError(err)
	if !ok {
		return true
	}
	switch s.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
		return true
	}
	return false
}

// Retry calls fn until it succeeds, returns a permanent error or has been
// retried MaxRetries times. The last error is returned.
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	cfg = cfg.withDefaults()
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil || attempt == cfg.MaxRetries || !cfg.IsRetryable(err) {
			return err
		}

		delay := cfg.delay(attempt, err)
		trace.Logger(ctx).Debug("retrying", "attempt", attempt+1, "of", cfg.MaxRetries, "delay", delay, "error", err)
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// Call runs fn behind b with retries. Every attempt is recorded on the breaker,
// and an open breaker ends the retry loop immediately.
func Call[T any](ctx context.Context, b *Breaker, cfg RetryConfig, fn func(context.Context) (T, error)) (T, error) {
	var result T
	err := Retry(ctx, cfg, func(ctx context.Context) error {
		v, err := Do(b, func() (T, error) { return fn(ctx) })
		result = v
		return err
	})
	return result, err
}

// delay is the jittered exponential backoff for attempt, or the server's
// requested delay when that is longer.
func (c RetryConfig) delay(attempt int, err error) time.Duration {
	d := min(c.BaseDelay<<min(attempt, 6), c.MaxDelay)
	d += time.Duration(float64(d) * c.JitterFactor * (rand.Float64() - 0.5))
	if after, ok := apperr.RetryAfter(err); ok && after > d {
		d = min(after, c.MaxDelay)
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.JitterFactor <= 0 {
		c.JitterFactor = DefaultJitterFactor
	}
	if c.IsRetryable == nil {
		c.IsRetryable = IsRetryable
	}
	return c
}
