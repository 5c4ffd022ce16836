// Package retry wraps fallible operations with bounded, jittered exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// jitterRatio is the maximum relative perturbation applied to a backoff delay.
const jitterRatio = 0.25

// ShouldRetryFunc decides whether a failed attempt is retried.
type ShouldRetryFunc func(err error, attempt int, cfg Config) bool

// OnRetryFunc is invoked before sleeping between attempts. Its errors are logged only.
type OnRetryFunc func(err error, attempt int, history *History) error

// Config captures one retry policy.
type Config struct {
	// Name labels the operation in logs, metrics and terminal errors.
	Name          string
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
	// Timeout bounds a single attempt. Zero disables the per-attempt timer.
	Timeout     time.Duration
	ShouldRetry ShouldRetryFunc
	OnRetry     OnRetryFunc
	Logger      *zap.Logger

	// rand is swapped in tests to make jitter deterministic.
	rand func() float64
}

// Validate rejects configurations that cannot produce a sane schedule.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("retry: max attempts must be >= 1, got %d", c.MaxAttempts)
	}
	if c.BaseDelay < 0 {
		return fmt.Errorf("retry: base delay must be >= 0")
	}
	if c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("retry: max delay %s must be >= base delay %s", c.MaxDelay, c.BaseDelay)
	}
	if c.BackoffFactor < 1 {
		return fmt.Errorf("retry: backoff factor must be >= 1, got %v", c.BackoffFactor)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("retry: timeout must be >= 0")
	}
	return nil
}

// Named returns a copy of the config labelled with name.
func (c Config) Named(name string) Config {
	c.Name = name
	return c
}

// WithOnRetry returns a copy of the config using fn as its retry hook.
func (c Config) WithOnRetry(fn OnRetryFunc) Config {
	c.OnRetry = fn
	return c
}

// WithLogger returns a copy of the config logging through logger.
func (c Config) WithLogger(logger *zap.Logger) Config {
	c.Logger = logger
	return c
}

// Delay computes the wait after the given (1-based) failed attempt.
func (c Config) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(c.BaseDelay) * math.Pow(c.BackoffFactor, float64(attempt-1))
	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	if c.Jitter {
		rnd := c.rand
		if rnd == nil {
			rnd = rand.Float64
		}
		delay += (rnd()*2 - 1) * jitterRatio * delay
		if delay > float64(c.MaxDelay) {
			delay = float64(c.MaxDelay)
		}
	}
	if delay < 0 {
		return 0
	}
	return time.Duration(delay)
}

func (c Config) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.L()
}

func (c Config) name() string {
	if c.Name == "" {
		return "anonymous"
	}
	return c.Name
}

// DefaultShouldRetry stops on exhausted attempts, critical errors and cancellation.
func DefaultShouldRetry(err error, attempt int, cfg Config) bool {
	if err == nil || attempt >= cfg.MaxAttempts {
		return false
	}
	if IsCritical(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// Run executes op under cfg and returns its terminal error, if any.
func Run(ctx context.Context, cfg Config, op func(context.Context) error) error {
	_, err := Do(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Wrap returns fn guarded by cfg.
func Wrap[A, T any](cfg Config, fn func(context.Context, A) (T, error)) func(context.Context, A) (T, error) {
	return func(ctx context.Context, arg A) (T, error) {
		return Do(ctx, cfg, func(ctx context.Context) (T, error) {
			return fn(ctx, arg)
		})
	}
}

// Do executes op until it succeeds, the policy declines a retry, or attempts run out.
// A terminal failure is returned as *Error carrying the full attempt history.
func Do[T any](ctx context.Context, cfg Config, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := cfg.Validate(); err != nil {
		return zero, err
	}
	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = DefaultShouldRetry
	}

	history := &History{Operation: cfg.name(), Start: time.Now()}
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		history.Attempts = append(history.Attempts, Attempt{Number: attempt, Start: time.Now()})
		current := &history.Attempts[len(history.Attempts)-1]

		val, err := runAttempt(ctx, cfg.Timeout, op)
		current.End = time.Now()
		if err == nil {
			return val, nil
		}
		current.Err = err

		if attempt >= cfg.MaxAttempts || ctx.Err() != nil || !shouldRetry(err, attempt, cfg) {
			return zero, &Error{Operation: cfg.name(), History: *history, Err: err}
		}

		delay := cfg.Delay(attempt)
		current.Delay = delay
		if cfg.OnRetry != nil {
			if hookErr := cfg.OnRetry(err, attempt, history); hookErr != nil {
				cfg.logger().Warn("retry callback failed",
					zap.String("operation", cfg.name()),
					zap.Error(hookErr),
				)
			}
		}
		cfg.logger().Debug("retrying operation",
			zap.String("operation", cfg.name()),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := sleep(ctx, delay); err != nil {
			return zero, &Error{Operation: cfg.name(), History: *history, Err: err}
		}
	}
	// Unreachable: the loop always returns on its final attempt.
	return zero, &Error{Operation: cfg.name(), History: *history, Err: errors.New("retry: no attempts made")}
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}
	var zero T
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		val, err := op(attemptCtx)
		done <- outcome{val: val, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return zero, &TimeoutError{After: timeout}
		}
		return out.val, out.err
	case <-attemptCtx.Done():
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, &TimeoutError{After: timeout}
	}
}

func sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry sleep interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
