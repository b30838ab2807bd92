// Package retry runs operations with exponential backoff. The query pipeline uses
// it for generation calls and startup connections; SQL execution is never retried.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"
)

// Config defines retry behavior with exponential backoff.
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64 // 0.0-1.0; spreads concurrent retries apart
}

// DefaultConfig returns 3 retries starting at 200ms, doubling, capped at 5s, with 10% jitter.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:   3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// RetryableError lets an error declare whether it is transient.
type RetryableError interface {
	error
	IsRetryable() bool
}

func (c *Config) next(delay time.Duration) time.Duration {
	delay = time.Duration(float64(delay) * c.Multiplier)
	if delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}

func (c *Config) jitter(delay time.Duration) time.Duration {
	if c.JitterFactor <= 0 {
		return delay
	}
	return time.Duration(float64(delay) + float64(delay)*c.JitterFactor*(rand.Float64()*2-1))
}

// Do calls fn until it succeeds or MaxRetries retries are spent, returning the last error.
// Waiting between attempts stops early when ctx is done.
func Do(ctx context.Context, cfg *Config, fn func() error) error {
	return run(ctx, cfg, fn, func(error) bool { return true })
}

// DoIfRetryable is like Do but returns immediately on errors IsRetryable rejects.
func DoIfRetryable(ctx context.Context, cfg *Config, fn func() error) error {
	return run(ctx, cfg, fn, IsRetryable)
}

func run(ctx context.Context, cfg *Config, fn func() error, retryable func(error) bool) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	delay := cfg.InitialDelay
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= cfg.MaxRetries || !retryable(err) {
			return err
		}
		select {
		case <-time.After(cfg.jitter(delay)):
			delay = cfg.next(delay)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"i/o timeout",
	"timed out",
	"temporary failure",
	"too many connections",
	"rate limit",
	"too many requests",
	"service unavailable",
	"overloaded",
	"429",
	"502",
	"503",
	"504",
}

// IsRetryable reports whether err looks transient. Errors implementing
// RetryableError decide for themselves; context cancellation never retries.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var r RetryableError
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
