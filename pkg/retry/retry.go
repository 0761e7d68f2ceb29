// Package retry runs an operation with exponential backoff and jitter,
// retrying only transient failures.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net"
	"net/url"
	"syscall"
	"time"

	"github.com/anilymngl/codemind/pkg/apperr"
	"github.com/anilymngl/codemind/pkg/ratelimit"
	"github.com/anilymngl/codemind/pkg/utils"
)

// Config controls attempts and backoff.
type Config struct {
	MaxRetries      int           `yaml:"max_retries"`
	BaseDelay       time.Duration `yaml:"base_delay"`
	MaxDelay        time.Duration `yaml:"max_delay"`
	JitterFactor    float64       `yaml:"jitter_factor"`
	ExponentialBase float64       `yaml:"exponential_base"`
}

// DefaultConfig returns 3 retries starting at 1s, capped at 10s, ±10% jitter.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		BaseDelay:       time.Second,
		MaxDelay:        10 * time.Second,
		JitterFactor:    0.1,
		ExponentialBase: 2.0,
	}
}

// Validate rejects configurations that cannot produce a sane schedule.
func (c Config) Validate() error {
	switch {
	case c.MaxRetries < 0:
		return apperr.NewConfiguration(fmt.Sprintf("max_retries must be >= 0, got %d", c.MaxRetries))
	case c.BaseDelay <= 0:
		return apperr.NewConfiguration(fmt.Sprintf("base_delay must be positive, got %s", c.BaseDelay))
	case c.MaxDelay < c.BaseDelay:
		return apperr.NewConfiguration(fmt.Sprintf("max_delay (%s) must be >= base_delay (%s)", c.MaxDelay, c.BaseDelay))
	case c.JitterFactor < 0 || c.JitterFactor > 1:
		return apperr.NewConfiguration(fmt.Sprintf("jitter_factor must be within [0, 1], got %v", c.JitterFactor))
	case c.ExponentialBase <= 1:
		return apperr.NewConfiguration(fmt.Sprintf("exponential_base must be > 1, got %v", c.ExponentialBase))
	}
	return nil
}

// ExhaustedError reports that every attempt failed with a retryable error.
type ExhaustedError struct {
	Op       string
	LastErr  error
	Attempts int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.LastErr)
}

func (e *ExhaustedError) Unwrap() error { return e.LastErr }

// Executor holds a validated Config plus injectable randomness and sleep.
type Executor struct {
	cfg       Config
	logger    *utils.Logger
	runlog    *utils.RunLogger
	rand      func() float64
	sleep     func(ctx context.Context, d time.Duration) error
	retryable func(error) bool
}

// Option configures an Executor.
type Option func(*Executor)

func WithLogger(logger *utils.Logger) Option   { return func(e *Executor) { e.logger = logger } }
func WithRunLogger(rl *utils.RunLogger) Option { return func(e *Executor) { e.runlog = rl } }
func WithRand(f func() float64) Option         { return func(e *Executor) { e.rand = f } }
func WithRetryable(f func(error) bool) Option  { return func(e *Executor) { e.retryable = f } }

func WithSleeper(f func(context.Context, time.Duration) error) Option {
	return func(e *Executor) { e.sleep = f }
}

// New validates cfg and builds an Executor.
func New(cfg Config, opts ...Option) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Executor{
		cfg:       cfg,
		logger:    utils.Discard(),
		rand:      rand.Float64,
		sleep:     ratelimit.Sleep,
		retryable: IsRetryable,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the executor's configuration.
func (e *Executor) Config() Config { return e.cfg }

// Delay returns the wait before retry number attempt (1-based), jitter
// included and floored at zero.
func (e *Executor) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	base := float64(e.cfg.BaseDelay) * math.Pow(e.cfg.ExponentialBase, float64(attempt-1))
	delay := math.Min(base, float64(e.cfg.MaxDelay))
	if e.cfg.JitterFactor > 0 {
		delay += delay * e.cfg.JitterFactor * (e.rand()*2 - 1)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Do runs op until it succeeds, fails with a non-retryable error, or
// MaxRetries+1 attempts have been made. A cancelled parent context stops the
// loop with ctx's error.
func Do[T any](ctx context.Context, e *Executor, name string, op func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	attempts := e.cfg.MaxRetries + 1

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := e.Delay(attempt)
			e.logger.Logf("retrying %s (attempt %d/%d) in %s: %v", name, attempt+1, attempts, delay.Round(time.Millisecond), lastErr)
			e.runlog.LogEvent("retry_attempt", map[string]any{
				"operation": name,
				"attempt":   attempt + 1,
				"delay_ms":  float64(delay) / float64(time.Millisecond),
				"error":     lastErr.Error(),
			})
			if err := e.sleep(ctx, delay); err != nil {
				return zero, err
			}
		}

		result, err := op(ctx)
		if err == nil {
			if attempt > 0 {
				e.logger.Logf("%s succeeded after %d retries", name, attempt)
			}
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, err
		}
		if !e.retryable(err) {
			return zero, err
		}
	}

	e.logger.Logf("%s exhausted %d attempts: %v", name, attempts, lastErr)
	return zero, &ExhaustedError{Op: name, LastErr: lastErr, Attempts: attempts}
}

// IsRetryable classifies transient failures: the retryable apperr kinds plus
// network, connection and timeout errors. Caller cancellation is never
// retryable.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if _, ok := apperr.As(err); ok {
		return apperr.IsRetryable(err)
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
