// Package ratelimit provides a token-bucket admission controller. Each
// provider client owns exactly one Limiter for its lifetime.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anilymngl/codemind/pkg/apperr"
	"github.com/anilymngl/codemind/pkg/utils"
)

// Limiter replenishes tokens continuously at ratePerMinute/60 per second up
// to burst. Token accounting is serialized by mu; waiting happens outside it.
type Limiter struct {
	mu         sync.Mutex
	name       string
	perSecond  float64
	burst      float64
	tokens     float64
	lastRefill time.Time

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	logger *utils.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithName labels throttle log lines.
func WithName(name string) Option { return func(l *Limiter) { l.name = name } }

// WithLogger sets the logger used to report throttling.
func WithLogger(logger *utils.Logger) Option { return func(l *Limiter) { l.logger = logger } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(l *Limiter) { l.now = now } }

// WithSleeper replaces the context-aware sleep used while waiting for a token.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) { l.sleep = sleep }
}

// New builds a limiter that starts with a full bucket. A non-positive rate or
// burst would starve callers forever and is rejected.
func New(ratePerMinute float64, burst int, opts ...Option) (*Limiter, error) {
	if ratePerMinute <= 0 {
		return nil, apperr.NewConfiguration(fmt.Sprintf("rate_per_minute must be positive, got %v", ratePerMinute))
	}
	if burst <= 0 {
		return nil, apperr.NewConfiguration(fmt.Sprintf("burst_limit must be positive, got %d", burst))
	}
	l := &Limiter{
		name:      "default",
		perSecond: ratePerMinute / 60,
		burst:     float64(burst),
		tokens:    float64(burst),
		now:       time.Now,
		sleep:     Sleep,
		logger:    utils.Discard(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.lastRefill = l.now()
	return l, nil
}

// Config is the yaml form of a limiter.
type Config struct {
	RatePerMinute float64 `yaml:"rate_per_minute"`
	BurstLimit    int     `yaml:"burst_limit"`
}

// DefaultConfig allows 60 requests a minute with bursts of 10.
func DefaultConfig() Config {
	return Config{RatePerMinute: 60, BurstLimit: 10}
}

// Build is New with the values from c.
func (c Config) Build(opts ...Option) (*Limiter, error) {
	return New(c.RatePerMinute, c.BurstLimit, opts...)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (l *Limiter) refillLocked(now time.Time) {
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed > 0 {
		l.tokens = min(l.burst, l.tokens+elapsed*l.perSecond)
		l.lastRefill = now
	}
}

// maxWait caps a single wait. Acquire re-checks the bucket after each one,
// so a very slow rate still waits the full time in maxWait steps.
const maxWait = time.Hour

func (l *Limiter) waitLocked() time.Duration {
	if l.tokens >= 1 {
		return 0
	}
	wait := (1 - l.tokens) / l.perSecond * float64(time.Second)
	if wait >= float64(maxWait) {
		return maxWait
	}
	return time.Duration(wait)
}

// TryAcquire consumes a token if one is available and never waits.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked(l.now())
	if l.tokens >= 1 {
		l.tokens--
		return true
	}
	return false
}

// Acquire blocks until a token has been consumed. It re-checks the bucket
// after every wait since concurrent callers may take the refilled token
// first. The only error is ctx's.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		l.refillLocked(l.now())
		if l.tokens >= 1 {
			l.tokens--
			l.mu.Unlock()
			return nil
		}
		wait := l.waitLocked()
		l.mu.Unlock()

		l.logger.Logf("rate limit reached for %s, waiting %s", l.name, wait.Round(time.Millisecond))
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// RetryAfter reports how long until one token is available; 0 when one is
// available now.
func (l *Limiter) RetryAfter() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked(l.now())
	return l.waitLocked()
}

// Check consumes a token or returns a RateLimitError carrying the time until
// the next one.
func (l *Limiter) Check() error {
	if l.TryAcquire() {
		return nil
	}
	retryAfter := l.RetryAfter()
	l.logger.Logf("rate limit exceeded for %s, retry after %s", l.name, retryAfter.Round(time.Millisecond))
	return apperr.NewRateLimit(fmt.Sprintf("%s rate limit exceeded", l.name), retryAfter)
}

// Tokens reports the current token count after refill.
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked(l.now())
	return l.tokens
}
