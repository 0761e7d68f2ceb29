package utils

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// MaxRetryAfter caps any server-provided wait hint.
const MaxRetryAfter = 60 * time.Second

func containsRateLimitPhrases(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "rate limit") ||
		strings.Contains(s, "rate_limit") ||
		strings.Contains(s, "requests per minute") ||
		strings.Contains(s, "rpm exceeded") ||
		strings.Contains(s, "rate exceeded") ||
		strings.Contains(s, "resource_exhausted") ||
		strings.Contains(s, "too many requests") ||
		strings.Contains(s, "insufficient_quota") ||
		strings.Contains(s, "insufficient quota") ||
		strings.Contains(s, "overloaded") ||
		(strings.Contains(s, "quota") && strings.Contains(s, "exceeded")) ||
		strings.Contains(s, "current quota")
}

// IsRateLimitResponse reports whether an HTTP status and body indicate the
// provider throttled the request. HTTP 429 is always a rate limit; 403 and
// 529 only when the body says so.
func IsRateLimitResponse(statusCode int, body string) bool {
	switch statusCode {
	case http.StatusTooManyRequests:
		return true
	case http.StatusForbidden, 529:
		return containsRateLimitPhrases(body)
	}
	return false
}

// IsRateLimitMessage matches provider error text that reports throttling,
// including messages that only mention the status code.
func IsRateLimitMessage(msg string) bool {
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "status 429") || strings.Contains(lower, "http 429") || strings.TrimSpace(lower) == "429" {
		return true
	}
	return containsRateLimitPhrases(lower)
}

// RetryAfterFromHeaders extracts a wait hint from the rate limit headers used
// by the supported providers. It returns 0 when nothing parseable is present.
func RetryAfterFromHeaders(h http.Header, now time.Time) time.Duration {
	if h == nil {
		return 0
	}

	// Retry-After in seconds or as an HTTP date
	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if seconds, err := strconv.ParseFloat(v, 64); err == nil {
			return capDelay(time.Duration(seconds * float64(time.Second)))
		}
		if at, err := http.ParseTime(v); err == nil {
			return capDelay(at.Sub(now))
		}
	}

	// Anthropic reports reset instants as RFC 3339 timestamps
	for _, key := range []string{"Anthropic-Ratelimit-Requests-Reset", "Anthropic-Ratelimit-Tokens-Reset"} {
		if v := h.Get(key); v != "" {
			if at, err := time.Parse(time.RFC3339, v); err == nil {
				return capDelay(at.Sub(now))
			}
		}
	}

	// X-RateLimit-Reset as a unix timestamp in milliseconds
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			return capDelay(time.UnixMilli(ms).Sub(now))
		}
	}

	return 0
}

// capDelay keeps a hint within [0, MaxRetryAfter].
func capDelay(delay time.Duration) time.Duration {
	if delay > MaxRetryAfter {
		return MaxRetryAfter
	}
	if delay < 0 {
		return 0
	}
	return delay
}
