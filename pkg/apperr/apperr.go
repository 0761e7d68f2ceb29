// Package apperr defines the error taxonomy shared by every stage of the
// pipeline. Each error carries a machine-readable Kind whose string value is
// the name reported to callers in a failed orchestration result, so the
// original classification survives retries and wrapping.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind is a machine-readable error category.
type Kind string

const (
	// Validation indicates bad caller input. Never retried.
	Validation Kind = "ValidationError"
	// Configuration indicates bad setup or missing credentials. Fatal at construction.
	Configuration Kind = "ConfigurationError"
	// RateLimit indicates no admission token was available. Carries RetryAfter.
	RateLimit Kind = "RateLimitError"
	// Reasoning indicates a business-level failure from the reasoning provider.
	Reasoning Kind = "ReasoningError"
	// Synthesis indicates a business-level failure from the synthesis provider.
	Synthesis Kind = "SynthesisError"
	// ProviderAPI indicates a transport or HTTP-level failure from either provider.
	ProviderAPI Kind = "ProviderAPIError"
	// Parsing indicates a payload from which nothing could be recovered.
	Parsing Kind = "ParsingError"
	// Sandbox indicates a provisioning or transport failure around code execution.
	Sandbox Kind = "SandboxError"
	// Unexpected is reported for anything outside the taxonomy.
	Unexpected Kind = "UnexpectedError"
)

// Error wraps an underlying error with a kind, a human-friendly message and
// structured details.
type Error struct {
	Kind       Kind
	Message    string
	Details    map[string]any
	RetryAfter time.Duration
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// WithDetail attaches a structured detail and returns the receiver.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Retryable reports whether the retry executor may attempt the failed
// operation again.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case RateLimit, Reasoning, Synthesis:
		return true
	case ProviderAPI:
		// Client-side HTTP errors will fail the same way on every attempt.
		if e.StatusCode >= 400 && e.StatusCode < 500 &&
			e.StatusCode != http.StatusRequestTimeout && e.StatusCode != http.StatusTooManyRequests {
			return false
		}
		return true
	}
	return false
}

func New(kind Kind, msg string) *Error             { return &Error{Kind: kind, Message: msg} }
func Wrap(kind Kind, msg string, err error) *Error { return &Error{Kind: kind, Message: msg, Err: err} }

func NewValidation(msg string) *Error    { return New(Validation, msg) }
func NewConfiguration(msg string) *Error { return New(Configuration, msg) }

// NewRateLimit builds a RateLimitError carrying the time until a token is
// available.
func NewRateLimit(msg string, retryAfter time.Duration) *Error {
	e := &Error{Kind: RateLimit, Message: msg, RetryAfter: retryAfter}
	return e.WithDetail("retry_after", retryAfter.Seconds())
}

func NewReasoning(msg string, err error) *Error { return Wrap(Reasoning, msg, err) }
func NewSynthesis(msg string, err error) *Error { return Wrap(Synthesis, msg, err) }
func NewParsing(msg string, err error) *Error   { return Wrap(Parsing, msg, err) }
func NewSandbox(msg string, err error) *Error   { return Wrap(Sandbox, msg, err) }

// NewProviderAPI builds a transport-level provider failure. statusCode is 0
// when no HTTP response was received.
func NewProviderAPI(provider string, statusCode int, msg string, err error) *Error {
	e := &Error{Kind: ProviderAPI, Message: msg, StatusCode: statusCode, Err: err}
	e.WithDetail("provider", provider)
	if statusCode != 0 {
		e.WithDetail("status_code", statusCode)
	}
	return e
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of the first *Error in err's chain, or "" when err
// is not classified.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether err is a classified, retryable error.
func IsRetryable(err error) bool {
	if e, ok := As(err); ok {
		return e.Retryable()
	}
	return false
}
