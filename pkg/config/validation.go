package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/anilymngl/codemind/pkg/apperr"
	"github.com/anilymngl/codemind/pkg/providers"
	"github.com/anilymngl/codemind/pkg/sandbox"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for field '%s': %s", e.Field, e.Message)
}

// ValidationResult contains the result of a configuration validation
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []string
}

func (r *ValidationResult) IsValid() bool { return len(r.Errors) == 0 }

func (r *ValidationResult) add(field, format string, args ...any) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// ErrorMessages returns all error messages as a slice
func (r *ValidationResult) ErrorMessages() []string {
	messages := make([]string, len(r.Errors))
	for i, err := range r.Errors {
		messages[i] = err.Error()
	}
	return messages
}

// CombinedError returns every error as one ConfigurationError.
func (r *ValidationResult) CombinedError() error {
	if len(r.Errors) == 0 {
		return nil
	}
	e := apperr.NewConfiguration("configuration validation failed:\n" + strings.Join(r.ErrorMessages(), "\n"))
	fields := make([]string, len(r.Errors))
	for i, err := range r.Errors {
		fields[i] = err.Field
	}
	return e.WithDetail("fields", fields)
}

// ValidateAll checks every section and collects all problems. Credentials
// are checked later, when the components are built.
func (c *Config) ValidateAll() *ValidationResult {
	result := &ValidationResult{}

	if err := c.Orchestrator.Validate(); err != nil {
		result.add("orchestrator", "%s", messageOf(err))
	}
	c.validateStage(result, "reasoning", c.Reasoning, []string{providers.Gemini, providers.Ollama})
	c.validateStage(result, "synthesis", c.Synthesis, []string{providers.Anthropic, providers.Ollama})

	sb := c.Sandbox
	switch sb.Backend {
	case sandbox.BackendLocal, "":
	case sandbox.BackendRemote:
		if _, err := url.ParseRequestURI(sb.BaseURL); err != nil {
			result.add("sandbox.base_url", "must be an absolute URL for the remote backend, got %q", sb.BaseURL)
		}
	default:
		result.add("sandbox.backend", "unknown backend %q", sb.Backend)
	}
	if sb.Timeout <= 0 {
		result.add("sandbox.timeout", "must be positive")
	}
	if sb.MemoryMB <= 0 {
		result.add("sandbox.memory_mb", "must be positive")
	}

	if strings.TrimSpace(c.Server.Addr) == "" {
		result.add("server.addr", "cannot be empty")
	}
	if c.Server.ShutdownTimeout < 0 {
		result.add("server.shutdown_timeout", "cannot be negative")
	}

	if c.Orchestrator.MaxRetries > 10 {
		result.Warnings = append(result.Warnings, "More than 10 retries can hold a query for minutes")
	}
	if c.Reasoning.Temperature > 1.5 || c.Synthesis.Temperature > 1.5 {
		result.Warnings = append(result.Warnings, "High temperature (>1.5) may lead to unpredictable outputs")
	}
	return result
}

func (c *Config) validateStage(result *ValidationResult, name string, s StageConfig, allowed []string) {
	known := false
	for _, p := range allowed {
		if s.Provider == p {
			known = true
		}
	}
	if !known {
		result.add(name+".provider", "must be one of %s, got %q", strings.Join(allowed, ", "), s.Provider)
	}
	if s.BaseURL != "" {
		if _, err := url.ParseRequestURI(s.BaseURL); err != nil {
			result.add(name+".base_url", "invalid URL %q", s.BaseURL)
		}
	}
	if s.Timeout < 0 {
		result.add(name+".timeout", "cannot be negative")
	}
	if s.Temperature < 0 || s.Temperature > 2 {
		result.add(name+".temperature", "must be within [0, 2], got %v", s.Temperature)
	}
	if s.MaxTokens <= 0 {
		result.add(name+".max_tokens", "must be positive, got %d", s.MaxTokens)
	}
	if s.RateLimit.RatePerMinute <= 0 || s.RateLimit.BurstLimit <= 0 {
		result.add(name+".rate_limit", "rate_per_minute and burst_limit must be positive")
	}
}

func messageOf(err error) string {
	if e, ok := apperr.As(err); ok {
		return e.Message
	}
	return err.Error()
}

// Validate is ValidateAll reduced to a single ConfigurationError.
func (c *Config) Validate() error {
	return c.ValidateAll().CombinedError()
}
