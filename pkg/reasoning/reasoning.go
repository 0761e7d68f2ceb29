// Package reasoning turns a user query into a structured implementation plan.
package reasoning

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anilymngl/codemind/pkg/apperr"
	"github.com/anilymngl/codemind/pkg/normalize"
	"github.com/anilymngl/codemind/pkg/prompts"
	"github.com/anilymngl/codemind/pkg/providers"
	"github.com/anilymngl/codemind/pkg/ratelimit"
	"github.com/anilymngl/codemind/pkg/utils"
)

// Config holds the per-client settings.
type Config struct {
	APIKey      string           `yaml:"-"`
	Thinking    bool             `yaml:"thinking"`
	Temperature float64          `yaml:"temperature"`
	MaxTokens   int              `yaml:"max_tokens"`
	RateLimit   ratelimit.Config `yaml:"rate_limit"`
}

// DefaultConfig enables thought summaries.
func DefaultConfig() Config {
	return Config{Thinking: true, Temperature: 0.7, MaxTokens: 8192, RateLimit: ratelimit.DefaultConfig()}
}

// Client makes exactly one service call per GetReasoning. Retrying is the
// caller's job.
type Client struct {
	cfg     Config
	svc     providers.ReasoningService
	limiter *ratelimit.Limiter
	logger  *utils.Logger
	runlog  *utils.RunLogger
}

type Option func(*Client)

// WithLimiter replaces the limiter built from Config.RateLimit.
func WithLimiter(l *ratelimit.Limiter) Option { return func(c *Client) { c.limiter = l } }

func WithRunLogger(rl *utils.RunLogger) Option { return func(c *Client) { c.runlog = rl } }

// New fails with a ConfigurationError when a remote service has no key.
func New(cfg Config, svc providers.ReasoningService, logger *utils.Logger, opts ...Option) (*Client, error) {
	if svc == nil {
		return nil, apperr.NewConfiguration("reasoning service is required")
	}
	if svc.Name() != providers.Ollama && strings.TrimSpace(cfg.APIKey) == "" {
		return nil, apperr.NewConfiguration(svc.Name() + " API key is required for reasoning")
	}
	c := &Client{cfg: cfg, svc: svc, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	if c.limiter == nil {
		l, err := cfg.RateLimit.Build(ratelimit.WithName("reasoning"), ratelimit.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		c.limiter = l
	}
	return c, nil
}

// GetReasoning plans query. The reply always passes through the normalizer,
// so a malformed reply yields a fallback plan rather than an error.
func (c *Client) GetReasoning(ctx context.Context, query string, extra map[string]any) (normalize.Reasoning, error) {
	if strings.TrimSpace(query) == "" {
		return normalize.Reasoning{}, apperr.NewValidation("query must not be empty")
	}
	if err := c.limiter.Check(); err != nil {
		return normalize.Reasoning{}, err
	}

	c.logger.LogProcessStep("Requesting reasoning from " + c.svc.Name())
	start := time.Now()
	raw, err := c.svc.Reason(ctx, providers.ReasoningRequest{
		Prompt:      prompts.ReasoningPrompt(query, extra),
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		Thinking:    c.cfg.Thinking,
	})
	if err != nil {
		c.logger.LogError(err)
		return normalize.Reasoning{}, classify(ctx, err)
	}
	if strings.TrimSpace(raw.Text) == "" {
		return normalize.Reasoning{}, apperr.NewProviderAPI(c.svc.Name(), 0, "empty response from reasoning service", nil)
	}

	plan, outcome, err := normalize.NormalizeReasoning(raw.Text)
	if err != nil {
		return normalize.Reasoning{}, err
	}
	plan.Thoughts = append(plan.Thoughts, raw.Thoughts...)
	if plan.Metadata == nil {
		plan.Metadata = map[string]string{}
	}
	plan.Metadata["recovery_stage"] = outcome.Stage.String()
	plan.Metadata["format"] = outcome.Format.String()
	plan.Metadata["provider"] = c.svc.Name()

	if outcome.Fallback() {
		c.logger.Warnf("reasoning reply could not be parsed, using fallback plan")
	}
	c.runlog.LogPerformance("reasoning", time.Since(start), map[string]any{
		"provider": c.svc.Name(),
		"stage":    outcome.Stage.String(),
		"format":   outcome.Format.String(),
		"thoughts": len(plan.Thoughts),
	})
	return plan, nil
}

// classify leaves classified errors and the caller's own cancellation alone
// and tags the rest as ReasoningError.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	return apperr.NewReasoning("reasoning request failed", err)
}
