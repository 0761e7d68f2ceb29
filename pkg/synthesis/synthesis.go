// Package synthesis generates code from a query and its reasoning plan.
package synthesis

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

type Config struct {
	APIKey      string           `yaml:"-"`
	Stream      bool             `yaml:"stream"`
	Temperature float64          `yaml:"temperature"`
	MaxTokens   int              `yaml:"max_tokens"`
	RateLimit   ratelimit.Config `yaml:"rate_limit"`
}

func DefaultConfig() Config {
	return Config{Stream: true, Temperature: 0.2, MaxTokens: 4096, RateLimit: ratelimit.DefaultConfig()}
}

// Client makes one logical service call per GenerateCode. A broken stream
// is replaced by a single non-streaming call under the same token.
type Client struct {
	cfg     Config
	svc     providers.SynthesisService
	limiter *ratelimit.Limiter
	logger  *utils.Logger
	runlog  *utils.RunLogger
	onChunk func(context.Context, string)
}

type Option func(*Client)

func WithLimiter(l *ratelimit.Limiter) Option  { return func(c *Client) { c.limiter = l } }
func WithRunLogger(rl *utils.RunLogger) Option { return func(c *Client) { c.runlog = rl } }

// WithChunkHandler observes streamed fragments as they arrive. It receives
// the context of the GenerateCode call that produced them.
func WithChunkHandler(fn func(context.Context, string)) Option {
	return func(c *Client) { c.onChunk = fn }
}

func New(cfg Config, svc providers.SynthesisService, logger *utils.Logger, opts ...Option) (*Client, error) {
	if svc == nil {
		return nil, apperr.NewConfiguration("synthesis service is required")
	}
	if svc.Name() != providers.Ollama && strings.TrimSpace(cfg.APIKey) == "" {
		return nil, apperr.NewConfiguration(svc.Name() + " API key is required for synthesis")
	}
	c := &Client{cfg: cfg, svc: svc, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	if c.limiter == nil {
		l, err := cfg.RateLimit.Build(ratelimit.WithName("synthesis"), ratelimit.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		c.limiter = l
	}
	return c, nil
}

// GenerateCode implements plan for query. The plan's thoughts are sent as
// the start of the model's reply.
func (c *Client) GenerateCode(ctx context.Context, query string, plan normalize.Reasoning, extra map[string]any) (normalize.Synthesis, error) {
	if strings.TrimSpace(query) == "" {
		return normalize.Synthesis{}, apperr.NewValidation("query must not be empty")
	}
	if err := c.limiter.Check(); err != nil {
		return normalize.Synthesis{}, err
	}

	req := providers.SynthesisRequest{
		System:      prompts.SynthesisSystem(),
		User:        prompts.SynthesisUser(query, plan, extra),
		Prefill:     plan.Thoughts,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}

	c.logger.LogProcessStep("Requesting code from " + c.svc.Name())
	start := time.Now()
	text, streamed, err := c.complete(ctx, req)
	if err != nil {
		c.logger.LogError(err)
		return normalize.Synthesis{}, classify(ctx, err)
	}
	if strings.TrimSpace(text) == "" {
		return normalize.Synthesis{}, apperr.NewProviderAPI(c.svc.Name(), 0, "empty response from synthesis service", nil)
	}

	out, outcome, err := normalize.NormalizeSynthesis(text)
	if err != nil {
		return normalize.Synthesis{}, err
	}
	if out.Metadata == nil {
		out.Metadata = map[string]string{}
	}
	out.Metadata["recovery_stage"] = outcome.Stage.String()
	out.Metadata["format"] = outcome.Format.String()
	out.Metadata["provider"] = c.svc.Name()

	if outcome.Fallback() {
		c.logger.Warnf("synthesis reply could not be parsed, using fallback code")
	}
	c.runlog.LogPerformance("synthesis", time.Since(start), map[string]any{
		"provider": c.svc.Name(),
		"stage":    outcome.Stage.String(),
		"streamed": streamed,
		"chars":    len(text),
	})
	return out, nil
}

// complete returns the full reply and whether it came from a stream.
func (c *Client) complete(ctx context.Context, req providers.SynthesisRequest) (string, bool, error) {
	if !c.cfg.Stream {
		text, err := c.svc.Synthesize(ctx, req)
		return text, false, err
	}

	var b strings.Builder
	err := c.svc.Stream(ctx, req, func(chunk string) error {
		b.WriteString(chunk)
		if c.onChunk != nil {
			c.onChunk(ctx, chunk)
		}
		return nil
	})
	if err == nil {
		return b.String(), true, nil
	}
	if ctx.Err() != nil {
		return "", true, err
	}

	c.logger.Warnf("synthesis stream failed after %d bytes, retrying without streaming: %v", b.Len(), err)
	c.runlog.LogEvent("stream_fallback", map[string]any{"provider": c.svc.Name(), "error": err.Error(), "bytes": b.Len()})
	text, err := c.svc.Synthesize(ctx, req)
	return text, false, err
}

func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	return apperr.NewSynthesis("synthesis request failed", err)
}
