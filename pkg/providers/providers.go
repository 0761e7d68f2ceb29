// Package providers holds the model backends the reasoning and synthesis
// clients talk to.
package providers

import (
	"context"
	"strings"
	"time"

	"github.com/anilymngl/codemind/pkg/apperr"
	"github.com/anilymngl/codemind/pkg/utils"
)

// Provider names accepted by the factories.
const (
	Gemini    = "gemini"
	Anthropic = "anthropic"
	Ollama    = "ollama"
)

// Config selects and configures one backend.
type Config struct {
	Provider string        `yaml:"provider"`
	Model    string        `yaml:"model"`
	APIKey   string        `yaml:"-"`
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Remote reports whether the provider needs an API key.
func (c Config) Remote() bool {
	return strings.ToLower(c.Provider) != Ollama
}

// ReasoningRequest is one planning call.
type ReasoningRequest struct {
	Prompt      string
	Temperature float64
	MaxTokens   int
	// Thinking asks the model to return its thought summaries.
	Thinking bool
}

// RawResponse is the unparsed model reply.
type RawResponse struct {
	Text     string
	Thoughts []string
}

// SynthesisRequest is one code generation call.
type SynthesisRequest struct {
	System string
	User   string
	// Prefill seeds the assistant turn before the model continues it.
	Prefill     []string
	Temperature float64
	MaxTokens   int
}

// ReasoningService produces a structured plan as raw text.
type ReasoningService interface {
	Name() string
	Reason(ctx context.Context, req ReasoningRequest) (RawResponse, error)
}

// SynthesisService produces code as raw text, optionally streamed.
type SynthesisService interface {
	Name() string
	Synthesize(ctx context.Context, req SynthesisRequest) (string, error)
	Stream(ctx context.Context, req SynthesisRequest, onChunk func(string) error) error
}

func validate(cfg *Config, defaultModel, defaultURL string) error {
	if cfg.Remote() && strings.TrimSpace(cfg.APIKey) == "" {
		return apperr.NewConfiguration(cfg.Provider + " API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return nil
}

// NewReasoningService builds the backend named by cfg.Provider.
func NewReasoningService(cfg Config, logger *utils.Logger) (ReasoningService, error) {
	switch strings.ToLower(cfg.Provider) {
	case Gemini, "":
		cfg.Provider = Gemini
		return NewGeminiClient(cfg, logger)
	case Ollama:
		return NewOllamaClient(cfg, logger)
	default:
		return nil, apperr.NewConfiguration("unsupported reasoning provider: " + cfg.Provider)
	}
}

// NewSynthesisService builds the backend named by cfg.Provider.
func NewSynthesisService(cfg Config, logger *utils.Logger) (SynthesisService, error) {
	switch strings.ToLower(cfg.Provider) {
	case Anthropic, "":
		cfg.Provider = Anthropic
		return NewAnthropicClient(cfg, logger)
	case Ollama:
		return NewOllamaClient(cfg, logger)
	default:
		return nil, apperr.NewConfiguration("unsupported synthesis provider: " + cfg.Provider)
	}
}
