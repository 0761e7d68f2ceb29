package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	ollama "github.com/ollama/ollama/api"

	"github.com/anilymngl/codemind/pkg/utils"
)

const defaultOllamaModel = "qwen3:8b"

// OllamaClient talks to a local Ollama server and can serve either role.
type OllamaClient struct {
	cfg    Config
	client *ollama.Client
	logger *utils.Logger
}

// NewOllamaClient uses cfg.BaseURL when set, otherwise OLLAMA_HOST.
func NewOllamaClient(cfg Config, logger *utils.Logger) (*OllamaClient, error) {
	cfg.Provider = Ollama
	if cfg.Model == "" {
		cfg.Model = defaultOllamaModel
	}
	cfg.Model = strings.TrimPrefix(cfg.Model, "ollama:")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 300 * time.Second
	}

	var client *ollama.Client
	if cfg.BaseURL != "" {
		base, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid ollama base url %q: %w", cfg.BaseURL, err)
		}
		client = ollama.NewClient(base, &http.Client{Timeout: cfg.Timeout})
	} else {
		var err error
		client, err = ollama.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("could not create ollama client: %w", err)
		}
	}
	return &OllamaClient{cfg: cfg, client: client, logger: logger}, nil
}

func (c *OllamaClient) Name() string { return Ollama }

func (c *OllamaClient) chat(ctx context.Context, req *ollama.ChatRequest, fn ollama.ChatResponseFunc) error {
	if err := c.client.Chat(ctx, req, fn); err != nil {
		var se ollama.StatusError
		if errors.As(err, &se) {
			return statusError(Ollama, se.StatusCode, nil, []byte(se.ErrorMessage), time.Now())
		}
		return fmt.Errorf("ollama chat failed: %w", err)
	}
	return nil
}

func options(temperature float64, maxTokens int) map[string]interface{} {
	opts := map[string]interface{}{"temperature": temperature}
	if maxTokens > 0 {
		opts["num_predict"] = maxTokens
	}
	return opts
}

// Reason runs one non-streaming chat. Thinking output, when the model
// produces any, becomes the thoughts list.
func (c *OllamaClient) Reason(ctx context.Context, req ReasoningRequest) (RawResponse, error) {
	stream := false
	chatReq := &ollama.ChatRequest{
		Model:    c.cfg.Model,
		Messages: []ollama.Message{{Role: "user", Content: req.Prompt}},
		Stream:   &stream,
		Options:  options(req.Temperature, req.MaxTokens),
	}
	if req.Thinking {
		chatReq.Think = &ollama.ThinkValue{Value: true}
	}

	var text, thinking strings.Builder
	err := c.chat(ctx, chatReq, func(res ollama.ChatResponse) error {
		text.WriteString(res.Message.Content)
		thinking.WriteString(res.Message.Thinking)
		return nil
	})
	if err != nil {
		return RawResponse{}, err
	}
	raw := RawResponse{Text: strings.TrimSpace(text.String())}
	if t := strings.TrimSpace(thinking.String()); t != "" {
		raw.Thoughts = []string{t}
	}
	return raw, nil
}

func (c *OllamaClient) synthesisRequest(req SynthesisRequest, stream bool) *ollama.ChatRequest {
	var messages []ollama.Message
	if req.System != "" {
		messages = append(messages, ollama.Message{Role: "system", Content: req.System})
	}
	messages = append(messages, ollama.Message{Role: "user", Content: req.User})
	if prefill := prefillText(req.Prefill); prefill != "" {
		messages = append(messages, ollama.Message{Role: "assistant", Content: prefill})
	}
	return &ollama.ChatRequest{
		Model:    c.cfg.Model,
		Messages: messages,
		Stream:   &stream,
		Options:  options(req.Temperature, req.MaxTokens),
	}
}

func (c *OllamaClient) Synthesize(ctx context.Context, req SynthesisRequest) (string, error) {
	var text strings.Builder
	err := c.chat(ctx, c.synthesisRequest(req, false), func(res ollama.ChatResponse) error {
		text.WriteString(res.Message.Content)
		return nil
	})
	if err != nil {
		return "", err
	}
	return text.String(), nil
}

func (c *OllamaClient) Stream(ctx context.Context, req SynthesisRequest, onChunk func(string) error) error {
	return c.chat(ctx, c.synthesisRequest(req, true), func(res ollama.ChatResponse) error {
		if res.Message.Content == "" {
			return nil
		}
		return onChunk(res.Message.Content)
	})
}
