package providers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/anilymngl/codemind/pkg/apperr"
	"github.com/anilymngl/codemind/pkg/utils"
)

const (
	defaultAnthropicModel = "claude-sonnet-4-5"
	defaultAnthropicURL   = "https://api.anthropic.com"
	anthropicVersion      = "2023-06-01"
	defaultMaxTokens      = 4096
)

// AnthropicClient calls the messages API, with or without SSE streaming.
type AnthropicClient struct {
	cfg    Config
	http   *http.Client
	logger *utils.Logger
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Temperature float64            `json:"temperature"`
	Messages    []anthropicMessage `json:"messages"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// anthropicEvent covers the SSE payloads the stream reader acts on.
type anthropicEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewAnthropicClient validates cfg and fills in defaults.
func NewAnthropicClient(cfg Config, logger *utils.Logger) (*AnthropicClient, error) {
	cfg.Provider = Anthropic
	if err := validate(&cfg, defaultAnthropicModel, defaultAnthropicURL); err != nil {
		return nil, err
	}
	return &AnthropicClient{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, logger: logger}, nil
}

func (c *AnthropicClient) Name() string { return Anthropic }

func (c *AnthropicClient) request(req SynthesisRequest, stream bool) anthropicRequest {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	messages := []anthropicMessage{{Role: "user", Content: req.User}}
	// consecutive assistant turns are rejected, so thoughts share one turn
	if prefill := prefillText(req.Prefill); prefill != "" {
		messages = append(messages, anthropicMessage{Role: "assistant", Content: prefill})
	}
	return anthropicRequest{
		Model:       c.cfg.Model,
		MaxTokens:   maxTokens,
		System:      req.System,
		Temperature: req.Temperature,
		Messages:    messages,
		Stream:      stream,
	}
}

func (c *AnthropicClient) headers() map[string]string {
	return map[string]string{
		"x-api-key":         c.cfg.APIKey,
		"anthropic-version": anthropicVersion,
	}
}

// Synthesize sends one non-streaming request and returns the text blocks.
func (c *AnthropicClient) Synthesize(ctx context.Context, req SynthesisRequest) (string, error) {
	resp, err := postJSON(ctx, c.http, Anthropic, c.cfg.BaseURL+"/v1/messages", c.headers(), c.request(req, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out anthropicResponse
	if err := decodeJSON(Anthropic, resp.Body, &out); err != nil {
		return "", err
	}
	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	c.logger.Logf("anthropic usage: input=%d output=%d stop=%s", out.Usage.InputTokens, out.Usage.OutputTokens, out.StopReason)
	return text.String(), nil
}

// Stream sends a streaming request and hands each text delta to onChunk. It
// returns an error when the stream ends before message_stop.
func (c *AnthropicClient) Stream(ctx context.Context, req SynthesisRequest, onChunk func(string) error) error {
	headers := c.headers()
	headers["Accept"] = "text/event-stream"
	resp, err := postJSON(ctx, c.http, Anthropic, c.cfg.BaseURL+"/v1/messages", headers, c.request(req, true))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		var ev anthropicEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue // Skip malformed chunks
		}
		switch ev.Type {
		case "content_block_delta":
			if ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
				if err := onChunk(ev.Delta.Text); err != nil {
					return err
				}
			}
		case "message_stop":
			return nil
		case "error":
			return streamError(ev.Error.Type, ev.Error.Message)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading anthropic stream: %w", err)
	}
	return apperr.NewProviderAPI(Anthropic, 0, "anthropic stream ended before message_stop", nil)
}

func streamError(kind, message string) error {
	msg := fmt.Sprintf("anthropic stream error (%s): %s", kind, message)
	switch kind {
	case "rate_limit_error":
		return apperr.NewRateLimit(msg, 0).WithDetail("provider", Anthropic)
	case "overloaded_error":
		return apperr.NewProviderAPI(Anthropic, 529, msg, nil)
	case "authentication_error", "permission_error":
		return apperr.NewConfiguration(msg)
	default:
		return apperr.NewProviderAPI(Anthropic, 0, msg, nil)
	}
}

// prefillText joins thoughts into one assistant turn. Trailing whitespace
// is not accepted at the end of a prefill.
func prefillText(thoughts []string) string {
	var parts []string
	for _, t := range thoughts {
		if t = strings.TrimSpace(t); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.TrimRight(strings.Join(parts, "\n\n"), " \t\r\n")
}
