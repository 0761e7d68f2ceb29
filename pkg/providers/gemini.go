package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/anilymngl/codemind/pkg/apperr"
	"github.com/anilymngl/codemind/pkg/utils"
)

const (
	defaultGeminiModel = "gemini-2.5-flash"
	defaultGeminiURL   = "https://generativelanguage.googleapis.com"
)

// GeminiClient calls the generateContent REST endpoint.
type GeminiClient struct {
	cfg    Config
	http   *http.Client
	logger *utils.Logger
}

type geminiPart struct {
	Text    string `json:"text"`
	Thought bool   `json:"thought,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiThinkingConfig struct {
	IncludeThoughts bool `json:"includeThoughts"`
}

type geminiGenerationConfig struct {
	Temperature     float64               `json:"temperature"`
	MaxOutputTokens int                   `json:"maxOutputTokens,omitempty"`
	ThinkingConfig  *geminiThinkingConfig `json:"thinkingConfig,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		ThoughtsTokenCount   int `json:"thoughtsTokenCount"`
	} `json:"usageMetadata,omitempty"`
}

// NewGeminiClient validates cfg and fills in defaults.
func NewGeminiClient(cfg Config, logger *utils.Logger) (*GeminiClient, error) {
	cfg.Provider = Gemini
	if err := validate(&cfg, defaultGeminiModel, defaultGeminiURL); err != nil {
		return nil, err
	}
	return &GeminiClient{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, logger: logger}, nil
}

func (c *GeminiClient) Name() string { return Gemini }

// Reason sends one prompt. Parts flagged as thoughts are returned separately
// from the answer text.
func (c *GeminiClient) Reason(ctx context.Context, req ReasoningRequest) (RawResponse, error) {
	body := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}
	if req.Thinking {
		body.GenerationConfig.ThinkingConfig = &geminiThinkingConfig{IncludeThoughts: true}
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.cfg.BaseURL, c.cfg.Model)
	resp, err := postJSON(ctx, c.http, Gemini, url, map[string]string{"x-goog-api-key": c.cfg.APIKey}, body)
	if err != nil {
		return RawResponse{}, err
	}
	defer resp.Body.Close()

	var out geminiResponse
	if err := decodeJSON(Gemini, resp.Body, &out); err != nil {
		return RawResponse{}, err
	}
	if len(out.Candidates) == 0 {
		return RawResponse{}, apperr.NewProviderAPI(Gemini, resp.StatusCode, "no candidates in gemini response", nil)
	}

	var text strings.Builder
	var raw RawResponse
	for _, part := range out.Candidates[0].Content.Parts {
		if part.Thought {
			if t := strings.TrimSpace(part.Text); t != "" {
				raw.Thoughts = append(raw.Thoughts, t)
			}
			continue
		}
		text.WriteString(part.Text)
	}
	raw.Text = strings.TrimSpace(text.String())

	if out.UsageMetadata != nil {
		c.logger.Logf("gemini usage: prompt=%d candidates=%d thoughts=%d",
			out.UsageMetadata.PromptTokenCount, out.UsageMetadata.CandidatesTokenCount, out.UsageMetadata.ThoughtsTokenCount)
	}
	return raw, nil
}
