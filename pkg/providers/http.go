package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/buger/jsonparser"

	"github.com/anilymngl/codemind/pkg/apperr"
	"github.com/anilymngl/codemind/pkg/utils"
)

const maxErrorBody = 64 << 10

// postJSON sends body to url and returns the response when the status is
// 2xx. Any other status is read, closed and mapped to a classified error.
func postJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", provider, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", provider, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return nil, statusError(provider, resp.StatusCode, resp.Header, raw, time.Now())
}

// statusError classifies a non-2xx provider reply.
func statusError(provider string, status int, h http.Header, body []byte, now time.Time) error {
	msg := fmt.Sprintf("%s API error (status %d): %s", provider, status, errorMessage(body))
	switch {
	case utils.IsRateLimitResponse(status, string(body)):
		e := apperr.NewRateLimit(msg, utils.RetryAfterFromHeaders(h, now))
		e.StatusCode = status
		return e.WithDetail("provider", provider).WithDetail("status_code", status)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e := apperr.NewConfiguration(msg)
		e.StatusCode = status
		return e.WithDetail("provider", provider).WithDetail("status_code", status)
	default:
		return apperr.NewProviderAPI(provider, status, msg, nil)
	}
}

// errorMessage pulls error.message or error out of a provider error body.
func errorMessage(body []byte) string {
	if msg, err := jsonparser.GetString(body, "error", "message"); err == nil && msg != "" {
		return msg
	}
	if msg, err := jsonparser.GetString(body, "error"); err == nil && msg != "" {
		return msg
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 300 {
		text = text[:300] + "..."
	}
	if text == "" {
		return "empty body"
	}
	return text
}

func decodeJSON(provider string, r io.Reader, v any) error {
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return apperr.NewProviderAPI(provider, 0, "failed to decode "+provider+" response", err)
	}
	return nil
}
