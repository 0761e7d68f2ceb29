package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/buger/jsonparser"

	"github.com/anilymngl/codemind/pkg/apperr"
)

// RemoteBackend provisions environments through a JSON sandbox service:
//
//	POST   /sandboxes                 {template, timeout_ms, memory_mb} -> {id}
//	POST   /sandboxes/{id}/packages   {name}
//	POST   /sandboxes/{id}/run        {language, code} -> {stdout, stderr, exit_code}
//	DELETE /sandboxes/{id}
type RemoteBackend struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewRemoteBackend(cfg Config) (*RemoteBackend, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, apperr.NewConfiguration("sandbox API key is required for the remote backend")
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, apperr.NewConfiguration(fmt.Sprintf("invalid sandbox base_url %q", cfg.BaseURL))
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}
	return &RemoteBackend{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		// runs may take the whole sandbox timeout
		http: &http.Client{Timeout: timeout + time.Minute},
	}, nil
}

func (b *RemoteBackend) Name() string { return BackendRemote }

func (b *RemoteBackend) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal sandbox request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create sandbox request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+b.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("sandbox request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		e := apperr.NewSandbox(fmt.Sprintf("sandbox API error (status %d): %s", resp.StatusCode, remoteMessage(raw)), nil)
		e.StatusCode = resp.StatusCode
		return e.WithDetail("status_code", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode sandbox response: %w", err)
	}
	return nil
}

func remoteMessage(body []byte) string {
	for _, path := range [][]string{{"error", "message"}, {"message"}, {"error"}} {
		if msg, err := jsonparser.GetString(body, path...); err == nil && msg != "" {
			return msg
		}
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return s
	}
	return "empty body"
}

func (b *RemoteBackend) Create(ctx context.Context, spec Spec) (Environment, error) {
	var created struct {
		ID string `json:"id"`
	}
	err := b.do(ctx, http.MethodPost, "/sandboxes", map[string]any{
		"template":   spec.Template,
		"timeout_ms": spec.Timeout.Milliseconds(),
		"memory_mb":  spec.MemoryMB,
	}, &created)
	if err != nil {
		return nil, err
	}
	if created.ID == "" {
		return nil, fmt.Errorf("sandbox service returned no id")
	}
	return &remoteEnv{backend: b, id: created.ID}, nil
}

type remoteEnv struct {
	backend *RemoteBackend
	id      string
}

func (e *remoteEnv) path(suffix string) string {
	return "/sandboxes/" + url.PathEscape(e.id) + suffix
}

func (e *remoteEnv) Install(ctx context.Context, pkg string) error {
	return e.backend.do(ctx, http.MethodPost, e.path("/packages"), map[string]string{"name": pkg}, nil)
}

func (e *remoteEnv) Run(ctx context.Context, code string) (Process, error) {
	var out struct {
		Stdout   string `json:"stdout"`
		Stderr   string `json:"stderr"`
		ExitCode int    `json:"exit_code"`
	}
	err := e.backend.do(ctx, http.MethodPost, e.path("/run"), map[string]string{"language": "python", "code": code}, &out)
	if err != nil {
		return Process{}, err
	}
	return Process{Stdout: out.Stdout, Stderr: out.Stderr, ExitCode: out.ExitCode}, nil
}

// Destroy treats an already missing sandbox as destroyed.
func (e *remoteEnv) Destroy(ctx context.Context) error {
	err := e.backend.do(ctx, http.MethodDelete, e.path(""), nil, nil)
	if ae, ok := apperr.As(err); ok && ae.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}
