package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anilymngl/codemind/pkg/events"
	"github.com/anilymngl/codemind/pkg/normalize"
	"github.com/anilymngl/codemind/pkg/orchestrator"
	"github.com/anilymngl/codemind/pkg/sandbox"
	"github.com/anilymngl/codemind/pkg/utils"
)

type stubReasoner struct{}

func (stubReasoner) GetReasoning(context.Context, string, map[string]any) (normalize.Reasoning, error) {
	return normalize.Reasoning{ImplementationStrategy: []string{"add the numbers"}}, nil
}

type stubSynthesizer struct{}

func (stubSynthesizer) GenerateCode(context.Context, string, normalize.Reasoning, map[string]any) (normalize.Synthesis, error) {
	return normalize.Synthesis{CodeCompletion: "print(1 + 1)", Explanation: "adds"}, nil
}

type stubSandbox struct {
	mu       sync.Mutex
	executed []string
}

func (s *stubSandbox) Execute(_ context.Context, code string) (sandbox.ExecutionResult, error) {
	s.mu.Lock()
	s.executed = append(s.executed, code)
	s.mu.Unlock()
	return sandbox.ExecutionResult{Success: true, Output: "2\n", Artifacts: []string{}}, nil
}

func (s *stubSandbox) ran() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.executed...)
}

func newServer(t *testing.T, bus *events.Bus) *Server {
	s, _ := newServerWithSandbox(t, bus)
	return s
}

func newServerWithSandbox(t *testing.T, bus *events.Bus) (*Server, *stubSandbox) {
	t.Helper()
	sb := &stubSandbox{}
	o, err := orchestrator.New(orchestrator.DefaultConfig(), stubReasoner{}, stubSynthesizer{}, sb, utils.Discard(),
		orchestrator.WithBus(bus))
	require.NoError(t, err)
	return New(o, bus, utils.Discard(), "127.0.0.1:0", time.Second), sb
}

// do sends a same-origin JSON request.
func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	return doWithHeaders(t, h, method, path, body, map[string]string{"Content-Type": "application/json"})
}

func doWithHeaders(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

func TestQueryEndpoint(t *testing.T) {
	h := newServer(t, nil).Handler()

	rec, out := do(t, h, http.MethodPost, "/api/query", `{"query":"add 1 and 1","context":{"api_key":"sk-123","lang":"python"}}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "print(1 + 1)", out["code"])

	ctx := out["metadata"].(map[string]any)["context"].(map[string]any)
	assert.Equal(t, "[FILTERED]", ctx["api_key"])
	assert.Equal(t, "python", ctx["lang"])
}

func TestQueryEndpointFailures(t *testing.T) {
	h := newServer(t, nil).Handler()

	rec, out := do(t, h, http.MethodPost, "/api/query", `{"query":"  "}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "ValidationError", out["error"].(map[string]any)["type"])

	rec, _ = do(t, h, http.MethodPost, "/api/query", `{"query":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/api/query", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRunSandboxEndpoint(t *testing.T) {
	h := newServer(t, nil).Handler()

	rec, out := do(t, h, http.MethodPost, "/api/run_sandbox", `{"code":"print(1 + 1)"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "2\n", out["output"])

	rec, _ = do(t, h, http.MethodPost, "/api/run_sandbox", `{"code":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRejectsCrossSiteRequests(t *testing.T) {
	s, sb := newServerWithSandbox(t, nil)
	h := s.Handler()
	body := `{"code":"import os; os.system('id')"}`

	tests := []struct {
		name    string
		headers map[string]string
		status  int
	}{
		{"text/plain body", map[string]string{"Content-Type": "text/plain"}, http.StatusUnsupportedMediaType},
		{"form body", map[string]string{"Content-Type": "application/x-www-form-urlencoded"}, http.StatusUnsupportedMediaType},
		{"no content type", map[string]string{}, http.StatusUnsupportedMediaType},
		{"foreign origin", map[string]string{"Content-Type": "application/json", "Origin": "https://evil.example"}, http.StatusForbidden},
		{"look-alike origin", map[string]string{"Content-Type": "application/json", "Origin": "https://localhost.evil.example"}, http.StatusForbidden},
		{"simple cross-site post", map[string]string{"Content-Type": "text/plain", "Origin": "https://evil.example"}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, out := doWithHeaders(t, h, http.MethodPost, "/api/run_sandbox", body, tt.headers)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, false, out["success"])

			rec, _ = doWithHeaders(t, h, http.MethodPost, "/api/query", `{"query":"add"}`, tt.headers)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
	assert.Empty(t, sb.ran())
	assert.Empty(t, s.pipeline.History(orchestrator.HistoryFilter{}))

	rec, _ := doWithHeaders(t, h, http.MethodPost, "/api/run_sandbox", `{"code":"print(2)"}`,
		map[string]string{"Content-Type": "application/json; charset=utf-8", "Origin": "http://localhost:5173"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"print(2)"}, sb.ran())
}

func TestAllowedOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"http://127.0.0.1:8080", true},
		{"http://[::1]:8080", true},
		{"http://LOCALHOST", true},
		{"https://localhost.evil.example", false},
		{"https://evil.example/localhost", false},
		{"http://127.0.0.1.evil.example", false},
		{"null", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, allowedOrigin(r), tt.origin)
	}
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	ts := httptest.NewServer(newServer(t, events.NewBus()).Handler())
	defer ts.Close()

	header := http.Header{"Origin": []string{"https://localhost.evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHistoryEndpoint(t *testing.T) {
	h := newServer(t, nil).Handler()
	do(t, h, http.MethodPost, "/api/query", `{"query":"first"}`)
	do(t, h, http.MethodPost, "/api/query", `{"query":""}`)
	do(t, h, http.MethodPost, "/api/query", `{"query":"third"}`)

	_, out := do(t, h, http.MethodGet, "/api/history", "")
	assert.Equal(t, 3.0, out["count"])

	_, out = do(t, h, http.MethodGet, "/api/history?limit=1&success_only=true", "")
	require.Equal(t, 1.0, out["count"])
	entry := out["entries"].([]any)[0].(map[string]any)
	assert.Equal(t, "third", entry["query"])

	_, out = do(t, h, http.MethodGet, "/api/history?success_only=true", "")
	assert.Equal(t, 2.0, out["count"])

	rec, _ := do(t, h, http.MethodGet, "/api/history?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = do(t, h, http.MethodGet, "/api/history?success_only=maybe", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndStats(t *testing.T) {
	h := newServer(t, nil).Handler()

	rec, out := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", out["status"])

	do(t, h, http.MethodPost, "/api/query", `{"query":"one"}`)
	_, out = do(t, h, http.MethodGet, "/api/stats", "")
	assert.Equal(t, 1.0, out["queries"])
	assert.Equal(t, 0.0, out["connections"])
}

func TestWebSocketStreamsEvents(t *testing.T) {
	bus := events.NewBus()
	ts := httptest.NewServer(newServer(t, bus).Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var status map[string]any
	require.NoError(t, conn.ReadJSON(&status))
	assert.Equal(t, "connection_status", status["type"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping"}))
	var pong map[string]any
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, "pong", pong["type"])

	resp, err := http.Post(ts.URL+"/api/query", "application/json", strings.NewReader(`{"query":"add"}`))
	require.NoError(t, err)
	resp.Body.Close()

	var seen []string
	for {
		var ev events.Event
		require.NoError(t, conn.ReadJSON(&ev))
		seen = append(seen, ev.Type)
		if ev.Type == events.TypeQueryCompleted {
			break
		}
	}
	assert.Equal(t, []string{
		events.TypeQueryStarted,
		events.TypePhaseCompleted,
		events.TypePhaseCompleted,
		events.TypeQueryCompleted,
	}, seen)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	s := newServer(t, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
