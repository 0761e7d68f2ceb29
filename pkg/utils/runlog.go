package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// RunLogger writes structured JSONL events (phase timings, retries, sandbox
// executions) for a single process run.
type RunLogger struct {
	mu sync.Mutex
	w  io.Writer
	c  io.Closer
	id string
}

var (
	globalRunLogger *RunLogger
	runOnce         sync.Once
)

// GetRunLogger creates (once) and returns the run logger.
// Log file: .codemind/runlogs/run-YYYYmmdd_HHMMSS.jsonl
func GetRunLogger() *RunLogger {
	runOnce.Do(func() {
		_ = os.MkdirAll(filepath.Join(".codemind", "runlogs"), 0755)
		name := time.Now().Format("20060102_150405")
		path := filepath.Join(".codemind", "runlogs", fmt.Sprintf("run-%s.jsonl", name))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			// run logging is disabled if the file can't be opened
			globalRunLogger = &RunLogger{}
			return
		}
		globalRunLogger = &RunLogger{w: f, c: f, id: name}
	})
	return globalRunLogger
}

// NewRunLogger writes events to w.
func NewRunLogger(w io.Writer) *RunLogger {
	return &RunLogger{w: w, id: time.Now().Format("20060102_150405")}
}

// ID identifies the run.
func (r *RunLogger) ID() string {
	if r == nil {
		return ""
	}
	return r.id
}

// Close closes the underlying file, if open.
func (r *RunLogger) Close() error {
	if r == nil || r.c == nil {
		return nil
	}
	return r.c.Close()
}

var redactedTokens = []string{"GEMINI_API_KEY", "ANTHROPIC_API_KEY", "SANDBOX_API_KEY", "x-api-key", "x-goog-api-key"}

func redact(s string) string {
	out := s
	for _, k := range redactedTokens {
		out = strings.ReplaceAll(out, k, "<REDACTED>")
	}
	return out
}

// LogEvent writes a JSON line with the provided type and fields.
func (r *RunLogger) LogEvent(eventType string, fields map[string]any) {
	if r == nil || r.w == nil {
		return
	}
	payload := map[string]any{
		"ts":   time.Now().Format(time.RFC3339Nano),
		"type": eventType,
	}
	for k, v := range fields {
		if s, ok := v.(string); ok {
			v = redact(s)
		}
		payload[k] = v
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = r.w.Write(append(b, '\n'))
}

// LogPerformance records how long an operation took, in float milliseconds.
func (r *RunLogger) LogPerformance(operation string, d time.Duration, fields map[string]any) {
	payload := map[string]any{
		"operation":   operation,
		"duration_ms": float64(d) / float64(time.Millisecond),
	}
	for k, v := range fields {
		payload[k] = v
	}
	r.LogEvent("performance", payload)
}
