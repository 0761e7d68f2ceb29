// Package events fans orchestration progress out to CLI and websocket
// subscribers.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one progress notification.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

const (
	TypeQueryStarted     = "query_started"
	TypePhaseCompleted   = "phase_completed"
	TypeStreamChunk      = "stream_chunk"
	TypeQueryCompleted   = "query_completed"
	TypeQueryFailed      = "query_failed"
	TypeSandboxCompleted = "sandbox_completed"
)

const subscriberBuffer = 100

// Bus delivers events to every subscriber. Slow subscribers drop events
// instead of blocking the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
}

func NewBus() *Bus {
	return &Bus{subscribers: make(map[string]chan Event)}
}

// Subscribe registers name and returns its channel. Subscribing an existing
// name replaces and closes the previous channel.
func (b *Bus) Subscribe(name string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.subscribers[name]; ok {
		close(old)
	}
	ch := make(chan Event, subscriberBuffer)
	b.subscribers[name] = ch
	return ch
}

func (b *Bus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[name]; ok {
		delete(b.subscribers, name)
		close(ch)
	}
}

// Publish is safe on a nil Bus.
func (b *Bus) Publish(eventType string, data map[string]any) {
	if b == nil {
		return
	}
	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}

	// hold the read lock while sending so Unsubscribe cannot close a channel mid-send
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

func QueryStarted(queryID, query string) map[string]any {
	return map[string]any{"query_id": queryID, "query": query}
}

func PhaseCompleted(queryID, phase string, d time.Duration) map[string]any {
	return map[string]any{
		"query_id":    queryID,
		"phase":       phase,
		"duration_ms": d.Milliseconds(),
	}
}

func StreamChunk(queryID, chunk string) map[string]any {
	return map[string]any{"query_id": queryID, "chunk": chunk}
}

func QueryCompleted(queryID string, d time.Duration) map[string]any {
	return map[string]any{"query_id": queryID, "duration_ms": d.Milliseconds()}
}

func QueryFailed(queryID, kind, message string) map[string]any {
	return map[string]any{"query_id": queryID, "error_type": kind, "error": message}
}

func SandboxCompleted(success bool, exitCode int, ms float64) map[string]any {
	return map[string]any{
		"success":           success,
		"exit_code":         exitCode,
		"execution_time_ms": ms,
	}
}
