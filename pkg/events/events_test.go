package events

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_Subscribe(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe("cli")
	assert.NotNil(t, ch)

	b.mu.RLock()
	_, exists := b.subscribers["cli"]
	b.mu.RUnlock()
	assert.True(t, exists)
}

func TestBus_Unsubscribe(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe("cli")
	b.Unsubscribe("cli")

	_, open := <-ch
	assert.False(t, open)

	// unknown names are ignored
	b.Unsubscribe("missing")
}

func TestBus_ResubscribeClosesPrevious(t *testing.T) {
	b := NewBus()
	first := b.Subscribe("ws")
	second := b.Subscribe("ws")

	_, open := <-first
	assert.False(t, open)

	b.Publish(TypeQueryStarted, nil)
	select {
	case ev := <-second:
		assert.Equal(t, TypeQueryStarted, ev.Type)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("replacement subscriber did not receive event")
	}
}

func TestBus_Publish(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe("cli")

	b.Publish(TypeQueryStarted, QueryStarted("q1", "sort a list"))

	select {
	case ev := <-ch:
		assert.Equal(t, TypeQueryStarted, ev.Type)
		assert.Equal(t, "sort a list", ev.Data["query"])
		_, err := uuid.Parse(ev.ID)
		assert.NoError(t, err)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected event")
	}
}

func TestBus_PublishToMultipleSubscribers(t *testing.T) {
	b := NewBus()
	chans := []<-chan Event{b.Subscribe("a"), b.Subscribe("b")}

	b.Publish(TypePhaseCompleted, PhaseCompleted("q1", "reasoning", time.Second))

	var wg sync.WaitGroup
	for _, ch := range chans {
		wg.Add(1)
		go func(ch <-chan Event) {
			defer wg.Done()
			select {
			case ev := <-ch:
				assert.Equal(t, TypePhaseCompleted, ev.Type)
			case <-time.After(100 * time.Millisecond):
				t.Error("subscriber did not receive event")
			}
		}(ch)
	}
	wg.Wait()
}

func TestBus_PublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe("slow")
	for i := 0; i < subscriberBuffer; i++ {
		b.Publish("fill", nil)
	}

	done := make(chan struct{})
	go func() {
		b.Publish("overflow", nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Publish blocked on full channel")
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestBus_UniqueIDs(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe("cli")
	b.Publish("x", nil)
	b.Publish("x", nil)
	first, second := <-ch, <-ch
	assert.NotEqual(t, first.ID, second.ID)
}

func TestBus_NilPublish(t *testing.T) {
	var b *Bus
	assert.NotPanics(t, func() { b.Publish(TypeQueryStarted, nil) })
}

func TestBus_ConcurrentPublishAndUnsubscribe(t *testing.T) {
	b := NewBus()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				b.Publish("x", nil)
			}
		}()
	}
	for i := 0; i < 50; i++ {
		b.Subscribe("churn")
		b.Unsubscribe("churn")
	}
	wg.Wait()
}

func TestPayloads(t *testing.T) {
	p := PhaseCompleted("q1", "synthesis", 1500*time.Millisecond)
	assert.Equal(t, "synthesis", p["phase"])
	assert.Equal(t, int64(1500), p["duration_ms"])

	f := QueryFailed("q1", "RateLimitError", "slow down")
	assert.Equal(t, "RateLimitError", f["error_type"])
	assert.Equal(t, "slow down", f["error"])

	c := QueryCompleted("q1", 2*time.Second)
	assert.Equal(t, int64(2000), c["duration_ms"])

	s := SandboxCompleted(false, 1, 12.5)
	require.Equal(t, false, s["success"])
	assert.Equal(t, 1, s["exit_code"])
	assert.Equal(t, 12.5, s["execution_time_ms"])

	assert.Equal(t, "def", StreamChunk("q1", "def")["chunk"])
}
