package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anilymngl/codemind/pkg/apperr"
	"github.com/anilymngl/codemind/pkg/events"
	"github.com/anilymngl/codemind/pkg/normalize"
	"github.com/anilymngl/codemind/pkg/retry"
	"github.com/anilymngl/codemind/pkg/sandbox"
	"github.com/anilymngl/codemind/pkg/utils"
)

// fakeReasoner fails with errs in order and then succeeds.
type fakeReasoner struct {
	calls  atomic.Int32
	errs   []error
	always error
	panics bool

	mu      sync.Mutex
	queryID string
}

func (f *fakeReasoner) GetReasoning(ctx context.Context, query string, extra map[string]any) (normalize.Reasoning, error) {
	n := int(f.calls.Add(1))
	f.mu.Lock()
	f.queryID = QueryID(ctx)
	f.mu.Unlock()
	time.Sleep(time.Millisecond)
	if f.panics {
		panic("reasoner exploded")
	}
	if f.always != nil {
		return normalize.Reasoning{}, f.always
	}
	if n <= len(f.errs) {
		return normalize.Reasoning{}, f.errs[n-1]
	}
	return normalize.Reasoning{
		TechnicalRequirements:  []string{"accept two numbers"},
		ImplementationStrategy: []string{"return their sum"},
		Thoughts:               []string{"simple arithmetic"},
		Metadata:               map[string]string{"recovery_stage": "strict"},
	}, nil
}

type fakeSynthesizer struct {
	calls  atomic.Int32
	always error

	mu   sync.Mutex
	plan normalize.Reasoning
}

func (f *fakeSynthesizer) GenerateCode(ctx context.Context, query string, plan normalize.Reasoning, extra map[string]any) (normalize.Synthesis, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.plan = plan
	f.mu.Unlock()
	time.Sleep(time.Millisecond)
	if f.always != nil {
		return normalize.Synthesis{}, f.always
	}
	return normalize.Synthesis{
		CodeCompletion: "def add(a, b):\n    return a + b",
		Explanation:    "Adds two numbers.",
	}, nil
}

type fakeSandbox struct {
	calls atomic.Int32
	res   sandbox.ExecutionResult
	err   error
}

func (f *fakeSandbox) Execute(ctx context.Context, code string) (sandbox.ExecutionResult, error) {
	f.calls.Add(1)
	return f.res, f.err
}

func noSleep(context.Context, time.Duration) error { return nil }

func newOrchestrator(t *testing.T, cfg Config, r Reasoner, s Synthesizer, sb SandboxExecutor, opts ...Option) *Orchestrator {
	t.Helper()
	opts = append(opts, WithRetryOptions(retry.WithSleeper(noSleep)))
	o, err := New(cfg, r, s, sb, utils.Discard(), opts...)
	require.NoError(t, err)
	return o
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }},
		{"negative history", func(c *Config) { c.MaxHistorySize = -1 }},
		{"zero delay", func(c *Config) { c.RetryDelay = 0 }},
		{"bad explicit retry", func(c *Config) { c.Retry = &retry.Config{MaxRetries: 1} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.True(t, apperr.Is(cfg.Validate(), apperr.Configuration))
		})
	}
}

func TestRetryConfigDerivation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 5
	cfg.RetryDelay = 2 * time.Second
	assert.Equal(t, retry.Config{
		MaxRetries:      5,
		BaseDelay:       2 * time.Second,
		MaxDelay:        20 * time.Second,
		JitterFactor:    0.1,
		ExponentialBase: 2.0,
	}, cfg.RetryConfig())

	explicit := retry.DefaultConfig()
	explicit.MaxRetries = 7
	cfg.Retry = &explicit
	assert.Equal(t, 7, cfg.RetryConfig().MaxRetries)
}

func TestNewRequiresBothStages(t *testing.T) {
	_, err := New(DefaultConfig(), nil, &fakeSynthesizer{}, nil, nil)
	assert.True(t, apperr.Is(err, apperr.Configuration))
	_, err = New(DefaultConfig(), &fakeReasoner{}, nil, nil, nil)
	assert.True(t, apperr.Is(err, apperr.Configuration))
}

func TestProcessQuerySuccess(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe("test")
	r, s := &fakeReasoner{}, &fakeSynthesizer{}
	o := newOrchestrator(t, DefaultConfig(), r, s, nil, WithBus(bus))

	res := o.ProcessQuery(context.Background(), "write a function that adds two numbers", map[string]any{"language": "python"})
	require.True(t, res.OK(), "%+v", res.Failure)
	assert.Nil(t, res.Failure)
	assert.NotEmpty(t, res.Success.Code)
	assert.Equal(t, res.Success.Code, res.Success.Synthesis.Code)
	assert.Equal(t, []string{"simple arithmetic"}, res.Success.Reasoning.Thoughts)
	assert.Equal(t, "strict", res.Success.Reasoning.Metadata["recovery_stage"])
	assert.Equal(t, []string{"accept two numbers"}, s.plan.TechnicalRequirements)
	assert.False(t, res.CreatedAt.IsZero())

	phases := res.Success.Metadata["phase_durations"].(map[string]float64)
	assert.Greater(t, phases["reasoning_ms"], 0.0)
	assert.Greater(t, phases["synthesis_ms"], 0.0)
	assert.Equal(t, 0.0, phases["sandbox_ms"])
	assert.Equal(t, map[string]any{"language": "python"}, res.Success.Metadata["context"])

	history := o.History(HistoryFilter{})
	require.Len(t, history, 1)
	assert.Equal(t, "write a function that adds two numbers", history[0].Query)
	assert.Equal(t, r.queryID, history[0].ID)

	var types []string
	for len(ch) > 0 {
		types = append(types, (<-ch).Type)
	}
	assert.Equal(t, []string{
		events.TypeQueryStarted,
		events.TypePhaseCompleted,
		events.TypePhaseCompleted,
		events.TypeQueryCompleted,
	}, types)
}

func TestProcessQueryEmptyQuery(t *testing.T) {
	r, s := &fakeReasoner{}, &fakeSynthesizer{}
	o := newOrchestrator(t, DefaultConfig(), r, s, nil)

	res := o.ProcessQuery(context.Background(), "   ", nil)
	require.NotNil(t, res.Failure)
	assert.Equal(t, "ValidationError", res.Failure.ErrorKind)
	assert.Zero(t, r.calls.Load())
	assert.Zero(t, s.calls.Load())
	assert.Len(t, o.History(HistoryFilter{}), 1)
}

func TestProcessQueryReasoningExhaustedSkipsSynthesis(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	r := &fakeReasoner{always: apperr.NewReasoning("model refused", nil)}
	s := &fakeSynthesizer{}
	o := newOrchestrator(t, cfg, r, s, nil)

	res := o.ProcessQuery(context.Background(), "sort a list", nil)
	require.NotNil(t, res.Failure)
	assert.Equal(t, "ReasoningError", res.Failure.ErrorKind)
	assert.Equal(t, "model refused", res.Failure.Message)
	assert.Equal(t, 3, res.Failure.Details["attempts"])
	assert.Equal(t, "reasoning", res.Failure.Details["phase"])
	assert.EqualValues(t, 3, r.calls.Load())
	assert.Zero(t, s.calls.Load())
}

func TestProcessQueryRateLimitCarriesRetryAfter(t *testing.T) {
	r := &fakeReasoner{always: apperr.NewRateLimit("rate limit exceeded", 2*time.Second)}
	o := newOrchestrator(t, DefaultConfig(), r, &fakeSynthesizer{}, nil)

	res := o.ProcessQuery(context.Background(), "sort a list", nil)
	require.NotNil(t, res.Failure)
	assert.Equal(t, "RateLimitError", res.Failure.ErrorKind)
	assert.Equal(t, 2.0, res.Failure.Details["retry_after"])
	assert.Equal(t, 4, res.Failure.Details["attempts"])
}

func TestProcessQueryRecoversAfterRetries(t *testing.T) {
	for k := 0; k <= 3; k++ {
		t.Run(fmt.Sprintf("K=%d", k), func(t *testing.T) {
			errs := make([]error, k)
			for i := range errs {
				errs[i] = apperr.NewProviderAPI("gemini", 503, "unavailable", nil)
			}
			r := &fakeReasoner{errs: errs}
			o := newOrchestrator(t, DefaultConfig(), r, &fakeSynthesizer{}, nil)

			res := o.ProcessQuery(context.Background(), "sort a list", nil)
			assert.True(t, res.OK())
			assert.EqualValues(t, k+1, r.calls.Load())
		})
	}
}

func TestProcessQueryNonRetryableFailures(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		kind       string
		statusCode any
	}{
		{"client error", apperr.NewProviderAPI("anthropic", 400, "bad request", nil), "ProviderAPIError", 400},
		{"configuration", apperr.NewConfiguration("invalid key"), "ConfigurationError", nil},
		{"unclassified", errors.New("boom"), "UnexpectedError", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeSynthesizer{always: tt.err}
			o := newOrchestrator(t, DefaultConfig(), &fakeReasoner{}, s, nil)

			res := o.ProcessQuery(context.Background(), "sort a list", nil)
			require.NotNil(t, res.Failure)
			assert.Equal(t, tt.kind, res.Failure.ErrorKind)
			assert.Equal(t, "synthesis", res.Failure.Details["phase"])
			assert.Equal(t, tt.statusCode, res.Failure.Details["status_code"])
			assert.NotContains(t, res.Failure.Details, "attempts")
			assert.EqualValues(t, 1, s.calls.Load())
		})
	}
}

func TestProcessQueryRecoversPanics(t *testing.T) {
	o := newOrchestrator(t, DefaultConfig(), &fakeReasoner{panics: true}, &fakeSynthesizer{}, nil)

	var res Result
	require.NotPanics(t, func() { res = o.ProcessQuery(context.Background(), "sort a list", nil) })
	require.NotNil(t, res.Failure)
	assert.Equal(t, "UnexpectedError", res.Failure.ErrorKind)
	assert.Contains(t, res.Failure.Message, "reasoner exploded")
	assert.Len(t, o.History(HistoryFilter{}), 1)
}

func TestHistoryBound(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxHistorySize = 3
	o := newOrchestrator(t, cfg, &fakeReasoner{}, &fakeSynthesizer{}, nil)

	for i := 0; i < 5; i++ {
		o.ProcessQuery(context.Background(), fmt.Sprintf("q%d", i), nil)
	}
	o.ProcessQuery(context.Background(), "", nil)

	history := o.History(HistoryFilter{})
	require.Len(t, history, 3)
	assert.Equal(t, []string{"q3", "q4", ""}, []string{history[0].Query, history[1].Query, history[2].Query})

	recent := o.History(HistoryFilter{Limit: 2, SuccessOnly: true})
	require.Len(t, recent, 2)
	assert.Equal(t, "q3", recent[0].Query)
	assert.Equal(t, "q4", recent[1].Query)

	// callers get a copy
	history[0].Query = "mutated"
	assert.Equal(t, "q3", o.History(HistoryFilter{})[0].Query)
}

func TestHistoryConcurrentQueries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxHistorySize = 10
	o := newOrchestrator(t, cfg, &fakeReasoner{}, &fakeSynthesizer{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o.ProcessQuery(context.Background(), fmt.Sprintf("q%d", i), nil)
		}(i)
	}
	wg.Wait()
	assert.Len(t, o.History(HistoryFilter{}), 10)
}

func TestRunSandbox(t *testing.T) {
	t.Run("empty code", func(t *testing.T) {
		sb := &fakeSandbox{}
		o := newOrchestrator(t, DefaultConfig(), &fakeReasoner{}, &fakeSynthesizer{}, sb)
		res := o.RunSandbox(context.Background(), "  \n")
		assert.False(t, res.Success)
		assert.Equal(t, "Code cannot be empty", res.Error)
		assert.Zero(t, sb.calls.Load())
	})

	t.Run("success", func(t *testing.T) {
		bus := events.NewBus()
		ch := bus.Subscribe("test")
		sb := &fakeSandbox{res: sandbox.ExecutionResult{Success: true, Output: "hi\n", Artifacts: []string{}, ExecutionTimeMS: 3.5}}
		o := newOrchestrator(t, DefaultConfig(), &fakeReasoner{}, &fakeSynthesizer{}, sb, WithBus(bus))

		res := o.RunSandbox(context.Background(), "print('hi')")
		assert.True(t, res.Success)
		assert.Contains(t, res.Output, "hi")
		assert.Greater(t, res.ExecutionTimeMS, 0.0)
		ev := <-ch
		assert.Equal(t, events.TypeSandboxCompleted, ev.Type)
		assert.Equal(t, true, ev.Data["success"])
	})

	t.Run("execution error", func(t *testing.T) {
		sb := &fakeSandbox{err: apperr.NewSandbox("failed to create sandbox", errors.New("quota"))}
		o := newOrchestrator(t, DefaultConfig(), &fakeReasoner{}, &fakeSynthesizer{}, sb)
		res := o.RunSandbox(context.Background(), "print('hi')")
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "Sandbox execution failed")
		assert.Contains(t, res.Error, "quota")
		assert.NotNil(t, res.Artifacts)
	})

	t.Run("no sandbox", func(t *testing.T) {
		o := newOrchestrator(t, DefaultConfig(), &fakeReasoner{}, &fakeSynthesizer{}, nil)
		res := o.RunSandbox(context.Background(), "print('hi')")
		assert.False(t, res.Success)
		assert.NotEmpty(t, res.Error)
	})
}

func TestQueryIDOutsideQuery(t *testing.T) {
	assert.Empty(t, QueryID(context.Background()))
}
