// Package orchestrator runs the reasoning and synthesis stages in sequence
// and turns every outcome into a Result. It also exposes sandbox execution
// as a separate entry point and keeps a bounded in-memory history.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anilymngl/codemind/pkg/apperr"
	"github.com/anilymngl/codemind/pkg/events"
	"github.com/anilymngl/codemind/pkg/normalize"
	"github.com/anilymngl/codemind/pkg/retry"
	"github.com/anilymngl/codemind/pkg/sandbox"
	"github.com/anilymngl/codemind/pkg/utils"
)

type Config struct {
	MaxRetries       int           `yaml:"max_retries"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
	MaxHistorySize   int           `yaml:"max_history_size"`
	UseStreaming     bool          `yaml:"use_streaming"`
	UseThinkingModel bool          `yaml:"use_thinking_model"`
	// Retry replaces the schedule derived from MaxRetries and RetryDelay.
	Retry *retry.Config `yaml:"retry,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		RetryDelay:     time.Second,
		MaxHistorySize: 100,
	}
}

// RetryConfig is Retry when set, otherwise MaxRetries attempts starting at
// RetryDelay and capped at ten times it.
func (c Config) RetryConfig() retry.Config {
	if c.Retry != nil {
		return *c.Retry
	}
	return retry.Config{
		MaxRetries:      c.MaxRetries,
		BaseDelay:       c.RetryDelay,
		MaxDelay:        c.RetryDelay * 10,
		JitterFactor:    0.1,
		ExponentialBase: 2.0,
	}
}

func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return apperr.NewConfiguration(fmt.Sprintf("max_retries must be non-negative, got %d", c.MaxRetries))
	}
	if c.MaxHistorySize < 0 {
		return apperr.NewConfiguration(fmt.Sprintf("max_history_size must be non-negative, got %d", c.MaxHistorySize))
	}
	if c.Retry == nil && c.RetryDelay <= 0 {
		return apperr.NewConfiguration(fmt.Sprintf("retry_delay must be positive, got %s", c.RetryDelay))
	}
	return c.RetryConfig().Validate()
}

type Reasoner interface {
	GetReasoning(ctx context.Context, query string, extra map[string]any) (normalize.Reasoning, error)
}

type Synthesizer interface {
	GenerateCode(ctx context.Context, query string, plan normalize.Reasoning, extra map[string]any) (normalize.Synthesis, error)
}

// SandboxExecutor runs code in a fresh sandbox. A failing program is a
// result, not an error.
type SandboxExecutor interface {
	Execute(ctx context.Context, code string) (sandbox.ExecutionResult, error)
}

type queryIDKey struct{}

// QueryID returns the id ProcessQuery assigned to the query running under
// ctx, or "" outside a query.
func QueryID(ctx context.Context) string {
	id, _ := ctx.Value(queryIDKey{}).(string)
	return id
}

type Orchestrator struct {
	cfg         Config
	reasoner    Reasoner
	synthesizer Synthesizer
	sandbox     SandboxExecutor
	retry       *retry.Executor
	logger      *utils.Logger
	runlog      *utils.RunLogger
	bus         *events.Bus
	now         func() time.Time

	mu      sync.Mutex
	history []HistoryEntry
}

type Option func(*options)

type options struct {
	bus       *events.Bus
	runlog    *utils.RunLogger
	now       func() time.Time
	retryOpts []retry.Option
}

func WithBus(b *events.Bus) Option                 { return func(o *options) { o.bus = b } }
func WithRunLogger(rl *utils.RunLogger) Option     { return func(o *options) { o.runlog = rl } }
func WithClock(now func() time.Time) Option        { return func(o *options) { o.now = now } }
func WithRetryOptions(opts ...retry.Option) Option { return func(o *options) { o.retryOpts = opts } }

// New fails with a ConfigurationError on invalid config or a missing stage.
// sb may be nil, in which case RunSandbox always reports failure.
func New(cfg Config, reasoner Reasoner, synthesizer Synthesizer, sb SandboxExecutor, logger *utils.Logger, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if reasoner == nil || synthesizer == nil {
		return nil, apperr.NewConfiguration("both reasoning and synthesis clients are required")
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	retryOpts := append([]retry.Option{retry.WithLogger(logger), retry.WithRunLogger(o.runlog)}, o.retryOpts...)
	executor, err := retry.New(cfg.RetryConfig(), retryOpts...)
	if err != nil {
		return nil, err
	}
	logger.Log("Orchestrator initialized")
	return &Orchestrator{
		cfg:         cfg,
		reasoner:    reasoner,
		synthesizer: synthesizer,
		sandbox:     sb,
		retry:       executor,
		logger:      logger,
		runlog:      o.runlog,
		bus:         o.bus,
		now:         o.now,
	}, nil
}

func (o *Orchestrator) Config() Config { return o.cfg }

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

// ProcessQuery runs reasoning then synthesis, each under the retry
// executor. It never returns an error or panics; every outcome, including
// invalid input, is a Result and is appended to the history.
func (o *Orchestrator) ProcessQuery(ctx context.Context, query string, extra map[string]any) (res Result) {
	id := uuid.NewString()
	ctx = context.WithValue(ctx, queryIDKey{}, id)
	start := o.now()

	defer func() {
		if p := recover(); p != nil {
			o.logger.Logf("recovered panic while processing query %s: %v", id, p)
			res = failureResult(apperr.Unexpected, fmt.Sprintf("unexpected error: %v", p), nil, o.now())
		}
		o.finish(id, query, res, start)
	}()

	o.logger.LogProcessStep(fmt.Sprintf("Processing query %s (%d chars)", id, len(query)))
	o.bus.Publish(events.TypeQueryStarted, events.QueryStarted(id, query))

	if strings.TrimSpace(query) == "" {
		return failureResult(apperr.Validation, "Query cannot be empty", map[string]any{"query": query}, o.now())
	}

	reasoningStart := o.now()
	plan, err := retry.Do(ctx, o.retry, "reasoning", func(ctx context.Context) (normalize.Reasoning, error) {
		return o.reasoner.GetReasoning(ctx, query, extra)
	})
	reasoningDur := o.now().Sub(reasoningStart)
	if err != nil {
		return o.failure(err, "reasoning")
	}
	o.phaseDone(id, "reasoning", reasoningDur, map[string]any{
		"num_requirements": len(plan.TechnicalRequirements),
		"num_strategy":     len(plan.ImplementationStrategy),
	})

	synthesisStart := o.now()
	code, err := retry.Do(ctx, o.retry, "synthesis", func(ctx context.Context) (normalize.Synthesis, error) {
		return o.synthesizer.GenerateCode(ctx, query, plan, extra)
	})
	synthesisDur := o.now().Sub(synthesisStart)
	if err != nil {
		return o.failure(err, "synthesis")
	}
	o.phaseDone(id, "synthesis", synthesisDur, map[string]any{"code_length": len(code.CodeCompletion)})

	meta := map[string]any{
		"processing_ms":      ms(o.now().Sub(start)),
		"use_streaming":      o.cfg.UseStreaming,
		"use_thinking_model": o.cfg.UseThinkingModel,
		"phase_durations": map[string]float64{
			"reasoning_ms": ms(reasoningDur),
			"synthesis_ms": ms(synthesisDur),
			"sandbox_ms":   0,
		},
	}
	if extra != nil {
		meta["context"] = extra
	}
	return successResult(Success{
		Code:      code.CodeCompletion,
		Reasoning: reasoningView(plan),
		Synthesis: synthesisView(code),
		Metadata:  meta,
	}, o.now())
}

func (o *Orchestrator) phaseDone(id, phase string, d time.Duration, fields map[string]any) {
	o.logger.Logf("%s phase completed in %s", phase, d.Round(time.Millisecond))
	o.runlog.LogPerformance(phase+"_phase", d, fields)
	o.bus.Publish(events.TypePhaseCompleted, events.PhaseCompleted(id, phase, d))
}

// failure maps a stage error to a Failure that keeps the original kind.
func (o *Orchestrator) failure(err error, phase string) Result {
	details := map[string]any{"phase": phase}

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		details["attempts"] = exhausted.Attempts
		err = exhausted.LastErr
	}

	kind := apperr.Unexpected
	msg := err.Error()
	if ae, ok := apperr.As(err); ok {
		kind = ae.Kind
		msg = ae.Message
		if ae.Err != nil {
			msg += ": " + ae.Err.Error()
		}
		for k, v := range ae.Details {
			details[k] = v
		}
		if ae.RetryAfter > 0 {
			details["retry_after"] = ae.RetryAfter.Seconds()
		}
		if ae.StatusCode != 0 {
			details["status_code"] = ae.StatusCode
		}
	}
	o.logger.Logf("%s phase failed with %s: %s", phase, kind, msg)
	return failureResult(kind, msg, details, o.now())
}

func (o *Orchestrator) finish(id, query string, res Result, start time.Time) {
	d := o.now().Sub(start)
	if res.OK() {
		o.logger.Logf("query %s completed in %s", id, d.Round(time.Millisecond))
		o.bus.Publish(events.TypeQueryCompleted, events.QueryCompleted(id, d))
	} else {
		o.bus.Publish(events.TypeQueryFailed, events.QueryFailed(id, res.Failure.ErrorKind, res.Failure.Message))
	}
	o.runlog.LogPerformance("process_query", d, map[string]any{"query_id": id, "success": res.OK()})
	o.record(HistoryEntry{
		ID:        id,
		Query:     query,
		Result:    res,
		Timestamp: o.now(),
		Metadata:  map[string]any{"duration_ms": ms(d)},
	})
}

// RunSandbox executes code independently of any query. Empty code, a
// missing sandbox and execution errors all come back as Success=false.
func (o *Orchestrator) RunSandbox(ctx context.Context, code string) (res sandbox.ExecutionResult) {
	if strings.TrimSpace(code) == "" {
		o.logger.Warnf("empty code received for sandbox execution")
		return sandbox.ExecutionResult{Error: "Code cannot be empty", Artifacts: []string{}}
	}
	if o.sandbox == nil {
		return sandbox.ExecutionResult{Error: "sandbox is not configured", Artifacts: []string{}}
	}

	start := o.now()
	defer func() {
		if p := recover(); p != nil {
			o.logger.Logf("recovered panic during sandbox execution: %v", p)
			res = sandbox.ExecutionResult{Error: fmt.Sprintf("Sandbox execution failed: %v", p), ExitCode: -1}
		}
		if res.Artifacts == nil {
			res.Artifacts = []string{}
		}
		if res.ExecutionTimeMS == 0 {
			res.ExecutionTimeMS = ms(o.now().Sub(start))
		}
		o.runlog.LogPerformance("sandbox_execution", o.now().Sub(start), map[string]any{"success": res.Success})
		o.bus.Publish(events.TypeSandboxCompleted, events.SandboxCompleted(res.Success, res.ExitCode, res.ExecutionTimeMS))
	}()

	o.logger.LogProcessStep(fmt.Sprintf("Starting sandbox execution (%d bytes)", len(code)))
	res, err := o.sandbox.Execute(ctx, code)
	if err != nil {
		o.logger.LogError(err)
		res.Success = false
		res.Error = "Sandbox execution failed: " + err.Error()
		return res
	}
	if !res.Success {
		o.logger.Warnf("sandbox program exited with status %d", res.ExitCode)
	}
	return res
}
