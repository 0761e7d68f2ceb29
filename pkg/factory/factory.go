// Package factory assembles the orchestrator and its collaborators from a
// loaded configuration.
package factory

import (
	"context"

	"github.com/anilymngl/codemind/pkg/config"
	"github.com/anilymngl/codemind/pkg/credentials"
	"github.com/anilymngl/codemind/pkg/events"
	"github.com/anilymngl/codemind/pkg/orchestrator"
	"github.com/anilymngl/codemind/pkg/providers"
	"github.com/anilymngl/codemind/pkg/reasoning"
	"github.com/anilymngl/codemind/pkg/sandbox"
	"github.com/anilymngl/codemind/pkg/synthesis"
	"github.com/anilymngl/codemind/pkg/utils"
)

// Options carries the process-wide collaborators. The service and backend
// fields replace the configured ones when set.
type Options struct {
	Logger      *utils.Logger
	RunLogger   *utils.RunLogger
	Bus         *events.Bus
	Credentials *credentials.Resolver

	ReasoningService providers.ReasoningService
	SynthesisService providers.SynthesisService
	SandboxBackend   sandbox.Backend
}

func (o Options) resolver() *credentials.Resolver {
	if o.Credentials != nil {
		return o.Credentials
	}
	return credentials.NewResolver(nil)
}

// credentialFor maps a provider to the credential it needs, "" for none.
func credentialFor(provider string) string {
	switch provider {
	case providers.Gemini:
		return credentials.Gemini
	case providers.Anthropic:
		return credentials.Anthropic
	default:
		return ""
	}
}

func stageKey(creds *credentials.Resolver, provider string) (string, error) {
	name := credentialFor(provider)
	if name == "" {
		return "", nil
	}
	key, _, err := creds.APIKey(name)
	return key, err
}

// NewReasoningClient builds the reasoning stage. A missing credential for a
// remote provider is a ConfigurationError.
func NewReasoningClient(cfg *config.Config, opts Options) (*reasoning.Client, error) {
	key, err := stageKey(opts.resolver(), cfg.Reasoning.Provider)
	if err != nil {
		return nil, err
	}
	svc := opts.ReasoningService
	if svc == nil {
		if svc, err = providers.NewReasoningService(cfg.Reasoning.Service(key), opts.Logger); err != nil {
			return nil, err
		}
	}
	return reasoning.New(reasoning.Config{
		APIKey:      key,
		Thinking:    cfg.Orchestrator.UseThinkingModel,
		Temperature: cfg.Reasoning.Temperature,
		MaxTokens:   cfg.Reasoning.MaxTokens,
		RateLimit:   cfg.Reasoning.RateLimit,
	}, svc, opts.Logger, reasoning.WithRunLogger(opts.RunLogger))
}

// NewSynthesisClient builds the synthesis stage. Streamed fragments are
// published on opts.Bus tagged with the running query's id.
func NewSynthesisClient(cfg *config.Config, opts Options) (*synthesis.Client, error) {
	key, err := stageKey(opts.resolver(), cfg.Synthesis.Provider)
	if err != nil {
		return nil, err
	}
	svc := opts.SynthesisService
	if svc == nil {
		if svc, err = providers.NewSynthesisService(cfg.Synthesis.Service(key), opts.Logger); err != nil {
			return nil, err
		}
	}
	clientOpts := []synthesis.Option{synthesis.WithRunLogger(opts.RunLogger)}
	if bus := opts.Bus; bus != nil {
		clientOpts = append(clientOpts, synthesis.WithChunkHandler(func(ctx context.Context, chunk string) {
			bus.Publish(events.TypeStreamChunk, events.StreamChunk(orchestrator.QueryID(ctx), chunk))
		}))
	}
	return synthesis.New(synthesis.Config{
		APIKey:      key,
		Stream:      cfg.Orchestrator.UseStreaming,
		Temperature: cfg.Synthesis.Temperature,
		MaxTokens:   cfg.Synthesis.MaxTokens,
		RateLimit:   cfg.Synthesis.RateLimit,
	}, svc, opts.Logger, clientOpts...)
}

// NewSandboxExecutor builds the sandbox path. The remote backend requires
// the sandbox credential; the local one needs none.
func NewSandboxExecutor(cfg *config.Config, opts Options) (*sandbox.Executor, error) {
	sbCfg := cfg.Sandbox
	backend := opts.SandboxBackend
	if backend == nil {
		if sbCfg.Backend == sandbox.BackendRemote {
			key, _, err := opts.resolver().APIKey(credentials.Sandbox)
			if err != nil {
				return nil, err
			}
			sbCfg.APIKey = key
		}
		var err error
		if backend, err = sandbox.NewBackend(sbCfg, opts.Logger); err != nil {
			return nil, err
		}
	} else {
		// an injected backend owns its credentials; only limits are checked
		sbCfg.Backend = ""
	}
	return sandbox.NewExecutor(backend, sbCfg, opts.Logger, sandbox.WithRunLogger(opts.RunLogger))
}

// NewOrchestrator wires both stages and the sandbox executor.
func NewOrchestrator(cfg *config.Config, opts Options) (*orchestrator.Orchestrator, error) {
	r, err := NewReasoningClient(cfg, opts)
	if err != nil {
		return nil, err
	}
	s, err := NewSynthesisClient(cfg, opts)
	if err != nil {
		return nil, err
	}
	sb, err := NewSandboxExecutor(cfg, opts)
	if err != nil {
		return nil, err
	}
	return orchestrator.New(cfg.Orchestrator, r, s, sb, opts.Logger,
		orchestrator.WithBus(opts.Bus),
		orchestrator.WithRunLogger(opts.RunLogger),
	)
}
