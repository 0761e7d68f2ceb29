package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/anilymngl/codemind/pkg/apperr"
)

// Environment variables that override file settings.
const (
	EnvMaxRetries        = "CODEMIND_MAX_RETRIES"
	EnvRetryDelay        = "CODEMIND_RETRY_DELAY"
	EnvMaxHistory        = "CODEMIND_MAX_HISTORY"
	EnvStreaming         = "CODEMIND_STREAMING"
	EnvThinking          = "CODEMIND_THINKING"
	EnvReasoningProvider = "CODEMIND_REASONING_PROVIDER"
	EnvReasoningModel    = "CODEMIND_REASONING_MODEL"
	EnvSynthesisProvider = "CODEMIND_SYNTHESIS_PROVIDER"
	EnvSynthesisModel    = "CODEMIND_SYNTHESIS_MODEL"
	EnvSandboxBackend    = "CODEMIND_SANDBOX_BACKEND"
	EnvSandboxURL        = "CODEMIND_SANDBOX_URL"
	EnvSandboxTemplate   = "CODEMIND_SANDBOX_TEMPLATE"
	EnvServerAddr        = "CODEMIND_SERVER_ADDR"
	EnvJSONLogs          = "CODEMIND_JSON_LOGS"
)

type lookupFunc func(string) (string, bool)

type envBinding struct {
	name  string
	apply func(string) error
}

func intVar(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func boolVar(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

func durationVar(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}

func stringVar(dst *string) func(string) error {
	return func(v string) error {
		*dst = v
		return nil
	}
}

func (c *Config) bindings() []envBinding {
	return []envBinding{
		{EnvMaxRetries, intVar(&c.Orchestrator.MaxRetries)},
		{EnvRetryDelay, durationVar(&c.Orchestrator.RetryDelay)},
		{EnvMaxHistory, intVar(&c.Orchestrator.MaxHistorySize)},
		{EnvStreaming, boolVar(&c.Orchestrator.UseStreaming)},
		{EnvThinking, boolVar(&c.Orchestrator.UseThinkingModel)},
		{EnvReasoningProvider, stringVar(&c.Reasoning.Provider)},
		{EnvReasoningModel, stringVar(&c.Reasoning.Model)},
		{EnvSynthesisProvider, stringVar(&c.Synthesis.Provider)},
		{EnvSynthesisModel, stringVar(&c.Synthesis.Model)},
		{EnvSandboxBackend, stringVar(&c.Sandbox.Backend)},
		{EnvSandboxURL, stringVar(&c.Sandbox.BaseURL)},
		{EnvSandboxTemplate, stringVar(&c.Sandbox.Template)},
		{EnvServerAddr, stringVar(&c.Server.Addr)},
		{EnvJSONLogs, boolVar(&c.JSONLogs)},
	}
}

// applyEnv overrides fields from the environment. Empty values are ignored;
// unparsable ones are a ConfigurationError.
func (c *Config) applyEnv(lookup lookupFunc) error {
	for _, b := range c.bindings() {
		v, ok := lookup(b.name)
		v = strings.TrimSpace(v)
		if !ok || v == "" {
			continue
		}
		if err := b.apply(v); err != nil {
			return apperr.NewConfiguration(fmt.Sprintf("invalid %s=%q: %v", b.name, v, err))
		}
	}
	return nil
}
