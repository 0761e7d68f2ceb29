// Package sandbox provisions isolated environments, runs generated code in
// them and always tears them down afterwards.
package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/anilymngl/codemind/pkg/apperr"
	"github.com/anilymngl/codemind/pkg/utils"
)

// Backend names accepted by NewBackend.
const (
	BackendLocal  = "local"
	BackendRemote = "remote"
)

const teardownTimeout = 30 * time.Second

type Config struct {
	Backend      string        `yaml:"backend"`
	APIKey       string        `yaml:"-"`
	BaseURL      string        `yaml:"base_url"`
	Template     string        `yaml:"template"`
	Timeout      time.Duration `yaml:"timeout"`
	MemoryMB     int           `yaml:"memory_mb"`
	Dependencies []string      `yaml:"dependencies"`
}

// DefaultConfig runs locally on the base template with a ten minute limit.
func DefaultConfig() Config {
	return Config{
		Backend:  BackendLocal,
		Template: "base",
		Timeout:  10 * time.Minute,
		MemoryMB: 512,
	}
}

func (c Config) Validate() error {
	if c.Timeout <= 0 {
		return apperr.NewConfiguration(fmt.Sprintf("sandbox timeout must be positive, got %s", c.Timeout))
	}
	if c.MemoryMB <= 0 {
		return apperr.NewConfiguration(fmt.Sprintf("sandbox memory_mb must be positive, got %d", c.MemoryMB))
	}
	switch c.Backend {
	case BackendLocal, "":
	case BackendRemote:
		if strings.TrimSpace(c.APIKey) == "" {
			return apperr.NewConfiguration("sandbox API key is required for the remote backend")
		}
		if strings.TrimSpace(c.BaseURL) == "" {
			return apperr.NewConfiguration("sandbox base_url is required for the remote backend")
		}
	default:
		return apperr.NewConfiguration("unknown sandbox backend: " + c.Backend)
	}
	return nil
}

// Spec is what a backend needs to provision one environment.
type Spec struct {
	Template string
	Timeout  time.Duration
	MemoryMB int
}

// Process is the raw outcome of running code once.
type Process struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Environment is one provisioned sandbox. Limits are enforced by the
// environment itself.
type Environment interface {
	Install(ctx context.Context, pkg string) error
	Run(ctx context.Context, code string) (Process, error)
	Destroy(ctx context.Context) error
}

type Backend interface {
	Name() string
	Create(ctx context.Context, spec Spec) (Environment, error)
}

// ExecutionResult is what callers see. A failing program is Success=false
// with its stderr in Error.
type ExecutionResult struct {
	Success         bool     `json:"success"`
	Output          string   `json:"output"`
	Error           string   `json:"error,omitempty"`
	ExitCode        int      `json:"exit_code"`
	Artifacts       []string `json:"artifacts"`
	ExecutionTimeMS float64  `json:"execution_time_ms"`
}

// NewBackend builds the backend named by cfg.Backend.
func NewBackend(cfg Config, logger *utils.Logger) (Backend, error) {
	switch cfg.Backend {
	case BackendLocal, "":
		return NewLocalBackend(logger), nil
	case BackendRemote:
		return NewRemoteBackend(cfg)
	default:
		return nil, apperr.NewConfiguration("unknown sandbox backend: " + cfg.Backend)
	}
}

// Runner owns one environment from Open until Close.
type Runner struct {
	backend Backend
	env     Environment
	logger  *utils.Logger
	runlog  *utils.RunLogger

	mu     sync.Mutex
	closed bool
}

type Option func(*Runner)

func WithRunLogger(rl *utils.RunLogger) Option { return func(r *Runner) { r.runlog = rl } }

// Open provisions an environment and installs cfg.Dependencies in order.
// The first failure tears the environment down and is returned as a
// SandboxError.
func Open(ctx context.Context, backend Backend, cfg Config, logger *utils.Logger, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Runner{backend: backend, logger: logger}
	for _, opt := range opts {
		opt(r)
	}

	start := time.Now()
	logger.LogProcessStep(fmt.Sprintf("Creating %s sandbox (template %s)", backend.Name(), cfg.Template))
	env, err := backend.Create(ctx, Spec{Template: cfg.Template, Timeout: cfg.Timeout, MemoryMB: cfg.MemoryMB})
	if err != nil {
		logger.LogError(err)
		return nil, apperr.NewSandbox("failed to create sandbox", err)
	}
	r.env = env

	for _, pkg := range cfg.Dependencies {
		logger.Logf("Installing package: %s", pkg)
		if err := env.Install(ctx, pkg); err != nil {
			logger.LogError(err)
			r.Close(ctx)
			return nil, apperr.NewSandbox(fmt.Sprintf("failed to install %s", pkg), err).WithDetail("package", pkg)
		}
	}

	r.runlog.LogPerformance("sandbox_creation", time.Since(start), map[string]any{
		"backend":      backend.Name(),
		"template":     cfg.Template,
		"dependencies": len(cfg.Dependencies),
	})
	return r, nil
}

// Execute runs code once. Only a failure to reach the environment is an
// error; the returned result then still carries the elapsed time.
func (r *Runner) Execute(ctx context.Context, code string) (ExecutionResult, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ExecutionResult{}, apperr.NewSandbox("sandbox is closed", nil)
	}

	r.logger.Logf("Executing code in sandbox (%d bytes)", len(code))
	start := time.Now()
	proc, err := r.env.Run(ctx, code)
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)
	if err != nil {
		r.logger.LogError(err)
		return ExecutionResult{
			Error:           err.Error(),
			ExitCode:        -1,
			Artifacts:       []string{},
			ExecutionTimeMS: elapsed,
		}, apperr.NewSandbox("code execution failed", err)
	}

	res := ExecutionResult{
		Success:         proc.ExitCode == 0,
		Output:          proc.Stdout,
		ExitCode:        proc.ExitCode,
		Artifacts:       []string{},
		ExecutionTimeMS: elapsed,
	}
	if !res.Success {
		res.Error = proc.Stderr
		r.logger.Warnf("code exited with status %d", proc.ExitCode)
	}
	r.runlog.LogPerformance("code_execution", time.Since(start), map[string]any{
		"success":       res.Success,
		"exit_code":     res.ExitCode,
		"output_length": len(res.Output),
		"error_length":  len(res.Error),
	})
	return res, nil
}

// Close destroys the environment. It runs even when ctx is already
// cancelled, logs rather than returns teardown failures and is safe to
// call more than once.
func (r *Runner) Close(ctx context.Context) {
	r.mu.Lock()
	if r.closed || r.env == nil {
		r.closed = true
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()
	if err := r.env.Destroy(tctx); err != nil {
		r.logger.Warnf("error destroying sandbox: %v", err)
		return
	}
	r.logger.Log("Sandbox destroyed successfully")
}

// QuickExecute opens a sandbox, runs code and closes it.
func QuickExecute(ctx context.Context, backend Backend, cfg Config, code string, logger *utils.Logger, opts ...Option) (ExecutionResult, error) {
	r, err := Open(ctx, backend, cfg, logger, opts...)
	if err != nil {
		return ExecutionResult{}, err
	}
	defer r.Close(ctx)
	return r.Execute(ctx, code)
}

// Executor runs each call in a fresh sandbox built from a fixed config.
type Executor struct {
	backend Backend
	cfg     Config
	logger  *utils.Logger
	opts    []Option
}

// NewExecutor validates cfg up front so misconfiguration fails at startup.
func NewExecutor(backend Backend, cfg Config, logger *utils.Logger, opts ...Option) (*Executor, error) {
	if backend == nil {
		return nil, apperr.NewConfiguration("sandbox backend is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Executor{backend: backend, cfg: cfg, logger: logger, opts: opts}, nil
}

func (e *Executor) Execute(ctx context.Context, code string) (ExecutionResult, error) {
	return QuickExecute(ctx, e.backend, e.cfg, code, e.logger, e.opts...)
}
