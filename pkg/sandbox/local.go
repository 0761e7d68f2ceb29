package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/anilymngl/codemind/pkg/pythonruntime"
	"github.com/anilymngl/codemind/pkg/utils"
)

const (
	minPythonMinor = 8
	timeoutExit    = 124
)

// launcher applies the memory limit where the platform supports it and then
// runs the script as __main__.
const launcher = `import sys
try:
    import resource
    limit = int(sys.argv[1]) * 1024 * 1024
    resource.setrlimit(resource.RLIMIT_AS, (limit, limit))
except Exception:
    pass
import runpy
sys.argv = sys.argv[2:]
runpy.run_path(sys.argv[0], run_name="__main__")
`

// LocalBackend runs code with a local Python 3 in a throwaway directory.
// Packages are installed into the directory, never into the interpreter.
type LocalBackend struct {
	logger *utils.Logger

	mu     sync.Mutex
	found  bool
	interp pythonruntime.Interpreter
}

func NewLocalBackend(logger *utils.Logger) *LocalBackend {
	return &LocalBackend{logger: logger}
}

func (b *LocalBackend) Name() string { return BackendLocal }

func (b *LocalBackend) interpreter(ctx context.Context) (pythonruntime.Interpreter, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.found {
		return b.interp, nil
	}
	interp, err := pythonruntime.FindPython3(ctx, minPythonMinor)
	if err != nil {
		return pythonruntime.Interpreter{}, err
	}
	b.logger.Logf("local sandbox using %s (%s)", interp.Path, interp.Version)
	b.interp, b.found = interp, true
	return interp, nil
}

func (b *LocalBackend) Create(ctx context.Context, spec Spec) (Environment, error) {
	interp, err := b.interpreter(ctx)
	if err != nil {
		return nil, err
	}
	dir, err := os.MkdirTemp("", "codemind-sandbox-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox directory: %w", err)
	}
	site := filepath.Join(dir, "site-packages")
	if err := os.Mkdir(site, 0o755); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to create sandbox directory: %w", err)
	}
	if spec.Template != "" && spec.Template != "base" {
		b.logger.Warnf("local sandbox ignores template %q", spec.Template)
	}
	return &localEnv{interp: interp, dir: dir, site: site, spec: spec}, nil
}

type localEnv struct {
	interp pythonruntime.Interpreter
	dir    string
	site   string
	spec   Spec
}

func (e *localEnv) Install(ctx context.Context, pkg string) error {
	return e.interp.PipInstall(ctx, e.site, pkg)
}

// Run enforces Spec.Timeout itself. Hitting it is reported as a failed
// program with exit code 124, not as an error.
func (e *localEnv) Run(ctx context.Context, code string) (Process, error) {
	script := filepath.Join(e.dir, "main.py")
	if err := os.WriteFile(script, []byte(code), 0o600); err != nil {
		return Process{}, fmt.Errorf("failed to write script: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.spec.Timeout)
	defer cancel()
	env := []string{"PYTHONPATH=" + e.site, "PYTHONDONTWRITEBYTECODE=1", "PYTHONUNBUFFERED=1"}
	out, err := e.interp.Run(runCtx, e.dir, env, "-c", launcher, strconv.Itoa(e.spec.MemoryMB), script)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			stderr := out.Stderr + fmt.Sprintf("\nexecution timed out after %s", e.spec.Timeout)
			return Process{Stdout: out.Stdout, Stderr: stderr, ExitCode: timeoutExit}, nil
		}
		return Process{}, err
	}
	return Process{Stdout: out.Stdout, Stderr: out.Stderr, ExitCode: out.ExitCode}, nil
}

func (e *localEnv) Destroy(ctx context.Context) error {
	return os.RemoveAll(e.dir)
}
