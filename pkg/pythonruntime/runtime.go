// Package pythonruntime locates a Python 3 interpreter and runs scripts
// with it.
package pythonruntime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// EnvInterpreter overrides interpreter discovery with an explicit path or alias.
const EnvInterpreter = "CODEMIND_PYTHON"

// Interpreter contains resolved Python interpreter metadata.
type Interpreter struct {
	Alias   string
	Path    string
	Version string
	Major   int
	Minor   int
}

// Output is the captured result of one interpreter invocation. A non-zero
// ExitCode is not an error.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// FindPython3 resolves a Python 3 interpreter with at least the given minor
// version, trying $CODEMIND_PYTHON first and then the common aliases.
func FindPython3(ctx context.Context, minMinor int) (Interpreter, error) {
	candidates := []string{"python3", "python"}
	if v := strings.TrimSpace(os.Getenv(EnvInterpreter)); v != "" {
		candidates = append([]string{v}, candidates...)
	}
	var versionMismatches []string

	for _, alias := range candidates {
		pythonPath, err := exec.LookPath(alias)
		if err != nil {
			continue
		}

		interp, err := inspectInterpreter(ctx, alias, pythonPath)
		if err != nil {
			if ctx.Err() != nil {
				return Interpreter{}, ctx.Err()
			}
			versionMismatches = append(versionMismatches, fmt.Sprintf("%s: could not read version", alias))
			continue
		}

		if interp.Major != 3 {
			versionMismatches = append(versionMismatches, fmt.Sprintf("%s -> %s (major=%d)", alias, interp.Version, interp.Major))
			continue
		}
		if interp.Minor < minMinor {
			versionMismatches = append(versionMismatches, fmt.Sprintf("%s -> %s (requires >=3.%d)", alias, interp.Version, minMinor))
			continue
		}

		return interp, nil
	}

	if len(versionMismatches) > 0 {
		return Interpreter{}, fmt.Errorf(
			"python 3.%d+ is required; found incompatible interpreters: %s",
			minMinor,
			strings.Join(versionMismatches, "; "),
		)
	}

	return Interpreter{}, fmt.Errorf("python 3.%d+ is required but neither 'python3' nor 'python' was found in PATH", minMinor)
}

func inspectInterpreter(ctx context.Context, alias, path string) (Interpreter, error) {
	cmd := exec.CommandContext(
		ctx,
		path,
		"-c",
		"import sys; print(sys.version_info.major); print(sys.version_info.minor); print(sys.version.split()[0])",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return Interpreter{}, err
	}
	return parseVersion(alias, path, string(out))
}

func parseVersion(alias, path, out string) (Interpreter, error) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 3 {
		return Interpreter{}, fmt.Errorf("unexpected version response")
	}

	major, majorErr := strconv.Atoi(strings.TrimSpace(lines[0]))
	if majorErr != nil {
		return Interpreter{}, fmt.Errorf("invalid major version: %w", majorErr)
	}

	minor, minorErr := strconv.Atoi(strings.TrimSpace(lines[1]))
	if minorErr != nil {
		return Interpreter{}, fmt.Errorf("invalid minor version: %w", minorErr)
	}

	return Interpreter{
		Alias:   alias,
		Path:    path,
		Version: strings.TrimSpace(lines[2]),
		Major:   major,
		Minor:   minor,
	}, nil
}

// Command builds an invocation of the interpreter in dir with extra
// environment entries appended to the current environment.
func (i Interpreter) Command(ctx context.Context, dir string, env []string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, i.Path, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	// children that inherited the pipes must not keep Wait blocked after a kill
	cmd.WaitDelay = 5 * time.Second
	return cmd
}

// Run executes the interpreter and captures stdout and stderr separately.
// Only failures to start or wait for the process, including ctx expiry,
// are returned as errors.
func (i Interpreter) Run(ctx context.Context, dir string, env []string, args ...string) (Output, error) {
	cmd := i.Command(ctx, dir, env, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("failed to run %s: %w", i.Alias, err)
	}
	return out, nil
}

// PipInstall installs pkg into target with pip, so the package is visible
// to scripts run with PYTHONPATH=target.
func (i Interpreter) PipInstall(ctx context.Context, target, pkg string) error {
	out, err := i.Run(ctx, target, nil, "-m", "pip", "install", "--quiet", "--disable-pip-version-check", "--target", target, pkg)
	if err != nil {
		return err
	}
	if out.ExitCode != 0 {
		return fmt.Errorf("pip install %s failed (exit %d): %s", pkg, out.ExitCode, strings.TrimSpace(out.Stderr))
	}
	return nil
}
