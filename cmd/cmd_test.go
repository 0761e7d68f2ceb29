package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anilymngl/codemind/pkg/apperr"
	"github.com/anilymngl/codemind/pkg/orchestrator"
	"github.com/anilymngl/codemind/pkg/sandbox"
)

func TestReadInput(t *testing.T) {
	q, err := readInput([]string{"sort", "a list "}, strings.NewReader("ignored"), false)
	require.NoError(t, err)
	assert.Equal(t, "sort a list", q)

	q, err = readInput(nil, strings.NewReader("  from stdin\n"), false)
	require.NoError(t, err)
	assert.Equal(t, "from stdin", q)

	q, err = readInput(nil, strings.NewReader("never read"), true)
	require.NoError(t, err)
	assert.Empty(t, q)
}

func TestReadCode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "main.py")
	require.NoError(t, os.WriteFile(path, []byte("print('x')\n"), 0o644))

	code, err := readCode(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "print('x')\n", code)

	code, err = readCode("-", strings.NewReader("print(1)"))
	require.NoError(t, err)
	assert.Equal(t, "print(1)", code)

	_, err = readCode(filepath.Join(t.TempDir(), "missing.py"), nil)
	assert.Error(t, err)
}

func TestPlainPrinter(t *testing.T) {
	var out, errOut bytes.Buffer
	p := printer{out: &out, errOut: &errOut}

	p.result(orchestrator.Result{Success: &orchestrator.Success{Code: "print(2)"}})
	assert.Equal(t, "print(2)\n", out.String())

	p.result(orchestrator.Result{Failure: &orchestrator.Failure{ErrorKind: "RateLimitError", Message: "slow down"}})
	assert.Equal(t, "RateLimitError: slow down\n", errOut.String())

	out.Reset()
	errOut.Reset()
	p.execution(sandbox.ExecutionResult{Output: "partial\n", Error: "Traceback", ExitCode: 1})
	assert.Equal(t, "partial\n", out.String())
	assert.Equal(t, "Traceback\n", errOut.String())
}

func TestJSONPrinter(t *testing.T) {
	var out bytes.Buffer
	p := printer{out: &out}
	require.NoError(t, p.json(sandbox.ExecutionResult{Success: true, Output: "ok"}))
	assert.Contains(t, out.String(), `"success": true`)
	assert.Contains(t, out.String(), `"output": "ok"`)
}

func TestKnownProvider(t *testing.T) {
	assert.NoError(t, knownProvider(nil, []string{"anthropic"}))
	err := knownProvider(nil, []string{"openai"})
	assert.True(t, apperr.Is(err, apperr.Validation))
}

func TestVersionInfo(t *testing.T) {
	var out bytes.Buffer
	printVersionInfo(&out)
	assert.Contains(t, out.String(), "codemind version dev")
	assert.Contains(t, out.String(), "Go version:")
}

func TestInitWritesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".codemind", "config.yaml")
	configPath = path
	initForce = false
	t.Cleanup(func() { configPath = "" })

	var out bytes.Buffer
	initCmd.SetOut(&out)
	require.NoError(t, initCmd.RunE(initCmd, nil))
	assert.FileExists(t, path)
	assert.Contains(t, out.String(), path)

	assert.Error(t, initCmd.RunE(initCmd, nil))
}
