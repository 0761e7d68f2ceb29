package sandbox

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anilymngl/codemind/pkg/pythonruntime"
)

func requirePython(t *testing.T) {
	t.Helper()
	if _, err := pythonruntime.FindPython3(context.Background(), minPythonMinor); err != nil {
		t.Skipf("python not available: %v", err)
	}
}

func TestLocalBackendRunsCode(t *testing.T) {
	requirePython(t)

	res, err := QuickExecute(context.Background(), NewLocalBackend(nil), DefaultConfig(), "print('hi')", nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Output, "hi")
	assert.Equal(t, 0, res.ExitCode)
}

func TestLocalBackendReportsFailures(t *testing.T) {
	requirePython(t)

	res, err := QuickExecute(context.Background(), NewLocalBackend(nil), DefaultConfig(), "raise SystemExit('boom')", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Error, "boom")
}

func TestLocalBackendTimeout(t *testing.T) {
	requirePython(t)

	cfg := DefaultConfig()
	cfg.Timeout = 300 * time.Millisecond
	res, err := QuickExecute(context.Background(), NewLocalBackend(nil), cfg, "import time\ntime.sleep(30)", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, timeoutExit, res.ExitCode)
	assert.Contains(t, res.Error, "timed out")
}

func TestLocalDestroyRemovesDirectory(t *testing.T) {
	requirePython(t)

	env, err := NewLocalBackend(nil).Create(context.Background(), Spec{Template: "base", Timeout: time.Minute, MemoryMB: 256})
	require.NoError(t, err)
	dir := env.(*localEnv).dir
	assert.DirExists(t, dir)

	require.NoError(t, env.Destroy(context.Background()))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}
