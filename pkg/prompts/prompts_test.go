package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anilymngl/codemind/pkg/normalize"
)

func withPromptDir(t *testing.T, dir string) {
	t.Helper()
	old := PromptDir
	PromptDir = dir
	t.Cleanup(func() { PromptDir = old })
}

func TestReasoningPrompt(t *testing.T) {
	withPromptDir(t, t.TempDir())

	p := ReasoningPrompt("  sort a list  ", map[string]any{"language": "go", "audience": "students"})
	assert.Contains(t, p, "<reasoning version=\"2.0.0\">")
	assert.Contains(t, p, "<request>\nsort a list\n</request>")
	assert.Less(t, strings.Index(p, "audience: students"), strings.Index(p, "language: go"))
}

func TestReasoningPromptOverride(t *testing.T) {
	dir := t.TempDir()
	withPromptDir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "reasoning.txt"), []byte("custom plan"), 0o644))

	p := ReasoningPrompt("q", nil)
	assert.True(t, strings.HasPrefix(p, "custom plan"))
	assert.NotContains(t, p, "<context>")
}

func TestSynthesisPrompts(t *testing.T) {
	withPromptDir(t, t.TempDir())
	assert.Contains(t, SynthesisSystem(), "<code_completion>")

	plan := normalize.Reasoning{
		TechnicalRequirements:  []string{"handle empty input"},
		ImplementationStrategy: []string{"validate", "sort"},
		SandboxRequirements:    &normalize.SandboxRequirements{Dependencies: []string{"numpy"}},
	}
	u := SynthesisUser("sort", plan, nil)
	assert.Contains(t, u, "Technical requirements:\n- handle empty input\n")
	assert.Contains(t, u, "Implementation strategy:\n- validate\n- sort\n")
	assert.NotContains(t, u, "Guidance:")
	assert.Contains(t, u, "Sandbox template: base\nSandbox dependencies: numpy\n")
}

func TestMessages(t *testing.T) {
	assert.Equal(t, "No API key found for gemini. Set GEMINI_API_KEY or run 'codemind auth set gemini'.", APIKeyMissing("gemini", "GEMINI_API_KEY"))
	assert.Equal(t, "reasoning completed in 1.5s", PhaseCompleted("reasoning", 1500*time.Millisecond))
}
