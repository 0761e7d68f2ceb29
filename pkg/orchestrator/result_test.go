package orchestrator

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anilymngl/codemind/pkg/apperr"
	"github.com/anilymngl/codemind/pkg/normalize"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleSuccess(code string, at time.Time) Result {
	return successResult(Success{
		Code: code,
		Reasoning: reasoningView(normalize.Reasoning{
			TechnicalRequirements: []string{"req " + code},
			Thoughts:              []string{"thought " + code},
		}),
		Synthesis: SynthesisView{Code: code, Explanation: "explains " + code},
		Metadata:  map[string]any{"api_key": "sk-123", "nested": map[string]any{"auth_token": "t"}, "model": "m"},
	}, at)
}

func TestResultMarshalJSON(t *testing.T) {
	raw, err := json.Marshal(sampleSuccess("x = 1", t0))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, true, got["success"])
	assert.Equal(t, "x = 1", got["code"])
	assert.Equal(t, "2025-03-01T12:00:00Z", got["timestamp"])
	assert.NotContains(t, got, "error")
	reasoning := got["reasoning"].(map[string]any)
	assert.Equal(t, []any{"thought x = 1"}, reasoning["thoughts"])

	raw, err = json.Marshal(failureResult(apperr.RateLimit, "slow down", map[string]any{"retry_after": 2.0}, t0))
	require.NoError(t, err)
	got = nil
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, false, got["success"])
	assert.NotContains(t, got, "code")
	assert.Equal(t, map[string]any{}, got["metadata"])
	assert.Equal(t, map[string]any{
		"type":    "RateLimitError",
		"message": "slow down",
		"details": map[string]any{"retry_after": 2.0},
	}, got["error"])
}

func TestFilterSensitive(t *testing.T) {
	orig := sampleSuccess("x", t0)
	out := FilterSensitive(orig)

	assert.Equal(t, filtered, out.Success.Metadata["api_key"])
	assert.Equal(t, filtered, out.Success.Metadata["nested"].(map[string]any)["auth_token"])
	assert.Equal(t, "m", out.Success.Metadata["model"])
	assert.Equal(t, "sk-123", orig.Success.Metadata["api_key"])

	fail := failureResult(apperr.Configuration, "bad", map[string]any{"Credential_File": "/x", "phase": "reasoning"}, t0)
	f := FilterSensitive(fail)
	assert.Equal(t, filtered, f.Failure.Details["Credential_File"])
	assert.Equal(t, "reasoning", f.Failure.Details["phase"])
	assert.Equal(t, "/x", fail.Failure.Details["Credential_File"])
}

func TestMerge(t *testing.T) {
	fail := failureResult(apperr.Synthesis, "nope", nil, t0.Add(3*time.Second))
	a := sampleSuccess("a", t0)
	b := sampleSuccess("b", t0.Add(time.Second))
	results := []Result{a, b, fail}

	got, err := Merge(results, MergeLatest)
	require.NoError(t, err)
	assert.Equal(t, fail, got)

	got, err = Merge(results, MergeFirstSuccess)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Success.Code)

	got, err = Merge([]Result{fail}, MergeFirstSuccess)
	require.NoError(t, err)
	assert.Equal(t, fail, got)

	got, err = Merge(results, MergeCombine)
	require.NoError(t, err)
	require.True(t, got.OK())
	assert.Equal(t, "a\n\nb", got.Success.Code)
	assert.Equal(t, "explains a\n\nexplains b", got.Success.Synthesis.Explanation)
	assert.Equal(t, []string{"thought a", "thought b"}, got.Success.Reasoning.Thoughts)
	assert.Equal(t, []string{"req a", "req b"}, got.Success.Reasoning.TechnicalRequirements)
	assert.Equal(t, "combine", got.Success.Metadata["merge_strategy"])
	assert.Equal(t, b.CreatedAt, got.CreatedAt)

	got, err = Merge([]Result{fail}, MergeCombine)
	require.NoError(t, err)
	assert.Equal(t, fail, got)

	got, err = Merge(nil, MergeLatest)
	require.NoError(t, err)
	assert.Equal(t, "MergeError", got.Failure.ErrorKind)

	_, err = Merge(results, "random")
	assert.True(t, apperr.Is(err, apperr.Validation))
}
