package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anilymngl/codemind/pkg/apperr"
	"github.com/anilymngl/codemind/pkg/normalize"
)

// ReasoningView is the part of the reasoning record surfaced to callers.
type ReasoningView struct {
	Thoughts               []string                       `json:"thoughts"`
	TechnicalRequirements  []string                       `json:"technical_requirements"`
	ImplementationStrategy []string                       `json:"implementation_strategy"`
	Guidance               []string                       `json:"guidance,omitempty"`
	SandboxRequirements    *normalize.SandboxRequirements `json:"sandbox_requirements,omitempty"`
	Metadata               map[string]any                 `json:"metadata,omitempty"`
}

// SynthesisView is the part of the synthesis record surfaced to callers.
type SynthesisView struct {
	Code          string                   `json:"code"`
	Explanation   string                   `json:"explanation,omitempty"`
	SandboxConfig *normalize.SandboxConfig `json:"sandbox_config,omitempty"`
	Metadata      map[string]any           `json:"metadata,omitempty"`
}

func reasoningView(r normalize.Reasoning) ReasoningView {
	return ReasoningView{
		Thoughts:               nonNil(r.Thoughts),
		TechnicalRequirements:  nonNil(r.TechnicalRequirements),
		ImplementationStrategy: nonNil(r.ImplementationStrategy),
		Guidance:               r.Guidance,
		SandboxRequirements:    r.SandboxRequirements,
		Metadata:               anyMap(r.Metadata),
	}
}

func synthesisView(s normalize.Synthesis) SynthesisView {
	return SynthesisView{
		Code:          s.CodeCompletion,
		Explanation:   s.Explanation,
		SandboxConfig: s.SandboxConfig,
		Metadata:      anyMap(s.Metadata),
	}
}

type Success struct {
	Code      string         `json:"code"`
	Reasoning ReasoningView  `json:"reasoning"`
	Synthesis SynthesisView  `json:"synthesis"`
	Metadata  map[string]any `json:"metadata"`
}

// Failure carries the original error kind name, never a wrapper's.
type Failure struct {
	ErrorKind string         `json:"type"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

// Result is the outcome of one query. Exactly one of Success and Failure is
// set.
type Result struct {
	Success   *Success
	Failure   *Failure
	CreatedAt time.Time
}

func (r Result) OK() bool { return r.Success != nil }

func successResult(s Success, now time.Time) Result {
	return Result{Success: &s, CreatedAt: now}
}

func failureResult(kind apperr.Kind, msg string, details map[string]any, now time.Time) Result {
	return Result{Failure: &Failure{ErrorKind: string(kind), Message: msg, Details: details}, CreatedAt: now}
}

type resultJSON struct {
	Success   bool           `json:"success"`
	Code      string         `json:"code,omitempty"`
	Reasoning *ReasoningView `json:"reasoning,omitempty"`
	Synthesis *SynthesisView `json:"synthesis,omitempty"`
	Error     *Failure       `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata"`
	Timestamp string         `json:"timestamp"`
}

// MarshalJSON flattens the union into {success, code, reasoning, synthesis,
// error, metadata, timestamp} with an RFC 3339 timestamp.
func (r Result) MarshalJSON() ([]byte, error) {
	out := resultJSON{
		Metadata:  map[string]any{},
		Timestamp: r.CreatedAt.Format(time.RFC3339Nano),
	}
	switch {
	case r.Success != nil:
		out.Success = true
		out.Code = r.Success.Code
		out.Reasoning = &r.Success.Reasoning
		out.Synthesis = &r.Success.Synthesis
		if r.Success.Metadata != nil {
			out.Metadata = r.Success.Metadata
		}
	case r.Failure != nil:
		out.Error = r.Failure
	}
	return json.Marshal(out)
}

var sensitiveKeys = []string{"api_key", "secret", "password", "token", "auth", "credential", "private"}

const filtered = "[FILTERED]"

func filterMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		lk := strings.ToLower(k)
		masked := false
		for _, s := range sensitiveKeys {
			if strings.Contains(lk, s) {
				masked = true
				break
			}
		}
		switch {
		case masked:
			out[k] = filtered
		case isMap(v):
			out[k] = filterMap(v.(map[string]any))
		default:
			out[k] = v
		}
	}
	return out
}

func isMap(v any) bool {
	_, ok := v.(map[string]any)
	return ok
}

// FilterSensitive returns a copy of r with credential-like metadata and
// detail values masked. r is not modified.
func FilterSensitive(r Result) Result {
	out := Result{CreatedAt: r.CreatedAt}
	if r.Success != nil {
		s := *r.Success
		s.Metadata = filterMap(s.Metadata)
		s.Reasoning.Metadata = filterMap(s.Reasoning.Metadata)
		s.Synthesis.Metadata = filterMap(s.Synthesis.Metadata)
		out.Success = &s
	}
	if r.Failure != nil {
		f := *r.Failure
		f.Details = filterMap(f.Details)
		out.Failure = &f
	}
	return out
}

// MergeStrategy selects how Merge combines results.
type MergeStrategy string

const (
	MergeLatest       MergeStrategy = "latest"
	MergeFirstSuccess MergeStrategy = "first_success"
	MergeCombine      MergeStrategy = "combine"
)

// Merge reduces several results to one. An empty input yields a MergeError
// failure; an unknown strategy is a validation error.
func Merge(results []Result, strategy MergeStrategy) (Result, error) {
	if len(results) == 0 {
		return failureResult("MergeError", "No responses to merge", nil, time.Now()), nil
	}

	switch strategy {
	case MergeLatest, "":
		latest := results[0]
		for _, r := range results[1:] {
			if r.CreatedAt.After(latest.CreatedAt) {
				latest = r
			}
		}
		return latest, nil
	case MergeFirstSuccess:
		for _, r := range results {
			if r.OK() {
				return r, nil
			}
		}
		return results[len(results)-1], nil
	case MergeCombine:
		return combine(results), nil
	default:
		return Result{}, apperr.NewValidation(fmt.Sprintf("unknown merge strategy: %s", strategy))
	}
}

func combine(results []Result) Result {
	var successes []*Success
	var newest time.Time
	for _, r := range results {
		if r.OK() {
			successes = append(successes, r.Success)
			if r.CreatedAt.After(newest) {
				newest = r.CreatedAt
			}
		}
	}
	if len(successes) == 0 {
		return results[len(results)-1]
	}

	var codes, explanations []string
	reasoning := ReasoningView{Thoughts: []string{}, TechnicalRequirements: []string{}, ImplementationStrategy: []string{}}
	for _, s := range successes {
		if s.Code != "" {
			codes = append(codes, s.Code)
		}
		if s.Synthesis.Explanation != "" {
			explanations = append(explanations, s.Synthesis.Explanation)
		}
		reasoning.Thoughts = append(reasoning.Thoughts, s.Reasoning.Thoughts...)
		reasoning.TechnicalRequirements = append(reasoning.TechnicalRequirements, s.Reasoning.TechnicalRequirements...)
		reasoning.ImplementationStrategy = append(reasoning.ImplementationStrategy, s.Reasoning.ImplementationStrategy...)
		reasoning.Guidance = append(reasoning.Guidance, s.Reasoning.Guidance...)
	}
	reasoning.Metadata = map[string]any{"combined": true}

	code := strings.Join(codes, "\n\n")
	return successResult(Success{
		Code:      code,
		Reasoning: reasoning,
		Synthesis: SynthesisView{
			Code:        code,
			Explanation: strings.Join(explanations, "\n\n"),
			Metadata:    map[string]any{"combined": true},
		},
		Metadata: map[string]any{"merge_strategy": string(MergeCombine)},
	}, newest)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func anyMap(m map[string]string) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
