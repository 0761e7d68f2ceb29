// Package normalize turns the free text returned by the reasoning and
// synthesis models into typed records.
//
// A reply is expected to carry either an XML document or a JSON object,
// often wrapped in markdown fences or prose. The strategy is picked by
// sniffing the payload, not by provider. Each strategy escalates through
// strict, lenient and aggressive parses; if none yields the record's required
// field, the required field is searched for by its literal delimiters in the
// raw text, and as a last resort a fixed fallback record is returned. Only an
// empty payload is an error.
package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/anilymngl/codemind/pkg/apperr"
)

// SchemaVersion is stamped on synthesized root elements and fallback records.
const SchemaVersion = "2.0.0"

// Format is the markup family a payload was parsed as.
type Format int

const (
	FormatXML Format = iota
	FormatJSON
)

func (f Format) String() string {
	if f == FormatJSON {
		return "json"
	}
	return "xml"
}

// Stage records which step of the recovery chain produced a record.
type Stage int

const (
	StageStrict Stage = iota
	StageLenient
	StageAggressive
	StageSubstring
	StageFallback
)

func (s Stage) String() string {
	switch s {
	case StageStrict:
		return "strict"
	case StageLenient:
		return "lenient"
	case StageAggressive:
		return "aggressive"
	case StageSubstring:
		return "substring"
	default:
		return "fallback"
	}
}

// Outcome describes how a record was recovered.
type Outcome struct {
	Format Format
	Stage  Stage
}

// Fallback reports whether the record is the fixed fallback template.
func (o Outcome) Fallback() bool { return o.Stage == StageFallback }

// SandboxRequirements is the reasoning model's view of the execution
// environment.
type SandboxRequirements struct {
	Template     string   `json:"template,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// Reasoning is the structured plan produced by the reasoning stage.
type Reasoning struct {
	TechnicalRequirements  []string             `json:"technical_requirements"`
	ImplementationStrategy []string             `json:"implementation_strategy"`
	Guidance               []string             `json:"guidance"`
	SandboxRequirements    *SandboxRequirements `json:"sandbox_requirements,omitempty"`
	Thoughts               []string             `json:"thoughts"`
	Metadata               map[string]string    `json:"metadata,omitempty"`
}

// Valid reports whether the required fields are present: at least one of
// TechnicalRequirements and ImplementationStrategy.
func (r Reasoning) Valid() bool {
	return len(r.TechnicalRequirements) > 0 || len(r.ImplementationStrategy) > 0
}

// SandboxConfig is the synthesis model's requested execution environment.
type SandboxConfig struct {
	Template     string   `json:"template,omitempty"`
	TimeoutMS    int      `json:"timeout_ms,omitempty"`
	MemoryMB     int      `json:"memory_mb,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// Synthesis is the code produced by the synthesis stage.
type Synthesis struct {
	CodeCompletion string            `json:"code_completion"`
	Explanation    string            `json:"explanation,omitempty"`
	SandboxConfig  *SandboxConfig    `json:"sandbox_config,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Valid reports whether CodeCompletion is non-empty.
func (s Synthesis) Valid() bool {
	return strings.TrimSpace(s.CodeCompletion) != ""
}

// Sniff picks the parsing strategy from the payload's leading character once
// fences and declarations are stripped. A payload with no markup at all but
// an embedded object is also treated as JSON.
func Sniff(raw string) Format {
	return sniffPayload(stripDecorations(raw))
}

func sniffPayload(payload string) Format {
	if strings.HasPrefix(payload, "{") || strings.HasPrefix(payload, "[") {
		return FormatJSON
	}
	if !strings.Contains(payload, "<") && strings.Contains(payload, "{") {
		return FormatJSON
	}
	return FormatXML
}

// NormalizeReasoning recovers a Reasoning record from raw model output.
func NormalizeReasoning(raw string) (Reasoning, Outcome, error) {
	return normalizeWith(raw, reasoningShape, time.Now())
}

// NormalizeSynthesis recovers a Synthesis record from raw model output.
func NormalizeSynthesis(raw string) (Synthesis, Outcome, error) {
	return normalizeWith(raw, synthesisShape, time.Now())
}

// recordShape binds the per-record extraction rules to the shared pipeline.
type recordShape[T any] struct {
	root       string
	protect    []string // elements whose bodies are never rewritten by cleanup
	fromTree   func(*node) T
	strictJSON func([]byte) (T, error)
	looseJSON  func([]byte) T
	substrings func(string) T
	valid      func(T) bool
	fallback   func(time.Time) T
}

var reasoningShape = recordShape[Reasoning]{
	root:       "reasoning",
	fromTree:   reasoningFromTree,
	strictJSON: reasoningFromStrictJSON,
	looseJSON:  reasoningFromLooseJSON,
	substrings: reasoningFromSubstrings,
	valid:      Reasoning.Valid,
	fallback:   FallbackReasoning,
}

var synthesisShape = recordShape[Synthesis]{
	root:       "synthesis",
	protect:    []string{"code_completion"},
	fromTree:   synthesisFromTree,
	strictJSON: synthesisFromStrictJSON,
	looseJSON:  synthesisFromLooseJSON,
	substrings: synthesisFromSubstrings,
	valid:      Synthesis.Valid,
	fallback:   FallbackSynthesis,
}

func normalizeWith[T any](raw string, sh recordShape[T], now time.Time) (T, Outcome, error) {
	var zero T
	if strings.TrimSpace(raw) == "" {
		return zero, Outcome{}, apperr.NewParsing(fmt.Sprintf("empty %s payload", sh.root), nil)
	}

	payload := stripDecorations(raw)
	format := sniffPayload(payload)

	var (
		rec   T
		stage Stage
		ok    bool
	)
	if format == FormatJSON {
		rec, stage, ok = jsonStages(payload, sh)
	} else {
		rec, stage, ok = xmlStages(payload, sh)
	}
	if ok {
		return rec, Outcome{Format: format, Stage: stage}, nil
	}

	if rec := sh.substrings(raw); sh.valid(rec) {
		return rec, Outcome{Format: format, Stage: StageSubstring}, nil
	}
	return sh.fallback(now), Outcome{Format: format, Stage: StageFallback}, nil
}

func xmlStages[T any](payload string, sh recordShape[T]) (T, Stage, bool) {
	doc := ensureRoot(payload, sh.root)
	lenient := cleanMarkup(doc, sh.protect)
	attempts := []struct {
		stage  Stage
		text   string
		strict bool
	}{
		{StageStrict, doc, true},
		{StageLenient, lenient, false},
		{StageAggressive, aggressiveClean(lenient, sh.protect), false},
	}
	for _, a := range attempts {
		root, _ := parseTree(a.text, a.strict)
		if root == nil {
			continue
		}
		if rec := sh.fromTree(root); sh.valid(rec) {
			return rec, a.stage, true
		}
	}
	var zero T
	return zero, 0, false
}

func jsonStages[T any](payload string, sh recordShape[T]) (T, Stage, bool) {
	obj, ok := extractJSONObject(payload)
	if !ok {
		// truncated object: the permissive reader still sees the complete keys
		obj = payload
		if i := strings.IndexByte(payload, '{'); i >= 0 {
			obj = payload[i:]
		}
	}

	if rec, err := sh.strictJSON([]byte(obj)); err == nil && sh.valid(rec) {
		return rec, StageStrict, true
	}
	if rec := sh.looseJSON([]byte(obj)); sh.valid(rec) {
		return rec, StageLenient, true
	}

	cleaned := []byte(aggressiveJSON(obj))
	if rec, err := sh.strictJSON(cleaned); err == nil && sh.valid(rec) {
		return rec, StageAggressive, true
	}
	if rec := sh.looseJSON(cleaned); sh.valid(rec) {
		return rec, StageAggressive, true
	}
	var zero T
	return zero, 0, false
}
