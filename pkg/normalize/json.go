package normalize

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode"

	"github.com/buger/jsonparser"
)

// extractJSONObject returns the first balanced {...} in text, honouring
// string literals and escapes.
func extractJSONObject(text string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escape := false
	for i, r := range text {
		if start == -1 {
			if r == '{' {
				start = i
				depth = 1
			}
			continue
		}
		if inString {
			if escape {
				escape = false
				continue
			}
			if r == '\\' {
				escape = true
				continue
			}
			if r == '"' {
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(text[start : i+1]), true
			}
		}
	}
	return "", false
}

// unwrapRoot descends into {"reasoning": {...}} style envelopes.
func unwrapRoot(data []byte, root string) []byte {
	if v, typ, _, err := jsonparser.Get(data, root); err == nil && typ == jsonparser.Object {
		return v
	}
	return data
}

type reasoningJSON struct {
	TechnicalRequirements  []string             `json:"technical_requirements"`
	Requirements           []string             `json:"requirements"`
	ImplementationStrategy []string             `json:"implementation_strategy"`
	Strategy               []string             `json:"strategy"`
	GuidanceForClaude      []string             `json:"guidance_for_claude"`
	Guidance               []string             `json:"guidance"`
	SandboxRequirements    *SandboxRequirements `json:"sandbox_requirements"`
	Thoughts               []string             `json:"thoughts"`
	Metadata               map[string]any       `json:"metadata"`
}

func reasoningFromStrictJSON(data []byte) (Reasoning, error) {
	var w reasoningJSON
	if err := json.Unmarshal(unwrapRoot(data, "reasoning"), &w); err != nil {
		return Reasoning{}, err
	}
	r := Reasoning{
		TechnicalRequirements:  firstList(w.TechnicalRequirements, w.Requirements),
		ImplementationStrategy: firstList(w.ImplementationStrategy, w.Strategy),
		Guidance:               firstList(w.GuidanceForClaude, w.Guidance),
		Thoughts:               w.Thoughts,
		Metadata:               stringifyMap(w.Metadata),
	}
	if w.SandboxRequirements != nil && (w.SandboxRequirements.Template != "" || len(w.SandboxRequirements.Dependencies) > 0) {
		r.SandboxRequirements = w.SandboxRequirements
	}
	return r, nil
}

func reasoningFromLooseJSON(data []byte) Reasoning {
	data = unwrapRoot(data, "reasoning")
	r := Reasoning{
		TechnicalRequirements:  looseList(data, technicalRequirementsNames...),
		ImplementationStrategy: looseList(data, implementationStrategyNames...),
		Guidance:               looseList(data, guidanceNames...),
		Thoughts:               looseList(data, "thoughts"),
		Metadata:               looseMap(data, "metadata"),
	}
	if v, typ, _, err := jsonparser.Get(data, "sandbox_requirements"); err == nil && typ == jsonparser.Object {
		req := SandboxRequirements{
			Template:     looseString(v, "template"),
			Dependencies: looseList(v, "dependencies", "packages"),
		}
		if req.Template != "" || len(req.Dependencies) > 0 {
			r.SandboxRequirements = &req
		}
	}
	return r
}

type synthesisJSON struct {
	CodeCompletion string         `json:"code_completion"`
	Code           string         `json:"code"`
	Explanation    string         `json:"explanation"`
	SandboxConfig  *SandboxConfig `json:"sandbox_config"`
	Metadata       map[string]any `json:"metadata"`
}

func synthesisFromStrictJSON(data []byte) (Synthesis, error) {
	var w synthesisJSON
	if err := json.Unmarshal(unwrapRoot(data, "synthesis"), &w); err != nil {
		return Synthesis{}, err
	}
	code := w.CodeCompletion
	if strings.TrimSpace(code) == "" {
		code = w.Code
	}
	return Synthesis{
		CodeCompletion: trimCode(code),
		Explanation:    strings.TrimSpace(w.Explanation),
		SandboxConfig:  w.SandboxConfig,
		Metadata:       stringifyMap(w.Metadata),
	}, nil
}

func synthesisFromLooseJSON(data []byte) Synthesis {
	data = unwrapRoot(data, "synthesis")
	s := Synthesis{
		CodeCompletion: trimCode(looseString(data, "code_completion", "code")),
		Explanation:    strings.TrimSpace(looseString(data, "explanation")),
		Metadata:       looseMap(data, "metadata"),
	}
	if v, typ, _, err := jsonparser.Get(data, "sandbox_config"); err == nil && typ == jsonparser.Object {
		cfg := SandboxConfig{
			Template:     looseString(v, "template"),
			TimeoutMS:    looseInt(v, "timeout_ms"),
			MemoryMB:     looseInt(v, "memory_mb"),
			Dependencies: looseList(v, "dependencies", "packages"),
		}
		if cfg.Template != "" || cfg.TimeoutMS != 0 || cfg.MemoryMB != 0 || len(cfg.Dependencies) > 0 {
			s.SandboxConfig = &cfg
		}
	}
	return s
}

func firstList(lists ...[]string) []string {
	for _, l := range lists {
		if len(l) > 0 {
			return l
		}
	}
	return nil
}

func stringifyMap(m map[string]any) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case string:
			out[k] = t
		case nil:
			out[k] = ""
		default:
			b, err := json.Marshal(t)
			if err != nil {
				continue
			}
			out[k] = string(b)
		}
	}
	return out
}

// scalarString renders a jsonparser value as text.
func scalarString(value []byte, typ jsonparser.ValueType) string {
	switch typ {
	case jsonparser.String:
		s, err := jsonparser.ParseString(value)
		if err != nil {
			return string(value)
		}
		return s
	case jsonparser.Null, jsonparser.NotExist:
		return ""
	default:
		return string(value)
	}
}

// valueList coerces an array or a bulleted string into list items.
func valueList(value []byte, typ jsonparser.ValueType) []string {
	switch typ {
	case jsonparser.Array:
		var out []string
		_, _ = jsonparser.ArrayEach(value, func(item []byte, dt jsonparser.ValueType, _ int, err error) {
			if err != nil {
				return
			}
			if s := strings.TrimSpace(scalarString(item, dt)); s != "" {
				out = append(out, s)
			}
		})
		return out
	case jsonparser.String:
		return splitItems(scalarString(value, typ))
	}
	return nil
}

func looseList(data []byte, keys ...string) []string {
	for _, key := range keys {
		v, typ, _, err := jsonparser.Get(data, key)
		if err != nil {
			continue
		}
		if items := valueList(v, typ); len(items) > 0 {
			return items
		}
	}
	return nil
}

func looseString(data []byte, keys ...string) string {
	for _, key := range keys {
		v, typ, _, err := jsonparser.Get(data, key)
		if err != nil {
			continue
		}
		if s := scalarString(v, typ); strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func looseInt(data []byte, key string) int {
	if n, err := jsonparser.GetInt(data, key); err == nil {
		return int(n)
	}
	s := strings.TrimFunc(looseString(data, key), func(r rune) bool { return !unicode.IsDigit(r) })
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func looseMap(data []byte, key string) map[string]string {
	v, typ, _, err := jsonparser.Get(data, key)
	if err != nil || typ != jsonparser.Object {
		return nil
	}
	out := make(map[string]string)
	_ = jsonparser.ObjectEach(v, func(k, value []byte, dt jsonparser.ValueType, _ int) error {
		out[string(k)] = scalarString(value, dt)
		return nil
	})
	if len(out) == 0 {
		return nil
	}
	return out
}
