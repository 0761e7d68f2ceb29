package normalize

import (
	"regexp"
	"strings"

	"github.com/buger/jsonparser"
)

var codeFenceRE = regexp.MustCompile("(?s)```([A-Za-z0-9_+.-]*)[ \t]*\r?\n(.*?)```")

// tagContent returns the raw text between the first <name ...> and the
// following </name>, ignoring document structure.
func tagContent(s, name string) (string, bool) {
	body, _, ok := tagContentFrom(s, name, 0)
	return body, ok
}

// tagContentFrom is tagContent starting the search at from. end is the
// index just past the close tag.
func tagContentFrom(s, name string, from int) (body string, end int, ok bool) {
	start := indexOpenTag(s, name, from)
	if start < 0 {
		return "", 0, false
	}
	gt := strings.IndexByte(s[start:], '>')
	if gt < 0 || s[start+gt-1] == '/' {
		return "", 0, false
	}
	open := start + gt + 1
	closing := "</" + name + ">"
	i := strings.Index(s[open:], closing)
	if i < 0 {
		return "", 0, false
	}
	return s[open : open+i], open + i + len(closing), true
}

// itemsFromFragment splits a section body on literal <item> delimiters,
// falling back to one item per line.
func itemsFromFragment(fragment string) []string {
	if !strings.Contains(fragment, "<item") {
		return splitItems(elementText(fragment))
	}
	var out []string
	from := 0
	for {
		body, end, ok := tagContentFrom(fragment, "item", from)
		if !ok {
			return out
		}
		if v := strings.TrimSpace(elementText(body)); v != "" {
			out = append(out, v)
		}
		from = end
	}
}

// openTagTail returns everything after <name ...> when the element is
// never closed, as in a reply cut off mid-section.
func openTagTail(s, name string) (string, bool) {
	start := indexOpenTag(s, name, 0)
	if start < 0 {
		return "", false
	}
	gt := strings.IndexByte(s[start:], '>')
	if gt < 0 || s[start+gt-1] == '/' {
		return "", false
	}
	tail := s[start+gt+1:]
	if strings.Contains(tail, "</"+name+">") {
		return "", false
	}
	return tail, true
}

// leadingItems collects the complete <item> elements at the start of s,
// stopping at the first thing that is not one.
func leadingItems(s string) []string {
	var out []string
	for {
		s = strings.TrimLeft(s, " \t\r\n")
		if indexOpenTag(s, "item", 0) != 0 {
			return out
		}
		body, end, ok := tagContentFrom(s, "item", 0)
		if !ok {
			return out
		}
		if v := strings.TrimSpace(elementText(body)); v != "" {
			out = append(out, v)
		}
		s = s[end:]
	}
}

// jsonFieldValue finds "key": <value> in text that is not necessarily valid
// JSON and returns the value if it is a complete string or array literal.
func jsonFieldValue(s, key string) ([]byte, jsonparser.ValueType, bool) {
	needle := `"` + key + `"`
	from := 0
	for {
		i := strings.Index(s[from:], needle)
		if i < 0 {
			return nil, jsonparser.NotExist, false
		}
		rest := strings.TrimLeft(s[from+i+len(needle):], " \t\r\n")
		from += i + len(needle)
		if !strings.HasPrefix(rest, ":") {
			continue
		}
		rest = strings.TrimLeft(rest[1:], " \t\r\n")
		switch {
		case strings.HasPrefix(rest, `"`):
			if end := stringLiteralEnd(rest); end > 0 {
				return []byte(rest[1:end]), jsonparser.String, true
			}
		case strings.HasPrefix(rest, "["):
			if end := bracketEnd(rest); end > 0 {
				return []byte(rest[:end+1]), jsonparser.Array, true
			}
		}
	}
}

// stringLiteralEnd returns the index of the closing quote of the literal
// starting at s[0].
func stringLiteralEnd(s string) int {
	escape := false
	for i := 1; i < len(s); i++ {
		switch {
		case escape:
			escape = false
		case s[i] == '\\':
			escape = true
		case s[i] == '"':
			return i
		}
	}
	return -1
}

// bracketEnd returns the index of the ']' matching s[0].
func bracketEnd(s string) int {
	depth := 0
	inString := false
	escape := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escape:
				escape = false
			case c == '\\':
				escape = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func substringList(raw string, names ...string) []string {
	for _, name := range names {
		if body, ok := tagContent(raw, name); ok {
			if items := itemsFromFragment(body); len(items) > 0 {
				return items
			}
		}
	}
	for _, name := range names {
		if tail, ok := openTagTail(raw, name); ok {
			if items := leadingItems(tail); len(items) > 0 {
				return items
			}
		}
	}
	for _, name := range names {
		if v, typ, ok := jsonFieldValue(raw, name); ok {
			if items := valueList(v, typ); len(items) > 0 {
				return items
			}
		}
	}
	return nil
}

func substringText(raw string, names ...string) string {
	for _, name := range names {
		if body, ok := tagContent(raw, name); ok {
			if v := trimCode(elementText(body)); v != "" {
				return v
			}
		}
	}
	for _, name := range names {
		if v, typ, ok := jsonFieldValue(raw, name); ok && typ == jsonparser.String {
			if s := trimCode(scalarString(v, typ)); s != "" {
				return s
			}
		}
	}
	return ""
}

// fencedCode returns the body of the first fenced block that is not itself
// an xml or json payload.
func fencedCode(raw string) string {
	for _, m := range codeFenceRE.FindAllStringSubmatch(raw, -1) {
		switch strings.ToLower(m[1]) {
		case "xml", "json":
			continue
		}
		if body := trimCode(m[2]); body != "" {
			return body
		}
	}
	return ""
}

func reasoningFromSubstrings(raw string) Reasoning {
	return Reasoning{
		TechnicalRequirements:  substringList(raw, technicalRequirementsNames...),
		ImplementationStrategy: substringList(raw, implementationStrategyNames...),
		Guidance:               substringList(raw, guidanceNames...),
		Thoughts:               substringList(raw, "thoughts"),
	}
}

func synthesisFromSubstrings(raw string) Synthesis {
	code := substringText(raw, "code_completion")
	if code == "" {
		code = substringText(raw, "code")
	}
	if code == "" {
		code = fencedCode(raw)
	}
	return Synthesis{
		CodeCompletion: code,
		Explanation:    strings.TrimSpace(substringText(raw, "explanation")),
	}
}
