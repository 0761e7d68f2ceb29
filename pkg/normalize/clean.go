package normalize

import (
	"fmt"
	"html"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	declarationRE  = regexp.MustCompile(`^\s*<\?xml[^>]*\?>`)
	openFenceRE    = regexp.MustCompile("```[ \t]*(xml|json|XML|JSON)[ \t]*\r?\n")
	entityRE       = regexp.MustCompile(`^&(#[0-9]+|#[xX][0-9a-fA-F]+|[A-Za-z][A-Za-z0-9]*);`)
	entityRefRE    = regexp.MustCompile(`&(#[0-9]+|#[xX][0-9a-fA-F]+|[A-Za-z][A-Za-z0-9]*);`)
	htmlCommentRE  = regexp.MustCompile(`(?s)<!--.*?-->`)
	lineBreakRE    = regexp.MustCompile(`(?i)<br\s*/?>`)
	closeBreakRE   = regexp.MustCompile(`(?i)</br\s*>`)
	doubledOpenRE  = regexp.MustCompile(`<<(/?[A-Za-z_])`)
	doubledCloseRE = regexp.MustCompile(`(</?[A-Za-z_][\w.-]*(?:\s[^<>]*)?)>>`)
	formattingRE   = regexp.MustCompile(`(?i)</?(p|div|span|b|i|em|strong|u|font|center)(\s[^<>]*)?/?>`)
	bulletRE       = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+`)
)

// stripDecorations removes markdown fences and a leading XML declaration.
func stripDecorations(raw string) string {
	s := strings.TrimSpace(raw)
	s = stripFences(s)
	s = declarationRE.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// stripFences unwraps a payload that is itself fenced, or pulls the body of
// the first xml/json fence out of surrounding prose. Fences nested inside the
// payload (code blocks inside code_completion) are left alone.
func stripFences(s string) string {
	if !strings.Contains(s, "```") {
		return s
	}
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
		s = strings.TrimSpace(s)
		return strings.TrimSpace(strings.TrimSuffix(s, "```"))
	}
	if loc := openFenceRE.FindStringIndex(s); loc != nil {
		body := s[loc[1]:]
		if end := strings.LastIndex(body, "```"); end >= 0 {
			body = body[:end]
		}
		return strings.TrimSpace(body)
	}
	return s
}

// indexOpenTag finds "<name" followed by '>', '/' or whitespace at or after
// from. It returns -1 when absent.
func indexOpenTag(s, name string, from int) int {
	needle := "<" + name
	for from <= len(s) {
		i := strings.Index(s[from:], needle)
		if i < 0 {
			return -1
		}
		at := from + i
		next := at + len(needle)
		if next >= len(s) {
			return -1
		}
		switch s[next] {
		case '>', '/', ' ', '\t', '\n', '\r':
			return at
		}
		from = next
	}
	return -1
}

// ensureRoot trims prose around an existing root element, or synthesizes a
// versioned root around a bare fragment.
func ensureRoot(payload, root string) string {
	if start := indexOpenTag(payload, root, 0); start >= 0 {
		doc := payload[start:]
		closing := "</" + root + ">"
		if end := strings.LastIndex(doc, closing); end >= 0 {
			doc = doc[:end+len(closing)]
		}
		return doc
	}
	return fmt.Sprintf("<%s version=%q>\n%s\n</%s>", root, SchemaVersion, payload, root)
}

type span struct{ start, end int }

func cdataSpans(s string) []span {
	var out []span
	from := 0
	for {
		i := strings.Index(s[from:], "<![CDATA[")
		if i < 0 {
			return out
		}
		start := from + i
		j := strings.Index(s[start:], "]]>")
		if j < 0 {
			return append(out, span{start, len(s)})
		}
		end := start + j + len("]]>")
		out = append(out, span{start, end})
		from = end
	}
}

// elementSpans covers each named element from its open tag through its
// close tag, or through the end of s when it is never closed.
func elementSpans(s string, names []string) []span {
	var out []span
	for _, name := range names {
		from := 0
		for {
			start := indexOpenTag(s, name, from)
			if start < 0 {
				break
			}
			closing := "</" + name + ">"
			j := strings.Index(s[start:], closing)
			if j < 0 {
				out = append(out, span{start, len(s)})
				break
			}
			end := start + j + len(closing)
			out = append(out, span{start, end})
			from = end
		}
	}
	return out
}

func mergeSpans(groups ...[]span) []span {
	var all []span
	for _, g := range groups {
		all = append(all, g...)
	}
	if len(all) == 0 {
		return nil
	}
	sort.Slice(all, func(i, j int) bool { return all[i].start < all[j].start })
	merged := []span{all[0]}
	for _, sp := range all[1:] {
		last := &merged[len(merged)-1]
		if sp.start <= last.end {
			if sp.end > last.end {
				last.end = sp.end
			}
			continue
		}
		merged = append(merged, sp)
	}
	return merged
}

// mapOutside applies f to every part of s not covered by spans, which must
// be sorted and disjoint.
func mapOutside(s string, spans []span, f func(string) string) string {
	if len(spans) == 0 {
		return f(s)
	}
	var b strings.Builder
	prev := 0
	for _, sp := range spans {
		b.WriteString(f(s[prev:sp.start]))
		b.WriteString(s[sp.start:sp.end])
		prev = sp.end
	}
	b.WriteString(f(s[prev:]))
	return b.String()
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

func stripNonPrintable(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' || unicode.IsPrint(r) {
			return r
		}
		return -1
	}, s)
}

func escapeBareAmpersands(s string) string {
	if !strings.Contains(s, "&") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '&' && !entityRE.MatchString(s[i:]) {
			b.WriteString("&amp;")
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func fixTags(s string) string {
	s = htmlCommentRE.ReplaceAllString(s, "")
	s = lineBreakRE.ReplaceAllString(s, "\n")
	s = closeBreakRE.ReplaceAllString(s, "")
	s = doubledOpenRE.ReplaceAllString(s, "<$1")
	return doubledCloseRE.ReplaceAllString(s, "$1>")
}

// cleanMarkup removes the characters and tags known to break the XML
// decoder. CDATA sections are never touched, and protected elements only
// get ampersand escaping.
func cleanMarkup(doc string, protect []string) string {
	s := stripControl(doc)
	s = mapOutside(s, cdataSpans(s), escapeBareAmpersands)
	return mapOutside(s, mergeSpans(cdataSpans(s), elementSpans(s, protect)), fixTags)
}

// aggressiveClean folds compatibility characters, drops non-printables and
// strips HTML formatting tags outside protected elements.
func aggressiveClean(s string, protect []string) string {
	spans := mergeSpans(cdataSpans(s), elementSpans(s, protect))
	return mapOutside(s, spans, func(part string) string {
		part = norm.NFKC.String(part)
		part = formattingRE.ReplaceAllString(part, "")
		return stripNonPrintable(part)
	})
}

var smartQuotes = strings.NewReplacer("“", `"`, "”", `"`, "„", `"`, "‘", "'", "’", "'")

var trailingCommaRE = regexp.MustCompile(`,(\s*[}\]])`)

// aggressiveJSON repairs the most common hand-written JSON mistakes.
func aggressiveJSON(s string) string {
	s = norm.NFKC.String(s)
	s = smartQuotes.Replace(s)
	s = stripControl(s)
	return trailingCommaRE.ReplaceAllString(s, "$1")
}

// trimCode trims a code body without losing the first line's indentation
// when the code starts on its own line.
func trimCode(s string) string {
	s = strings.TrimRight(s, " \t\r\n")
	head := strings.TrimLeft(s, " \t")
	if !strings.HasPrefix(head, "\n") && !strings.HasPrefix(head, "\r\n") {
		return head
	}
	for {
		nl := strings.IndexByte(s, '\n')
		if nl < 0 || strings.TrimSpace(s[:nl]) != "" {
			return s
		}
		s = s[nl+1:]
	}
}

// unwrapCDATA returns the body of a value that is a single CDATA section.
func unwrapCDATA(s string) string {
	t := strings.TrimSpace(s)
	if strings.HasPrefix(t, "<![CDATA[") && strings.HasSuffix(t, "]]>") {
		return t[len("<![CDATA[") : len(t)-len("]]>")]
	}
	return s
}

// elementText is the text of a raw element body: a lone CDATA section is
// returned verbatim, anything else has its entity references decoded.
// Only terminated references are decoded, so "a&notb" survives.
func elementText(s string) string {
	if t := strings.TrimSpace(s); strings.HasPrefix(t, "<![CDATA[") && strings.HasSuffix(t, "]]>") {
		return unwrapCDATA(t)
	}
	if !strings.Contains(s, "&") {
		return s
	}
	return entityRefRE.ReplaceAllStringFunc(s, html.UnescapeString)
}

// splitItems turns a bulleted or numbered block of text into list items.
func splitItems(text string) []string {
	var items []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(bulletRE.ReplaceAllString(line, ""))
		if line != "" {
			items = append(items, line)
		}
	}
	return items
}
