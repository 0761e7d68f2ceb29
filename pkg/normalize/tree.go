package normalize

import (
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

// node is a minimal element tree. Only elements whose end tag was seen are
// marked closed; a recovering parse may leave trailing elements open and
// their content must not be trusted.
type node struct {
	name     string
	attrs    map[string]string
	text     strings.Builder // own character data
	inner    strings.Builder // character data of the whole subtree, in order
	children []*node
	closed   bool
}

var errNoRoot = errors.New("no root element")

// parseTree decodes doc into a tree. In strict mode any syntax error fails
// the parse. Otherwise the decoder auto-closes HTML void elements, accepts
// HTML entities and mismatched end tags, and a syntax error returns the tree
// built so far together with the error.
func parseTree(doc string, strict bool) (*node, error) {
	dec := xml.NewDecoder(strings.NewReader(doc))
	dec.Strict = strict
	if !strict {
		dec.AutoClose = xml.HTMLAutoClose
		dec.Entity = xml.HTMLEntity
	}

	var root *node
	var stack []*node
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			if strict || root == nil {
				return nil, err
			}
			return root, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &node{name: t.Name.Local}
			for _, a := range t.Attr {
				if n.attrs == nil {
					n.attrs = make(map[string]string, len(t.Attr))
				}
				n.attrs[a.Name.Local] = a.Value
			}
			switch {
			case len(stack) > 0:
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, n)
			case root == nil:
				root = n
			default:
				root.children = append(root.children, n)
			}
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) > 0 {
				stack[len(stack)-1].closed = true
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
			for _, open := range stack {
				open.inner.Write(t)
			}
		}
	}
	if root == nil {
		return nil, errNoRoot
	}
	return root, nil
}

// find returns the first closed descendant (depth-first) whose name matches
// any of names, ignoring case.
func (n *node) find(names ...string) *node {
	if n == nil {
		return nil
	}
	for _, c := range n.children {
		if c.closed && matchesAny(c.name, names) {
			return c
		}
		if hit := c.find(names...); hit != nil {
			return hit
		}
	}
	return nil
}

// findTruncated returns the first descendant matching names that was left
// open by a cut-off document.
func (n *node) findTruncated(names ...string) *node {
	if n == nil {
		return nil
	}
	for _, c := range n.children {
		if !c.closed && matchesAny(c.name, names) {
			return c
		}
		if hit := c.findTruncated(names...); hit != nil {
			return hit
		}
	}
	return nil
}

// child returns the first closed direct child called name.
func (n *node) child(name string) *node {
	if n == nil {
		return nil
	}
	for _, c := range n.children {
		if c.closed && strings.EqualFold(c.name, name) {
			return c
		}
	}
	return nil
}

// childrenNamed returns the closed direct children called name.
func (n *node) childrenNamed(name string) []*node {
	if n == nil {
		return nil
	}
	var out []*node
	for _, c := range n.children {
		if c.closed && strings.EqualFold(c.name, name) {
			out = append(out, c)
		}
	}
	return out
}

// value is the element's own character data, trimmed.
func (n *node) value() string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.text.String())
}

// innerText is the trimmed character data of the element and everything
// inside it.
func (n *node) innerText() string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.inner.String())
}

func matchesAny(name string, names []string) bool {
	for _, want := range names {
		if strings.EqualFold(name, want) {
			return true
		}
	}
	return false
}
