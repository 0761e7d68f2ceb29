package normalize

import (
	"strconv"
	"strings"
)

var (
	technicalRequirementsNames  = []string{"technical_requirements", "requirements"}
	implementationStrategyNames = []string{"implementation_strategy", "strategy"}
	guidanceNames               = []string{"guidance_for_claude", "guidance"}
)

func reasoningFromTree(root *node) Reasoning {
	r := Reasoning{
		TechnicalRequirements:  listSection(root, technicalRequirementsNames...),
		ImplementationStrategy: listSection(root, implementationStrategyNames...),
		Guidance:               listSection(root, guidanceNames...),
		Thoughts:               listSection(root, "thoughts"),
		Metadata:               metadataSection(root),
	}
	if sr := root.find("sandbox_requirements"); sr != nil {
		req := SandboxRequirements{
			Template:     sr.find("template").value(),
			Dependencies: packages(sr),
		}
		if req.Template != "" || len(req.Dependencies) > 0 {
			r.SandboxRequirements = &req
		}
	}
	return r
}

func synthesisFromTree(root *node) Synthesis {
	s := Synthesis{
		Explanation: root.find("explanation").value(),
		Metadata:    metadataSection(root),
	}
	// Markup inside the code body means the decoder split it into elements;
	// the literal text is recovered from the raw payload instead.
	code := root.find("code_completion")
	if code == nil {
		code = root.child("code")
	}
	if code != nil && len(code.children) == 0 {
		s.CodeCompletion = trimCode(code.text.String())
	}
	if sc := root.find("sandbox_config"); sc != nil {
		cfg := SandboxConfig{
			Template:     sc.find("template").value(),
			TimeoutMS:    atoi(sc.find("timeout_ms").value()),
			MemoryMB:     atoi(sc.find("memory_mb").value()),
			Dependencies: packages(sc),
		}
		if cfg.Template != "" || cfg.TimeoutMS != 0 || cfg.MemoryMB != 0 || len(cfg.Dependencies) > 0 {
			s.SandboxConfig = &cfg
		}
	}
	return s
}

// listSection returns the <item> values of the first section found under
// any of names. A section written as plain bulleted text is split by line.
// A section cut off before its end tag keeps only its closed items.
func listSection(root *node, names ...string) []string {
	section := root.find(names...)
	if section == nil {
		return itemValues(root.findTruncated(names...).childrenNamed("item"))
	}
	items := section.childrenNamed("item")
	if len(items) == 0 {
		return splitItems(section.value())
	}
	return itemValues(items)
}

func itemValues(items []*node) []string {
	if len(items) == 0 {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if v := it.innerText(); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func packages(parent *node) []string {
	deps := parent.find("dependencies")
	if deps == nil {
		return nil
	}
	var out []string
	for _, p := range deps.childrenNamed("package") {
		if v := p.value(); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// metadataSection reads <item key="k">v</item> pairs, and plain child
// elements as name/value pairs.
func metadataSection(root *node) map[string]string {
	md := root.find("metadata")
	if md == nil {
		return nil
	}
	out := make(map[string]string)
	for _, c := range md.children {
		if !c.closed {
			continue
		}
		if strings.EqualFold(c.name, "item") {
			if key := c.attrs["key"]; key != "" {
				out[key] = c.value()
			}
			continue
		}
		out[c.name] = c.value()
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}
