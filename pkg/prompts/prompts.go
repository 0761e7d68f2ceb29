package prompts

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/anilymngl/codemind/pkg/normalize"
)

// PromptDir holds optional overrides: reasoning.txt and synthesis_system.txt.
var PromptDir = filepath.Join(".codemind", "prompts")

func LoadPromptFromFile(filename string) (string, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt file %s: %w", filename, err)
	}
	return string(content), nil
}

func loadOverride(name, fallback string) string {
	content, err := LoadPromptFromFile(filepath.Join(PromptDir, name))
	if err != nil || strings.TrimSpace(content) == "" {
		return fallback
	}
	return content
}

const reasoningInstructions = `You are a senior engineer planning a code change for another model to implement.
Think step by step about the request below. Consider edge cases, error handling and validation.

Reply with exactly one XML document and nothing else, in this shape:

<reasoning version="2.0.0">
  <technical_requirements>
    <item>one requirement per item</item>
  </technical_requirements>
  <implementation_strategy>
    <item>one step per item, in order</item>
  </implementation_strategy>
  <guidance_for_claude>
    <item>concrete advice for the implementer</item>
  </guidance_for_claude>
  <sandbox_requirements>
    <template>base</template>
    <dependencies>
      <package>only packages the code imports</package>
    </dependencies>
  </sandbox_requirements>
</reasoning>

Escape &, < and > inside text, or wrap text in CDATA.`

const synthesisSystem = `You are a code synthesis engine. Another model has already planned the work; its thoughts
are provided as the start of your reply. Implement the plan fully: handle errors, validate input
and cover edge cases. Write clean, commented code.

Reply with exactly one XML document and nothing else, in this shape:

<synthesis version="2.0.0">
  <code_completion><![CDATA[
the complete code
]]></code_completion>
  <explanation>how the code satisfies the request and follows the plan</explanation>
  <sandbox_config>
    <template>base</template>
    <timeout_ms>30000</timeout_ms>
    <memory_mb>512</memory_mb>
    <dependencies>
      <package>only packages the code imports</package>
    </dependencies>
  </sandbox_config>
</synthesis>`

// ReasoningPrompt builds the planning prompt for query.
func ReasoningPrompt(query string, extra map[string]any) string {
	var b strings.Builder
	b.WriteString(loadOverride("reasoning.txt", reasoningInstructions))
	b.WriteString("\n\n<request>\n")
	b.WriteString(strings.TrimSpace(query))
	b.WriteString("\n</request>\n")
	writeContext(&b, extra)
	return b.String()
}

// SynthesisSystem is the system prompt for code generation.
func SynthesisSystem() string {
	return loadOverride("synthesis_system.txt", synthesisSystem)
}

// SynthesisUser builds the user turn: the request plus the structured plan.
func SynthesisUser(query string, plan normalize.Reasoning, extra map[string]any) string {
	var b strings.Builder
	b.WriteString("<request>\n")
	b.WriteString(strings.TrimSpace(query))
	b.WriteString("\n</request>\n\n<plan>\n")
	writeSection(&b, "Technical requirements", plan.TechnicalRequirements)
	writeSection(&b, "Implementation strategy", plan.ImplementationStrategy)
	writeSection(&b, "Guidance", plan.Guidance)
	if req := plan.SandboxRequirements; req != nil {
		fmt.Fprintf(&b, "Sandbox template: %s\n", orDefault(req.Template, "base"))
		if len(req.Dependencies) > 0 {
			fmt.Fprintf(&b, "Sandbox dependencies: %s\n", strings.Join(req.Dependencies, ", "))
		}
	}
	b.WriteString("</plan>\n")
	writeContext(&b, extra)
	return b.String()
}

func writeSection(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}

// writeContext renders caller supplied context in key order.
func writeContext(b *strings.Builder, extra map[string]any) {
	if len(extra) == 0 {
		return
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.WriteString("\n<context>\n")
	for _, k := range keys {
		fmt.Fprintf(b, "%s: %v\n", k, extra[k])
	}
	b.WriteString("</context>\n")
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
