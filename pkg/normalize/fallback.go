package normalize

import "time"

const fallbackCode = `// Failed to parse synthesis output
// Using fallback template
console.error("Code generation failed");`

func fallbackMetadata(now time.Time) map[string]string {
	return map[string]string{
		"fallback":       "true",
		"timestamp":      now.UTC().Format(time.RFC3339),
		"schema_version": SchemaVersion,
	}
}

// FallbackReasoning is the fixed minimal plan used when nothing could be
// recovered from the reasoning reply.
func FallbackReasoning(now time.Time) Reasoning {
	return Reasoning{
		TechnicalRequirements:  []string{"Unable to parse reasoning output - using fallback template"},
		ImplementationStrategy: []string{"Proceed with basic implementation"},
		Guidance:               []string{"Generate minimal working code"},
		Metadata:               fallbackMetadata(now),
	}
}

// FallbackSynthesis is the stub result used when no code could be recovered
// from the synthesis reply.
func FallbackSynthesis(now time.Time) Synthesis {
	return Synthesis{
		CodeCompletion: fallbackCode,
		Explanation:    "Code generation failed - using fallback template",
		Metadata:       fallbackMetadata(now),
	}
}
