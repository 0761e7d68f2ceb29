package prompts

import (
	"fmt"
	"time"
)

// --- Config Prompts ---
func ConfigLoadFailed(err error) string {
	return fmt.Sprintf("Failed to load config: %v. Using default values.", err)
}

func ConfigSaved(path string) string {
	return fmt.Sprintf("Config saved to %s", path)
}

// --- Credential Prompts ---
func APIKeyMissing(provider, envVar string) string {
	return fmt.Sprintf("No API key found for %s. Set %s or run 'codemind auth set %s'.", provider, envVar, provider)
}

func EnterAPIKey(provider string) string {
	return fmt.Sprintf("Enter API key for %s: ", provider)
}

func APIKeyStored(provider string) string {
	return fmt.Sprintf("API key for %s stored in the system keychain.", provider)
}

func APIKeyDeleted(provider string) string {
	return fmt.Sprintf("API key for %s removed from the system keychain.", provider)
}

// --- Query Prompts ---
func QueryRequired() string {
	return "A query is required. Pass it as an argument or on stdin."
}

func CodeRequired() string {
	return "Code is required. Pass a file path or '-' for stdin."
}

func PhaseCompleted(phase string, d time.Duration) string {
	return fmt.Sprintf("%s completed in %s", phase, d.Round(time.Millisecond))
}

func QueryFailed(kind, message string) string {
	return fmt.Sprintf("%s: %s", kind, message)
}

func FallbackUsed(phase string) string {
	return fmt.Sprintf("The %s reply could not be parsed; a fallback template was used.", phase)
}

// --- Server Prompts ---
func ServerListening(addr string) string {
	return fmt.Sprintf("codemind server listening on http://%s", addr)
}

func ServerStopped() string {
	return "codemind server stopped"
}
