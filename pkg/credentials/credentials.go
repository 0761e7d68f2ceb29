// Package credentials resolves API keys from the environment first and the
// system keychain second.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/anilymngl/codemind/pkg/apperr"
	"github.com/anilymngl/codemind/pkg/prompts"
)

// Credential names. Each has an environment variable NAME_API_KEY.
const (
	Gemini    = "gemini"
	Anthropic = "anthropic"
	Sandbox   = "sandbox"
)

// Names lists every credential codemind knows about.
var Names = []string{Gemini, Anthropic, Sandbox}

// ErrNotFound is returned by a Store that has no entry for a name.
var ErrNotFound = errors.New("credential not found")

// Store persists credentials outside the process.
type Store interface {
	Get(name string) (string, error)
	Set(name, value string) error
	Delete(name string) error
}

// Source says where a resolved key came from.
type Source string

const (
	SourceEnv      Source = "env"
	SourceKeychain Source = "keychain"
)

// EnvVar returns the environment variable consulted for name.
func EnvVar(name string) string {
	return strings.ToUpper(name) + "_API_KEY"
}

// Known reports whether name is one of Names.
func Known(name string) bool {
	for _, n := range Names {
		if n == name {
			return true
		}
	}
	return false
}

// Resolver looks keys up and caches what it found for the process lifetime.
type Resolver struct {
	lookup func(string) (string, bool)
	store  Store

	mu    sync.Mutex
	cache map[string]resolved
}

type resolved struct {
	key    string
	source Source
}

// NewResolver reads the real environment. store may be nil when no
// keychain is available.
func NewResolver(store Store) *Resolver {
	return newResolver(os.LookupEnv, store)
}

func newResolver(lookup func(string) (string, bool), store Store) *Resolver {
	return &Resolver{lookup: lookup, store: store, cache: make(map[string]resolved)}
}

// APIKey returns the key for name. A missing key is a ConfigurationError
// telling the user how to provide one.
func (r *Resolver) APIKey(name string) (string, Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.cache[name]; ok {
		return c.key, c.source, nil
	}

	envVar := EnvVar(name)
	if v, ok := r.lookup(envVar); ok && strings.TrimSpace(v) != "" {
		r.cache[name] = resolved{strings.TrimSpace(v), SourceEnv}
		return r.cache[name].key, SourceEnv, nil
	}

	if r.store != nil {
		v, err := r.store.Get(name)
		switch {
		case err == nil && v != "":
			r.cache[name] = resolved{v, SourceKeychain}
			return v, SourceKeychain, nil
		case err != nil && !errors.Is(err, ErrNotFound):
			return "", "", apperr.Wrap(apperr.Configuration, fmt.Sprintf("failed to read %s key from keychain", name), err)
		}
	}
	return "", "", apperr.NewConfiguration(prompts.APIKeyMissing(name, envVar)).WithDetail("env_var", envVar)
}

// Optional is APIKey that treats a missing key as empty.
func (r *Resolver) Optional(name string) string {
	key, _, err := r.APIKey(name)
	if err != nil {
		return ""
	}
	return key
}
