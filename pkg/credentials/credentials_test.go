package credentials

import (
	"errors"
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anilymngl/codemind/pkg/apperr"
)

func envOf(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

type failingStore struct{ err error }

func (f failingStore) Get(string) (string, error) { return "", f.err }
func (f failingStore) Set(string, string) error   { return f.err }
func (f failingStore) Delete(string) error        { return f.err }

func newArrayStore(items ...keyring.Item) *KeyringStore {
	return &KeyringStore{ring: keyring.NewArrayKeyring(items)}
}

func TestEnvVar(t *testing.T) {
	assert.Equal(t, "GEMINI_API_KEY", EnvVar(Gemini))
	assert.Equal(t, "ANTHROPIC_API_KEY", EnvVar(Anthropic))
	assert.Equal(t, "SANDBOX_API_KEY", EnvVar(Sandbox))
	assert.True(t, Known("sandbox"))
	assert.False(t, Known("openai"))
}

func TestResolverPrefersEnvironment(t *testing.T) {
	store := newArrayStore(keyring.Item{Key: Gemini, Data: []byte("from-keychain")})
	r := newResolver(envOf(map[string]string{"GEMINI_API_KEY": " from-env "}), store)

	key, src, err := r.APIKey(Gemini)
	require.NoError(t, err)
	assert.Equal(t, "from-env", key)
	assert.Equal(t, SourceEnv, src)
}

func TestResolverFallsBackToKeychain(t *testing.T) {
	store := newArrayStore(keyring.Item{Key: Anthropic, Data: []byte("sk-ant")})
	r := newResolver(envOf(map[string]string{"ANTHROPIC_API_KEY": "  "}), store)

	key, src, err := r.APIKey(Anthropic)
	require.NoError(t, err)
	assert.Equal(t, "sk-ant", key)
	assert.Equal(t, SourceKeychain, src)

	// cached for the process lifetime
	require.NoError(t, store.Delete(Anthropic))
	key, _, err = r.APIKey(Anthropic)
	require.NoError(t, err)
	assert.Equal(t, "sk-ant", key)
}

func TestResolverMissingKey(t *testing.T) {
	for _, store := range []Store{nil, newArrayStore()} {
		r := newResolver(envOf(nil), store)
		_, _, err := r.APIKey(Sandbox)
		e, ok := apperr.As(err)
		require.True(t, ok)
		assert.Equal(t, apperr.Configuration, e.Kind)
		assert.Contains(t, e.Message, "SANDBOX_API_KEY")
		assert.Equal(t, "SANDBOX_API_KEY", e.Details["env_var"])
		assert.Empty(t, r.Optional(Sandbox))
	}
}

func TestResolverKeychainError(t *testing.T) {
	r := newResolver(envOf(nil), failingStore{err: errors.New("locked")})
	_, _, err := r.APIKey(Gemini)
	assert.True(t, apperr.Is(err, apperr.Configuration))
	assert.ErrorContains(t, err, "locked")
}

func TestKeyringStore(t *testing.T) {
	s := newArrayStore()

	_, err := s.Get(Gemini)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(Gemini, "g-key"))
	v, err := s.Get(Gemini)
	require.NoError(t, err)
	assert.Equal(t, "g-key", v)

	require.NoError(t, s.Delete(Gemini))
	require.NoError(t, s.Delete(Gemini))
	_, err = s.Get(Gemini)
	assert.ErrorIs(t, err, ErrNotFound)
}
