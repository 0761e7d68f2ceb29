package credentials

import (
	"errors"
	"fmt"
	"sync"

	"github.com/99designs/keyring"
)

// ServiceName namespaces codemind entries in the system keychain.
const ServiceName = "codemind"

// KeyringStore keeps credentials in the native OS credential store. It
// never falls back to an encrypted file.
type KeyringStore struct {
	mu   sync.RWMutex
	ring keyring.Keyring
}

func OpenKeyring() (*KeyringStore, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: ServiceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.WinCredBackend,
			keyring.SecretServiceBackend,
			keyring.KWalletBackend,
			keyring.PassBackend,
		},
		KeychainTrustApplication: true,
		PassPrefix:               ServiceName,
		WinCredPrefix:            ServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("system keychain unavailable: %w", err)
	}
	return &KeyringStore{ring: ring}, nil
}

func (s *KeyringStore) Get(name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, err := s.ring.Get(name)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return string(item.Data), nil
}

func (s *KeyringStore) Set(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring.Set(keyring.Item{
		Key:         name,
		Data:        []byte(value),
		Label:       ServiceName + " " + name + " API key",
		Description: "codemind credential",
	})
}

// Delete treats a missing entry as already deleted.
func (s *KeyringStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ring.Remove(name); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return err
	}
	return nil
}
