// Package security wraps the OS keychain for credentials that should
// not live in the config file.
package security

import (
	"fmt"

	"github.com/zalando/go-keyring"
)

// keychainService is the service name under which all secrets are filed.
const keychainService = "tethys"

// Keychain provides password storage backed by the OS keychain.
type Keychain struct{}

func NewKeychain() *Keychain {
	return &Keychain{}
}

// StorePassword stores a password under the given key (network name, or
// "<network>/sasl"). An empty password deletes the entry.
func (k *Keychain) StorePassword(key, password string) error {
	if password == "" {
		return k.DeletePassword(key)
	}
	if err := keyring.Set(keychainService, key, password); err != nil {
		return fmt.Errorf("failed to store password in keychain: %w", err)
	}
	return nil
}

// GetPassword retrieves a password. A missing entry returns "" without
// an error; the caller decides whether that is fatal.
func (k *Keychain) GetPassword(key string) (string, error) {
	password, err := keyring.Get(keychainService, key)
	if err != nil {
		if err == keyring.ErrNotFound {
			return "", nil
		}
		return "", fmt.Errorf("failed to get password from keychain: %w", err)
	}
	return password, nil
}

// DeletePassword removes an entry. Deleting a missing entry is not an
// error.
func (k *Keychain) DeletePassword(key string) error {
	if err := keyring.Delete(keychainService, key); err != nil && err != keyring.ErrNotFound {
		return fmt.Errorf("failed to delete password from keychain: %w", err)
	}
	return nil
}
