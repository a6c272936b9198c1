package config

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/99designs/keyring"
)

// KeyringService is the service name passwords are stored under.
const KeyringService = "mailmirror"

var backendNames = map[string]keyring.BackendType{
	"file":           keyring.FileBackend,
	"keychain":       keyring.KeychainBackend,
	"secret-service": keyring.SecretServiceBackend,
	"wincred":        keyring.WinCredBackend,
	"pass":           keyring.PassBackend,
}

// OpenKeyring opens the OS keyring, or the backend forced by cfg.
func OpenKeyring(cfg KeyringConfig) (keyring.Keyring, error) {
	backends := []keyring.BackendType{
		keyring.KeychainBackend,
		keyring.SecretServiceBackend,
		keyring.WinCredBackend,
		keyring.PassBackend,
		keyring.FileBackend,
	}
	if cfg.Backend != "" {
		b, ok := backendNames[cfg.Backend]
		if !ok {
			return nil, fmt.Errorf("unknown keyring backend %q", cfg.Backend)
		}
		backends = []keyring.BackendType{b}
	}

	dir := cfg.FileDir
	if dir == "" {
		dir = filepath.Join(filepath.Dir(DefaultConfigPath()), "credentials")
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:              KeyringService,
		AllowedBackends:          backends,
		FileDir:                  dir,
		FilePasswordFunc:         keyring.FixedStringPrompt(KeyringService + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// StorePassword saves the password for username.
func StorePassword(ring keyring.Keyring, username, password string) error {
	if username == "" {
		return errors.New("username is required")
	}
	err := ring.Set(keyring.Item{
		Key:         username,
		Data:        []byte(password),
		Label:       KeyringService + " password for " + username,
		Description: "mail account password",
	})
	if err != nil {
		return fmt.Errorf("storing password: %w", err)
	}
	return nil
}

// ResolvePassword fills c.Password from ring when neither the environment
// nor the config file set it. A missing keyring entry is not an error;
// the password simply stays empty.
func (c *Config) ResolvePassword(ring keyring.Keyring) error {
	if c.Password != "" || ring == nil {
		return nil
	}
	item, err := ring.Get(c.Username)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading password from keyring: %w", err)
	}
	c.Password = string(item.Data)
	return nil
}
