package credential

import (
	"fmt"

	"github.com/99designs/keyring"
)

const serviceName = "codewatch"

// Store reads mailbox secrets from the OS keyring
type Store struct {
	ring keyring.Keyring
}

// Open opens the keyring. fileDir backs the encrypted file fallback
// used where no desktop keyring exists.
func Open(fileDir string) (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.TerminalPrompt,
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &Store{ring: ring}, nil
}

// NewStore wraps an already opened keyring
func NewStore(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

// Key is the keyring item name for a mailbox username
func Key(username string) string {
	return "imap:" + username
}

// Lookup returns the secret stored for a mailbox username
func (s *Store) Lookup(username string) (string, error) {
	item, err := s.ring.Get(Key(username))
	if err != nil {
		return "", fmt.Errorf("getting credential from keyring: %w", err)
	}
	return string(item.Data), nil
}

// Save stores the secret for a mailbox username
func (s *Store) Save(username, secret string) error {
	err := s.ring.Set(keyring.Item{
		Key:   Key(username),
		Data:  []byte(secret),
		Label: "codewatch IMAP password for " + username,
	})
	if err != nil {
		return fmt.Errorf("setting credential in keyring: %w", err)
	}
	return nil
}
