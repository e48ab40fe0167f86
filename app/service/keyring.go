package service

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/vibast-solutions/ms-go-payment-gateway/config"
)

const (
	tokenKeySize     = 32
	ephemeralKeyID   = "ephemeral"
	defaultKeyringID = "default"
)

var ErrTokenizationKeyMissing = errors.New("tokenization key is not configured")

// Keyring holds the AES-256 keys tokens are sealed with. New tokens use the active
// key; older keys stay loaded so tokens sealed before a rotation still open.
type Keyring struct {
	keys     map[string][]byte
	activeID string
}

// ParseKeyring reads "id:key,id:key" where each key is 32 bytes in hex or base64.
// A single key without an id is accepted as "default".
func ParseKeyring(raw, activeID string) (*Keyring, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrTokenizationKeyMissing
	}

	keyring := &Keyring{keys: map[string][]byte{}}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, encoded, found := strings.Cut(entry, ":")
		if !found {
			id, encoded = defaultKeyringID, entry
		}
		id = strings.TrimSpace(id)
		key, err := decodeKey(strings.TrimSpace(encoded))
		if err != nil {
			return nil, fmt.Errorf("tokenization key %q: %w", id, err)
		}
		if _, exists := keyring.keys[id]; exists {
			return nil, fmt.Errorf("tokenization key %q is defined twice", id)
		}
		keyring.keys[id] = key
		if keyring.activeID == "" {
			keyring.activeID = id
		}
	}

	if activeID = strings.TrimSpace(activeID); activeID != "" {
		if _, ok := keyring.keys[activeID]; !ok {
			return nil, fmt.Errorf("active tokenization key %q is not in the keyring", activeID)
		}
		keyring.activeID = activeID
	}
	if len(keyring.keys) == 0 {
		return nil, ErrTokenizationKeyMissing
	}

	return keyring, nil
}

// NewEphemeralKeyring generates a random key for this process only. Tokens sealed
// with it cannot be opened after a restart.
func NewEphemeralKeyring() (*Keyring, error) {
	key := make([]byte, tokenKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return &Keyring{keys: map[string][]byte{ephemeralKeyID: key}, activeID: ephemeralKeyID}, nil
}

// LoadKeyring builds the keyring from configuration. Without configured keys it
// refuses to start in production and falls back to an ephemeral key elsewhere.
func LoadKeyring(cfg config.TokenizationConfig, production bool) (keyring *Keyring, ephemeral bool, err error) {
	keyring, err = ParseKeyring(cfg.Keys, cfg.ActiveKeyID)
	if err == nil {
		return keyring, false, nil
	}
	if !errors.Is(err, ErrTokenizationKeyMissing) || production {
		return nil, false, err
	}

	keyring, err = NewEphemeralKeyring()
	if err != nil {
		return nil, false, err
	}
	return keyring, true, nil
}

func (k *Keyring) Active() (string, []byte) {
	return k.activeID, k.keys[k.activeID]
}

func (k *Keyring) Key(id string) ([]byte, bool) {
	key, ok := k.keys[id]
	return key, ok
}

func decodeKey(encoded string) ([]byte, error) {
	if key, err := hex.DecodeString(encoded); err == nil && len(key) == tokenKeySize {
		return key, nil
	}
	if key, err := base64.StdEncoding.DecodeString(encoded); err == nil && len(key) == tokenKeySize {
		return key, nil
	}
	return nil, fmt.Errorf("key must be %d bytes encoded as hex or base64", tokenKeySize)
}
