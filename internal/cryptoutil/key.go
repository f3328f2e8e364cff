package cryptoutil

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const keyLen = 32

// passphraseSalt separates config keys from any other use of the phrase.
var passphraseSalt = []byte("watchdog/config/v1")

// ParseKey accepts a 32-byte key as "base64:…", "hex:…", bare base64 or
// hex, or a passphrase written as "pass:…" that is stretched with scrypt.
func ParseKey(key string) ([]byte, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return nil, errors.New("config key is empty")
	}

	var data []byte
	var err error
	switch {
	case strings.HasPrefix(trimmed, "pass:"):
		return DeriveKey(strings.TrimPrefix(trimmed, "pass:"))
	case strings.HasPrefix(trimmed, "base64:"):
		data, err = base64.StdEncoding.DecodeString(strings.TrimPrefix(trimmed, "base64:"))
	case strings.HasPrefix(trimmed, "hex:"):
		data, err = hex.DecodeString(strings.TrimPrefix(trimmed, "hex:"))
	default:
		if data, err = base64.StdEncoding.DecodeString(trimmed); err != nil {
			data, err = hex.DecodeString(trimmed)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(data) != keyLen {
		return nil, fmt.Errorf("invalid key length: %d (expected %d bytes)", len(data), keyLen)
	}
	return data, nil
}

// DeriveKey stretches a passphrase into an AES-256 key.
func DeriveKey(passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("passphrase is empty")
	}
	return scrypt.Key([]byte(passphrase), passphraseSalt, 1<<15, 8, 1, keyLen)
}
