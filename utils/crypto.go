package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

var ErrSealedValueInvalid = errors.New("sealed value is invalid")

// SecretSealer encrypts small secrets (refresh tokens, client secrets) before they are stored
type SecretSealer struct {
	key [32]byte
}

// NewSecretSealer derives a 32 byte key from the given passphrase
func NewSecretSealer(passphrase string) (*SecretSealer, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("secret sealing key is required")
	}
	return &SecretSealer{key: sha256.Sum256([]byte(passphrase))}, nil
}

// Seal returns base64(nonce || box)
func (s *SecretSealer) Seal(plain string) (string, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	out := secretbox.Seal(nonce[:], []byte(plain), &nonce, &s.key)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal
func (s *SecretSealer) Open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSealedValueInvalid, err)
	}
	if len(raw) < 24+secretbox.Overhead {
		return "", ErrSealedValueInvalid
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	plain, ok := secretbox.Open(nil, raw[24:], &nonce, &s.key)
	if !ok {
		return "", ErrSealedValueInvalid
	}
	return string(plain), nil
}
