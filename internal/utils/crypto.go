package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const sealedPrefix = "enc:v1:"

var hkdfInfo = []byte("integration-token-sealing")

// ErrUnsealFailed is returned when a sealed value cannot be authenticated
var ErrUnsealFailed = errors.New("failed to unseal value")

// TokenSealer encrypts provider tokens at rest with XChaCha20-Poly1305.
// Sealed values are bound to an associated context (merchant and provider)
// so a ciphertext cannot be replayed into another record.
type TokenSealer struct {
	key []byte
}

// NewTokenSealer derives the sealing key from secret with HKDF-SHA256
func NewTokenSealer(secret string) (*TokenSealer, error) {
	if secret == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, hkdfInfo), key); err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}

	return &TokenSealer{key: key}, nil
}

// Seal encrypts plaintext. Empty input stays empty.
func (s *TokenSealer) Seal(plaintext, context string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), []byte(context))
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal. Values without the sealed prefix
// are returned unchanged so rows written before encryption stay readable.
func (s *TokenSealer) Open(value, context string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}

	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsealFailed, err)
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrUnsealFailed)
	}

	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(context))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsealFailed, err)
	}

	return string(plain), nil
}

// IsSealed reports whether value carries the sealed prefix
func IsSealed(value string) bool {
	return strings.HasPrefix(value, sealedPrefix)
}
