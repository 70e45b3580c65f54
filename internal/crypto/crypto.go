// Package crypto encrypts third-party credentials at rest.
//
// Keys are derived from an operator secret with HKDF-SHA256, so the same secret
// always yields the same key. Each encryption uses XChaCha20-Poly1305 with a
// fresh random nonce; tampering or a wrong secret fails authentication.
package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	formatVersion byte = 1
	keyInfo            = "monarch-mcp credential v1"
)

var keySalt = []byte("monarch-mcp/credential-cipher")

var (
	// ErrDecrypt is returned when ciphertext cannot be authenticated with the
	// given secret.
	ErrDecrypt = errors.New("crypto: decryption failed")

	// ErrEmptySecret is returned when no secret is configured.
	ErrEmptySecret = errors.New("crypto: encryption secret is empty")
)

// Cipher encrypts and decrypts credential strings.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

type secretCipher struct {
	secret string
}

// NewCipher returns a Cipher bound to secret.
func NewCipher(secret string) (Cipher, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return secretCipher{secret: secret}, nil
}

func (c secretCipher) Encrypt(plaintext string) (string, error) {
	return Encrypt(plaintext, c.secret)
}

func (c secretCipher) Decrypt(ciphertext string) (string, error) {
	return Decrypt(ciphertext, c.secret)
}

// Encrypt seals plaintext under a key derived from secret and returns it
// base64url encoded.
func Encrypt(plaintext, secret string) (string, error) {
	aead, err := newAEAD(secret)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: generating nonce: %w", err)
	}

	out := make([]byte, 0, 1+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, formatVersion)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, []byte(plaintext), []byte{formatVersion})
	return base64.RawURLEncoding.EncodeToString(out), nil
}

// Decrypt opens ciphertext produced by Encrypt with the same secret.
func Decrypt(ciphertext, secret string) (string, error) {
	aead, err := newAEAD(secret)
	if err != nil {
		return "", err
	}

	raw, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrDecrypt
	}
	if len(raw) < 1+aead.NonceSize()+aead.Overhead() || raw[0] != formatVersion {
		return "", ErrDecrypt
	}

	nonce := raw[1 : 1+aead.NonceSize()]
	sealed := raw[1+aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, []byte{formatVersion})
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

func newAEAD(secret string) (cipher.AEAD, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	key, err := deriveKey(secret)
	if err != nil {
		return nil, err
	}
	return chacha20poly1305.NewX(key)
}

func deriveKey(secret string) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, []byte(secret), keySalt, []byte(keyInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("crypto: deriving key: %w", err)
	}
	return key, nil
}
