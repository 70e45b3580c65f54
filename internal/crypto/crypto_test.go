package crypto_test

import (
	"strings"
	"testing"

	"github.com/providentiaww/monarch-mcp/internal/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	secret := "correct horse battery staple"

	cases := map[string]string{
		"empty":     "",
		"ascii":     "monarch-session-token",
		"non-ascii": "jeton de séance — 会话令牌 🔐",
		"long":      strings.Repeat("0123456789abcdef", 64*1024),
	}

	for name, plaintext := range cases {
		t.Run(name, func(t *testing.T) {
			ct, err := crypto.Encrypt(plaintext, secret)
			require.NoError(t, err)
			assert.NotContains(t, ct, "monarch-session-token")

			got, err := crypto.Decrypt(ct, secret)
			require.NoError(t, err)
			assert.Equal(t, plaintext, got)
		})
	}
}

func TestEncrypt_FreshNonce(t *testing.T) {
	a, err := crypto.Encrypt("same", "secret")
	require.NoError(t, err)
	b, err := crypto.Encrypt("same", "secret")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecrypt_Failures(t *testing.T) {
	ct, err := crypto.Encrypt("payload", "secret-1")
	require.NoError(t, err)

	t.Run("wrong secret", func(t *testing.T) {
		_, err := crypto.Decrypt(ct, "secret-2")
		assert.ErrorIs(t, err, crypto.ErrDecrypt)
	})

	t.Run("tampered", func(t *testing.T) {
		b := []byte(ct)
		last := len(b) - 2
		if b[last] == 'A' {
			b[last] = 'B'
		} else {
			b[last] = 'A'
		}
		_, err := crypto.Decrypt(string(b), "secret-1")
		assert.ErrorIs(t, err, crypto.ErrDecrypt)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := crypto.Decrypt(ct[:10], "secret-1")
		assert.ErrorIs(t, err, crypto.ErrDecrypt)
	})

	t.Run("not base64", func(t *testing.T) {
		_, err := crypto.Decrypt("!!!", "secret-1")
		assert.ErrorIs(t, err, crypto.ErrDecrypt)
	})

	t.Run("empty secret", func(t *testing.T) {
		_, err := crypto.Decrypt(ct, "")
		assert.ErrorIs(t, err, crypto.ErrEmptySecret)
	})
}

func TestNewCipher(t *testing.T) {
	_, err := crypto.NewCipher("")
	require.ErrorIs(t, err, crypto.ErrEmptySecret)

	c, err := crypto.NewCipher("k")
	require.NoError(t, err)

	ct, err := c.Encrypt("hello")
	require.NoError(t, err)

	// The same secret derives the same key across instances.
	other, err := crypto.NewCipher("k")
	require.NoError(t, err)
	got, err := other.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}
