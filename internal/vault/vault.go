package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// TokenPrefix tags encrypted values so they can be told apart from legacy
// plaintext. The full token format is enc:gcm:<iv>:<ciphertext>:<tag>, all
// parts standard base64.
const TokenPrefix = "enc:gcm:"

// Vault encrypts and decrypts mailbox credentials at rest using AES-256-GCM.
// The key is derived by hashing a process-wide secret. With an empty secret
// both operations pass values through unchanged: the pipeline keeps working,
// but credentials are stored in plaintext. Operators are warned at startup.
type Vault struct {
	key []byte
}

// New creates a Vault from the configured secret. An empty secret yields a
// pass-through vault.
func New(secret string) *Vault {
	if secret == "" {
		return &Vault{}
	}
	sum := sha256.Sum256([]byte(secret))
	return &Vault{key: sum[:]}
}

// Enabled reports whether a secret is configured.
func (v *Vault) Enabled() bool {
	return v.key != nil
}

// Encrypt wraps a plaintext credential into a vault token. Re-encrypting an
// already-tagged token returns it unchanged, so repeated saves never
// double-wrap a value.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if !v.Enabled() || strings.HasPrefix(plaintext, TokenPrefix) {
		return plaintext, nil
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	iv := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("failed to generate IV: %w", err)
	}

	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	split := len(sealed) - gcm.Overhead()
	ciphertext, tag := sealed[:split], sealed[split:]

	return TokenPrefix + strings.Join([]string{
		base64.StdEncoding.EncodeToString(iv),
		base64.StdEncoding.EncodeToString(ciphertext),
		base64.StdEncoding.EncodeToString(tag),
	}, ":"), nil
}

// Decrypt unwraps a vault token back into plaintext. Anything that is not a
// well-formed token for this vault's key is returned unchanged: callers hold
// legacy plaintext values and must not crash on them.
func (v *Vault) Decrypt(token string) string {
	if !v.Enabled() || !strings.HasPrefix(token, TokenPrefix) {
		return token
	}

	parts := strings.Split(strings.TrimPrefix(token, TokenPrefix), ":")
	if len(parts) != 3 {
		return token
	}

	iv, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return token
	}
	ciphertext, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return token
	}
	tag, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return token
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return token
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return token
	}
	if len(iv) != gcm.NonceSize() {
		return token
	}

	plaintext, err := gcm.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return token
	}

	return string(plaintext)
}
