// internal/secrets/secrets.go
//
// Provider password decryption.
//
// Context
// -------
// Database-provider passwords are stored encrypted in the control-plane
// registry.  The fabric treats them as opaque strings: a value is
// "encrypted" iff it carries the `enc:v1:` envelope prefix, and only then
// is the configured key applied.  A plaintext value, or any value seen
// while no key is configured, is passed through verbatim.  This keeps dev
// registries with throwaway plaintext passwords working without a key.
//
// Envelope
// --------
//
//	enc:v1:<base64(nonce || ciphertext)>
//
// AES-256-GCM with a random 12-byte nonce prepended to the ciphertext.
// The key is given as 64 hex characters (32 bytes decoded).
//
// Notes
// -----
// • Decrypt is a pure function; it holds no connection state and is safe
//   for concurrent use.
// • Oxford commas, two spaces after periods.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// envelopePrefix marks a registry password as encrypted.
const envelopePrefix = "enc:v1:"

// Decryptor turns an (optionally) encrypted password into plaintext.
type Decryptor func(encrypted string) (string, error)

// IsEncrypted reports whether v carries the encryption envelope.
func IsEncrypted(v string) bool {
	return strings.HasPrefix(v, envelopePrefix)
}

// Passthrough is the Decryptor used when no encryption key is configured.
// Encrypted values cannot be recovered without a key, so they error out
// rather than silently connecting with a garbage password.
func Passthrough(encrypted string) (string, error) {
	if IsEncrypted(encrypted) {
		return "", errors.New("secrets: encrypted password but no DB_PASSWORD_ENCRYPTION_KEY configured")
	}
	return encrypted, nil
}

// NewDecryptor builds a Decryptor from a 64-hex-char key.  Values without
// the envelope prefix are returned verbatim.
func NewDecryptor(hexKey string) (Decryptor, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("secrets: decode key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("secrets: key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secrets: init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secrets: init gcm: %w", err)
	}

	return func(encrypted string) (string, error) {
		if !IsEncrypted(encrypted) {
			return encrypted, nil
		}

		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(encrypted, envelopePrefix))
		if err != nil {
			return "", fmt.Errorf("secrets: decode envelope: %w", err)
		}
		if len(raw) < gcm.NonceSize() {
			return "", errors.New("secrets: envelope shorter than nonce")
		}

		nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
		plain, err := gcm.Open(nil, nonce, ciphertext, nil)
		if err != nil {
			return "", fmt.Errorf("secrets: decrypt: %w", err)
		}
		return string(plain), nil
	}, nil
}

// Encrypt seals a plaintext password into the envelope.  Used by admin
// tooling and tests; the serving path only ever decrypts.
func Encrypt(hexKey, plaintext string, nonce []byte) (string, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return "", fmt.Errorf("secrets: decode key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("secrets: init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("secrets: init gcm: %w", err)
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("secrets: nonce must be %d bytes", gcm.NonceSize())
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return envelopePrefix + base64.StdEncoding.EncodeToString(append(append([]byte{}, nonce...), sealed...)), nil
}
