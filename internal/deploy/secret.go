package deploy

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"gantry/internal/config"
)

// KeyEnv names the env var holding the hex-encoded 32-byte key used to
// decrypt `secure:` credential values.
const KeyEnv = "GANTRY_KEY"

// ResolveSecret returns the plaintext for a pipeline secret. Plaintext
// values pass through; `secure:` values are base64(nonce || AES-256-GCM
// ciphertext) decrypted with the key from GANTRY_KEY.
func ResolveSecret(s config.Secret) (string, error) {
	if s.Secure == "" {
		return s.Plain, nil
	}

	key, err := keyFromEnv()
	if err != nil {
		return "", err
	}
	return decrypt(key, s.Secure)
}

// EncryptSecret produces a `secure:` payload for the given plaintext,
// using the key from GANTRY_KEY. Used by `gantry encrypt`.
func EncryptSecret(plaintext string) (string, error) {
	key, err := keyFromEnv()
	if err != nil {
		return "", err
	}

	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func keyFromEnv() ([]byte, error) {
	raw := os.Getenv(KeyEnv)
	if raw == "" {
		return nil, fmt.Errorf("secure value present but %s is not set", KeyEnv)
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be hex: %w", KeyEnv, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%s must decode to 32 bytes, got %d", KeyEnv, len(key))
	}
	return key, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return aead, nil
}

func decrypt(key []byte, payload string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("secure value is not valid base64: %w", err)
	}

	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}
	if len(sealed) < aead.NonceSize() {
		return "", fmt.Errorf("secure value too short")
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt secure value: %w", err)
	}
	return string(plaintext), nil
}
