package deploy

import (
	"strings"
	"testing"

	"gantry/internal/config"
)

const testKey = "6368616e676520746869732070617373776f726420746f206120736563726574"

func TestResolveSecret_Plain(t *testing.T) {
	got, err := ResolveSecret(config.Secret{Plain: "hunter2"})
	if err != nil {
		t.Fatalf("ResolveSecret failed: %v", err)
	}
	if got != "hunter2" {
		t.Errorf("expected plaintext passthrough, got %q", got)
	}
}

func TestSecret_EncryptDecryptRoundTrip(t *testing.T) {
	t.Setenv(KeyEnv, testKey)

	sealed, err := EncryptSecret("pypi-password")
	if err != nil {
		t.Fatalf("EncryptSecret failed: %v", err)
	}
	if strings.Contains(sealed, "pypi-password") {
		t.Error("ciphertext must not contain the plaintext")
	}

	got, err := ResolveSecret(config.Secret{Secure: sealed})
	if err != nil {
		t.Fatalf("ResolveSecret failed: %v", err)
	}
	if got != "pypi-password" {
		t.Errorf("round trip mismatch: %q", got)
	}
}

func TestResolveSecret_MissingKey(t *testing.T) {
	t.Setenv(KeyEnv, "")
	if _, err := ResolveSecret(config.Secret{Secure: "AAAA"}); err == nil {
		t.Error("expected error when GANTRY_KEY is unset")
	}
}

func TestResolveSecret_BadKey(t *testing.T) {
	t.Setenv(KeyEnv, "not-hex")
	if _, err := ResolveSecret(config.Secret{Secure: "AAAA"}); err == nil {
		t.Error("expected error for non-hex key")
	}

	t.Setenv(KeyEnv, "abcd") // too short
	if _, err := ResolveSecret(config.Secret{Secure: "AAAA"}); err == nil {
		t.Error("expected error for short key")
	}
}

func TestResolveSecret_Tampered(t *testing.T) {
	t.Setenv(KeyEnv, testKey)

	sealed, err := EncryptSecret("secret")
	if err != nil {
		t.Fatalf("EncryptSecret failed: %v", err)
	}

	// Flip a character somewhere in the payload body.
	tampered := []byte(sealed)
	mid := len(tampered) / 2
	if tampered[mid] == 'A' {
		tampered[mid] = 'B'
	} else {
		tampered[mid] = 'A'
	}

	if _, err := ResolveSecret(config.Secret{Secure: string(tampered)}); err == nil {
		t.Error("expected authentication failure for tampered ciphertext")
	}
}

func TestResolveSecret_NotBase64(t *testing.T) {
	t.Setenv(KeyEnv, testKey)
	if _, err := ResolveSecret(config.Secret{Secure: "!!!"}); err == nil {
		t.Error("expected error for invalid base64")
	}
}
