package crypto

import (
	"strings"
	"testing"
)

func testKey() []byte {
	return []byte("0123456789abcdef0123456789abcdef") // ровно 32 байта
}

func TestEncryptDecrypt(t *testing.T) {
	key := testKey()

	tests := []struct {
		name      string
		plaintext string
	}{
		{"broker token", "eyJhbGciOiJSUzUxMiIs.fake.token"},
		{"empty string", ""},
		{"unicode", "токен доступа"},
		{"long value", strings.Repeat("x", 4096)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ciphertext, err := Encrypt(tt.plaintext, key)
			if err != nil {
				t.Fatalf("Encrypt: %v", err)
			}
			if ciphertext == tt.plaintext && tt.plaintext != "" {
				t.Error("ciphertext must differ from plaintext")
			}

			decrypted, err := Decrypt(ciphertext, key)
			if err != nil {
				t.Fatalf("Decrypt: %v", err)
			}
			if decrypted != tt.plaintext {
				t.Errorf("roundtrip mismatch: got %q, want %q", decrypted, tt.plaintext)
			}
		})
	}
}

func TestEncryptNonceUniqueness(t *testing.T) {
	key := testKey()

	a, err := Encrypt("same plaintext", key)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Encrypt("same plaintext", key)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("two encryptions of the same plaintext must produce different ciphertexts")
	}
}

func TestEncryptInvalidKey(t *testing.T) {
	if _, err := Encrypt("data", []byte("short")); err != ErrInvalidKeyLength {
		t.Errorf("expected ErrInvalidKeyLength, got %v", err)
	}
	if _, err := Decrypt("data", []byte("short")); err != ErrInvalidKeyLength {
		t.Errorf("expected ErrInvalidKeyLength, got %v", err)
	}
}

func TestDecryptTampered(t *testing.T) {
	key := testKey()

	ciphertext, err := Encrypt("secret", key)
	if err != nil {
		t.Fatal(err)
	}

	// Не base64
	if _, err := Decrypt("%%%not-base64%%%", key); err != ErrInvalidCiphertext {
		t.Errorf("expected ErrInvalidCiphertext, got %v", err)
	}

	// Подмена ключа ломает аутентификацию GCM
	otherKey := []byte("abcdef0123456789abcdef0123456789")
	if _, err := Decrypt(ciphertext, otherKey); err != ErrDecryptionFailed {
		t.Errorf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	if err := ValidateKey(key); err != nil {
		t.Errorf("generated key failed validation: %v", err)
	}

	other, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	if string(key) == string(other) {
		t.Error("two generated keys must differ")
	}
}
