package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"

	"bract/internal/domain/connection"
)

const testKey = "01234567890123456789012345678901" // 32 bytes for AES-256

func TestNewEncryptor(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{name: "32 bytes", key: testKey},
		{name: "too short", key: "too-short", wantErr: true},
		{name: "empty", key: "", wantErr: true},
		{name: "33 bytes", key: testKey + "x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewEncryptor(tt.key)
			if tt.wantErr {
				if err != ErrInvalidKey {
					t.Errorf("NewEncryptor() error = %v, want %v", err, ErrInvalidKey)
				}
				return
			}
			if err != nil || enc == nil {
				t.Fatalf("NewEncryptor() = %v, %v", enc, err)
			}
		})
	}
}

func TestEncryptor_AccessCredentials(t *testing.T) {
	enc, _ := NewEncryptor(testKey)

	credentials := []string{
		"access-sandbox-8ab976e6-64bc-4b38-98f7-731e7a349970",
		"access-production-2f6b1c0e-9d1a-4e55-a1f0-3c7f2b9e8d41",
		"credencial de acesso: café ☕ 東京",
		strings.Repeat("access-", 500),
	}

	for _, plaintext := range credentials {
		t.Run(plaintext[:min(len(plaintext), 24)], func(t *testing.T) {
			sealed, err := enc.Encrypt(plaintext)
			if err != nil {
				t.Fatalf("Encrypt() failed: %v", err)
			}

			// The stored form must not leak the credential in any readable encoding.
			for _, leak := range []string{plaintext, "access-", base64.StdEncoding.EncodeToString([]byte(plaintext))} {
				if strings.Contains(sealed, leak) {
					t.Errorf("sealed credential contains %q", leak)
				}
			}
			if _, err := base64.StdEncoding.DecodeString(sealed); err != nil {
				t.Errorf("sealed credential is not base64: %v", err)
			}

			opened, err := enc.Decrypt(sealed)
			if err != nil {
				t.Fatalf("Decrypt() failed: %v", err)
			}
			if opened != plaintext {
				t.Errorf("Decrypt() = %q, want %q", opened, plaintext)
			}
		})
	}
}

func TestEncryptor_SealedCredentialStaysRedacted(t *testing.T) {
	enc, _ := NewEncryptor(testKey)
	cred := connection.NewCredential("access-sandbox-8ab976e6-64bc-4b38-98f7-731e7a349970")

	sealed, err := enc.Encrypt(cred.Reveal())
	if err != nil {
		t.Fatalf("Encrypt() failed: %v", err)
	}
	opened, err := enc.Decrypt(sealed)
	if err != nil {
		t.Fatalf("Decrypt() failed: %v", err)
	}

	restored := connection.NewCredential(opened)
	if restored.Reveal() != cred.Reveal() {
		t.Error("credential did not survive sealing")
	}
	for _, printed := range []string{fmt.Sprint(restored), fmt.Sprintf("%+v", restored), fmt.Sprintf("%#v", restored)} {
		if strings.Contains(printed, "access-sandbox") {
			t.Errorf("restored credential printed as %q", printed)
		}
	}
}

func TestEncryptor_EmptyCredential(t *testing.T) {
	enc, _ := NewEncryptor(testKey)

	sealed, err := enc.Encrypt("")
	if err != nil || sealed != "" {
		t.Errorf("Encrypt(\"\") = %q, %v; want empty", sealed, err)
	}
	opened, err := enc.Decrypt("")
	if err != nil || opened != "" {
		t.Errorf("Decrypt(\"\") = %q, %v; want empty", opened, err)
	}
}

func TestEncrypt_DifferentCiphertexts(t *testing.T) {
	enc, _ := NewEncryptor(testKey)

	c1, _ := enc.Encrypt("access-sandbox-same")
	c2, _ := enc.Encrypt("access-sandbox-same")

	if c1 == c2 {
		t.Error("Encrypt() produced identical ciphertexts for the same credential")
	}
}

func TestDecrypt_Rejects(t *testing.T) {
	enc, _ := NewEncryptor(testKey)
	other, _ := NewEncryptor("98765432109876543210987654321098")

	sealed, _ := enc.Encrypt("access-sandbox-8ab976e6")
	foreign, _ := other.Encrypt("access-sandbox-8ab976e6")

	// Sealed directly with the master key instead of the derived one.
	block, _ := aes.NewCipher([]byte(testKey))
	aead, _ := cipher.NewGCM(block)
	nonce := make([]byte, aead.NonceSize())
	underived := base64.StdEncoding.EncodeToString(aead.Seal(nonce, nonce, []byte("access-sandbox-8ab976e6"), nil))

	tests := []struct {
		name       string
		ciphertext string
	}{
		{name: "tampered", ciphertext: sealed[:len(sealed)-2] + "XX"},
		{name: "invalid base64", ciphertext: "not-valid-base64!!!"},
		{name: "shorter than nonce", ciphertext: "YQ=="},
		{name: "other master key", ciphertext: foreign},
		{name: "master key used without derivation", ciphertext: underived},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := enc.Decrypt(tt.ciphertext); err == nil {
				t.Error("Decrypt() accepted the ciphertext")
			}
		})
	}
}
