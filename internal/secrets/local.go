package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// LocalFileProvider decrypts an at-rest credentials file with a passphrase
// read from a separate file, both paths read only at startup in live mode.
// The encryption format itself (AES-256-GCM, nonce-prefixed ciphertext,
// base64-encoded) is this repo's own convention for the boundary — no
// key-management library appears anywhere in the retrieved corpus for this
// concern, so standard library primitives are used directly here (see
// DESIGN.md).
type LocalFileProvider struct {
	PassphrasePath string
	KeysPath       string
}

type encryptedFile struct {
	APIKey    string `json:"api_key_ciphertext"`
	SecretKey string `json:"secret_key_ciphertext"`
}

// Resolve reads the passphrase and encrypted-keys files and decrypts both
// fields.
func (p *LocalFileProvider) Resolve(_ context.Context) (Credentials, error) {
	passphrase, err := os.ReadFile(p.PassphrasePath)
	if err != nil {
		return Credentials{}, fmt.Errorf("read passphrase file: %w", err)
	}

	raw, err := os.ReadFile(p.KeysPath)
	if err != nil {
		return Credentials{}, fmt.Errorf("read encrypted keys file: %w", err)
	}

	var ef encryptedFile
	if err := json.Unmarshal(raw, &ef); err != nil {
		return Credentials{}, fmt.Errorf("parse encrypted keys file: %w", err)
	}

	key := deriveKey(strings.TrimSpace(string(passphrase)))

	apiKey, err := decrypt(key, ef.APIKey)
	if err != nil {
		return Credentials{}, fmt.Errorf("decrypt api key: %w", err)
	}
	secretKey, err := decrypt(key, ef.SecretKey)
	if err != nil {
		return Credentials{}, fmt.Errorf("decrypt secret key: %w", err)
	}

	return Credentials{APIKey: apiKey, SecretKey: secretKey}, nil
}

func deriveKey(passphrase string) [32]byte {
	return sha256.Sum256([]byte(passphrase))
}

func decrypt(key [32]byte, encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", fmt.Errorf("build cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("build gcm: %w", err)
	}

	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext shorter than nonce size")
	}
	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("gcm open: %w", err)
	}
	return string(plaintext), nil
}
