package database

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"signalrelay/internal/models"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// EncryptionSecretEnv holds the passphrase the payload key is derived from
	EncryptionSecretEnv = "SIGNALRELAY_ENCRYPTION_SECRET"

	encryptionSalt   = "signalrelay-payload-v1"
	ciphertextPrefix = "enc:v1:"
	minSecretLength  = 32
)

type encryptor struct {
	gcm cipher.AEAD
}

// NewEncryptor returns a pass-through encryptor when enabled is false.
func NewEncryptor(enabled bool) (*encryptor, error) {
	if !enabled {
		return &encryptor{gcm: nil}, nil
	}

	key, err := deriveKey(os.Getenv(EncryptionSecretEnv))
	if err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &encryptor{gcm: gcm}, nil
}

func (e *encryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" || e.gcm == nil {
		return plaintext, nil
	}

	nonce := make([]byte, models.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := e.gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return ciphertextPrefix + base64.StdEncoding.EncodeToString(append(nonce, sealed...)), nil
}

func (e *encryptor) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" || e.gcm == nil {
		return ciphertext, nil
	}
	if !strings.HasPrefix(ciphertext, ciphertextPrefix) {
		return "", fmt.Errorf("value is not encrypted")
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, ciphertextPrefix))
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}
	if len(data) < models.NonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, sealed := data[:models.NonceSize], data[models.NonceSize:]
	plaintext, err := e.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

func (e *encryptor) EncryptIfEnabled(plaintext string) (string, error) {
	if !e.enabled() {
		return plaintext, nil
	}
	return e.Encrypt(plaintext)
}

// DecryptIfEnabled passes through values that were stored unencrypted.
func (e *encryptor) DecryptIfEnabled(stored string) (string, error) {
	if !e.enabled() || !strings.HasPrefix(stored, ciphertextPrefix) {
		return stored, nil
	}
	return e.Decrypt(stored)
}

func (e *encryptor) enabled() bool {
	return e != nil && e.gcm != nil
}

func deriveKey(secret string) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("%s environment variable is required when encryption is enabled", EncryptionSecretEnv)
	}
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("encryption secret must be at least %d characters long", minSecretLength)
	}

	return pbkdf2.Key([]byte(secret), []byte(encryptionSalt), models.Iterations, models.KeySize, sha256.New), nil
}
