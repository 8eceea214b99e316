package database

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "this-is-a-very-long-test-secret-for-payloads"

func TestEncryptor_Disabled(t *testing.T) {
	enc, err := NewEncryptor(false)
	require.NoError(t, err)

	out, err := enc.EncryptIfEnabled(`{"a":1}`)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, out)
}

func TestEncryptor_RoundTrip(t *testing.T) {
	t.Setenv(EncryptionSecretEnv, testSecret)
	enc, err := NewEncryptor(true)
	require.NoError(t, err)

	plaintext := `{"customer":"cus_123","amount":500}`
	stored, err := enc.EncryptIfEnabled(plaintext)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stored, ciphertextPrefix))
	assert.NotContains(t, stored, "cus_123")

	again, err := enc.EncryptIfEnabled(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, stored, again, "nonce must be random")

	decrypted, err := enc.DecryptIfEnabled(stored)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestEncryptor_LegacyPlaintextPassesThrough(t *testing.T) {
	t.Setenv(EncryptionSecretEnv, testSecret)
	enc, err := NewEncryptor(true)
	require.NoError(t, err)

	out, err := enc.DecryptIfEnabled(`{"legacy":true}`)
	require.NoError(t, err)
	assert.Equal(t, `{"legacy":true}`, out)
}

func TestEncryptor_Tampered(t *testing.T) {
	t.Setenv(EncryptionSecretEnv, testSecret)
	enc, err := NewEncryptor(true)
	require.NoError(t, err)

	stored, err := enc.Encrypt("hello")
	require.NoError(t, err)
	tampered := stored[:len(stored)-4] + "AAAA"

	_, err = enc.Decrypt(tampered)
	assert.Error(t, err)
}

func TestNewEncryptor_SecretValidation(t *testing.T) {
	t.Setenv(EncryptionSecretEnv, "")
	_, err := NewEncryptor(true)
	assert.Error(t, err)

	t.Setenv(EncryptionSecretEnv, "short")
	_, err = NewEncryptor(true)
	assert.Error(t, err)
}
