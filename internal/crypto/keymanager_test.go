package crypto

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey("0x"+testKeyHex, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)

	_, err = DecryptKey(blob, "wrong-password")
	assert.ErrorContains(t, err, "decryption failed")
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "hunter2")
	require.NoError(t, err)

	var stored encryptedKeyJSON
	require.NoError(t, json.Unmarshal(blob, &stored))
	// Flip one character of the ciphertext.
	b := []byte(stored.Ciphertext)
	if b[0] == 'A' {
		b[0] = 'B'
	} else {
		b[0] = 'A'
	}
	stored.Ciphertext = string(b)
	tampered, err := json.Marshal(stored)
	require.NoError(t, err)

	_, err = DecryptKey(tampered, "hunter2")
	assert.Error(t, err)
}

func TestEncryptKeyValidatesInput(t *testing.T) {
	_, err := EncryptKey(testKeyHex, "")
	assert.ErrorContains(t, err, "password")

	_, err = EncryptKey("not-hex", "hunter2")
	assert.ErrorContains(t, err, "hex")

	_, err = EncryptKey("abcd", "hunter2")
	assert.ErrorContains(t, err, "32-byte")
}

func TestLoadKeyResolutionOrder(t *testing.T) {
	got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKeyHex})
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)

	blob, err := EncryptKey(testKeyHex, "hunter2")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "operator.key.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err = LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)

	_, err = LoadKey(KeyConfig{})
	assert.ErrorContains(t, err, "no private key source")
}

func TestLoadECDSAKeyDerivesAddress(t *testing.T) {
	key, err := LoadECDSAKey(KeyConfig{RawPrivateKey: testKeyHex})
	require.NoError(t, err)
	assert.NotNil(t, key.PublicKey.X)
}
