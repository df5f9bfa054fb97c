package infra

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileKeyProvider_StoreAndGet(t *testing.T) {
	provider := NewFileKeyProvider(t.TempDir())

	assert.False(t, provider.KeyExists())

	key, err := GenerateKey()
	require.NoError(t, err)
	require.Len(t, key, keySize)

	require.NoError(t, provider.StoreKey(key))
	assert.True(t, provider.KeyExists())

	got, err := provider.GetKey()
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestFileKeyProvider_RejectsBadKeySize(t *testing.T) {
	provider := NewFileKeyProvider(t.TempDir())
	assert.Error(t, provider.StoreKey([]byte("short")))
}

func TestFileKeyProvider_GetMissing(t *testing.T) {
	provider := NewFileKeyProvider(t.TempDir())
	_, err := provider.GetKey()
	assert.Error(t, err)
}

func TestEnsureKey(t *testing.T) {
	provider := NewFileKeyProvider(t.TempDir())

	key, err := EnsureKey(provider)
	require.NoError(t, err)
	require.Len(t, key, keySize)

	// Second call returns the same key
	again, err := EnsureKey(provider)
	require.NoError(t, err)
	assert.Equal(t, key, again)
}

func TestEncryptedSecrets_RoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	store, err := NewEncryptedSecrets(t.TempDir(), key)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.GetSecret("openai_api_key")
	assert.ErrorIs(t, err, ErrSecretNotFound)

	require.NoError(t, store.SetSecret("openai_api_key", "sk-test"))
	got, err := store.GetSecret("openai_api_key")
	require.NoError(t, err)
	assert.Equal(t, "sk-test", got)

	// Overwrite
	require.NoError(t, store.SetSecret("openai_api_key", "sk-new"))
	got, err = store.GetSecret("openai_api_key")
	require.NoError(t, err)
	assert.Equal(t, "sk-new", got)
}
