package identity

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whispercall/internal/core/domain"
)

func TestLoadGeneratesAndReloadsKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.keys")

	first, err := Load(path, "alice", "token-1")
	require.NoError(t, err)
	keys1, err := first.Keys()
	require.NoError(t, err)
	assert.Len(t, keys1.BoxPublic, 32)
	assert.Len(t, keys1.SignPrivate, 64)

	second, err := Load(path, "alice", "token-1")
	require.NoError(t, err)
	keys2, err := second.Keys()
	require.NoError(t, err)
	assert.Equal(t, keys1.BoxPublic, keys2.BoxPublic)
	assert.Equal(t, keys1.SignPrivate, keys2.SignPrivate)
}

func TestContactRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.keys")
	id, err := Load(path, "alice", "token-1")
	require.NoError(t, err)

	_, err = id.ContactKeys(context.Background(), "bob")
	assert.ErrorIs(t, err, domain.ErrContactKeyUnknown)

	id.AddContact("bob", []byte("box"), []byte("sign"))
	ck, err := id.ContactKeys(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, []byte("box"), ck.BoxPublic)
}

func TestSessionTokenUpdates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.keys")
	id, err := Load(path, "alice", "token-1")
	require.NoError(t, err)

	assert.Equal(t, "token-1", id.SessionToken())
	id.SetSessionToken("token-2")
	assert.Equal(t, "token-2", id.SessionToken())
}
