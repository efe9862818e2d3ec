package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, account string) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := OpenSQLiteStore(path, account)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetAbsentKeyReturnsEmpty(t *testing.T) {
	s := openTestStore(t, "acct")

	v, err := s.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestSetGetDelete(t *testing.T) {
	s := openTestStore(t, "acct")
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "active_call_id", "call-1"))
	v, err := s.Get(ctx, "active_call_id")
	require.NoError(t, err)
	assert.Equal(t, "call-1", v)

	// Overwrite.
	require.NoError(t, s.Set(ctx, "active_call_id", "call-2"))
	v, err = s.Get(ctx, "active_call_id")
	require.NoError(t, err)
	assert.Equal(t, "call-2", v)

	require.NoError(t, s.Delete(ctx, "active_call_id"))
	v, err = s.Get(ctx, "active_call_id")
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestValuesSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	ctx := context.Background()

	s1, err := OpenSQLiteStore(path, "acct")
	require.NoError(t, err)
	require.NoError(t, s1.Set(ctx, "ringing_call_id", "call-1"))
	require.NoError(t, s1.Close())

	s2, err := OpenSQLiteStore(path, "acct")
	require.NoError(t, err)
	defer s2.Close()

	v, err := s2.Get(ctx, "ringing_call_id")
	require.NoError(t, err)
	assert.Equal(t, "call-1", v)
}

func TestAccountsAreIsolated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	ctx := context.Background()

	a, err := OpenSQLiteStore(path, "alice")
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Set(ctx, "key", "alice-value"))

	v, err := a.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, "alice-value", v)

	b := &SQLiteStore{db: a.DB(), account: "bob"}
	v, err = b.Get(ctx, "key")
	require.NoError(t, err)
	assert.Empty(t, v)
}
