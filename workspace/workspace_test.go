package workspace

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyFor(t *testing.T) {
	key := KeyFor("12345:TESTTOKEN")
	assert.Len(t, key, 16)
	assert.Regexp(t, "^[0-9a-f]{16}$", key)
	assert.Equal(t, key, KeyFor("12345:TESTTOKEN"), "key must be stable across calls")
	assert.NotEqual(t, key, KeyFor("12345:OTHERTOKEN"))
}

func TestResolve(t *testing.T) {
	ws := Resolve("12345:TESTTOKEN", 99)
	assert.Equal(t, KeyFor("12345:TESTTOKEN"), ws.Key)
	assert.Equal(t, int64(99), ws.ChatID)
}

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	cache, err := OpenCache(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestCacheBinding(t *testing.T) {
	cache := openTestCache(t)

	got, err := cache.Binding("no-such-key")
	require.NoError(t, err)
	assert.Nil(t, got)

	b := Binding{Key: "abcdef0123456789", Token: "12345:TESTTOKEN", ChatID: 99}
	require.NoError(t, cache.SaveBinding(b))

	got, err = cache.Binding(b.Key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, b.Token, got.Token)
	assert.Equal(t, b.ChatID, got.ChatID)
	assert.False(t, got.CreatedAt.IsZero(), "save fills CreatedAt")

	// Rebinding the same workspace replaces the chat.
	b.ChatID = 123
	require.NoError(t, cache.SaveBinding(b))
	got, err = cache.Binding(b.Key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(123), got.ChatID)

	require.NoError(t, cache.DeleteBinding(b.Key))
	got, err = cache.Binding(b.Key)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, cache.DeleteBinding(b.Key), "deleting a missing binding is a no-op")
}

func TestCacheSnapshot(t *testing.T) {
	cache := openTestCache(t)

	payload, savedAt, err := cache.Snapshot("abcdef0123456789")
	require.NoError(t, err)
	assert.Nil(t, payload)
	assert.True(t, savedAt.IsZero())

	manifest := []byte(`{"version":1,"entries":{}}`)
	require.NoError(t, cache.SaveSnapshot("abcdef0123456789", manifest))

	payload, savedAt, err = cache.Snapshot("abcdef0123456789")
	require.NoError(t, err)
	assert.Equal(t, manifest, payload)
	assert.WithinDuration(t, time.Now(), savedAt, time.Minute)

	// Snapshots are per workspace.
	payload, _, err = cache.Snapshot("0000000000000000")
	require.NoError(t, err)
	assert.Nil(t, payload)
}
