package rvcache

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	dir := t.TempDir()
	c, err := New(dir, false, nil)
	require.NoError(t, err)
	return c
}

func TestKeyIsStableAndFixedWidth(t *testing.T) {
	k1 := Key("https://example.com/ruby-3.3.0.tar.gz")
	k2 := Key("https://example.com/ruby-3.3.0.tar.gz")
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 16)
}

func TestKeyDiffersByIdentity(t *testing.T) {
	assert.NotEqual(t, Key("a"), Key("b"))
}

func TestPutThenOpenRoundTrips(t *testing.T) {
	c := newTestCache(t)
	key := Key("ruby-3.3.0")
	_, err := c.Put(BucketRuby, key, strings.NewReader("tarball-bytes"))
	require.NoError(t, err)

	assert.True(t, c.Has(BucketRuby, key))
	f, err := c.Open(BucketRuby, key)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "tarball-bytes", string(data))
}

func TestPutIsAtomicNoPartialFileVisible(t *testing.T) {
	c := newTestCache(t)
	key := Key("gem-foo-1.0")
	_, err := c.Put(BucketGem, key, strings.NewReader("gem-bytes"))
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(c.Dir, string(BucketGem)))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-", "no leftover temp file should remain after Put")
	}
}

func TestNoCacheModeMissesAlways(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, true, nil)
	require.NoError(t, err)
	key := Key("x")
	_, err = c.Put(BucketRuby, key, strings.NewReader("data"))
	require.NoError(t, err)
	assert.False(t, c.Has(BucketRuby, key))
	_, err = c.Open(BucketRuby, key)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRemoveMissingEntryIsNotAnError(t *testing.T) {
	c := newTestCache(t)
	assert.NoError(t, c.Remove(BucketRuby, "nonexistent"))
}

func TestPruneRemovesOnlyOldEntries(t *testing.T) {
	c := newTestCache(t)
	oldKey, newKey := Key("old"), Key("new")
	_, err := c.Put(BucketMetadata, oldKey, strings.NewReader("old"))
	require.NoError(t, err)
	_, err = c.Put(BucketMetadata, newKey, strings.NewReader("new"))
	require.NoError(t, err)

	oldPath := filepath.Join(c.Dir, string(BucketMetadata), oldKey)
	oldTime := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(oldPath, oldTime, oldTime))

	removed, err := c.Prune(BucketMetadata, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.False(t, c.Has(BucketMetadata, oldKey))
	assert.True(t, c.Has(BucketMetadata, newKey))
}

func TestTryLockPreventsSecondAcquisition(t *testing.T) {
	c := newTestCache(t)
	ok, err := c.TryLock(BucketRuby, "install-key")
	require.NoError(t, err)
	assert.True(t, ok)

	ok2, err := c.TryLock(BucketRuby, "install-key")
	require.NoError(t, err)
	assert.False(t, ok2, "a second lock attempt while our own PID holds it should fail")

	require.NoError(t, c.Unlock(BucketRuby, "install-key"))
	ok3, err := c.TryLock(BucketRuby, "install-key")
	require.NoError(t, err)
	assert.True(t, ok3, "after unlock the key should be acquirable again")
}

func TestSizeSumsEntryBytes(t *testing.T) {
	c := newTestCache(t)
	_, err := c.Put(BucketRuby, Key("a"), strings.NewReader("12345"))
	require.NoError(t, err)
	_, err = c.Put(BucketGem, Key("b"), strings.NewReader("123"))
	require.NoError(t, err)

	size, err := c.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(8), size)
}
