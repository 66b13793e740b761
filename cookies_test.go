package wafer

import (
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCookieCacheSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	cache := NewCookieCache(dir, time.Hour, 0)

	err := cache.Save("example.com", []cachedCookie{
		{Name: "session", Value: "abc", Expires: time.Now().Add(time.Hour)},
	})
	require.NoError(t, err)

	loaded, err := cache.Load("example.com")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "session", loaded[0].Name)
	assert.Equal(t, "abc", loaded[0].Value)
}

func TestCookieCacheLoadPurgesExpired(t *testing.T) {
	dir := t.TempDir()
	cache := NewCookieCache(dir, time.Hour, 0)
	require.NoError(t, cache.Save("example.com", []cachedCookie{
		{Name: "old", Value: "v", Expires: time.Now().Add(-time.Hour)},
		{Name: "fresh", Value: "v", Expires: time.Now().Add(time.Hour)},
	}))

	loaded, err := cache.Load("example.com")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "fresh", loaded[0].Name)
}

func TestCookieCacheLoadMissingDomainReturnsNil(t *testing.T) {
	cache := NewCookieCache(t.TempDir(), 0, 0)
	loaded, err := cache.Load("nowhere.example")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestCookieCacheWritesAreAtomic(t *testing.T) {
	dir := t.TempDir()
	cache := NewCookieCache(dir, 0, 0)
	require.NoError(t, cache.Save("example.com", []cachedCookie{{Name: "a", Value: "1"}}))

	entries, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, entries, "no temp files should survive a completed save")

	entries, err = filepath.Glob(filepath.Join(dir, "*.json"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCookieCacheMergeReplacesSameName(t *testing.T) {
	dir := t.TempDir()
	cache := NewCookieCache(dir, 0, 0)
	require.NoError(t, cache.Merge("example.com", []*http.Cookie{{Name: "a", Value: "1"}}))
	require.NoError(t, cache.Merge("example.com", []*http.Cookie{{Name: "a", Value: "2"}}))

	loaded, err := cache.Load("example.com")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "2", loaded[0].Value)
}

func TestCookieCacheMergeMaxAgeZeroDeletes(t *testing.T) {
	dir := t.TempDir()
	cache := NewCookieCache(dir, 0, 0)
	require.NoError(t, cache.Merge("example.com", []*http.Cookie{{Name: "a", Value: "1"}}))
	require.NoError(t, cache.Merge("example.com", []*http.Cookie{{Name: "a", Value: "", MaxAge: -1}}))

	loaded, err := cache.Load("example.com")
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestCookieCacheMaxAgeTakesPrecedenceOverExpires(t *testing.T) {
	now := time.Now()
	cache := NewCookieCache(t.TempDir(), 0, 0)
	c := &http.Cookie{MaxAge: 60, Expires: now.Add(-time.Hour)}
	expires, deleted := cache.cookieExpiry(c, now)
	assert.False(t, deleted)
	assert.WithinDuration(t, now.Add(60*time.Second), expires, time.Second)
}

func TestCookieCacheClearRemovesShard(t *testing.T) {
	dir := t.TempDir()
	cache := NewCookieCache(dir, 0, 0)
	require.NoError(t, cache.Save("example.com", []cachedCookie{{Name: "a", Value: "1"}}))
	require.NoError(t, cache.Clear("example.com"))

	loaded, err := cache.Load("example.com")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestCookieCacheListDomains(t *testing.T) {
	dir := t.TempDir()
	cache := NewCookieCache(dir, 0, 0)
	require.NoError(t, cache.Save("a.example", []cachedCookie{{Name: "x", Value: "1"}}))
	require.NoError(t, cache.Save("b.example", []cachedCookie{{Name: "x", Value: "1"}}))

	domains, err := cache.ListDomains()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.example", "b.example"}, domains)
}

func TestCookieCacheLRUEvictsOldest(t *testing.T) {
	dir := t.TempDir()
	cache := NewCookieCache(dir, 0, 1)

	require.NoError(t, cache.Save("old.example", []cachedCookie{{Name: "x", Value: "1"}}))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, cache.Save("new.example", []cachedCookie{{Name: "x", Value: "1"}}))
	cache.enforceLRU()

	domains, err := cache.ListDomains()
	require.NoError(t, err)
	assert.Equal(t, []string{"new.example"}, domains)
}
