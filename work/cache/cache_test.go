package cache_test

import (
	"testing"
	"time"

	"nowshowing/work/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataRoundTrip(t *testing.T) {
	c := cache.NewCache(time.Minute)

	_, ok := c.GetMetadata("i=tt0133093")
	assert.False(t, ok)

	c.SetMetadata("i=tt0133093", []byte(`{"Title":"The Matrix"}`))
	body, ok := c.GetMetadata("i=tt0133093")
	require.True(t, ok)
	assert.JSONEq(t, `{"Title":"The Matrix"}`, string(body))
}

func TestStoresAreIndependent(t *testing.T) {
	c := cache.NewCache(time.Minute)

	c.SetMetadata("k", []byte("metadata"))
	c.SetNews("k", []byte("news"))

	body, ok := c.GetMetadata("k")
	require.True(t, ok)
	assert.Equal(t, "metadata", string(body))

	body, ok = c.GetNews("k")
	require.True(t, ok)
	assert.Equal(t, "news", string(body))
}

func TestEntriesExpire(t *testing.T) {
	c := cache.NewCache(10 * time.Millisecond)

	c.SetNews("feed", []byte("articles"))
	time.Sleep(30 * time.Millisecond)

	_, ok := c.GetNews("feed")
	assert.False(t, ok)
}

func TestClear(t *testing.T) {
	c := cache.NewCache(time.Minute)

	c.SetMetadata("a", []byte("x"))
	c.SetNews("b", []byte("y"))
	c.Clear()

	_, ok := c.GetMetadata("a")
	assert.False(t, ok)
	_, ok = c.GetNews("b")
	assert.False(t, ok)
}
