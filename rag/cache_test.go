package rag

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/ragchat/internal/cache"
	"github.com/BaSui01/ragchat/types"
)

func newTestCache(t *testing.T, ttl time.Duration) (*RetrievalCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mgr := cache.NewManagerWithClient(client, nil)
	t.Cleanup(func() { _ = mgr.Close() })
	return NewRetrievalCache(mgr, ttl, nil), mr
}

func sampleEntry() CacheEntry {
	return CacheEntry{
		DocIDs: []string{"doc-1", "doc-2"},
		Chunks: []types.ChunkContext{
			{ChunkID: "c1", DocumentID: "doc-1", Text: "alpha", Score: 0.9},
			{ChunkID: "c2", DocumentID: "doc-2", Text: "beta", Score: 0.8},
		},
	}
}

func TestKeyFormat(t *testing.T) {
	key := Key("english", "Refund Policy")
	// Trimming and lowercasing make whitespace and casing variants share
	// an entry.
	assert.Equal(t, Key("english", "refund policy"), key)
	assert.Equal(t, Key("english", "  Refund Policy \n"), key)
	assert.NotEqual(t, Key("japanese", "refund policy"), key)
	assert.Regexp(t, `^rag:retrieval:english:[0-9a-f]{64}$`, key)
}

func TestCacheRoundTrip(t *testing.T) {
	c, _ := newTestCache(t, time.Hour)
	ctx := context.Background()

	c.Put(ctx, "english", "refund policy", sampleEntry())
	got, hit := c.Get(ctx, "english", "refund policy")
	require.True(t, hit)
	assert.Equal(t, sampleEntry(), got)
}

func TestCacheMissOnAbsent(t *testing.T) {
	c, _ := newTestCache(t, time.Hour)

	_, hit := c.Get(context.Background(), "english", "never asked")
	assert.False(t, hit)
}

func TestCacheTTLExpiry(t *testing.T) {
	c, mr := newTestCache(t, time.Hour)
	ctx := context.Background()

	c.Put(ctx, "english", "refund policy", sampleEntry())
	mr.FastForward(2 * time.Hour)

	_, hit := c.Get(ctx, "english", "refund policy")
	assert.False(t, hit)
}

func TestCacheNeverStoresEmptyResults(t *testing.T) {
	c, mr := newTestCache(t, time.Hour)
	ctx := context.Background()

	c.Put(ctx, "english", "no matches", CacheEntry{})
	assert.Empty(t, mr.Keys())

	_, hit := c.Get(ctx, "english", "no matches")
	assert.False(t, hit)
}

func TestCacheCorruptEntryIsMiss(t *testing.T) {
	c, mr := newTestCache(t, time.Hour)

	mr.Set(Key("english", "refund policy"), "{broken json")
	_, hit := c.Get(context.Background(), "english", "refund policy")
	assert.False(t, hit)
}

func TestCacheEmptyDocIDsIsMiss(t *testing.T) {
	c, mr := newTestCache(t, time.Hour)

	// An entry written without document ids (by an older version or by
	// hand) reads back as a miss.
	mr.Set(Key("english", "q"), `{"doc_ids":[],"chunks":[]}`)
	_, hit := c.Get(context.Background(), "english", "q")
	assert.False(t, hit)
}
