package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ragchat/internal/cache"
	"github.com/BaSui01/ragchat/types"
)

// retrievalKeyPrefix namespaces retrieval entries in Redis.
const retrievalKeyPrefix = "rag:retrieval"

// CacheEntry is the cached per-variant retrieval result.
type CacheEntry struct {
	DocIDs []string             `json:"doc_ids"`
	Chunks []types.ChunkContext `json:"chunks"`
}

// RetrievalCache stores per-variant search results keyed by language tag
// and a content hash of the query. All failures degrade to a miss or are
// swallowed; the cache never fails retrieval.
type RetrievalCache struct {
	manager *cache.Manager
	ttl     time.Duration
	logger  *zap.Logger
}

// NewRetrievalCache creates a retrieval cache with a fixed TTL.
func NewRetrievalCache(manager *cache.Manager, ttl time.Duration, logger *zap.Logger) *RetrievalCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetrievalCache{
		manager: manager,
		ttl:     ttl,
		logger:  logger.With(zap.String("component", "retrieval_cache")),
	}
}

// Key builds the cache key for a tag and query. The query is trimmed and
// lowercased before hashing so casing and whitespace variants share an
// entry.
func Key(tag, query string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query))))
	return fmt.Sprintf("%s:%s:%s", retrievalKeyPrefix, tag, hex.EncodeToString(sum[:]))
}

// Get fetches the entry for a tag and query. Absent, corrupt, or empty
// entries all report a miss.
func (c *RetrievalCache) Get(ctx context.Context, tag, query string) (CacheEntry, bool) {
	key := Key(tag, query)

	var entry CacheEntry
	err := c.manager.GetJSON(ctx, key, &entry)
	if err != nil {
		if !cache.IsCacheMiss(err) {
			c.logger.Warn("cache read failed, treating as miss",
				zap.String("key", key), zap.Error(err))
		}
		return CacheEntry{}, false
	}

	if len(entry.DocIDs) == 0 {
		return CacheEntry{}, false
	}
	return entry, true
}

// Put stores the entry for a tag and query. Entries with no document ids
// are never written; write failures are logged and swallowed.
func (c *RetrievalCache) Put(ctx context.Context, tag, query string, entry CacheEntry) {
	if len(entry.DocIDs) == 0 {
		return
	}

	key := Key(tag, query)
	if err := c.manager.SetJSON(ctx, key, entry, c.ttl); err != nil {
		c.logger.Warn("cache write failed",
			zap.String("key", key), zap.Error(err))
	}
}
