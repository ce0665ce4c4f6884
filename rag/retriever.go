package rag

import (
	"context"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ragchat/internal/metrics"
	"github.com/BaSui01/ragchat/types"
)

// QueryEmbedder is the retriever's view of an embedding provider.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float64, error)
}

// Retriever runs the full retrieval pipeline: rewrite the query into
// language variants, serve each variant from cache or live search, and
// merge the per-variant results into one ranked context set.
//
// A live embedding or search failure aborts the whole retrieval; partial
// context would bias answers toward whichever language happened to work.
type Retriever struct {
	rewriter  *QueryRewriter
	cache     *RetrievalCache
	store     VectorStore
	embedder  QueryEmbedder
	topK      int
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewRetriever wires the pipeline. collector may be nil.
func NewRetriever(rewriter *QueryRewriter, cache *RetrievalCache, store VectorStore, embedder QueryEmbedder, topK int, collector *metrics.Collector, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	if topK <= 0 {
		topK = 6
	}
	return &Retriever{
		rewriter:  rewriter,
		cache:     cache,
		store:     store,
		embedder:  embedder,
		topK:      topK,
		collector: collector,
		logger:    logger.With(zap.String("component", "retriever")),
	}
}

// Retrieve returns merged context for the query. Document ids keep
// first-seen order across variants; chunks are deduplicated by chunk id
// (the earlier variant wins) and sorted by descending score, ties keeping
// discovery order.
func (r *Retriever) Retrieve(ctx context.Context, query string) (types.RetrievalResult, error) {
	start := time.Now()
	variants := r.rewriter.Rewrite(ctx, query)

	result := types.RetrievalResult{
		DocumentIDs: make([]string, 0),
		Chunks:      make([]types.ChunkContext, 0),
	}
	seenDocs := make(map[string]struct{})
	seenChunks := make(map[string]struct{})

	for _, v := range variants {
		entry, hit := r.lookupCache(ctx, v)
		if !hit {
			var err error
			entry, err = r.search(ctx, v)
			if err != nil {
				r.recordDuration("error", start)
				return types.RetrievalResult{}, err
			}
			r.cache.Put(ctx, v.Tag, v.Query, entry)
		}

		for _, docID := range entry.DocIDs {
			if _, ok := seenDocs[docID]; ok {
				continue
			}
			seenDocs[docID] = struct{}{}
			result.DocumentIDs = append(result.DocumentIDs, docID)
		}
		for _, chunk := range entry.Chunks {
			if _, ok := seenChunks[chunk.ChunkID]; ok {
				continue
			}
			seenChunks[chunk.ChunkID] = struct{}{}
			result.Chunks = append(result.Chunks, chunk)
		}
	}

	sort.SliceStable(result.Chunks, func(i, j int) bool {
		return result.Chunks[i].Score > result.Chunks[j].Score
	})

	r.recordDuration("ok", start)
	r.logger.Debug("retrieval complete",
		zap.Int("variants", len(variants)),
		zap.Int("documents", len(result.DocumentIDs)),
		zap.Int("chunks", len(result.Chunks)))
	return result, nil
}

func (r *Retriever) lookupCache(ctx context.Context, v RewriteVariant) (CacheEntry, bool) {
	entry, hit := r.cache.Get(ctx, v.Tag, v.Query)
	if r.collector != nil {
		if hit {
			r.collector.RecordCacheHit("retrieval")
		} else {
			r.collector.RecordCacheMiss("retrieval")
		}
	}
	return entry, hit
}

// search embeds the variant query and runs a vector search.
func (r *Retriever) search(ctx context.Context, v RewriteVariant) (CacheEntry, error) {
	vec, err := r.embedder.EmbedQuery(ctx, v.Query)
	if err != nil {
		r.logger.Error("query embedding failed",
			zap.String("tag", v.Tag), zap.Error(err))
		return CacheEntry{}, types.NewError(types.ErrEmbeddingFailure, "failed to embed query variant").
			WithHTTPStatus(http.StatusBadGateway).
			WithCause(err)
	}

	hits, err := r.store.Search(ctx, vec, r.topK)
	if err != nil {
		r.logger.Error("vector search failed",
			zap.String("tag", v.Tag), zap.Error(err))
		return CacheEntry{}, types.NewError(types.ErrSearchFailure, "vector search failed").
			WithHTTPStatus(http.StatusBadGateway).
			WithCause(err)
	}

	entry := CacheEntry{
		DocIDs: make([]string, 0, len(hits)),
		Chunks: make([]types.ChunkContext, 0, len(hits)),
	}
	seenDocs := make(map[string]struct{})
	for _, h := range hits {
		// A hit without text cannot support an answer; drop it before it
		// reaches the context set or the cache.
		if h.Text == "" {
			continue
		}
		if _, ok := seenDocs[h.DocumentID]; !ok && h.DocumentID != "" {
			seenDocs[h.DocumentID] = struct{}{}
			entry.DocIDs = append(entry.DocIDs, h.DocumentID)
		}
		entry.Chunks = append(entry.Chunks, types.ChunkContext{
			ChunkID:    h.ChunkID,
			DocumentID: h.DocumentID,
			Text:       h.Text,
			Score:      h.Score,
		})
	}
	return entry, nil
}

func (r *Retriever) recordDuration(status string, start time.Time) {
	if r.collector != nil {
		r.collector.RecordRetrieval(status, time.Since(start))
	}
}
