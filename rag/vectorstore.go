// Package rag implements the retrieval pipeline: query rewriting into
// language variants, cached vector search, and merging per-variant results
// into a single ranked context set.
package rag

import "context"

// VectorHit is one chunk returned by a vector search.
type VectorHit struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// VectorStore performs similarity search over indexed chunks.
type VectorStore interface {
	// Search returns up to topK chunks nearest to the query embedding,
	// ordered by descending score.
	Search(ctx context.Context, queryEmbedding []float64, topK int) ([]VectorHit, error)
}
