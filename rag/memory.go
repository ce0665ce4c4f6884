package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// StoredChunk is a chunk held by the in-memory store.
type StoredChunk struct {
	ChunkID    string    `json:"chunk_id"`
	DocumentID string    `json:"document_id"`
	Text       string    `json:"text"`
	Embedding  []float64 `json:"embedding"`
}

// InMemoryVectorStore is a cosine-similarity store for tests and small
// deployments.
type InMemoryVectorStore struct {
	chunks []StoredChunk
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewInMemoryVectorStore creates an empty in-memory store.
func NewInMemoryVectorStore(logger *zap.Logger) *InMemoryVectorStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryVectorStore{
		chunks: make([]StoredChunk, 0),
		logger: logger,
	}
}

// AddChunks indexes chunks. Every chunk must carry an embedding.
func (s *InMemoryVectorStore) AddChunks(ctx context.Context, chunks []StoredChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("chunk %s has no embedding", c.ChunkID)
		}
		s.chunks = append(s.chunks, c)
	}

	s.logger.Info("chunks added to vector store",
		zap.Int("count", len(chunks)),
		zap.Int("total", len(s.chunks)))
	return nil
}

// Search returns the topK most similar chunks by cosine similarity.
func (s *InMemoryVectorStore) Search(ctx context.Context, queryEmbedding []float64, topK int) ([]VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.chunks) == 0 || topK <= 0 {
		return []VectorHit{}, nil
	}

	hits := make([]VectorHit, 0, len(s.chunks))
	for _, c := range s.chunks {
		hits = append(hits, VectorHit{
			ChunkID:    c.ChunkID,
			DocumentID: c.DocumentID,
			Text:       c.Text,
			Score:      cosineSimilarity(queryEmbedding, c.Embedding),
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})

	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Count returns the number of indexed chunks.
func (s *InMemoryVectorStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks), nil
}

// cosineSimilarity computes the cosine similarity between two vectors.
// Mismatched or zero vectors score 0.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
