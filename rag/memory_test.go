package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemorySearchRanksBySimilarity(t *testing.T) {
	s := NewInMemoryVectorStore(nil)
	ctx := context.Background()

	require.NoError(t, s.AddChunks(ctx, []StoredChunk{
		{ChunkID: "c1", DocumentID: "d1", Text: "exact", Embedding: []float64{1, 0}},
		{ChunkID: "c2", DocumentID: "d2", Text: "orthogonal", Embedding: []float64{0, 1}},
		{ChunkID: "c3", DocumentID: "d1", Text: "close", Embedding: []float64{0.9, 0.1}},
	}))

	hits, err := s.Search(ctx, []float64{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "c1", hits[0].ChunkID)
	assert.Equal(t, "c3", hits[1].ChunkID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestInMemorySearchEmptyStore(t *testing.T) {
	s := NewInMemoryVectorStore(nil)

	hits, err := s.Search(context.Background(), []float64{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestAddChunksRequiresEmbedding(t *testing.T) {
	s := NewInMemoryVectorStore(nil)

	err := s.AddChunks(context.Background(), []StoredChunk{{ChunkID: "c1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no embedding")
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float64{1, 0}, []float64{1, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, cosineSimilarity([]float64{1, 0}, []float64{-1, 0}), 1e-9)
	// Mismatched lengths and zero vectors score 0.
	assert.Equal(t, 0.0, cosineSimilarity([]float64{1}, []float64{1, 0}))
	assert.Equal(t, 0.0, cosineSimilarity([]float64{0, 0}, []float64{1, 0}))
}
