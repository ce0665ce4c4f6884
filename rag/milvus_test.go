package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/ragchat/config"
)

func newMilvusHarness(t *testing.T, handler http.HandlerFunc) *MilvusStore {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewMilvusStore(config.MilvusConfig{
		BaseURL:    srv.URL,
		Collection: "rag_chunks",
	}, nil)
}

func TestMilvusSearch(t *testing.T) {
	s := newMilvusHarness(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/vectordb/entities/search", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "rag_chunks", req["collectionName"])
		assert.Equal(t, float64(3), req["limit"])

		fmt.Fprint(w, `{"code":0,"data":[[
			{"id":"x","distance":0.95,"entity":{"chunk_id":"c1","doc_id":"d1","text":"alpha"}},
			{"id":"y","distance":0.80,"entity":{"chunk_id":"c2","doc_id":"d2","text":"beta"}}
		]]}`)
	})

	hits, err := s.Search(context.Background(), []float64{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, VectorHit{ChunkID: "c1", DocumentID: "d1", Text: "alpha", Score: 0.95}, hits[0])
	assert.Equal(t, "c2", hits[1].ChunkID)
}

func TestMilvusSearchBodyError(t *testing.T) {
	s := newMilvusHarness(t, func(w http.ResponseWriter, r *http.Request) {
		// Milvus reports errors with HTTP 200 and a non-zero body code.
		fmt.Fprint(w, `{"code":1100,"message":"collection not loaded"}`)
	})

	_, err := s.Search(context.Background(), []float64{1, 0}, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collection not loaded")
}

func TestMilvusSearchValidation(t *testing.T) {
	s := newMilvusHarness(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	_, err := s.Search(context.Background(), nil, 3)
	assert.Error(t, err)

	hits, err := s.Search(context.Background(), []float64{1}, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestDistanceToScore(t *testing.T) {
	s := &MilvusStore{metricType: MilvusMetricCosine}
	assert.InDelta(t, 0.9, s.distanceToScore(0.9), 1e-9)

	s.metricType = MilvusMetricL2
	assert.InDelta(t, 0.5, s.distanceToScore(1.0), 1e-9)
}
