package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ragchat/config"
)

// MilvusMetricType is the distance metric used by the collection index.
type MilvusMetricType string

const (
	MilvusMetricL2     MilvusMetricType = "L2"
	MilvusMetricIP     MilvusMetricType = "IP"
	MilvusMetricCosine MilvusMetricType = "COSINE"
)

// MilvusStore implements VectorStore via the Milvus REST API (v2).
type MilvusStore struct {
	cfg        config.MilvusConfig
	metricType MilvusMetricType
	baseURL    string
	client     *http.Client
	logger     *zap.Logger
}

// Milvus chunk schema field names. The ingestion pipeline writes these
// fields; Search only reads them.
const (
	milvusPrimaryField = "chunk_id"
	milvusDocField     = "doc_id"
	milvusTextField    = "text"
	milvusVectorField  = "vector"
)

// NewMilvusStore creates a Milvus-backed vector store.
func NewMilvusStore(cfg config.MilvusConfig, logger *zap.Logger) *MilvusStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 19530
	}
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
	}

	return &MilvusStore{
		cfg:        cfg,
		metricType: MilvusMetricCosine,
		baseURL:    baseURL,
		client:     &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With(zap.String("component", "milvus_store")),
	}
}

// applyHeaders adds auth and content-type headers.
func (s *MilvusStore) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}
	if s.cfg.Username != "" && s.cfg.Password != "" {
		req.SetBasicAuth(s.cfg.Username, s.cfg.Password)
	}
}

// doJSON performs a JSON HTTP request and decodes the response.
func (s *MilvusStore) doJSON(ctx context.Context, method, path string, in any, out any) error {
	endpoint := s.baseURL + path

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
		s.logger.Debug("milvus request", zap.String("method", method), zap.String("path", path))
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	s.applyHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	s.logger.Debug("milvus response", zap.Int("status", resp.StatusCode))

	// The Milvus REST API returns 200 even for errors; check the body code.
	var baseResp struct {
		Code    int    `json:"code"`
		Message string `json:"message,omitempty"`
	}
	if err := json.Unmarshal(respBody, &baseResp); err == nil {
		if baseResp.Code != 0 {
			return fmt.Errorf("milvus error: code=%d message=%s", baseResp.Code, baseResp.Message)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("milvus request failed: method=%s path=%s status=%d body=%s",
			method, path, resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// Search returns the topK nearest chunks for the query embedding.
func (s *MilvusStore) Search(ctx context.Context, queryEmbedding []float64, topK int) ([]VectorHit, error) {
	if strings.TrimSpace(s.cfg.Collection) == "" {
		return nil, fmt.Errorf("milvus collection is required")
	}
	if topK <= 0 {
		return []VectorHit{}, nil
	}
	if len(queryEmbedding) == 0 {
		return nil, fmt.Errorf("query embedding is required")
	}

	req := map[string]any{
		"dbName":         s.cfg.Database,
		"collectionName": s.cfg.Collection,
		"data":           [][]float64{queryEmbedding},
		"annsField":      milvusVectorField,
		"limit":          topK,
		"outputFields":   []string{milvusPrimaryField, milvusDocField, milvusTextField},
	}

	var resp struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Data    [][]struct {
			ID       string         `json:"id"`
			Distance float64        `json:"distance"`
			Entity   map[string]any `json:"entity"`
		} `json:"data"`
	}

	if err := s.doJSON(ctx, http.MethodPost, "/v2/vectordb/entities/search", req, &resp); err != nil {
		return nil, fmt.Errorf("search entities: %w", err)
	}

	hits := make([]VectorHit, 0)
	if len(resp.Data) > 0 {
		for _, h := range resp.Data[0] {
			hit := VectorHit{
				ChunkID: h.ID,
				Score:   s.distanceToScore(h.Distance),
			}
			if h.Entity != nil {
				if chunkID, ok := h.Entity[milvusPrimaryField].(string); ok {
					hit.ChunkID = chunkID
				}
				if docID, ok := h.Entity[milvusDocField].(string); ok {
					hit.DocumentID = docID
				}
				if text, ok := h.Entity[milvusTextField].(string); ok {
					hit.Text = text
				}
			}
			hits = append(hits, hit)
		}
	}
	return hits, nil
}

// distanceToScore converts a Milvus distance into a similarity score.
func (s *MilvusStore) distanceToScore(distance float64) float64 {
	switch s.metricType {
	case MilvusMetricIP, MilvusMetricCosine:
		// Higher is better; distance is already a similarity.
		return distance
	case MilvusMetricL2:
		// Lower is better; convert to a similarity.
		return 1.0 / (1.0 + distance)
	default:
		return 1.0 - distance
	}
}
