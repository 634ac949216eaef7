package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/WillIsback/clea-api/pkg/models"
)

// CacheService wraps the raw client with the retrieval-specific keyspace.
type CacheService struct {
	client Cache
}

// NewCacheService creates the retrieval cache over a connected client.
func NewCacheService(client Cache) *CacheService {
	return &CacheService{client: client}
}

// Cache lifetimes per payload kind.
const (
	EmbeddingCacheTTL    = 24 * time.Hour
	SearchResultCacheTTL = 30 * time.Minute
)

// CacheQueryEmbedding memoizes the embedding of a query string.
func (s *CacheService) CacheQueryEmbedding(ctx context.Context, query string, embedding []float32) error {
	return s.client.SetJSON(ctx, "embedding:"+hashText(query), embedding, EmbeddingCacheTTL)
}

// GetQueryEmbedding returns the cached embedding for query, or nil on miss.
func (s *CacheService) GetQueryEmbedding(ctx context.Context, query string) ([]float32, error) {
	var embedding []float32
	found, err := s.client.GetJSON(ctx, "embedding:"+hashText(query), &embedding)
	if err != nil || !found {
		return nil, err
	}
	return embedding, nil
}

// CacheSearchResponse memoizes a complete search response under the request
// fingerprint.
func (s *CacheService) CacheSearchResponse(ctx context.Context, fingerprint string, resp *models.SearchResponse) error {
	return s.client.SetJSON(ctx, "search:"+fingerprint, resp, SearchResultCacheTTL)
}

// GetSearchResponse returns the cached response for a request fingerprint,
// or nil on miss.
func (s *CacheService) GetSearchResponse(ctx context.Context, fingerprint string) (*models.SearchResponse, error) {
	var resp models.SearchResponse
	found, err := s.client.GetJSON(ctx, "search:"+fingerprint, &resp)
	if err != nil || !found {
		return nil, err
	}
	return &resp, nil
}

// Fingerprint derives a stable cache key from any JSON-serializable request.
func Fingerprint(v interface{}) string {
	data, err := marshalJSON(v)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
