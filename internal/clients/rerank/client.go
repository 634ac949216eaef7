// Package rerank provides the client for the cross-encoder reranking
// service.
package rerank

import (
	"context"
	"fmt"
	"time"

	"github.com/WillIsback/clea-api/internal/clients/base"
	"github.com/WillIsback/clea-api/internal/config"
)

// Default configuration constants.
const (
	DefaultTimeout = 30 * time.Second
	ServiceName    = "rerank"
)

// Reranker scores (query, passage) pairs. Scores are raw and unbounded;
// higher means more relevant. Normalization belongs to the search layer.
type Reranker interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
}

// Client provides reranking API operations over the shared base client.
type Client struct {
	httpClient *base.HTTPClient
	model      string
}

// Compile-time check that Client satisfies Reranker.
var _ Reranker = (*Client)(nil)

// NewClient creates a reranking client for the configured service.
func NewClient(cfg config.ServiceConfig) *Client {
	return &Client{
		httpClient: base.NewHTTPClient(ServiceName, cfg, DefaultTimeout),
		model:      cfg.Model,
	}
}

// request is the /rerank wire format.
type request struct {
	Model           string   `json:"model"`
	Query           string   `json:"query"`
	Documents       []string `json:"documents"`
	TopN            int      `json:"top_n,omitempty"`
	ReturnDocuments bool     `json:"return_documents,omitempty"`
}

type result struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

type response struct {
	ID      string   `json:"id"`
	Results []result `json:"results"`
}

// Score returns one raw relevance score per passage, aligned with the input
// order regardless of the order the service answers in.
func (c *Client) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	if len(passages) == 0 {
		return nil, nil
	}

	var resp response
	err := c.httpClient.Post(ctx, "/rerank", request{
		Model:     c.model,
		Query:     query,
		Documents: passages,
		TopN:      len(passages),
	}, &resp)
	if err != nil {
		return nil, err
	}

	if len(resp.Results) != len(passages) {
		return nil, fmt.Errorf("%w: got %d scores for %d passages",
			base.ErrInferenceFailed, len(resp.Results), len(passages))
	}

	scores := make([]float64, len(passages))
	for _, r := range resp.Results {
		if r.Index < 0 || r.Index >= len(scores) {
			return nil, fmt.Errorf("%w: result index %d out of range", base.ErrInferenceFailed, r.Index)
		}
		scores[r.Index] = r.RelevanceScore
	}
	return scores, nil
}
