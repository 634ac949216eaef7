// Package embedding provides the client for the dense vector embedding
// service. It speaks the OpenAI-compatible /embeddings API.
package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/WillIsback/clea-api/internal/clients/base"
	"github.com/WillIsback/clea-api/internal/config"
	"github.com/WillIsback/clea-api/internal/utils"
)

// Default configuration constants.
const (
	DefaultTimeout = 30 * time.Second
	ServiceName    = "embedding"

	// Dimensions is the fixed width of every stored vector.
	Dimensions = 768

	// maxInputRunes right-truncates inputs before they reach the model
	// context. Roughly the 512-token window of BGE-style encoders.
	maxInputRunes = 2000
)

// Embedder maps batches of strings to fixed-width dense vectors.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Client provides embedding API operations over the shared base client. A
// single Client is safe for concurrent use; the HTTP layer carries no
// mutable state after construction.
type Client struct {
	httpClient *base.HTTPClient
	model      string
}

// Compile-time check that Client satisfies Embedder.
var _ Embedder = (*Client)(nil)

// NewClient creates an embedding client for the configured service.
func NewClient(cfg config.ServiceConfig) *Client {
	return &Client{
		httpClient: base.NewHTTPClient(ServiceName, cfg, DefaultTimeout),
		model:      cfg.Model,
	}
}

// request is the /embeddings wire format.
type request struct {
	Model          string   `json:"model"`
	Input          []string `json:"input"`
	EncodingFormat string   `json:"encoding_format,omitempty"`
	Dimensions     int      `json:"dimensions,omitempty"`
}

type data struct {
	Object    string    `json:"object"`
	Embedding []float64 `json:"embedding"`
	Index     int       `json:"index"`
}

type response struct {
	Object string `json:"object"`
	Model  string `json:"model"`
	Data   []data `json:"data"`
}

// EmbedBatch embeds texts in one API call and returns one 768-dimension
// vector per input, in input order. Inputs are right-truncated to the model
// context before the call.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	inputs := make([]string, len(texts))
	for i, t := range texts {
		inputs[i] = utils.TruncateRunes(t, maxInputRunes)
	}

	var resp response
	err := c.httpClient.Post(ctx, "/embeddings", request{
		Model:          c.model,
		Input:          inputs,
		EncodingFormat: "float",
		Dimensions:     Dimensions,
	}, &resp)
	if err != nil {
		return nil, err
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs",
			base.ErrInferenceFailed, len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", base.ErrInferenceFailed, d.Index)
		}
		if len(d.Embedding) != Dimensions {
			return nil, fmt.Errorf("%w: got %d dimensions, want %d",
				base.ErrInferenceFailed, len(d.Embedding), Dimensions)
		}
		vec := make([]float32, Dimensions)
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[d.Index] = vec
	}
	return out, nil
}

// EmbedQuery embeds a single query string.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}
