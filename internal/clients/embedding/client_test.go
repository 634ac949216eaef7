package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/WillIsback/clea-api/internal/clients/base"
	"github.com/WillIsback/clea-api/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.ServiceConfig{
		BaseURL: srv.URL,
		Model:   "test-model",
	})
}

func TestEmbedBatch(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}

		resp := response{Model: req.Model}
		// Answer out of order on purpose; the client must realign.
		for i := len(req.Input) - 1; i >= 0; i-- {
			vec := make([]float64, Dimensions)
			vec[0] = float64(i)
			resp.Data = append(resp.Data, data{Embedding: vec, Index: i})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	vecs, err := client.EmbedBatch(context.Background(), []string{"un", "deux", "trois"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors", len(vecs))
	}
	for i, v := range vecs {
		if len(v) != Dimensions {
			t.Errorf("vector %d has %d dimensions", i, len(v))
		}
		if v[0] != float32(i) {
			t.Errorf("vector %d not realigned to input order (marker %v)", i, v[0])
		}
	}
}

func TestEmbedBatchEmpty(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an empty batch")
	})
	vecs, err := client.EmbedBatch(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Errorf("got (%v, %v), want (nil, nil)", vecs, err)
	}
}

func TestEmbedBatchWrongDimensions(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		resp := response{Data: []data{{Embedding: make([]float64, 12), Index: 0}}}
		_ = json.NewEncoder(w).Encode(resp)
	})

	_, err := client.EmbedBatch(context.Background(), []string{"texte"})
	if !errors.Is(err, base.ErrInferenceFailed) {
		t.Errorf("got %v, want ErrInferenceFailed", err)
	}
}

func TestEmbedBatchServiceDown(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "loading", http.StatusServiceUnavailable)
	})

	_, err := client.EmbedBatch(context.Background(), []string{"texte"})
	if !errors.Is(err, base.ErrModelUnavailable) {
		t.Errorf("got %v, want ErrModelUnavailable", err)
	}
}
