// Package store provides transactional persistence for documents, chunks,
// index configurations and the search audit trail, on PostgreSQL with
// pgvector.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/WillIsback/clea-api/internal/clients/embedding"
)

// Store holds the connection pool and the embedder used during ingestion.
type Store struct {
	pool     *pgxpool.Pool
	embedder embedding.Embedder
}

// New creates a Store connected to the given database URL.
func New(ctx context.Context, url string, embedder embedding.Embedder) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, classify(err)
	}
	return &Store{pool: pool, embedder: embedder}, nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return classify(s.pool.Ping(ctx))
}

// Pool exposes the underlying pool to the index manager, which issues DDL
// the document CRUD layer never needs.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Migrate applies the schema. Embedding width is fixed at 768.
func (s *Store) Migrate(ctx context.Context) error {
	const q = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS documents (
  id            BIGSERIAL PRIMARY KEY,
  title         TEXT NOT NULL DEFAULT '',
  theme         TEXT NOT NULL DEFAULT '',
  document_type TEXT NOT NULL DEFAULT '',
  publish_date  DATE,
  corpus_id     VARCHAR(36) NOT NULL,
  created_at    TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
  index_needed  BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE INDEX IF NOT EXISTS documents_theme_idx ON documents (theme);
CREATE INDEX IF NOT EXISTS documents_document_type_idx ON documents (document_type);
CREATE INDEX IF NOT EXISTS documents_publish_date_idx ON documents (publish_date);
CREATE INDEX IF NOT EXISTS documents_corpus_id_idx ON documents (corpus_id);

CREATE TABLE IF NOT EXISTS chunks (
  id              BIGSERIAL PRIMARY KEY,
  document_id     BIGINT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
  content         TEXT NOT NULL,
  embedding       vector(768),
  start_char      INT NOT NULL,
  end_char        INT NOT NULL,
  hierarchy_level INT NOT NULL CHECK (hierarchy_level BETWEEN 0 AND 3),
  parent_chunk_id BIGINT REFERENCES chunks(id) ON DELETE CASCADE,
  CHECK (start_char >= 0 AND end_char >= start_char)
);

CREATE INDEX IF NOT EXISTS chunks_document_level_idx ON chunks (document_id, hierarchy_level);
CREATE INDEX IF NOT EXISTS chunks_parent_idx ON chunks (parent_chunk_id);

CREATE TABLE IF NOT EXISTS index_configs (
  id                   BIGSERIAL PRIMARY KEY,
  corpus_id            VARCHAR(36) NOT NULL UNIQUE,
  index_type           TEXT NOT NULL DEFAULT 'ivfflat',
  is_indexed           BOOLEAN NOT NULL DEFAULT FALSE,
  chunk_count          INT NOT NULL DEFAULT 0,
  last_indexed         TIMESTAMP WITH TIME ZONE,
  ivf_lists            INT NOT NULL DEFAULT 0,
  hnsw_m               INT NOT NULL DEFAULT 16,
  hnsw_ef_construction INT NOT NULL DEFAULT 64
);

CREATE TABLE IF NOT EXISTS search_queries (
  id               BIGSERIAL PRIMARY KEY,
  query_text       TEXT NOT NULL,
  theme            TEXT,
  document_type    TEXT,
  corpus_id        VARCHAR(36),
  results_count    INT NOT NULL DEFAULT 0,
  confidence_level DOUBLE PRECISION NOT NULL DEFAULT 0,
  created_at       TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
  user_id          TEXT
);
`
	_, err := s.pool.Exec(ctx, q)
	return classify(err)
}
