package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/WillIsback/clea-api/internal/chunking"
	"github.com/WillIsback/clea-api/pkg/logger"
	"github.com/WillIsback/clea-api/pkg/models"
)

// Candidate is one row of the candidate selection query assembled by the
// search engine.
type Candidate struct {
	ChunkID        int64
	DocumentID     int64
	Content        string
	StartChar      int
	EndChar        int
	HierarchyLevel int
	Title          string
	Theme          string
	DocumentType   string
	PublishDate    *time.Time
	Distance       float64
}

// FetchCandidates executes the parameterized candidate SQL inside a
// read-only transaction and scans the fixed column set.
func (s *Store) FetchCandidates(ctx context.Context, sql string, args []any) ([]Candidate, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, classify(err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(
			&c.ChunkID, &c.DocumentID, &c.Content, &c.StartChar, &c.EndChar, &c.HierarchyLevel,
			&c.Title, &c.Theme, &c.DocumentType, &c.PublishDate, &c.Distance,
		); err != nil {
			return nil, classify(err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}

	return out, classify(tx.Commit(ctx))
}

// FetchParentChain walks a chunk's parent pointers and returns its ancestors
// at levels 0, 1 and 2. Missing levels stay nil; the walk is bounded by the
// tree depth.
func (s *Store) FetchParentChain(ctx context.Context, chunkID int64) (*models.ChunkContext, error) {
	chain := &models.ChunkContext{}

	current := chunkID
	for range [3]struct{}{} {
		var (
			parent *int64
			c      models.Chunk
		)
		err := s.pool.QueryRow(ctx,
			`SELECT p.id, p.document_id, p.content, p.start_char, p.end_char, p.hierarchy_level, p.parent_chunk_id
			 FROM chunks c JOIN chunks p ON p.id = c.parent_chunk_id
			 WHERE c.id = $1`, current,
		).Scan(&c.ID, &c.DocumentID, &c.Content, &c.StartChar, &c.EndChar, &c.HierarchyLevel, &parent)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				break
			}
			return nil, classify(err)
		}

		switch c.HierarchyLevel {
		case chunking.LevelDocument:
			chain.Level0 = &c
		case chunking.LevelSection:
			chain.Level1 = &c
		case chunking.LevelParagraph:
			chain.Level2 = &c
		}

		if parent == nil {
			break
		}
		current = c.ID
	}

	return chain, nil
}

// LogSearch appends one audit record. It is best-effort: failures are logged
// and swallowed so the response path never blocks on the audit trail.
func (s *Store) LogSearch(ctx context.Context, rec models.SearchQuery) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO search_queries (query_text, theme, document_type, corpus_id, results_count, confidence_level, user_id)
		 VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), $5, $6, NULLIF($7, ''))`,
		rec.QueryText, rec.Theme, rec.DocumentType, rec.CorpusID,
		rec.ResultsCount, rec.ConfidenceLevel, rec.UserID,
	)
	if err != nil {
		logger.Get().Warn("search audit write failed", "error", err)
	}
}
