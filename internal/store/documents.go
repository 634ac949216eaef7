package store

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/WillIsback/clea-api/internal/chunking"
	"github.com/WillIsback/clea-api/internal/utils"
	"github.com/WillIsback/clea-api/pkg/models"
)

// DefaultBatchSize is the number of chunks embedded and written per round
// trip during ingestion.
const DefaultBatchSize = 10

// DocumentPatch lists the metadata fields an update may change. Nil fields
// stay untouched.
type DocumentPatch struct {
	Title        *string
	Theme        *string
	DocumentType *string
	PublishDate  *time.Time
	CorpusID     *string
}

// ChunkInput is an appended chunk with an explicit parent reference.
type ChunkInput struct {
	Content        string
	StartChar      int
	EndChar        int
	HierarchyLevel int
	ParentChunkID  *int64
}

// AddDocumentWithChunks inserts a document and its chunk stream in one
// transaction. The stream is consumed in batches of batchSize; each batch's
// text goes through the embedder before the rows are written. Positional
// parent indices resolve to the row ids of earlier chunks in the same
// stream. Any failure rolls the whole document back.
func (s *Store) AddDocumentWithChunks(ctx context.Context, meta models.DocumentMeta, chunks iter.Seq[chunking.Chunk], batchSize int) (*models.IngestResult, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	corpusID := meta.CorpusID
	if corpusID == "" {
		corpusID = uuid.NewString()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, classify(err)
	}
	defer tx.Rollback(ctx)

	var docID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO documents (title, theme, document_type, publish_date, corpus_id, index_needed)
		 VALUES ($1, $2, $3, $4, $5, TRUE)
		 RETURNING id`,
		meta.Title, meta.Theme, meta.DocumentType, meta.PublishDate, corpusID,
	).Scan(&docID)
	if err != nil {
		return nil, classify(err)
	}

	var (
		ids    []int64 // row id per stream position
		levels []int   // hierarchy level per stream position
		batch  []chunking.Chunk
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		// Content crosses the storage boundary here; strip any invalid UTF-8
		// before it reaches the embedder or a TEXT column.
		for i := range batch {
			batch[i].Content = utils.SanitizeUTF8(batch[i].Content)
		}
		vectors, err := s.embedBatch(ctx, batch)
		if err != nil {
			return err
		}
		for i, c := range batch {
			parentID, err := resolveParent(c, ids, levels)
			if err != nil {
				return err
			}

			var vec any
			if vectors[i] != nil {
				vec = pgvector.NewVector(vectors[i])
			}

			var id int64
			err = tx.QueryRow(ctx,
				`INSERT INTO chunks (document_id, content, embedding, start_char, end_char, hierarchy_level, parent_chunk_id)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)
				 RETURNING id`,
				docID, c.Content, vec, c.StartChar, c.EndChar, c.HierarchyLevel, parentID,
			).Scan(&id)
			if err != nil {
				return classify(err)
			}
			ids = append(ids, id)
			levels = append(levels, c.HierarchyLevel)
		}
		batch = batch[:0]
		return nil
	}

	for c := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch = append(batch, c)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	if err := upsertIndexConfig(ctx, tx, corpusID, len(ids)); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classify(err)
	}

	return &models.IngestResult{
		DocumentID:  docID,
		ChunkCount:  len(ids),
		CorpusID:    corpusID,
		IndexNeeded: true,
	}, nil
}

// embedBatch embeds the non-empty contents of a batch, leaving nil vectors
// for empty ones (the level-0 chunk of an empty document has no text).
func (s *Store) embedBatch(ctx context.Context, batch []chunking.Chunk) ([][]float32, error) {
	texts := make([]string, 0, len(batch))
	positions := make([]int, 0, len(batch))
	for i, c := range batch {
		if c.Content != "" {
			texts = append(texts, c.Content)
			positions = append(positions, i)
		}
	}

	vectors := make([][]float32, len(batch))
	if len(texts) == 0 {
		return vectors, nil
	}

	embedded, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	for i, pos := range positions {
		vectors[pos] = embedded[i]
	}
	return vectors, nil
}

// resolveParent maps a stream-positional parent reference to a row id,
// enforcing that the parent appeared earlier at a strictly lower level.
func resolveParent(c chunking.Chunk, ids []int64, levels []int) (*int64, error) {
	if c.ParentIndex < 0 {
		return nil, nil
	}
	if c.ParentIndex >= len(ids) {
		return nil, fmt.Errorf("%w: parent index %d refers past the stream position %d",
			ErrIntegrityViolation, c.ParentIndex, len(ids))
	}
	if levels[c.ParentIndex] >= c.HierarchyLevel {
		return nil, fmt.Errorf("%w: parent at level %d is not below level %d",
			ErrIntegrityViolation, levels[c.ParentIndex], c.HierarchyLevel)
	}
	id := ids[c.ParentIndex]
	return &id, nil
}

// upsertIndexConfig bumps the corpus chunk counter, creating the config row
// on first contact.
func upsertIndexConfig(ctx context.Context, tx pgx.Tx, corpusID string, added int) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO index_configs (corpus_id, chunk_count)
		 VALUES ($1, $2)
		 ON CONFLICT (corpus_id)
		 DO UPDATE SET chunk_count = index_configs.chunk_count + EXCLUDED.chunk_count`,
		corpusID, added,
	)
	return classify(err)
}

// UpdateDocument patches document metadata and appends new chunks. A corpus
// move re-balances both index configurations and marks the affected corpora
// stale.
func (s *Store) UpdateDocument(ctx context.Context, docID int64, patch DocumentPatch, newChunks []ChunkInput) (*models.Document, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, classify(err)
	}
	defer tx.Rollback(ctx)

	if err := lockDocument(ctx, tx, docID); err != nil {
		return nil, err
	}

	var current models.Document
	err = tx.QueryRow(ctx,
		`SELECT id, title, theme, document_type, publish_date, corpus_id, created_at, index_needed
		 FROM documents WHERE id = $1 FOR UPDATE`, docID,
	).Scan(&current.ID, &current.Title, &current.Theme, &current.DocumentType,
		&current.PublishDate, &current.CorpusID, &current.CreatedAt, &current.IndexNeeded)
	if err != nil {
		return nil, classify(err)
	}

	oldCorpus := current.CorpusID
	applyPatch(&current, patch)

	_, err = tx.Exec(ctx,
		`UPDATE documents SET title = $2, theme = $3, document_type = $4, publish_date = $5, corpus_id = $6
		 WHERE id = $1`,
		docID, current.Title, current.Theme, current.DocumentType, current.PublishDate, current.CorpusID,
	)
	if err != nil {
		return nil, classify(err)
	}

	if len(newChunks) > 0 {
		if err := s.appendChunks(ctx, tx, docID, newChunks); err != nil {
			return nil, err
		}
		_, err = tx.Exec(ctx, `UPDATE documents SET index_needed = TRUE WHERE id = $1`, docID)
		if err != nil {
			return nil, classify(err)
		}
		current.IndexNeeded = true
	}

	if current.CorpusID != oldCorpus {
		if err := rebalanceCorpora(ctx, tx, oldCorpus, current.CorpusID); err != nil {
			return nil, err
		}
		current.IndexNeeded = true
	} else if len(newChunks) > 0 {
		_, err = tx.Exec(ctx,
			`UPDATE index_configs SET chunk_count = chunk_count + $2 WHERE corpus_id = $1`,
			current.CorpusID, len(newChunks),
		)
		if err != nil {
			return nil, classify(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classify(err)
	}
	return &current, nil
}

func applyPatch(doc *models.Document, patch DocumentPatch) {
	if patch.Title != nil {
		doc.Title = *patch.Title
	}
	if patch.Theme != nil {
		doc.Theme = *patch.Theme
	}
	if patch.DocumentType != nil {
		doc.DocumentType = *patch.DocumentType
	}
	if patch.PublishDate != nil {
		doc.PublishDate = patch.PublishDate
	}
	if patch.CorpusID != nil && *patch.CorpusID != "" {
		doc.CorpusID = *patch.CorpusID
	}
}

// appendChunks embeds and inserts explicitly-parented chunks, validating
// that each parent belongs to the same document at a strictly lower level.
func (s *Store) appendChunks(ctx context.Context, tx pgx.Tx, docID int64, inputs []ChunkInput) error {
	texts := make([]string, len(inputs))
	for i := range inputs {
		inputs[i].Content = utils.SanitizeUTF8(inputs[i].Content)
		texts[i] = inputs[i].Content
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}

	for i, in := range inputs {
		if in.ParentChunkID != nil {
			var parentDoc int64
			var parentLevel int
			err := tx.QueryRow(ctx,
				`SELECT document_id, hierarchy_level FROM chunks WHERE id = $1`,
				*in.ParentChunkID,
			).Scan(&parentDoc, &parentLevel)
			if err != nil {
				return classify(err)
			}
			if parentDoc != docID {
				return fmt.Errorf("%w: parent chunk %d belongs to document %d",
					ErrIntegrityViolation, *in.ParentChunkID, parentDoc)
			}
			if parentLevel >= in.HierarchyLevel {
				return fmt.Errorf("%w: parent at level %d is not below level %d",
					ErrIntegrityViolation, parentLevel, in.HierarchyLevel)
			}
		}

		var vec any
		if vectors[i] != nil {
			vec = pgvector.NewVector(vectors[i])
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO chunks (document_id, content, embedding, start_char, end_char, hierarchy_level, parent_chunk_id)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			docID, in.Content, vec, in.StartChar, in.EndChar, in.HierarchyLevel, in.ParentChunkID,
		)
		if err != nil {
			return classify(err)
		}
	}
	return nil
}

// rebalanceCorpora recomputes both corpus counters after a document moved
// and marks every document of both corpora as needing a rebuild.
func rebalanceCorpora(ctx context.Context, tx pgx.Tx, oldCorpus, newCorpus string) error {
	for _, corpus := range []string{oldCorpus, newCorpus} {
		_, err := tx.Exec(ctx,
			`INSERT INTO index_configs (corpus_id, chunk_count)
			 VALUES ($1, 0)
			 ON CONFLICT (corpus_id) DO NOTHING`, corpus)
		if err != nil {
			return classify(err)
		}
		_, err = tx.Exec(ctx,
			`UPDATE index_configs SET chunk_count = (
			   SELECT count(*) FROM chunks c JOIN documents d ON d.id = c.document_id
			   WHERE d.corpus_id = $1
			 ) WHERE corpus_id = $1`, corpus)
		if err != nil {
			return classify(err)
		}
		_, err = tx.Exec(ctx,
			`UPDATE documents SET index_needed = TRUE WHERE corpus_id = $1`, corpus)
		if err != nil {
			return classify(err)
		}
	}
	return nil
}

// DeleteChunks removes the listed chunks of a document, or all of them when
// chunkIDs is empty, and refreshes the corpus counter. Cascade deletion of
// child chunks is accounted for by recounting.
func (s *Store) DeleteChunks(ctx context.Context, docID int64, chunkIDs []int64) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, classify(err)
	}
	defer tx.Rollback(ctx)

	if err := lockDocument(ctx, tx, docID); err != nil {
		return 0, err
	}

	corpusID, err := corpusOf(ctx, tx, docID)
	if err != nil {
		return 0, err
	}

	var before int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM chunks WHERE document_id = $1`, docID).Scan(&before); err != nil {
		return 0, classify(err)
	}

	if len(chunkIDs) == 0 {
		_, err = tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, docID)
	} else {
		_, err = tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1 AND id = ANY($2)`, docID, chunkIDs)
	}
	if err != nil {
		return 0, classify(err)
	}

	var after int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM chunks WHERE document_id = $1`, docID).Scan(&after); err != nil {
		return 0, classify(err)
	}

	if err := refreshCorpusCount(ctx, tx, corpusID); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, classify(err)
	}
	return before - after, nil
}

// DeleteDocument removes a document; chunk deletion cascades. The corpus
// counter is refreshed so the config reflects the remaining live chunks.
func (s *Store) DeleteDocument(ctx context.Context, docID int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback(ctx)

	if err := lockDocument(ctx, tx, docID); err != nil {
		return err
	}

	corpusID, err := corpusOf(ctx, tx, docID)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `DELETE FROM documents WHERE id = $1`, docID)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: document %d", ErrNotFound, docID)
	}

	if err := refreshCorpusCount(ctx, tx, corpusID); err != nil {
		return err
	}

	return classify(tx.Commit(ctx))
}

// GetDocument returns one document's metadata.
func (s *Store) GetDocument(ctx context.Context, docID int64) (*models.Document, error) {
	var doc models.Document
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, theme, document_type, publish_date, corpus_id, created_at, index_needed
		 FROM documents WHERE id = $1`, docID,
	).Scan(&doc.ID, &doc.Title, &doc.Theme, &doc.DocumentType,
		&doc.PublishDate, &doc.CorpusID, &doc.CreatedAt, &doc.IndexNeeded)
	if err != nil {
		return nil, classify(err)
	}
	return &doc, nil
}

// ListChunks returns a document's chunks in insertion order, without their
// vectors.
func (s *Store) ListChunks(ctx context.Context, docID int64) ([]models.Chunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, document_id, content, start_char, end_char, hierarchy_level, parent_chunk_id
		 FROM chunks WHERE document_id = $1 ORDER BY id`, docID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []models.Chunk
	for rows.Next() {
		var c models.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Content, &c.StartChar, &c.EndChar, &c.HierarchyLevel, &c.ParentChunkID); err != nil {
			return nil, classify(err)
		}
		out = append(out, c)
	}
	return out, classify(rows.Err())
}

// lockDocument serializes writers of one document for the transaction's
// lifetime.
func lockDocument(ctx context.Context, tx pgx.Tx, docID int64) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, docID)
	return classify(err)
}

func corpusOf(ctx context.Context, tx pgx.Tx, docID int64) (string, error) {
	var corpusID string
	err := tx.QueryRow(ctx, `SELECT corpus_id FROM documents WHERE id = $1`, docID).Scan(&corpusID)
	if err != nil {
		return "", classify(err)
	}
	return corpusID, nil
}

func refreshCorpusCount(ctx context.Context, tx pgx.Tx, corpusID string) error {
	_, err := tx.Exec(ctx,
		`UPDATE index_configs SET chunk_count = (
		   SELECT count(*) FROM chunks c JOIN documents d ON d.id = c.document_id
		   WHERE d.corpus_id = $1
		 ) WHERE corpus_id = $1`, corpusID)
	return classify(err)
}
