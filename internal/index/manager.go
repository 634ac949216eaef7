// Package index manages the per-corpus ANN index lifecycle: materialized
// projections, IVFFLAT/HNSW index creation, staleness tracking and orphan
// reclamation.
package index

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"github.com/WillIsback/clea-api/internal/store"
	"github.com/WillIsback/clea-api/pkg/logger"
	"github.com/WillIsback/clea-api/pkg/models"
)

// Idempotency signals. They mark states, not faults: creating an index that
// exists or dropping one that does not is harmless.
var (
	ErrIndexExists  = errors.New("index already exists")
	ErrIndexMissing = errors.New("index does not exist")
)

// ErrInvalidCorpusID rejects corpus identifiers that cannot safely embed in
// object names.
var ErrInvalidCorpusID = errors.New("invalid corpus id")

// Creation statuses.
const (
	StatusCreated = "created"
	StatusExists  = "exists"
	StatusDropped = "dropped"
	StatusWarning = "warning"
)

// Index parameter bounds.
const (
	maxIVFLists               = 1000
	defaultHNSWM              = 16
	defaultHNSWEfConstruction = 64
)

// corpusIDPattern is the only shape of corpus id accepted for DDL: the
// 36-char opaque identifiers handed out at ingestion, or shorter test ids.
var corpusIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,36}$`)

// Manager drives the ANN lifecycle against the store's pool.
type Manager struct {
	store *store.Store
}

// NewManager creates an index manager over the given store.
func NewManager(st *store.Store) *Manager {
	return &Manager{store: st}
}

// CreateResult reports the outcome of an index creation.
type CreateResult struct {
	Status           string `json:"status"`
	IndexType        string `json:"index_type,omitempty"`
	Lists            int    `json:"lists,omitempty"`
	DocumentsUpdated int    `json:"documents_updated"`
	ProjectionName   string `json:"projection_name,omitempty"`
}

// DropResult reports the outcome of an index drop.
type DropResult struct {
	Status         string `json:"status"`
	ProjectionName string `json:"projection_name,omitempty"`
}

// SanitizeCorpusID maps a corpus id onto an identifier-safe fragment for
// object names. Names are stable and derivable from the id alone.
func SanitizeCorpusID(corpusID string) string {
	var b strings.Builder
	for _, r := range corpusID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// ProjectionName returns the materialized projection name for a corpus.
func ProjectionName(corpusID string) string {
	return "proj_" + SanitizeCorpusID(corpusID)
}

// IndexName returns the ANN index name for a corpus.
func IndexName(corpusID string) string {
	return "idx_vector_" + SanitizeCorpusID(corpusID)
}

// IVFLists derives the IVFFLAT list count from the live chunk count:
// round(sqrt(n)) clamped to [1, 1000].
func IVFLists(chunkCount int) int {
	lists := int(math.Round(math.Sqrt(float64(chunkCount))))
	if lists < 1 {
		lists = 1
	}
	if lists > maxIVFLists {
		lists = maxIVFLists
	}
	return lists
}

// CreateSimpleIndex builds an IVFFLAT cosine index for the corpus over a
// fresh materialized projection. An existing index returns StatusExists
// without side effects.
func (m *Manager) CreateSimpleIndex(ctx context.Context, corpusID string) (*CreateResult, error) {
	return m.CreateIndex(ctx, corpusID, models.IndexTypeIVFFlat)
}

// CreateIndex builds an index of the requested type (ivfflat or hnsw) with
// the same lifecycle. Creation serializes per corpus through an advisory
// lock so concurrent builds cannot race.
func (m *Manager) CreateIndex(ctx context.Context, corpusID, indexType string) (*CreateResult, error) {
	if !corpusIDPattern.MatchString(corpusID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCorpusID, corpusID)
	}
	if indexType != models.IndexTypeIVFFlat && indexType != models.IndexTypeHNSW {
		return nil, fmt.Errorf("unsupported index type %q", indexType)
	}

	tx, err := m.store.Pool().Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := lockCorpus(ctx, tx, corpusID); err != nil {
		return nil, err
	}

	projection := ProjectionName(corpusID)

	exists, err := projectionExists(ctx, tx, projection)
	if err != nil {
		return nil, err
	}
	var indexed bool
	err = tx.QueryRow(ctx,
		`SELECT is_indexed FROM index_configs WHERE corpus_id = $1`, corpusID,
	).Scan(&indexed)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if exists && indexed {
		return &CreateResult{Status: StatusExists, ProjectionName: projection}, nil
	}

	var liveChunks int
	err = tx.QueryRow(ctx,
		`SELECT count(*) FROM chunks c JOIN documents d ON d.id = c.document_id WHERE d.corpus_id = $1`,
		corpusID,
	).Scan(&liveChunks)
	if err != nil {
		return nil, err
	}

	lists := IVFLists(liveChunks)

	// Object names derive from the validated corpus id; the projection body
	// needs the id as a literal, which DDL cannot bind, so it is inlined
	// after the pattern check above.
	drop := fmt.Sprintf(`DROP MATERIALIZED VIEW IF EXISTS %s CASCADE`, projection)
	if _, err := tx.Exec(ctx, drop); err != nil {
		return nil, err
	}

	create := fmt.Sprintf(
		`CREATE MATERIALIZED VIEW %s AS
		 SELECT c.id AS chunk_id, c.embedding
		 FROM chunks c JOIN documents d ON d.id = c.document_id
		 WHERE d.corpus_id = '%s' AND c.embedding IS NOT NULL`,
		projection, corpusID,
	)
	if _, err := tx.Exec(ctx, create); err != nil {
		return nil, err
	}

	var indexDDL string
	switch indexType {
	case models.IndexTypeHNSW:
		indexDDL = fmt.Sprintf(
			`CREATE INDEX %s ON %s USING hnsw (embedding vector_cosine_ops) WITH (m = %d, ef_construction = %d)`,
			IndexName(corpusID), projection, defaultHNSWM, defaultHNSWEfConstruction,
		)
	default:
		indexDDL = fmt.Sprintf(
			`CREATE INDEX %s ON %s USING ivfflat (embedding vector_cosine_ops) WITH (lists = %d)`,
			IndexName(corpusID), projection, lists,
		)
	}
	if _, err := tx.Exec(ctx, indexDDL); err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE documents SET index_needed = FALSE WHERE corpus_id = $1`, corpusID)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO index_configs (corpus_id, index_type, is_indexed, chunk_count, last_indexed, ivf_lists, hnsw_m, hnsw_ef_construction)
		 VALUES ($1, $2, TRUE, $3, now(), $4, $5, $6)
		 ON CONFLICT (corpus_id) DO UPDATE SET
		   index_type = EXCLUDED.index_type,
		   is_indexed = TRUE,
		   chunk_count = EXCLUDED.chunk_count,
		   last_indexed = now(),
		   ivf_lists = EXCLUDED.ivf_lists`,
		corpusID, indexType, liveChunks, lists, defaultHNSWM, defaultHNSWEfConstruction,
	)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	logger.Get().Info("corpus index created",
		"corpus_id", corpusID,
		"index_type", indexType,
		"chunks", liveChunks,
		"lists", lists,
	)

	return &CreateResult{
		Status:           StatusCreated,
		IndexType:        indexType,
		Lists:            lists,
		DocumentsUpdated: int(tag.RowsAffected()),
		ProjectionName:   projection,
	}, nil
}

// DropIndex removes the corpus projection and index. A missing projection
// returns StatusWarning instead of failing.
func (m *Manager) DropIndex(ctx context.Context, corpusID string) (*DropResult, error) {
	if !corpusIDPattern.MatchString(corpusID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCorpusID, corpusID)
	}

	tx, err := m.store.Pool().Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := lockCorpus(ctx, tx, corpusID); err != nil {
		return nil, err
	}

	projection := ProjectionName(corpusID)
	exists, err := projectionExists(ctx, tx, projection)
	if err != nil {
		return nil, err
	}

	if exists {
		drop := fmt.Sprintf(`DROP MATERIALIZED VIEW IF EXISTS %s CASCADE`, projection)
		if _, err := tx.Exec(ctx, drop); err != nil {
			return nil, err
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE index_configs SET is_indexed = FALSE WHERE corpus_id = $1`, corpusID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	status := StatusDropped
	if !exists {
		status = StatusWarning
	}
	return &DropResult{Status: status, ProjectionName: projection}, nil
}

// CheckStatus reports the observable index state of one corpus.
func (m *Manager) CheckStatus(ctx context.Context, corpusID string) (*models.IndexStatus, error) {
	if !corpusIDPattern.MatchString(corpusID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCorpusID, corpusID)
	}

	status := &models.IndexStatus{CorpusID: corpusID}
	pool := m.store.Pool()

	err := pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_matviews WHERE matviewname = $1)`,
		ProjectionName(corpusID),
	).Scan(&status.IndexExists)
	if err != nil {
		return nil, err
	}

	var cfg models.IndexConfig
	err = pool.QueryRow(ctx,
		`SELECT index_type, is_indexed, chunk_count, last_indexed
		 FROM index_configs WHERE corpus_id = $1`, corpusID,
	).Scan(&cfg.IndexType, &cfg.IsIndexed, &cfg.ChunkCount, &cfg.LastIndexed)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// No config: the corpus was never counted.
	case err != nil:
		return nil, err
	default:
		status.ConfigExists = true
		status.IsIndexed = cfg.IsIndexed
		status.IndexType = cfg.IndexType
		status.ChunkCount = cfg.ChunkCount
		status.LastIndexed = cfg.LastIndexed
	}

	err = pool.QueryRow(ctx,
		`SELECT count(*) FROM chunks c JOIN documents d ON d.id = c.document_id WHERE d.corpus_id = $1`,
		corpusID,
	).Scan(&status.LiveChunks)
	if err != nil {
		return nil, err
	}

	return status, nil
}

// CheckAll reports the status of every known corpus: those with a config row
// plus those only present on documents.
func (m *Manager) CheckAll(ctx context.Context) ([]models.IndexStatus, error) {
	rows, err := m.store.Pool().Query(ctx,
		`SELECT corpus_id FROM index_configs
		 UNION
		 SELECT DISTINCT corpus_id FROM documents
		 ORDER BY corpus_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var corpora []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		corpora = append(corpora, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]models.IndexStatus, len(corpora))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, corpusID := range corpora {
		g.Go(func() error {
			status, err := m.CheckStatus(gctx, corpusID)
			if err != nil {
				return err
			}
			out[i] = *status
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// CleanOrphans deletes index configurations whose corpus has no remaining
// documents, dropping the projection and index first. Partial failures are
// collected rather than aborting the pass.
func (m *Manager) CleanOrphans(ctx context.Context) (*models.CleanupReport, error) {
	report := &models.CleanupReport{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
	}

	rows, err := m.store.Pool().Query(ctx,
		`SELECT ic.corpus_id FROM index_configs ic
		 WHERE NOT EXISTS (SELECT 1 FROM documents d WHERE d.corpus_id = ic.corpus_id)
		 ORDER BY ic.corpus_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orphans []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		orphans = append(orphans, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, corpusID := range orphans {
		if err := m.reclaimCorpus(ctx, corpusID); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", corpusID, err))
			continue
		}
		report.DeletedCount++
		report.CleanedCorpusIDs = append(report.CleanedCorpusIDs, corpusID)
	}

	if len(report.Errors) > 0 {
		report.Status = "partial_success"
	}
	return report, nil
}

// reclaimCorpus drops one orphaned corpus's projection and config in a
// single short transaction.
func (m *Manager) reclaimCorpus(ctx context.Context, corpusID string) error {
	if !corpusIDPattern.MatchString(corpusID) {
		return fmt.Errorf("%w: %q", ErrInvalidCorpusID, corpusID)
	}

	tx, err := m.store.Pool().Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := lockCorpus(ctx, tx, corpusID); err != nil {
		return err
	}

	drop := fmt.Sprintf(`DROP MATERIALIZED VIEW IF EXISTS %s CASCADE`, ProjectionName(corpusID))
	if _, err := tx.Exec(ctx, drop); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM index_configs WHERE corpus_id = $1`, corpusID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// lockCorpus serializes index operations on one corpus for the transaction's
// lifetime.
func lockCorpus(ctx context.Context, tx pgx.Tx, corpusID string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, corpusID)
	return err
}

func projectionExists(ctx context.Context, tx pgx.Tx, projection string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_matviews WHERE matviewname = $1)`, projection,
	).Scan(&exists)
	return exists, err
}
