package search

import (
	"context"
	"errors"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/WillIsback/clea-api/internal/clients/embedding"
	"github.com/WillIsback/clea-api/internal/clients/rerank"
	"github.com/WillIsback/clea-api/internal/index"
	"github.com/WillIsback/clea-api/internal/redis"
	"github.com/WillIsback/clea-api/internal/store"
	"github.com/WillIsback/clea-api/pkg/logger"
	"github.com/WillIsback/clea-api/pkg/models"
)

// ErrEmptyQuery rejects requests without query text.
var ErrEmptyQuery = errors.New("query cannot be empty")

// Request bounds and deadlines.
const (
	// DefaultTopK applies when a request leaves top_k unset.
	DefaultTopK = 10

	maxTopK        = 100
	expansionRatio = 3

	inferenceTimeout = 10 * time.Second
	auditTimeout     = 5 * time.Second
)

// Degraded-mode messages. Unlike the confidence wording these only annotate
// the response.
const (
	messageEmbedderDown = "Service d'embedding indisponible: recherche impossible"
	messageRerankerDown = "Reclassement indisponible: résultats ordonnés par distance vectorielle"
)

// CandidateFetcher is the slice of the store the engine reads candidates
// and parent chains from.
type CandidateFetcher interface {
	FetchCandidates(ctx context.Context, sql string, args []any) ([]store.Candidate, error)
	FetchParentChain(ctx context.Context, chunkID int64) (*models.ChunkContext, error)
	LogSearch(ctx context.Context, rec models.SearchQuery)
}

// IndexLocator resolves whether a corpus has a usable ANN projection.
type IndexLocator interface {
	CheckStatus(ctx context.Context, corpusID string) (*models.IndexStatus, error)
}

// Engine runs the hybrid retrieval pipeline. All dependencies are read-only
// at request time; one Engine serves concurrent requests.
type Engine struct {
	store      CandidateFetcher
	embedder   embedding.Embedder
	reranker   rerank.Reranker
	indexes    IndexLocator
	cache      *redis.CacheService
	logQueries bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache attaches the response/embedding cache.
func WithCache(cache *redis.CacheService) Option {
	return func(e *Engine) { e.cache = cache }
}

// WithQueryLogging toggles the best-effort audit trail.
func WithQueryLogging(enabled bool) Option {
	return func(e *Engine) { e.logQueries = enabled }
}

// NewEngine creates a search engine over its collaborators.
func NewEngine(st CandidateFetcher, embedder embedding.Embedder, reranker rerank.Reranker, indexes IndexLocator, opts ...Option) *Engine {
	e := &Engine{
		store:      st,
		embedder:   embedder,
		reranker:   reranker,
		indexes:    indexes,
		logQueries: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HybridSearch answers one retrieval request. The pipeline embeds the query
// once, selects candidates by cosine distance under the metadata predicates,
// reranks the expanded pool, normalizes and classifies scores, then
// optionally attaches the hierarchical context. Inference failures degrade
// the response instead of failing it.
func (e *Engine) HybridSearch(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	if req == nil || req.Query == "" {
		return nil, ErrEmptyQuery
	}

	topK := clampTopK(req.TopK)
	expanded := topK * expansionRatio

	if cached := e.cachedResponse(ctx, req); cached != nil {
		return cached, nil
	}

	queryVec, err := e.embedQuery(ctx, req.Query)
	if err != nil {
		logger.Get().Warn("query embedding failed", "error", err)
		resp := emptyResponse(req, topK, messageEmbedderDown)
		e.audit(req, resp)
		return resp, nil
	}

	projection := e.resolveProjection(ctx, req.CorpusID)

	sql, args := buildCandidateSQL(req, queryVec, projection, expanded, expanded)
	candidates, err := e.store.FetchCandidates(ctx, sql, args)
	if err != nil {
		return nil, err
	}

	if len(candidates) == 0 {
		resp := emptyResponse(req, topK, MessageOffDomain)
		e.audit(req, resp)
		return resp, nil
	}

	results, degraded := e.rerankCandidates(ctx, req.Query, candidates)

	normalized := false
	if req.NormalizeScores {
		scores := make([]float64, len(results))
		for i := range results {
			scores[i] = results[i].Score
		}
		for i, s := range NormalizeScores(scores) {
			results[i].Score = s
		}
		normalized = true
	}

	sortResults(results)

	confidence := Classify(topScores(results, topK))

	if req.FilterByRelevance {
		kept := results[:0]
		for _, r := range results {
			if r.Score >= MinRelevance {
				kept = append(kept, r)
			}
		}
		results = kept
	}

	if len(results) > topK {
		results = results[:topK]
	}

	if req.Hierarchical {
		if err := e.attachContext(ctx, results); err != nil {
			logger.Get().Warn("hierarchical enrichment failed", "error", err)
		}
	}

	resp := &models.SearchResponse{
		Query:        req.Query,
		TopK:         topK,
		TotalResults: len(results),
		Results:      results,
		Confidence:   confidence,
		Normalized:   normalized,
		Message:      degraded,
	}

	e.cacheResponse(ctx, req, resp)
	e.audit(req, resp)
	return resp, nil
}

// embedQuery embeds the query under its own deadline, going through the
// cache when one is attached.
func (e *Engine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if e.cache != nil {
		if vec, err := e.cache.GetQueryEmbedding(ctx, query); err == nil && vec != nil {
			return vec, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, inferenceTimeout)
	defer cancel()

	vec, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		_ = e.cache.CacheQueryEmbedding(ctx, query, vec)
	}
	return vec, nil
}

// resolveProjection returns the projection name when the request is corpus
// scoped and that corpus has a built index; otherwise the candidate query
// scans the chunks table.
func (e *Engine) resolveProjection(ctx context.Context, corpusID string) string {
	if corpusID == "" || e.indexes == nil {
		return ""
	}
	status, err := e.indexes.CheckStatus(ctx, corpusID)
	if err != nil {
		logger.Get().Warn("index status lookup failed", "corpus_id", corpusID, "error", err)
		return ""
	}
	if status.IsIndexed && status.IndexExists {
		return index.ProjectionName(corpusID)
	}
	return ""
}

// rerankCandidates scores the expanded pool with the cross encoder. When the
// reranker is down the distance ordering survives, with scores converted to
// cosine similarity, and the degraded-mode message is returned.
func (e *Engine) rerankCandidates(ctx context.Context, query string, candidates []store.Candidate) ([]models.SearchResult, string) {
	results := make([]models.SearchResult, len(candidates))
	passages := make([]string, len(candidates))
	for i, c := range candidates {
		passages[i] = c.Content
		results[i] = models.SearchResult{
			ChunkID:        c.ChunkID,
			DocumentID:     c.DocumentID,
			Title:          c.Title,
			Content:        c.Content,
			Theme:          c.Theme,
			DocumentType:   c.DocumentType,
			PublishDate:    c.PublishDate,
			HierarchyLevel: c.HierarchyLevel,
		}
	}

	rctx, cancel := context.WithTimeout(ctx, inferenceTimeout)
	defer cancel()

	scores, err := e.reranker.Score(rctx, query, passages)
	if err != nil {
		logger.Get().Warn("reranking failed, keeping distance order", "error", err)
		for i, c := range candidates {
			results[i].Score = 1 - c.Distance
		}
		return results, messageRerankerDown
	}

	for i := range results {
		results[i].Score = scores[i]
	}
	return results, ""
}

// attachContext populates each result's hierarchical ancestors.
func (e *Engine) attachContext(ctx context.Context, results []models.SearchResult) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range results {
		g.Go(func() error {
			chain, err := e.store.FetchParentChain(gctx, results[i].ChunkID)
			if err != nil {
				return err
			}
			results[i].Context = chain
			return nil
		})
	}
	return g.Wait()
}

// audit fires the best-effort search log on a detached context so it can
// never block or fail the response.
func (e *Engine) audit(req *models.SearchRequest, resp *models.SearchResponse) {
	if !e.logQueries {
		return
	}

	rec := models.SearchQuery{
		QueryText:       req.Query,
		Theme:           req.Theme,
		DocumentType:    req.DocumentType,
		CorpusID:        req.CorpusID,
		ResultsCount:    resp.TotalResults,
		ConfidenceLevel: resp.Confidence.Level,
		UserID:          req.UserID,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
		defer cancel()
		e.store.LogSearch(ctx, rec)
	}()
}

func (e *Engine) cachedResponse(ctx context.Context, req *models.SearchRequest) *models.SearchResponse {
	if e.cache == nil {
		return nil
	}
	resp, err := e.cache.GetSearchResponse(ctx, redis.Fingerprint(req))
	if err != nil {
		return nil
	}
	return resp
}

func (e *Engine) cacheResponse(ctx context.Context, req *models.SearchRequest, resp *models.SearchResponse) {
	if e.cache == nil {
		return
	}
	_ = e.cache.CacheSearchResponse(ctx, redis.Fingerprint(req), resp)
}

// sortResults orders by descending score; equal scores break toward the
// lower chunk id.
func sortResults(results []models.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
}

// topScores extracts the first k scores after sorting.
func topScores(results []models.SearchResult, k int) []float64 {
	if len(results) < k {
		k = len(results)
	}
	scores := make([]float64, k)
	for i := 0; i < k; i++ {
		scores[i] = results[i].Score
	}
	return scores
}

// emptyResponse carries the off-domain confidence plus an explanatory
// message.
func emptyResponse(req *models.SearchRequest, topK int, message string) *models.SearchResponse {
	return &models.SearchResponse{
		Query:        req.Query,
		TopK:         topK,
		TotalResults: 0,
		Results:      []models.SearchResult{},
		Confidence: models.Confidence{
			Level:   LevelOffDomain,
			Message: MessageOffDomain,
		},
		Message: message,
	}
}

func clampTopK(topK int) int {
	if topK < 1 {
		return 1
	}
	if topK > maxTopK {
		return maxTopK
	}
	return topK
}
