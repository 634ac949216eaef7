package search

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WillIsback/clea-api/internal/clients/base"
	"github.com/WillIsback/clea-api/internal/store"
	"github.com/WillIsback/clea-api/pkg/models"
)

// fakeStore serves canned candidates and records audit writes.
type fakeStore struct {
	mu         sync.Mutex
	candidates []store.Candidate
	fetchErr   error
	lastSQL    string
	lastArgs   []any
	audits     []models.SearchQuery
}

func (f *fakeStore) FetchCandidates(_ context.Context, sql string, args []any) ([]store.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSQL = sql
	f.lastArgs = args
	return f.candidates, f.fetchErr
}

func (f *fakeStore) FetchParentChain(_ context.Context, chunkID int64) (*models.ChunkContext, error) {
	return &models.ChunkContext{
		Level0: &models.Chunk{ID: chunkID + 1000, HierarchyLevel: 0, Content: "aperçu"},
	}, nil
}

func (f *fakeStore) LogSearch(_ context.Context, rec models.SearchQuery) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audits = append(f.audits, rec)
}

func (f *fakeStore) auditCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.audits)
}

type fakeEmbedder struct{ err error }

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, 768)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// fakeReranker scores passages by their recorded order, descending from a
// base, or fails.
type fakeReranker struct {
	err    error
	scores []float64
}

func (f *fakeReranker) Score(_ context.Context, _ string, passages []string) ([]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.scores != nil {
		return f.scores[:len(passages)], nil
	}
	out := make([]float64, len(passages))
	for i := range passages {
		out[i] = float64(len(passages) - i)
	}
	return out, nil
}

type fakeIndexes struct{ indexed bool }

func (f *fakeIndexes) CheckStatus(_ context.Context, corpusID string) (*models.IndexStatus, error) {
	return &models.IndexStatus{
		CorpusID:    corpusID,
		IsIndexed:   f.indexed,
		IndexExists: f.indexed,
	}, nil
}

func candidateFixture(n int) []store.Candidate {
	out := make([]store.Candidate, n)
	for i := range out {
		out[i] = store.Candidate{
			ChunkID:        int64(i + 1),
			DocumentID:     1,
			Content:        "contenu",
			HierarchyLevel: 3,
			Title:          "doc",
			Theme:          "RSE",
			Distance:       float64(i) / 100,
		}
	}
	return out
}

func waitForAudit(t *testing.T, fs *fakeStore) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fs.auditCount() > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("audit record never arrived")
}

func TestHybridSearchHappyPath(t *testing.T) {
	fs := &fakeStore{candidates: candidateFixture(15)}
	engine := NewEngine(fs, &fakeEmbedder{}, &fakeReranker{}, &fakeIndexes{})

	resp, err := engine.HybridSearch(context.Background(), &models.SearchRequest{
		Query: "analyse risques climatiques",
		TopK:  5,
		Theme: "RSE",
	})
	require.NoError(t, err)

	assert.Equal(t, 5, resp.TopK)
	assert.Len(t, resp.Results, 5)
	assert.Empty(t, resp.Message)
	// The reranker scores candidate 0 highest.
	assert.Equal(t, int64(1), resp.Results[0].ChunkID)
	for i := 1; i < len(resp.Results); i++ {
		assert.LessOrEqual(t, resp.Results[i].Score, resp.Results[i-1].Score)
	}

	// The candidate SQL binds the theme filter and both limits.
	assert.Contains(t, fs.lastSQL, "d.theme =")
	assert.Contains(t, fs.lastSQL, "<=>")
	assert.NotContains(t, fs.lastSQL, "RSE", "filter values must be bound, not interpolated")

	waitForAudit(t, fs)
	assert.Equal(t, "analyse risques climatiques", fs.audits[0].QueryText)
	assert.Equal(t, 5, fs.audits[0].ResultsCount)
}

func TestHybridSearchEmptyQuery(t *testing.T) {
	engine := NewEngine(&fakeStore{}, &fakeEmbedder{}, &fakeReranker{}, &fakeIndexes{})
	_, err := engine.HybridSearch(context.Background(), &models.SearchRequest{})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestHybridSearchZeroRows(t *testing.T) {
	fs := &fakeStore{}
	engine := NewEngine(fs, &fakeEmbedder{}, &fakeReranker{}, &fakeIndexes{})

	resp, err := engine.HybridSearch(context.Background(), &models.SearchRequest{
		Query: "sujet totalement inconnu",
		TopK:  5,
	})
	require.NoError(t, err)

	assert.Empty(t, resp.Results)
	assert.Equal(t, LevelOffDomain, resp.Confidence.Level)
	assert.Equal(t, "Requête probablement hors du domaine de connaissances", resp.Confidence.Message)
}

func TestHybridSearchEmbedderDown(t *testing.T) {
	fs := &fakeStore{candidates: candidateFixture(5)}
	engine := NewEngine(fs, &fakeEmbedder{err: base.ErrModelUnavailable}, &fakeReranker{}, &fakeIndexes{})

	resp, err := engine.HybridSearch(context.Background(), &models.SearchRequest{
		Query: "peu importe",
	})
	require.NoError(t, err, "search must degrade, not fail")

	assert.Empty(t, resp.Results)
	assert.Equal(t, LevelOffDomain, resp.Confidence.Level)
	assert.Contains(t, resp.Message, "indisponible")
}

func TestHybridSearchRerankerDown(t *testing.T) {
	fs := &fakeStore{candidates: candidateFixture(6)}
	engine := NewEngine(fs, &fakeEmbedder{}, &fakeReranker{err: errors.New("boom")}, &fakeIndexes{})

	resp, err := engine.HybridSearch(context.Background(), &models.SearchRequest{
		Query: "requête",
		TopK:  3,
	})
	require.NoError(t, err)

	assert.Len(t, resp.Results, 3)
	assert.Contains(t, resp.Message, "distance")
	// Distance order survives: chunk 1 has the smallest distance.
	assert.Equal(t, int64(1), resp.Results[0].ChunkID)
}

func TestHybridSearchTopKClamping(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{0, 1},
		{-3, 1},
		{50, 50},
		{1000, 100},
	}
	for _, tt := range tests {
		fs := &fakeStore{}
		engine := NewEngine(fs, &fakeEmbedder{}, &fakeReranker{}, &fakeIndexes{})
		resp, err := engine.HybridSearch(context.Background(), &models.SearchRequest{
			Query: "q", TopK: tt.in,
		})
		require.NoError(t, err)
		assert.Equal(t, tt.want, resp.TopK, "top_k %d", tt.in)
	}
}

func TestHybridSearchRelevanceFilter(t *testing.T) {
	fs := &fakeStore{candidates: candidateFixture(4)}
	engine := NewEngine(fs, &fakeEmbedder{}, &fakeReranker{scores: []float64{0.9, 0.2, 0.8, 0.1}}, &fakeIndexes{})

	resp, err := engine.HybridSearch(context.Background(), &models.SearchRequest{
		Query:             "q",
		TopK:              10,
		FilterByRelevance: true,
	})
	require.NoError(t, err)

	assert.Len(t, resp.Results, 2)
	for _, r := range resp.Results {
		assert.GreaterOrEqual(t, r.Score, MinRelevance)
	}
}

func TestHybridSearchNormalization(t *testing.T) {
	fs := &fakeStore{candidates: candidateFixture(3)}
	engine := NewEngine(fs, &fakeEmbedder{}, &fakeReranker{scores: []float64{5, 5, 5}}, &fakeIndexes{})

	resp, err := engine.HybridSearch(context.Background(), &models.SearchRequest{
		Query:           "q",
		TopK:            3,
		NormalizeScores: true,
	})
	require.NoError(t, err)

	require.True(t, resp.Normalized)
	for _, r := range resp.Results {
		assert.Equal(t, 0.5, r.Score, "equal raw scores collapse to 0.5")
	}
}

func TestHybridSearchTieBreaksOnChunkID(t *testing.T) {
	fs := &fakeStore{candidates: candidateFixture(4)}
	engine := NewEngine(fs, &fakeEmbedder{}, &fakeReranker{scores: []float64{1, 1, 1, 1}}, &fakeIndexes{})

	resp, err := engine.HybridSearch(context.Background(), &models.SearchRequest{
		Query: "q", TopK: 4,
	})
	require.NoError(t, err)

	for i := 1; i < len(resp.Results); i++ {
		assert.Less(t, resp.Results[i-1].ChunkID, resp.Results[i].ChunkID)
	}
}

func TestHybridSearchHierarchicalEnrichment(t *testing.T) {
	fs := &fakeStore{candidates: candidateFixture(3)}
	engine := NewEngine(fs, &fakeEmbedder{}, &fakeReranker{}, &fakeIndexes{})

	resp, err := engine.HybridSearch(context.Background(), &models.SearchRequest{
		Query:        "q",
		TopK:         3,
		Hierarchical: true,
	})
	require.NoError(t, err)

	for _, r := range resp.Results {
		require.NotNil(t, r.Context)
		require.NotNil(t, r.Context.Level0)
		assert.Equal(t, "aperçu", r.Context.Level0.Content)
		assert.Nil(t, r.Context.Level1)
	}
}

func TestHybridSearchUsesProjectionWhenIndexed(t *testing.T) {
	fs := &fakeStore{candidates: candidateFixture(2)}
	engine := NewEngine(fs, &fakeEmbedder{}, &fakeReranker{}, &fakeIndexes{indexed: true})

	_, err := engine.HybridSearch(context.Background(), &models.SearchRequest{
		Query:    "q",
		CorpusID: "abc123",
	})
	require.NoError(t, err)
	assert.Contains(t, fs.lastSQL, "proj_abc123")

	// Without an index the same request scans the chunks table.
	fs2 := &fakeStore{candidates: candidateFixture(2)}
	engine2 := NewEngine(fs2, &fakeEmbedder{}, &fakeReranker{}, &fakeIndexes{indexed: false})
	_, err = engine2.HybridSearch(context.Background(), &models.SearchRequest{
		Query:    "q",
		CorpusID: "abc123",
	})
	require.NoError(t, err)
	assert.NotContains(t, fs2.lastSQL, "proj_abc123")
}

func TestHybridSearchAuditDisabled(t *testing.T) {
	fs := &fakeStore{candidates: candidateFixture(2)}
	engine := NewEngine(fs, &fakeEmbedder{}, &fakeReranker{}, &fakeIndexes{}, WithQueryLogging(false))

	_, err := engine.HybridSearch(context.Background(), &models.SearchRequest{Query: "q"})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, fs.auditCount())
}

func TestBuildCandidateSQLClosedFilterSet(t *testing.T) {
	now := time.Now()
	lvl := 3
	req := &models.SearchRequest{
		Query:          "q",
		Theme:          "RSE",
		DocumentType:   "rapport",
		StartDate:      &now,
		EndDate:        &now,
		CorpusID:       "c1",
		HierarchyLevel: &lvl,
	}
	sql, args := buildCandidateSQL(req, make([]float32, 768), "", 30, 30)

	// Vector + six predicates + two limits.
	assert.Len(t, args, 9)
	for _, fragment := range []string{
		"d.theme =", "d.document_type =", "d.publish_date >=",
		"d.publish_date <=", "d.corpus_id =", "c.hierarchy_level =",
	} {
		assert.Contains(t, sql, fragment)
	}
	assert.False(t, strings.Contains(sql, "RSE") || strings.Contains(sql, "rapport"),
		"literal values must never appear in the SQL text")
}
