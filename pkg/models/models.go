// Package models defines the persistent and wire-level data structures shared
// across the ingestion, indexing and retrieval subsystems.
package models

import "time"

// Hierarchy levels of the chunk tree. Level 0 is the single document preview,
// level 3 is the fine-grained retrieval unit.
const (
	LevelDocument  = 0
	LevelSection   = 1
	LevelParagraph = 2
	LevelDetail    = 3
)

// Document is the metadata-only record owning a tree of chunks.
type Document struct {
	ID           int64      `json:"id"`
	Title        string     `json:"title"`
	Theme        string     `json:"theme"`
	DocumentType string     `json:"document_type"`
	PublishDate  *time.Time `json:"publish_date,omitempty"`
	CorpusID     string     `json:"corpus_id"`
	CreatedAt    time.Time  `json:"created_at"`
	IndexNeeded  bool       `json:"index_needed"`
}

// Chunk is the indexed unit of retrieval. ParentChunkID forms a forest within
// the owning document; the parent always sits at a strictly lower level.
type Chunk struct {
	ID             int64     `json:"id"`
	DocumentID     int64     `json:"document_id"`
	Content        string    `json:"content"`
	Embedding      []float32 `json:"-"`
	StartChar      int       `json:"start_char"`
	EndChar        int       `json:"end_char"`
	HierarchyLevel int       `json:"hierarchy_level"`
	ParentChunkID  *int64    `json:"parent_chunk_id,omitempty"`
}

// IndexConfig tracks the per-corpus ANN index state.
type IndexConfig struct {
	ID                int64      `json:"id"`
	CorpusID          string     `json:"corpus_id"`
	IndexType         string     `json:"index_type"`
	IsIndexed         bool       `json:"is_indexed"`
	ChunkCount        int        `json:"chunk_count"`
	LastIndexed       *time.Time `json:"last_indexed,omitempty"`
	IVFLists          int        `json:"ivf_lists"`
	HNSWM             int        `json:"hnsw_m"`
	HNSWEfConstruction int       `json:"hnsw_ef_construction"`
}

// Supported ANN index types.
const (
	IndexTypeIVFFlat = "ivfflat"
	IndexTypeHNSW    = "hnsw"
)

// SearchQuery is the append-only audit record for one search request. It has
// no referential constraints to chunks and survives document deletion.
type SearchQuery struct {
	ID              int64     `json:"id"`
	QueryText       string    `json:"query_text"`
	Theme           string    `json:"theme,omitempty"`
	DocumentType    string    `json:"document_type,omitempty"`
	CorpusID        string    `json:"corpus_id,omitempty"`
	ResultsCount    int       `json:"results_count"`
	ConfidenceLevel float64   `json:"confidence_level"`
	CreatedAt       time.Time `json:"created_at"`
	UserID          string    `json:"user_id,omitempty"`
}

// DocumentMeta carries the caller-supplied metadata for ingestion. A blank
// CorpusID means the store assigns a fresh one.
type DocumentMeta struct {
	Title        string     `json:"title"`
	Theme        string     `json:"theme"`
	DocumentType string     `json:"document_type"`
	PublishDate  *time.Time `json:"publish_date,omitempty"`
	CorpusID     string     `json:"corpus_id,omitempty"`
}

// IngestResult summarizes a completed document insertion.
type IngestResult struct {
	DocumentID  int64  `json:"document_id"`
	ChunkCount  int    `json:"chunk_count"`
	CorpusID    string `json:"corpus_id"`
	IndexNeeded bool   `json:"index_needed"`
}

// SearchRequest is the recognized option set for hybrid search. The filter
// set is closed: adding a predicate is a deliberate change to the SQL
// template, not a pass-through.
type SearchRequest struct {
	Query             string     `json:"query"`
	TopK              int        `json:"top_k"`
	Theme             string     `json:"theme,omitempty"`
	DocumentType      string     `json:"document_type,omitempty"`
	StartDate         *time.Time `json:"start_date,omitempty"`
	EndDate           *time.Time `json:"end_date,omitempty"`
	CorpusID          string     `json:"corpus_id,omitempty"`
	HierarchyLevel    *int       `json:"hierarchy_level,omitempty"`
	Hierarchical      bool       `json:"hierarchical,omitempty"`
	FilterByRelevance bool       `json:"filter_by_relevance,omitempty"`
	NormalizeScores   bool       `json:"normalize_scores,omitempty"`
	UserID            string     `json:"user_id,omitempty"`
}

// ChunkContext carries the hierarchical ancestors of a result chunk. Missing
// levels stay nil.
type ChunkContext struct {
	Level0 *Chunk `json:"level_0"`
	Level1 *Chunk `json:"level_1"`
	Level2 *Chunk `json:"level_2"`
}

// SearchResult is one scored retrieval hit.
type SearchResult struct {
	ChunkID        int64         `json:"chunk_id"`
	DocumentID     int64         `json:"document_id"`
	Title          string        `json:"title"`
	Content        string        `json:"content"`
	Theme          string        `json:"theme"`
	DocumentType   string        `json:"document_type"`
	PublishDate    *time.Time    `json:"publish_date,omitempty"`
	Score          float64       `json:"score"`
	HierarchyLevel int           `json:"hierarchy_level"`
	Context        *ChunkContext `json:"context,omitempty"`
}

// ScoreStats summarizes the score distribution backing a confidence decision.
type ScoreStats struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Avg    float64 `json:"avg"`
	Median float64 `json:"median"`
}

// Confidence is the post-hoc classification of a result set.
type Confidence struct {
	Level   float64    `json:"level"`
	Message string     `json:"message"`
	Stats   ScoreStats `json:"stats"`
}

// SearchResponse is the complete hybrid search answer.
type SearchResponse struct {
	Query        string         `json:"query"`
	TopK         int            `json:"top_k"`
	TotalResults int            `json:"total_results"`
	Results      []SearchResult `json:"results"`
	Confidence   Confidence     `json:"confidence"`
	Normalized   bool           `json:"normalized"`
	Message      string         `json:"message,omitempty"`
}

// IndexStatus reports the observable state of one corpus index.
type IndexStatus struct {
	CorpusID     string     `json:"corpus_id"`
	ConfigExists bool       `json:"config_exists"`
	IndexExists  bool       `json:"index_exists"`
	IsIndexed    bool       `json:"is_indexed"`
	IndexType    string     `json:"index_type,omitempty"`
	ChunkCount   int        `json:"chunk_count"`
	LiveChunks   int        `json:"live_chunks"`
	LastIndexed  *time.Time `json:"last_indexed,omitempty"`
}

// CleanupReport is the outcome of one orphan reclamation pass.
type CleanupReport struct {
	Status           string    `json:"status"`
	DeletedCount     int       `json:"deleted_count"`
	CleanedCorpusIDs []string  `json:"cleaned_corpus_ids"`
	Errors           []string  `json:"errors,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}
