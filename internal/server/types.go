package server

import (
	"iter"

	"github.com/WillIsback/clea-api/internal/chunking"
	"github.com/WillIsback/clea-api/pkg/models"
)

// IngestChunk is one caller-supplied chunk. ParentIndex refers to an earlier
// position in the same request, mirroring the segmenter's stream contract;
// -1 (or absence) means no parent.
type IngestChunk struct {
	Content        string `json:"content"`
	StartChar      int    `json:"start_char"`
	EndChar        int    `json:"end_char"`
	HierarchyLevel int    `json:"hierarchy_level"`
	ParentIndex    *int   `json:"parent_index,omitempty"`
}

// IngestRequest creates a document from inline text, pre-built chunks, or an
// object-storage key uploaded beforehand. Chunks take precedence over
// FileKey, and FileKey over Text; a request with none of them ingests an
// empty document holding only an empty root chunk.
type IngestRequest struct {
	Document  models.DocumentMeta `json:"document"`
	Text      string              `json:"text,omitempty"`
	Chunks    []IngestChunk       `json:"chunks,omitempty"`
	FileKey   string              `json:"file_key,omitempty"`
	Filename  string              `json:"filename,omitempty"`
	MaxLength int                 `json:"max_length,omitempty"`
}

// PreUploadRequest asks for a direct upload slot for one file.
type PreUploadRequest struct {
	Filename string `json:"filename"`
}

// PreUploadResponse carries the presigned URL and the file key to hand back
// to the ingest endpoint once the upload finished.
type PreUploadResponse struct {
	UploadURL string `json:"upload_url"`
	FileKey   string `json:"file_key"`
	ExpiresIn int64  `json:"expires_in"`
}

// UpdateRequest patches document metadata and optionally appends chunks with
// explicit parent chunk ids.
type UpdateRequest struct {
	Title        *string             `json:"title,omitempty"`
	Theme        *string             `json:"theme,omitempty"`
	DocumentType *string             `json:"document_type,omitempty"`
	CorpusID     *string             `json:"corpus_id,omitempty"`
	NewChunks    []AppendChunk       `json:"new_chunks,omitempty"`
}

// AppendChunk is an appended chunk referencing persisted parents.
type AppendChunk struct {
	Content        string `json:"content"`
	StartChar      int    `json:"start_char"`
	EndChar        int    `json:"end_char"`
	HierarchyLevel int    `json:"hierarchy_level"`
	ParentChunkID  *int64 `json:"parent_chunk_id,omitempty"`
}

// DeleteChunksRequest names the chunks to drop; an empty list drops them all.
type DeleteChunksRequest struct {
	ChunkIDs []int64 `json:"chunk_ids,omitempty"`
}

// IndexRequest targets one corpus.
type IndexRequest struct {
	CorpusID  string `json:"corpus_id"`
	IndexType string `json:"index_type,omitempty"`
}

// searchRequestBody wraps the engine request so an absent top_k can default
// to 10 while an explicit 0 still reaches the clamp.
type searchRequestBody struct {
	models.SearchRequest
	TopK *int `json:"top_k,omitempty"`
}

// errorResponse is the uniform error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// chunkSeq adapts caller-supplied chunks to the segmenter's stream shape.
func chunkSeq(chunks []IngestChunk) iter.Seq[chunking.Chunk] {
	return func(yield func(chunking.Chunk) bool) {
		for _, c := range chunks {
			parent := -1
			if c.ParentIndex != nil {
				parent = *c.ParentIndex
			}
			if !yield(chunking.Chunk{
				Content:        c.Content,
				StartChar:      c.StartChar,
				EndChar:        c.EndChar,
				HierarchyLevel: c.HierarchyLevel,
				ParentIndex:    parent,
			}) {
				return
			}
		}
	}
}
