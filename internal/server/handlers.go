package server

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/WillIsback/clea-api/internal/chunking"
	"github.com/WillIsback/clea-api/internal/config"
	"github.com/WillIsback/clea-api/internal/extract"
	"github.com/WillIsback/clea-api/internal/index"
	"github.com/WillIsback/clea-api/internal/search"
	"github.com/WillIsback/clea-api/internal/storage"
	"github.com/WillIsback/clea-api/internal/store"
	"github.com/WillIsback/clea-api/internal/utils"
	"github.com/WillIsback/clea-api/pkg/logger"
	"github.com/WillIsback/clea-api/pkg/models"
)

// Server holds the request handlers' collaborators.
type Server struct {
	store   *store.Store
	engine  *search.Engine
	indexes *index.Manager
	objects storage.ObjectStorage
	cfg     *config.Config
}

// NewServer assembles the HTTP-facing service.
func NewServer(st *store.Store, engine *search.Engine, indexes *index.Manager, objects storage.ObjectStorage, cfg *config.Config) *Server {
	return &Server{
		store:   st,
		engine:  engine,
		indexes: indexes,
		objects: objects,
		cfg:     cfg,
	}
}

// Routes registers every endpoint on a fresh mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/documents", s.handleIngest)
	mux.HandleFunc("POST /api/v1/documents/preupload", s.handlePreUpload)
	mux.HandleFunc("GET /api/v1/documents/{id}", s.handleGetDocument)
	mux.HandleFunc("PUT /api/v1/documents/{id}", s.handleUpdateDocument)
	mux.HandleFunc("DELETE /api/v1/documents/{id}", s.handleDeleteDocument)
	mux.HandleFunc("DELETE /api/v1/documents/{id}/chunks", s.handleDeleteChunks)

	mux.HandleFunc("POST /api/v1/search", s.handleSearch)

	mux.HandleFunc("POST /api/v1/indexes/create", s.handleCreateIndex)
	mux.HandleFunc("POST /api/v1/indexes/drop", s.handleDropIndex)
	mux.HandleFunc("GET /api/v1/indexes/status", s.handleIndexStatus)

	mux.HandleFunc("GET /healthz", s.handleHealth)

	return mux
}

// handleIngest creates a document from inline text, caller-built chunks or
// an uploaded object, runs segmentation when needed, and persists everything
// in one transaction.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if !s.decode(w, r, &req) {
		return
	}

	maxLength := req.MaxLength
	if maxLength <= 0 {
		maxLength = s.cfg.Segmentation.MaxLength
	}

	var (
		stream  func(func(chunking.Chunk) bool)
		rawText string
	)
	if len(req.Chunks) > 0 {
		stream = chunkSeq(req.Chunks)
	} else {
		text, err := s.resolveText(r, &req)
		if err != nil {
			s.fail(w, err)
			return
		}
		if len(text) > chunking.LargeThresholdBytes {
			logger.Get().Info("large document accepted",
				"bytes", len(text),
				"title", req.Document.Title,
			)
		}
		seq, err := chunking.Stream(text, maxLength)
		if err != nil {
			s.fail(w, err)
			return
		}
		stream = seq
		if req.FileKey == "" {
			rawText = text
		}
	}

	result, err := s.store.AddDocumentWithChunks(r.Context(), req.Document, stream, store.DefaultBatchSize)
	if err != nil {
		s.fail(w, err)
		return
	}

	if rawText != "" {
		s.archiveSource(r, result.DocumentID, rawText)
	}

	logger.Get().Info("document ingested",
		"document_id", result.DocumentID,
		"corpus_id", result.CorpusID,
		"chunks", result.ChunkCount,
	)
	s.respond(w, http.StatusCreated, result)
}

// handlePreUpload issues a time-limited direct upload URL so large files
// bypass the API body; the returned file_key then feeds the ingest endpoint.
func (s *Server) handlePreUpload(w http.ResponseWriter, r *http.Request) {
	var req PreUploadRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Filename == "" {
		s.respondError(w, http.StatusBadRequest, "filename is required")
		return
	}

	objectKey, err := generateObjectKey(req.Filename)
	if err != nil {
		s.fail(w, err)
		return
	}

	expires := 15 * time.Minute
	uploadURL, err := s.objects.PresignedUploadURL(r.Context(), objectKey, expires)
	if err != nil {
		s.fail(w, err)
		return
	}

	s.respond(w, http.StatusOK, PreUploadResponse{
		UploadURL: uploadURL,
		FileKey:   objectKey,
		ExpiresIn: int64(expires.Seconds()),
	})
}

// archiveSource keeps the raw text of an inline ingest alongside the chunked
// form, best-effort; ingests from a file key already have their source
// object.
func (s *Server) archiveSource(r *http.Request, docID int64, text string) {
	key := archiveKey(docID)
	err := s.objects.Upload(r.Context(), key, strings.NewReader(text), int64(len(text)), "text/plain")
	if err != nil {
		logger.Get().Warn("source archive failed", "document_id", docID, "error", err)
	}
}

func archiveKey(docID int64) string {
	return fmt.Sprintf("raw/%d.txt", docID)
}

// generateObjectKey builds a unique object key for an upload:
// {timestamp}_{random}_{filename}.
func generateObjectKey(filename string) (string, error) {
	randomBytes := make([]byte, 16)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return fmt.Sprintf("%d_%s_%s", time.Now().Unix(), hex.EncodeToString(randomBytes), filename), nil
}

// resolveText returns the raw text of an ingest request, downloading and
// normalizing an uploaded object when a file key is given.
func (s *Server) resolveText(r *http.Request, req *IngestRequest) (string, error) {
	if req.FileKey == "" {
		return req.Text, nil
	}

	exists, err := s.objects.Exists(r.Context(), req.FileKey)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("%w: object %s", store.ErrNotFound, req.FileKey)
	}

	obj, err := s.objects.Download(r.Context(), req.FileKey)
	if err != nil {
		return "", err
	}
	defer obj.Close()

	// One byte past the cap is enough to detect oversize input.
	data, err := io.ReadAll(io.LimitReader(obj, chunking.MaxTextLength+1))
	if err != nil {
		return "", fmt.Errorf("failed to read object %s: %w", req.FileKey, err)
	}

	text := utils.SanitizeUTF8(string(data))
	name := req.Filename
	if name == "" {
		name = req.FileKey
	}
	if extract.IsMarkdownFile(name) {
		text = extract.MarkdownToText(text)
	}
	return text, nil
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	doc, err := s.store.GetDocument(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	chunks, err := s.store.ListChunks(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}

	s.respond(w, http.StatusOK, map[string]any{
		"document": doc,
		"chunks":   chunks,
	})
}

func (s *Server) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	var req UpdateRequest
	if !s.decode(w, r, &req) {
		return
	}

	patch := store.DocumentPatch{
		Title:        req.Title,
		Theme:        req.Theme,
		DocumentType: req.DocumentType,
		CorpusID:     req.CorpusID,
	}
	inputs := make([]store.ChunkInput, len(req.NewChunks))
	for i, c := range req.NewChunks {
		inputs[i] = store.ChunkInput{
			Content:        c.Content,
			StartChar:      c.StartChar,
			EndChar:        c.EndChar,
			HierarchyLevel: c.HierarchyLevel,
			ParentChunkID:  c.ParentChunkID,
		}
	}

	doc, err := s.store.UpdateDocument(r.Context(), id, patch, inputs)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteDocument(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	if err := s.objects.Delete(r.Context(), archiveKey(id)); err != nil {
		logger.Get().Warn("source archive cleanup failed", "document_id", id, "error", err)
	}
	s.respond(w, http.StatusOK, map[string]any{"deleted": id})
}

func (s *Server) handleDeleteChunks(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	var req DeleteChunksRequest
	if !s.decode(w, r, &req) {
		return
	}

	deleted, err := s.store.DeleteChunks(r.Context(), id, req.ChunkIDs)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"deleted_chunks": deleted})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var body searchRequestBody
	if !s.decode(w, r, &body) {
		return
	}

	req := body.SearchRequest
	if body.TopK != nil {
		req.TopK = *body.TopK
	} else {
		req.TopK = search.DefaultTopK
	}
	if strings.TrimSpace(req.Query) == "" {
		s.respondError(w, http.StatusBadRequest, "query is required")
		return
	}

	resp, err := s.engine.HybridSearch(r.Context(), &req)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, resp)
}

func (s *Server) handleCreateIndex(w http.ResponseWriter, r *http.Request) {
	var req IndexRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.CorpusID == "" {
		s.respondError(w, http.StatusBadRequest, "corpus_id is required")
		return
	}

	indexType := req.IndexType
	if indexType == "" {
		indexType = models.IndexTypeIVFFlat
	}

	result, err := s.indexes.CreateIndex(r.Context(), req.CorpusID, indexType)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, result)
}

func (s *Server) handleDropIndex(w http.ResponseWriter, r *http.Request) {
	var req IndexRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.CorpusID == "" {
		s.respondError(w, http.StatusBadRequest, "corpus_id is required")
		return
	}

	result, err := s.indexes.DropIndex(r.Context(), req.CorpusID)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, result)
}

func (s *Server) handleIndexStatus(w http.ResponseWriter, r *http.Request) {
	if corpusID := r.URL.Query().Get("corpus_id"); corpusID != "" {
		status, err := s.indexes.CheckStatus(r.Context(), corpusID)
		if err != nil {
			s.fail(w, err)
			return
		}
		s.respond(w, http.StatusOK, status)
		return
	}

	statuses, err := s.indexes.CheckAll(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, http.StatusOK, statuses)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.respondError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---- plumbing ----

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, chunking.MaxTextLength+1<<20))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "unreadable request body")
		return false
	}
	if err := sonic.Unmarshal(body, dest); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func (s *Server) respond(w http.ResponseWriter, status int, payload any) {
	data, err := sonic.Marshal(payload)
	if err != nil {
		logger.Get().Error("response encoding failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respond(w, status, errorResponse{Error: message})
}

// fail maps domain errors onto HTTP statuses, returning the failing
// condition verbatim.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrIntegrityViolation),
		errors.Is(err, chunking.ErrInputTooLarge),
		errors.Is(err, search.ErrEmptyQuery),
		errors.Is(err, index.ErrInvalidCorpusID):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrTransient):
		status = http.StatusServiceUnavailable
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid document id")
		return 0, false
	}
	return id, true
}
