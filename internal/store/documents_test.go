package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/WillIsback/clea-api/internal/chunking"
	"github.com/WillIsback/clea-api/pkg/models"
)

func TestResolveParent(t *testing.T) {
	ids := []int64{101, 102, 103}
	levels := []int{0, 1, 2}

	t.Run("root has no parent", func(t *testing.T) {
		got, err := resolveParent(chunking.Chunk{ParentIndex: -1, HierarchyLevel: 0}, ids, levels)
		assert.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("valid reference resolves to row id", func(t *testing.T) {
		got, err := resolveParent(chunking.Chunk{ParentIndex: 1, HierarchyLevel: 2}, ids, levels)
		assert.NoError(t, err)
		if assert.NotNil(t, got) {
			assert.Equal(t, int64(102), *got)
		}
	})

	t.Run("forward reference is rejected", func(t *testing.T) {
		_, err := resolveParent(chunking.Chunk{ParentIndex: 3, HierarchyLevel: 3}, ids, levels)
		assert.ErrorIs(t, err, ErrIntegrityViolation)
	})

	t.Run("level inversion is rejected", func(t *testing.T) {
		_, err := resolveParent(chunking.Chunk{ParentIndex: 2, HierarchyLevel: 1}, ids, levels)
		assert.ErrorIs(t, err, ErrIntegrityViolation)
	})

	t.Run("parent at equal level is rejected", func(t *testing.T) {
		_, err := resolveParent(chunking.Chunk{ParentIndex: 0, HierarchyLevel: 0}, ids, levels)
		assert.ErrorIs(t, err, ErrIntegrityViolation)
	})
}

func TestApplyPatch(t *testing.T) {
	date := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	doc := models.Document{
		Title:        "ancien titre",
		Theme:        "RSE",
		DocumentType: "rapport",
		CorpusID:     "corpus-a",
	}

	title := "nouveau titre"
	corpus := "corpus-b"
	applyPatch(&doc, DocumentPatch{
		Title:       &title,
		PublishDate: &date,
		CorpusID:    &corpus,
	})

	assert.Equal(t, "nouveau titre", doc.Title)
	assert.Equal(t, "RSE", doc.Theme, "absent fields stay untouched")
	assert.Equal(t, "rapport", doc.DocumentType)
	assert.Equal(t, "corpus-b", doc.CorpusID)
	if assert.NotNil(t, doc.PublishDate) {
		assert.Equal(t, date, *doc.PublishDate)
	}

	// A blank corpus id in the patch cannot clear the grouping.
	blank := ""
	applyPatch(&doc, DocumentPatch{CorpusID: &blank})
	assert.Equal(t, "corpus-b", doc.CorpusID)
}

func TestClassifyErrors(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"nil passes through", nil, nil},
		{"no rows is not found", pgx.ErrNoRows, ErrNotFound},
		{"constraint violation", &pgconn.PgError{Code: "23503"}, ErrIntegrityViolation},
		{"check violation", &pgconn.PgError{Code: "23514"}, ErrIntegrityViolation},
		{"serialization failure is transient", &pgconn.PgError{Code: "40001"}, ErrTransient},
		{"connection failure is transient", &pgconn.PgError{Code: "57P01"}, ErrTransient},
		{"network error is transient", errors.New("connection reset"), ErrTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.in)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
		})
	}
}

func TestClassifyKeepsContextErrors(t *testing.T) {
	got := classify(context.Canceled)
	assert.ErrorIs(t, got, context.Canceled)
	assert.NotErrorIs(t, got, ErrTransient)
}
