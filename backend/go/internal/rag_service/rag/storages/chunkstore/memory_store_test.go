package chunkstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"DocSage/backend/go/internal/embedding"
	"DocSage/backend/go/internal/models"
	"DocSage/backend/go/internal/rag_service/rag/textnorm"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDoc(id, company string) *models.Document {
	return &models.Document{ID: id, CompanyID: company, Name: id + ".pdf", Type: "pdf", Active: true}
}

func newChunk(doc *models.Document, index int, content string, vec []float32) *models.Chunk {
	c := &models.Chunk{
		ID:                fmt.Sprintf("%s-%d", doc.ID, index),
		DocID:             doc.ID,
		CompanyID:         doc.CompanyID,
		ChunkIndex:        index,
		Content:           content,
		NormalizedContent: textnorm.Normalize(content),
	}
	if vec != nil {
		v := pgvector.NewVector(vec)
		c.Embedding = &v
	}
	return c
}

func TestDocumentLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Options{Dimension: 2})

	doc := newDoc("d1", "acme")
	require.NoError(t, s.SaveDocument(ctx, doc))
	assert.ErrorIs(t, s.SaveDocument(ctx, doc), ErrDuplicate)

	_, err := s.GetDocument(ctx, "other", "d1")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := s.GetDocument(ctx, "acme", "d1")
	require.NoError(t, err)
	assert.True(t, got.Active)

	require.NoError(t, s.SetDocumentActive(ctx, "acme", "d1", false))
	got, _ = s.GetDocument(ctx, "acme", "d1")
	assert.False(t, got.Active)

	docs, err := s.ListDocuments(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	_, err = s.InsertChunks(ctx, []*models.Chunk{newChunk(doc, 0, "a", nil), newChunk(doc, 1, "b", nil)})
	require.NoError(t, err)
	require.NoError(t, s.DeleteDocument(ctx, "acme", "d1"))

	total, _, err := s.ChunkStats(ctx, "d1")
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.ErrorIs(t, s.DeleteDocument(ctx, "acme", "d1"), ErrNotFound)
}

func TestInsertChunksKeepsCommittedSubBatches(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Options{Dimension: 2, InsertBatch: 2})
	doc := newDoc("d1", "acme")
	require.NoError(t, s.SaveDocument(ctx, doc))

	chunks := []*models.Chunk{
		newChunk(doc, 0, "zero", nil),
		newChunk(doc, 1, "one", nil),
		newChunk(doc, 2, "two", nil),
		newChunk(doc, 2, "two again", nil),
		newChunk(doc, 4, "four", nil),
	}
	chunks[3].ID = "d1-dup"

	stored, err := s.InsertChunks(ctx, chunks)
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, 2, stored)

	total, embedded, err := s.ChunkStats(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Zero(t, embedded)
}

func TestUpdateEmbeddingsRejectsWrongDimension(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Options{Dimension: 2})
	doc := newDoc("d1", "acme")
	require.NoError(t, s.SaveDocument(ctx, doc))
	_, err := s.InsertChunks(ctx, []*models.Chunk{newChunk(doc, 0, "a", nil), newChunk(doc, 1, "b", nil)})
	require.NoError(t, err)

	_, err = s.UpdateEmbeddings(ctx, []models.ChunkEmbedding{{ChunkID: "d1-0", Vector: []float32{1, 2, 3}}})
	assert.ErrorIs(t, err, embedding.ErrDimensionMismatch)

	n, err := s.UpdateEmbeddings(ctx, []models.ChunkEmbedding{{ChunkID: "d1-0", Vector: []float32{1, 0}}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, _, err := s.ListUnembedded(ctx, "acme", nil, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "d1-1", pending[0].ID)

	_, embedded, _ := s.ChunkStats(ctx, "d1")
	assert.Equal(t, 1, embedded)
}

func TestListUnembeddedResumesAfterCursor(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Options{Dimension: 2})
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	older, newer := newDoc("b", "acme"), newDoc("a", "acme")
	older.CreatedAt, newer.CreatedAt = base, base.Add(time.Minute)
	for _, d := range []*models.Document{older, newer} {
		require.NoError(t, s.SaveDocument(ctx, d))
		_, err := s.InsertChunks(ctx, []*models.Chunk{newChunk(d, 0, "x", nil), newChunk(d, 1, "y", nil)})
		require.NoError(t, err)
	}

	page, cursor, err := s.ListUnembedded(ctx, "acme", nil, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, []string{"b-0", "b-1", "a-0"}, []string{page[0].ID, page[1].ID, page[2].ID})
	require.NotNil(t, cursor)
	assert.Equal(t, "a", cursor.DocID)
	assert.Equal(t, 0, cursor.ChunkIndex)

	page, cursor, err = s.ListUnembedded(ctx, "acme", cursor, 3)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a-1", page[0].ID)

	page, cursor, err = s.ListUnembedded(ctx, "acme", cursor, 3)
	require.NoError(t, err)
	assert.Empty(t, page)
	assert.Nil(t, cursor)
}

func TestSimilarChunksScopesTenantAndActive(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Options{Dimension: 2})

	a, b, other := newDoc("a", "acme"), newDoc("b", "acme"), newDoc("x", "globex")
	for _, d := range []*models.Document{a, b, other} {
		require.NoError(t, s.SaveDocument(ctx, d))
	}
	_, err := s.InsertChunks(ctx, []*models.Chunk{
		newChunk(a, 0, "close", []float32{1, 0.1}),
		newChunk(a, 1, "far", []float32{0, 1}),
		newChunk(b, 0, "exact", []float32{1, 0}),
		newChunk(other, 0, "other tenant", []float32{1, 0}),
	})
	require.NoError(t, err)

	rows, err := s.SimilarChunks(ctx, "acme", []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "b-0", rows[0].ID)
	assert.InDelta(t, 1.0, rows[0].Similarity, 1e-9)
	assert.Equal(t, "a-0", rows[1].ID)
	assert.Equal(t, "a.pdf", rows[1].DocumentName)

	require.NoError(t, s.SetDocumentActive(ctx, "acme", "b", false))
	rows, err = s.SimilarChunks(ctx, "acme", []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a-0", rows[0].ID)
}

func TestTrigramMatches(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Options{})
	doc := newDoc("d1", "acme")
	require.NoError(t, s.SaveDocument(ctx, doc))
	_, err := s.InsertChunks(ctx, []*models.Chunk{
		newChunk(doc, 0, "㈱テスト", nil),
		newChunk(doc, 1, "まったく関係のない文章", nil),
	})
	require.NoError(t, err)

	rows, err := s.TrigramMatches(ctx, "acme", textnorm.Normalize("株式会社テスト"), 0.45, 50)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "d1-0", rows[0].ID)
	assert.InDelta(t, 1.0, rows[0].Similarity, 1e-9)
}

func TestGetChunksKeepsRequestedOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Options{})
	doc := newDoc("d1", "acme")
	require.NoError(t, s.SaveDocument(ctx, doc))
	_, err := s.InsertChunks(ctx, []*models.Chunk{newChunk(doc, 0, "a", nil), newChunk(doc, 1, "b", nil)})
	require.NoError(t, err)

	rows, err := s.GetChunks(ctx, "acme", []string{"d1-1", "missing", "d1-0"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "d1-1", rows[0].ID)
	assert.Equal(t, "d1-0", rows[1].ID)

	rows, err = s.GetChunks(ctx, "globex", []string{"d1-0"})
	require.NoError(t, err)
	assert.Empty(t, rows)
}
