package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"DocSage/backend/go/internal/models"
	"DocSage/backend/go/internal/rag_service/rag/interfaces"
	"DocSage/backend/go/internal/rag_service/rag/schema"
	"DocSage/backend/go/internal/rag_service/rag/storages/chunkstore"
	"DocSage/backend/go/internal/rag_service/rag/textnorm"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const company = "acme"

type corpusChunk struct {
	doc     string
	index   int
	content string
	sim     float64 // cosine similarity to the query axis
}

// buildCorpus gives chunk i the vector sim·e0 + sqrt(1-sim²)·e(i+1), so its
// cosine with e0 is exactly sim and any two chunks stay well apart.
func buildCorpus(t *testing.T, chunks []corpusChunk) (*chunkstore.MemoryStore, []float32) {
	t.Helper()
	ctx := context.Background()
	dim := len(chunks) + 1
	s := chunkstore.NewMemoryStore(chunkstore.Options{Dimension: dim})

	docs := map[string]bool{}
	for i, c := range chunks {
		if !docs[c.doc] {
			require.NoError(t, s.SaveDocument(ctx, &models.Document{ID: c.doc, CompanyID: company, Name: c.doc, Active: true}))
			docs[c.doc] = true
		}
		v := make([]float32, dim)
		v[0] = float32(c.sim)
		v[i+1] = float32(math.Sqrt(1 - c.sim*c.sim))
		vec := pgvector.NewVector(v)
		_, err := s.InsertChunks(ctx, []*models.Chunk{{
			ID:                fmt.Sprintf("%s-%d", c.doc, c.index),
			DocID:             c.doc,
			CompanyID:         company,
			ChunkIndex:        c.index,
			Content:           c.content,
			NormalizedContent: textnorm.Normalize(c.content),
			Embedding:         &vec,
		}})
		require.NoError(t, err)
	}

	q := make([]float32, dim)
	q[0] = 1
	return s, q
}

func spread(sims ...float64) []corpusChunk {
	out := make([]corpusChunk, len(sims))
	for i, s := range sims {
		out[i] = corpusChunk{doc: fmt.Sprintf("doc%d", i), content: fmt.Sprintf("content %d %s", i, strings.Repeat("x", 60)), sim: s}
	}
	return out
}

func defaultVectorOptions() VectorOptions {
	return VectorOptions{Limit: 10, CandidateFactor: 4, MinFloor: 0.2, AdaptiveRatio: 0.6, PerDocumentCap: 3, DuplicateSimilarity: 0.97}
}

func ids(rs []schema.SearchResult) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ChunkID
	}
	return out
}

func TestAdaptiveCutoff(t *testing.T) {
	assert.InDelta(t, 0.54, AdaptiveCutoff([]float64{0.95, 0.85, 0.8, 0.75, 0.6, 0.5, 0.4, 0.3}, 0.2, 0.6), 1e-9)
	assert.InDelta(t, 0.2, AdaptiveCutoff([]float64{0.35, 0.25, 0.24, 0.22, 0.21, 0.15, 0.1, 0.05}, 0.2, 0.6), 1e-9)
	assert.InDelta(t, 0.2, AdaptiveCutoff(nil, 0.2, 0.6), 1e-9)
	// 少于四个结果时头部四分位取最高的一个
	assert.InDelta(t, 0.48, AdaptiveCutoff([]float64{0.5, 0.8}, 0.2, 0.6), 1e-9)
}

// 头部四分位均值 0.9 的语料使用比均值 0.3 的语料更高的阈值。
func TestAdaptiveThresholdFollowsCorpus(t *testing.T) {
	ctx := context.Background()

	strong, q := buildCorpus(t, spread(0.95, 0.85, 0.8, 0.75, 0.6, 0.5, 0.4, 0.3))
	results, err := NewVectorEngine(strong, nil, defaultVectorOptions()).Search(ctx, q, company, 10)
	require.NoError(t, err)
	assert.Len(t, results, 5)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Similarity, 0.54)
	}

	weak, q := buildCorpus(t, spread(0.35, 0.25, 0.24, 0.22, 0.21, 0.15, 0.1, 0.05))
	results, err = NewVectorEngine(weak, nil, defaultVectorOptions()).Search(ctx, q, company, 10)
	require.NoError(t, err)
	assert.Len(t, results, 5)
	assert.Contains(t, ids(results), "doc4-0")
	assert.InDelta(t, 0.21, results[len(results)-1].Similarity, 1e-6)
}

func TestVectorSearchCapsPerDocumentAndLimit(t *testing.T) {
	ctx := context.Background()
	var chunks []corpusChunk
	for i, s := range []float64{0.9, 0.89, 0.88, 0.87, 0.86} {
		chunks = append(chunks, corpusChunk{doc: "big", index: i * 3, content: fmt.Sprintf("big %d", i), sim: s})
	}
	chunks = append(chunks, corpusChunk{doc: "small", content: "small", sim: 0.85})
	store, q := buildCorpus(t, chunks)
	engine := NewVectorEngine(store, nil, defaultVectorOptions())

	results, err := engine.Search(ctx, q, company, 10)
	require.NoError(t, err)
	perDoc := map[string]int{}
	for _, r := range results {
		perDoc[r.DocumentID]++
		assert.Equal(t, schema.MethodVector, r.Method)
	}
	assert.Equal(t, map[string]int{"big": 3, "small": 1}, perDoc)

	results, err = engine.Search(ctx, q, company, 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestVectorSearchDeduplicates(t *testing.T) {
	ctx := context.Background()
	store, q := buildCorpus(t, []corpusChunk{
		{doc: "a", content: "同じ内容の段落", sim: 0.9},
		{doc: "b", content: "同じ内容の段落", sim: 0.8},
		{doc: "c", content: "別の段落", sim: 0.7},
	})

	results, err := NewVectorEngine(store, nil, defaultVectorOptions()).Search(ctx, q, company, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a-0", "c-0"}, ids(results))
}

func TestVectorSearchDropsNearIdenticalEmbeddings(t *testing.T) {
	ctx := context.Background()
	s := chunkstore.NewMemoryStore(chunkstore.Options{Dimension: 2})
	require.NoError(t, s.SaveDocument(ctx, &models.Document{ID: "d", CompanyID: company, Active: true}))
	v := pgvector.NewVector([]float32{1, 0})
	w := pgvector.NewVector([]float32{1, 0.01})
	_, err := s.InsertChunks(ctx, []*models.Chunk{
		{ID: "d-0", DocID: "d", CompanyID: company, ChunkIndex: 0, Content: "first wording", Embedding: &v},
		{ID: "d-1", DocID: "d", CompanyID: company, ChunkIndex: 1, Content: "second wording", Embedding: &w},
	})
	require.NoError(t, err)

	results, err := NewVectorEngine(s, nil, defaultVectorOptions()).Search(ctx, []float32{1, 0}, company, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"d-0"}, ids(results))
}

func TestFusedScoreRewardsNeighbours(t *testing.T) {
	ctx := context.Background()
	body := strings.Repeat("y", 60)
	store, q := buildCorpus(t, []corpusChunk{
		{doc: "A", index: 0, content: "a0 " + body, sim: 0.70},
		{doc: "A", index: 1, content: "a1 " + body, sim: 0.70},
		{doc: "B", index: 5, content: "b5 " + body, sim: 0.72},
	})

	results, err := NewVectorEngine(store, nil, defaultVectorOptions()).Search(ctx, q, company, 10)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "A", results[0].DocumentID)
	assert.Equal(t, "B", results[2].DocumentID)
	assert.InDelta(t, 0.8*0.70+0.1+0.05, results[0].Score, 1e-6)
	assert.InDelta(t, 0.8*0.72+0.1, results[2].Score, 1e-6)
}

type failingStore struct {
	interfaces.ChunkStore
}

func (failingStore) SimilarChunks(context.Context, string, []float32, int) ([]schema.ScoredChunk, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) TrigramMatches(context.Context, string, string, float64, int) ([]schema.ScoredChunk, error) {
	return nil, errors.New("connection refused")
}

func TestSearchUnavailable(t *testing.T) {
	ctx := context.Background()
	_, err := NewVectorEngine(failingStore{}, nil, defaultVectorOptions()).Search(ctx, []float32{1}, company, 5)
	assert.ErrorIs(t, err, ErrSearchUnavailable)

	_, err = NewFuzzyEngine(failingStore{}, FuzzyOptions{Threshold: 0.45}).Search(ctx, "テスト", company)
	assert.ErrorIs(t, err, ErrSearchUnavailable)
}

type fakeIndex struct {
	hits []interfaces.IndexHit
}

func (f *fakeIndex) Upsert(context.Context, []*models.Chunk) error { return nil }
func (f *fakeIndex) Search(context.Context, string, []float32, int) ([]interfaces.IndexHit, error) {
	return f.hits, nil
}
func (f *fakeIndex) DeleteDocument(context.Context, string, string) error { return nil }

func TestVectorSearchThroughIndex(t *testing.T) {
	ctx := context.Background()
	store, q := buildCorpus(t, spread(0.9, 0.8))
	require.NoError(t, store.SetDocumentActive(ctx, company, "doc1", false))

	index := &fakeIndex{hits: []interfaces.IndexHit{{ChunkID: "doc0-0", Score: 0.91}, {ChunkID: "doc1-0", Score: 0.8}}}
	results, err := NewVectorEngine(store, index, defaultVectorOptions()).Search(ctx, q, company, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc0-0", results[0].ChunkID)
	assert.InDelta(t, 0.91, results[0].Similarity, 1e-9)
}

func newFuzzyStore(t *testing.T, contents ...string) *chunkstore.MemoryStore {
	t.Helper()
	ctx := context.Background()
	s := chunkstore.NewMemoryStore(chunkstore.Options{})
	require.NoError(t, s.SaveDocument(ctx, &models.Document{ID: "d", CompanyID: company, Name: "会社一覧", Active: true}))
	var chunks []*models.Chunk
	for i, c := range contents {
		chunks = append(chunks, &models.Chunk{
			ID: fmt.Sprintf("d-%d", i), DocID: "d", CompanyID: company, ChunkIndex: i,
			Content: c, NormalizedContent: textnorm.Normalize(c),
		})
	}
	_, err := s.InsertChunks(ctx, chunks)
	require.NoError(t, err)
	return s
}

// "株式会社テスト" 与 "㈱テスト" 归一化后完全相同，得到精确匹配加分。
func TestFuzzyExactMatchAcrossLegalEntityVariants(t *testing.T) {
	store := newFuzzyStore(t, "㈱テスト", "全く関係のない内容です")
	engine := NewFuzzyEngine(store, FuzzyOptions{Threshold: 0.45, LengthPenalty: 0.012, Limit: 50})

	results, err := engine.Search(context.Background(), "株式会社テスト", company)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "d-0", results[0].ChunkID)
	assert.Equal(t, schema.MethodFuzzy, results[0].Method)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-9)
	assert.InDelta(t, 1.4, results[0].Score, 1e-9)
	assert.Equal(t, "会社一覧", results[0].DocumentName)
}

func TestFuzzyScore(t *testing.T) {
	assert.InDelta(t, 0.5-0.036+0.2, FuzzyScore(0.5, "abcdef", "abc", 3, 0.012), 1e-9)
	assert.InDelta(t, 0.9+0.4, FuzzyScore(0.9, "abc", "abc", 3, 0.012), 1e-9)
	assert.InDelta(t, 0.6-0.012, FuzzyScore(0.6, "xabc", "abcde", 5, 0.012), 1e-9)
}

func TestFuzzyOrderingAndLimit(t *testing.T) {
	store := newFuzzyStore(t, "alpha beta gamma delta", "alpha beta", "alpha beta gamma")
	engine := NewFuzzyEngine(store, FuzzyOptions{Threshold: 0.1, LengthPenalty: 0.012, Limit: 50})

	results, err := engine.Search(context.Background(), "alpha beta", company)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "d-1", results[0].ChunkID)
	assert.Equal(t, "d-2", results[1].ChunkID)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}

	results, err = engine.FuzzySearch(context.Background(), "alpha beta", company, 0.1, 0.012, 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

// The prefix match has a lower raw similarity than every other row but the
// best final score once length penalty and bonus apply.
func TestFuzzyRanksPrefixMatchBelowRawCut(t *testing.T) {
	contents := []string{"acme holdings group international"}
	for i := 0; i < 6; i++ {
		contents = append(contents, "group acme holdings xylophbqkvwz")
	}
	store := newFuzzyStore(t, contents...)
	engine := NewFuzzyEngine(store, FuzzyOptions{Threshold: 0.3, LengthPenalty: 0.01, Limit: 50})

	results, err := engine.FuzzySearch(context.Background(), "acme holdings group", company, 0.3, 0.01, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "d-0", results[0].ChunkID)
	assert.InDelta(t, 20.0/34, results[0].Similarity, 1e-9)
	assert.InDelta(t, 20.0/34-0.14+PrefixMatchBonus, results[0].Score, 1e-9)
}

func TestFuzzyEmptyQuery(t *testing.T) {
	engine := NewFuzzyEngine(newFuzzyStore(t, "x"), FuzzyOptions{Threshold: 0.45})
	results, err := engine.Search(context.Background(), "   ", company)
	require.NoError(t, err)
	assert.Empty(t, results)
}
