package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"DocSage/backend/go/internal/embedding"
	"DocSage/backend/go/internal/models"
	"DocSage/backend/go/internal/rag_service/jobs"
	"DocSage/backend/go/internal/rag_service/rag/cache"
	"DocSage/backend/go/internal/rag_service/rag/embeddings"
	"DocSage/backend/go/internal/rag_service/rag/interfaces"
	"DocSage/backend/go/internal/rag_service/rag/pipeline"
	"DocSage/backend/go/internal/rag_service/rag/quota"
	"DocSage/backend/go/internal/rag_service/rag/search"
	"DocSage/backend/go/internal/rag_service/rag/splitters"
	"DocSage/backend/go/internal/rag_service/rag/storages/chunkstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const company = "acme"

type unitEmbedder struct{}

func (unitEmbedder) GenerateBatch(_ context.Context, texts []string) *embeddings.Report {
	r := &embeddings.Report{Results: make([]embedding.Outcome, len(texts)), Passes: 1}
	for i := range texts {
		r.Results[i] = embedding.Outcome{Vector: []float32{1, 0, 0, 0}}
		r.Embedded++
	}
	return r
}

func (unitEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0, 0}, nil
}

type echoLLM struct{}

func (echoLLM) Generate(context.Context, string) (string, error) {
	return "twenty days [handbook.pdf #0]", nil
}

type recordingIndex struct {
	mu      sync.Mutex
	deleted []string
}

func (i *recordingIndex) Upsert(context.Context, []*models.Chunk) error { return nil }

func (i *recordingIndex) Search(context.Context, string, []float32, int) ([]interfaces.IndexHit, error) {
	return nil, nil
}

func (i *recordingIndex) DeleteDocument(_ context.Context, _, docID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.deleted = append(i.deleted, docID)
	return nil
}

// switchEmbedder fails every batch while failing is set.
type switchEmbedder struct {
	unitEmbedder
	failing atomic.Bool
}

func (e *switchEmbedder) GenerateBatch(ctx context.Context, texts []string) *embeddings.Report {
	if !e.failing.Load() {
		return e.unitEmbedder.GenerateBatch(ctx, texts)
	}
	r := &embeddings.Report{Results: make([]embedding.Outcome, len(texts)), Passes: 1}
	for i := range texts {
		r.Results[i] = embedding.Outcome{Err: embedding.NewError(embedding.KindQuotaExceeded, "quota", nil)}
		r.Failed++
	}
	return r
}

func newTestService(t *testing.T) (*Service, *recordingIndex) {
	t.Helper()
	return newServiceWith(t, unitEmbedder{})
}

func newServiceWith(t *testing.T, emb interfaces.Embedder) (*Service, *recordingIndex) {
	t.Helper()
	store := chunkstore.NewMemoryStore(chunkstore.Options{Dimension: 4})
	index := &recordingIndex{}

	indexer := pipeline.NewIndexingPipeline(splitters.NewTextSplitter(), emb, store, nil, nil,
		pipeline.IndexingOptions{TargetTokens: 50, OverlapTokens: 5})
	strategies := []pipeline.Strategy{
		pipeline.NewVectorStrategy(emb, search.NewVectorEngine(store, nil, search.VectorOptions{}), 1),
		pipeline.NewFuzzyStrategy(search.NewFuzzyEngine(store, search.FuzzyOptions{Threshold: 0.45, LengthPenalty: 0.012}), 1),
	}
	c, err := cache.NewMemory(64, nil)
	require.NoError(t, err)
	retrieval := pipeline.NewRetrievalPipeline(strategies, c, pipeline.RetrievalOptions{CacheTTL: time.Minute})
	qa := pipeline.NewQAPipeline(retrieval, echoLLM{}, pipeline.QAOptions{NoResultMessage: "nothing found"})
	pool, err := quota.NewManager([]string{"k1"}, quota.Options{})
	require.NoError(t, err)

	svc, err := New(context.Background(), Components{
		Store:     store,
		Index:     index,
		Indexer:   indexer,
		Retrieval: retrieval,
		QA:        qa,
		Pool:      pool,
	}, Options{LocalWorkers: 2})
	require.NoError(t, err)
	return svc, index
}

func ingest(t *testing.T, svc *Service, id, text string) {
	t.Helper()
	res, err := svc.Ingest(context.Background(), models.IngestRequest{
		DocumentID: id, CompanyID: company, Name: id + ".pdf", Type: "pdf", Text: text,
	})
	require.NoError(t, err)
	require.Equal(t, models.JobStatusSucceeded, res.Status)
}

func TestAnswerUsesIngestedDocuments(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	ingest(t, svc, "handbook", "Paid leave is twenty days per year.")

	ans, err := svc.Answer(ctx, "How many days of paid leave?", company)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusOK, ans.Status)
	assert.Equal(t, 1, ans.ChunksUsed)
	require.Len(t, ans.Sources, 1)
	assert.Equal(t, "handbook", ans.Sources[0].DocumentID)

	other, err := svc.Answer(ctx, "How many days of paid leave?", "globex")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusNoResults, other.Status)
	assert.Equal(t, "nothing found", other.Text)
}

func TestRejectsMissingArguments(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.Answer(ctx, "question", "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = svc.Answer(ctx, "   ", company)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = svc.Search(ctx, "q", company, -1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = svc.IngestAsync(ctx, models.IngestRequest{CompanyID: company, Name: "x"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.ErrorIs(t, svc.Delete(ctx, "", "doc"), ErrInvalidArgument)
}

func TestDeactivateInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	ingest(t, svc, "handbook", "Paid leave is twenty days per year.")

	r, err := svc.Search(ctx, "paid leave", company, 5)
	require.NoError(t, err)
	require.Len(t, r.Results, 1)
	r, err = svc.Search(ctx, "paid leave", company, 5)
	require.NoError(t, err)
	assert.True(t, r.Cached)

	require.NoError(t, svc.SetActive(ctx, company, "handbook", false))
	r, err = svc.Search(ctx, "paid leave", company, 5)
	require.NoError(t, err)
	assert.False(t, r.Cached)
	assert.Empty(t, r.Results)

	assert.ErrorIs(t, svc.SetActive(ctx, company, "missing", true), chunkstore.ErrNotFound)
}

func TestDeleteRemovesFromStoreAndIndex(t *testing.T) {
	ctx := context.Background()
	svc, index := newTestService(t)
	ingest(t, svc, "handbook", "Paid leave is twenty days per year.")

	require.NoError(t, svc.Delete(ctx, company, "handbook"))
	assert.Equal(t, []string{"handbook"}, index.deleted)

	_, err := svc.GetDocument(ctx, company, "handbook")
	assert.ErrorIs(t, err, chunkstore.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, company, "handbook"), chunkstore.ErrNotFound)
}

func TestIngestAsyncRunsJob(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	job, err := svc.IngestAsync(ctx, models.IngestRequest{
		DocumentID: "policy", CompanyID: company, Name: "policy.pdf", Text: "Remote work requires manager approval.",
	})
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)
	assert.Equal(t, models.JobStatusQueued, job.Status)

	svc.Wait()
	got, err := svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSucceeded, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, "policy", got.Result.DocumentID)

	docs, err := svc.ListDocuments(ctx, company)
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	assert.ErrorIs(t, svc.CancelJob(ctx, job.ID), jobs.ErrJobFinished)
	assert.ErrorIs(t, svc.CancelJob(ctx, "missing"), jobs.ErrJobNotFound)
}

func TestReconcileAndQuota(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	res, err := svc.Reconcile(ctx, company)
	require.NoError(t, err)
	assert.Zero(t, res.Scanned)

	snap := svc.QuotaSnapshot()
	assert.Equal(t, 1, snap.Active)
	require.Len(t, snap.Credentials, 1)
	assert.Equal(t, "embedding-key-1", snap.Credentials[0].ID)
	assert.True(t, svc.EmbeddingServing())
}

func TestScheduledReconcileInvalidatesTenantCache(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	emb := &switchEmbedder{}
	emb.failing.Store(true)
	svc, _ := newServiceWith(t, emb)

	res, err := svc.Ingest(ctx, models.IngestRequest{
		DocumentID: "handbook", CompanyID: company, Name: "handbook.pdf", Type: "pdf",
		Text: "Paid leave is twenty days per year.",
	})
	require.NoError(t, err)
	require.Equal(t, models.JobStatusPartial, res.Status)

	r, err := svc.Search(ctx, "vacation allowance", company, 5)
	require.NoError(t, err)
	assert.Empty(t, r.Results)
	r, err = svc.Search(ctx, "vacation allowance", company, 5)
	require.NoError(t, err)
	require.True(t, r.Cached)

	emb.failing.Store(false)
	svc.StartReconciler(ctx, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		r, err := svc.Search(ctx, "vacation allowance", company, 5)
		return err == nil && !r.Cached && len(r.Results) == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestManualReconcileAcrossTenantsInvalidatesEach(t *testing.T) {
	ctx := context.Background()
	emb := &switchEmbedder{}
	emb.failing.Store(true)
	svc, _ := newServiceWith(t, emb)

	for _, tenant := range []string{company, "globex"} {
		_, err := svc.Ingest(ctx, models.IngestRequest{
			DocumentID: tenant + "-doc", CompanyID: tenant, Name: "n", Text: "Paid leave is twenty days per year.",
		})
		require.NoError(t, err)
		_, err = svc.Search(ctx, "vacation allowance", tenant, 5)
		require.NoError(t, err)
	}

	emb.failing.Store(false)
	rec, err := svc.Reconcile(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{company, "globex"}, rec.Tenants)

	for _, tenant := range []string{company, "globex"} {
		r, err := svc.Search(ctx, "vacation allowance", tenant, 5)
		require.NoError(t, err)
		assert.False(t, r.Cached, tenant)
		assert.Len(t, r.Results, 1, tenant)
	}
}
