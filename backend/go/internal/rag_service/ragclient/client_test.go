package ragclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"DocSage/backend/go/internal/config"
	"DocSage/backend/go/internal/models"
	"DocSage/backend/go/internal/rag_service/api"
	"DocSage/backend/go/internal/rag_service/jobs"
	"DocSage/backend/go/internal/rag_service/rag/pipeline"
	"DocSage/backend/go/internal/rag_service/rag/quota"
	"DocSage/backend/go/internal/rag_service/rag/storages/chunkstore"
	httpclient "DocSage/backend/go/pkg/http"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubService answers every call with fixed data.
type stubService struct {
	degraded bool
}

func (s *stubService) Answer(_ context.Context, q, c string) (*pipeline.Answer, error) {
	return &pipeline.Answer{Text: c + ":" + q, Status: pipeline.StatusOK}, nil
}

func (s *stubService) Search(context.Context, string, string, int) (*pipeline.Retrieval, error) {
	if s.degraded {
		return &pipeline.Retrieval{Degraded: true, CircuitOpen: true}, pipeline.ErrRetrievalUnavailable
	}
	return &pipeline.Retrieval{Sufficient: true}, nil
}

func (s *stubService) Ingest(_ context.Context, r models.IngestRequest) (*models.IngestResult, error) {
	return &models.IngestResult{DocumentID: r.DocumentID, Status: models.JobStatusSucceeded}, nil
}

func (s *stubService) IngestAsync(context.Context, models.IngestRequest) (*models.IngestJob, error) {
	return &models.IngestJob{ID: "job-9", Status: models.JobStatusQueued}, nil
}

func (s *stubService) GetJob(_ context.Context, id string) (*models.IngestJob, error) {
	if id != "job-9" {
		return nil, jobs.ErrJobNotFound
	}
	return &models.IngestJob{ID: id, Status: models.JobStatusRunning}, nil
}

func (s *stubService) CancelJob(context.Context, string) error { return nil }

func (s *stubService) GetDocument(context.Context, string, string) (*models.Document, error) {
	return nil, chunkstore.ErrNotFound
}

func (s *stubService) ListDocuments(_ context.Context, c string) ([]*models.Document, error) {
	return []*models.Document{{ID: "d1", CompanyID: c}}, nil
}

func (s *stubService) SetActive(context.Context, string, string, bool) error { return nil }

func (s *stubService) Delete(context.Context, string, string) error { return chunkstore.ErrNotFound }

func (s *stubService) Reconcile(context.Context, string) (*pipeline.ReconcileResult, error) {
	return &pipeline.ReconcileResult{Rounds: 1}, nil
}

func (s *stubService) QuotaSnapshot() quota.Snapshot { return quota.Snapshot{Active: 3} }

func (s *stubService) EmbeddingServing() bool { return true }

func newClient(t *testing.T, svc *stubService) *Client {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ts := httptest.NewServer(api.NewRouter(api.NewAPI(svc, nil), nil))
	t.Cleanup(ts.Close)
	c, err := New(ts.URL, "acme", config.CircuitBreakerConfig{})
	require.NoError(t, err)
	return c
}

func TestClientRoundTrips(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, &stubService{})

	ans, err := c.Answer(ctx, "q", "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme:q", ans.Text)

	res, err := c.Ingest(ctx, models.IngestRequest{DocumentID: "d1", Name: "a", Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, "d1", res.DocumentID)

	id, err := c.IngestAsync(ctx, models.IngestRequest{Name: "a", Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, "job-9", id)

	job, err := c.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, job.Status)
	require.NoError(t, c.CancelJob(ctx, id))

	docs, err := c.ListDocuments(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.NoError(t, c.SetActive(ctx, "acme", "d1", false))

	snap, err := c.Quota(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Active)

	rec, err := c.Reconcile(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Rounds)
}

func TestClientErrors(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, &stubService{degraded: true})

	r, err := c.Search(ctx, "q", "acme", 5)
	assert.ErrorIs(t, err, pipeline.ErrRetrievalUnavailable)
	require.NotNil(t, r)
	assert.True(t, r.CircuitOpen)

	_, err = c.GetJob(ctx, "nope")
	var se *httpclient.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)

	err = c.Delete(ctx, "acme", "d1")
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
}
