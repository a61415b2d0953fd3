package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"DocSage/backend/go/internal/models"
	"DocSage/backend/go/internal/rag_service/jobs"
	"DocSage/backend/go/internal/rag_service/rag/pipeline"
	"DocSage/backend/go/internal/rag_service/rag/quota"
	"DocSage/backend/go/internal/rag_service/rag/schema"
	"DocSage/backend/go/internal/rag_service/rag/storages/chunkstore"
	"DocSage/backend/go/internal/rag_service/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	lastCompany string
	lastLimit   int
	lastIngest  models.IngestRequest
	active      *bool
	searchErr   error
	serving     bool
}

func (f *fakeService) Answer(_ context.Context, question, companyID string) (*pipeline.Answer, error) {
	f.lastCompany = companyID
	if companyID == "" {
		return nil, fmt.Errorf("%w: company_id is required", service.ErrInvalidArgument)
	}
	return &pipeline.Answer{Text: "echo: " + question, Status: pipeline.StatusOK, ChunksUsed: 1}, nil
}

func (f *fakeService) Search(_ context.Context, _, companyID string, limit int) (*pipeline.Retrieval, error) {
	f.lastCompany = companyID
	f.lastLimit = limit
	if f.searchErr != nil {
		return &pipeline.Retrieval{Degraded: true, CircuitOpen: true}, f.searchErr
	}
	return &pipeline.Retrieval{
		Results:    []schema.SearchResult{{ChunkID: "c1", DocumentID: "d1"}},
		Sufficient: true,
	}, nil
}

func (f *fakeService) Ingest(_ context.Context, req models.IngestRequest) (*models.IngestResult, error) {
	f.lastIngest = req
	if req.Text == "" {
		return nil, fmt.Errorf("%w: text or object_key is required", pipeline.ErrInvalidRequest)
	}
	return &models.IngestResult{DocumentID: "d1", Chunks: 2, Stored: 2, Embedded: 2, Status: models.JobStatusSucceeded}, nil
}

func (f *fakeService) IngestAsync(_ context.Context, req models.IngestRequest) (*models.IngestJob, error) {
	f.lastIngest = req
	return &models.IngestJob{ID: "job-1", Status: models.JobStatusQueued}, nil
}

func (f *fakeService) GetJob(_ context.Context, id string) (*models.IngestJob, error) {
	if id != "job-1" {
		return nil, jobs.ErrJobNotFound
	}
	return &models.IngestJob{ID: id, Status: models.JobStatusSucceeded}, nil
}

func (f *fakeService) CancelJob(_ context.Context, id string) error {
	if id == "job-1" {
		return jobs.ErrJobFinished
	}
	return nil
}

func (f *fakeService) GetDocument(_ context.Context, companyID, id string) (*models.Document, error) {
	f.lastCompany = companyID
	if id != "d1" {
		return nil, chunkstore.ErrNotFound
	}
	return &models.Document{ID: id, CompanyID: companyID, Active: true}, nil
}

func (f *fakeService) ListDocuments(_ context.Context, companyID string) ([]*models.Document, error) {
	f.lastCompany = companyID
	return []*models.Document{{ID: "d1", CompanyID: companyID}}, nil
}

func (f *fakeService) SetActive(_ context.Context, companyID, _ string, active bool) error {
	f.lastCompany = companyID
	f.active = &active
	return nil
}

func (f *fakeService) Delete(_ context.Context, companyID, id string) error {
	f.lastCompany = companyID
	if id != "d1" {
		return chunkstore.ErrNotFound
	}
	return nil
}

func (f *fakeService) Reconcile(_ context.Context, companyID string) (*pipeline.ReconcileResult, error) {
	f.lastCompany = companyID
	return &pipeline.ReconcileResult{Scanned: 3, Embedded: 3, Rounds: 1}, nil
}

func (f *fakeService) QuotaSnapshot() quota.Snapshot {
	return quota.Snapshot{Circuit: "embedding", State: "closed", Active: 2}
}

func (f *fakeService) EmbeddingServing() bool { return f.serving }

func newTestRouter(f *fakeService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewRouter(NewAPI(f, nil), http.NotFoundHandler())
}

func do(t *testing.T, r http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAnswerTenantSources(t *testing.T) {
	f := &fakeService{}
	r := newTestRouter(f)

	w := do(t, r, http.MethodPost, "/api/v1/rag/answer", `{"question":"q","company_id":"acme"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "acme", f.lastCompany)
	var ans pipeline.Answer
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ans))
	assert.Equal(t, "echo: q", ans.Text)

	w = do(t, r, http.MethodPost, "/api/v1/rag/answer?company_id=globex", `{"question":"q"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "globex", f.lastCompany)

	w = do(t, r, http.MethodPost, "/api/v1/rag/answer", `{"question":"q"}`, CompanyHeader, "initech")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "initech", f.lastCompany)

	w = do(t, r, http.MethodPost, "/api/v1/rag/answer", `{"question":"q"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/api/v1/rag/answer", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchUnavailableReturnsPartialResult(t *testing.T) {
	f := &fakeService{}
	r := newTestRouter(f)

	w := do(t, r, http.MethodPost, "/api/v1/rag/search?limit=3", `{"query":"leave","company_id":"acme"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, f.lastLimit)

	f.searchErr = pipeline.ErrRetrievalUnavailable
	w = do(t, r, http.MethodPost, "/api/v1/rag/search", `{"query":"leave","company_id":"acme","limit":5}`)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, 5, f.lastLimit)
	var res pipeline.Retrieval
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.CircuitOpen)
}

func TestIngestSyncAndAsync(t *testing.T) {
	f := &fakeService{}
	r := newTestRouter(f)

	w := do(t, r, http.MethodPost, "/api/v1/rag/documents", `{"id":"d1","name":"a.pdf","text":"hello"}`, CompanyHeader, "acme")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "acme", f.lastIngest.CompanyID)
	assert.Equal(t, "d1", f.lastIngest.DocumentID)

	w = do(t, r, http.MethodPost, "/api/v1/rag/documents", `{"name":"a.pdf","company_id":"acme"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/api/v1/rag/documents", `{"name":"a.pdf","company_id":"acme","text":"x","async":true}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), `"job_id":"job-1"`)
}

func TestDocumentRoutes(t *testing.T) {
	f := &fakeService{}
	r := newTestRouter(f)

	w := do(t, r, http.MethodGet, "/api/v1/rag/documents?company_id=acme", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"documents"`)

	w = do(t, r, http.MethodGet, "/api/v1/rag/documents/d1?company_id=acme", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(t, r, http.MethodGet, "/api/v1/rag/documents/missing?company_id=acme", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodPatch, "/api/v1/rag/documents/d1", `{"company_id":"acme","active":false}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, f.active)
	assert.False(t, *f.active)
	w = do(t, r, http.MethodPatch, "/api/v1/rag/documents/d1", `{"company_id":"acme"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodDelete, "/api/v1/rag/documents/d1?company_id=acme", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, r, http.MethodDelete, "/api/v1/rag/documents/missing?company_id=acme", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJobRoutes(t *testing.T) {
	r := newTestRouter(&fakeService{})

	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/api/v1/rag/jobs/job-1", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/api/v1/rag/jobs/nope", "").Code)
	assert.Equal(t, http.StatusConflict, do(t, r, http.MethodPost, "/api/v1/rag/jobs/job-1/cancel", "").Code)
	assert.Equal(t, http.StatusAccepted, do(t, r, http.MethodPost, "/api/v1/rag/jobs/job-2/cancel", "").Code)
}

func TestOperationalRoutes(t *testing.T) {
	f := &fakeService{serving: true}
	r := newTestRouter(f)

	w := do(t, r, http.MethodPost, "/api/v1/rag/reconcile", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "", f.lastCompany)
	w = do(t, r, http.MethodPost, "/api/v1/rag/reconcile", `{"company_id":"acme"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "acme", f.lastCompany)

	w = do(t, r, http.MethodGet, "/api/v1/rag/quota", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"active":2`)

	w = do(t, r, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"embedding_serving":true`)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(pipeline.ErrEmptyDocument))
	assert.Equal(t, http.StatusConflict, statusFor(fmt.Errorf("wrap: %w", chunkstore.ErrDuplicate)))
	assert.Equal(t, http.StatusInternalServerError, statusFor(fmt.Errorf("boom")))
}
