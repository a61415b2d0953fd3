package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"DocSage/backend/go/internal/models"
	"DocSage/backend/go/internal/rag_service/jobs"
	"DocSage/backend/go/internal/rag_service/rag/pipeline"
	"DocSage/backend/go/internal/rag_service/rag/quota"
	"DocSage/backend/go/internal/rag_service/rag/storages/chunkstore"
	"DocSage/backend/go/internal/rag_service/service"
	"DocSage/backend/go/pkg/logger"

	"github.com/gin-gonic/gin"
)

// CompanyHeader carries the tenant when the body and query omit it.
const CompanyHeader = "X-Company-ID"

// RAGService is what the handlers need from the service layer.
type RAGService interface {
	Answer(ctx context.Context, question, companyID string) (*pipeline.Answer, error)
	Search(ctx context.Context, query, companyID string, limit int) (*pipeline.Retrieval, error)
	Ingest(ctx context.Context, req models.IngestRequest) (*models.IngestResult, error)
	IngestAsync(ctx context.Context, req models.IngestRequest) (*models.IngestJob, error)
	GetJob(ctx context.Context, id string) (*models.IngestJob, error)
	CancelJob(ctx context.Context, id string) error
	GetDocument(ctx context.Context, companyID, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, companyID string) ([]*models.Document, error)
	SetActive(ctx context.Context, companyID, id string, active bool) error
	Delete(ctx context.Context, companyID, id string) error
	Reconcile(ctx context.Context, companyID string) (*pipeline.ReconcileResult, error)
	QuotaSnapshot() quota.Snapshot
	EmbeddingServing() bool
}

var _ RAGService = (*service.Service)(nil)

// API provides handlers for the RAG service.
type API struct {
	service RAGService
	logger  *logger.Logger
}

// NewAPI creates a new API handler.
func NewAPI(svc RAGService, log *logger.Logger) *API {
	if log == nil {
		log = logger.Discard()
	}
	return &API{service: svc, logger: log.Named("api")}
}

type answerRequest struct {
	Question  string `json:"question"`
	CompanyID string `json:"company_id"`
}

type searchRequest struct {
	Query     string `json:"query"`
	CompanyID string `json:"company_id"`
	Limit     int    `json:"limit"`
}

type ingestRequest struct {
	models.IngestRequest
	Async bool `json:"async"`
}

type patchDocumentRequest struct {
	CompanyID string `json:"company_id"`
	Active    *bool  `json:"active"`
}

type reconcileRequest struct {
	CompanyID string `json:"company_id"`
}

// AnswerHandler answers a question from the tenant's documents.
func (a *API) AnswerHandler(c *gin.Context) {
	var req answerRequest
	if !a.bind(c, &req) {
		return
	}
	ans, err := a.service.Answer(c.Request.Context(), req.Question, tenant(c, req.CompanyID))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ans)
}

// SearchHandler returns ranked chunks without generating an answer.
func (a *API) SearchHandler(c *gin.Context) {
	var req searchRequest
	if !a.bind(c, &req) {
		return
	}
	if req.Limit == 0 {
		req.Limit = queryInt(c, "limit", 0)
	}
	res, err := a.service.Search(c.Request.Context(), req.Query, tenant(c, req.CompanyID), req.Limit)
	if errors.Is(err, pipeline.ErrRetrievalUnavailable) && res != nil {
		// 所有策略都失败时仍返回部分结果，便于调用方判断熔断状态
		c.JSON(http.StatusServiceUnavailable, res)
		return
	}
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// IngestHandler indexes a document, synchronously unless async is set.
func (a *API) IngestHandler(c *gin.Context) {
	var req ingestRequest
	if !a.bind(c, &req) {
		return
	}
	req.CompanyID = tenant(c, req.CompanyID)

	if req.Async {
		job, err := a.service.IngestAsync(c.Request.Context(), req.IngestRequest)
		if err != nil {
			a.fail(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID, "status": job.Status})
		return
	}

	res, err := a.service.Ingest(c.Request.Context(), req.IngestRequest)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// ListDocumentsHandler lists the tenant's documents.
func (a *API) ListDocumentsHandler(c *gin.Context) {
	docs, err := a.service.ListDocuments(c.Request.Context(), tenant(c, ""))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

// GetDocumentHandler returns a single document.
func (a *API) GetDocumentHandler(c *gin.Context) {
	doc, err := a.service.GetDocument(c.Request.Context(), tenant(c, ""), c.Param("id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// PatchDocumentHandler toggles whether a document takes part in search.
func (a *API) PatchDocumentHandler(c *gin.Context) {
	var req patchDocumentRequest
	if !a.bind(c, &req) {
		return
	}
	if req.Active == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "active is required"})
		return
	}
	id := c.Param("id")
	if err := a.service.SetActive(c.Request.Context(), tenant(c, req.CompanyID), id, *req.Active); err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "active": *req.Active})
}

// DeleteDocumentHandler removes a document, its chunks and index entries.
func (a *API) DeleteDocumentHandler(c *gin.Context) {
	if err := a.service.Delete(c.Request.Context(), tenant(c, ""), c.Param("id")); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetJobHandler returns an ingestion job.
func (a *API) GetJobHandler(c *gin.Context) {
	job, err := a.service.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// CancelJobHandler cancels a queued or running ingestion job.
func (a *API) CancelJobHandler(c *gin.Context) {
	id := c.Param("id")
	if err := a.service.CancelJob(c.Request.Context(), id); err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": id, "status": models.JobStatusCancelled})
}

// ReconcileHandler embeds chunks that were stored without a vector.
func (a *API) ReconcileHandler(c *gin.Context) {
	var req reconcileRequest
	if c.Request.ContentLength > 0 && !a.bind(c, &req) {
		return
	}
	res, err := a.service.Reconcile(c.Request.Context(), tenant(c, req.CompanyID))
	if err != nil {
		a.logger.WithErr(err).Warn("Reconcile stopped early")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "result": res})
		return
	}
	c.JSON(http.StatusOK, res)
}

// QuotaHandler reports the embedding credential pool.
func (a *API) QuotaHandler(c *gin.Context) {
	c.JSON(http.StatusOK, a.service.QuotaSnapshot())
}

// HealthHandler reports liveness and whether embeddings are being served.
func (a *API) HealthHandler(c *gin.Context) {
	serving := a.service.EmbeddingServing()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "embedding_serving": serving})
}

func (a *API) bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		a.logger.WithErr(err).Warn("Invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload"})
		return false
	}
	return true
}

func (a *API) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.WithErr(err).WithField("path", c.FullPath()).Error("Request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidArgument),
		errors.Is(err, pipeline.ErrInvalidRequest),
		errors.Is(err, pipeline.ErrEmptyDocument):
		return http.StatusBadRequest
	case errors.Is(err, chunkstore.ErrNotFound), errors.Is(err, jobs.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrJobFinished), errors.Is(err, chunkstore.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrRetrievalUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// tenant picks the company from the body, then the query string, then the header.
func tenant(c *gin.Context, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	if q := c.Query("company_id"); q != "" {
		return q
	}
	return c.GetHeader(CompanyHeader)
}

func queryInt(c *gin.Context, key string, fallback int) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return fallback
	}
	return n
}
