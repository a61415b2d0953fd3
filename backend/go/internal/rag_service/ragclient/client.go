// Package ragclient is a typed client for the RAG service HTTP API.
package ragclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"DocSage/backend/go/internal/config"
	"DocSage/backend/go/internal/models"
	"DocSage/backend/go/internal/rag_service/rag/pipeline"
	"DocSage/backend/go/internal/rag_service/rag/quota"
	httpclient "DocSage/backend/go/pkg/http"
)

// Client talks to one RAG service instance.
type Client struct {
	http *httpclient.Client
}

// New creates a Client for baseURL. companyID, when set, is sent as the
// default tenant header.
func New(baseURL, companyID string, breaker config.CircuitBreakerConfig) (*Client, error) {
	c, err := httpclient.NewClient(baseURL, breaker, httpclient.WithHeader("X-Company-ID", companyID))
	if err != nil {
		return nil, err
	}
	return &Client{http: c}, nil
}

// Answer asks a question.
func (c *Client) Answer(ctx context.Context, question, companyID string) (*pipeline.Answer, error) {
	var out pipeline.Answer
	err := c.http.DoJSON(ctx, http.MethodPost, "/api/v1/rag/answer",
		map[string]string{"question": question, "company_id": companyID}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Search runs retrieval only. A 503 response still returns the partial
// retrieval together with pipeline.ErrRetrievalUnavailable.
func (c *Client) Search(ctx context.Context, query, companyID string, limit int) (*pipeline.Retrieval, error) {
	var out pipeline.Retrieval
	err := c.http.DoJSON(ctx, http.MethodPost, "/api/v1/rag/search",
		map[string]any{"query": query, "company_id": companyID, "limit": limit}, &out)
	var se *httpclient.StatusError
	if errors.As(err, &se) && se.Code == http.StatusServiceUnavailable {
		return &out, fmt.Errorf("%w: %s", pipeline.ErrRetrievalUnavailable, se.Message)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Ingest indexes a document and waits for the result.
func (c *Client) Ingest(ctx context.Context, req models.IngestRequest) (*models.IngestResult, error) {
	var out models.IngestResult
	if err := c.http.DoJSON(ctx, http.MethodPost, "/api/v1/rag/documents", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// IngestAsync queues a document and returns the job id.
func (c *Client) IngestAsync(ctx context.Context, req models.IngestRequest) (string, error) {
	body := struct {
		models.IngestRequest
		Async bool `json:"async"`
	}{req, true}
	var out struct {
		JobID string `json:"job_id"`
	}
	if err := c.http.DoJSON(ctx, http.MethodPost, "/api/v1/rag/documents", body, &out); err != nil {
		return "", err
	}
	return out.JobID, nil
}

// GetJob returns an ingestion job.
func (c *Client) GetJob(ctx context.Context, id string) (*models.IngestJob, error) {
	var out models.IngestJob
	if err := c.http.DoJSON(ctx, http.MethodGet, "/api/v1/rag/jobs/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelJob cancels an ingestion job.
func (c *Client) CancelJob(ctx context.Context, id string) error {
	return c.http.DoJSON(ctx, http.MethodPost, "/api/v1/rag/jobs/"+url.PathEscape(id)+"/cancel", nil, nil)
}

// ListDocuments lists the tenant's documents.
func (c *Client) ListDocuments(ctx context.Context, companyID string) ([]*models.Document, error) {
	var out struct {
		Documents []*models.Document `json:"documents"`
	}
	path := "/api/v1/rag/documents?company_id=" + url.QueryEscape(companyID)
	if err := c.http.DoJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Documents, nil
}

// SetActive includes or excludes a document from search.
func (c *Client) SetActive(ctx context.Context, companyID, id string, active bool) error {
	return c.http.DoJSON(ctx, http.MethodPatch, "/api/v1/rag/documents/"+url.PathEscape(id),
		map[string]any{"company_id": companyID, "active": active}, nil)
}

// Delete removes a document.
func (c *Client) Delete(ctx context.Context, companyID, id string) error {
	path := "/api/v1/rag/documents/" + url.PathEscape(id) + "?company_id=" + url.QueryEscape(companyID)
	return c.http.DoJSON(ctx, http.MethodDelete, path, nil, nil)
}

// Reconcile embeds chunks left without a vector.
func (c *Client) Reconcile(ctx context.Context, companyID string) (*pipeline.ReconcileResult, error) {
	var out pipeline.ReconcileResult
	if err := c.http.DoJSON(ctx, http.MethodPost, "/api/v1/rag/reconcile", map[string]string{"company_id": companyID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Quota returns the credential pool snapshot.
func (c *Client) Quota(ctx context.Context) (*quota.Snapshot, error) {
	var out quota.Snapshot
	if err := c.http.DoJSON(ctx, http.MethodGet, "/api/v1/rag/quota", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
