// Package mcptools exposes question answering and chunk search as MCP tools.
package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"DocSage/backend/go/internal/rag_service/rag/pipeline"
	"DocSage/backend/go/pkg/logger"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Querier is the part of the RAG service the tools call. Both the in-process
// service and the HTTP client satisfy it.
type Querier interface {
	Answer(ctx context.Context, question, companyID string) (*pipeline.Answer, error)
	Search(ctx context.Context, query, companyID string, limit int) (*pipeline.Retrieval, error)
}

// Tools holds the handlers.
type Tools struct {
	q             Querier
	defaultTenant string
	log           *logger.Logger
}

// New creates the tool handlers. defaultTenant is used when a call omits company_id.
func New(q Querier, defaultTenant string, log *logger.Logger) *Tools {
	if log == nil {
		log = logger.Discard()
	}
	return &Tools{q: q, defaultTenant: defaultTenant, log: log.Named("mcp")}
}

// NewServer creates an MCP server with every tool registered.
func NewServer(t *Tools, name, version string) *server.MCPServer {
	s := server.NewMCPServer(name, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	t.Register(s)
	return s
}

// Register adds the tools to s.
func (t *Tools) Register(s *server.MCPServer) {
	s.AddTool(mcp.NewTool("answer_question",
		mcp.WithDescription("Answer a question from the company's uploaded documents, citing the sources used"),
		mcp.WithString("question", mcp.Required(), mcp.Description("The question to answer")),
		mcp.WithString("company_id", mcp.Description("Tenant whose documents are searched")),
	), t.AnswerQuestion)

	s.AddTool(mcp.NewTool("search_chunks",
		mcp.WithDescription("Return the document passages most relevant to a query without generating an answer"),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search text")),
		mcp.WithString("company_id", mcp.Description("Tenant whose documents are searched")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of passages")),
	), t.SearchChunks)
}

// AnswerQuestion handles answer_question.
func (t *Tools) AnswerQuestion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := req.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tenant, res := t.tenant(req)
	if res != nil {
		return res, nil
	}

	ans, err := t.q.Answer(ctx, question, tenant)
	if err != nil {
		t.log.WithErr(err).Warn("answer_question failed")
		return mcp.NewToolResultError(fmt.Sprintf("answer failed: %v", err)), nil
	}

	var b strings.Builder
	b.WriteString(ans.Text)
	if len(ans.Sources) > 0 {
		b.WriteString("\n\nSources:")
		for _, s := range ans.Sources {
			fmt.Fprintf(&b, "\n- %s #%d", s.DocumentName, s.ChunkIndex)
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

// SearchChunks handles search_chunks. The result is the retrieval as JSON.
func (t *Tools) SearchChunks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tenant, res := t.tenant(req)
	if res != nil {
		return res, nil
	}
	limit := req.GetInt("limit", 0)

	r, err := t.q.Search(ctx, query, tenant, limit)
	if err != nil && !(errors.Is(err, pipeline.ErrRetrievalUnavailable) && r != nil) {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	data, jerr := json.Marshal(r)
	if jerr != nil {
		return nil, jerr
	}
	if err != nil {
		// 检索全部失败时仍返回部分结果，但标记为错误
		out := mcp.NewToolResultText(string(data))
		out.IsError = true
		return out, nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (t *Tools) tenant(req mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	tenant := req.GetString("company_id", t.defaultTenant)
	if strings.TrimSpace(tenant) == "" {
		return "", mcp.NewToolResultError("company_id is required")
	}
	return tenant, nil
}
