package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"DocSage/backend/go/internal/config"
	"DocSage/backend/go/internal/rag_service/rag/interfaces"
	"DocSage/backend/go/internal/rag_service/rag/schema"
	"DocSage/backend/go/pkg/logger"
	"DocSage/backend/go/pkg/metrics"
)

// Status tells the caller how an answer was produced.
type Status string

const (
	StatusOK          Status = "ok"
	StatusNoResults   Status = "no_results"
	StatusDegraded    Status = "degraded"
	StatusCircuitOpen Status = "circuit_open"
)

// Answer is the result of QAPipeline.Run. Text is always safe to show to end users.
type Answer struct {
	Text          string                `json:"answer"`
	ChunksUsed    int                   `json:"chunks_used"`
	TopSimilarity float64               `json:"top_similarity"`
	Strategy      schema.Method         `json:"strategy"`
	Status        Status                `json:"status"`
	Sources       []schema.SearchResult `json:"sources"`
}

// QAOptions configures a QAPipeline.
type QAOptions struct {
	ContextBudget      int
	NoResultMessage    string
	UnavailableMessage string
	Timeout            time.Duration

	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

// QAOptionsFromConfig maps config sections onto QAOptions.
func QAOptionsFromConfig(cfg *config.AppConfig) QAOptions {
	return QAOptions{
		ContextBudget:      cfg.Retrieval.ContextBudget,
		NoResultMessage:    cfg.Retrieval.NoResultMessage,
		UnavailableMessage: cfg.Retrieval.UnavailableMessage,
		Timeout:            config.Duration(cfg.LLM.Timeout, 2*time.Minute),
	}
}

// QAPipeline is responsible for generating an answer based on a query and retrieved chunks.
type QAPipeline struct {
	retrieval *RetrievalPipeline
	llm       interfaces.LLM
	opts      QAOptions
	log       *logger.Logger
}

// NewQAPipeline creates a new QAPipeline.
func NewQAPipeline(retrieval *RetrievalPipeline, llm interfaces.LLM, opts QAOptions) *QAPipeline {
	if opts.ContextBudget <= 0 {
		opts.ContextBudget = 120000
	}
	if opts.NoResultMessage == "" {
		opts.NoResultMessage = "No relevant information was found in the uploaded documents."
	}
	if opts.UnavailableMessage == "" {
		opts.UnavailableMessage = "The answer could not be produced right now. Please try again later."
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	return &QAPipeline{retrieval: retrieval, llm: llm, opts: opts, log: opts.Logger.Named("qa")}
}

// Run retrieves context for the question and asks the LLM to answer from it.
// Failures never surface as errors: they become a status and a user-facing message.
func (p *QAPipeline) Run(ctx context.Context, question, companyID string) *Answer {
	ans := p.run(ctx, question, companyID)
	p.opts.Metrics.RecordAnswer(string(ans.Status))
	return ans
}

func (p *QAPipeline) run(ctx context.Context, question, companyID string) *Answer {
	log := p.log.WithField("company_id", companyID)

	r, err := p.retrieval.Run(ctx, question, companyID, 0)
	if err != nil && !errors.Is(err, ErrRetrievalUnavailable) {
		log.WithErr(err).Error("retrieval failed")
	}
	if r == nil {
		r = &Retrieval{Degraded: true}
	}

	packed := PackContext(r.Results, p.opts.ContextBudget)
	ans := &Answer{
		ChunksUsed: len(packed),
		Strategy:   r.Strategy,
		Sources:    packed,
	}
	for _, s := range packed {
		ans.TopSimilarity = max(ans.TopSimilarity, s.Similarity)
	}

	if len(packed) == 0 {
		switch {
		case r.CircuitOpen:
			ans.Status, ans.Text = StatusCircuitOpen, p.opts.UnavailableMessage
		case r.Degraded:
			ans.Status, ans.Text = StatusDegraded, p.opts.UnavailableMessage
		default:
			ans.Status, ans.Text = StatusNoResults, p.opts.NoResultMessage
		}
		log.WithField("status", ans.Status).Info("no context for question")
		return ans
	}

	genCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()
	log.Info(fmt.Sprintf("Sending prompt with %d chunks to LLM", len(packed)))
	text, err := p.llm.Generate(genCtx, BuildPrompt(question, packed))
	if err != nil {
		log.WithErr(err).Error("LLM failed to generate answer")
		ans.Status, ans.Text = StatusDegraded, p.opts.UnavailableMessage
		return ans
	}

	ans.Text = strings.TrimSpace(text)
	ans.Status = StatusOK
	if r.Degraded {
		ans.Status = StatusDegraded
	}
	return ans
}

// BuildPrompt lays out the question and the chunks in the given order. Each
// chunk is attributed as [name #index] and passed verbatim.
func BuildPrompt(question string, chunks []schema.SearchResult) string {
	var sb strings.Builder

	sb.WriteString("Answer the question using only the document excerpts below. ")
	sb.WriteString("Cite excerpts by their [name #index] label. ")
	sb.WriteString("If the excerpts do not contain the answer, say so.\n\nExcerpts:\n")

	for _, c := range chunks {
		name := c.DocumentName
		if name == "" {
			name = c.DocumentID
		}
		sb.WriteString("---\n")
		sb.WriteString(fmt.Sprintf("[%s #%d]\n", name, c.ChunkIndex))
		sb.WriteString(c.Content)
		sb.WriteString("\n")
	}

	sb.WriteString("---\n\n")
	sb.WriteString(fmt.Sprintf("Question: %s", question))

	return sb.String()
}
