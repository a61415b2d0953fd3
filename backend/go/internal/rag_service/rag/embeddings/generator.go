// Package embeddings turns chunk text into vectors through a keyed backend,
// rotating credentials from the quota pool and retrying failed items.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"DocSage/backend/go/internal/config"
	"DocSage/backend/go/internal/embedding"
	"DocSage/backend/go/internal/rag_service/rag/quota"
	"DocSage/backend/go/pkg/circuitbreaker"
	"DocSage/backend/go/pkg/logger"
	"DocSage/backend/go/pkg/metrics"

	"golang.org/x/sync/errgroup"
)

// CredentialPool is the subset of *quota.Manager the generator depends on.
type CredentialPool interface {
	Acquire() (quota.Credential, error)
	Wait(ctx context.Context, cred quota.Credential) error
	ReportSuccess(cred quota.Credential)
	ReportFailure(cred quota.Credential, kind embedding.Kind)
	CircuitState() circuitbreaker.State
}

var _ CredentialPool = (*quota.Manager)(nil)

// Options controls batching and retries.
type Options struct {
	Dimension       int
	BatchSize       int
	MaxRetries      int // retries after the first attempt, per batch and pass
	QueryRetries    int // retries for EmbedQuery, which runs no reconciliation passes
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	ReconcilePasses int
	Concurrency     int
	CallTimeout     time.Duration

	// Sleep waits between attempts. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error

	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

// OptionsFromConfig maps the embedding config section onto Options.
func OptionsFromConfig(cfg config.EmbeddingConfig) Options {
	return Options{
		Dimension:       cfg.Dimension,
		BatchSize:       cfg.BatchSize,
		MaxRetries:      cfg.MaxRetries,
		QueryRetries:    cfg.QueryRetries,
		InitialBackoff:  config.Duration(cfg.InitialBackoff, 2*time.Second),
		MaxBackoff:      config.Duration(cfg.MaxBackoff, 30*time.Second),
		ReconcilePasses: cfg.ReconcilePasses,
		Concurrency:     cfg.Concurrency,
		CallTimeout:     config.Duration(cfg.CallTimeout, 10*time.Minute),
	}
}

func (o *Options) setDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.QueryRetries < 0 {
		o.QueryRetries = 0
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 2 * time.Second
	}
	if o.MaxBackoff < o.InitialBackoff {
		o.MaxBackoff = o.InitialBackoff
	}
	if o.ReconcilePasses < 0 {
		o.ReconcilePasses = 0
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 10 * time.Minute
	}
	if o.Sleep == nil {
		o.Sleep = sleep
	}
	if o.Logger == nil {
		o.Logger = logger.Discard()
	}
}

// Report is the terminal outcome of one GenerateBatch call. Results[i]
// belongs to texts[i]; every entry is either a vector of the configured
// dimension or a classified failure.
type Report struct {
	Results   []embedding.Outcome
	Embedded  int
	Failed    int
	Cancelled int
	Passes    int
}

// FailedIndices returns the indices that did not end embedded.
func (r *Report) FailedIndices() []int {
	var out []int
	for i, o := range r.Results {
		if !o.OK() {
			out = append(out, i)
		}
	}
	return out
}

// Generator produces embeddings through one backend and one credential pool.
type Generator struct {
	backend embedding.Backend
	pool    CredentialPool
	opts    Options
	log     *logger.Logger
}

// NewGenerator creates a Generator.
func NewGenerator(backend embedding.Backend, pool CredentialPool, opts Options) *Generator {
	opts.setDefaults()
	return &Generator{
		backend: backend,
		pool:    pool,
		opts:    opts,
		log:     opts.Logger.Named("embeddings").WithField("provider", backend.Name()),
	}
}

// Dimension returns the configured vector dimension, zero if unchecked.
func (g *Generator) Dimension() int { return g.opts.Dimension }

// budget bounds the retries of one generate call.
type budget struct {
	passes  int           // reconciliation passes after the first
	retries int           // retries per batch and pass
	maxWait time.Duration // cap on a single backoff
}

// GenerateBatch embeds texts for storage. It never returns early with items
// in an undecided state: each text is embedded or carries a failure kind.
func (g *Generator) GenerateBatch(ctx context.Context, texts []string) *Report {
	return g.generate(ctx, texts, embedding.TaskDocument, budget{
		passes:  g.opts.ReconcilePasses,
		retries: g.opts.MaxRetries,
		maxWait: g.opts.MaxBackoff,
	})
}

// EmbedQuery embeds a single search question. It gives up after QueryRetries
// short retries so the caller can fall back to other strategies.
func (g *Generator) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	r := g.generate(ctx, []string{query}, embedding.TaskQuery, budget{
		retries: g.opts.QueryRetries,
		maxWait: g.opts.InitialBackoff,
	})
	if o := r.Results[0]; !o.OK() {
		return nil, o.Err
	}
	return r.Results[0].Vector, nil
}

func (g *Generator) generate(ctx context.Context, texts []string, task embedding.Task, b budget) *Report {
	report := &Report{Results: make([]embedding.Outcome, len(texts))}
	if len(texts) == 0 {
		return report
	}

	pending := make([]int, len(texts))
	for i := range pending {
		pending[i] = i
	}

	for pass := 0; pass <= b.passes && len(pending) > 0; pass++ {
		if pass > 0 {
			if g.pool.CircuitState() == circuitbreaker.Open {
				g.log.WithPayload(map[string]interface{}{"pending": len(pending), "pass": pass}).
					Warn("circuit open, stopping reconciliation")
				break
			}
			if ctx.Err() != nil {
				g.markAll(report.Results, pending, cancelled(ctx.Err()))
				break
			}
			g.log.WithPayload(map[string]interface{}{"pending": len(pending), "pass": pass}).Info("reconciliation pass")
		}
		report.Passes++
		g.runPass(ctx, texts, pending, task, b, report.Results)
		pending = retryable(report.Results, pending)
	}

	for _, o := range report.Results {
		switch {
		case o.OK():
			report.Embedded++
		case o.Err.Kind == embedding.KindCancelled:
			report.Cancelled++
		default:
			report.Failed++
		}
	}
	g.opts.Metrics.RecordItems("embedded", report.Embedded)
	g.opts.Metrics.RecordItems("failed", report.Failed)
	g.opts.Metrics.RecordItems("cancelled", report.Cancelled)
	if report.Failed > 0 {
		g.log.WithPayload(map[string]interface{}{
			"embedded": report.Embedded,
			"failed":   report.Failed,
			"passes":   report.Passes,
		}).Warn("embedding finished with failures")
	}
	return report
}

// runPass dispatches the pending indices in batches of BatchSize on a bounded
// pool. Cancellation is checked before each dispatch; a dispatched batch runs
// to completion.
func (g *Generator) runPass(ctx context.Context, texts []string, pending []int, task embedding.Task, b budget, results []embedding.Outcome) {
	var eg errgroup.Group
	eg.SetLimit(g.opts.Concurrency)

	for start := 0; start < len(pending); start += g.opts.BatchSize {
		idx := pending[start:min(start+g.opts.BatchSize, len(pending))]
		if err := ctx.Err(); err != nil {
			g.markAll(results, pending[start:], cancelled(err))
			break
		}
		eg.Go(func() error {
			g.runBatch(ctx, texts, idx, task, b, results)
			return nil
		})
	}
	_ = eg.Wait()
}

// runBatch is the per-batch retry state machine: attempt, classify, back off,
// until the batch succeeds or the retry budget is spent. Batches own disjoint
// indices of results. A rejected multi-text batch is split so only the
// offending texts fail.
func (g *Generator) runBatch(ctx context.Context, texts []string, idx []int, task embedding.Task, b budget, results []embedding.Outcome) {
	batch := make([]string, len(idx))
	for i, j := range idx {
		batch[i] = texts[j]
	}

	var last *embedding.Error
	for attempt := 0; attempt <= b.retries; attempt++ {
		if attempt > 0 {
			wait := min(g.backoff(attempt-1), b.maxWait)
			var nce *quota.NoCredentialError
			if last != nil && errors.As(last, &nce) && nce.RetryAfter > wait {
				wait = min(nce.RetryAfter, b.maxWait)
			}
			if err := g.opts.Sleep(ctx, wait); err != nil {
				g.markAll(results, idx, cancelled(err))
				g.opts.Metrics.RecordBatch("cancelled")
				return
			}
		}

		cred, err := g.pool.Acquire()
		if err != nil {
			var nce *quota.NoCredentialError
			switch {
			case errors.As(err, &nce) && nce.CircuitOpen:
				// 熔断打开时整批直接失败，不调用后端
				g.markAll(results, idx, embedding.NewError(embedding.KindQuotaExceeded, "circuit open", err))
				g.opts.Metrics.RecordBatch("circuit_open")
				return
			case errors.As(err, &nce) && nce.AllDisabled:
				g.markAll(results, idx, embedding.NewError(embedding.KindAuthFailure, "all credentials disabled", err))
				g.opts.Metrics.RecordBatch("no_credential")
				return
			}
			last = embedding.NewError(embedding.KindQuotaExceeded, "no active credential", err)
			continue
		}

		if err := g.pool.Wait(ctx, cred); err != nil {
			g.pool.ReportFailure(cred, embedding.KindCancelled)
			g.markAll(results, idx, cancelled(err))
			g.opts.Metrics.RecordBatch("cancelled")
			return
		}

		outs, callErr := g.call(ctx, cred, batch, task)
		if callErr != nil {
			g.pool.ReportFailure(cred, callErr.Kind)
			g.log.WithPayload(map[string]interface{}{
				"credential": cred.ID,
				"attempt":    attempt + 1,
				"kind":       callErr.Kind.String(),
				"batch":      len(batch),
			}).WithErr(callErr).Warn("embedding batch failed")
			if callErr.Kind == embedding.KindInvalidRequest && len(idx) > 1 {
				g.opts.Metrics.RecordBatch("split")
				for _, j := range idx {
					g.runBatch(ctx, texts, []int{j}, task, b, results)
				}
				return
			}
			if !callErr.Kind.Retryable() {
				g.markAll(results, idx, callErr)
				g.opts.Metrics.RecordBatch(callErr.Kind.String())
				return
			}
			last = callErr
			continue
		}

		g.settle(cred, idx, outs, results)
		return
	}

	g.markAll(results, idx, last)
	g.opts.Metrics.RecordBatch("exhausted")
}

// call performs one backend request. The request is detached from ctx so a
// cancelled job does not abort an in-flight call; CallTimeout bounds it.
func (g *Generator) call(ctx context.Context, cred quota.Credential, batch []string, task embedding.Task) ([]embedding.Outcome, *embedding.Error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.opts.CallTimeout)
	defer cancel()

	start := time.Now()
	outs, err := g.backend.EmbedBatch(callCtx, embedding.Request{APIKey: cred.Secret, Texts: batch, Task: task})
	if err != nil {
		e := embedding.Classify(err)
		g.opts.Metrics.RecordBackendCall(g.backend.Name(), e.Kind.String(), time.Since(start))
		return nil, e
	}
	g.opts.Metrics.RecordBackendCall(g.backend.Name(), "ok", time.Since(start))
	if len(outs) != len(batch) {
		return nil, embedding.NewError(embedding.KindTransientNetwork,
			fmt.Sprintf("backend returned %d results for %d texts", len(outs), len(batch)), nil)
	}
	return outs, nil
}

// settle stores per-item outcomes of a successful call and reports the
// credential's health once for the whole batch.
func (g *Generator) settle(cred quota.Credential, idx []int, outs []embedding.Outcome, results []embedding.Outcome) {
	quotaHit, mismatched := false, 0
	for i, o := range outs {
		if o.OK() && g.opts.Dimension > 0 && len(o.Vector) != g.opts.Dimension {
			o = embedding.Outcome{Err: embedding.DimensionError(len(o.Vector), g.opts.Dimension)}
			mismatched++
		}
		if o.Err != nil && o.Err.Kind == embedding.KindQuotaExceeded {
			quotaHit = true
		}
		results[idx[i]] = o
	}

	if mismatched > 0 {
		g.log.WithPayload(map[string]interface{}{
			"items":    mismatched,
			"expected": g.opts.Dimension,
		}).Error("embedding dimension mismatch, check embedding.dimension and model")
	}

	if quotaHit {
		g.pool.ReportFailure(cred, embedding.KindQuotaExceeded)
		g.opts.Metrics.RecordBatch("partial")
		return
	}
	g.pool.ReportSuccess(cred)
	g.opts.Metrics.RecordBatch("ok")
}

func (g *Generator) backoff(retry int) time.Duration {
	d := g.opts.InitialBackoff
	for i := 0; i < retry && d < g.opts.MaxBackoff; i++ {
		d *= 2
	}
	return min(d, g.opts.MaxBackoff)
}

func (g *Generator) markAll(results []embedding.Outcome, idx []int, err *embedding.Error) {
	if err == nil {
		err = embedding.NewError(embedding.KindTransientNetwork, "retry budget exhausted", nil)
	}
	for _, j := range idx {
		results[j] = embedding.Outcome{Err: err}
	}
}

// retryable keeps the indices whose failure a later pass may fix.
func retryable(results []embedding.Outcome, idx []int) []int {
	var out []int
	for _, j := range idx {
		if o := results[j]; !o.OK() && o.Err.Kind.Retryable() {
			out = append(out, j)
		}
	}
	return out
}

func cancelled(err error) *embedding.Error {
	return embedding.NewError(embedding.KindCancelled, "job cancelled before dispatch", err)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
