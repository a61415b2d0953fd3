package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"DocSage/backend/go/internal/config"
	"DocSage/backend/go/internal/rag_service/rag/cache"
	"DocSage/backend/go/internal/rag_service/rag/interfaces"
	"DocSage/backend/go/internal/rag_service/rag/quota"
	"DocSage/backend/go/internal/rag_service/rag/schema"
	"DocSage/backend/go/internal/rag_service/rag/search"
	"DocSage/backend/go/internal/rag_service/rag/textnorm"
	"DocSage/backend/go/pkg/circuitbreaker"
	"DocSage/backend/go/pkg/logger"
	"DocSage/backend/go/pkg/metrics"
)

// ErrRetrievalUnavailable is returned when every strategy failed.
var ErrRetrievalUnavailable = errors.New("retrieval unavailable")

// Strategy is one search method in the retrieval chain.
type Strategy interface {
	Name() schema.Method
	// Search returns ranked results and whether they are sufficient to stop the chain.
	Search(ctx context.Context, query, companyID string, limit int) ([]schema.SearchResult, bool, error)
}

// VectorStrategy embeds the query and runs vector search.
type VectorStrategy struct {
	embedder      interfaces.Embedder
	engine        *search.VectorEngine
	minSufficient int
}

// NewVectorStrategy creates a VectorStrategy.
func NewVectorStrategy(embedder interfaces.Embedder, engine *search.VectorEngine, minSufficient int) *VectorStrategy {
	return &VectorStrategy{embedder: embedder, engine: engine, minSufficient: max(minSufficient, 1)}
}

func (s *VectorStrategy) Name() schema.Method { return schema.MethodVector }

func (s *VectorStrategy) Search(ctx context.Context, query, companyID string, limit int) ([]schema.SearchResult, bool, error) {
	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, false, fmt.Errorf("embed query: %w", err)
	}
	results, err := s.engine.Search(ctx, vec, companyID, limit)
	if err != nil {
		return nil, false, err
	}
	return results, len(results) >= s.minSufficient, nil
}

// FuzzyStrategy runs lexical search over normalized text.
type FuzzyStrategy struct {
	engine        *search.FuzzyEngine
	minSufficient int
}

// NewFuzzyStrategy creates a FuzzyStrategy.
func NewFuzzyStrategy(engine *search.FuzzyEngine, minSufficient int) *FuzzyStrategy {
	return &FuzzyStrategy{engine: engine, minSufficient: max(minSufficient, 1)}
}

func (s *FuzzyStrategy) Name() schema.Method { return schema.MethodFuzzy }

func (s *FuzzyStrategy) Search(ctx context.Context, query, companyID string, _ int) ([]schema.SearchResult, bool, error) {
	results, err := s.engine.Search(ctx, query, companyID)
	if err != nil {
		return nil, false, err
	}
	return results, len(results) >= s.minSufficient, nil
}

// RetrievalOptions configures a RetrievalPipeline.
type RetrievalOptions struct {
	MinSufficient int
	// AlwaysMerge runs every strategy even when an earlier one was sufficient.
	AlwaysMerge bool
	CacheTTL    time.Duration

	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

// RetrievalOptionsFromConfig maps config sections onto RetrievalOptions.
func RetrievalOptionsFromConfig(cfg *config.AppConfig) RetrievalOptions {
	return RetrievalOptions{
		MinSufficient: cfg.Retrieval.MinSufficient,
		AlwaysMerge:   cfg.Retrieval.AlwaysMerge,
		CacheTTL:      config.Duration(cfg.Cache.TTL, 5*time.Minute),
	}
}

// Retrieval is the merged outcome of one orchestrated search.
type Retrieval struct {
	Results    []schema.SearchResult `json:"results"`
	Strategy   schema.Method         `json:"strategy,omitempty"` // method(s) that produced Results
	Sufficient bool                  `json:"sufficient"`
	Attempted  []schema.Method       `json:"attempted"`
	// Degraded is set when at least one strategy failed.
	Degraded bool `json:"degraded,omitempty"`
	// CircuitOpen is set when a strategy failed because the embedding circuit is open.
	CircuitOpen bool `json:"circuit_open,omitempty"`
	Cached      bool `json:"cached,omitempty"`
}

// TopSimilarity returns the highest raw similarity among the results.
func (r *Retrieval) TopSimilarity() float64 {
	top := 0.0
	for _, res := range r.Results {
		top = max(top, res.Similarity)
	}
	return top
}

// RetrievalPipeline walks an ordered chain of strategies, stopping at the first
// sufficient one, and merges everything it collected.
type RetrievalPipeline struct {
	strategies []Strategy
	cache      interfaces.Cache
	opts       RetrievalOptions
	log        *logger.Logger
}

// NewRetrievalPipeline creates a new RetrievalPipeline. cache may be nil.
func NewRetrievalPipeline(strategies []Strategy, c interfaces.Cache, opts RetrievalOptions) *RetrievalPipeline {
	if opts.MinSufficient <= 0 {
		opts.MinSufficient = 1
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	return &RetrievalPipeline{strategies: strategies, cache: c, opts: opts, log: opts.Logger.Named("retrieval")}
}

// Run executes the strategy chain for a tenant. It returns ErrRetrievalUnavailable,
// together with a Retrieval describing what was attempted, only when every
// strategy failed.
func (p *RetrievalPipeline) Run(ctx context.Context, query, companyID string, limit int) (*Retrieval, error) {
	start := time.Now()
	defer func() { p.opts.Metrics.ObserveRetrieval(time.Since(start)) }()

	if textnorm.Normalize(query) == "" {
		return &Retrieval{}, nil
	}

	key := cache.Key(companyID, query, limit)
	if r, ok := p.fromCache(ctx, key); ok {
		return r, nil
	}

	r := &Retrieval{}
	merged := make(map[string]schema.SearchResult)
	failures := 0
	var lastErr error
	for _, s := range p.strategies {
		r.Attempted = append(r.Attempted, s.Name())
		results, sufficient, err := s.Search(ctx, query, companyID, limit)
		if err != nil {
			failures++
			lastErr = err
			r.Degraded = true
			if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, quota.ErrNoCredentialAvailable) {
				r.CircuitOpen = true
			}
			p.log.WithPayload(map[string]interface{}{
				"strategy":   s.Name(),
				"company_id": companyID,
			}).WithErr(err).Warn("search strategy failed, falling back")
			continue
		}
		mergeResults(merged, results)
		if sufficient && !p.opts.AlwaysMerge {
			break
		}
	}

	r.Results = sortedResults(merged)
	r.Strategy = strategyOf(r.Results)
	r.Sufficient = len(r.Results) >= p.opts.MinSufficient

	p.log.WithPayload(map[string]interface{}{
		"company_id": companyID,
		"attempted":  r.Attempted,
		"strategy":   r.Strategy,
		"results":    len(r.Results),
		"degraded":   r.Degraded,
	}).Info("retrieval finished")

	if failures > 0 && failures == len(p.strategies) {
		return r, fmt.Errorf("%w: %v", ErrRetrievalUnavailable, lastErr)
	}
	if !r.Degraded {
		p.toCache(ctx, key, r)
	}
	return r, nil
}

// Invalidate drops the cached retrievals of a tenant.
func (p *RetrievalPipeline) Invalidate(ctx context.Context, companyID string) {
	if p.cache == nil {
		return
	}
	if err := p.cache.InvalidatePrefix(ctx, cache.TenantPrefix(companyID)); err != nil {
		p.log.WithField("company_id", companyID).WithErr(err).Warn("cache invalidation failed")
	}
}

func (p *RetrievalPipeline) fromCache(ctx context.Context, key string) (*Retrieval, bool) {
	if p.cache == nil {
		return nil, false
	}
	raw, ok, err := p.cache.Get(ctx, key)
	if err != nil {
		p.log.WithErr(err).Warn("cache read failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var r Retrieval
	if err := json.Unmarshal(raw, &r); err != nil {
		p.log.WithErr(err).Warn("discarding undecodable cache entry")
		return nil, false
	}
	r.Cached = true
	return &r, true
}

func (p *RetrievalPipeline) toCache(ctx context.Context, key string, r *Retrieval) {
	if p.cache == nil || p.opts.CacheTTL <= 0 {
		return
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := p.cache.Set(ctx, key, raw, p.opts.CacheTTL); err != nil {
		p.log.WithErr(err).Warn("cache write failed")
	}
}

// mergeResults dedups by chunk id keeping the higher score. A chunk found by
// more than one method is tagged hybrid.
func mergeResults(merged map[string]schema.SearchResult, results []schema.SearchResult) {
	for _, r := range results {
		prev, ok := merged[r.ChunkID]
		if !ok {
			merged[r.ChunkID] = r
			continue
		}
		method := prev.Method
		if method != r.Method {
			method = schema.MethodHybrid
		}
		best := prev
		if r.Score > prev.Score {
			best = r
		}
		best.Method = method
		best.Similarity = max(prev.Similarity, r.Similarity)
		merged[r.ChunkID] = best
	}
}

func sortedResults(merged map[string]schema.SearchResult) []schema.SearchResult {
	out := make([]schema.SearchResult, 0, len(merged))
	for _, r := range merged {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].DocumentID != out[j].DocumentID {
			return out[i].DocumentID < out[j].DocumentID
		}
		return out[i].ChunkIndex < out[j].ChunkIndex
	})
	return out
}

func strategyOf(results []schema.SearchResult) schema.Method {
	var m schema.Method
	for _, r := range results {
		switch {
		case m == "":
			m = r.Method
		case m != r.Method:
			return schema.MethodHybrid
		}
	}
	return m
}

// PackContext keeps results in order while their content fits in budget
// characters. It stops at the first result that would overflow and never
// truncates a chunk.
func PackContext(results []schema.SearchResult, budget int) []schema.SearchResult {
	if budget <= 0 {
		return results
	}
	used := 0
	for i, r := range results {
		n := textnorm.RuneLen(r.Content)
		if used+n > budget {
			return results[:i]
		}
		used += n
	}
	return results
}
