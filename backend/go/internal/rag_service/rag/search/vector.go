// Package search implements the vector and fuzzy search engines over a ChunkStore.
package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"DocSage/backend/go/internal/config"
	"DocSage/backend/go/internal/embedding"
	"DocSage/backend/go/internal/rag_service/rag/interfaces"
	"DocSage/backend/go/internal/rag_service/rag/schema"
	"DocSage/backend/go/internal/rag_service/rag/textnorm"
	"DocSage/backend/go/pkg/logger"
	"DocSage/backend/go/pkg/metrics"

	"github.com/cespare/xxhash/v2"
)

// ErrSearchUnavailable wraps failures of the underlying store or index.
var ErrSearchUnavailable = errors.New("search unavailable")

// Weights of the fused vector score.
const (
	similarityWeight = 0.8
	lengthWeight     = 0.1
	neighbourWeight  = 0.1
)

// VectorOptions configures a VectorEngine.
type VectorOptions struct {
	Limit               int
	CandidateFactor     int
	MinFloor            float64
	AdaptiveRatio       float64
	PerDocumentCap      int
	DuplicateSimilarity float64

	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

// VectorOptionsFromConfig maps the search config section onto VectorOptions.
func VectorOptionsFromConfig(cfg config.SearchConfig) VectorOptions {
	return VectorOptions{
		Limit:               cfg.VectorLimit,
		CandidateFactor:     cfg.CandidateFactor,
		MinFloor:            cfg.MinSimilarity,
		AdaptiveRatio:       cfg.AdaptiveRatio,
		PerDocumentCap:      cfg.PerDocumentCap,
		DuplicateSimilarity: cfg.DuplicateSimilarity,
	}
}

func (o *VectorOptions) setDefaults() {
	if o.Limit <= 0 {
		o.Limit = 10
	}
	if o.CandidateFactor <= 0 {
		o.CandidateFactor = 4
	}
	if o.AdaptiveRatio <= 0 {
		o.AdaptiveRatio = 0.6
	}
	if o.PerDocumentCap <= 0 {
		o.PerDocumentCap = 3
	}
	if o.DuplicateSimilarity <= 0 {
		o.DuplicateSimilarity = 0.97
	}
	if o.Logger == nil {
		o.Logger = logger.Discard()
	}
}

// VectorEngine ranks chunks by cosine similarity to a query embedding.
type VectorEngine struct {
	store interfaces.ChunkStore
	index interfaces.VectorIndex
	opts  VectorOptions
	log   *logger.Logger
}

// NewVectorEngine creates a VectorEngine. index may be nil, in which case the
// store's own similarity operator is used.
func NewVectorEngine(store interfaces.ChunkStore, index interfaces.VectorIndex, opts VectorOptions) *VectorEngine {
	opts.setDefaults()
	return &VectorEngine{store: store, index: index, opts: opts, log: opts.Logger.Named("vector_search")}
}

// DefaultLimit returns the configured result limit.
func (e *VectorEngine) DefaultLimit() int { return e.opts.Limit }

// Search returns at most limit results above the adaptive cutoff, at most
// PerDocumentCap per document, ordered by fused score.
func (e *VectorEngine) Search(ctx context.Context, query []float32, companyID string, limit int) ([]schema.SearchResult, error) {
	if limit <= 0 {
		limit = e.opts.Limit
	}
	candidates, err := e.candidates(ctx, companyID, query, limit*e.opts.CandidateFactor)
	if err != nil {
		e.opts.Metrics.RecordSearch(string(schema.MethodVector), "error")
		return nil, fmt.Errorf("%w: %v", ErrSearchUnavailable, err)
	}
	if len(candidates) == 0 {
		e.opts.Metrics.RecordSearch(string(schema.MethodVector), "empty")
		return nil, nil
	}

	sims := make([]float64, len(candidates))
	for i, c := range candidates {
		sims[i] = c.Similarity
	}
	cutoff := AdaptiveCutoff(sims, e.opts.MinFloor, e.opts.AdaptiveRatio)

	kept := candidates[:0]
	for _, c := range candidates {
		if c.Similarity >= cutoff {
			kept = append(kept, c)
		}
	}
	kept = e.dedup(kept)

	results := make([]schema.SearchResult, 0, len(kept))
	neighbours := neighbourSet(kept)
	for _, c := range kept {
		r := schema.FromScored(c, schema.MethodVector)
		r.Score = similarityWeight*c.Similarity +
			lengthWeight*lengthScore(textnorm.RuneLen(c.Content)) +
			neighbourWeight*neighbourScore(neighbours, c.DocID, c.ChunkIndex)
		results = append(results, r)
	}
	sortByScore(results)
	results = capPerDocument(results, e.opts.PerDocumentCap, limit)

	e.log.WithPayload(map[string]interface{}{
		"company_id": companyID,
		"candidates": len(candidates),
		"cutoff":     cutoff,
		"results":    len(results),
	}).Debug("vector search")
	outcome := "hit"
	if len(results) == 0 {
		outcome = "empty"
	}
	e.opts.Metrics.RecordSearch(string(schema.MethodVector), outcome)
	return results, nil
}

func (e *VectorEngine) candidates(ctx context.Context, companyID string, query []float32, n int) ([]schema.ScoredChunk, error) {
	if e.index == nil {
		return e.store.SimilarChunks(ctx, companyID, query, n)
	}

	hits, err := e.index.Search(ctx, companyID, query, n)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(hits))
	score := make(map[string]float64, len(hits))
	for i, h := range hits {
		ids[i] = h.ChunkID
		score[h.ChunkID] = h.Score
	}
	// 从关系库补全内容，同时过滤已停用的文档
	rows, err := e.store.GetChunks(ctx, companyID, ids)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Similarity = score[rows[i].ID]
	}
	return rows, nil
}

// dedup drops candidates whose content hash repeats or whose embedding is
// nearly identical to a better-ranked candidate. Input is best-first.
func (e *VectorEngine) dedup(rows []schema.ScoredChunk) []schema.ScoredChunk {
	seen := make(map[uint64]struct{}, len(rows))
	var out []schema.ScoredChunk
	for _, r := range rows {
		h := xxhash.Sum64String(strings.TrimSpace(r.Content))
		if _, dup := seen[h]; dup {
			continue
		}
		if e.nearDuplicate(out, r) {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, r)
	}
	return out
}

func (e *VectorEngine) nearDuplicate(kept []schema.ScoredChunk, r schema.ScoredChunk) bool {
	if r.Embedding == nil {
		return false
	}
	v := r.Embedding.Slice()
	for _, k := range kept {
		if k.Embedding != nil && embedding.Cosine(k.Embedding.Slice(), v) > e.opts.DuplicateSimilarity {
			return true
		}
	}
	return false
}

// AdaptiveCutoff returns max(floor, mean of the top quartile × ratio).
// The top quartile is the ceil(n/4) highest similarities.
func AdaptiveCutoff(similarities []float64, floor, ratio float64) float64 {
	if len(similarities) == 0 {
		return floor
	}
	sorted := append([]float64(nil), similarities...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))

	q := (len(sorted) + 3) / 4
	sum := 0.0
	for _, s := range sorted[:q] {
		sum += s
	}
	return math.Max(floor, sum/float64(q)*ratio)
}

// lengthScore favours chunks long enough to carry an answer and mildly
// penalises very long ones.
func lengthScore(runes int) float64 {
	switch {
	case runes <= 0:
		return 0
	case runes < 50:
		return float64(runes) / 100
	case runes <= 2000:
		return 1
	default:
		return 2000 / float64(runes)
	}
}

type docIndex struct {
	doc   string
	index int
}

func neighbourSet(rows []schema.ScoredChunk) map[docIndex]struct{} {
	set := make(map[docIndex]struct{}, len(rows))
	for _, r := range rows {
		set[docIndex{r.DocID, r.ChunkIndex}] = struct{}{}
	}
	return set
}

// neighbourScore is the share of a chunk's two neighbours that also matched.
func neighbourScore(set map[docIndex]struct{}, doc string, index int) float64 {
	n := 0
	if _, ok := set[docIndex{doc, index - 1}]; ok {
		n++
	}
	if _, ok := set[docIndex{doc, index + 1}]; ok {
		n++
	}
	return float64(n) / 2
}

func sortByScore(rs []schema.SearchResult) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].Score != rs[j].Score {
			return rs[i].Score > rs[j].Score
		}
		if rs[i].Similarity != rs[j].Similarity {
			return rs[i].Similarity > rs[j].Similarity
		}
		if rs[i].DocumentID != rs[j].DocumentID {
			return rs[i].DocumentID < rs[j].DocumentID
		}
		return rs[i].ChunkIndex < rs[j].ChunkIndex
	})
}

// capPerDocument keeps at most perDoc results per document and limit overall.
// Input must be sorted best-first.
func capPerDocument(rs []schema.SearchResult, perDoc, limit int) []schema.SearchResult {
	counts := make(map[string]int)
	out := rs[:0]
	for _, r := range rs {
		if len(out) == limit {
			break
		}
		if perDoc > 0 && counts[r.DocumentID] >= perDoc {
			continue
		}
		counts[r.DocumentID]++
		out = append(out, r)
	}
	return out
}
