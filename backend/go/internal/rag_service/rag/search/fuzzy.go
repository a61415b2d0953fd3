package search

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"DocSage/backend/go/internal/config"
	"DocSage/backend/go/internal/rag_service/rag/interfaces"
	"DocSage/backend/go/internal/rag_service/rag/schema"
	"DocSage/backend/go/internal/rag_service/rag/textnorm"
	"DocSage/backend/go/pkg/logger"
	"DocSage/backend/go/pkg/metrics"
)

// Bonuses added to the fuzzy score.
const (
	ExactMatchBonus  = 0.4
	PrefixMatchBonus = 0.2
)

// FuzzyOptions configures a FuzzyEngine's defaults.
type FuzzyOptions struct {
	Threshold     float64
	LengthPenalty float64
	Limit         int

	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

// FuzzyOptionsFromConfig maps the search config section onto FuzzyOptions.
func FuzzyOptionsFromConfig(cfg config.SearchConfig) FuzzyOptions {
	return FuzzyOptions{Threshold: cfg.FuzzyThreshold, LengthPenalty: cfg.LengthPenalty, Limit: cfg.FuzzyLimit}
}

// FuzzyEngine ranks chunks by trigram similarity of normalized text with a
// length-difference penalty and exact/prefix bonuses.
type FuzzyEngine struct {
	store interfaces.ChunkStore
	opts  FuzzyOptions
	log   *logger.Logger
}

// NewFuzzyEngine creates a FuzzyEngine.
func NewFuzzyEngine(store interfaces.ChunkStore, opts FuzzyOptions) *FuzzyEngine {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	return &FuzzyEngine{store: store, opts: opts, log: opts.Logger.Named("fuzzy_search")}
}

// Search runs FuzzySearch with the configured threshold, penalty and limit.
func (e *FuzzyEngine) Search(ctx context.Context, queryText, companyID string) ([]schema.SearchResult, error) {
	return e.FuzzySearch(ctx, queryText, companyID, e.opts.Threshold, e.opts.LengthPenalty, e.opts.Limit)
}

// FuzzySearch scores final = similarity − lengthPenalty × |len(content) − len(query)| + bonus
// over normalized text, considering only rows whose raw similarity exceeds threshold.
func (e *FuzzyEngine) FuzzySearch(ctx context.Context, queryText, companyID string, threshold, lengthPenalty float64, limit int) ([]schema.SearchResult, error) {
	if limit <= 0 {
		limit = e.opts.Limit
	}
	query := textnorm.Normalize(queryText)
	if query == "" {
		return nil, nil
	}

	// 长度惩罚和前缀加分会改变排序，阈值以上的行全部参与打分
	rows, err := e.store.TrigramMatches(ctx, companyID, query, threshold, 0)
	if err != nil {
		e.opts.Metrics.RecordSearch(string(schema.MethodFuzzy), "error")
		return nil, fmt.Errorf("%w: %v", ErrSearchUnavailable, err)
	}

	queryLen := textnorm.RuneLen(query)
	results := make([]schema.SearchResult, 0, len(rows))
	for _, row := range rows {
		if row.Similarity <= threshold {
			continue
		}
		content := row.NormalizedContent
		if content == "" {
			content = textnorm.Normalize(row.Content)
		}
		r := schema.FromScored(row, schema.MethodFuzzy)
		r.Score = FuzzyScore(row.Similarity, content, query, queryLen, lengthPenalty)
		results = append(results, r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		if results[i].DocumentID != results[j].DocumentID {
			return results[i].DocumentID < results[j].DocumentID
		}
		return results[i].ChunkIndex < results[j].ChunkIndex
	})
	if len(results) > limit {
		results = results[:limit]
	}

	outcome := "hit"
	if len(results) == 0 {
		outcome = "empty"
	}
	e.opts.Metrics.RecordSearch(string(schema.MethodFuzzy), outcome)
	e.log.WithPayload(map[string]interface{}{
		"company_id": companyID,
		"candidates": len(rows),
		"results":    len(results),
	}).Debug("fuzzy search")
	return results, nil
}

// FuzzyScore applies the length penalty and match bonus to a raw similarity.
// content and query must already be normalized.
func FuzzyScore(similarity float64, content, query string, queryLen int, lengthPenalty float64) float64 {
	diff := math.Abs(float64(textnorm.RuneLen(content) - queryLen))
	bonus := 0.0
	switch {
	case content == query:
		bonus = ExactMatchBonus
	case strings.HasPrefix(content, query):
		bonus = PrefixMatchBonus
	}
	return similarity - lengthPenalty*diff + bonus
}
