package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"DocSage/backend/go/internal/models"
	"DocSage/backend/go/internal/rag_service/rag/schema"

	"github.com/pgvector/pgvector-go"
)

// ReconcileResult summarises one Reconcile run.
type ReconcileResult struct {
	Scanned  int `json:"scanned"`
	Embedded int `json:"embedded"`
	Failed   int `json:"failed"`
	Rounds   int `json:"rounds"`
	Sweeps   int `json:"sweeps"`
	// Tenants lists the companies that gained at least one embedding.
	Tenants []string `json:"tenants,omitempty"`
}

// reconcileRound bounds how many chunks are pulled from the store at once.
const reconcileRound = 100

// Reconcile embeds chunks whose embedding is still null, oldest documents
// first. Each sweep pages through the pending rows once, so chunks that keep
// failing do not hide newer ones. Sweeps repeat until one makes no progress,
// nothing is left, or maxRows have been scanned. An empty companyID
// reconciles every tenant.
func (p *IndexingPipeline) Reconcile(ctx context.Context, companyID string, maxRows int) (*ReconcileResult, error) {
	res := &ReconcileResult{}
	tenants := make(map[string]struct{})
	defer func() {
		for t := range tenants {
			res.Tenants = append(res.Tenants, t)
		}
		sort.Strings(res.Tenants)
	}()

	var cursor *schema.PendingCursor
	progressed := false
	for maxRows <= 0 || res.Scanned < maxRows {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		limit := reconcileRound
		if maxRows > 0 {
			limit = min(limit, maxRows-res.Scanned)
		}
		chunks, next, err := p.store.ListUnembedded(ctx, companyID, cursor, limit)
		if err != nil {
			return res, fmt.Errorf("list unembedded chunks: %w", err)
		}
		if len(chunks) == 0 {
			if cursor == nil {
				break
			}
			res.Sweeps++
			if !progressed {
				// 整轮扫描没有进展，剩余分块留给下一次调度
				break
			}
			cursor, progressed = nil, false
			continue
		}

		res.Rounds++
		res.Scanned += len(chunks)
		out, err := p.embed(ctx, chunks)
		res.Embedded += out.Embedded
		res.Failed += out.Failed
		for _, c := range out.Written {
			tenants[c.CompanyID] = struct{}{}
		}
		if err != nil {
			return res, err
		}
		if out.Embedded > 0 {
			progressed = true
		}
		cursor = next
	}

	if res.Scanned > 0 {
		p.log.WithPayload(map[string]interface{}{
			"company_id": companyID,
			"scanned":    res.Scanned,
			"embedded":   res.Embedded,
			"failed":     res.Failed,
			"rounds":     res.Rounds,
			"sweeps":     res.Sweeps,
		}).Info("reconciliation finished")
	}
	return res, nil
}

// StartReconciler runs Reconcile for all tenants every interval until ctx is
// done. onDone, when set, sees every successful run.
func (p *IndexingPipeline) StartReconciler(ctx context.Context, interval time.Duration, maxRows int, onDone func(context.Context, *ReconcileResult)) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		p.log.Info(fmt.Sprintf("reconciler started, interval %s", interval))

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				res, err := p.Reconcile(ctx, "", maxRows)
				if err != nil && ctx.Err() == nil {
					p.log.WithErr(err).Error("scheduled reconciliation failed")
				}
				if res != nil && onDone != nil {
					onDone(ctx, res)
				}
			}
		}
	}()
}

func withVector(c *models.Chunk, v []float32) *models.Chunk {
	cp := *c
	vec := pgvector.NewVector(v)
	cp.Embedding = &vec
	return &cp
}
