package planner

import (
	"context"
	"sort"

	"araquem/pkg/policy"
)

// fuse blends retrieval hints into the candidates' scores in place. A hint
// retrieval error leaves every combined score equal to its base score.
func (p *Planner) fuse(ctx context.Context, question string, cfg policy.RAGFusion, candidates []scored) *Fusion {
	f := &Fusion{Enabled: true, Weight: cfg.Weight, K: cfg.K, Signals: map[string]float64{}, Hints: []Hint{}}

	hints, err := p.hints.EntityHints(ctx, question, cfg.K)
	if err != nil {
		f.Error = err.Error()
		p.logger.Warn(moduleName, "RAG fusion degraded to base scores", map[string]interface{}{"error": err.Error()})
		for i := range candidates {
			candidates[i].detail.Combined = candidates[i].detail.Base
		}
		f.Winner = topByBase(candidates)
		return f
	}

	// strongest signal per entity above the floor
	byEntity := make(map[string]float64)
	for _, h := range hints {
		if h.Score < cfg.MinScore {
			continue
		}
		f.Hints = append(f.Hints, h)
		if h.Score > byEntity[h.Entity] {
			byEntity[h.Entity] = h.Score
		}
	}

	w := cfg.Weight
	for i := range candidates {
		d := &candidates[i].detail
		signal := 0.0
		for _, e := range candidates[i].intent.Entities {
			if s := byEntity[e]; s > signal {
				signal = s
			}
		}
		d.RAGSignal = signal
		d.Combined = (1-w)*d.Base + w*signal
		f.Signals[d.Intent] = signal
	}

	best := 0
	for i := range candidates {
		ci, cb := candidates[i], candidates[best]
		if ci.detail.Combined > cb.detail.Combined || (ci.detail.Combined == cb.detail.Combined && ci.order < cb.order) {
			best = i
		}
	}
	f.Winner = candidates[best].intent.Name
	sort.SliceStable(f.Hints, func(i, j int) bool { return f.Hints[i].Score > f.Hints[j].Score })
	return f
}
