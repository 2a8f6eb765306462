// Package planner scores a question against the ontology intents and picks
// the (intent, entity) pair to answer it with.
package planner

import (
	"context"
	"sort"
	"strings"

	"araquem/internal/pkg/logger"
	"araquem/pkg/identifiers"
	"araquem/pkg/metrics"
	"araquem/pkg/ontology"
	"araquem/pkg/policy"
	"araquem/pkg/textnorm"
)

const moduleName = "PLANNER"

// antiTokenPenalty is the fraction of the token weight lost per matched anti-token group.
const antiTokenPenalty = 0.5

// Rejection reasons recorded in the trace.
const (
	ReasonAccepted     = "accepted"
	ReasonLowScore     = "low_score"
	ReasonLowGap       = "low_gap"
	ReasonNoCandidates = "no_candidates"
)

// HintRetriever supplies entity hints for RAG fusion.
type HintRetriever interface {
	EntityHints(ctx context.Context, question string, k int) ([]Hint, error)
}

// SnapshotSource hands out the current policy snapshot.
type SnapshotSource interface {
	Snapshot() (*policy.Snapshot, error)
}

type Planner struct {
	policies SnapshotSource
	hints    HintRetriever
	logger   logger.ILogger
}

// NewPlanner builds a planner. hints may be nil, which disables fusion.
func NewPlanner(policies SnapshotSource, hints HintRetriever, log logger.ILogger) *Planner {
	return &Planner{policies: policies, hints: hints, logger: log}
}

// Explain plans question against the current snapshot.
func (p *Planner) Explain(ctx context.Context, question, bucketHint string) (*PlanResult, error) {
	snap, err := p.policies.Snapshot()
	if err != nil {
		return nil, err
	}
	return p.ExplainWith(ctx, snap, question, bucketHint), nil
}

type scored struct {
	intent ontology.Intent
	order  int
	detail ScoreDetail
}

// ExplainWith plans question against a snapshot the caller already holds, so
// one request sees one consistent configuration.
func (p *Planner) ExplainWith(ctx context.Context, snap *policy.Snapshot, question, bucketHint string) *PlanResult {
	onto := snap.Catalog.Ontology
	thresholds := snap.Thresholds

	normalized := textnorm.Normalize(question)
	tokens := textnorm.Tokenize(normalized, onto.SplitRegexp())
	tokenSet := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		tokenSet[t] = true
	}

	path := []TraceNode{{
		Stage:   "normalize",
		Type:    "text",
		Outcome: "ok",
		Detail:  map[string]interface{}{"tokens": len(tokens)},
	}}

	ids := identifiers.Extract(question, snap.Catalog.Tickers)
	bucket, bucketNode := resolveBucket(onto, bucketHint, ids.Count())
	path = append(path, bucketNode)

	var all []scored
	for i, it := range onto.Intents {
		d := scoreIntent(onto, it, normalized, tokenSet)
		d.Retained = bucket == nil || intentInBucket(it, bucket)
		all = append(all, scored{intent: it, order: i, detail: d})
	}

	decision := BucketDecision{Source: bucketNode.Outcome, TickerCount: ids.Count()}
	if bucket != nil {
		decision.Name = bucket.Name
	}
	var candidates []scored
	for _, s := range all {
		if s.detail.Retained {
			candidates = append(candidates, s)
			decision.Retained = append(decision.Retained, s.intent.Name)
		} else {
			decision.Dropped = append(decision.Dropped, s.intent.Name)
		}
	}

	// fusion
	var fusion *Fusion
	if thresholds.RAGFusion.Enabled && p.hints != nil && len(candidates) > 0 {
		fusion = p.fuse(ctx, question, thresholds.RAGFusion, candidates)
		node := TraceNode{Stage: "fusion", Type: "fusion", Outcome: "applied", Detail: map[string]interface{}{
			"weight": fusion.Weight,
			"hints":  len(fusion.Hints),
			"winner": fusion.Winner,
		}}
		if fusion.Error != "" {
			node.Outcome = "degraded"
			node.Type = "warning"
			node.Detail["error"] = fusion.Error
		}
		path = append(path, node)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].detail.Combined != candidates[j].detail.Combined {
			return candidates[i].detail.Combined > candidates[j].detail.Combined
		}
		return candidates[i].order < candidates[j].order
	})

	result := &PlanResult{}
	if bucket != nil {
		result.Bucket = bucket.Name
	}
	trace := Trace{
		Normalized:   normalized,
		Tokens:       tokens,
		IntentScores: make(map[string]float64, len(all)),
	}
	for i := range all {
		// candidates carry the fused score
		for _, c := range candidates {
			if c.intent.Name == all[i].intent.Name {
				all[i].detail = c.detail
			}
		}
		trace.IntentScores[all[i].intent.Name] = all[i].detail.Combined
		trace.Details = append(trace.Details, all[i].detail)
	}

	scoring := Scoring{
		TokenWeight:  onto.Weights.Token,
		PhraseWeight: onto.Weights.Phrase,
		ApplyOn:      thresholds.ApplyOn,
	}
	if fusion != nil {
		fusion.Changed = len(candidates) > 0 && fusion.Winner != topByBase(candidates)
	}

	if len(candidates) == 0 {
		scoring.Reason = ReasonNoCandidates
		path = append(path, TraceNode{Stage: "acceptance", Type: "gate", Outcome: "rejected", Detail: map[string]interface{}{"reason": ReasonNoCandidates}})
	} else {
		top1 := candidates[0]
		gateScore := func(s scored) float64 {
			if thresholds.GateOnFused() {
				return s.detail.Combined
			}
			return s.detail.Base
		}
		s1 := gateScore(top1)
		s2 := 0.0
		scoring.Top1 = &Candidate{Intent: top1.intent.Name, Score: s1}
		if len(candidates) > 1 {
			s2 = gateScore(candidates[1])
			scoring.Top2 = &Candidate{Intent: candidates[1].intent.Name, Score: s2}
		}
		th := thresholds.For(top1.intent.Name)
		scoring.Threshold = th
		scoring.Gap = s1 - s2

		switch {
		case s1 < th.MinScore:
			scoring.Reason = ReasonLowScore
		case scoring.Gap < th.MinGap:
			scoring.Reason = ReasonLowGap
		default:
			scoring.Reason = ReasonAccepted
			scoring.Accepted = true
		}

		result.Intent = top1.intent.Name
		result.Score = s1
		result.Accepted = scoring.Accepted
		if scoring.Accepted {
			result.Entity = chooseEntity(top1.intent, bucket)
		}

		outcome := "rejected"
		if scoring.Accepted {
			outcome = "accepted"
		}
		path = append(path, TraceNode{Stage: "acceptance", Type: "gate", Outcome: outcome, Detail: map[string]interface{}{
			"reason":    scoring.Reason,
			"score":     s1,
			"gap":       scoring.Gap,
			"min_score": th.MinScore,
			"min_gap":   th.MinGap,
		}})
	}

	trace.Chosen = Chosen{Intent: result.Intent, Entity: result.Entity, Score: result.Score, Accepted: result.Accepted}
	trace.Explain = Explain{Bucket: decision, Scoring: scoring, Fusion: fusion, DecisionPath: path}
	result.Trace = trace

	outcome := "accepted"
	if !result.Accepted {
		outcome = scoring.Reason
	}
	intentLabel := result.Intent
	if intentLabel == "" {
		intentLabel = "none"
	}
	metrics.PlannerDecisions.WithLabelValues(intentLabel, outcome).Inc()

	p.logger.Debug(moduleName, "Plan computed", map[string]interface{}{
		"intent":   result.Intent,
		"entity":   result.Entity,
		"score":    result.Score,
		"accepted": result.Accepted,
		"reason":   scoring.Reason,
		"bucket":   result.Bucket,
	})
	return result
}

func scoreIntent(onto *ontology.Ontology, it ontology.Intent, normalized string, tokenSet map[string]bool) ScoreDetail {
	d := ScoreDetail{
		Intent:          it.Name,
		Entities:        it.Entities,
		TokensMatched:   []string{},
		TokensExcluded:  []string{},
		PhrasesMatched:  []string{},
		PhrasesExcluded: []string{},
		AntiGroups:      []string{},
	}
	for _, t := range it.Tokens.Include {
		if tokenSet[t] {
			d.TokensMatched = append(d.TokensMatched, t)
		}
	}
	for _, t := range it.Tokens.Exclude {
		if tokenSet[t] {
			d.TokensExcluded = append(d.TokensExcluded, t)
		}
	}
	for _, ph := range it.Phrases.Include {
		if strings.Contains(normalized, ph) {
			d.PhrasesMatched = append(d.PhrasesMatched, ph)
		}
	}
	for _, ph := range it.Phrases.Exclude {
		if strings.Contains(normalized, ph) {
			d.PhrasesExcluded = append(d.PhrasesExcluded, ph)
		}
	}
	for _, group := range it.AntiTokens {
		for _, w := range onto.AntiTokens[group] {
			if tokenSet[w] || (strings.Contains(w, " ") && strings.Contains(normalized, w)) {
				d.AntiGroups = append(d.AntiGroups, group)
				break
			}
		}
	}

	tw, pw := onto.Weights.Token, onto.Weights.Phrase
	d.Base = tw*float64(len(d.TokensMatched)-len(d.TokensExcluded)) +
		pw*float64(len(d.PhrasesMatched)-len(d.PhrasesExcluded)) -
		antiTokenPenalty*tw*float64(len(d.AntiGroups))
	d.Combined = d.Base
	return d
}

func resolveBucket(onto *ontology.Ontology, hint string, tickerCount int) (*ontology.Bucket, TraceNode) {
	if hint != "" {
		if b, ok := onto.Bucket(hint); ok {
			return &b, TraceNode{Stage: "bucket", Type: "gate", Outcome: "hint", Detail: map[string]interface{}{"bucket": b.Name}}
		}
	}
	if b, ok := onto.ResolveBucket(tickerCount); ok {
		return &b, TraceNode{Stage: "bucket", Type: "gate", Outcome: "rules", Detail: map[string]interface{}{
			"bucket":  b.Name,
			"tickers": tickerCount,
		}}
	}
	node := TraceNode{Stage: "bucket", Type: "gate", Outcome: "none", Detail: map[string]interface{}{"tickers": tickerCount}}
	if hint != "" {
		node.Detail["unknown_hint"] = hint
	}
	return nil, node
}

func intentInBucket(it ontology.Intent, b *ontology.Bucket) bool {
	for _, e := range it.Entities {
		if b.Contains(e) {
			return true
		}
	}
	return false
}

func chooseEntity(it ontology.Intent, b *ontology.Bucket) string {
	if b != nil {
		for _, e := range it.Entities {
			if b.Contains(e) {
				return e
			}
		}
	}
	return it.DefaultEntity()
}

func topByBase(candidates []scored) string {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.detail.Base > best.detail.Base || (c.detail.Base == best.detail.Base && c.order < best.order) {
			best = c
		}
	}
	return best.intent.Name
}
