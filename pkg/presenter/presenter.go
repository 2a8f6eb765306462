// Package presenter turns orchestrator results into the user-facing answer:
// canonical facts, a deterministic baseline from Markdown templates and,
// when the policy allows, the narrator's rewrite.
package presenter

import (
	"context"
	"errors"
	"io/fs"
	"sort"
	"strings"

	"araquem/internal/pkg/logger"
	"araquem/pkg/facts"
	"araquem/pkg/identifiers"
	"araquem/pkg/narrator"
	"araquem/pkg/ontology"
	"araquem/pkg/policy"
	"araquem/pkg/rag"
)

const moduleName = "PRESENTER"

// ContextBuilder fetches RAG context when the caller did not attach one.
type ContextBuilder interface {
	BuildContext(ctx context.Context, req rag.Request) *rag.Context
}

// TemplateSource reads the raw template document of an entity.
type TemplateSource interface {
	ReadTemplate(entity string) (string, error)
}

// Renderer is the narrator.
type Renderer interface {
	Render(ctx context.Context, in narrator.Input) narrator.Output
}

type Input struct {
	RequestID        string
	Question         string
	Intent           string
	Entity           string
	Score            float64
	ResultKey        string
	Columns          []string
	Results          map[string][]facts.Row
	Aggregates       map[string]interface{}
	Identifiers      identifiers.Identifiers
	RequestedMetrics []string
	FocusMetric      string
	RequestedMode    string
	Contract         *ontology.EntityContract
	Snapshot         *policy.Snapshot
	RAG              *rag.Context
}

type Result struct {
	Answer           string           `json:"answer"`
	LegacyAnswer     string           `json:"legacy_answer"`
	RenderedTemplate string           `json:"rendered_template"`
	TemplateKey      string           `json:"template_key"`
	ComputeMode      string           `json:"compute_mode"`
	Narrator         *narrator.Output `json:"narrator,omitempty"`
	Facts            facts.Facts      `json:"facts"`
	RAG              *rag.Context     `json:"rag,omitempty"`
}

type Presenter struct {
	rag       ContextBuilder
	templates TemplateSource
	narrator  Renderer
	log       logger.ILogger
}

// NewPresenter accepts nil rag and narrator; both stages are then skipped.
func NewPresenter(ragBuilder ContextBuilder, templates TemplateSource, n Renderer, log logger.ILogger) *Presenter {
	return &Presenter{rag: ragBuilder, templates: templates, narrator: n, log: log}
}

func (p *Presenter) Present(ctx context.Context, in Input) Result {
	f := facts.Build(facts.Input{
		Question:         in.Question,
		Intent:           in.Intent,
		Entity:           in.Entity,
		Score:            in.Score,
		ResultKey:        in.ResultKey,
		Columns:          in.Columns,
		Results:          in.Results,
		Aggregates:       in.Aggregates,
		Identifiers:      in.Identifiers.AsMap(),
		Tickers:          in.Identifiers.Tickers,
		RequestedMetrics: in.RequestedMetrics,
		FocusMetric:      in.FocusMetric,
	})

	var narratorPolicy *policy.NarratorPolicy
	var ragPolicy *policy.RAGPolicy
	if in.Snapshot != nil {
		narratorPolicy = in.Snapshot.Narrator
		ragPolicy = in.Snapshot.RAG
	}
	// rows of an unfiltered query carry tickers the question never named
	hasTicker := !in.Identifiers.Empty()
	mode := narrator.ModeFor(narratorPolicy, in.Entity, in.RequestedMode, hasTicker)

	ragCtx := in.RAG
	if ragCtx == nil && p.rag != nil {
		ragCtx = p.rag.BuildContext(ctx, rag.Request{
			Question:    in.Question,
			Intent:      in.Intent,
			Entity:      in.Entity,
			ComputeMode: mode,
			HasTicker:   hasTicker,
			Policy:      ragPolicy,
		})
	}

	legacy := LegacyAnswer(f)
	baseline, key := p.baseline(in, f, mode, legacy)
	res := Result{
		Answer:           baseline,
		LegacyAnswer:     legacy,
		RenderedTemplate: baseline,
		TemplateKey:      key,
		ComputeMode:      mode,
		Facts:            f,
		RAG:              ragCtx,
	}
	if p.narrator == nil {
		return res
	}

	out := p.narrator.Render(ctx, narrator.Input{
		RequestID:     in.RequestID,
		Question:      in.Question,
		Entity:        in.Entity,
		Facts:         f,
		Baseline:      baseline,
		Template:      key,
		RAG:           ragCtx,
		Policy:        narratorPolicy,
		RequestedMode: in.RequestedMode,
		HasTicker:     hasTicker,
	})
	res.Narrator = &out
	if strings.TrimSpace(out.Text) != "" {
		res.Answer = out.Text
	}
	return res
}

// baseline picks the template section for the aggregation (or concept) and
// renders it. Unresolved placeholders fall back to the FALLBACK section, then
// to the bullet rendering, then to the entity's empty message.
func (p *Presenter) baseline(in Input, f facts.Facts, mode, legacy string) (string, string) {
	empty := emptyMessage(in.Contract)
	tpls := p.load(in.Entity)

	if mode == narrator.ModeConcept {
		if body, ok := tpls[KeyConcept]; ok {
			if text, ok := Render(body, nil, nil, vars(in, f)); ok && text != "" {
				return text, KeyConcept
			}
		}
		return empty, "empty_message"
	}
	if len(f.Rows) == 0 {
		return empty, "empty_message"
	}

	key := aggKey(in.Aggregates)
	for _, k := range []string{key, KeyFallback} {
		body, ok := tpls[k]
		if !ok {
			continue
		}
		if text, ok := Render(body, f.Primary, f.Rows, vars(in, f)); ok && text != "" {
			return text, k
		}
	}
	if legacy != "" {
		return legacy, "legacy"
	}
	return empty, "empty_message"
}

func (p *Presenter) load(entity string) Templates {
	if p.templates == nil {
		return Templates{}
	}
	doc, err := p.templates.ReadTemplate(entity)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			p.log.Warn(moduleName, "Failed to read templates", map[string]interface{}{
				"entity": entity,
				"error":  err.Error(),
			})
		}
		return Templates{}
	}
	return ParseTemplates(doc)
}

func vars(in Input, f facts.Facts) map[string]interface{} {
	v := map[string]interface{}{
		"rows_count": len(f.Rows),
		"question":   in.Question,
	}
	if f.Ticker != "" {
		v["ticker"] = f.Ticker
	}
	if len(f.Tickers) > 0 {
		v["tickers"] = strings.Join(f.Tickers, ", ")
	}
	if in.Contract != nil && in.Contract.Presentation.Title != "" {
		v["title"] = in.Contract.Presentation.Title
	}
	for _, k := range []string{"agg", "window", "metric", "period_start", "period_end"} {
		if x, ok := in.Aggregates[k]; ok && x != "" {
			v[k] = x
		}
	}
	return v
}

func aggKey(agg map[string]interface{}) string {
	if s, ok := agg["agg"].(string); ok && s != "" {
		return s
	}
	return policy.AggList
}

func emptyMessage(c *ontology.EntityContract) string {
	if c != nil && c.Presentation.EmptyMessage != "" {
		return c.Presentation.EmptyMessage
	}
	return "Não encontrei dados para essa pergunta."
}

// LegacyAnswer renders rows as bullet lines in column order.
func LegacyAnswer(f facts.Facts) string {
	if len(f.Rows) == 0 {
		return ""
	}
	cols := f.Columns
	if len(cols) == 0 {
		cols = sortedKeys(f.Rows[0])
	}
	lines := make([]string, 0, len(f.Rows))
	for _, r := range f.Rows {
		parts := make([]string, 0, len(cols))
		for _, c := range cols {
			if v, ok := r[c]; ok {
				parts = append(parts, c+": "+facts.FormatValue(v))
			}
		}
		lines = append(lines, "- "+strings.Join(parts, "; "))
	}
	return strings.Join(lines, "\n")
}

func sortedKeys(r facts.Row) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
