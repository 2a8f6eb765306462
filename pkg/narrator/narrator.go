// Package narrator optionally rewrites the deterministic answer with an LLM.
// Every path returns a non-empty, safe text: when a gate closes, the call
// fails or the output breaks a guard, the deterministic baseline is kept.
package narrator

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"araquem/internal/pkg/logger"
	"araquem/pkg/facts"
	"araquem/pkg/llm"
	"araquem/pkg/metrics"
	"araquem/pkg/policy"
	"araquem/pkg/rag"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// FailSafeText is returned when there is neither data nor reference material.
const FailSafeText = "Não encontrei dados ou referências suficientes para responder com segurança. " +
	"Se puder, informe o ticker do fundo ou reformule a pergunta."

const (
	StrategyDisabled   = "llm_disabled_by_policy"
	StrategyMaxRows    = "llm_skipped_max_rows"
	StrategyNoEvidence = "llm_skipped_no_evidence"
	StrategyFailed     = "llm_failed"
	StrategyViolation  = "policy_violation"
	StrategyShadow     = "llm_shadow"
	StrategyRewrite    = "llm_rewrite"
	StrategyLLM        = "llm"
)

// ErrEmptyOutput is recorded when the LLM answers with blank text.
var ErrEmptyOutput = errors.New("narrator: empty llm output")

var tracer = otel.Tracer("araquem/narrator")

type Input struct {
	RequestID     string
	Question      string
	Entity        string
	Facts         facts.Facts
	Baseline      string
	Template      string
	RAG           *rag.Context
	Policy        *policy.NarratorPolicy
	RequestedMode string
	HasTicker     bool
}

type Hints struct {
	Style    string `json:"style"`
	Mode     string `json:"mode"`
	Strategy string `json:"strategy"`
}

type Meta struct {
	ComputeMode string    `json:"compute_mode"`
	Strategy    string    `json:"strategy"`
	Model       string    `json:"model,omitempty"`
	RowsCount   int       `json:"rows_count"`
	RAGChunks   int       `json:"rag_chunks"`
	Violation   string    `json:"violation,omitempty"`
	Sampled     bool      `json:"shadow_sampled,omitempty"`
	Policy      Effective `json:"policy"`
}

type Output struct {
	Text      string  `json:"text"`
	Score     float64 `json:"score"`
	Hints     Hints   `json:"hints"`
	Strategy  string  `json:"strategy"`
	Tokens    int     `json:"tokens"`
	LatencyMs int64   `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
	Enabled   bool    `json:"enabled"`
	Shadow    bool    `json:"shadow"`
	Meta      Meta    `json:"meta"`
}

type Narrator struct {
	llm  llm.LLMProvider
	sink ShadowSink
	log  logger.ILogger

	mu   sync.Mutex
	rand *rand.Rand
}

// NewNarrator accepts a nil provider, in which case every LLM path reports
// llm_failed and keeps the baseline.
func NewNarrator(provider llm.LLMProvider, sink ShadowSink, log logger.ILogger) *Narrator {
	return &Narrator{
		llm:  provider,
		sink: sink,
		log:  log,
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Configured reports whether an LLM backend is wired.
func (n *Narrator) Configured() bool { return n != nil && n.llm != nil }

// ModeFor resolves the compute mode the presenter should render for.
func ModeFor(p *policy.NarratorPolicy, entity, requested string, hasTicker bool) string {
	return ComputeMode(Resolve(p, entity), requested, hasTicker)
}

func (n *Narrator) Render(ctx context.Context, in Input) Output {
	eff := Resolve(in.Policy, in.Entity)
	mode := ComputeMode(eff, in.RequestedMode, in.HasTicker)

	rowsCount := len(in.Facts.Rows)
	if mode == ModeConcept {
		rowsCount = 0
	}
	ragChunks := 0
	if in.RAG != nil && in.RAG.Enabled {
		ragChunks = len(in.RAG.Chunks)
	}
	baseline := strings.TrimSpace(in.Baseline)
	if baseline == "" {
		baseline = FailSafeText
	}

	out := Output{
		Enabled: eff.LLMEnabled,
		Shadow:  eff.Shadow,
		Hints:   Hints{Style: eff.Style, Mode: mode},
		Meta: Meta{
			ComputeMode: mode,
			Model:       eff.Model,
			RowsCount:   rowsCount,
			RAGChunks:   ragChunks,
			Policy:      eff,
		},
	}

	switch {
	case !eff.LLMEnabled:
		return n.finish(in, out, baseline, StrategyDisabled)
	case eff.MaxLLMRows <= 0 || rowsCount > eff.MaxLLMRows:
		return n.finish(in, out, baseline, StrategyMaxRows)
	case rowsCount == 0 && ragChunks == 0:
		return n.finish(in, out, FailSafeText, StrategyNoEvidence)
	case n.llm == nil:
		out.Error = "llm_not_configured"
		return n.finish(in, out, baseline, StrategyFailed)
	}

	ctx, span := tracer.Start(ctx, "narrator.render")
	span.SetAttributes(attribute.String("narrator.entity", in.Entity), attribute.String("narrator.mode", mode))
	defer span.End()

	focusValue, _ := facts.FocusValue(in.Facts, in.Facts.FocusMetric)
	system, user := buildPrompt(promptInput{
		Question:    in.Question,
		Mode:        mode,
		Eff:         eff,
		Facts:       in.Facts,
		RAG:         in.RAG,
		Baseline:    in.Baseline,
		FocusMetric: in.Facts.FocusMetric,
		FocusValue:  focusValue,
		Template:    in.Template,
	})

	// The call outlives a cancelled request; only the policy timeout bounds it.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eff.Guards.Timeout)
	defer cancel()
	start := time.Now()
	text, err := n.llm.Chat(callCtx, []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}, llm.WithModel(eff.Model), llm.WithTemperature(0.2))
	out.LatencyMs = time.Since(start).Milliseconds()
	metrics.NarratorLatency.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	text = strings.TrimSpace(text)

	if eff.Shadow {
		n.recordShadow(ctx, in, &out, mode, eff.Model, text, err)
		return n.finish(in, out, baseline, StrategyShadow)
	}
	if err == nil && text == "" {
		err = ErrEmptyOutput
	}
	if err != nil {
		metrics.Errors.WithLabelValues(metrics.KindLLM).Inc()
		out.Error = errorClass(err)
		n.log.Warn("NARRATOR", "LLM call failed, keeping baseline", map[string]interface{}{
			"entity": in.Entity,
			"error":  err.Error(),
		})
		return n.finish(in, out, baseline, StrategyFailed)
	}

	v := &validation{
		baseline:    in.Baseline,
		allowed:     allowedText(in),
		prohibited:  eff.Guards.Prohibited,
		rewriteOnly: eff.RewriteOnly && in.Baseline != "",
	}
	if reason := validate(text, v); reason != "" {
		out.Meta.Violation = reason
		if eff.Guards.FailClosed || v.rewriteOnly {
			metrics.Errors.WithLabelValues(metrics.KindViolation).Inc()
			n.log.Warn("NARRATOR", "LLM output rejected", map[string]interface{}{
				"entity": in.Entity,
				"reason": reason,
			})
			return n.finish(in, out, baseline, StrategyViolation)
		}
	}

	out.Tokens = len(text)/4 + 1
	out.Score = 1
	if v.rewriteOnly {
		return n.finish(in, out, text+"\n\n"+baseline, StrategyRewrite)
	}
	return n.finish(in, out, text, StrategyLLM)
}

func (n *Narrator) finish(in Input, out Output, text, strategy string) Output {
	out.Text = text
	out.Strategy = strategy
	out.Hints.Strategy = strategy
	out.Meta.Strategy = strategy
	metrics.NarratorStrategy.WithLabelValues(in.Entity, strategy).Inc()
	return out
}

func (n *Narrator) recordShadow(ctx context.Context, in Input, out *Output, mode, model, text string, err error) {
	if n.sink == nil {
		return
	}
	sinkPolicy := policy.ShadowSink{SampleRate: 1, MaxChars: 2000}
	if in.Policy != nil {
		sinkPolicy = in.Policy.ShadowSink
	}
	if !n.sample(sinkPolicy.SampleRate) {
		return
	}
	out.Meta.Sampled = true
	rec := ShadowRecord{
		RequestID: in.RequestID,
		Entity:    in.Entity,
		Mode:      mode,
		Model:     model,
		Question:  Redact(in.Question, sinkPolicy.Redact, sinkPolicy.MaxChars),
		Output:    Redact(text, sinkPolicy.Redact, sinkPolicy.MaxChars),
		LatencyMs: out.LatencyMs,
		At:        time.Now().UTC(),
	}
	if err != nil {
		rec.Error = errorClass(err)
	}
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := n.sink.Record(sinkCtx, rec); err != nil {
		n.log.Warn("NARRATOR", "Shadow sink failed", map[string]interface{}{"error": err.Error()})
	}
}

func (n *Narrator) sample(rate float64) bool {
	if rate <= 0 {
		return false
	}
	if rate >= 1 {
		return true
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.rand.Float64() < rate
}

// allowedText is what tickers and links in a free (non rewrite-only) answer
// may be taken from.
func allowedText(in Input) string {
	parts := []string{in.Baseline, in.Facts.Ticker}
	parts = append(parts, in.Facts.Tickers...)
	return strings.Join(parts, " ")
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrEmptyOutput):
		return "empty_output"
	default:
		return "llm_error"
	}
}
