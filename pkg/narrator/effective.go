package narrator

import (
	"time"

	"araquem/pkg/policy"
)

const (
	ModeConcept = "concept"
	ModeData    = "data"
)

type Guards struct {
	Timeout    time.Duration `json:"timeout"`
	Prohibited []string      `json:"prohibited,omitempty"`
	FailClosed bool          `json:"fail_closed"`
}

// Effective is the narrator policy resolved for one entity.
type Effective struct {
	LLMEnabled                bool   `json:"llm_enabled"`
	Shadow                    bool   `json:"shadow"`
	Model                     string `json:"model,omitempty"`
	MaxLLMRows                int    `json:"max_llm_rows"`
	UseRAGInPrompt            bool   `json:"use_rag_in_prompt"`
	PreferConceptWhenNoTicker bool   `json:"prefer_concept_when_no_ticker"`
	RAGSnippetMaxChars        int    `json:"rag_snippet_max_chars"`
	RewriteOnly               bool   `json:"rewrite_only"`
	Style                     string `json:"style"`
	Guards                    Guards `json:"policy_guards"`
}

func builtin() Effective {
	return Effective{
		UseRAGInPrompt:     true,
		RAGSnippetMaxChars: 600,
		RewriteOnly:        true,
		Style:              "executivo",
		Guards:             Guards{Timeout: 20 * time.Second, FailClosed: true},
	}
}

// Resolve layers the entity override over the default over the built-ins.
func Resolve(p *policy.NarratorPolicy, entity string) Effective {
	eff := builtin()
	if p == nil {
		return eff
	}
	eff.apply(p.Default)
	if o, ok := p.Entities[entity]; ok {
		eff.apply(o)
	}
	return eff
}

func (e *Effective) apply(o policy.NarratorOverrides) {
	if o.LLMEnabled != nil {
		e.LLMEnabled = *o.LLMEnabled
	}
	if o.Shadow != nil {
		e.Shadow = *o.Shadow
	}
	if o.Model != nil {
		e.Model = *o.Model
	}
	if o.MaxLLMRows != nil {
		e.MaxLLMRows = *o.MaxLLMRows
	}
	if o.UseRAGInPrompt != nil {
		e.UseRAGInPrompt = *o.UseRAGInPrompt
	}
	if o.PreferConceptWhenNoTicker != nil {
		e.PreferConceptWhenNoTicker = *o.PreferConceptWhenNoTicker
	}
	if o.RAGSnippetMaxChars != nil {
		e.RAGSnippetMaxChars = *o.RAGSnippetMaxChars
	}
	if o.RewriteOnly != nil {
		e.RewriteOnly = *o.RewriteOnly
	}
	if o.Style != nil {
		e.Style = *o.Style
	}
	if g := o.PolicyGuards; g != nil {
		if g.TimeoutSeconds != nil && *g.TimeoutSeconds > 0 {
			e.Guards.Timeout = time.Duration(*g.TimeoutSeconds) * time.Second
		}
		if g.Prohibited != nil {
			e.Guards.Prohibited = append([]string{}, g.Prohibited...)
		}
		if g.FailClosed != nil {
			e.Guards.FailClosed = *g.FailClosed
		}
	}
}

// ComputeMode is concept when the caller asks for it, or when the policy
// prefers concepts and the question names no ticker. "default" and any
// other value mean data.
func ComputeMode(eff Effective, requested string, hasTicker bool) string {
	if requested == ModeConcept {
		return ModeConcept
	}
	if eff.PreferConceptWhenNoTicker && !hasTicker {
		return ModeConcept
	}
	return ModeData
}
