package policy

import (
	"bytes"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidationError reports a malformed policy file.
type ValidationError struct {
	File   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("policy %s: %s: %s", e.File, e.Field, e.Reason)
}

func decodeStrict(file string, data []byte, out interface{}) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", file, err)
	}
	return nil
}

// ---- planner thresholds ----

type Threshold struct {
	MinScore float64 `yaml:"min_score"`
	MinGap   float64 `yaml:"min_gap"`
}

type RAGFusion struct {
	Enabled  bool    `yaml:"enabled"`
	Weight   float64 `yaml:"weight"`
	K        int     `yaml:"k"`
	MinScore float64 `yaml:"min_score"`
}

type PlannerThresholds struct {
	Defaults  Threshold            `yaml:"defaults"`
	Intents   map[string]Threshold `yaml:"intents"`
	ApplyOn   string               `yaml:"apply_on"`
	RAGFusion RAGFusion            `yaml:"rag_fusion"`
}

// For returns the gate for intent, falling back to the defaults.
func (p *PlannerThresholds) For(intent string) Threshold {
	if t, ok := p.Intents[intent]; ok {
		return t
	}
	return p.Defaults
}

// GateOnFused reports whether the acceptance gate reads blended scores.
func (p *PlannerThresholds) GateOnFused() bool {
	return p.RAGFusion.Enabled && p.ApplyOn == "fused"
}

func ParseThresholds(file string, data []byte) (*PlannerThresholds, error) {
	var p PlannerThresholds
	if err := decodeStrict(file, data, &p); err != nil {
		return nil, err
	}
	if p.ApplyOn == "" {
		p.ApplyOn = "base"
	}
	if p.ApplyOn != "base" && p.ApplyOn != "fused" {
		return nil, &ValidationError{File: file, Field: "apply_on", Reason: "must be base or fused"}
	}
	check := func(field string, t Threshold) error {
		if t.MinScore < 0 || t.MinGap < 0 {
			return &ValidationError{File: file, Field: field, Reason: "thresholds must be non-negative"}
		}
		return nil
	}
	if err := check("defaults", p.Defaults); err != nil {
		return nil, err
	}
	for name, t := range p.Intents {
		if err := check("intents."+name, t); err != nil {
			return nil, err
		}
	}
	if p.RAGFusion.Weight < 0 || p.RAGFusion.Weight > 1 {
		return nil, &ValidationError{File: file, Field: "rag_fusion.weight", Reason: "must be within [0, 1]"}
	}
	if p.RAGFusion.K <= 0 {
		p.RAGFusion.K = 5
	}
	return &p, nil
}

// ---- cache ----

type EntityCache struct {
	TTLSeconds int    `yaml:"ttl_seconds"`
	Scope      string `yaml:"scope"`
}

type CachePolicy struct {
	Scope             string                 `yaml:"scope"`
	Entities          map[string]EntityCache `yaml:"entities"`
	LegacyCleanupScan []string               `yaml:"legacy_cleanup_scan"`
}

// EntityCacheRule is the resolved TTL and scope of one entity.
type EntityCacheRule struct {
	TTL   time.Duration
	Scope string
}

// For reports the rule for entity. A missing entry means no caching.
func (p *CachePolicy) For(entity string) (EntityCacheRule, bool) {
	if p == nil {
		return EntityCacheRule{}, false
	}
	e, ok := p.Entities[entity]
	if !ok || e.TTLSeconds <= 0 {
		return EntityCacheRule{}, false
	}
	scope := e.Scope
	if scope == "" {
		scope = p.Scope
	}
	return EntityCacheRule{TTL: time.Duration(e.TTLSeconds) * time.Second, Scope: scope}, true
}

func ParseCache(file string, data []byte) (*CachePolicy, error) {
	var p CachePolicy
	if err := decodeStrict(file, data, &p); err != nil {
		return nil, err
	}
	if p.Scope == "" {
		p.Scope = "pub"
	}
	for name, e := range p.Entities {
		if e.TTLSeconds < 0 {
			return nil, &ValidationError{File: file, Field: "entities." + name + ".ttl_seconds", Reason: "must be positive"}
		}
	}
	return &p, nil
}

// ---- rag ----

type RAGRouting struct {
	DenyIntents  []string `yaml:"deny_intents"`
	AllowIntents []string `yaml:"allow_intents"`
}

type RAGProfile struct {
	Collections []string `yaml:"collections"`
	MaxChunks   int      `yaml:"max_chunks"`
	MinScore    float64  `yaml:"min_score"`
	MaxTokens   int      `yaml:"max_tokens"`
}

type RAGShadow struct {
	Enabled    bool    `yaml:"enabled"`
	Collection string  `yaml:"collection"`
	SampleRate float64 `yaml:"sample_rate"`
	K          int     `yaml:"k"`
}

type RAGPolicy struct {
	Routing  RAGRouting            `yaml:"routing"`
	Default  RAGProfile            `yaml:"default"`
	Profiles map[string]RAGProfile `yaml:"profiles"`
	Shadow   RAGShadow             `yaml:"shadow"`
}

func ParseRAG(file string, data []byte) (*RAGPolicy, error) {
	var p RAGPolicy
	if err := decodeStrict(file, data, &p); err != nil {
		return nil, err
	}
	if p.Shadow.SampleRate < 0 || p.Shadow.SampleRate > 1 {
		return nil, &ValidationError{File: file, Field: "shadow.sample_rate", Reason: "must be within [0, 1]"}
	}
	if p.Default.MinScore < -1 || p.Default.MinScore > 1 {
		return nil, &ValidationError{File: file, Field: "default.min_score", Reason: "must be within [-1, 1]"}
	}
	return &p, nil
}

// ---- narrator ----

type GuardOverrides struct {
	TimeoutSeconds *int     `yaml:"timeout_seconds"`
	Prohibited     []string `yaml:"prohibited"`
	FailClosed     *bool    `yaml:"fail_closed"`
}

// NarratorOverrides is one layer of narrator settings. Nil fields inherit
// from the layer below.
type NarratorOverrides struct {
	LLMEnabled                *bool           `yaml:"llm_enabled"`
	Shadow                    *bool           `yaml:"shadow"`
	Model                     *string         `yaml:"model"`
	MaxLLMRows                *int            `yaml:"max_llm_rows"`
	UseRAGInPrompt            *bool           `yaml:"use_rag_in_prompt"`
	PreferConceptWhenNoTicker *bool           `yaml:"prefer_concept_when_no_ticker"`
	RAGSnippetMaxChars        *int            `yaml:"rag_snippet_max_chars"`
	RewriteOnly               *bool           `yaml:"rewrite_only"`
	Style                     *string         `yaml:"style"`
	PolicyGuards              *GuardOverrides `yaml:"policy_guards"`
}

type ShadowSink struct {
	SampleRate float64  `yaml:"sample_rate"`
	MaxChars   int      `yaml:"max_chars"`
	Redact     []string `yaml:"redact"`
}

type NarratorPolicy struct {
	Default    NarratorOverrides            `yaml:"default"`
	Entities   map[string]NarratorOverrides `yaml:"entities"`
	ShadowSink ShadowSink                   `yaml:"shadow_sink"`
}

func ParseNarrator(file string, data []byte) (*NarratorPolicy, error) {
	var p NarratorPolicy
	if err := decodeStrict(file, data, &p); err != nil {
		return nil, err
	}
	if p.ShadowSink.SampleRate < 0 || p.ShadowSink.SampleRate > 1 {
		return nil, &ValidationError{File: file, Field: "shadow_sink.sample_rate", Reason: "must be within [0, 1]"}
	}
	if p.ShadowSink.MaxChars <= 0 {
		p.ShadowSink.MaxChars = 2000
	}
	for name, o := range p.Entities {
		if o.RAGSnippetMaxChars != nil && *o.RAGSnippetMaxChars < 0 {
			return nil, &ValidationError{File: file, Field: "entities." + name + ".rag_snippet_max_chars", Reason: "must be positive"}
		}
	}
	return &p, nil
}

// ---- context ----

type ContextPolicy struct {
	Enabled         bool     `yaml:"enabled"`
	TTLSeconds      int      `yaml:"ttl_seconds"`
	AllowedEntities []string `yaml:"allowed_entities"`
	DeniedEntities  []string `yaml:"denied_entities"`
}

// DefaultContext is used when context.yaml is missing or malformed.
func DefaultContext() *ContextPolicy {
	return &ContextPolicy{Enabled: false, TTLSeconds: 1800}
}

// MayInherit reports whether entity may reuse tickers from conversation memory.
func (p *ContextPolicy) MayInherit(entity string) bool {
	if p == nil || !p.Enabled {
		return false
	}
	for _, e := range p.DeniedEntities {
		if e == entity {
			return false
		}
	}
	if len(p.AllowedEntities) == 0 {
		return true
	}
	for _, e := range p.AllowedEntities {
		if e == entity {
			return true
		}
	}
	return false
}

// TTL is how long a conversation reference stays valid.
func (p *ContextPolicy) TTL() time.Duration {
	if p == nil || p.TTLSeconds <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(p.TTLSeconds) * time.Second
}

func ParseContext(file string, data []byte) (*ContextPolicy, error) {
	p := DefaultContext()
	if err := decodeStrict(file, data, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ---- quota ----

type QuotaPolicy struct {
	Enabled     bool           `yaml:"enabled"`
	DefaultType string         `yaml:"default_type"`
	Limits      map[string]int `yaml:"limits"`
}

// DefaultQuota disables enforcement.
func DefaultQuota() *QuotaPolicy {
	return &QuotaPolicy{Enabled: false, DefaultType: "free"}
}

// LimitFor returns the monthly limit for a user type; 0 means unlimited.
func (p *QuotaPolicy) LimitFor(userType string) int {
	if p == nil || !p.Enabled {
		return 0
	}
	if userType == "" {
		userType = p.DefaultType
	}
	if l, ok := p.Limits[userType]; ok {
		return l
	}
	return p.Limits[p.DefaultType]
}

func ParseQuota(file string, data []byte) (*QuotaPolicy, error) {
	p := DefaultQuota()
	if err := decodeStrict(file, data, p); err != nil {
		return nil, err
	}
	for t, l := range p.Limits {
		if l < 0 {
			return nil, &ValidationError{File: file, Field: "limits." + t, Reason: "must be zero or positive"}
		}
	}
	return p, nil
}
