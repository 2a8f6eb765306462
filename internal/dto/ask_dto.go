package dto

import (
	"araquem/pkg/executor"
	"araquem/pkg/narrator"
	"araquem/pkg/orchestrator"
	"araquem/pkg/planner"
)

type AskRequest struct {
	Question       string `json:"question" validate:"required,max=2000"`
	ConversationID string `json:"conversation_id" validate:"max=128"`
	Nickname       string `json:"nickname" validate:"max=128"`
	ClientID       string `json:"client_id" validate:"max=128"`
	TypeUser       string `json:"type_user" validate:"max=32"`
	BucketHint     string `json:"bucket_hint"`
	ComputeMode    string `json:"compute_mode" validate:"omitempty,oneof=data concept default"`
}

// AskResponse is returned with 200 for every business outcome.
type AskResponse struct {
	Status  orchestrator.Status       `json:"status"`
	Results map[string][]executor.Row `json:"results"`
	Meta    AskMeta                   `json:"meta"`
	Answer  string                    `json:"answer"`
}

type AskMeta struct {
	orchestrator.Meta
	RequestID        string            `json:"request_id"`
	TemplateKey      string            `json:"template_key,omitempty"`
	Narrator         *NarratorMeta     `json:"narrator,omitempty"`
	Explain          *planner.Trace    `json:"explain,omitempty"`
	ExplainAnalytics *ExplainAnalytics `json:"explain_analytics,omitempty"`
	Quota            *QuotaStatus      `json:"quota,omitempty"`
}

// ExplainAnalytics summarises where time went in one request.
type ExplainAnalytics struct {
	RouteMs   int64                      `json:"route_ms"`
	PresentMs int64                      `json:"present_ms"`
	TotalMs   int64                      `json:"total_ms"`
	Gates     []orchestrator.GateOutcome `json:"gates"`
	CacheHit  bool                       `json:"cache_hit"`
	Published bool                       `json:"published"`
}

type QuotaStatus struct {
	TypeUser string `json:"type_user"`
	Used     int64  `json:"used"`
	Limit    int    `json:"limit"`
}

// NarratorMeta exposes the effective compute mode even when no narrator ran.
type NarratorMeta struct {
	ComputeMode string `json:"compute_mode"`
	*narrator.Output
}
