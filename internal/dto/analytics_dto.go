package dto

import "encoding/json"

const (
	AnalyticsKindExplain  = "explain"
	AnalyticsKindNarrator = "narrator"
)

// AnalyticsMessage is the payload carried on the analytics topic.
type AnalyticsMessage struct {
	Kind     string                `json:"kind"`
	Explain  *ExplainEventMessage  `json:"explain,omitempty"`
	Narrator *NarratorEventMessage `json:"narrator,omitempty"`
}

type ExplainEventMessage struct {
	RequestID      string          `json:"request_id"`
	ClientID       string          `json:"client_id"`
	ConversationID string          `json:"conversation_id"`
	Question       string          `json:"question"`
	Intent         string          `json:"intent"`
	Entity         string          `json:"entity"`
	Reason         string          `json:"reason"`
	Score          float64         `json:"score"`
	RowsTotal      int             `json:"rows_total"`
	CacheHit       bool            `json:"cache_hit"`
	ElapsedMs      int64           `json:"elapsed_ms"`
	ConfigVersion  string          `json:"config_version"`
	PlanHash       string          `json:"plan_hash"`
	Trace          json.RawMessage `json:"trace,omitempty"`
	Gates          json.RawMessage `json:"gates,omitempty"`
}

type NarratorEventMessage struct {
	RequestID   string          `json:"request_id"`
	Entity      string          `json:"entity"`
	ComputeMode string          `json:"compute_mode"`
	Strategy    string          `json:"strategy"`
	Enabled     bool            `json:"enabled"`
	Shadow      bool            `json:"shadow"`
	Model       string          `json:"model"`
	LatencyMs   int64           `json:"latency_ms"`
	Error       string          `json:"error,omitempty"`
	Meta        json.RawMessage `json:"meta,omitempty"`
}
