package orchestrator

import (
	"time"

	"araquem/pkg/cache"
	"araquem/pkg/executor"
	"araquem/pkg/identifiers"
	"araquem/pkg/ontology"
	"araquem/pkg/planner"
	"araquem/pkg/policy"
	"araquem/pkg/rag"
)

// Status reasons.
const (
	ReasonOK         = "ok"
	ReasonUnroutable = "unroutable"
	ReasonError      = "error"
)

// Gate names, in the order they are applied.
const (
	GateBucket     = "bucket"
	GatePlanner    = "planner"
	GateContext    = "context"
	GateProjection = "projection"
)

type Request struct {
	Question       string
	ClientID       string
	ConversationID string
	BucketHint     string
	ComputeMode    string
	// Plan, when set, is reused instead of calling the planner.
	Plan *planner.PlanResult
}

type Status struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type GateOutcome struct {
	Gate    string `json:"gate"`
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

// LastReference is what a conversation remembers between questions.
type LastReference struct {
	Entity  string    `json:"entity"`
	Tickers []string  `json:"tickers"`
	At      time.Time `json:"at"`
}

type PlannerMeta struct {
	Intent   string  `json:"intent"`
	Entity   string  `json:"entity"`
	Score    float64 `json:"score"`
	Accepted bool    `json:"accepted"`
	Bucket   string  `json:"bucket"`
	Reason   string  `json:"reason"`
}

type Meta struct {
	Planner          PlannerMeta             `json:"planner"`
	Intent           string                  `json:"intent"`
	Entity           string                  `json:"entity"`
	ResultKey        string                  `json:"result_key"`
	RowsTotal        int                     `json:"rows_total"`
	ElapsedMs        int64                   `json:"elapsed_ms"`
	Aggregates       map[string]interface{}  `json:"aggregates"`
	Cache            cache.Result            `json:"cache"`
	RequestedMetrics []string                `json:"requested_metrics"`
	FocusMetric      string                  `json:"focus_metric,omitempty"`
	ComputeMode      string                  `json:"compute_mode"`
	RAG              *rag.Context            `json:"rag,omitempty"`
	LastReference    *LastReference          `json:"last_reference,omitempty"`
	PlanHash         string                  `json:"plan_hash,omitempty"`
	Identifiers      identifiers.Identifiers `json:"identifiers"`
	MultiTickerMode  string                  `json:"multi_ticker_mode,omitempty"`
	SQLFingerprint   string                  `json:"sql_fingerprint,omitempty"`
	Gates            []GateOutcome           `json:"gates"`
	Notes            []string                `json:"notes,omitempty"`
	ConfigVersion    string                  `json:"config_version"`
}

// Result is the canonical orchestration outcome. The unexported-in-JSON
// fields carry what the presenter needs without a second snapshot lookup.
type Result struct {
	Status  Status                    `json:"status"`
	Results map[string][]executor.Row `json:"results"`
	Meta    Meta                      `json:"meta"`

	Plan        *planner.PlanResult      `json:"-"`
	Snapshot    *policy.Snapshot         `json:"-"`
	Contract    *ontology.EntityContract `json:"-"`
	Columns     []string                 `json:"-"`
	Identifiers identifiers.Identifiers  `json:"-"`
}

// Rows returns the rows under the declared result key.
func (r *Result) Rows() []executor.Row {
	return r.Results[r.Meta.ResultKey]
}

// payload is what the read-through cache stores.
type payload struct {
	Results map[string][]executor.Row `json:"results"`
	Meta    payloadMeta               `json:"meta"`
}

type payloadMeta struct {
	ResultKey   string `json:"result_key"`
	RowsTotal   int    `json:"rows_total"`
	Fingerprint string `json:"fingerprint"`
}
