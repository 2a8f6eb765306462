package planner

import "araquem/pkg/policy"

// Hint is a retrieval hit that points at an entity.
type Hint struct {
	DocID  string  `json:"doc_id"`
	Entity string  `json:"entity"`
	Score  float64 `json:"score"`
}

// TraceNode is one step of the decision path. Stage names the pipeline step,
// Type the kind of record and Outcome what happened.
type TraceNode struct {
	Stage   string                 `json:"stage"`
	Type    string                 `json:"type"`
	Outcome string                 `json:"outcome"`
	Detail  map[string]interface{} `json:"detail,omitempty"`
}

type ScoreDetail struct {
	Intent          string   `json:"intent"`
	TokensMatched   []string `json:"tokens_matched"`
	TokensExcluded  []string `json:"tokens_excluded"`
	PhrasesMatched  []string `json:"phrases_matched"`
	PhrasesExcluded []string `json:"phrases_excluded"`
	AntiGroups      []string `json:"anti_groups"`
	Base            float64  `json:"base"`
	RAGSignal       float64  `json:"rag_signal"`
	Combined        float64  `json:"combined"`
	Entities        []string `json:"entities"`
	Retained        bool     `json:"retained"`
}

type BucketDecision struct {
	Name        string   `json:"name"`
	Source      string   `json:"source"`
	TickerCount int      `json:"ticker_count"`
	Retained    []string `json:"retained"`
	Dropped     []string `json:"dropped"`
}

type Candidate struct {
	Intent string  `json:"intent"`
	Score  float64 `json:"score"`
}

type Scoring struct {
	TokenWeight  float64          `json:"token_weight"`
	PhraseWeight float64          `json:"phrase_weight"`
	Threshold    policy.Threshold `json:"threshold"`
	ApplyOn      string           `json:"apply_on"`
	Top1         *Candidate       `json:"top1"`
	Top2         *Candidate       `json:"top2"`
	Gap          float64          `json:"gap"`
	Accepted     bool             `json:"accepted"`
	Reason       string           `json:"reason"`
}

type Fusion struct {
	Enabled bool               `json:"enabled"`
	Weight  float64            `json:"weight"`
	K       int                `json:"k"`
	Hints   []Hint             `json:"hints"`
	Signals map[string]float64 `json:"signals"`
	Error   string             `json:"error,omitempty"`
	Winner  string             `json:"winner"`
	Changed bool               `json:"changed"`
}

type Explain struct {
	Bucket       BucketDecision `json:"bucket"`
	Scoring      Scoring        `json:"scoring"`
	Fusion       *Fusion        `json:"fusion,omitempty"`
	DecisionPath []TraceNode    `json:"decision_path"`
}

type Chosen struct {
	Intent   string  `json:"intent"`
	Entity   string  `json:"entity"`
	Score    float64 `json:"score"`
	Accepted bool    `json:"accepted"`
}

type Trace struct {
	Normalized   string             `json:"normalized"`
	Tokens       []string           `json:"tokens"`
	IntentScores map[string]float64 `json:"intent_scores"`
	Details      []ScoreDetail      `json:"details"`
	Chosen       Chosen             `json:"chosen"`
	Explain      Explain            `json:"explain"`
}

// PlanResult is the planner's full decision. Entity is empty when the
// acceptance gate rejected the top candidate; Intent is kept for analytics.
type PlanResult struct {
	Intent   string  `json:"intent"`
	Entity   string  `json:"entity"`
	Score    float64 `json:"score"`
	Accepted bool    `json:"accepted"`
	Bucket   string  `json:"bucket"`
	Trace    Trace   `json:"trace"`
}
