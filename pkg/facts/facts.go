// Package facts holds the canonical read-only payload shared by the
// presenter and the narrator.
package facts

import (
	"sort"
)

type Row = map[string]interface{}

type Facts struct {
	Question         string                 `json:"question"`
	Intent           string                 `json:"intent"`
	Entity           string                 `json:"entity"`
	Score            float64                `json:"score"`
	ResultKey        string                 `json:"result_key"`
	Columns          []string               `json:"columns,omitempty"`
	Rows             []Row                  `json:"rows"`
	Primary          Row                    `json:"primary,omitempty"`
	Aggregates       map[string]interface{} `json:"aggregates,omitempty"`
	Identifiers      map[string]interface{} `json:"identifiers,omitempty"`
	RequestedMetrics []string               `json:"requested_metrics"`
	FocusMetric      string                 `json:"focus_metric,omitempty"`
	Ticker           string                 `json:"ticker,omitempty"`
	Tickers          []string               `json:"tickers,omitempty"`
}

type Input struct {
	Question         string
	Intent           string
	Entity           string
	Score            float64
	ResultKey        string
	Columns          []string
	Results          map[string][]Row
	Aggregates       map[string]interface{}
	Identifiers      map[string]interface{}
	Tickers          []string
	RequestedMetrics []string
	FocusMetric      string
}

// Build derives Facts from orchestrator output. Rows are copied so later
// stages cannot mutate the results.
func Build(in Input) Facts {
	key := ResolveResultKey(in.ResultKey, in.Results)
	src := in.Results[key]
	rows := make([]Row, 0, len(src))
	for _, r := range src {
		cp := make(Row, len(r))
		for k, v := range r {
			cp[k] = v
		}
		rows = append(rows, cp)
	}

	f := Facts{
		Question:         in.Question,
		Intent:           in.Intent,
		Entity:           in.Entity,
		Score:            in.Score,
		ResultKey:        key,
		Columns:          append([]string{}, in.Columns...),
		Rows:             rows,
		Aggregates:       in.Aggregates,
		Identifiers:      in.Identifiers,
		RequestedMetrics: append([]string{}, in.RequestedMetrics...),
		FocusMetric:      in.FocusMetric,
		Tickers:          append([]string{}, in.Tickers...),
	}
	if len(rows) > 0 {
		f.Primary = rows[0]
	}
	switch {
	case len(in.Tickers) == 1:
		f.Ticker = in.Tickers[0]
	case len(in.Tickers) == 0 && f.Primary != nil:
		if t, ok := f.Primary["ticker"].(string); ok {
			f.Ticker = t
		}
	}
	return f
}

// ResolveResultKey prefers the declared key, then the only key present, then
// the first non-empty key in lexical order.
func ResolveResultKey(declared string, results map[string][]Row) string {
	if _, ok := results[declared]; ok || len(results) == 0 {
		return declared
	}
	if len(results) == 1 {
		for k := range results {
			return k
		}
	}
	keys := make([]string, 0, len(results))
	for k := range results {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if len(results[k]) > 0 {
			return k
		}
	}
	return declared
}

// HasTicker reports whether the facts carry any ticker reference.
func (f Facts) HasTicker() bool {
	if f.Ticker != "" || len(f.Tickers) > 0 {
		return true
	}
	if t, ok := f.Identifiers["ticker"].(string); ok && t != "" {
		return true
	}
	return false
}
