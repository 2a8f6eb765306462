// Package params infers aggregation directives (agg kind, window, order,
// limit, metric focus) from a question once its intent is known.
package params

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"araquem/pkg/identifiers"
	"araquem/pkg/ontology"
	"araquem/pkg/policy"
	"araquem/pkg/textnorm"
)

// AggParams drives the SQL builder.
type AggParams struct {
	Agg         string `json:"agg"`
	Window      string `json:"window,omitempty"`
	Order       string `json:"order"`
	Limit       int    `json:"limit"`
	Metric      string `json:"metric,omitempty"`
	PeriodStart string `json:"period_start,omitempty"`
	PeriodEnd   string `json:"period_end,omitempty"`
}

// Inference is everything derived from the question besides the plan.
type Inference struct {
	Params           AggParams         `json:"params"`
	RequestedMetrics []string          `json:"requested_metrics"`
	FocusMetricKey   string            `json:"focus_metric_key,omitempty"`
	Ticker           string            `json:"ticker,omitempty"`
	Tickers          []string          `json:"tickers"`
	Sources          map[string]string `json:"sources"`
}

// SplitWindow parses "months:N" or "count:N". ok is false for anything else.
func SplitWindow(window string) (kind string, n int, ok bool) {
	return policy.ParseWindow(window)
}

// Infer never fails: an unknown intent yields the global defaults and an
// invalid window falls back to the intent's default window.
func Infer(question, intent string, contract *ontology.EntityContract, defaults *policy.ParamDefaults, ids identifiers.Identifiers) Inference {
	normalized := textnorm.Normalize(question)
	inf := Inference{
		RequestedMetrics: requestedMetrics(normalized, contract),
		Tickers:          append([]string{}, ids.Tickers...),
		Sources:          map[string]string{},
	}
	if ids.Count() == 1 {
		inf.Ticker = ids.Ticker
	}
	if len(inf.RequestedMetrics) == 1 {
		inf.FocusMetricKey = inf.RequestedMetrics[0]
		inf.Params.Metric = inf.FocusMetricKey
	}

	order := "desc"
	if contract != nil && contract.DefaultOrder.Direction != "" {
		order = contract.DefaultOrder.Direction
	}
	inf.Params.Order = order
	inf.Sources["order"] = "contract"

	if defaults == nil {
		inf.Params.Agg = policy.AggList
		inf.Params.Limit = 10
		inf.Sources["agg"] = "builtin"
		return inf
	}

	ip, known := defaults.Intent(intent)
	if !known {
		inf.Params.Agg = policy.AggList
		inf.Params.Limit = defaults.DefaultLimit
		inf.Sources["agg"] = "global_default"
		return inf
	}

	text := replaceNumberWords(normalized, defaults)

	inf.Params.Agg = ip.DefaultAgg
	inf.Sources["agg"] = "intent_default"
	for _, g := range ip.AggKeywords {
		if kw := firstPhrase(text, g.Keywords); kw != "" {
			inf.Params.Agg = g.Agg
			inf.Sources["agg"] = "keyword:" + kw
			break
		}
	}

	window, source := detectWindow(text, defaults)
	if window != "" {
		kind, n, _ := policy.ParseWindow(window)
		if !ip.WindowsAllowed.Allows(kind, n) {
			inf.Sources["window_rejected"] = window
			window, source = "", ""
		}
	}
	if window == "" {
		window, source = ip.DefaultWindow, "intent_default"
	}
	inf.Params.Window = window
	if window != "" {
		inf.Sources["window"] = source
	}

	if re := defaults.YearRegexp(); re != nil {
		if m := re.FindStringSubmatch(text); len(m) > 1 {
			inf.Params.PeriodStart = m[1] + "-01-01"
			inf.Params.PeriodEnd = m[1] + "-12-31"
			inf.Params.Window = ""
			inf.Sources["window"] = "year:" + m[1]
		}
	}

	if kw := firstPhrase(text, defaults.OrderKeywords["desc"]); kw != "" {
		inf.Params.Order = "desc"
		inf.Sources["order"] = "keyword:" + kw
	} else if kw := firstPhrase(text, defaults.OrderKeywords["asc"]); kw != "" {
		inf.Params.Order = "asc"
		inf.Sources["order"] = "keyword:" + kw
	}

	inf.Params.Limit = resolveLimit(inf.Params, ip, defaults)
	return inf
}

func resolveLimit(p AggParams, ip policy.IntentParams, defaults *policy.ParamDefaults) int {
	limit := ip.DefaultLimit
	if limit <= 0 {
		limit = defaults.DefaultLimit
	}
	switch p.Agg {
	case policy.AggList:
		if kind, n, ok := policy.ParseWindow(p.Window); ok && kind == "count" {
			limit = n
		}
	case policy.AggLatest:
		limit = 1
	}
	if limit > defaults.MaxLimit {
		limit = defaults.MaxLimit
	}
	return limit
}

// detectWindow applies the explicit enumeration rule: a count window beats a
// months window when both are present.
func detectWindow(text string, defaults *policy.ParamDefaults) (string, string) {
	for _, re := range defaults.CountPatterns() {
		if m := re.FindStringSubmatch(text); len(m) > 1 {
			if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
				return fmt.Sprintf("count:%d", n), "pattern:count"
			}
		}
	}
	for _, re := range defaults.MonthPatterns() {
		if m := re.FindStringSubmatch(text); len(m) > 1 {
			n, err := strconv.Atoi(m[1])
			if err != nil || n <= 0 {
				continue
			}
			if strings.Contains(m[0], "ano") {
				n *= 12
			}
			return fmt.Sprintf("months:%d", n), "pattern:months"
		}
	}
	for _, f := range defaults.WindowPatterns.Fixed {
		if textnorm.ContainsPhrase(text, f.Phrase) {
			return f.Window, "fixed:" + f.Phrase
		}
	}
	return "", ""
}

func replaceNumberWords(text string, defaults *policy.ParamDefaults) string {
	for _, nw := range defaults.NumberWordsByLength() {
		if !strings.Contains(text, nw.Word) {
			continue
		}
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(nw.Word) + `\b`)
		text = re.ReplaceAllString(text, strconv.Itoa(nw.Value))
	}
	return text
}

func firstPhrase(text string, phrases []string) string {
	for _, p := range phrases {
		if textnorm.ContainsPhrase(text, p) {
			return p
		}
	}
	return ""
}

// requestedMetrics keeps the contract's declaration order.
func requestedMetrics(normalized string, contract *ontology.EntityContract) []string {
	out := []string{}
	if contract == nil {
		return out
	}
	for _, syn := range contract.MetricsSynonyms {
		for _, w := range syn.Words {
			if strings.Contains(normalized, w) {
				out = append(out, syn.Metric)
				break
			}
		}
	}
	return out
}
