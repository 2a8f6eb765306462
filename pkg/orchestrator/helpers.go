package orchestrator

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"araquem/pkg/executor"
	"araquem/pkg/identifiers"
	"araquem/pkg/params"
	"araquem/pkg/planner"
	"araquem/pkg/policy"
)

const defaultMetricsWindowMonths = 12

// ProjectionError reports declared columns the rows did not carry.
type ProjectionError struct {
	Entity  string
	Missing []string
}

func (e *ProjectionError) Error() string {
	return fmt.Sprintf("projection of %s missing columns: %s", e.Entity, e.Columns())
}

// Columns joins the missing column names.
func (e *ProjectionError) Columns() string { return strings.Join(e.Missing, ",") }

// SplitWindow parses "months:N" or "count:N".
func SplitWindow(window string) (kind string, n int, ok bool) {
	return params.SplitWindow(window)
}

// NormaliseMetricsWindow describes the period a metrics query covers so two
// metrics requests over different windows never share a cache entry. A count
// window has no meaning for metrics and is replaced by the default months.
func NormaliseMetricsWindow(agg params.AggParams) map[string]interface{} {
	if agg.PeriodStart != "" && agg.PeriodEnd != "" {
		return map[string]interface{}{
			"metrics_window": "period",
			"period_start":   agg.PeriodStart,
			"period_end":     agg.PeriodEnd,
		}
	}
	months := defaultMetricsWindowMonths
	if kind, n, ok := SplitWindow(agg.Window); ok && kind == "months" {
		months = n
	}
	return map[string]interface{}{
		"metrics_window": fmt.Sprintf("months:%d", months),
		"window_months":  months,
	}
}

// aggregates is the meta/cache form of agg; empty fields are omitted.
func aggregates(agg params.AggParams) map[string]interface{} {
	out := map[string]interface{}{
		"agg":   agg.Agg,
		"order": agg.Order,
		"limit": agg.Limit,
	}
	for k, v := range map[string]string{
		"window":       agg.Window,
		"metric":       agg.Metric,
		"period_start": agg.PeriodStart,
		"period_end":   agg.PeriodEnd,
	} {
		if v != "" {
			out[k] = v
		}
	}
	if agg.Agg == "" {
		out["agg"] = policy.AggList
	}
	return out
}

// PlanHash fingerprints everything that decides which rows are fetched.
func PlanHash(plan *planner.PlanResult, ids identifiers.Identifiers, agg params.AggParams, ref *LastReference) string {
	doc := map[string]interface{}{
		"intent":      plan.Intent,
		"entity":      plan.Entity,
		"bucket":      plan.Bucket,
		"identifiers": ids.AsMap(),
		"agg":         aggregates(agg),
	}
	if ref != nil {
		doc["last_reference"] = map[string]interface{}{"entity": ref.Entity, "tickers": ref.Tickers}
	}
	raw, _ := json.Marshal(doc)
	sum := sha1.Sum(raw)
	return hex.EncodeToString(sum[:])
}

func missingColumns(rows []executor.Row, cols []string) []string {
	if len(rows) == 0 {
		return nil
	}
	seen := map[string]bool{}
	var missing []string
	for _, r := range rows {
		for _, c := range cols {
			if _, ok := r[c]; !ok && !seen[c] {
				seen[c] = true
				missing = append(missing, c)
			}
		}
	}
	sort.Strings(missing)
	return missing
}

// project keeps the declared columns of each row.
func project(rows []executor.Row, cols []string) []executor.Row {
	out := make([]executor.Row, 0, len(rows))
	for _, r := range rows {
		p := make(executor.Row, len(cols))
		for _, c := range cols {
			p[c] = r[c]
		}
		out = append(out, p)
	}
	return out
}
