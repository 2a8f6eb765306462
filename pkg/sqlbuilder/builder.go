// Package sqlbuilder renders read-only, parameterised SELECTs from entity
// contracts. Identifiers come only from validated contracts; every value
// taken from the question travels as a named argument (@name, pgx style).
package sqlbuilder

import (
	"errors"
	"fmt"
	"strings"

	"araquem/pkg/identifiers"
	"araquem/pkg/ontology"
	"araquem/pkg/params"
	"araquem/pkg/policy"
)

// ErrMissingContract is returned when no entity contract is supplied.
var ErrMissingContract = errors.New("sqlbuilder: missing entity contract")

// Multi-ticker modes recorded in the query.
const (
	TickerModeNone   = "none"
	TickerModeSingle = "single"
	TickerModeAny    = "any"
	TickerModeAll    = "all"
)

// Columns every avg/sum query returns.
var aggregateColumns = []string{"ticker", "metric", "value", "period_start", "period_end", "rows_count"}

// Columns every metrics query returns.
var metricsColumns = []string{"ticker", "metric", "value", "window_months", "period_start", "period_end"}

const defaultMetricsWindow = 12

type Query struct {
	Entity          string
	SQL             string
	Params          map[string]interface{}
	ResultKey       string
	ReturnColumns   []string
	Agg             string
	MultiTickerMode string
	DroppedTickers  []string
	Notes           []string
}

type builder struct {
	c     *ontology.EntityContract
	agg   params.AggParams
	q     *Query
	where []string
}

// BuildSelect renders the query for contract. An unknown agg kind falls back
// to list and leaves a note.
func BuildSelect(c *ontology.EntityContract, ids identifiers.Identifiers, agg params.AggParams) (*Query, error) {
	if c == nil {
		return nil, ErrMissingContract
	}
	b := &builder{
		c:   c,
		agg: agg,
		q: &Query{
			Entity:    c.Entity,
			Params:    map[string]interface{}{},
			ResultKey: c.ResultKey,
		},
	}
	if !policy.KnownAgg(agg.Agg) {
		b.q.Notes = append(b.q.Notes, "unknown_agg_fallback:"+agg.Agg)
		b.agg.Agg = policy.AggList
	}
	if b.agg.Order != "asc" && b.agg.Order != "desc" {
		b.agg.Order = c.DefaultOrder.Direction
	}
	b.q.Agg = b.agg.Agg
	b.tickerFilter(ids)

	switch b.agg.Agg {
	case policy.AggLatest:
		b.latest()
	case policy.AggAvg, policy.AggSum:
		if b.valueColumn() == "" {
			b.q.Notes = append(b.q.Notes, "no_value_column_fallback")
			b.q.Agg = policy.AggList
			b.list()
		} else {
			b.aggregate()
		}
	case policy.AggMetrics:
		if len(c.Metrics) == 0 {
			b.q.Notes = append(b.q.Notes, "no_metrics_fallback")
			b.q.Agg = policy.AggList
			b.list()
		} else {
			b.metrics()
		}
	default:
		b.list()
	}
	return b.q, nil
}

func (b *builder) tickerFilter(ids identifiers.Identifiers) {
	if !b.c.HasTickerColumn() {
		b.q.MultiTickerMode = TickerModeNone
		return
	}
	switch {
	case len(ids.Tickers) == 0:
		b.q.MultiTickerMode = TickerModeAll
	case len(ids.Tickers) > 1 && b.c.SupportsMultiTicker:
		b.q.MultiTickerMode = TickerModeAny
		b.q.Params["tickers"] = append([]string{}, ids.Tickers...)
		b.where = append(b.where, "ticker = ANY(@tickers)")
	default:
		b.q.Params["ticker"] = ids.Tickers[0]
		b.where = append(b.where, "ticker = @ticker")
		b.q.MultiTickerMode = TickerModeSingle
		if len(ids.Tickers) > 1 {
			b.q.MultiTickerMode = TickerModeNone
			b.q.DroppedTickers = append([]string{}, ids.Tickers[1:]...)
		}
	}
}

func (b *builder) multi() bool { return b.q.MultiTickerMode == TickerModeAny }

// dateFilter renders the period or months window over field. count windows
// are structural and handled by the callers.
func (b *builder) dateFilter(field string) []string {
	if field == "" {
		return nil
	}
	if b.agg.PeriodStart != "" && b.agg.PeriodEnd != "" {
		b.q.Params["period_start"] = b.agg.PeriodStart
		b.q.Params["period_end"] = b.agg.PeriodEnd
		return []string{fmt.Sprintf("%s::date BETWEEN @period_start::date AND @period_end::date", field)}
	}
	if kind, n, ok := params.SplitWindow(b.agg.Window); ok && kind == "months" {
		b.q.Params["window_months"] = n
		return []string{fmt.Sprintf("%s::timestamp >= CURRENT_DATE - (@window_months::int * INTERVAL '1 month')", field)}
	}
	return nil
}

func (b *builder) countWindow() (int, bool) {
	if b.agg.PeriodStart != "" {
		return 0, false
	}
	kind, n, ok := params.SplitWindow(b.agg.Window)
	if !ok || kind != "count" {
		return 0, false
	}
	b.q.Params["window_count"] = n
	return n, true
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

// recencyField orders rows newest first when picking the last N or the latest row.
func (b *builder) recencyField() string {
	if b.c.DefaultDateField != "" {
		return b.c.DefaultDateField
	}
	return b.c.DefaultOrder.Field
}

func (b *builder) orderClause() string {
	field := b.c.DefaultOrder.Field
	if field == "" || !b.c.OrderAllowed(field) {
		if len(b.c.OrderByWhitelist) == 0 {
			return ""
		}
		field = b.c.OrderByWhitelist[0]
	}
	dir := strings.ToUpper(b.agg.Order)
	if b.multi() && field != ontology.TickerColumn {
		return fmt.Sprintf(" ORDER BY ticker ASC, %s %s", field, dir)
	}
	return fmt.Sprintf(" ORDER BY %s %s", field, dir)
}

func (b *builder) list() {
	c := b.c
	cols := strings.Join(c.ReturnColumns, ", ")
	b.q.ReturnColumns = append([]string{}, c.ReturnColumns...)
	conds := append(append([]string{}, b.where...), b.dateFilter(c.DefaultDateField)...)
	recency := b.recencyField()

	if _, ok := b.countWindow(); ok && recency != "" {
		if b.multi() {
			b.q.SQL = fmt.Sprintf(
				"SELECT %s FROM (SELECT %s, ROW_NUMBER() OVER (PARTITION BY ticker ORDER BY %s DESC) AS rn FROM %s%s) t WHERE rn <= @window_count%s",
				cols, cols, recency, c.View, whereClause(conds), b.orderClause())
			return
		}
		b.q.SQL = fmt.Sprintf(
			"SELECT %s FROM (SELECT %s FROM %s%s ORDER BY %s DESC LIMIT @window_count) t%s",
			cols, cols, c.View, whereClause(conds), recency, b.orderClause())
		return
	}

	limit := b.agg.Limit
	if limit <= 0 {
		limit = 10
	}
	if b.multi() {
		if tickers, ok := b.q.Params["tickers"].([]string); ok {
			limit *= len(tickers)
		}
	}
	b.q.Params["limit"] = limit
	b.q.SQL = fmt.Sprintf("SELECT %s FROM %s%s%s LIMIT @limit", cols, c.View, whereClause(conds), b.orderClause())
}

// latest ignores windows: the most recent row is wanted whatever its age.
func (b *builder) latest() {
	c := b.c
	cols := strings.Join(c.ReturnColumns, ", ")
	b.q.ReturnColumns = append([]string{}, c.ReturnColumns...)
	recency := b.recencyField()
	where := whereClause(b.where)

	if c.HasTickerColumn() && (b.multi() || b.q.MultiTickerMode == TickerModeAll) {
		order := " ORDER BY ticker"
		if recency != "" && recency != ontology.TickerColumn {
			order += ", " + recency + " DESC"
		}
		sql := fmt.Sprintf("SELECT DISTINCT ON (ticker) %s FROM %s%s%s", cols, c.View, where, order)
		if b.q.MultiTickerMode == TickerModeAll {
			limit := b.agg.Limit
			if limit <= 1 {
				limit = 10
			}
			b.q.Params["limit"] = limit
			sql += " LIMIT @limit"
		}
		b.q.SQL = sql
		return
	}

	order := ""
	if recency != "" {
		order = " ORDER BY " + recency + " DESC"
	}
	b.q.SQL = fmt.Sprintf("SELECT %s FROM %s%s%s LIMIT 1", cols, c.View, where, order)
}

func (b *builder) valueColumn() string {
	agg := b.c.Aggregations
	if b.agg.Metric != "" {
		for _, v := range agg.ValueColumns {
			if v == b.agg.Metric {
				return v
			}
		}
	}
	return agg.ValueColumn
}

func (b *builder) aggregate() {
	c := b.c
	value := b.valueColumn()
	fn := "AVG"
	if b.agg.Agg == policy.AggSum {
		fn = "SUM"
	}
	date := c.DefaultDateField
	hasTicker := c.HasTickerColumn()

	periodStart, periodEnd := "NULL::date", "NULL::date"
	if date != "" {
		periodStart = fmt.Sprintf("MIN(%s)::date", date)
		periodEnd = fmt.Sprintf("MAX(%s)::date", date)
	}

	selectCols := fmt.Sprintf("'%s' AS metric, %s(%s) AS value, %s AS period_start, %s AS period_end, COUNT(*) AS rows_count",
		value, fn, value, periodStart, periodEnd)
	groupBy, orderBy := "", ""
	if hasTicker {
		selectCols = "ticker, " + selectCols
		groupBy = " GROUP BY ticker"
		orderBy = " ORDER BY ticker"
		b.q.ReturnColumns = append([]string{}, aggregateColumns...)
	} else {
		b.q.ReturnColumns = append([]string{}, aggregateColumns[1:]...)
	}

	inner := []string{value}
	if hasTicker {
		inner = append([]string{"ticker"}, inner...)
	}
	if date != "" && date != value {
		inner = append(inner, date)
	}
	innerCols := strings.Join(inner, ", ")
	conds := append(append([]string{}, b.where...), b.dateFilter(date)...)
	recency := b.recencyField()

	if _, ok := b.countWindow(); ok && recency != "" {
		if b.multi() {
			b.q.SQL = fmt.Sprintf(
				"SELECT %s FROM (SELECT %s, ROW_NUMBER() OVER (PARTITION BY ticker ORDER BY %s DESC) AS rn FROM %s%s) t WHERE rn <= @window_count%s%s",
				selectCols, innerCols, recency, c.View, whereClause(conds), groupBy, orderBy)
			return
		}
		b.q.SQL = fmt.Sprintf(
			"SELECT %s FROM (SELECT %s FROM %s%s ORDER BY %s DESC LIMIT @window_count) t%s%s",
			selectCols, innerCols, c.View, whereClause(conds), recency, groupBy, orderBy)
		return
	}
	b.q.SQL = fmt.Sprintf("SELECT %s FROM %s%s%s%s", selectCols, c.View, whereClause(conds), groupBy, orderBy)
}

func (b *builder) metrics() {
	c := b.c
	b.q.ReturnColumns = append([]string{}, metricsColumns...)

	months := defaultMetricsWindow
	if kind, n, ok := params.SplitWindow(b.agg.Window); ok && kind == "months" {
		months = n
	}
	b.q.Params["window_months"] = months

	selected := c.Metrics
	if b.agg.Metric != "" {
		if m, ok := c.Metric(b.agg.Metric); ok {
			selected = ontology.MetricList{m}
		}
	}

	parts := make([]string, 0, len(selected))
	for _, m := range selected {
		date := m.DateField
		conds := append([]string{}, b.where...)
		periodStart, periodEnd := "NULL::date", "NULL::date"
		if date != "" {
			periodStart = fmt.Sprintf("MIN(%s)::date", date)
			periodEnd = fmt.Sprintf("MAX(%s)::date", date)
			if b.agg.PeriodStart != "" && b.agg.PeriodEnd != "" {
				b.q.Params["period_start"] = b.agg.PeriodStart
				b.q.Params["period_end"] = b.agg.PeriodEnd
				conds = append(conds, fmt.Sprintf("%s::date BETWEEN @period_start::date AND @period_end::date", date))
			} else {
				conds = append(conds, fmt.Sprintf("%s::timestamp >= CURRENT_DATE - (@window_months::int * INTERVAL '1 month')", date))
			}
		}
		parts = append(parts, fmt.Sprintf(
			"SELECT ticker, '%s' AS metric, (%s)::numeric AS value, @window_months::int AS window_months, %s AS period_start, %s AS period_end FROM %s%s GROUP BY ticker",
			m.Key, m.Expr, periodStart, periodEnd, m.Source, whereClause(conds)))
	}
	b.q.SQL = "SELECT ticker, metric, value, window_months, period_start, period_end FROM (" +
		strings.Join(parts, " UNION ALL ") + ") m ORDER BY ticker"
}
