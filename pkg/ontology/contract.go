package ontology

import (
	"bytes"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

var (
	sqlIdentRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
	// metric expressions are restricted to aggregate arithmetic over columns
	sqlExprRe = regexp.MustCompile(`^[A-Za-z0-9_(),.\s*/+\-:]+$`)
)

// TickerColumn is the column every ticker-scoped view exposes.
const TickerColumn = "ticker"

type OrderSpec struct {
	Field     string `yaml:"field"`
	Direction string `yaml:"direction"`
}

type Aggregations struct {
	ValueColumn  string   `yaml:"value_column"`
	ValueColumns []string `yaml:"value_columns"`
}

type MetricSpec struct {
	Key       string `yaml:"-"`
	Source    string `yaml:"source"`
	DateField string `yaml:"date_field"`
	Expr      string `yaml:"expr"`
}

// MetricList keeps metrics in declaration order.
type MetricList []MetricSpec

func (l *MetricList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: metrics must be a mapping", node.Line)
	}
	out := make(MetricList, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var spec MetricSpec
		if err := node.Content[i+1].Decode(&spec); err != nil {
			return err
		}
		spec.Key = node.Content[i].Value
		out = append(out, spec)
	}
	*l = out
	return nil
}

// Synonym maps a canonical metric key to the literals that name it in a question.
type Synonym struct {
	Metric string
	Words  []string
}

// SynonymList keeps metrics_synonyms in declaration order, which is the order
// requested_metrics are reported in.
type SynonymList []Synonym

func (l *SynonymList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: metrics_synonyms must be a mapping", node.Line)
	}
	out := make(SynonymList, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var words []string
		if err := node.Content[i+1].Decode(&words); err != nil {
			return err
		}
		out = append(out, Synonym{Metric: node.Content[i].Value, Words: words})
	}
	*l = out
	return nil
}

type Presentation struct {
	Title        string `yaml:"title"`
	EmptyMessage string `yaml:"empty_message"`
}

// EntityContract is the declarative schema of one tabular source.
type EntityContract struct {
	Entity              string       `yaml:"entity"`
	View                string       `yaml:"view"`
	ResultKey           string       `yaml:"result_key"`
	Description         string       `yaml:"description"`
	DefaultDateField    string       `yaml:"default_date_field"`
	RequiresTicker      bool         `yaml:"requires_ticker"`
	SupportsMultiTicker bool         `yaml:"supports_multi_ticker"`
	ReturnColumns       []string     `yaml:"return_columns"`
	OrderByWhitelist    []string     `yaml:"order_by_whitelist"`
	DefaultOrder        OrderSpec    `yaml:"default_order"`
	Aggregations        Aggregations `yaml:"aggregations"`
	MetricsSynonyms     SynonymList  `yaml:"metrics_synonyms"`
	Metrics             MetricList   `yaml:"metrics"`
	Presentation        Presentation `yaml:"presentation"`
}

// HasTickerColumn reports whether rows can be filtered by ticker.
func (c *EntityContract) HasTickerColumn() bool {
	return contains(c.ReturnColumns, TickerColumn)
}

// OrderAllowed reports whether field may appear in ORDER BY.
func (c *EntityContract) OrderAllowed(field string) bool {
	return contains(c.OrderByWhitelist, field)
}

// Metric returns the metric declared under key.
func (c *EntityContract) Metric(key string) (MetricSpec, bool) {
	for _, m := range c.Metrics {
		if m.Key == key {
			return m, true
		}
	}
	return MetricSpec{}, false
}

// LoadEntity reads and validates a contract file.
func LoadEntity(path string) (*EntityContract, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read entity %s: %w", path, err)
	}
	return ParseEntity(path, data)
}

// ParseEntity decodes and validates a contract document.
func ParseEntity(file string, data []byte) (*EntityContract, error) {
	var c EntityContract
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decode %s: %w", file, err)
	}
	if c.DefaultOrder.Direction == "" {
		c.DefaultOrder.Direction = "desc"
	}
	if err := c.validate(file); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *EntityContract) validate(file string) error {
	fail := func(field, reason string) error {
		return &ValidationError{File: file, Field: field, Reason: reason}
	}
	if c.Entity == "" || !sqlIdentRe.MatchString(c.Entity) {
		return fail("entity", "missing or invalid name")
	}
	if !sqlIdentRe.MatchString(c.View) {
		return fail("view", fmt.Sprintf("invalid view %q", c.View))
	}
	if c.ResultKey == "" {
		return fail("result_key", "required")
	}
	if len(c.ReturnColumns) == 0 {
		return fail("return_columns", "at least one column is required")
	}
	seen := make(map[string]bool)
	for _, col := range c.ReturnColumns {
		if !sqlIdentRe.MatchString(col) {
			return fail("return_columns", fmt.Sprintf("invalid column %q", col))
		}
		if seen[col] {
			return fail("return_columns", fmt.Sprintf("duplicate column %q", col))
		}
		seen[col] = true
	}
	if c.DefaultDateField != "" && !sqlIdentRe.MatchString(c.DefaultDateField) {
		return fail("default_date_field", fmt.Sprintf("invalid column %q", c.DefaultDateField))
	}
	if c.RequiresTicker && !c.HasTickerColumn() {
		return fail("requires_ticker", "entity requires a ticker but does not return one")
	}
	for _, col := range c.OrderByWhitelist {
		if !sqlIdentRe.MatchString(col) {
			return fail("order_by_whitelist", fmt.Sprintf("invalid column %q", col))
		}
	}
	if c.DefaultOrder.Field != "" && !c.OrderAllowed(c.DefaultOrder.Field) {
		return fail("default_order.field", fmt.Sprintf("%q is not in order_by_whitelist", c.DefaultOrder.Field))
	}
	if c.DefaultOrder.Direction != "asc" && c.DefaultOrder.Direction != "desc" {
		return fail("default_order.direction", "must be asc or desc")
	}
	if v := c.Aggregations.ValueColumn; v != "" && !seen[v] {
		return fail("aggregations.value_column", fmt.Sprintf("%q is not a return column", v))
	}
	for _, v := range c.Aggregations.ValueColumns {
		if !seen[v] {
			return fail("aggregations.value_columns", fmt.Sprintf("%q is not a return column", v))
		}
	}
	metricKeys := make(map[string]bool)
	for _, m := range c.Metrics {
		field := "metrics." + m.Key
		if !sqlIdentRe.MatchString(m.Key) || metricKeys[m.Key] {
			return fail(field, "invalid or duplicate metric key")
		}
		metricKeys[m.Key] = true
		if !sqlIdentRe.MatchString(m.Source) {
			return fail(field+".source", fmt.Sprintf("invalid view %q", m.Source))
		}
		if m.DateField != "" && !sqlIdentRe.MatchString(m.DateField) {
			return fail(field+".date_field", fmt.Sprintf("invalid column %q", m.DateField))
		}
		if m.Expr == "" || !sqlExprRe.MatchString(m.Expr) {
			return fail(field+".expr", "expression must be a plain aggregate over columns")
		}
	}
	synKeys := make(map[string]bool)
	for _, s := range c.MetricsSynonyms {
		if synKeys[s.Metric] {
			return fail("metrics_synonyms", fmt.Sprintf("duplicate metric %q", s.Metric))
		}
		synKeys[s.Metric] = true
		if err := checkList(file, "metrics_synonyms."+s.Metric, s.Words); err != nil {
			return err
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
