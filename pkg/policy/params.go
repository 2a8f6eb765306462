package policy

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"araquem/pkg/textnorm"

	"gopkg.in/yaml.v3"
)

// Aggregation kinds understood by the SQL builder.
const (
	AggList    = "list"
	AggLatest  = "latest"
	AggAvg     = "avg"
	AggSum     = "sum"
	AggMetrics = "metrics"
)

// KnownAgg reports whether agg is a supported aggregation kind.
func KnownAgg(agg string) bool {
	switch agg {
	case AggList, AggLatest, AggAvg, AggSum, AggMetrics:
		return true
	}
	return false
}

type WindowsAllowed struct {
	Months []int `yaml:"months"`
	Count  []int `yaml:"count"`
}

// Allows reports whether kind:n is an accepted window.
func (w *WindowsAllowed) Allows(kind string, n int) bool {
	if w == nil {
		return n > 0
	}
	var list []int
	switch kind {
	case "months":
		list = w.Months
	case "count":
		list = w.Count
	default:
		return false
	}
	for _, v := range list {
		if v == n {
			return true
		}
	}
	return false
}

type AggKeyword struct {
	Agg      string
	Keywords []string
}

// AggKeywords is scanned in declaration order; the first group with a hit wins.
type AggKeywords []AggKeyword

func (l *AggKeywords) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: agg_keywords must be a mapping", node.Line)
	}
	out := make(AggKeywords, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var words []string
		if err := node.Content[i+1].Decode(&words); err != nil {
			return err
		}
		out = append(out, AggKeyword{Agg: node.Content[i].Value, Keywords: words})
	}
	*l = out
	return nil
}

type FixedWindow struct {
	Phrase string
	Window string
}

// FixedWindows keeps declaration order.
type FixedWindows []FixedWindow

func (l *FixedWindows) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: fixed windows must be a mapping", node.Line)
	}
	out := make(FixedWindows, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		out = append(out, FixedWindow{Phrase: node.Content[i].Value, Window: node.Content[i+1].Value})
	}
	*l = out
	return nil
}

type WindowPatterns struct {
	Count  []string     `yaml:"count"`
	Months []string     `yaml:"months"`
	Fixed  FixedWindows `yaml:"fixed"`
}

type IntentParams struct {
	DefaultAgg     string          `yaml:"default_agg"`
	DefaultWindow  string          `yaml:"default_window"`
	DefaultLimit   int             `yaml:"default_limit"`
	WindowsAllowed *WindowsAllowed `yaml:"windows_allowed"`
	AggKeywords    AggKeywords     `yaml:"agg_keywords"`
}

type NumberWord struct {
	Word  string
	Value int
}

// ParamDefaults is the compiled param_inference document.
type ParamDefaults struct {
	DefaultLimit   int                     `yaml:"default_limit"`
	MaxLimit       int                     `yaml:"max_limit"`
	NumberWords    map[string]int          `yaml:"number_words"`
	WindowPatterns WindowPatterns          `yaml:"window_patterns"`
	YearPattern    string                  `yaml:"year_pattern"`
	OrderKeywords  map[string][]string     `yaml:"order_keywords"`
	Intents        map[string]IntentParams `yaml:"intents"`

	countRes  []*regexp.Regexp
	monthRes  []*regexp.Regexp
	yearRe    *regexp.Regexp
	numberSeq []NumberWord
}

func (p *ParamDefaults) CountPatterns() []*regexp.Regexp { return p.countRes }
func (p *ParamDefaults) MonthPatterns() []*regexp.Regexp { return p.monthRes }
func (p *ParamDefaults) YearRegexp() *regexp.Regexp { return p.yearRe }

// NumberWordsByLength lists number words longest first so "vinte e quatro"
// is replaced before "quatro".
func (p *ParamDefaults) NumberWordsByLength() []NumberWord { return p.numberSeq }

// Intent returns the block for intent, if declared.
func (p *ParamDefaults) Intent(name string) (IntentParams, bool) {
	ip, ok := p.Intents[name]
	return ip, ok
}

// ParseWindow splits "months:12" into its kind and size.
func ParseWindow(w string) (string, int, bool) {
	kind, raw, ok := strings.Cut(strings.TrimSpace(w), ":")
	if !ok || (kind != "months" && kind != "count") {
		return "", 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return "", 0, false
	}
	return kind, n, true
}

func ParseParamDefaults(file string, data []byte) (*ParamDefaults, error) {
	p := &ParamDefaults{DefaultLimit: 10, MaxLimit: 100}
	if err := decodeStrict(file, data, p); err != nil {
		return nil, err
	}
	fail := func(field, reason string) error {
		return &ValidationError{File: file, Field: field, Reason: reason}
	}
	if p.DefaultLimit <= 0 || p.MaxLimit <= 0 || p.DefaultLimit > p.MaxLimit {
		return nil, fail("default_limit", "limits must be positive and default_limit <= max_limit")
	}

	compile := func(field string, patterns []string) ([]*regexp.Regexp, error) {
		out := make([]*regexp.Regexp, 0, len(patterns))
		for _, pat := range patterns {
			re, err := regexp.Compile(pat)
			if err != nil {
				return nil, fail(field, err.Error())
			}
			if re.NumSubexp() < 1 {
				return nil, fail(field, fmt.Sprintf("pattern %q needs a capture group for the number", pat))
			}
			out = append(out, re)
		}
		return out, nil
	}
	var err error
	if p.countRes, err = compile("window_patterns.count", p.WindowPatterns.Count); err != nil {
		return nil, err
	}
	if p.monthRes, err = compile("window_patterns.months", p.WindowPatterns.Months); err != nil {
		return nil, err
	}
	for _, f := range p.WindowPatterns.Fixed {
		if !textnorm.IsCanonicalLiteral(f.Phrase) {
			return nil, fail("window_patterns.fixed", fmt.Sprintf("%q must be lowercase ASCII", f.Phrase))
		}
		if _, _, ok := ParseWindow(f.Window); !ok {
			return nil, fail("window_patterns.fixed."+f.Phrase, fmt.Sprintf("invalid window %q", f.Window))
		}
	}
	if p.YearPattern != "" {
		if p.yearRe, err = regexp.Compile(p.YearPattern); err != nil {
			return nil, fail("year_pattern", err.Error())
		}
	}

	for w, n := range p.NumberWords {
		if !textnorm.IsCanonicalLiteral(w) || n <= 0 {
			return nil, fail("number_words."+w, "must be a lowercase ASCII word mapped to a positive number")
		}
		p.numberSeq = append(p.numberSeq, NumberWord{Word: w, Value: n})
	}
	sort.Slice(p.numberSeq, func(i, j int) bool {
		if len(p.numberSeq[i].Word) != len(p.numberSeq[j].Word) {
			return len(p.numberSeq[i].Word) > len(p.numberSeq[j].Word)
		}
		return p.numberSeq[i].Word < p.numberSeq[j].Word
	})

	for dir, words := range p.OrderKeywords {
		if dir != "asc" && dir != "desc" {
			return nil, fail("order_keywords", fmt.Sprintf("unknown direction %q", dir))
		}
		for _, w := range words {
			if !textnorm.IsCanonicalLiteral(w) {
				return nil, fail("order_keywords."+dir, fmt.Sprintf("%q must be lowercase ASCII", w))
			}
		}
	}

	for name, ip := range p.Intents {
		field := "intents." + name
		if ip.DefaultAgg == "" {
			ip.DefaultAgg = AggList
		}
		if !KnownAgg(ip.DefaultAgg) {
			return nil, fail(field+".default_agg", fmt.Sprintf("unknown agg %q", ip.DefaultAgg))
		}
		if ip.DefaultWindow != "" {
			kind, n, ok := ParseWindow(ip.DefaultWindow)
			if !ok {
				return nil, fail(field+".default_window", fmt.Sprintf("invalid window %q", ip.DefaultWindow))
			}
			if ip.WindowsAllowed != nil && !ip.WindowsAllowed.Allows(kind, n) {
				return nil, fail(field+".default_window", "default window is not in windows_allowed")
			}
		}
		if ip.DefaultLimit < 0 {
			return nil, fail(field+".default_limit", "must be positive")
		}
		if ip.WindowsAllowed != nil {
			for _, v := range append(append([]int{}, ip.WindowsAllowed.Months...), ip.WindowsAllowed.Count...) {
				if v <= 0 {
					return nil, fail(field+".windows_allowed", "windows must be positive")
				}
			}
		}
		for _, g := range ip.AggKeywords {
			if !KnownAgg(g.Agg) {
				return nil, fail(field+".agg_keywords", fmt.Sprintf("unknown agg %q", g.Agg))
			}
			for _, w := range g.Keywords {
				if !textnorm.IsCanonicalLiteral(w) {
					return nil, fail(field+".agg_keywords."+g.Agg, fmt.Sprintf("%q must be lowercase ASCII", w))
				}
			}
		}
		p.Intents[name] = ip
	}
	return p, nil
}
