// Package identifiers extracts fund tickers from question text.
package identifiers

import (
	"regexp"
	"strings"

	"araquem/pkg/textnorm"
)

// MaxTickers bounds how many symbols a single question may carry.
const MaxTickers = 10

var tickerRe = regexp.MustCompile(`\b([a-z]{4}[0-9]{2})\b`)

// Identifiers is what the question names explicitly. Ticker is only set when
// exactly one symbol was found; Tickers always carries the full ordered list.
type Identifiers struct {
	Ticker  string   `json:"ticker,omitempty"`
	Tickers []string `json:"tickers"`
}

// Extract runs the bounded ticker regex over the normalised question. When a
// symbol table is supplied, only known symbols are kept.
func Extract(question string, known []string) Identifiers {
	normalized := textnorm.Normalize(question)

	var table map[string]bool
	if len(known) > 0 {
		table = make(map[string]bool, len(known))
		for _, k := range known {
			table[strings.ToUpper(k)] = true
		}
	}

	seen := make(map[string]bool)
	tickers := make([]string, 0, 2)
	for _, m := range tickerRe.FindAllStringSubmatch(normalized, -1) {
		sym := strings.ToUpper(m[1])
		if seen[sym] {
			continue
		}
		if table != nil && !table[sym] {
			continue
		}
		seen[sym] = true
		tickers = append(tickers, sym)
		if len(tickers) == MaxTickers {
			break
		}
	}
	return FromList(tickers)
}

// FromList builds Identifiers from an explicit ticker list.
func FromList(tickers []string) Identifiers {
	ids := Identifiers{Tickers: append([]string{}, tickers...)}
	if len(ids.Tickers) == 1 {
		ids.Ticker = ids.Tickers[0]
	}
	return ids
}

// Count returns the number of tickers.
func (i Identifiers) Count() int { return len(i.Tickers) }

// Empty reports whether no ticker was found.
func (i Identifiers) Empty() bool { return len(i.Tickers) == 0 }

// First returns the first ticker or "".
func (i Identifiers) First() string {
	if len(i.Tickers) == 0 {
		return ""
	}
	return i.Tickers[0]
}

// AsMap is the form used inside cache keys and plan hashes.
func (i Identifiers) AsMap() map[string]any {
	m := map[string]any{"tickers": append([]string{}, i.Tickers...)}
	if i.Ticker != "" {
		m["ticker"] = i.Ticker
	}
	return m
}
