package narrator

import (
	"regexp"
	"strings"

	"araquem/pkg/textnorm"
)

// Violation reasons.
const (
	ViolationEmpty      = "empty_output"
	ViolationProhibited = "prohibited_term"
	ViolationTable      = "table_markup"
	ViolationNumber     = "new_number"
	ViolationPercent    = "new_percent"
	ViolationDate       = "new_date"
	ViolationTicker     = "new_ticker"
	ViolationURL        = "new_url"
)

var (
	numberRe = regexp.MustCompile(`\d+(?:[.,]\d+)*`)
	dateRe   = regexp.MustCompile(`\b\d{1,2}/\d{1,2}(?:/\d{2,4})?\b|\b\d{4}-\d{2}-\d{2}\b`)
	tickerRe = regexp.MustCompile(`\b[A-Z]{4}\d{2}\b`)
	urlRe    = regexp.MustCompile(`(?i)\bhttps?://\S+|\bwww\.\S+`)
)

// check inspects an LLM output and returns a violation reason, or "".
type check func(out string, v *validation) string

type validation struct {
	baseline    string
	allowed     string // baseline plus anything else the output may repeat
	prohibited  []string
	rewriteOnly bool
}

func pipeline(rewriteOnly bool) []check {
	checks := []check{checkEmpty, checkProhibited, checkTable, checkTickers, checkURLs}
	if rewriteOnly {
		checks = append(checks, checkDates, checkNumbers, checkPercent)
	}
	return checks
}

// validate runs the checks in order; the first violation wins.
func validate(out string, v *validation) string {
	for _, c := range pipeline(v.rewriteOnly) {
		if reason := c(out, v); reason != "" {
			return reason
		}
	}
	return ""
}

func checkEmpty(out string, _ *validation) string {
	if strings.TrimSpace(out) == "" {
		return ViolationEmpty
	}
	return ""
}

func checkProhibited(out string, v *validation) string {
	norm := textnorm.Normalize(out)
	for _, p := range v.prohibited {
		if p != "" && textnorm.ContainsPhrase(norm, textnorm.Normalize(p)) {
			return ViolationProhibited
		}
	}
	return ""
}

func checkTable(out string, _ *validation) string {
	if strings.Contains(out, "|") {
		return ViolationTable
	}
	return ""
}

func checkTickers(out string, v *validation) string {
	for _, t := range tickerRe.FindAllString(out, -1) {
		if !strings.Contains(v.allowed, t) {
			return ViolationTicker
		}
	}
	return ""
}

func checkURLs(out string, v *validation) string {
	for _, u := range urlRe.FindAllString(out, -1) {
		if !strings.Contains(v.allowed, u) {
			return ViolationURL
		}
	}
	return ""
}

func checkDates(out string, v *validation) string {
	for _, d := range dateRe.FindAllString(out, -1) {
		if !strings.Contains(v.baseline, d) {
			return ViolationDate
		}
	}
	return ""
}

func checkNumbers(out string, v *validation) string {
	known := map[string]bool{}
	for _, n := range numberRe.FindAllString(v.baseline, -1) {
		known[n] = true
	}
	for _, n := range numberRe.FindAllString(out, -1) {
		if !known[n] {
			return ViolationNumber
		}
	}
	return ""
}

func checkPercent(out string, v *validation) string {
	if strings.Contains(out, "%") && !strings.Contains(v.baseline, "%") {
		return ViolationPercent
	}
	return ""
}
