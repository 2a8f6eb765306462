package facts

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	printer = message.NewPrinter(language.BrazilianPortuguese)
	isoDate = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
)

// FormatValue renders a cell the way answers show it: pt-BR numbers with
// two decimals, dd/mm/yyyy dates and "-" for missing values.
func FormatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "-"
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return "-"
		}
		return printer.Sprintf("%.2f", x)
	case float32:
		return FormatValue(float64(x))
	case int:
		return printer.Sprintf("%d", x)
	case int64:
		return printer.Sprintf("%d", x)
	case int32:
		return printer.Sprintf("%d", x)
	case bool:
		if x {
			return "sim"
		}
		return "não"
	case string:
		if m := isoDate.FindStringSubmatch(x); m != nil {
			return m[3] + "/" + m[2] + "/" + m[1]
		}
		return strings.TrimSpace(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// FocusValue finds the canonical value of metric in f: a column of the
// primary row, or the value of the row whose metric column names it.
func FocusValue(f Facts, metric string) (string, bool) {
	if metric == "" {
		return "", false
	}
	if v, ok := f.Primary[metric]; ok && v != nil {
		return FormatValue(v), true
	}
	for _, r := range f.Rows {
		if m, _ := r["metric"].(string); m == metric {
			if v, ok := r["value"]; ok && v != nil {
				return FormatValue(v), true
			}
		}
	}
	return "", false
}
