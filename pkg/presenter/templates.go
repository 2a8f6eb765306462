package presenter

import (
	"bufio"
	"regexp"
	"strings"

	"araquem/pkg/facts"
)

// Template keys looked up in data/concepts/<entity>_templates.md.
const (
	KeyFallback = "fallback"
	KeyConcept  = "concept"
)

var (
	placeholderRe = regexp.MustCompile(`\{([a-z_][a-z0-9_]*)\}`)
	rowsBlockRe   = regexp.MustCompile(`(?s)\{#rows\}(.*?)\{/rows\}`)
)

// Templates maps a lower-cased section key to its body.
type Templates map[string]string

// ParseTemplates splits a Markdown document on "### <key>" headings. Text
// before the first heading is ignored.
func ParseTemplates(doc string) Templates {
	out := Templates{}
	var key string
	var body []string
	flush := func() {
		if key != "" {
			out[key] = strings.TrimSpace(strings.Join(body, "\n"))
		}
	}
	sc := bufio.NewScanner(strings.NewReader(doc))
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "### ") {
			flush()
			key = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(line, "### ")))
			body = body[:0]
			continue
		}
		if key != "" {
			body = append(body, line)
		}
	}
	flush()
	return out
}

// Render fills tpl. {field} resolves against primary first, then vars;
// {#rows}...{/rows} repeats its body for every row, resolving against that
// row and then vars. ok is false when any placeholder stays unresolved.
func Render(tpl string, primary facts.Row, rows []facts.Row, vars map[string]interface{}) (string, bool) {
	ok := true
	out := rowsBlockRe.ReplaceAllStringFunc(tpl, func(block string) string {
		body := rowsBlockRe.FindStringSubmatch(block)[1]
		if len(rows) == 0 {
			ok = false
			return ""
		}
		var b strings.Builder
		for _, r := range rows {
			line, lineOK := fill(body, r, vars)
			if !lineOK {
				ok = false
			}
			b.WriteString(line)
		}
		return strings.TrimRight(b.String(), "\n")
	})
	out, fillOK := fill(out, primary, vars)
	return strings.TrimSpace(out), ok && fillOK
}

func fill(tpl string, row facts.Row, vars map[string]interface{}) (string, bool) {
	ok := true
	out := placeholderRe.ReplaceAllStringFunc(tpl, func(ph string) string {
		name := ph[1 : len(ph)-1]
		if v, found := row[name]; found && v != nil {
			return facts.FormatValue(v)
		}
		if v, found := vars[name]; found && v != nil {
			return facts.FormatValue(v)
		}
		ok = false
		return ph
	})
	return out, ok
}
