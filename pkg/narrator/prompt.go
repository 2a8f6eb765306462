package narrator

import (
	"encoding/json"
	"strings"

	"araquem/pkg/facts"
	"araquem/pkg/rag"
)

const systemPreamble = `Você é o narrador do Araquem, um assistente sobre fundos imobiliários (FIIs).
Regras invioláveis:
- Responda em português, em linguagem natural, sem expor nomes de colunas, tabelas ou SQL.
- Use apenas os fatos fornecidos. Nunca invente números, datas, tickers ou links.
- Não faça recomendações de compra ou venda.`

// promptInput is everything the prompt may see.
type promptInput struct {
	Question    string
	Mode        string
	Eff         Effective
	Facts       facts.Facts
	RAG         *rag.Context
	Baseline    string
	FocusMetric string
	FocusValue  string
	Template    string
}

// buildPrompt returns the system and user messages.
func buildPrompt(in promptInput) (string, string) {
	var prompt strings.Builder

	writeControl(&prompt, in)
	writeFacts(&prompt, in)
	writeSnippets(&prompt, in)
	writeTask(&prompt, in)
	writeRewriteOnly(&prompt, in)
	writeQuestion(&prompt, in)

	return systemPreamble, prompt.String()
}

func writeControl(prompt *strings.Builder, in promptInput) {
	prompt.WriteString("<control>\n")
	prompt.WriteString("style: " + in.Eff.Style + "\n")
	prompt.WriteString("mode: " + in.Mode + "\n")
	if in.Template != "" {
		prompt.WriteString("template: " + in.Template + "\n")
	}
	if in.FocusMetric != "" {
		prompt.WriteString("focus_metric: " + in.FocusMetric + "\n")
		if in.FocusValue != "" {
			prompt.WriteString("focus_value: " + in.FocusValue + " (único número que pode ser citado)\n")
		}
	}
	prompt.WriteString("</control>\n\n")
}

func writeFacts(prompt *strings.Builder, in promptInput) {
	data, err := json.Marshal(sanitiseFacts(in.Facts, in.Mode, in.Eff.MaxLLMRows))
	if err != nil {
		return
	}
	prompt.WriteString("<facts readonly=\"true\">\n")
	prompt.Write(data)
	prompt.WriteString("\n</facts>\n\n")
}

func writeSnippets(prompt *strings.Builder, in promptInput) {
	snippets := snippetsFor(in.RAG, in.Mode, in.Eff)
	if len(snippets) == 0 {
		return
	}
	prompt.WriteString("<reference_material>\n")
	for _, s := range snippets {
		prompt.WriteString("- " + s + "\n")
	}
	prompt.WriteString("</reference_material>\n\n")
}

func writeTask(prompt *strings.Builder, in promptInput) {
	prompt.WriteString("<task>\n")
	if in.Mode == ModeConcept {
		prompt.WriteString("Explique o conceito perguntado de forma didática, usando o material de referência.\n")
		prompt.WriteString("Não cite fundos específicos, tickers nem valores numéricos.\n")
	} else {
		prompt.WriteString("Resuma o que os fatos mostram para o investidor, em no máximo três frases.\n")
	}
	prompt.WriteString("</task>\n\n")
}

func writeRewriteOnly(prompt *strings.Builder, in promptInput) {
	if !in.Eff.RewriteOnly || in.Baseline == "" {
		return
	}
	prompt.WriteString("<rewrite_only>\n")
	prompt.WriteString("A resposta abaixo já será exibida ao usuário. Escreva apenas um breve prefácio (uma ou duas frases).\n")
	prompt.WriteString("Não repita a resposta, não produza tabelas e não escreva nenhum número, data, ticker ou link.\n")
	prompt.WriteString("<baseline>\n")
	prompt.WriteString(in.Baseline)
	prompt.WriteString("\n</baseline>\n")
	prompt.WriteString("</rewrite_only>\n\n")
}

func writeQuestion(prompt *strings.Builder, in promptInput) {
	prompt.WriteString("<user_question>\n")
	prompt.WriteString(in.Question)
	prompt.WriteString("\n</user_question>\n")
}

// sanitiseFacts keeps the prompt within max rows and drops rows entirely in
// concept mode. Nil values are omitted.
func sanitiseFacts(f facts.Facts, mode string, maxRows int) map[string]interface{} {
	out := map[string]interface{}{
		"intent":            f.Intent,
		"requested_metrics": f.RequestedMetrics,
	}
	if f.Aggregates != nil {
		out["aggregates"] = f.Aggregates
	}
	if mode == ModeConcept {
		return out
	}
	rows := f.Rows
	if maxRows > 0 && len(rows) > maxRows {
		rows = rows[:maxRows]
	}
	clean := make([]map[string]interface{}, 0, len(rows))
	for _, r := range rows {
		c := make(map[string]interface{}, len(r))
		for k, v := range r {
			if v != nil {
				c[k] = v
			}
		}
		clean = append(clean, c)
	}
	out["rows"] = clean
	if f.Ticker != "" {
		out["ticker"] = f.Ticker
	}
	return out
}

// snippetsFor returns the truncated RAG texts the prompt may quote. Concept
// mode keeps only the best chunk.
func snippetsFor(ctx *rag.Context, mode string, eff Effective) []string {
	if ctx == nil || !ctx.Enabled || !eff.UseRAGInPrompt {
		return nil
	}
	chunks := ctx.Chunks
	if mode == ModeConcept && len(chunks) > 1 {
		chunks = chunks[:1]
	}
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, truncate(strings.TrimSpace(c.Text), eff.RAGSnippetMaxChars))
	}
	return out
}

func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}
