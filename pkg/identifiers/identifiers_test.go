package identifiers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name        string
		question    string
		wantTicker  string
		wantTickers []string
	}{
		{"single", "Qual o CNPJ do HGLG11?", "HGLG11", []string{"HGLG11"}},
		{"two", "compare HGLG11 e MXRF11", "", []string{"HGLG11", "MXRF11"}},
		{"dedup", "hglg11 vs HGLG11", "HGLG11", []string{"HGLG11"}},
		{"none", "explique o que é beta em FIIs", "", []string{}},
		{"not a ticker", "HGLG111 e ABC11", "", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids := Extract(tt.question, nil)
			assert.Equal(t, tt.wantTicker, ids.Ticker)
			assert.Equal(t, tt.wantTickers, ids.Tickers)
		})
	}
}

func TestExtractWithSymbolTable(t *testing.T) {
	ids := Extract("compare HGLG11 e ABCD11", []string{"hglg11", "MXRF11"})
	assert.Equal(t, []string{"HGLG11"}, ids.Tickers)
	assert.Equal(t, "HGLG11", ids.Ticker)
}

func TestAsMap(t *testing.T) {
	m := FromList([]string{"MXRF11"}).AsMap()
	assert.Equal(t, "MXRF11", m["ticker"])
	assert.Equal(t, []string{"MXRF11"}, m["tickers"])

	m = FromList([]string{"MXRF11", "HGLG11"}).AsMap()
	_, has := m["ticker"]
	assert.False(t, has)
}
