package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Qual o CNPJ do HGLG11?", "qual o cnpj do hglg11?"},
		{"Média  dos últimos   3 meses", "media dos ultimos 3 meses"},
		{"Preço ação", "preco acao"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestTokenize(t *testing.T) {
	tokens := Tokenize(Normalize("Preço do HGLG11, hoje!"), nil)
	assert.Equal(t, []string{"preco", "do", "hglg11", "hoje"}, tokens)
}

func TestIsCanonicalLiteral(t *testing.T) {
	assert.True(t, IsCanonicalLiteral("dividendos"))
	assert.True(t, IsCanonicalLiteral("ultimos meses"))
	assert.False(t, IsCanonicalLiteral("médio"))
	assert.False(t, IsCanonicalLiteral("CNPJ"))
	assert.False(t, IsCanonicalLiteral(""))
}

func TestContainsPhrase(t *testing.T) {
	n := Normalize("Quem administra o HGLG11?")
	assert.True(t, ContainsPhrase(n, "quem administra"))
	assert.False(t, ContainsPhrase(n, "administra o fundo"))
	assert.False(t, ContainsPhrase("precos", "preco"))
}
