package executor

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintIgnoresWhitespaceAndLiterals(t *testing.T) {
	a := Fingerprint("SELECT ticker FROM vw_fiis_precos WHERE ticker = @ticker LIMIT 1")
	b := Fingerprint("SELECT  ticker\n FROM vw_fiis_precos\tWHERE ticker = @ticker LIMIT 30")
	c := Fingerprint("SELECT 'x' FROM t")
	d := Fingerprint("SELECT 'secret' FROM t")

	assert.Len(t, a, 12)
	assert.Equal(t, a, b)
	assert.Equal(t, c, d)
	assert.NotEqual(t, a, c)
}

func TestQueryErrorHidesParameters(t *testing.T) {
	err := &QueryError{Entity: "fiis_precos", Fingerprint: "abc123", Err: errors.New("boom")}
	assert.Contains(t, err.Error(), "fiis_precos")
	assert.Contains(t, err.Error(), "abc123")
	assert.ErrorIs(t, err, err.Err)

	var qe *QueryError
	assert.True(t, errors.As(error(err), &qe))
}

func TestNormalize(t *testing.T) {
	var num pgtype.Numeric
	require.NoError(t, num.Scan("12.5"))

	day := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	ts := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   interface{}
		want interface{}
	}{
		{"nil", nil, nil},
		{"numeric", num, 12.5},
		{"invalid numeric", pgtype.Numeric{}, nil},
		{"date", day, "2024-03-15"},
		{"timestamp", ts, "2024-03-15T10:30:00Z"},
		{"pg date", pgtype.Date{Time: day, Valid: true}, "2024-03-15"},
		{"big int", big.NewInt(42), float64(42)},
		{"int32", int32(7), int64(7)},
		{"float32", float32(0.5), 0.5},
		{"bytes", []byte("HGLG11"), "HGLG11"},
		{"string", "MXRF11", "MXRF11"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNewForcesReadOnly(t *testing.T) {
	e, err := New(Config{DSN: "postgres://ro@localhost:5432/araquem", StatementTimeout: 3 * time.Second}, nil)
	require.NoError(t, err)
	assert.Equal(t, "on", e.cfg.RuntimeParams["default_transaction_read_only"])
	assert.Equal(t, "3000", e.cfg.RuntimeParams["statement_timeout"])

	_, err = New(Config{DSN: "://bad"}, nil)
	assert.Error(t, err)
}
