// Package executor runs rendered SELECTs against the tabular store. Every call
// opens its own read-only connection; there are no retries at this layer.
package executor

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"araquem/internal/pkg/logger"
	"araquem/pkg/metrics"

	"github.com/jackc/pgx/v5"
)

type Row = map[string]interface{}

// Querier is what the orchestrator needs from the executor.
type Querier interface {
	Query(ctx context.Context, entity, sql string, params map[string]interface{}) ([]Row, error)
}

// QueryError carries a sanitised fingerprint of the failing statement. The
// parameters are never included.
type QueryError struct {
	Entity      string
	Fingerprint string
	Err         error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("executor: query on %s failed (sql=%s): %v", e.Entity, e.Fingerprint, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

type Config struct {
	DSN              string
	StatementTimeout time.Duration
}

type PgExecutor struct {
	cfg *pgx.ConnConfig
	log logger.ILogger
}

func New(c Config, log logger.ILogger) (*PgExecutor, error) {
	cfg, err := pgx.ParseConfig(c.DSN)
	if err != nil {
		return nil, fmt.Errorf("executor: parse dsn: %w", err)
	}
	if cfg.RuntimeParams == nil {
		cfg.RuntimeParams = map[string]string{}
	}
	cfg.RuntimeParams["default_transaction_read_only"] = "on"
	cfg.RuntimeParams["application_name"] = "araquem"
	if c.StatementTimeout > 0 {
		cfg.RuntimeParams["statement_timeout"] = fmt.Sprintf("%d", c.StatementTimeout.Milliseconds())
	}
	return &PgExecutor{cfg: cfg, log: log}, nil
}

// Query executes sql with named arguments and returns rows keyed by column.
func (e *PgExecutor) Query(ctx context.Context, entity, sql string, params map[string]interface{}) ([]Row, error) {
	start := time.Now()
	defer func() {
		metrics.SQLLatency.WithLabelValues(entity).Observe(time.Since(start).Seconds())
	}()

	conn, err := pgx.ConnectConfig(ctx, e.cfg.Copy())
	if err != nil {
		return nil, e.fail(entity, sql, fmt.Errorf("connect: %w", err))
	}
	defer conn.Close(context.Background())

	rows, err := conn.Query(ctx, sql, pgx.NamedArgs(params))
	if err != nil {
		return nil, e.fail(entity, sql, err)
	}
	records, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, e.fail(entity, sql, err)
	}
	for _, r := range records {
		for k, v := range r {
			r[k] = Normalize(v)
		}
	}

	metrics.SQLRows.WithLabelValues(entity).Add(float64(len(records)))
	e.log.Debug("EXECUTOR", "Query completed", map[string]interface{}{
		"entity":      entity,
		"rows":        len(records),
		"elapsed_ms":  time.Since(start).Milliseconds(),
		"fingerprint": Fingerprint(sql),
	})
	return records, nil
}

// Ping opens and closes one connection.
func (e *PgExecutor) Ping(ctx context.Context) error {
	conn, err := pgx.ConnectConfig(ctx, e.cfg.Copy())
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())
	return conn.Ping(ctx)
}

func (e *PgExecutor) fail(entity, sql string, err error) error {
	metrics.Errors.WithLabelValues(metrics.KindSQL).Inc()
	qe := &QueryError{Entity: entity, Fingerprint: Fingerprint(sql), Err: err}
	e.log.Error("EXECUTOR", "Query failed", map[string]interface{}{
		"entity":      entity,
		"fingerprint": qe.Fingerprint,
		"error":       err.Error(),
	})
	return qe
}

var (
	spaceRe   = regexp.MustCompile(`\s+`)
	literalRe = regexp.MustCompile(`'[^']*'`)
	numberRe  = regexp.MustCompile(`\b\d+\b`)
)

// Fingerprint collapses whitespace, masks literals and hashes the statement.
func Fingerprint(sql string) string {
	s := strings.TrimSpace(spaceRe.ReplaceAllString(sql, " "))
	s = literalRe.ReplaceAllString(s, "?")
	s = numberRe.ReplaceAllString(s, "?")
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:12]
}
