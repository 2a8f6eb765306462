package narrator

import (
	"context"
	"regexp"
	"time"

	"araquem/internal/pkg/logger"
	"araquem/pkg/events"
)

// ShadowEventType is published as subject araquem.narrator.shadow.
const ShadowEventType = "narrator.shadow"

type ShadowRecord struct {
	RequestID string
	Entity    string
	Mode      string
	Model     string
	Question  string
	Output    string
	Error     string
	LatencyMs int64
	At        time.Time
}

func (r ShadowRecord) event() events.Event {
	return events.New(ShadowEventType, map[string]interface{}{
		"request_id": r.RequestID,
		"entity":     r.Entity,
		"mode":       r.Mode,
		"model":      r.Model,
		"question":   r.Question,
		"output":     r.Output,
		"error":      r.Error,
		"latency_ms": r.LatencyMs,
	}, r.At)
}

// ShadowSink receives shadow outputs. It never influences the answer.
type ShadowSink interface {
	Record(ctx context.Context, rec ShadowRecord) error
}

// EventPublisher is satisfied by the NATS JetStream publisher.
type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type PublisherSink struct {
	pub EventPublisher
}

func NewPublisherSink(pub EventPublisher) *PublisherSink {
	return &PublisherSink{pub: pub}
}

func (s *PublisherSink) Record(ctx context.Context, rec ShadowRecord) error {
	return s.pub.Publish(ctx, rec.event())
}

// LogSink writes shadow records to a dedicated log file.
type LogSink struct {
	log logger.ILogger
}

func NewLogSink(log logger.ILogger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Record(_ context.Context, rec ShadowRecord) error {
	s.log.Info("NARRATOR_SHADOW", "Shadow output", rec.event().Payload())
	return nil
}

var redactors = map[string]*regexp.Regexp{
	"cpf":   regexp.MustCompile(`\b\d{3}\.?\d{3}\.?\d{3}-?\d{2}\b`),
	"cnpj":  regexp.MustCompile(`\b\d{2}\.?\d{3}\.?\d{3}/?\d{4}-?\d{2}\b`),
	"email": regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
}

// Redact masks the configured field kinds and truncates to maxChars.
// cnpj runs before cpf so a cnpj is never half-masked as a cpf.
func Redact(s string, fields []string, maxChars int) string {
	want := map[string]bool{}
	for _, f := range fields {
		want[f] = true
	}
	for _, kind := range []string{"cnpj", "cpf", "email"} {
		if want[kind] {
			s = redactors[kind].ReplaceAllString(s, "["+kind+"]")
		}
	}
	return truncate(s, maxChars)
}
