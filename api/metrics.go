package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName          = "github.com/priyankagnana/Kanvo/api"
	orderingSpanName    = "kanvo.ordering.request"
	orderingEventName   = "ordering.request.completed"
	orderingEventDomain = "kanvo.ordering"
	observabilityEvent  = "observability.event"
)

// orderingRequestMetrics records one request to an ordering endpoint as a
// span plus a single structured log line.
type orderingRequestMetrics struct {
	logger        *log.Logger
	route         string
	start         time.Time
	span          trace.Span
	authDuration  time.Duration
	storeDuration time.Duration
	items         int
	errorStage    string
}

func newOrderingRequestMetrics(ctx context.Context, logger *log.Logger, route string) (*orderingRequestMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, orderingSpanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("http.route", route)),
	)
	return &orderingRequestMetrics{
		logger: logger,
		route:  route,
		start:  time.Now(),
		span:   span,
	}, ctx
}

func (m *orderingRequestMetrics) ObserveAuth(d time.Duration) {
	if d > 0 {
		m.authDuration = d
	}
}

func (m *orderingRequestMetrics) ObserveStore(d time.Duration) {
	if d > 0 {
		m.storeDuration = d
	}
}

func (m *orderingRequestMetrics) SetItems(n int) {
	if n < 0 {
		n = 0
	}
	m.items = n
}

func (m *orderingRequestMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

// Log ends the span and writes the observability event.
func (m *orderingRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	severityText, severityNumber := severityForStatus(status, err)

	attrs := map[string]any{
		"http.route":                 m.route,
		"http.status_code":           status,
		"kanvo.ordering.total_ms":    durationToMillis(time.Since(m.start)),
		"kanvo.ordering.items":       m.items,
		"kanvo.ordering.auth_ms":     durationToMillis(m.authDuration),
		"kanvo.ordering.store_ms":    durationToMillis(m.storeDuration),
		"kanvo.ordering.error_stage": m.errorStage,
	}
	if err != nil {
		attrs["error.message"] = err.Error()
	}

	if m.span != nil {
		eventAttrs := []attribute.KeyValue{
			attribute.String("event.name", orderingEventName),
			attribute.String("event.domain", orderingEventDomain),
			attribute.String("severity_text", severityText),
			attribute.Int("severity_number", severityNumber),
		}
		eventAttrs = append(eventAttrs, toAttributes(attrs)...)
		m.span.AddEvent(observabilityEvent, trace.WithAttributes(eventAttrs...))
		m.span.SetAttributes(
			attribute.Int("http.status_code", status),
			attribute.Int("kanvo.ordering.items", m.items),
		)
		if m.errorStage != "" {
			m.span.SetAttributes(attribute.String("kanvo.ordering.error_stage", m.errorStage))
		}
		if err != nil || status >= http.StatusInternalServerError {
			desc := http.StatusText(status)
			if err != nil {
				m.span.RecordError(err)
				desc = err.Error()
			}
			m.span.SetStatus(codes.Error, desc)
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      orderingEventName,
		"event.domain":    orderingEventDomain,
		"attributes":      attrs,
		"severity_text":   severityText,
		"severity_number": severityNumber,
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.IsValid() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
	}
	m.logger.WithFields(fields).Log(levelForSeverity(severityNumber), observabilityEvent)
}

// severityForStatus follows the OpenTelemetry severity numbers.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil && status < http.StatusBadRequest, status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	}
	return "INFO", 9
}

func levelForSeverity(n int) log.Level {
	switch {
	case n >= 17:
		return log.ErrorLevel
	case n >= 13:
		return log.WarnLevel
	}
	return log.InfoLevel
}

func toAttributes(values map[string]any) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(values))
	for k, v := range values {
		switch val := v.(type) {
		case string:
			out = append(out, attribute.String(k, val))
		case int:
			out = append(out, attribute.Int(k, val))
		case float64:
			out = append(out, attribute.Float64(k, val))
		case bool:
			out = append(out, attribute.Bool(k, val))
		}
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
