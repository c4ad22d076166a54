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
	weekSpanName    = "habit-progress.week"
	weekEventName   = "habit_progress.week.request"
	weekEventDomain = "habit-progress"
	tracerName      = "habit-progress/api"
)

// weekRequestMetrics records timings of a week read and emits them as one
// log entry and one span event.
type weekRequestMetrics struct {
	logger     *log.Logger
	span       trace.Span
	route      string
	start      time.Time
	authDur    time.Duration
	buildDur   time.Duration
	habits     int
	errorStage string
}

func newWeekRequestMetrics(ctx context.Context, logger *log.Logger, route string) (*weekRequestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, weekSpanName, trace.WithSpanKind(trace.SpanKindServer))
	return &weekRequestMetrics{
		logger: logger,
		span:   span,
		route:  route,
		start:  time.Now(),
	}, spanCtx
}

func (m *weekRequestMetrics) ObserveAuth(d time.Duration) {
	if d > 0 {
		m.authDur = d
	}
}

func (m *weekRequestMetrics) ObserveBuild(d time.Duration) {
	if d > 0 {
		m.buildDur = d
	}
}

func (m *weekRequestMetrics) SetHabits(n int) {
	if n > 0 {
		m.habits = n
	}
}

func (m *weekRequestMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

// Log ends the span. It is safe to call on a nil receiver.
func (m *weekRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	severityText, severityNumber := severityForStatus(status, err)

	attrs := []attribute.KeyValue{
		attribute.String("http.route", m.route),
		attribute.Int("http.status_code", status),
		attribute.Float64("habit_progress.week.total_ms", durationToMillis(time.Since(m.start))),
		attribute.Int("habit_progress.week.habits", m.habits),
	}
	if m.authDur > 0 {
		attrs = append(attrs, attribute.Float64("habit_progress.week.auth_ms", durationToMillis(m.authDur)))
	}
	if m.buildDur > 0 {
		attrs = append(attrs, attribute.Float64("habit_progress.week.build_ms", durationToMillis(m.buildDur)))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("habit_progress.week.error_stage", m.errorStage))
	}

	eventAttrs := append([]attribute.KeyValue{
		attribute.String("event.name", weekEventName),
		attribute.String("event.domain", weekEventDomain),
		attribute.String("severity_text", severityText),
		attribute.Int("severity_number", severityNumber),
	}, attrs...)
	if err != nil {
		eventAttrs = append(eventAttrs, attribute.String("error.message", err.Error()))
	}

	if m.span != nil {
		m.span.SetAttributes(attrs...)
		m.span.AddEvent("observability.event", trace.WithAttributes(eventAttrs...))
		if err != nil || status >= http.StatusInternalServerError {
			desc := http.StatusText(status)
			if err != nil {
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
		"event.name":      weekEventName,
		"event.domain":    weekEventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"attributes":      attributesToMap(attrs),
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
	}
	entry := m.logger.WithFields(fields)
	if err != nil {
		entry = entry.WithError(err)
	}
	switch severityText {
	case "ERROR":
		entry.Error("observability.event")
	case "WARN":
		entry.Warn("observability.event")
	default:
		entry.Info("observability.event")
	}
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func attributesToMap(attrs []attribute.KeyValue) map[string]any {
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
